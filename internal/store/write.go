package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/row"
)

// VersionRow is one entity version to persist.
type VersionRow struct {
	Entity  *descriptor.EntityType
	Version history.EntityVersion
}

// LedgerRow is one net association operation to persist, in physical
// (left, right) orientation.
type LedgerRow struct {
	Association *descriptor.Association
	LeftID      string
	RightID     string
	Operation   history.Operation
	Carried     row.Values
}

// Commit is everything one unit of work makes durable.
type Commit struct {
	Transaction history.Transaction
	Versions    []VersionRow
	Operations  []LedgerRow
}

// WriteCommit persists the transaction row, its versions and its ledger
// operations atomically. On any error nothing is written.
//
// Plain INSERTs are used: a duplicate (entity, transaction) or
// (pair, transaction) is a caller bug and must surface as an error.
func (s *Store) WriteCommit(ctx context.Context, c Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO history_transaction (id, issued_at, actor, remote_addr)
		VALUES (?, ?, ?, ?)
	`),
		c.Transaction.ID,
		c.Transaction.IssuedAt.UTC().Format(time.RFC3339Nano),
		c.Transaction.Actor,
		c.Transaction.RemoteAddr,
	)
	if err != nil {
		return fmt.Errorf("write commit: transaction %d: %w", c.Transaction.ID, err)
	}

	for _, v := range c.Versions {
		if err := s.writeVersion(ctx, tx, c.Transaction.ID, v); err != nil {
			return fmt.Errorf("write commit: %w", err)
		}
	}

	for _, op := range c.Operations {
		if err := s.writeLedgerRow(ctx, tx, c.Transaction.ID, op); err != nil {
			return fmt.Errorf("write commit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write commit: commit: %w", err)
	}
	return nil
}

func (s *Store) writeVersion(ctx context.Context, tx *sql.Tx, txID int64, v VersionRow) error {
	data, err := row.MarshalCanonical(v.Version.Values)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", v.Version.Key(), err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, transaction_id, operation_type, data)
		VALUES (?, ?, ?, ?)
	`, s.dialect.table(v.Entity.VersionTable))

	_, err = tx.ExecContext(ctx, s.dialect.rebind(query),
		v.Version.EntityID, txID, int(v.Version.Operation), string(data))
	if err != nil {
		return fmt.Errorf("version %s:%s: %w", v.Entity.Key(), v.Version.EntityID, err)
	}
	return nil
}

func (s *Store) writeLedgerRow(ctx context.Context, tx *sql.Tx, txID int64, op LedgerRow) error {
	a := op.Association
	cols := []string{quoteIdent(a.LeftColumn), quoteIdent(a.RightColumn), "transaction_id", "operation_type"}
	args := []any{op.LeftID, op.RightID, txID, int(op.Operation)}

	for _, c := range a.Carried {
		arg, err := carriedArg(c, op.Carried[c.Name])
		if err != nil {
			return fmt.Errorf("ledger %s carried %s: %w", a.Table, c.Name, err)
		}
		cols = append(cols, quoteIdent(c.Name))
		args = append(args, arg)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		s.dialect.table(a.LedgerTable), strings.Join(cols, ", "), placeholders)

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(query), args...); err != nil {
		return fmt.Errorf("ledger %s (%s, %s): %w", a.Table, op.LeftID, op.RightID, err)
	}
	return nil
}

// carriedArg converts a carried value to a driver argument. Missing and
// Null values are stored as NULL.
func carriedArg(c descriptor.CarriedColumn, v row.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := v.(row.Null); ok {
		return nil, nil
	}
	switch c.Kind {
	case descriptor.CarriedText, descriptor.CarriedTimestamp:
		if t, ok := v.(row.Text); ok {
			return string(t), nil
		}
	case descriptor.CarriedInt:
		if n, ok := v.(row.Int); ok {
			return int64(n), nil
		}
	case descriptor.CarriedBool:
		if b, ok := v.(row.Bool); ok {
			return bool(b), nil
		}
	}
	return nil, fmt.Errorf("want %s, got %T", c.Kind, v)
}
