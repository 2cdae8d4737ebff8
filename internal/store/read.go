package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/row"
)

// MaxTransactionID returns the highest durable transaction id, or 0.
func (s *Store) MaxTransactionID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM history_transaction`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("max transaction id: %w", err)
	}
	return id, nil
}

// ReadTransaction returns one transaction row.
func (s *Store) ReadTransaction(ctx context.Context, id int64) (history.Transaction, error) {
	r := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, issued_at, actor, remote_addr
		FROM history_transaction
		WHERE id = ?
	`), id)

	t, err := scanTransaction(r)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return history.Transaction{}, fmt.Errorf("read transaction %d: %w", id, err)
	}
	return t, nil
}

// ReadTransactions returns up to limit transactions with id > after,
// oldest first. Returns an empty slice (not nil) if none exist.
func (s *Store) ReadTransactions(ctx context.Context, after int64, limit int) ([]history.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, issued_at, actor, remote_addr
		FROM history_transaction
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`), after, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []history.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(sc scanner) (history.Transaction, error) {
	var t history.Transaction
	var issued string
	if err := sc.Scan(&t.ID, &issued, &t.Actor, &t.RemoteAddr); err != nil {
		return history.Transaction{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, issued)
	if err != nil {
		return history.Transaction{}, fmt.Errorf("parse issued_at %q: %w", issued, err)
	}
	t.IssuedAt = at
	return t, nil
}

// ReadVersions returns every version of one entity, oldest first, with
// Index set. Returns an empty slice (not nil) if the entity has no history.
func (s *Store) ReadVersions(ctx context.Context, et *descriptor.EntityType, entityID string) ([]history.EntityVersion, error) {
	query := fmt.Sprintf(`
		SELECT transaction_id, operation_type, data
		FROM %s
		WHERE entity_id = ?
		ORDER BY transaction_id ASC
	`, s.dialect.table(et.VersionTable))

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), entityID)
	if err != nil {
		return nil, fmt.Errorf("query versions of %s:%s: %w", et.Key(), entityID, err)
	}
	defer rows.Close()

	versions := []history.EntityVersion{}
	for rows.Next() {
		v := history.EntityVersion{EntityType: et.Key(), EntityID: entityID, Index: len(versions)}
		var op int
		var data string
		if err := rows.Scan(&v.TransactionID, &op, &data); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if err := fillVersion(&v, op, data); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

// ReadVersionAt returns the entity's version with the greatest transaction
// id <= upto. The bool is false when the entity has no version that early.
func (s *Store) ReadVersionAt(ctx context.Context, et *descriptor.EntityType, entityID string, upto int64) (history.EntityVersion, bool, error) {
	table := s.dialect.table(et.VersionTable)
	query := fmt.Sprintf(`
		SELECT v.transaction_id, v.operation_type, v.data,
			(SELECT COUNT(*) FROM %s p WHERE p.entity_id = v.entity_id AND p.transaction_id < v.transaction_id)
		FROM %s v
		WHERE v.entity_id = ? AND v.transaction_id <= ?
		ORDER BY v.transaction_id DESC
		LIMIT 1
	`, table, table)

	v := history.EntityVersion{EntityType: et.Key(), EntityID: entityID}
	var op int
	var data string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), entityID, upto).
		Scan(&v.TransactionID, &op, &data, &v.Index)
	if errors.Is(err, sql.ErrNoRows) {
		return history.EntityVersion{}, false, nil
	}
	if err != nil {
		return history.EntityVersion{}, false, fmt.Errorf("read version of %s:%s at %d: %w", et.Key(), entityID, upto, err)
	}
	if err := fillVersion(&v, op, data); err != nil {
		return history.EntityVersion{}, false, err
	}
	return v, true, nil
}

// ReadVersionsByTransaction returns the versions of one entity type written
// by a transaction, ordered by entity id.
func (s *Store) ReadVersionsByTransaction(ctx context.Context, et *descriptor.EntityType, txID int64) ([]history.EntityVersion, error) {
	table := s.dialect.table(et.VersionTable)
	query := fmt.Sprintf(`
		SELECT v.entity_id, v.operation_type, v.data,
			(SELECT COUNT(*) FROM %s p WHERE p.entity_id = v.entity_id AND p.transaction_id < v.transaction_id)
		FROM %s v
		WHERE v.transaction_id = ?
		ORDER BY v.entity_id %s ASC
	`, table, table, s.dialect.binaryCollate())

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), txID)
	if err != nil {
		return nil, fmt.Errorf("query %s versions at %d: %w", et.Key(), txID, err)
	}
	defer rows.Close()

	versions := []history.EntityVersion{}
	for rows.Next() {
		v := history.EntityVersion{EntityType: et.Key(), TransactionID: txID}
		var op int
		var data string
		if err := rows.Scan(&v.EntityID, &op, &data, &v.Index); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if err := fillVersion(&v, op, data); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

func fillVersion(v *history.EntityVersion, op int, data string) error {
	v.Operation = history.Operation(op)
	if !v.Operation.Valid() {
		return fmt.Errorf("version %s: invalid operation_type %d", v.Key(), op)
	}
	values, err := row.UnmarshalValues([]byte(data))
	if err != nil {
		return fmt.Errorf("version %s: %w", v.Key(), err)
	}
	v.Values = values
	return nil
}

// ReadOperations returns the ledger operations of one owner through the
// descriptor's role, with transaction_id <= upto, ordered by transaction id
// then partner id. Returns an empty slice (not nil) if none exist.
func (s *Store) ReadOperations(ctx context.Context, d *descriptor.Descriptor, ownerID string, upto int64) ([]history.AssociationOp, error) {
	a := d.Association
	partner := quoteIdent(d.PartnerColumn())

	cols := []string{partner, "transaction_id", "operation_type"}
	for _, c := range a.Carried {
		cols = append(cols, quoteIdent(c.Name))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s = ? AND transaction_id <= ?
		ORDER BY transaction_id ASC, %s %s ASC
	`, strings.Join(cols, ", "), s.dialect.table(a.LedgerTable),
		quoteIdent(d.OwnerColumn()), partner, s.dialect.binaryCollate())

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), ownerID, upto)
	if err != nil {
		return nil, fmt.Errorf("query ledger %s: %w", a.LedgerTable, err)
	}
	defer rows.Close()

	ops := []history.AssociationOp{}
	for rows.Next() {
		op := history.AssociationOp{Relationship: d.Key(), OwnerID: ownerID}
		var kind int
		dest := []any{&op.PartnerID, &op.TransactionID, &kind}
		holders := newCarriedHolders(a.Carried)
		dest = append(dest, holders.dest()...)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		op.Operation = history.Operation(kind)
		if op.Operation != history.OpInsert && op.Operation != history.OpDelete {
			return nil, fmt.Errorf("ledger %s: invalid operation_type %d", a.LedgerTable, kind)
		}
		if len(a.Carried) > 0 {
			op.Carried = holders.values()
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return ops, nil
}

// CountOperations returns the number of ledger rows of an association.
// Excluded associations have no table and always count zero.
func (s *Store) CountOperations(ctx context.Context, a *descriptor.Association) (int, error) {
	if a.Excluded {
		return 0, nil
	}
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.dialect.table(a.LedgerTable))
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger %s: %w", a.LedgerTable, err)
	}
	return n, nil
}

// carriedHolders scans nullable carried columns by kind.
type carriedHolders struct {
	cols  []descriptor.CarriedColumn
	texts []sql.NullString
	ints  []sql.NullInt64
	bools []sql.NullBool
}

func newCarriedHolders(cols []descriptor.CarriedColumn) *carriedHolders {
	return &carriedHolders{
		cols:  cols,
		texts: make([]sql.NullString, len(cols)),
		ints:  make([]sql.NullInt64, len(cols)),
		bools: make([]sql.NullBool, len(cols)),
	}
}

func (h *carriedHolders) dest() []any {
	out := make([]any, len(h.cols))
	for i, c := range h.cols {
		switch c.Kind {
		case descriptor.CarriedInt:
			out[i] = &h.ints[i]
		case descriptor.CarriedBool:
			out[i] = &h.bools[i]
		default:
			out[i] = &h.texts[i]
		}
	}
	return out
}

func (h *carriedHolders) values() row.Values {
	out := make(row.Values, len(h.cols))
	for i, c := range h.cols {
		var v row.Value = row.Null{}
		switch c.Kind {
		case descriptor.CarriedInt:
			if h.ints[i].Valid {
				v = row.Int(h.ints[i].Int64)
			}
		case descriptor.CarriedBool:
			if h.bools[i].Valid {
				v = row.Bool(h.bools[i].Bool)
			}
		default:
			if h.texts[i].Valid {
				v = row.Text(h.texts[i].String)
			}
		}
		out[c.Name] = v
	}
	return out
}
