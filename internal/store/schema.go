package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/relhist/internal/descriptor"
)

// EnsureSchema creates the version table of every versioned entity type and
// the ledger table of every tracked association. Excluded associations get
// no table. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context, reg *descriptor.Registry) error {
	stmts := s.schemaStatements(reg)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure schema: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ensure schema: commit: %w", err)
	}
	return nil
}

func (s *Store) schemaStatements(reg *descriptor.Registry) []string {
	var stmts []string

	if s.dialect == DialectPostgres {
		seen := make(map[string]bool)
		addNamespace := func(ns string) {
			if ns == "" || seen[ns] {
				return
			}
			seen[ns] = true
			stmts = append(stmts, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(ns))
		}
		for _, et := range reg.Entities() {
			if et.Versioned {
				addNamespace(et.VersionTable.Namespace)
			}
		}
		for _, a := range reg.Associations() {
			if !a.Excluded {
				addNamespace(a.LedgerTable.Namespace)
			}
		}
	}

	for _, et := range reg.Entities() {
		if !et.Versioned {
			continue
		}
		stmts = append(stmts, s.versionTableDDL(et)...)
	}
	for _, a := range reg.Associations() {
		if a.Excluded {
			continue
		}
		stmts = append(stmts, s.ledgerTableDDL(a)...)
	}
	return stmts
}

func (s *Store) versionTableDDL(et *descriptor.EntityType) []string {
	table := s.dialect.table(et.VersionTable)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	entity_id      TEXT NOT NULL,
	transaction_id BIGINT NOT NULL REFERENCES history_transaction(id),
	operation_type SMALLINT NOT NULL,
	data           TEXT NOT NULL,
	PRIMARY KEY (entity_id, transaction_id)
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (transaction_id)`,
			s.dialect.indexName(et.VersionTable, "tx_idx"), table),
	}
}

func (s *Store) ledgerTableDDL(a *descriptor.Association) []string {
	table := s.dialect.table(a.LedgerTable)
	left := quoteIdent(a.LeftColumn)
	right := quoteIdent(a.RightColumn)

	cols := []string{
		left + " TEXT NOT NULL",
		right + " TEXT NOT NULL",
		"transaction_id BIGINT NOT NULL REFERENCES history_transaction(id)",
		"operation_type SMALLINT NOT NULL",
	}
	for _, c := range a.Carried {
		cols = append(cols, quoteIdent(c.Name)+" "+carriedSQLType(c.Kind))
	}
	cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s, %s, transaction_id)", left, right))

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(cols, ",\n\t")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s, transaction_id)`,
			s.dialect.indexName(a.LedgerTable, "right_tx_idx"), table, right),
	}
}

func carriedSQLType(k descriptor.CarriedKind) string {
	switch k {
	case descriptor.CarriedInt:
		return "BIGINT"
	case descriptor.CarriedBool:
		return "BOOLEAN"
	default:
		// Timestamps are stored as RFC 3339 text.
		return "TEXT"
	}
}
