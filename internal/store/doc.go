// Package store provides durable SQL storage for transaction history.
//
// The store keeps three kinds of append-only tables:
//   - history_transaction: one row per committed unit of work
//   - entity version tables: one per versioned entity type
//   - association ledger tables: one per tracked many-to-many association
//
// Rows are only ever inserted. A commit writes its transaction row, version
// rows and ledger rows inside one database transaction, so readers never
// see a partial commit.
//
// # Deterministic Query Results
//
// Every read orders by transaction_id ASC, then by a binary-collated id,
// so identical history yields identical results across drivers.
//
// # Drivers
//
//   - "sqlite3": github.com/mattn/go-sqlite3 (default)
//   - "sqlite":  modernc.org/sqlite, for CGO-free builds
//   - "pgx":     github.com/jackc/pgx/v5/stdlib, namespaces become schemas
//
// SQLite connections run with WAL, synchronous=NORMAL, busy_timeout=5000
// and foreign_keys=ON. SQLite has no schemas, so a namespaced table is
// flattened to "namespace__table".
package store
