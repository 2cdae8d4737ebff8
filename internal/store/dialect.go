package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/relhist/internal/descriptor"
)

// Dialect selects SQL differences between SQLite and PostgreSQL.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "pgx", "postgres":
		return DialectPostgres, nil
	}
	return 0, fmt.Errorf("unsupported driver %q", driver)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// binaryCollate orders text by bytes.
func (d Dialect) binaryCollate() string {
	if d == DialectPostgres {
		return `COLLATE "C"`
	}
	return "COLLATE BINARY"
}

// table renders a quoted table reference.
func (d Dialect) table(ref descriptor.TableRef) string {
	if ref.Namespace == "" {
		return quoteIdent(ref.Name)
	}
	if d == DialectPostgres {
		return quoteIdent(ref.Namespace) + "." + quoteIdent(ref.Name)
	}
	return quoteIdent(ref.Flat())
}

// indexName builds an index name unique across namespaces.
func (d Dialect) indexName(ref descriptor.TableRef, suffix string) string {
	return quoteIdent(ref.Flat() + "_" + suffix)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
