package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/relhist/internal/descriptor"
)

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y <= ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y <= $2`, DialectPostgres.rebind(q))
}

func TestDialect_Table(t *testing.T) {
	plain := descriptor.TableRef{Name: "article_tag"}
	other := descriptor.TableRef{Namespace: "other", Name: "article_tag"}

	assert.Equal(t, `"article_tag"`, DialectSQLite.table(plain))
	assert.Equal(t, `"other__article_tag"`, DialectSQLite.table(other))
	assert.Equal(t, `"other"."article_tag"`, DialectPostgres.table(other))
	assert.Equal(t, `"other__article_tag_tx_idx"`, DialectPostgres.indexName(other, "tx_idx"))
}

func TestQuoteIdent_EscapesQuotes(t *testing.T) {
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}

func TestDialectFor(t *testing.T) {
	for driver, want := range map[string]Dialect{
		"sqlite3": DialectSQLite,
		"sqlite":  DialectSQLite,
		"pgx":     DialectPostgres,
	} {
		got, err := DialectFor(driver)
		assert.NoError(t, err, driver)
		assert.Equal(t, want, got, driver)
	}
}
