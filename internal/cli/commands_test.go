package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_CreatesTables(t *testing.T) {
	ws := newWorkspace(t)

	out, err := executeCommand(t, ws.args("init", "--format", "json")...)
	require.NoError(t, err)

	var result InitResult
	decodeData(t, out, &result)
	assert.Equal(t, "sqlite3", result.Driver)
	assert.Equal(t, 1, result.SchemaVersion)
	assert.Equal(t, []string{"article_version", "tag_version"}, result.VersionTables)
	assert.Equal(t, []string{"article_tag_version"}, result.LedgerTables)
	require.Len(t, result.Excluded, 1)
	assert.Contains(t, result.Excluded[0], "article_category")
}

func TestInit_Idempotent(t *testing.T) {
	ws := newWorkspace(t)

	_, err := executeCommand(t, ws.args("init")...)
	require.NoError(t, err)
	out, err := executeCommand(t, ws.args("init")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized history schema")
	assert.Contains(t, out, "version table: article_version")
}

func TestInit_MissingMapping(t *testing.T) {
	newWorkspace(t)

	_, err := executeCommand(t, "init", "--db", "history.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "mapping is required")
}

func TestInit_ConfigFile(t *testing.T) {
	ws := newWorkspace(t)
	writeFile(t, "relhist.yaml", "database:\n  dsn: from-config.db\nmapping: "+ws.mapping+"\n")

	out, err := executeCommand(t, "init", "--format", "json")
	require.NoError(t, err)

	var result InitResult
	decodeData(t, out, &result)
	assert.FileExists(t, "from-config.db")
}

func TestVersions(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	out, err := executeCommand(t, ws.args("versions", "article", "a1", "--role", "tags", "--format", "json")...)
	require.NoError(t, err)

	var result VersionsResult
	decodeData(t, out, &result)
	require.Len(t, result.Versions, 2)

	assert.Equal(t, int64(1), result.Versions[0].TransactionID)
	assert.Equal(t, "insert", result.Versions[0].Operation)
	assert.Equal(t, "v1", result.Versions[0].Values["title"])
	assert.Equal(t, []string{"tag:t1@1"}, result.Versions[0].Members["tags"])

	assert.Equal(t, int64(2), result.Versions[1].TransactionID)
	assert.Equal(t, "update", result.Versions[1].Operation)
	assert.Equal(t, "v2", result.Versions[1].Values["title"])
	assert.Equal(t, []string{"tag:t1@1", "tag:t2@2"}, result.Versions[1].Members["tags"])
}

func TestVersions_Text(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	out, err := executeCommand(t, ws.args("versions", "tag", "t2")...)
	require.NoError(t, err)
	assert.Contains(t, out, "tag:t2 (1 versions)")
	assert.Contains(t, out, `{"name":"db"}`)

	out, err = executeCommand(t, ws.args("versions", "tag", "nope")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No versions found for tag:nope")
}

func TestVersions_VerboseReportsMetrics(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	stdout, stderr, err := executeCommandSplit(t, ws.args("versions", "article", "a1", "--role", "tags", "--verbose", "--format", "json")...)
	require.NoError(t, err)

	var result VersionsResult
	decodeData(t, stdout, &result)
	assert.Len(t, result.Versions, 2)

	assert.Contains(t, stderr, "# TYPE relhist_commits_total counter")
	assert.Contains(t, stderr, `relhist_reconstructions_total{result="miss"}`)

	_, stderr, err = executeCommandSplit(t, ws.args("versions", "article", "a1", "--role", "tags")...)
	require.NoError(t, err)
	assert.NotContains(t, stderr, "relhist_", "metrics are only reported with --verbose")
}

func TestVersions_UnknownEntity(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	out, err := executeCommand(t, ws.args("versions", "widget", "w1", "--format", "json")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "UNKNOWN_ENTITY", decodeError(t, out).Code)

	out, err = executeCommand(t, ws.args("versions", "category", "c1", "--format", "json")...)
	require.Error(t, err)
	assert.NotEqual(t, "E001", decodeError(t, out).Code)
}

func TestRelation(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	tests := []struct {
		name   string
		args   []string
		wantTx int64
		want   []string
	}{
		{"latest", []string{"relation", "article", "a1", "tags"}, 2, []string{"t1", "t2"}},
		{"at tx 1", []string{"relation", "article", "a1", "tags", "--tx", "1"}, 1, []string{"t1"}},
		{"backward", []string{"relation", "tag", "t2", "articles"}, 2, []string{"a1"}},
		{"excluded", []string{"relation", "article", "a1", "categories"}, 2, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, ws.args(append(tt.args, "--format", "json")...)...)
			require.NoError(t, err)

			var result RelationResult
			decodeData(t, out, &result)
			assert.Equal(t, tt.wantTx, result.TransactionID)
			ids := make([]string, len(result.Members))
			for i, m := range result.Members {
				ids[i] = m.EntityID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRelation_Errors(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	out, err := executeCommand(t, ws.args("relation", "article", "a1", "authors", "--format", "json")...)
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN_RELATIONSHIP", decodeError(t, out).Code)

	_, err = executeCommand(t, ws.args("relation", "article", "a9", "tags")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a9 has no history")

	_, err = executeCommand(t, ws.args("relation", "article", "a1", "tags", "--tx", "-1")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTxList(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	out, err := executeCommand(t, ws.args("tx", "list", "--format", "json")...)
	require.NoError(t, err)

	var result TxListResult
	decodeData(t, out, &result)
	require.Len(t, result.Transactions, 2)
	assert.Equal(t, int64(1), result.Transactions[0].ID)
	assert.Equal(t, int64(2), result.Transactions[1].ID)
	assert.Equal(t, "alice", result.Transactions[1].Actor)

	out, err = executeCommand(t, ws.args("tx", "list", "--after", "1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "tx 2")
	assert.Contains(t, out, "actor=alice")
	assert.NotContains(t, out, "tx 1 ")

	_, err = executeCommand(t, ws.args("tx", "list", "--limit", "0")...)
	require.Error(t, err)
}

func TestTxShow(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	out, err := executeCommand(t, ws.args("tx", "show", "2", "--format", "json")...)
	require.NoError(t, err)

	var result TxShowResult
	decodeData(t, out, &result)
	assert.Equal(t, int64(2), result.Transaction.ID)
	require.Len(t, result.Changed["article"], 1)
	assert.Equal(t, "update", result.Changed["article"][0].Operation)
	require.Len(t, result.Changed["tag"], 1)
	assert.Equal(t, "t2", result.Changed["tag"][0].EntityID)
}

func TestTxShow_Errors(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	out, err := executeCommand(t, ws.args("tx", "show", "9", "--format", "json")...)
	require.Error(t, err)
	assert.Equal(t, "MISSING_TRANSACTION", decodeError(t, out).Code)

	_, err = executeCommand(t, ws.args("tx", "show", "abc")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid transaction id "abc"`)
}
