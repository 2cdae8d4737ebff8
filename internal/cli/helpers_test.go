package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/engine"
	"github.com/roach88/relhist/internal/mapping"
	"github.com/roach88/relhist/internal/row"
	"github.com/roach88/relhist/internal/store"
	"github.com/roach88/relhist/internal/testutil"
)

const testMapping = `entities:
  - name: article
    versioned: true
  - name: tag
    versioned: true
  - name: category
relationships:
  - table: article_tag
    left: article
    right: tag
    left_column: article_id
    right_column: tag_id
    forward: tags
    backward: articles
  - table: article_category
    left: article
    right: category
    left_column: article_id
    right_column: category_id
    forward: categories
`

// workspace is a temp directory holding a mapping file and a database path.
type workspace struct {
	dir     string
	mapping string
	db      string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	chdirTest(t, dir)
	t.Setenv("RELHIST_LOG_LEVEL", "error")

	ws := &workspace{
		dir:     dir,
		mapping: filepath.Join(dir, "mapping.yaml"),
		db:      filepath.Join(dir, "history.db"),
	}
	require.NoError(t, os.WriteFile(ws.mapping, []byte(testMapping), 0o644))
	return ws
}

func (ws *workspace) args(args ...string) []string {
	return append(args, "--mapping", ws.mapping, "--db", ws.db)
}

// seed writes two transactions:
//
//	tx 1: article a1 {title: v1}, tag t1 {name: go}, a1.tags += t1
//	tx 2 by alice: tag t2 {name: db}, a1.tags += t2, article a1 {title: v2}
func (ws *workspace) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	cfg, err := mapping.Load(ws.mapping)
	require.NoError(t, err)
	reg, err := descriptor.Build(cfg)
	require.NoError(t, err)

	st, err := store.Open("sqlite3", ws.db)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.EnsureSchema(ctx, reg))

	eng, err := engine.New(ctx, st, reg,
		engine.WithNow(testutil.NewStepClock().Now),
		engine.WithHandleGenerator(&testutil.SequentialHandles{}),
	)
	require.NoError(t, err)

	u := eng.Begin()
	require.NoError(t, u.Insert("article", "a1", row.Values{"title": row.Text("v1")}))
	require.NoError(t, u.Insert("tag", "t1", row.Values{"name": row.Text("go")}))
	require.NoError(t, u.Link("article", "tags", "a1", "t1", nil))
	_, err = u.Commit(ctx)
	require.NoError(t, err)

	u = eng.Begin(engine.WithActor("alice"))
	require.NoError(t, u.Insert("tag", "t2", row.Values{"name": row.Text("db")}))
	require.NoError(t, u.Link("article", "tags", "a1", "t2", nil))
	require.NoError(t, u.Update("article", "a1", row.Values{"title": row.Text("v2")}))
	_, err = u.Commit(ctx)
	require.NoError(t, err)
}

// executeCommand runs the root command with args and returns its stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := executeCommandSplit(t, args...)
	return stdout, err
}

// executeCommandSplit runs the root command and returns stdout and stderr
// separately.
func executeCommandSplit(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// decodeData decodes an "ok" JSON response payload into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

// decodeError decodes an "error" JSON response.
func decodeError(t *testing.T, out string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "error", resp.Status, out)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
