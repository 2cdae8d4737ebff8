package mapping

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "articles.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Entities, 3)
	assert.True(t, cfg.Entities[0].Versioned)
	assert.False(t, cfg.Entities[2].Versioned)

	require.Len(t, cfg.Relationships, 2)
	rel := cfg.Relationships[0]
	assert.Equal(t, "article_tag", rel.Table)
	assert.Equal(t, "tags", rel.Forward)
	assert.Equal(t, "articles", rel.Backward)
	require.Len(t, rel.Carried, 1)
	assert.Equal(t, CarriedColumn{Name: "created_date", Type: TypeTimestamp}, rel.Carried[0])
}

func TestLoad_CUE(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "articles.cue"))
	require.NoError(t, err)

	require.Len(t, cfg.Entities, 2)
	assert.Equal(t, "other", cfg.Entities[0].Namespace)
	assert.True(t, cfg.Entities[1].Versioned)

	require.Len(t, cfg.Relationships, 1)
	assert.Equal(t, "other.article", cfg.Relationships[0].Left)
	assert.False(t, cfg.Relationships[0].Track)
}

func TestParseYAML_RejectsUnknownFields(t *testing.T) {
	_, err := ParseYAML([]byte(`
entities:
  - name: article
    versiond: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "versiond")
}

func TestParseYAML_RequiresEntities(t *testing.T) {
	_, err := ParseYAML([]byte("relationships: []\n"))
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "entities", le.Field)
}

func TestParseYAML_RejectsUnknownCarriedType(t *testing.T) {
	_, err := ParseYAML([]byte(`
entities:
  - {name: a, versioned: true}
relationships:
  - table: a_a
    left: a
    right: a
    left_column: l
    right_column: r
    carried:
      - {name: weight, type: float}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relationships[0].carried[0].type")
}

func TestParseCUE_RejectsUnknownFieldWithPosition(t *testing.T) {
	_, err := ParseCUE([]byte(`entities: [{name: "article", versiond: true}]`), "bad.cue")
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Pos.IsValid())
}

func TestParseCUE_RejectsBadCarriedType(t *testing.T) {
	src := `
entities: [{name: "a", versioned: true}]
relationships: [{
	table: "a_a", left: "a", right: "a", left_column: "l", right_column: "r"
	carried: [{name: "w", type: "float"}]
}]
`
	_, err := ParseCUE([]byte(src), "bad.cue")
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
