package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "relhist", cmd.Use)
	assert.Contains(t, cmd.Long, "relationship")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"init"},
		{"versions"},
		{"relation"},
		{"tx"},
		{"tx", "list"},
		{"tx", "show"},
		{"scenario"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "driver", "db", "mapping"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue)
	}
}

func TestRelationCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	relationCmd, _, err := cmd.Find([]string{"relation"})
	require.NoError(t, err)

	txFlag := relationCmd.Flags().Lookup("tx")
	require.NotNil(t, txFlag)
	assert.Equal(t, "0", txFlag.DefValue)
}

func TestTxListFlags(t *testing.T) {
	cmd := NewRootCommand()
	listCmd, _, err := cmd.Find([]string{"tx", "list"})
	require.NoError(t, err)

	assert.Equal(t, "0", listCmd.Flags().Lookup("after").DefValue)
	assert.Equal(t, "50", listCmd.Flags().Lookup("limit").DefValue)
}

func TestScenarioCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scenarioCmd, _, err := cmd.Find([]string{"scenario"})
	require.NoError(t, err)

	for _, name := range []string{"filter", "golden", "update"} {
		assert.NotNil(t, scenarioCmd.Flags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := executeCommand(t, "init", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}
