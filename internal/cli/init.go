package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// InitResult reports the history tables created for a mapping.
type InitResult struct {
	Driver        string   `json:"driver"`
	SchemaVersion int      `json:"schema_version"`
	VersionTables []string `json:"version_tables"`
	LedgerTables  []string `json:"ledger_tables"`
	Excluded      []string `json:"excluded,omitempty"`
}

// RenderText implements TextRenderer.
func (r InitResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "✓ Initialized history schema v%d (%s)\n", r.SchemaVersion, r.Driver)
	for _, t := range r.VersionTables {
		fmt.Fprintf(w, "  version table: %s\n", t)
	}
	for _, t := range r.LedgerTables {
		fmt.Fprintf(w, "  ledger table:  %s\n", t)
	}
	for _, e := range r.Excluded {
		fmt.Fprintf(w, "  excluded:      %s\n", e)
	}
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create history tables for a mapping",
		Long: `Create the transaction table, one version table per versioned entity
type, and one ledger table per tracked relationship. Safe to run again
after the mapping gains entities or relationships.

Examples:
  relhist init --mapping ./mapping.yaml --db ./history.db
  relhist init --config ./relhist.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	sess, err := opts.openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.store.EnsureSchema(ctx, sess.registry); err != nil {
		return out.Fail(ExitCommandError, "failed to create schema", err)
	}
	version, err := sess.store.SchemaVersion(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to read schema version", err)
	}

	result := InitResult{
		Driver:        sess.cfg.Database.Driver,
		SchemaVersion: version,
		VersionTables: []string{},
		LedgerTables:  []string{},
	}
	for _, et := range sess.registry.Entities() {
		if et.Versioned {
			result.VersionTables = append(result.VersionTables, et.VersionTable.String())
		}
	}
	for _, a := range sess.registry.Associations() {
		if a.Excluded {
			result.Excluded = append(result.Excluded, fmt.Sprintf("%s (%s)", a.Table, a.ExcludedReason))
			continue
		}
		result.LedgerTables = append(result.LedgerTables, a.LedgerTable.String())
	}

	out.VerboseLog("created %d version tables and %d ledger tables",
		len(result.VersionTables), len(result.LedgerTables))
	return out.Success(result)
}
