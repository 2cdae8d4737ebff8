package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/relhist/internal/history"
)

// VersionView is one entity version as printed by the CLI.
type VersionView struct {
	EntityType    string              `json:"entity_type,omitempty"`
	EntityID      string              `json:"entity_id,omitempty"`
	Index         int                 `json:"index"`
	TransactionID int64               `json:"transaction_id"`
	Operation     string              `json:"operation"`
	Values        map[string]any      `json:"values"`
	Members       map[string][]string `json:"members,omitempty"`
}

// VersionsResult lists the versions of one entity.
type VersionsResult struct {
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Versions   []VersionView `json:"versions"`
}

// RenderText implements TextRenderer.
func (r VersionsResult) RenderText(w io.Writer) {
	if len(r.Versions) == 0 {
		fmt.Fprintf(w, "No versions found for %s:%s\n", r.EntityType, r.EntityID)
		return
	}
	fmt.Fprintf(w, "%s:%s (%d versions)\n", r.EntityType, r.EntityID, len(r.Versions))
	for _, v := range r.Versions {
		fmt.Fprintf(w, "  [%d] tx=%d %-6s %s\n", v.Index, v.TransactionID, v.Operation, formatValues(v.Values))
		for _, role := range sortedKeys(v.Members) {
			fmt.Fprintf(w, "      %s: %v\n", role, v.Members[role])
		}
	}
}

// VersionsOptions holds flags for the versions command.
type VersionsOptions struct {
	*RootOptions
	Roles []string
}

// NewVersionsCommand creates the versions command.
func NewVersionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VersionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "versions <entity> <id>",
		Short: "List the versions of an entity",
		Long: `List every version of one entity, oldest first, with its transaction
id, operation and column values. With --role, each version also shows
the relationship members it saw.

Examples:
  relhist versions article a1
  relhist versions article a1 --role tags --role references
  relhist versions other.article a1 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersions(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Roles, "role", "r", nil, "relationship role to reconstruct per version (repeatable)")

	return cmd
}

func runVersions(opts *VersionsOptions, cmd *cobra.Command, entityType, id string) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	sess, err := opts.openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	eng, err := sess.engine(ctx)
	if err != nil {
		return err
	}
	defer sess.reportMetrics(out)

	versions, err := eng.Versions(ctx, entityType, id)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to read versions", err)
	}

	result := VersionsResult{EntityType: entityType, EntityID: id, Versions: make([]VersionView, 0, len(versions))}
	for _, v := range versions {
		view := newVersionView(v.EntityVersion)
		for _, role := range opts.Roles {
			members, err := v.Relationship(ctx, role)
			if err != nil {
				return out.Fail(ExitCommandError, fmt.Sprintf("failed to reconstruct %s", role), err)
			}
			if view.Members == nil {
				view.Members = make(map[string][]string)
			}
			keys := make([]string, len(members))
			for i, m := range members {
				keys[i] = m.Key().String()
			}
			view.Members[role] = keys
		}
		result.Versions = append(result.Versions, view)
	}

	out.VerboseLog("read %d versions of %s:%s", len(result.Versions), entityType, id)
	return out.Success(result)
}

func newVersionView(v history.EntityVersion) VersionView {
	return VersionView{
		Index:         v.Index,
		TransactionID: v.TransactionID,
		Operation:     v.Operation.String(),
		Values:        valuesToGo(v.Values),
	}
}
