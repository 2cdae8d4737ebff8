package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RelationResult is the membership of one relationship as of a transaction.
type RelationResult struct {
	EntityType    string        `json:"entity_type"`
	EntityID      string        `json:"entity_id"`
	Role          string        `json:"role"`
	TransactionID int64         `json:"transaction_id"`
	Members       []VersionView `json:"members"`
}

// RenderText implements TextRenderer.
func (r RelationResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s:%s.%s @ tx %d (%d members)\n",
		r.EntityType, r.EntityID, r.Role, r.TransactionID, len(r.Members))
	for _, m := range r.Members {
		fmt.Fprintf(w, "  %s:%s@%d %s\n", m.EntityType, m.EntityID, m.TransactionID, formatValues(m.Values))
	}
}

// RelationOptions holds flags for the relation command.
type RelationOptions struct {
	*RootOptions
	TransactionID int64
}

// NewRelationCommand creates the relation command.
func NewRelationCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relation <entity> <id> <role>",
		Short: "Reconstruct a relationship as of a transaction",
		Long: `Reconstruct the partner versions an entity's relationship held as of a
transaction. Without --tx, the owner's latest version is used.

Examples:
  relhist relation article a1 tags
  relhist relation article a1 tags --tx 3
  relhist relation tag t1 articles --format json`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelation(opts, cmd, args[0], args[1], args[2])
		},
	}

	cmd.Flags().Int64Var(&opts.TransactionID, "tx", 0, "transaction id to reconstruct at (default: owner's latest version)")

	return cmd
}

func runRelation(opts *RelationOptions, cmd *cobra.Command, entityType, id, role string) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	if opts.TransactionID < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --tx %d: must be positive", opts.TransactionID))
	}

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

	txID := opts.TransactionID
	if txID == 0 {
		versions, err := eng.Versions(ctx, entityType, id)
		if err != nil {
			return out.Fail(ExitCommandError, "failed to read versions", err)
		}
		if len(versions) == 0 {
			return out.Fail(ExitCommandError, "no versions",
				fmt.Errorf("%s:%s has no history", entityType, id))
		}
		txID = versions[len(versions)-1].TransactionID
		out.VerboseLog("using latest version of %s:%s at tx %d", entityType, id, txID)
	}

	members, err := eng.Reconstruct(ctx, entityType, role, id, txID)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to reconstruct relationship", err)
	}

	result := RelationResult{
		EntityType:    entityType,
		EntityID:      id,
		Role:          role,
		TransactionID: txID,
		Members:       make([]VersionView, len(members)),
	}
	for i, m := range members {
		view := newVersionView(m)
		view.EntityType = m.EntityType
		view.EntityID = m.EntityID
		result.Members[i] = view
	}
	return out.Success(result)
}
