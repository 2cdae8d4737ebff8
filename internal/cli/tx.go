package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/relhist/internal/history"
)

// TransactionView is one committed transaction as printed by the CLI.
type TransactionView struct {
	ID         int64  `json:"id"`
	IssuedAt   string `json:"issued_at"`
	Actor      string `json:"actor,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

func newTransactionView(tx history.Transaction) TransactionView {
	return TransactionView{
		ID:         tx.ID,
		IssuedAt:   tx.IssuedAt.UTC().Format(time.RFC3339Nano),
		Actor:      tx.Actor,
		RemoteAddr: tx.RemoteAddr,
	}
}

func (v TransactionView) line() string {
	line := fmt.Sprintf("tx %d  %s", v.ID, v.IssuedAt)
	if v.Actor != "" {
		line += "  actor=" + v.Actor
	}
	if v.RemoteAddr != "" {
		line += "  remote=" + v.RemoteAddr
	}
	return line
}

// TxListResult is a page of committed transactions.
type TxListResult struct {
	Transactions []TransactionView `json:"transactions"`
}

// RenderText implements TextRenderer.
func (r TxListResult) RenderText(w io.Writer) {
	if len(r.Transactions) == 0 {
		fmt.Fprintln(w, "No transactions found.")
		return
	}
	for _, tx := range r.Transactions {
		fmt.Fprintln(w, tx.line())
	}
}

// TxShowResult is one transaction with the versions it wrote.
type TxShowResult struct {
	Transaction TransactionView          `json:"transaction"`
	Changed     map[string][]VersionView `json:"changed"`
}

// RenderText implements TextRenderer.
func (r TxShowResult) RenderText(w io.Writer) {
	fmt.Fprintln(w, r.Transaction.line())
	for _, et := range sortedKeys(r.Changed) {
		for _, v := range r.Changed[et] {
			fmt.Fprintf(w, "  %s:%s [%d] %-6s %s\n", et, v.EntityID, v.Index, v.Operation, formatValues(v.Values))
		}
	}
}

// TxOptions holds flags for the tx list command.
type TxOptions struct {
	*RootOptions
	After int64
	Limit int
}

// NewTxCommand creates the tx command group.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Inspect committed transactions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List committed transactions",
		Long: `List committed transactions in id order.

Examples:
  relhist tx list
  relhist tx list --after 100 --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTxList(opts, cmd)
		},
	}
	list.Flags().Int64Var(&opts.After, "after", 0, "only transactions with id greater than this")
	list.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of transactions")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a transaction and the versions it wrote",
		Long: `Show one committed transaction with its metadata and every entity
version it wrote, grouped by entity type.

Examples:
  relhist tx show 3
  relhist tx show 3 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTxShow(rootOpts, cmd, args[0])
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func runTxList(opts *TxOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --limit %d: must be positive", opts.Limit))
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

	txs, err := eng.Transactions(ctx, opts.After, opts.Limit)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to list transactions", err)
	}

	result := TxListResult{Transactions: make([]TransactionView, len(txs))}
	for i, tx := range txs {
		result.Transactions[i] = newTransactionView(tx)
	}
	return out.Success(result)
}

func runTxShow(opts *RootOptions, cmd *cobra.Command, arg string) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid transaction id %q", arg))
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

	tx, err := eng.Transaction(ctx, id)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to read transaction", err)
	}
	changed, err := eng.ChangedEntities(ctx, id)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to read changed entities", err)
	}

	result := TxShowResult{
		Transaction: newTransactionView(tx),
		Changed:     make(map[string][]VersionView, len(changed)),
	}
	for et, versions := range changed {
		views := make([]VersionView, len(versions))
		for i, v := range versions {
			views[i] = newVersionView(v)
			views[i].EntityID = v.EntityID
		}
		result.Changed[et] = views
	}
	return out.Success(result)
}
