package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"labeler_server/core/domain"
	"labeler_server/core/port/in"
	"labeler_server/core/port/out"
	"labeler_server/internal/bootstrap"

	"github.com/spf13/cobra"
)

const oneShotTimeout = 15 * time.Minute

func newReconcileCmd() *cobra.Command {
	var userFlag, queryFlag string
	var maxFlag int64

	cmd := &cobra.Command{
		Use:   "reconcile [message-id...]",
		Short: "Label one user's messages now",
		Long:  "Labels the given message IDs, or the messages matching --query when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user is required")
			}
			if maxFlag < 1 || maxFlag > 500 {
				return fmt.Errorf("--max must be between 1 and 500")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if queryFlag == "" {
				queryFlag = cfg.LabelingQuery
			}

			deps, cleanup, err := bootstrap.NewDependencies(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
			defer cancel()

			sess := &out.Session{UserID: userFlag, Tokens: deps.Tokens}
			var res *domain.BatchResult
			if len(args) > 0 {
				ctx = in.WithRunOptions(ctx, in.RunOptions{Trigger: "cli"})
				res, err = deps.Pipeline.ReconcileIDs(ctx, sess, args)
			} else {
				ctx = in.WithRunOptions(ctx, in.RunOptions{Trigger: "cli", Query: queryFlag})
				res, err = deps.Pipeline.ReconcileRecent(ctx, sess, queryFlag, maxFlag)
			}
			if err != nil {
				return fmt.Errorf("failed to reconcile: %w", err)
			}

			if jsonFlag {
				return fprintJSON(cmd.OutOrStdout(), res)
			}
			return writeBatchResult(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "user ID whose mailbox to label")
	cmd.Flags().StringVar(&queryFlag, "query", "", "Gmail search query (defaults to LABELING_QUERY)")
	cmd.Flags().Int64Var(&maxFlag, "max", 50, "maximum messages to fetch for --query")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "check <message-id>...",
		Short: "Show which messages are already labeled",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			deps, cleanup, err := bootstrap.NewDependencies(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			check := deps.Pipeline.CheckLedger(cmd.Context(), userFlag, args)
			if jsonFlag {
				return fprintJSON(cmd.OutOrStdout(), check)
			}
			return writeLedgerCheck(cmd.OutOrStdout(), check)
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "user ID whose ledger to read")
	return cmd
}

// writeBatchResult prints one line per message, sorted by ID, then totals.
func writeBatchResult(w io.Writer, res *domain.BatchResult) error {
	ids := make([]string, 0, len(res.Outcomes))
	for id := range res.Outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MESSAGE\tSTATE\tLABELS\tDETAIL")
	for _, id := range ids {
		o := res.Outcomes[id]
		detail := o.Reason
		if o.DraftID != "" {
			detail = "draft " + o.DraftID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, o.State, strings.Join(o.Labels, ","), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d applied, %d already labeled, %d without labels, %d failed\n",
		res.AppliedCount, res.SkippedCount, res.NoLabelCount, res.FailedCount)
	return err
}

// writeLedgerCheck prints the ledger state of each checked message.
func writeLedgerCheck(w io.Writer, check *domain.LedgerCheck) error {
	if check.Degraded {
		fmt.Fprintln(w, "warning: ledger unavailable, every message reported as unlabeled")
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MESSAGE\tLABELED\tLABELS\tLABELED AT")
	for _, id := range check.AlreadyLabeled {
		e := check.Details[id]
		fmt.Fprintf(tw, "%s\tyes\t%s\t%s\n", id, strings.Join(e.Labels, ","), e.LabeledAt.Format(time.RFC3339))
	}
	for _, id := range check.NeedsLabeling {
		fmt.Fprintf(tw, "%s\tno\t\t\n", id)
	}
	return tw.Flush()
}
