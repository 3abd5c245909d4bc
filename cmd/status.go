package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline totals across queues, messages, and referrals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		stats, err := e.Queues.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "queue stats")
		}

		fmt.Println("Queues")
		formatQueueStats(os.Stdout, stats)

		fmt.Println("\nMessages")
		if err := formatMessageCounts(ctx, os.Stdout, e.Store); err != nil {
			return err
		}

		fmt.Println("\nReferrals")
		return formatReferralCounts(ctx, os.Stdout, e.Store)
	},
}

func formatMessageCounts(ctx context.Context, out io.Writer, st store.Store) error {
	statuses := []model.MessageStatus{
		model.MessageStatusNew, model.MessageStatusQueued, model.MessageStatusExtracting,
		model.MessageStatusExtracted, model.MessageStatusFailed,
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, s := range statuses {
		msgs, err := st.ListMessages(ctx, store.MessageFilter{Status: s, Limit: countLimit})
		if err != nil {
			return eris.Wrapf(err, "count %s messages", s)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", s, countLabel(len(msgs)))
	}

	flagged := true
	msgs, err := st.ListMessages(ctx, store.MessageFilter{Flagged: &flagged, Limit: countLimit})
	if err != nil {
		return eris.Wrap(err, "count flagged messages")
	}
	_, _ = fmt.Fprintf(w, "flagged\t%s\n", countLabel(len(msgs)))
	return w.Flush()
}

func formatReferralCounts(ctx context.Context, out io.Writer, st store.Store) error {
	statuses := []model.ReferralStatus{
		model.ReferralStatusPending, model.ReferralStatusInReview, model.ReferralStatusNeedsInfo,
		model.ReferralStatusApproved, model.ReferralStatusSubmitted, model.ReferralStatusCompleted,
		model.ReferralStatusRejected,
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, s := range statuses {
		referrals, err := st.ListReferrals(ctx, store.ReferralFilter{Status: s, Limit: countLimit})
		if err != nil {
			return eris.Wrapf(err, "count %s referrals", s)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", s, countLabel(len(referrals)))
	}
	return w.Flush()
}

// countLimit caps per-status counting queries; totals at the cap display
// with a + suffix.
const countLimit = 1000

func countLabel(n int) string {
	if n >= countLimit {
		return fmt.Sprintf("%d+", n)
	}
	return fmt.Sprintf("%d", n)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
