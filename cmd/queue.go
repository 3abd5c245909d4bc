package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and operate work queues",
}

// -- queue stats --

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pending, claimed, and overdue counts per queue",
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

		formatQueueStats(os.Stdout, stats)
		return nil
	},
}

// -- queue list --

var queueListCmd = &cobra.Command{
	Use:   "list <queue>",
	Short: "List items in a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := e.Store.GetQueue(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "queue %s", args[0])
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		items, err := e.Store.ListQueueItems(ctx, store.QueueItemFilter{
			Queue:  args[0],
			Status: model.QueueItemStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "queue list")
		}

		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No items found.")
			return nil
		}

		formatQueueItems(os.Stdout, items)
		return nil
	},
}

// -- queue claim / release / complete --

var queueClaimCmd = &cobra.Command{
	Use:   "claim <queue>",
	Short: "Claim the next pending item in a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		worker, _ := cmd.Flags().GetString("as")
		item, err := e.Queues.ClaimNext(ctx, args[0], worker)
		if err != nil {
			return eris.Wrapf(err, "claim from %s", args[0])
		}

		fmt.Printf("Claimed %s (%s %s, priority %s, due %s)\n",
			item.ID, item.Entity.Kind, item.Entity.ID, item.Priority,
			item.DueAt.Local().Format(time.RFC3339))
		return nil
	},
}

var queueReleaseCmd = &cobra.Command{
	Use:   "release <item-id>",
	Short: "Release a claimed item back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		worker, _ := cmd.Flags().GetString("as")
		reason, _ := cmd.Flags().GetString("reason")
		if err := e.Queues.Release(ctx, args[0], worker, reason); err != nil {
			return eris.Wrapf(err, "release %s", args[0])
		}

		fmt.Printf("Released %s\n", args[0])
		return nil
	},
}

var queueCompleteCmd = &cobra.Command{
	Use:   "complete <item-id>",
	Short: "Complete a claimed item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		worker, _ := cmd.Flags().GetString("as")
		if err := e.Queues.Complete(ctx, args[0], worker); err != nil {
			return eris.Wrapf(err, "complete %s", args[0])
		}

		fmt.Printf("Completed %s\n", args[0])
		return nil
	},
}

func formatQueueStats(out io.Writer, stats []model.QueueStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUEUE\tPENDING\tCLAIMED\tOVERDUE")
	_, _ = fmt.Fprintln(w, "-----\t-------\t-------\t-------")
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Claimed, s.Overdue)
	}
	_ = w.Flush()
}

func formatQueueItems(out io.Writer, items []model.QueueItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENTITY\tPRIORITY\tSTATUS\tCLAIMED_BY\tDUE\tSLA")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t------\t----------\t---\t---")
	for _, it := range items {
		sla := "ok"
		if it.Escalated {
			sla = "overdue"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(it.ID), it.Entity.Kind, truncateID(it.Entity.ID),
			it.Priority, it.Status, it.ClaimedBy,
			it.DueAt.Local().Format("2006-01-02 15:04"), sla)
	}
	_ = w.Flush()
}

// truncateID shortens UUIDs for tabular output.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	queueListCmd.Flags().String("status", "", "filter by item status (pending, claimed, completed, expired)")
	queueListCmd.Flags().Int("limit", 50, "max number of items to display")

	queueClaimCmd.Flags().String("as", "", "worker identity to claim as")
	_ = queueClaimCmd.MarkFlagRequired("as")
	queueReleaseCmd.Flags().String("as", "", "worker identity holding the claim")
	_ = queueReleaseCmd.MarkFlagRequired("as")
	queueReleaseCmd.Flags().String("reason", "", "why the item is being released")
	queueCompleteCmd.Flags().String("as", "", "worker identity holding the claim")
	_ = queueCompleteCmd.MarkFlagRequired("as")

	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClaimCmd)
	queueCmd.AddCommand(queueReleaseCmd)
	queueCmd.AddCommand(queueCompleteCmd)
	rootCmd.AddCommand(queueCmd)
}
