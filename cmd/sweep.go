package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim stale claims, flag overdue items, and settle timed-out submissions",
	Long:  "Releases queue claims on items past their due time, marks pending items past their SLA as overdue, and completes submitted referrals whose confirmation window has elapsed. Intended to run on a schedule.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Queues.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep queues")
		}

		completed, err := e.Engine.CompleteStale(ctx)
		if err != nil {
			return eris.Wrap(err, "complete stale submissions")
		}

		zap.L().Info("sweep finished",
			zap.Int("reclaimed", len(result.Reclaimed)),
			zap.Int("escalated", len(result.Escalated)),
			zap.Int("completed", len(completed)))
		fmt.Printf("Reclaimed %d stale claims, escalated %d overdue items, completed %d timed-out submissions.\n",
			len(result.Reclaimed), len(result.Escalated), len(completed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
