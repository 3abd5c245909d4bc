package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/referral-engine/internal/ingest"
	"github.com/sells-group/referral-engine/internal/mail"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Poll the referral mailbox and register new messages",
	Long:  "Connects to the configured IMAP mailbox, stores message bodies and attachments, and enqueues each new message for extraction. Runs until interrupted unless --once is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		blobs, err := initStorage()
		if err != nil {
			return err
		}

		box, err := mail.DialIMAP(cfg.Mail.IMAPAddr, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.Mailbox)
		if err != nil {
			return err
		}
		defer box.Close() //nolint:errcheck

		gate := ingest.NewGate(e.Store, e.Queues, e.Recorder, ingest.WithEngine(e.Engine))
		poller := ingest.NewPoller(box, e.Store, blobs, gate, cfg.Mail.Mailbox,
			ingest.WithInterval(cfg.Ingest.PollInterval),
			ingest.WithConcurrency(cfg.Ingest.Concurrency),
		)

		once, _ := cmd.Flags().GetBool("once")
		if once {
			created, err := poller.PollOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Ingested %d new messages.\n", created)
			return nil
		}

		return poller.Run(ctx)
	},
}

func init() {
	ingestCmd.Flags().Bool("once", false, "poll a single time and exit")
	rootCmd.AddCommand(ingestCmd)
}
