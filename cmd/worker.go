package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/referral-engine/internal/enrich"
	"github.com/sells-group/referral-engine/internal/extraction"
	"github.com/sells-group/referral-engine/internal/worker"
	anthropicpkg "github.com/sells-group/referral-engine/pkg/anthropic"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the extraction worker",
	Long:  "Claims queued messages, extracts structured referral data via Claude, enriches it against the reference catalog, and creates referrals for review. Runs until interrupted unless --once is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("extract"); err != nil {
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

		catalog, err := initCatalog()
		if err != nil {
			return err
		}

		adapter := extraction.NewAdapter(
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			cfg.Anthropic.Model,
			cfg.Anthropic.MaxTokens,
			extraction.WithRateLimit(cfg.Anthropic.RateLimit),
		)

		identity, _ := cmd.Flags().GetString("identity")
		w := worker.New(e.Store, blobs, e.Queues, adapter, enrich.NewEnricher(catalog), e.Engine,
			worker.WithIdentity(identity),
			worker.WithMaxAttempts(cfg.Extraction.MaxAttempts),
			worker.WithMaxAttachments(cfg.Extraction.MaxAttachments),
		)

		once, _ := cmd.Flags().GetBool("once")
		if once {
			processed, err := w.ProcessNext(ctx)
			if err != nil {
				return err
			}
			if !processed {
				fmt.Println("Extraction queue is empty.")
			}
			return nil
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		return w.Run(ctx, interval)
	},
}

func init() {
	workerCmd.Flags().Bool("once", false, "process a single message and exit")
	workerCmd.Flags().String("identity", "extraction-worker", "worker identity recorded on claims and audit entries")
	workerCmd.Flags().Duration("interval", 5*time.Second, "idle poll interval")
	rootCmd.AddCommand(workerCmd)
}
