package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/model"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the schema and seed queues and reference data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if err := st.SeedQueues(ctx, model.DefaultQueues()); err != nil {
			return eris.Wrap(err, "seed queues")
		}

		catalog, err := initCatalog()
		if err != nil {
			return err
		}
		seeded, err := st.SeedICD10(ctx, catalog.ICD10Codes())
		if err != nil {
			return eris.Wrap(err, "seed icd10 codes")
		}

		zap.L().Info("store initialized", zap.Int64("icd10_seeded", seeded))
		fmt.Printf("Schema migrated, queues seeded, %d ICD-10 codes loaded.\n", seeded)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
