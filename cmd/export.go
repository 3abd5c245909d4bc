package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/export"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Submit approved referrals to Salesforce",
	Long:  "Builds Salesforce payloads for approved referrals, upserts them with their line items, and marks each referral submitted. Intended to run on a schedule.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		id, _ := cmd.Flags().GetString("id")

		var referrals []model.Referral
		if id != "" {
			r, err := e.Store.GetReferral(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "referral %s", id)
			}
			if r.Status != model.ReferralStatusApproved {
				return eris.Errorf("referral %s is %s, only approved referrals export", id, r.Status)
			}
			referrals = []model.Referral{*r}
		} else {
			referrals, err = e.Store.ListReferrals(ctx, store.ReferralFilter{
				Status: model.ReferralStatusApproved,
				Limit:  limit,
			})
			if err != nil {
				return eris.Wrap(err, "list approved referrals")
			}
		}

		if len(referrals) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to export.")
			return nil
		}

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			return printPayloads(ctx, e.Store, referrals)
		}

		sfClient, err := initSalesforce()
		if err != nil {
			return err
		}
		exporter := export.NewSalesforceExporter(sfClient, cfg.Salesforce.Object)

		exported := 0
		for i := range referrals {
			r := &referrals[i]
			items, err := e.Store.ListLineItems(ctx, r.ID)
			if err != nil {
				return eris.Wrapf(err, "line items for %s", r.ID)
			}

			recordID, err := exporter.Submit(ctx, export.BuildPayload(r, items))
			if err != nil {
				zap.L().Error("export failed", zap.String("referral_id", r.ID), zap.Error(err))
				continue
			}
			if err := e.Engine.MarkSubmitted(ctx, r.ID, recordID, model.SystemActor); err != nil {
				return eris.Wrapf(err, "mark %s submitted", r.ID)
			}

			fmt.Printf("Exported %s as %s\n", r.ID, recordID)
			exported++
		}

		if exported < len(referrals) {
			return eris.Errorf("exported %d of %d referrals", exported, len(referrals))
		}
		return nil
	},
}

var exportConfirmCmd = &cobra.Command{
	Use:   "confirm <referral-id>",
	Short: "Confirm downstream processing of a submitted referral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		actor, _ := cmd.Flags().GetString("as")
		if actor == "" {
			actor = model.SystemActor
		}
		if err := e.Engine.Confirm(ctx, args[0], actor); err != nil {
			return eris.Wrapf(err, "confirm %s", args[0])
		}

		fmt.Printf("Completed %s\n", args[0])
		return nil
	},
}

func printPayloads(ctx context.Context, st store.Store, referrals []model.Referral) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for i := range referrals {
		items, err := st.ListLineItems(ctx, referrals[i].ID)
		if err != nil {
			return eris.Wrapf(err, "line items for %s", referrals[i].ID)
		}
		if err := enc.Encode(export.BuildPayload(&referrals[i], items)); err != nil {
			return eris.Wrap(err, "encode payload")
		}
	}
	return nil
}

func init() {
	exportCmd.Flags().Int("limit", 50, "max referrals to export in one run")
	exportCmd.Flags().String("id", "", "export a single referral by id")
	exportCmd.Flags().Bool("dry-run", false, "print payloads without calling Salesforce")
	exportConfirmCmd.Flags().String("as", "", "actor recorded on the audit entry (defaults to system)")
	exportCmd.AddCommand(exportConfirmCmd)
	rootCmd.AddCommand(exportCmd)
}
