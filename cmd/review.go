package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work referrals through human review",
	Long:  "Commands for claiming, inspecting, correcting, and resolving referrals in the intake review queue.",
}

// -- review claim --

var reviewClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the next referral awaiting review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		actor, _ := cmd.Flags().GetString("as")
		r, item, err := e.Engine.ClaimIntake(ctx, actor)
		if err != nil {
			return eris.Wrap(err, "claim intake")
		}

		fmt.Printf("Claimed item %s\n\n", item.ID)
		return printReferral(ctx, os.Stdout, e.Store, r)
	},
}

// -- review show --

var reviewShowCmd = &cobra.Command{
	Use:   "show <referral-id>",
	Short: "Show a referral with its line items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		r, err := e.Store.GetReferral(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "referral %s", args[0])
		}
		return printReferral(ctx, os.Stdout, e.Store, r)
	},
}

// -- review list --

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List referrals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		claim, _ := cmd.Flags().GetString("claim-number")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ReferralFilter{
			Status:      model.ReferralStatus(status),
			Priority:    model.Priority(priority),
			ClaimNumber: claim,
			Limit:       limit,
		}
		if needsReview, _ := cmd.Flags().GetBool("needs-review"); needsReview {
			t := true
			filter.NeedsReview = &t
		}

		referrals, err := e.Store.ListReferrals(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "review list")
		}

		if len(referrals) == 0 {
			fmt.Fprintln(os.Stderr, "No referrals found.")
			return nil
		}

		formatReferrals(os.Stdout, referrals)
		return nil
	},
}

// -- review edit / approve / reject / request-info / reopen --

var reviewEditCmd = &cobra.Command{
	Use:   "edit <referral-id> <field> <value>",
	Short: "Correct one referral field",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		actor, _ := cmd.Flags().GetString("as")
		if err := e.Engine.EditField(ctx, args[0], args[1], args[2], actor); err != nil {
			return eris.Wrapf(err, "edit %s", args[0])
		}

		fmt.Printf("Updated %s on %s\n", args[1], args[0])
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <referral-id>",
	Short: "Approve a reviewed referral for care coordination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		actor, _ := cmd.Flags().GetString("as")
		if err := e.Engine.Approve(ctx, args[0], actor); err != nil {
			return eris.Wrapf(err, "approve %s", args[0])
		}

		fmt.Printf("Approved %s\n", args[0])
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <referral-id>",
	Short: "Terminally reject a referral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		actor, _ := cmd.Flags().GetString("as")
		reason, _ := cmd.Flags().GetString("reason")
		if err := e.Engine.Reject(ctx, args[0], reason, actor); err != nil {
			return eris.Wrapf(err, "reject %s", args[0])
		}

		fmt.Printf("Rejected %s\n", args[0])
		return nil
	},
}

var reviewRequestInfoCmd = &cobra.Command{
	Use:   "request-info <referral-id>",
	Short: "Park a referral while waiting on the adjuster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		actor, _ := cmd.Flags().GetString("as")
		replyRef, _ := cmd.Flags().GetString("reply-ref")
		if err := e.Engine.RequestInfo(ctx, args[0], replyRef, actor); err != nil {
			return eris.Wrapf(err, "request info on %s", args[0])
		}

		fmt.Printf("Parked %s pending more information\n", args[0])
		return nil
	},
}

var reviewReopenCmd = &cobra.Command{
	Use:   "reopen <referral-id>",
	Short: "Return a parked referral to review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		actor, _ := cmd.Flags().GetString("as")
		if err := e.Engine.Reopen(ctx, args[0], actor); err != nil {
			return eris.Wrapf(err, "reopen %s", args[0])
		}

		fmt.Printf("Reopened %s\n", args[0])
		return nil
	},
}

// printReferral writes the referral and its line items as indented JSON.
func printReferral(ctx context.Context, out io.Writer, st store.Store, r *model.Referral) error {
	items, err := st.ListLineItems(ctx, r.ID)
	if err != nil {
		return eris.Wrapf(err, "line items for %s", r.ID)
	}

	detail := struct {
		*model.Referral
		LineItems []model.LineItem `json:"line_items"`
	}{Referral: r, LineItems: items}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(detail)
}

func formatReferrals(out io.Writer, referrals []model.Referral) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCLAIM\tCLAIMANT\tCARRIER\tSTATUS\tPRIORITY\tFLAGS")
	_, _ = fmt.Fprintln(w, "--\t-----\t--------\t-------\t------\t--------\t-----")
	for i := range referrals {
		r := &referrals[i]
		flags := ""
		if r.NeedsReview {
			flags = "needs-review"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), r.ClaimNumber, r.ClaimantName(), r.Carrier,
			r.Status, r.Priority, flags)
	}
	_ = w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{reviewClaimCmd, reviewEditCmd, reviewApproveCmd, reviewRejectCmd, reviewRequestInfoCmd, reviewReopenCmd} {
		c.Flags().String("as", "", "reviewer identity recorded on audit entries")
		_ = c.MarkFlagRequired("as")
	}
	reviewRejectCmd.Flags().String("reason", "", "why the referral is rejected")
	_ = reviewRejectCmd.MarkFlagRequired("reason")
	reviewRequestInfoCmd.Flags().String("reply-ref", "", "reference to the outbound reply sent to the adjuster")
	_ = reviewRequestInfoCmd.MarkFlagRequired("reply-ref")

	reviewListCmd.Flags().String("status", "", "filter by referral status (pending, in_review, needs_info, approved, submitted, completed, rejected)")
	reviewListCmd.Flags().String("priority", "", "filter by priority (urgent, high, medium, low)")
	reviewListCmd.Flags().String("claim-number", "", "filter by exact claim number")
	reviewListCmd.Flags().Bool("needs-review", false, "only referrals flagged for low-confidence fields")
	reviewListCmd.Flags().Int("limit", 50, "max number of referrals to display")

	reviewCmd.AddCommand(reviewClaimCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewEditCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewRequestInfoCmd)
	reviewCmd.AddCommand(reviewReopenCmd)
	rootCmd.AddCommand(reviewCmd)
}
