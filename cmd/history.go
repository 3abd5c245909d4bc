package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history <referral-id>",
	Short: "Show the audit trail for a referral",
	Long:  "Prints every recorded status change, field edit, and queue action for a referral, oldest first. Use --message to inspect a message instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		entity := model.ReferralRef(args[0])
		if isMessage, _ := cmd.Flags().GetBool("message"); isMessage {
			entity = model.MessageRef(args[0])
		}

		// Distinguish an unknown id from an empty history.
		if entity.Kind == model.EntityReferral {
			if _, err := e.Store.GetReferral(ctx, entity.ID); err != nil {
				return eris.Wrapf(err, "referral %s", entity.ID)
			}
		} else {
			if _, err := e.Store.GetMessage(ctx, entity.ID); err != nil {
				return eris.Wrapf(err, "message %s", entity.ID)
			}
		}

		entries, err := audit.History(ctx, e.Store, entity)
		if err != nil {
			return eris.Wrapf(err, "history for %s", entity.ID)
		}

		if replay, _ := cmd.Flags().GetBool("replay"); replay {
			fmt.Println(strings.Join(audit.ReplayStatus(entries), " -> "))
			return nil
		}

		formatHistory(os.Stdout, entries)
		return nil
	},
}

func formatHistory(out io.Writer, entries []model.AuditEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tWHEN\tACTION\tACTOR\tDETAIL")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t-----\t------")
	for _, e := range entries {
		detail := ""
		switch {
		case e.Field != "":
			detail = fmt.Sprintf("%s: %q -> %q", e.Field, e.OldValue, e.NewValue)
		case e.OldValue != "" || e.NewValue != "":
			detail = fmt.Sprintf("%s -> %s", e.OldValue, e.NewValue)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.Seq, e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Action, e.Actor, detail)
	}
	_ = w.Flush()
}

func init() {
	historyCmd.Flags().Bool("message", false, "treat the id as a message id")
	historyCmd.Flags().Bool("replay", false, "print only the derived status chain")
	rootCmd.AddCommand(historyCmd)
}
