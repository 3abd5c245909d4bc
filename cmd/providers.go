package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/referral-engine/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers <referral-id>",
	Short: "Suggest providers for a referral's services",
	Long:  "Scores the provider network against each line item on the referral: service offered, claimant's state and zip, typical wait, and the carrier's negotiated rate. Used during care coordination to pick where an approved referral gets scheduled.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		directory, err := initProviders()
		if err != nil {
			return err
		}

		ref, err := e.Store.GetReferral(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "referral %s", args[0])
		}
		items, err := e.Store.ListLineItems(ctx, ref.ID)
		if err != nil {
			return eris.Wrapf(err, "line items for %s", ref.ID)
		}

		state := ref.AddressState
		if state == "" {
			state = ref.JurisdictionState
		}
		limit, _ := cmd.Flags().GetInt("limit")

		for _, li := range items {
			if li.ServiceType == "" {
				fmt.Printf("line %d: %s (no service type, match manually)\n", li.LineNo, li.Description)
				continue
			}
			matches := directory.FindMatches(provider.Criteria{
				ServiceType: li.ServiceType,
				State:       state,
				Zip:         ref.AddressZip,
				Carrier:     ref.Carrier,
				Limit:       limit,
			})
			fmt.Printf("line %d: %s\n", li.LineNo, li.Description)
			formatMatches(os.Stdout, matches)
		}
		return nil
	},
}

func formatMatches(out io.Writer, matches []provider.Match) {
	if len(matches) == 0 {
		_, _ = fmt.Fprintln(out, "  no matching providers")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "  PROVIDER\tCITY\tSTATE\tWAIT\tSCORE\tRATE")
	for _, m := range matches {
		wait := "-"
		if m.Provider.AvgWaitDays != nil {
			wait = fmt.Sprintf("%dd", *m.Provider.AvgWaitDays)
		}
		rate := "-"
		if m.Rate != nil {
			rate = fmt.Sprintf("$%.2f %s", m.Rate.Amount, m.Rate.Unit)
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%.0f\t%s\n",
			m.Provider.Name, m.Provider.City, m.Provider.State, wait, m.Score, rate)
	}
	_ = w.Flush()
}

func init() {
	providersCmd.Flags().Int("limit", 5, "max suggestions per line item")
	rootCmd.AddCommand(providersCmd)
}
