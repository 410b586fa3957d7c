package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/booktalk/internal/plan"
)

func newPlansCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Show plan tiers and their session limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if asJSON {
				rows := make(map[plan.Tier]plan.Limits, len(plan.Tiers()))
				for _, t := range plan.Tiers() {
					rows[t] = plan.LimitsFor(t)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tSESSION MINUTES\tSESSIONS / MONTH")
			for _, t := range plan.Tiers() {
				l := plan.LimitsFor(t)
				perMonth := fmt.Sprint(l.MaxSessionsPerMonth)
				if l.MaxSessionsPerMonth == plan.Unlimited {
					perMonth = "unlimited"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", t, l.MaxSessionMinutes, perMonth)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print limits as JSON")

	return cmd
}
