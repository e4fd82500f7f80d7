package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/reconcile"
)

func newVerifyCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "verify <item-id>",
		Short: "Compare an item's lifetime totals with the sums of its finer levels",
		Long: `For every lifetime aggregate of the item, sums the ytd, monthly and daily
records of the same user and kind and reports any level that disagrees
with the lifetime value. Exits non-zero when a mismatch is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(output); err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(st)

			v, err := reconcile.NewVerifier(st, a.log, nil).Verify(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == outputText {
				printVerification(cmd, v)
			} else if err := printStructured(out, output, v); err != nil {
				return err
			}
			if n := v.Mismatches(); n > 0 {
				return fmt.Errorf("%s: %d mismatched lifetime aggregates", v.ItemID, n)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, yaml or json")
	return cmd
}

func printVerification(cmd *cobra.Command, v reconcile.Verification) {
	out := cmd.OutOrStdout()
	if len(v.Findings) == 0 {
		fmt.Fprintf(out, "No lifetime aggregates for %s.\n", v.ItemID)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tKIND\tLIFETIME\tYTD\tMONTHLY\tDAILY\tMISMATCHED")
	for _, f := range v.Findings {
		mismatched := "-"
		if f.Mismatch() {
			names := make([]string, len(f.Mismatched))
			for i, g := range f.Mismatched {
				names[i] = string(g)
			}
			mismatched = strings.Join(names, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.User, f.DataKind, f.Lifetime,
			f.Totals[aggregate.YearToDate], f.Totals[aggregate.Monthly], f.Totals[aggregate.Daily],
			mismatched)
	}
	w.Flush()
}
