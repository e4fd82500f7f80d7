package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mkultr4/fix-item-duplicates/dedupe"
)

func newLocateCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "List the duplicate pairs the next run would process",
		Args:  cobra.NoArgs,
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

			pairs, err := dedupe.NewLocator(st, a.cfg.PairLimit, a.log).Locate(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != outputText {
				return printStructured(out, output, pairs)
			}
			if len(pairs) == 0 {
				fmt.Fprintln(out, "No duplicate pairs found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORIGINAL\tDUPLICATE\tNAME\tLOCATION")
			for _, p := range pairs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.OriginalID, p.DuplicateID, p.Name, p.Location)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, yaml or json")
	return cmd
}
