package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mkultr4/fix-item-duplicates/batch"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		dryRun  bool
		confirm string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process duplicate pairs",
		Long: `Locates duplicate pairs and, for each, repoints check items, reconciles
aggregates, merges list fields and deletes the duplicate item.

By default nothing is written: every pair is staged in memory and the
resulting report is printed. A live run needs --dry-run=false and
--confirm ` + batch.ConfirmPhrase + `.`,
		Args: cobra.NoArgs,
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

			runner, closeLock, err := a.newRunner(ctx, st)
			if err != nil {
				return err
			}
			defer closeLock()

			res, err := runner.Run(ctx, batch.Options{DryRun: dryRun, Confirm: confirm})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == outputText {
				printRunResult(out, res)
			} else if err := printStructured(out, output, res); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d pairs failed", res.Failed, len(res.Pairs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "stage every pair in memory and write nothing")
	cmd.Flags().StringVar(&confirm, "confirm", "", "must be "+batch.ConfirmPhrase+" for a live run")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, yaml or json")
	return cmd
}

func printRunResult(out io.Writer, res batch.RunResult) {
	mode := "live"
	if res.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "Run %s (%s)\n\n", res.RunID, mode)

	if len(res.Pairs) == 0 {
		fmt.Fprintln(out, "No duplicate pairs found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORIGINAL\tDUPLICATE\tOUTCOME\tCHECK ITEMS\tMERGED\tREPOINTED\tRETIRED\tMISMATCHES")
	for _, p := range res.Pairs {
		outcome := p.Outcome
		if p.FailedStep != "" {
			outcome = fmt.Sprintf("%s (%s)", p.Outcome, p.FailedStep)
		}
		ops := p.Aggregates.Total()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			p.Pair.OriginalID, p.Pair.DuplicateID, outcome,
			p.CheckItems.Modified, ops.Merged, ops.Repointed, ops.Retired,
			p.Verification.Mismatches())
	}
	w.Flush()

	fmt.Fprintf(out, "\nReconciled: %d  Failed: %d  Skipped: %d  Mismatches: %d\n",
		res.Reconciled, res.Failed, res.Skipped, res.Mismatches)
	for _, p := range res.Pairs {
		if p.Error != "" {
			fmt.Fprintf(out, "  %s: %s\n", p.Pair, p.Error)
		}
	}
}
