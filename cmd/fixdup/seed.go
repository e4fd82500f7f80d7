package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mkultr4/fix-item-duplicates/fixture"
)

func newSeedCmd(a *app) *cobra.Command {
	var (
		scenario string
		file     string
		reset    bool
		list     bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a built-in scenario or a JSON fixture into the store",
		Example: `  fixdup seed --list
  fixdup seed --scenario basic --reset
  fixdup seed --file testdata/pairs.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
				for _, s := range fixture.Scenarios() {
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
				}
				return w.Flush()
			}
			if (scenario == "") == (file == "") {
				return errors.New("exactly one of --scenario or --file is required")
			}

			var (
				f   *fixture.Fixture
				err error
			)
			if scenario != "" {
				f, err = fixture.Scenario(scenario)
			} else {
				var data []byte
				data, err = os.ReadFile(file)
				if err == nil {
					f, err = fixture.Parse(data)
				}
			}
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer a.closeStore(st)

			if reset {
				if err := st.Reset(ctx); err != nil {
					return fmt.Errorf("reset store: %w", err)
				}
			}
			if err := fixture.Load(ctx, st, f); err != nil {
				return err
			}

			a.log.WithFields(logrus.Fields{
				"items":       len(f.Items),
				"check_items": len(f.CheckItems),
				"aggregates":  len(f.Aggregates),
				"store":       a.cfg.Store,
			}).Info("Seeded store")
			fmt.Fprintf(out, "Seeded %d items, %d check items, %d aggregates\n",
				len(f.Items), len(f.CheckItems), len(f.Aggregates))
			return nil
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "built-in scenario id")
	cmd.Flags().StringVar(&file, "file", "", "JSON fixture file")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete all items, check items and aggregates first")
	cmd.Flags().BoolVar(&list, "list", false, "list built-in scenarios and exit")
	return cmd
}
