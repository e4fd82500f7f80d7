package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mkultr4/fix-item-duplicates/api"
	"github.com/mkultr4/fix-item-duplicates/batch"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port      string
		scenarios bool
		origins   []string
		interval  time.Duration
		live      bool
		confirm   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and metrics, optionally running on a schedule",
		Long: `Serves /api (pairs, runs, item aggregates and verification), /metrics
and /healthz. With --interval the runner also fires on a ticker; scheduled
runs are dry unless --live --confirm ` + batch.ConfirmPhrase + ` is given.

--scenarios mounts /api/scenarios, which can reset the store. Never
enable it against production data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			if live && confirm != batch.ConfirmPhrase {
				return batch.ErrNotConfirmed
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

			h := api.NewHandler(st, runner, a.log)
			h.Gatherer = a.registry
			router := api.NewRouter(h, api.RouterOptions{Scenarios: scenarios, AllowedOrigins: origins})

			sched := api.NewRunScheduler(runner, a.log)
			sched.Interval = interval
			sched.Options = batch.Options{DryRun: !live, Confirm: confirm}
			sched.Start()
			defer sched.Stop()

			server := &http.Server{
				Addr:         a.cfg.Address(),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			return serve(server, a.log, scenarios)
		},
	}

	f := cmd.Flags()
	f.StringVar(&port, "port", "", "listen port (overrides PORT)")
	f.BoolVar(&scenarios, "scenarios", false, "mount the scenario load/reset endpoints")
	f.StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origins")
	f.DurationVar(&interval, "interval", 0, "run on this interval (0 disables the scheduler)")
	f.BoolVar(&live, "live", false, "scheduled runs write to the store")
	f.StringVar(&confirm, "confirm", "", "must be "+batch.ConfirmPhrase+" with --live")
	return cmd
}

// serve runs server until SIGINT or SIGTERM, then drains for up to 30s.
func serve(server *http.Server, log logrus.FieldLogger, scenarios bool) error {
	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":      server.Addr,
			"scenarios": scenarios,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}
