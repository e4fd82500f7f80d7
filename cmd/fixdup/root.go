package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mkultr4/fix-item-duplicates/aggregate/store"
	"github.com/mkultr4/fix-item-duplicates/api"
	"github.com/mkultr4/fix-item-duplicates/batch"
	"github.com/mkultr4/fix-item-duplicates/config"
	"github.com/mkultr4/fix-item-duplicates/lock"
	"github.com/mkultr4/fix-item-duplicates/metrics"
	"github.com/mkultr4/fix-item-duplicates/report"
	"github.com/mkultr4/fix-item-duplicates/store/mongo"
	"github.com/mkultr4/fix-item-duplicates/store/sqlite"
)

// connectTimeout bounds store and lock connection at startup.
const connectTimeout = 15 * time.Second

// app is the state shared by every subcommand once configuration is loaded.
type app struct {
	cfg      config.Config
	log      *logrus.Logger
	registry *prometheus.Registry

	// set by flags, applied over cfg in PersistentPreRunE
	flags struct {
		store, sqlitePath, mongoURL, database string
		reportDir, reportFormat              string
		logLevel                             string
		limit                                int
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "fixdup",
		Short:        "Merge duplicated items and reconcile their POS aggregates",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.store, "store", "", "store backend: memory, sqlite or mongo")
	pf.StringVar(&a.flags.sqlitePath, "sqlite-path", "", "SQLite database path")
	pf.StringVar(&a.flags.mongoURL, "mongo-url", "", "MongoDB connection string")
	pf.StringVar(&a.flags.database, "database", "", "MongoDB database name")
	pf.StringVar(&a.flags.reportDir, "report-dir", "", "directory for findings reports")
	pf.StringVar(&a.flags.reportFormat, "report-format", "", "findings report format: text or yaml")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level")
	pf.IntVar(&a.flags.limit, "limit", 0, "duplicate groups examined per run (0 = all)")

	root.AddCommand(
		newLocateCmd(a),
		newRunCmd(a),
		newVerifyCmd(a),
		newSeedCmd(a),
		newServeCmd(a),
	)
	return root
}

// configure loads the environment, applies changed flags and validates.
func (a *app) configure(cmd *cobra.Command) error {
	cfg := config.Load()
	flags := cmd.Flags()
	override := func(name string, dst *string, val string) {
		if flags.Changed(name) {
			*dst = val
		}
	}
	override("store", &cfg.Store, a.flags.store)
	override("sqlite-path", &cfg.SQLitePath, a.flags.sqlitePath)
	override("mongo-url", &cfg.MongoURL, a.flags.mongoURL)
	override("database", &cfg.DatabaseName, a.flags.database)
	override("report-dir", &cfg.ReportDir, a.flags.reportDir)
	override("report-format", &cfg.ReportFormat, a.flags.reportFormat)
	override("log-level", &cfg.LogLevel, a.flags.logLevel)
	if flags.Changed("limit") {
		cfg.PairLimit = a.flags.limit
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	log.SetOutput(cmd.ErrOrStderr())

	a.cfg = cfg
	a.log = log
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return nil
}

// openStore connects the configured backend.
func (a *app) openStore(ctx context.Context) (api.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch a.cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreSQLite:
		st, err := sqlite.New(a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreMongo:
		st, err := mongo.New(ctx, mongo.Options{URL: a.cfg.MongoURL, Database: a.cfg.DatabaseName})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

// closeStore releases backends that hold connections.
func (a *app) closeStore(st api.Store) {
	if err := st.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close store")
	}
}

// openLocker returns a Redis locker when REDIS_ADDR is set. The returned
// close func is never nil.
func (a *app) openLocker(ctx context.Context) (lock.Locker, func() error, error) {
	if a.cfg.RedisAddr == "" {
		return lock.Noop{}, func() error { return nil }, nil
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	r, err := lock.NewRedis(ctx, lock.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
		TTL:      a.cfg.LockTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

// newRunner wires a runner over st with locking, reporting and metrics.
func (a *app) newRunner(ctx context.Context, st api.Store) (*batch.Runner, func() error, error) {
	locker, closeLock, err := a.openLocker(ctx)
	if err != nil {
		return nil, nil, err
	}
	reporter, err := report.New(a.cfg.ReportFormat, a.cfg.ReportDir)
	if err != nil {
		closeLock()
		return nil, nil, err
	}

	r := batch.NewRunner(st, a.log)
	r.Locker = locker
	r.Reporter = reporter
	r.Metrics = metrics.New(a.registry)
	r.Limit = a.cfg.PairLimit
	return r, closeLock, nil
}
