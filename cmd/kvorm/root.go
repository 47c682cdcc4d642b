package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"kvorm/internal/config"
	"kvorm/internal/infra/archive"
	"kvorm/internal/infra/archive/core"
	"kvorm/internal/logging"
	"kvorm/internal/observability"
	"kvorm/pkg/orm"
	"kvorm/pkg/storage"
)

// options holds the global flag values.
type options struct {
	configPath string
	json       bool
	trace      bool
	metrics    bool
}

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	opts options
	root *cobra.Command
	app  *app
}

// app holds the resources opened from the configuration.
type app struct {
	cfg      config.Config
	log      logging.Logger
	store    storage.Store
	observed *observability.Store
	recorder *observability.Recorder
	gatherer *prometheus.Registry
	archive  core.Archive
	tracer   *observability.JSONTracer

	schemaOnce sync.Once
	reg        *orm.Registry
	schemaErr  error
}

// run executes one command line and releases every resource it opened.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := newCLI()
	c.root.SetArgs(args)
	c.root.SetOut(stdout)
	c.root.SetErr(stderr)
	err := c.root.ExecuteContext(ctx)
	if err == nil && c.opts.metrics && c.app != nil {
		err = printMetrics(stdout, c.app.gatherer)
	}
	return errors.Join(err, c.close())
}

func newCLI() *cli {
	c := &cli{}
	c.root = &cobra.Command{
		Use:   "kvorm",
		Short: "Inspect and maintain a kvorm key-value store",
		Long: `kvorm reads entities persisted by the kvorm mapper, checks that every
relationship has its backlink, and exports or imports whole-store snapshots.

Configuration comes from kvorm.yaml (or --config) and KVORM_* environment
variables.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.open,
	}
	flags := c.root.PersistentFlags()
	flags.StringVar(&c.opts.configPath, "config", "", "config file (default: ./kvorm.yaml when present)")
	flags.BoolVar(&c.opts.json, "json", false, "output as JSON")
	flags.BoolVar(&c.opts.trace, "trace", false, "write mapper operation spans to stderr as JSON lines")
	flags.BoolVar(&c.opts.metrics, "metrics", false, "print store and mapper metrics after the command")

	c.root.AddCommand(
		c.versionCmd(),
		c.getCmd(),
		c.verifyCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.listSnapshotsCmd(),
		c.statsCmd(),
	)
	return c
}

// open loads the configuration and opens the store and archive.
func (c *cli) open(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.Load(c.opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, gatherer: prometheus.NewRegistry()}
	c.app = a

	if a.store, err = storage.Open(cmd.Context(), cfg.Storage); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if a.observed, err = observability.InstrumentStore(a.store, a.gatherer); err != nil {
		return err
	}
	if a.recorder, err = observability.NewRecorder(a.gatherer); err != nil {
		return err
	}
	if a.archive, err = archive.Open(cmd.Context(), cfg.Archive); err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	if c.opts.trace {
		a.tracer = observability.NewJSONTracer(cmd.ErrOrStderr())
	}
	log.Debug("opened store", "driver", cfg.Storage.Driver, "archive", a.archive.Driver())
	return nil
}

func (c *cli) close() error {
	a := c.app
	if a == nil {
		return nil
	}
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.tracer != nil {
		err = errors.Join(err, a.tracer.Err())
	}
	// Sync on a terminal reports EINVAL; there is nothing to flush there.
	_ = a.log.Sync()
	return err
}

// registry decodes and finalizes the schema file once.
func (a *app) registry() (*orm.Registry, error) {
	a.schemaOnce.Do(func() {
		data, err := os.ReadFile(a.cfg.Schema)
		if err != nil {
			a.schemaErr = fmt.Errorf("read schema: %w", err)
			return
		}
		schemas, err := orm.DecodeSchemas(data)
		if err != nil {
			a.schemaErr = fmt.Errorf("%s: %w", a.cfg.Schema, err)
			return
		}
		reg := orm.NewRegistry()
		if err := reg.RegisterAll(schemas...); err != nil {
			a.schemaErr = fmt.Errorf("%s: %w", a.cfg.Schema, err)
			return
		}
		if err := reg.Finalize(); err != nil {
			a.schemaErr = fmt.Errorf("%s: %w", a.cfg.Schema, err)
			return
		}
		a.reg = reg
	})
	return a.reg, a.schemaErr
}

// mapper returns a mapper over the instrumented store.
func (a *app) mapper() (*orm.Mapper, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	opts := []orm.Option{orm.WithLogger(a.log), orm.WithMetrics(a.recorder)}
	if a.tracer != nil {
		opts = append(opts, orm.WithTracer(a.tracer))
	}
	return orm.NewMapper(a.observed, reg, opts...)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "kvorm", version)
			return err
		},
	}
}
