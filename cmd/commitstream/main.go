package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sliink/commitstream/internal/api"
	"github.com/sliink/commitstream/internal/checkpoint"
	"github.com/sliink/commitstream/internal/core"
	"github.com/sliink/commitstream/internal/logging"
	"github.com/sliink/commitstream/internal/plugin"
	"github.com/sliink/commitstream/internal/plugin/inputs"
	"github.com/sliink/commitstream/internal/plugin/outputs"
	"github.com/sliink/commitstream/internal/plugin/standard"
	pebblestore "github.com/sliink/commitstream/internal/storage/pebble"
	"github.com/sliink/commitstream/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

const serviceName = "commitstream"

var version = "dev"

const apiShutdownTimeout = 5 * time.Second

var _ api.Controller = (*core.Core)(nil)

// options holds the flags that are not configuration keys
type options struct {
	configFile string
	repo       string
	format     string
	cfg        *core.ConfigManager
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "commitstream - Stream GitHub commit history in checkpointed windows",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd.Context(), opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Path to configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("checkpoint-dir", "", "Directory of the checkpoint store; empty keeps checkpoints in memory")
	flags.Duration("checkpoint-interval", checkpoint.DefaultInterval, "Period between checkpoints")
	flags.Bool("api", false, "Enable the API server")
	flags.String("api-host", "localhost", "API server host")
	flags.Int("api-port", 8080, "API server port")
	flags.String("telemetry-endpoint", "", "OTLP HTTP endpoint for traces")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the configured sources until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd.Context(), opts)
		},
	}
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().StringVar(&opts.repo, "repo", "", "Stream a single owner/name repository to stdout")
		cmd.Flags().StringVar(&opts.format, "format", "text", "Stdout format for --repo (text, json)")
	}

	rootCmd.AddCommand(runCmd, newCheckpointCmd(opts))
	return rootCmd
}

var flagKeys = map[string]string{
	"log-level":           "log_level",
	"log-format":          "log_format",
	"checkpoint-dir":      "checkpoint.dir",
	"checkpoint-interval": "checkpoint.interval",
	"api":                 "api.enabled",
	"api-host":            "api.host",
	"api-port":            "api.port",
	"telemetry-endpoint":  "telemetry.endpoint",
}

// load reads the config file and binds the flags over it
func (o *options) load(cmd *cobra.Command) error {
	o.cfg = core.NewConfigManager()
	if o.configFile != "" {
		if err := o.cfg.LoadConfig(o.configFile); err != nil {
			return err
		}
	}
	for name, key := range flagKeys {
		if err := o.cfg.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// settings returns the validated settings. --repo declares a github_commits
// input and a stdout output when the configuration declares none.
func (o *options) settings() (core.Settings, error) {
	settings, err := o.cfg.Settings()
	if err != nil {
		return core.Settings{}, err
	}
	if o.repo != "" {
		if len(settings.Inputs) == 0 {
			settings.Inputs = []plugin.Spec{{
				ID:     "commits",
				Type:   inputs.CommitSourceType,
				Config: map[string]interface{}{"repo": o.repo},
			}}
		}
		if len(settings.Outputs) == 0 {
			settings.Outputs = []plugin.Spec{{
				ID:     "stdout",
				Type:   outputs.StdoutType,
				Config: map[string]interface{}{"format": o.format},
			}}
		}
	}
	if err := settings.Validate(); err != nil {
		return core.Settings{}, err
	}
	return settings, nil
}

// openStore opens the pebble store under dir, or a memory store when dir is
// empty. The returned func closes it.
func openStore(cs core.CheckpointSettings) (checkpoint.Store, func() error, error) {
	if cs.Dir == "" {
		return checkpoint.NewMemoryStore(), func() error { return nil }, nil
	}

	metrics, err := pebblestore.NewOTelMetrics(otel.Meter(serviceName + "/storage"))
	if err != nil {
		return nil, nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: cs.Dir,
		Fsync:   pebblestore.ParseFsyncMode(cs.Fsync),
		Metrics: metrics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return pebblestore.NewCheckpointStore(db), db.Close, nil
}

func runStream(ctx context.Context, opts *options) error {
	settings, err := opts.settings()
	if err != nil {
		return err
	}

	logger := logging.Init(settings.LogFormat, logging.ParseLevel(settings.LogLevel))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, serviceName, version, settings.Telemetry.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(settings.Checkpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close checkpoint store", "error", err)
		}
	}()

	c := core.NewCore(
		core.WithConfigManager(opts.cfg),
		core.WithStore(store),
		core.WithCheckpointInterval(settings.Checkpoint.Interval),
		core.WithLogger(logger),
	)
	if !c.Initialize() {
		return errors.New("failed to initialize core system")
	}
	if err := c.LoadPlugins(standard.NewFactory(), settings); err != nil {
		return err
	}
	if !c.Start() {
		return errors.New("failed to start core system")
	}
	logger.Info("commitstream running", "inputs", len(settings.Inputs), "checkpoint_dir", settings.Checkpoint.Dir)

	var apiServer *api.API
	if settings.API.Enabled {
		apiServer = api.NewAPI(c, settings.API.Port, settings.API.Host)
		go func() {
			logger.Info("starting API server", "addr", apiServer.Addr())
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server error", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-c.Done():
		logger.Info("all sources stopped")
	}

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		cancel()
	}

	stopped := c.Stop()
	if err := sourceErrors(c.Errors()); err != nil {
		return err
	}
	if !stopped {
		return errors.New("failed to stop core system cleanly")
	}
	return nil
}

// sourceErrors joins input errors in id order
func sourceErrors(errs map[string]error) error {
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	joined := make([]error, 0, len(ids))
	for _, id := range ids {
		joined = append(joined, fmt.Errorf("source %s: %w", id, errs[id]))
	}
	return errors.Join(joined...)
}

func newCheckpointCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset stored checkpoints",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [source...]",
		Short: "Print stored checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(opts, func(co *checkpoint.Coordinator, store *pebblestore.CheckpointStore) error {
				return showCheckpoints(cmd.Context(), cmd.OutOrStdout(), co, store, args)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <source>...",
		Short: "Delete stored checkpoints so sources restart from their start time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(opts, func(co *checkpoint.Coordinator, _ *pebblestore.CheckpointStore) error {
				for _, id := range args {
					if err := co.Reset(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", id)
				}
				return nil
			})
		},
	})

	return cmd
}

// withCoordinator opens the persistent store for offline inspection
func withCoordinator(opts *options, fn func(*checkpoint.Coordinator, *pebblestore.CheckpointStore) error) error {
	settings, err := opts.cfg.Settings()
	if err != nil {
		return err
	}
	if settings.Checkpoint.Dir == "" {
		return errors.New("no checkpoint directory configured; set checkpoint.dir or --checkpoint-dir")
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: settings.Checkpoint.Dir,
		Fsync:   pebblestore.ParseFsyncMode(settings.Checkpoint.Fsync),
	})
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer db.Close()

	store := pebblestore.NewCheckpointStore(db)
	return fn(checkpoint.NewCoordinator(store, checkpoint.WithLogger(slog.New(slog.DiscardHandler))), store)
}

func showCheckpoints(ctx context.Context, w io.Writer, co *checkpoint.Coordinator, store *pebblestore.CheckpointStore, ids []string) error {
	if len(ids) == 0 {
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		ids = keys
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "no checkpoints")
		return nil
	}
	for _, id := range ids {
		snap, err := co.Load(ctx, id)
		if errors.Is(err, checkpoint.ErrNotFound) {
			fmt.Fprintf(w, "%s\tnone\n", id)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\tv%d\t%s\n", id, snap.Version, snap.Cursor.UTC().Format(time.RFC3339Nano))
	}
	return nil
}
