package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/scribe/pkg/config"
	"github.com/cuemby/scribe/pkg/docconn"
	"github.com/cuemby/scribe/pkg/docstore"
	"github.com/cuemby/scribe/pkg/dochttp"
	"github.com/cuemby/scribe/pkg/doccore"
	"github.com/cuemby/scribe/pkg/log"
	"github.com/cuemby/scribe/pkg/metrics"
	"github.com/cuemby/scribe/pkg/registry"
	"github.com/cuemby/scribe/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "scribed",
	Short: "scribed - document synchronization server",
	Long: `scribed holds live collaborative documents in memory, applies
incoming CRDT updates, and checkpoints them to a blob store, delivered
as a single binary with a pluggable local or S3 backend.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"scribed version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	config.BindFlags(rootCmd.PersistentFlags(), &cfg)
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OutboundQueueDepth > 0 {
		docconn.OutboundQueueDepth = cfg.OutboundQueueDepth
	}

	logger := log.WithComponent("scribed")

	store, localProvider, err := buildStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to build store: %w", err)
	}
	if err := store.CheckStore(ctx); err != nil {
		return fmt.Errorf("store check failed: %w", err)
	}
	logger.Info().Str("backend", string(cfg.Backend)).Msg("store ready")
	metrics.RegisterComponent("store", true, "ready")

	reg := registry.New(store, cfg.CheckpointFreq, cfg.GCEnabled)
	wireRegistryMetrics(reg)

	core := doccore.New(store, reg, doccore.Config{AllowedAssetContentTypes: cfg.AllowedAssetContentTypes})
	metrics.RegisterComponent("registry", true, "ready")

	collector := metrics.NewCollector(reg)
	collector.Start()
	defer collector.Stop()
	metrics.SetVersion(Version)

	server := dochttp.NewServer(core, localProvider)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := server.Start(ctx, cfg.ListenAddr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := core.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// buildStore constructs the docstore.Capability named by cfg.Backend,
// returning the concrete *docstore.LocalProvider too (non-nil only for
// the local backend) so dochttp can mount /local-blob.
func buildStore(ctx context.Context) (docstore.Capability, *docstore.LocalProvider, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		p, err := docstore.NewLocalProvider(docstore.LocalConfig{
			DataDir:      cfg.DataDir,
			GlobalPrefix: cfg.GlobalPrefix,
			PublicBase:   cfg.PublicBase,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case config.BackendS3:
		p, err := docstore.NewS3Provider(ctx, docstore.S3Config{
			Bucket:       cfg.S3Bucket,
			GlobalPrefix: cfg.GlobalPrefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			PathStyle:    cfg.S3PathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// wireRegistryMetrics connects the Registry's OnEvict/OnPersist hooks to
// pkg/metrics. It lives in cmd/scribed, not pkg/registry or
// pkg/docworker, because pkg/metrics already depends on *registry.Registry
// (for LiveDocCount) — wiring the dependency the other way from inside
// either package would cycle.
func wireRegistryMetrics(reg *registry.Registry) {
	reg.OnEvict = func(types.DocID) {
		metrics.GcEvictionsTotal.Inc()
	}
	reg.OnPersist = func(d time.Duration, size int, err error) {
		metrics.PersistDuration.Observe(d.Seconds())
		if err != nil {
			metrics.PersistErrorsTotal.Inc()
			return
		}
		metrics.DocumentBytes.Observe(float64(size))
	}
}
