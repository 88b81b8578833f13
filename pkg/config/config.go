// Package config defines scribe's flat Config struct and binds it to
// CLI flags, following the teacher's cobra/pflag wiring in
// cmd/warren/main.go (persistent flags with defaults, read back via
// cmd.Flags().GetString in each RunE) rather than an env-var overlay
// library no example in the pack actually uses (see DESIGN.md).
package config

import (
	"fmt"
	"time"

	"github.com/cuemby/scribe/pkg/types"
	"github.com/spf13/pflag"
)

// StoreBackend selects which docstore.Capability provider to construct.
type StoreBackend string

const (
	BackendLocal StoreBackend = "local"
	BackendS3    StoreBackend = "s3"
)

// Config is scribe's complete runtime configuration.
type Config struct {
	LogLevel  string
	LogJSON   bool

	Backend      StoreBackend
	GlobalPrefix string

	// Local backend.
	DataDir    string
	PublicBase string

	// S3 backend.
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	CheckpointFreq     time.Duration
	GCEnabled          bool
	OutboundQueueDepth int

	AllowedAssetContentTypes []string

	ListenAddr string
}

// Default returns a Config with the same defaults cmd/scribed binds to
// its persistent flags.
func Default() Config {
	return Config{
		LogLevel:                 "info",
		Backend:                  BackendLocal,
		DataDir:                  "./data",
		PublicBase:               "http://localhost:8080/local-blob",
		S3PathStyle:              false,
		CheckpointFreq:           types.DefaultCheckpointFreq,
		GCEnabled:                true,
		OutboundQueueDepth:       types.DefaultOutboundQueueDepth,
		AllowedAssetContentTypes: []string{"image/png", "image/jpeg", "image/gif", "video/mp4", "video/webm"},
		ListenAddr:               ":8080",
	}
}

// BindFlags registers every Config field as a persistent flag on fs,
// seeded with cfg's current values as defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Output logs in JSON format")

	fs.StringVar((*string)(&cfg.Backend), "store-backend", string(cfg.Backend), "Store backend: local or s3")
	fs.StringVar(&cfg.GlobalPrefix, "store-prefix", cfg.GlobalPrefix, "Optional global key prefix applied to every store key")

	fs.StringVar(&cfg.DataDir, "local-data-dir", cfg.DataDir, "Data directory for the local store backend")
	fs.StringVar(&cfg.PublicBase, "local-public-base", cfg.PublicBase, "Public base URL for local presigned URLs")

	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket name")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3-compatible endpoint override (MinIO, R2, ...)")
	fs.BoolVar(&cfg.S3PathStyle, "s3-path-style", cfg.S3PathStyle, "Use path-style S3 addressing")

	fs.DurationVar(&cfg.CheckpointFreq, "checkpoint-freq", cfg.CheckpointFreq, "Minimum interval between persists of the same document")
	fs.BoolVar(&cfg.GCEnabled, "gc-enabled", cfg.GCEnabled, "Evict idle documents from memory")
	fs.IntVar(&cfg.OutboundQueueDepth, "outbound-queue-depth", cfg.OutboundQueueDepth, "Per-connection bounded outbound frame queue depth")

	fs.StringSliceVar(&cfg.AllowedAssetContentTypes, "allowed-asset-content-types", cfg.AllowedAssetContentTypes, "Content types permitted for asset uploads")

	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP/WebSocket listen address")
}

// Validate rejects a Config that cannot construct a working store.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.DataDir == "" {
			return fmt.Errorf("config: local-data-dir is required for the local backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: s3-bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Backend)
	}
	if c.CheckpointFreq <= 0 {
		return fmt.Errorf("config: checkpoint-freq must be positive")
	}
	return nil
}
