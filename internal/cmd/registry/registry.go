// Package registry parses registry command flags and composes the service
// entrypoint.
package registry

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/perennial-labs/giftsync/internal/platform/cmd"
	server "github.com/perennial-labs/giftsync/internal/services/registry/app"
)

// Config holds registry command configuration.
type Config struct {
	HTTPAddr           string        `env:"GIFTSYNC_REGISTRY_HTTP_ADDR"       envDefault:":8087"`
	StoragePath        string        `env:"GIFTSYNC_REGISTRY_DB_PATH"         envDefault:"registry.db"`
	SessionIdleTimeout time.Duration `env:"GIFTSYNC_REGISTRY_SESSION_IDLE"    envDefault:"60s"`
	AllowOverfunding   bool          `env:"GIFTSYNC_REGISTRY_ALLOW_OVERFUND"  envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "registry HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "db-path", cfg.StoragePath, "registry SQLite database path")
	fs.DurationVar(&cfg.SessionIdleTimeout, "session-idle", cfg.SessionIdleTimeout, "viewer session idle timeout")
	fs.BoolVar(&cfg.AllowOverfunding, "allow-overfund", cfg.AllowOverfunding, "accept contributions past an item's funding target")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the registry app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRegistry, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:           cfg.HTTPAddr,
			StoragePath:        cfg.StoragePath,
			SessionIdleTimeout: cfg.SessionIdleTimeout,
			AllowOverfunding:   cfg.AllowOverfunding,
		}); err != nil {
			return fmt.Errorf("serve registry: %w", err)
		}
		return nil
	})
}
