// Package connect parses connect command flags and composes transport
// entrypoints.
package connect

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/JaytirthJOSHI/HealthPulse-sub000/internal/platform/cmd"
	server "github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/app"
)

// Config holds connect command configuration.
type Config struct {
	HTTPAddr    string        `env:"HEALTHPULSE_CONNECT_HTTP_ADDR"   envDefault:":8086"`
	CatalogURL  string        `env:"HEALTHPULSE_CONNECT_CATALOG_URL"`
	CatalogPath string        `env:"HEALTHPULSE_CONNECT_CATALOG_PATH"`
	PresenceTTL time.Duration `env:"HEALTHPULSE_CONNECT_PRESENCE_TTL" envDefault:"90s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "connect HTTP listen address")
	fs.StringVar(&cfg.CatalogURL, "catalog-url", cfg.CatalogURL, "group catalog endpoint URL")
	fs.StringVar(&cfg.CatalogPath, "catalog-path", cfg.CatalogPath, "group catalog sqlite path")
	fs.DurationVar(&cfg.PresenceTTL, "presence-ttl", cfg.PresenceTTL, "presence entry time to live")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the connect app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceConnect, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:    cfg.HTTPAddr,
			CatalogURL:  cfg.CatalogURL,
			CatalogPath: cfg.CatalogPath,
			PresenceTTL: cfg.PresenceTTL,
		}); err != nil {
			return fmt.Errorf("serve connect: %w", err)
		}
		return nil
	})
}
