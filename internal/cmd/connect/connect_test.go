package connect

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8086" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.CatalogURL != "" {
		t.Fatalf("expected empty catalog url, got %q", cfg.CatalogURL)
	}
	if cfg.PresenceTTL != 90*time.Second {
		t.Fatalf("expected default presence ttl, got %s", cfg.PresenceTTL)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("HEALTHPULSE_CONNECT_HTTP_ADDR", "env-connect")
	t.Setenv("HEALTHPULSE_CONNECT_CATALOG_URL", "http://env-catalog")
	t.Setenv("HEALTHPULSE_CONNECT_PRESENCE_TTL", "45s")

	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-connect",
		"-catalog-path", "flag.db",
		"-presence-ttl", "30s",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-connect" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.CatalogURL != "http://env-catalog" {
		t.Fatalf("expected env catalog url, got %q", cfg.CatalogURL)
	}
	if cfg.CatalogPath != "flag.db" {
		t.Fatalf("expected flag catalog path, got %q", cfg.CatalogPath)
	}
	if cfg.PresenceTTL != 30*time.Second {
		t.Fatalf("expected flag presence ttl, got %s", cfg.PresenceTTL)
	}
}
