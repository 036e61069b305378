package config

import "testing"

type testEnvConfig struct {
	Addr    string `env:"GIFTSYNC_TEST_ADDR"    envDefault:":9090"`
	Storage string `env:"GIFTSYNC_TEST_STORAGE"`
}

func TestParseEnvAppliesDefaults(t *testing.T) {
	t.Setenv("GIFTSYNC_TEST_ADDR", "")
	t.Setenv("GIFTSYNC_TEST_STORAGE", "")

	var cfg testEnvConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr = %q, want default :9090", cfg.Addr)
	}
}

func TestParseEnvReadsOverrides(t *testing.T) {
	t.Setenv("GIFTSYNC_TEST_ADDR", ":7001")
	t.Setenv("GIFTSYNC_TEST_STORAGE", "/tmp/registry.db")

	var cfg testEnvConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":7001" {
		t.Fatalf("addr = %q, want :7001", cfg.Addr)
	}
	if cfg.Storage != "/tmp/registry.db" {
		t.Fatalf("storage = %q, want /tmp/registry.db", cfg.Storage)
	}
}
