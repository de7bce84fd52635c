package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FEATHER_DB_PATH", "FEATHER_API_LISTEN", "FEATHER_API_KEY", "FEATHER_API_ALLOW_CIDR",
		"FEATHER_AUTH_KEY", "FEATHER_RELOAD_URL", "FEATHER_RELOAD_KEY", "FEATHER_RELOAD_LISTEN",
		"FEATHER_RELOAD_TIMEOUT", "FEATHER_STORE_TIMEOUT", "FEATHER_AUTO_RELOAD",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.APIListenAddr != defaultAPIListenAddr {
		t.Fatalf("unexpected listen addr %q", cfg.APIListenAddr)
	}
	if !strings.HasSuffix(cfg.DatabasePath, filepath.Join(".feather", "state.db")) || strings.HasPrefix(cfg.DatabasePath, "~") {
		t.Fatalf("db path not expanded: %q", cfg.DatabasePath)
	}
	if cfg.StoreTimeout != defaultStoreTimeout || cfg.ReloadTimeout != defaultReloadTimeout || cfg.AutoReload {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEATHER_API_LISTEN", "0.0.0.0:9000")
	t.Setenv("FEATHER_API_ALLOW_CIDR", "10.0.0.0/8, 127.0.0.1/32")
	t.Setenv("FEATHER_STORE_TIMEOUT", "750ms")
	t.Setenv("FEATHER_AUTO_RELOAD", "true")
	t.Setenv("FEATHER_RELOAD_URL", "http://127.0.0.1:9901")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.APIListenAddr != "0.0.0.0:9000" || len(cfg.APIAllowCIDRs) != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.StoreTimeout != 750*time.Millisecond || !cfg.AutoReload || cfg.ReloadURL == "" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	for key, value := range map[string]string{
		"FEATHER_API_ALLOW_CIDR": "10.0.0.0/33",
		"FEATHER_STORE_TIMEOUT":  "soon",
		"FEATHER_AUTO_RELOAD":    "maybe",
		"FEATHER_API_LISTEN":     "no-port",
		"FEATHER_RELOAD_TIMEOUT": "-1s",
	} {
		clearEnv(t)
		t.Setenv(key, value)
		if _, err := FromEnv(); err == nil {
			t.Fatalf("%s=%s: expected error", key, value)
		}
	}
}

func TestLoadReadsDotenv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("FEATHER_AUTH_KEY")
	path := filepath.Join(t.TempDir(), "feather.env")
	if err := os.WriteFile(path, []byte("FEATHER_AUTH_KEY=from-file\nFEATHER_API_KEY=k\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("FEATHER_AUTH_KEY") })

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthKey != "from-file" {
		t.Fatalf("dotenv value not loaded: %+v", cfg)
	}
	// Already-set variables win.
	if cfg.APIKey != "" {
		t.Fatalf("expected pre-set FEATHER_API_KEY to win, got %q", cfg.APIKey)
	}
}
