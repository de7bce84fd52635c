package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDBPath        = "~/.feather/state.db"
	defaultAPIListenAddr = "127.0.0.1:4545"
	defaultStoreTimeout  = 5 * time.Second
	defaultReloadTimeout = 10 * time.Second
)

// ServerConfig captures the runtime configuration required by featherd.
type ServerConfig struct {
	DatabasePath  string
	APIListenAddr string
	APIKey        string
	APIAllowCIDRs []string
	// AuthKey is the master key tokens are sealed under. Empty disables
	// authentication writes.
	AuthKey string
	// ReloadURL is the data plane control endpoint. Empty means reloads are
	// published on the in-process event bus instead.
	ReloadURL string
	ReloadKey string
	// ReloadListenAddr, when set, serves a reload receiver that relays
	// requests onto the event bus.
	ReloadListenAddr string
	ReloadTimeout    time.Duration
	StoreTimeout     time.Duration
	AutoReload       bool
}

// Load reads the given dotenv files (default ".env") when they exist and
// then resolves configuration from the environment. Variables already set in
// the environment win over file values.
func Load(files ...string) (ServerConfig, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ServerConfig{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return FromEnv()
}

// FromEnv loads server configuration from environment variables, applying
// defaults when unset.
func FromEnv() (ServerConfig, error) {
	cfg := ServerConfig{
		DatabasePath:     expandPath(getenv("FEATHER_DB_PATH", defaultDBPath)),
		APIListenAddr:    strings.TrimSpace(getenv("FEATHER_API_LISTEN", defaultAPIListenAddr)),
		APIKey:           strings.TrimSpace(os.Getenv("FEATHER_API_KEY")),
		AuthKey:          os.Getenv("FEATHER_AUTH_KEY"),
		ReloadURL:        strings.TrimSpace(os.Getenv("FEATHER_RELOAD_URL")),
		ReloadKey:        strings.TrimSpace(os.Getenv("FEATHER_RELOAD_KEY")),
		ReloadListenAddr: strings.TrimSpace(os.Getenv("FEATHER_RELOAD_LISTEN")),
	}

	var err error
	if cfg.StoreTimeout, err = durationEnv("FEATHER_STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return ServerConfig{}, err
	}
	if cfg.ReloadTimeout, err = durationEnv("FEATHER_RELOAD_TIMEOUT", defaultReloadTimeout); err != nil {
		return ServerConfig{}, err
	}
	if cfg.AutoReload, err = boolEnv("FEATHER_AUTO_RELOAD", false); err != nil {
		return ServerConfig{}, err
	}

	if raw := strings.TrimSpace(os.Getenv("FEATHER_API_ALLOW_CIDR")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			cidr := strings.TrimSpace(part)
			if cidr == "" {
				continue
			}
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return ServerConfig{}, fmt.Errorf("invalid FEATHER_API_ALLOW_CIDR entry %q: %w", cidr, err)
			}
			cfg.APIAllowCIDRs = append(cfg.APIAllowCIDRs, cidr)
		}
	}

	if cfg.APIListenAddr == "" {
		return ServerConfig{}, fmt.Errorf("api listen address required")
	}
	if _, _, err := net.SplitHostPort(cfg.APIListenAddr); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid api listen address %q: %w", cfg.APIListenAddr, err)
	}
	if cfg.ReloadListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.ReloadListenAddr); err != nil {
			return ServerConfig{}, fmt.Errorf("invalid reload listen address %q: %w", cfg.ReloadListenAddr, err)
		}
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
