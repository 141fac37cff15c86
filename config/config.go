package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CacheBackendFile = "file"
	CacheBackendBolt = "bolt"

	defaultProjectID   = "forager"
	defaultLockTimeout = 60 * time.Second
)

// Config is the process level configuration, built once in main and passed
// down to the aggregator, dispatcher and discovery loop.
type Config struct {
	SettingsPath   string
	SynonymsPath   string
	CacheRoot      string
	ResultCacheDir string
	CacheBackend   string
	ProjectID      string
	LockTimeout    time.Duration
	ProxyURL       string
	LogLevel       string
	Trace          bool

	// SearxngCooldown is set when SEARXNG_COOLDOWN_SECONDS holds a valid number.
	SearxngCooldown *time.Duration
}

// Load reads the environment, after loading a .env file from the working
// directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	settingsPath := getEnv("FORAGER_SETTINGS_PATH", "setting.json")
	cacheRoot := getEnv("NEWS_SCRAPER_CACHE_DIR", os.TempDir())

	cfg := &Config{
		SettingsPath:   settingsPath,
		SynonymsPath:   getEnv("FORAGER_SYNONYMS_PATH", filepath.Join(filepath.Dir(settingsPath), "domain_synonyms.json")),
		CacheRoot:      cacheRoot,
		ResultCacheDir: getEnv("FORAGER_RESULT_CACHE_DIR", filepath.Join(cacheRoot, "forager_cache")),
		CacheBackend:   strings.ToLower(getEnv("FORAGER_CACHE_BACKEND", CacheBackendFile)),
		ProjectID:      getEnv("FORAGER_PROJECT_ID", defaultProjectID),
		ProxyURL:       os.Getenv("PROXY_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Trace:          os.Getenv("BIONIC_TRACE") == "1",
	}

	switch cfg.CacheBackend {
	case CacheBackendFile, CacheBackendBolt:
	default:
		return nil, fmt.Errorf("unknown FORAGER_CACHE_BACKEND %q", cfg.CacheBackend)
	}

	timeout, err := parseSeconds(getEnv("FORAGER_LOCK_TIMEOUT", ""), defaultLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("FORAGER_LOCK_TIMEOUT: %w", err)
	}
	cfg.LockTimeout = timeout

	if raw := os.Getenv("SEARXNG_COOLDOWN_SECONDS"); raw != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			d := SecondsToDuration(v)
			cfg.SearxngCooldown = &d
		}
	}

	return cfg, nil
}

// DispatcherPaths returns the state and lock files shared by every process
// of the same project.
func (c *Config) DispatcherPaths() (statePath, lockPath string) {
	return filepath.Join(c.CacheRoot, ".bionic_state_"+c.ProjectID),
		filepath.Join(c.CacheRoot, ".bionic_lock_"+c.ProjectID)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// parseSeconds accepts a Go duration ("90s") or a bare number of seconds.
func parseSeconds(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return SecondsToDuration(v), nil
}

// SecondsToDuration converts fractional seconds, clamping negatives to zero.
func SecondsToDuration(v float64) time.Duration {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
