// Package config loads service configuration from command line flags and
// environment variables. Environment variables take priority over flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	defaultPort             = 8090
	defaultDataDir          = "./data"
	defaultDownloadDir      = "./downloads"
	defaultEffectsDir       = "./effects"
	defaultCatalogURL       = "https://api.quranicsoul.app/v1/tracks"
	defaultMediaBaseURL     = "https://cdn.quranicsoul.app/audio"
	defaultLogLevel         = "info"
	defaultAdInterval       = 5
	defaultEntitlementWait  = 2 * time.Second
	defaultDebounceWindow   = 100 * time.Millisecond
	defaultReconcileEvery   = 5 * time.Second
	defaultRetryDelay       = 2 * time.Second
	defaultDownloadTimeout  = 10 * time.Minute
	defaultCatalogTimeout   = 15 * time.Second
)

// Config holds all tunables for the playback service.
type Config struct {
	Port        int
	DataDir     string // badger database location
	DownloadDir string // downloaded recitation files
	EffectsDir  string // bundled ambient effect files

	CatalogURL     string
	CatalogTimeout time.Duration

	// MediaBaseURL is the base URL for recitation audio files.
	MediaBaseURL string

	// PlatformStoreURL is the purchase store bridge; empty means the bridge
	// is unavailable and the cached entitlement tier is kept.
	PlatformStoreURL string

	// AdMediatorURL is the ad mediation bridge; empty disables interstitial
	// trigger delivery.
	AdMediatorURL string

	LogLevel  string
	SentryDSN string

	// AdInterval is the number of track starts between interstitial triggers
	// for tier-none users.
	AdInterval int

	// EntitlementWait is the wait window for a purchase store refresh.
	EntitlementWait time.Duration

	// DebounceWindow coalesces volume and pause/resume bursts.
	DebounceWindow time.Duration

	// ReconcileEvery is the interval of the ambient reconciliation pass.
	ReconcileEvery time.Duration

	// RetryDelay is the delay before the single playback retry.
	RetryDelay time.Duration

	DownloadTimeout time.Duration
}

// Load parses flags, applies environment overrides and normalizes paths.
func Load() (*Config, error) {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", defaultPort, "Port for the HTTP control API")
	flag.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "Directory for the local database")
	flag.StringVar(&cfg.DownloadDir, "download-dir", defaultDownloadDir, "Directory for downloaded recitations")
	flag.StringVar(&cfg.EffectsDir, "effects-dir", defaultEffectsDir, "Directory with ambient effect files")
	flag.StringVar(&cfg.CatalogURL, "catalog-url", defaultCatalogURL, "Remote track catalog endpoint")
	flag.StringVar(&cfg.MediaBaseURL, "media-base-url", defaultMediaBaseURL, "Base URL for recitation audio files")
	flag.StringVar(&cfg.PlatformStoreURL, "platform-store-url", "", "Purchase store bridge endpoint")
	flag.StringVar(&cfg.AdMediatorURL, "ad-mediator-url", "", "Ad mediation bridge endpoint")
	flag.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "Log level: debug, info, warn, error")
	flag.IntVar(&cfg.AdInterval, "ad-interval", defaultAdInterval, "Track starts between interstitial triggers")
	flag.DurationVar(&cfg.EntitlementWait, "entitlement-wait", defaultEntitlementWait, "Wait window for purchase store refresh")
	flag.DurationVar(&cfg.DebounceWindow, "debounce-window", defaultDebounceWindow, "Debounce window for mixer operations")
	flag.DurationVar(&cfg.ReconcileEvery, "reconcile-every", defaultReconcileEvery, "Ambient reconciliation interval")
	flag.DurationVar(&cfg.RetryDelay, "retry-delay", defaultRetryDelay, "Delay before the single playback retry")
	flag.DurationVar(&cfg.DownloadTimeout, "download-timeout", defaultDownloadTimeout, "Timeout for a single download transfer")
	flag.Parse()

	cfg.CatalogTimeout = defaultCatalogTimeout
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")

	applyEnvOverrides(cfg)

	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("cannot create directory %s: %w", dir, err)
			}
		}
	}

	var err error
	if cfg.DataDir, err = filepath.Abs(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("cannot resolve data dir: %w", err)
	}
	if cfg.DownloadDir, err = filepath.Abs(cfg.DownloadDir); err != nil {
		return nil, fmt.Errorf("cannot resolve download dir: %w", err)
	}
	if cfg.EffectsDir, err = filepath.Abs(cfg.EffectsDir); err != nil {
		return nil, fmt.Errorf("cannot resolve effects dir: %w", err)
	}

	if cfg.AdInterval < 1 {
		return nil, fmt.Errorf("ad interval must be positive, got %d", cfg.AdInterval)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		cfg.DownloadDir = v
	}
	if v := os.Getenv("EFFECTS_DIR"); v != "" {
		cfg.EffectsDir = v
	}
	if v := os.Getenv("CATALOG_URL"); v != "" {
		cfg.CatalogURL = v
	}
	if v := os.Getenv("MEDIA_BASE_URL"); v != "" {
		cfg.MediaBaseURL = v
	}
	if v := os.Getenv("PLATFORM_STORE_URL"); v != "" {
		cfg.PlatformStoreURL = v
	}
	if v := os.Getenv("AD_MEDIATOR_URL"); v != "" {
		cfg.AdMediatorURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AD_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AdInterval = n
		}
	}
	if v := os.Getenv("ENTITLEMENT_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.EntitlementWait = d
		}
	}
}

// GetEnvOrDefault returns the value of an environment variable or a default.
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
