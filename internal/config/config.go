// Package config provides configuration management for the clipvault agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// Default values
	DefaultPort             = 8686
	DefaultLogLevel         = "info"
	DefaultDataDir          = ".clipvault"
	DefaultMediaDir         = "./media"
	DefaultCredFile         = "./credentials.json"
	DefaultLookbackHours    = 6
	DefaultLatestMaxCount   = 25
	DefaultSnapshotFilename = "last_snap.jpg"

	// Environment variable names
	EnvPort              = "CLIPVAULT_PORT"
	EnvLogLevel          = "CLIPVAULT_LOG_LEVEL"
	EnvDataDir           = "CLIPVAULT_DATA_DIR"
	EnvMediaDir          = "CLIPVAULT_MEDIA_DIR"
	EnvCredFile          = "CLIPVAULT_CRED_FILE"
	EnvLookbackHours     = "CLIPVAULT_LOOKBACK_HOURS"
	EnvLatestMaxAgeHours = "CLIPVAULT_LATEST_MAX_AGE_HOURS"
	EnvLatestMaxCount    = "CLIPVAULT_LATEST_MAX_COUNT"
	EnvSnapshotFilename  = "CLIPVAULT_SNAPSHOT_FILENAME"
	EnvHeadless          = "CLIPVAULT_HEADLESS"
	EnvBaseURL           = "CLIPVAULT_BASE_URL"

	// Database filename
	DBFilename = "clipvault.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	CredFile() string
	LookbackHours() int
	LatestMaxAgeHours() int
	LatestMaxCount() int
	SnapshotFilename() string
	Headless() bool
	BaseURL() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port              int
	logLevel          string
	dataDir           string
	mediaDir          string
	credFile          string
	lookbackHours     int
	latestMaxAgeHours int
	latestMaxCount    int
	snapshotFilename  string
	headless          bool
	baseURL           string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		mediaDir:         DefaultMediaDir,
		credFile:         DefaultCredFile,
		lookbackHours:    DefaultLookbackHours,
		latestMaxCount:   DefaultLatestMaxCount,
		snapshotFilename: DefaultSnapshotFilename,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if md := os.Getenv(EnvMediaDir); md != "" {
		cfg.mediaDir = md
	}

	if cf := os.Getenv(EnvCredFile); cf != "" {
		cfg.credFile = cf
	}

	if lb := os.Getenv(EnvLookbackHours); lb != "" {
		hours, err := strconv.Atoi(lb)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvLookbackHours, err)
		}
		if hours < 1 {
			return nil, fmt.Errorf("invalid %s: lookback must be at least 1 hour", EnvLookbackHours)
		}
		cfg.lookbackHours = hours
	}

	if ma := os.Getenv(EnvLatestMaxAgeHours); ma != "" {
		hours, err := strconv.Atoi(ma)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvLatestMaxAgeHours, err)
		}
		if hours < 0 {
			return nil, fmt.Errorf("invalid %s: max age must not be negative", EnvLatestMaxAgeHours)
		}
		cfg.latestMaxAgeHours = hours
	}

	if mc := os.Getenv(EnvLatestMaxCount); mc != "" {
		count, err := strconv.Atoi(mc)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvLatestMaxCount, err)
		}
		if count < 1 {
			return nil, fmt.Errorf("invalid %s: max count must be at least 1", EnvLatestMaxCount)
		}
		cfg.latestMaxCount = count
	}

	if sf := os.Getenv(EnvSnapshotFilename); sf != "" {
		cfg.snapshotFilename = sf
	}

	if hl := os.Getenv(EnvHeadless); hl != "" {
		headless, err := strconv.ParseBool(hl)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	cfg.baseURL = os.Getenv(EnvBaseURL)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir returns the media root directory path
func (c *EnvConfig) MediaDir() string {
	return c.mediaDir
}

// CredFile returns the camera cloud credentials file path
func (c *EnvConfig) CredFile() string {
	return c.credFile
}

// LookbackHours returns how far back the "recent clips" cutoff reaches
func (c *EnvConfig) LookbackHours() int {
	return c.lookbackHours
}

// LatestMaxAgeHours returns the age bound for the latest view.
// A positive value selects age-based pruning; zero selects count-based.
func (c *EnvConfig) LatestMaxAgeHours() int {
	return c.latestMaxAgeHours
}

// LatestMaxCount returns the entry bound for count-based pruning
func (c *EnvConfig) LatestMaxCount() int {
	return c.latestMaxCount
}

// SnapshotFilename returns the filename snapshots are saved under
func (c *EnvConfig) SnapshotFilename() string {
	return c.snapshotFilename
}

// Headless reports whether the system tray UI is disabled
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// BaseURL returns an override for the camera cloud endpoint, if any
func (c *EnvConfig) BaseURL() string {
	return c.baseURL
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
