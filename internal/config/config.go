package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values after load.
const (
	EnvEmail    = "SKYLIGHTCAL_EMAIL"
	EnvPassword = "SKYLIGHTCAL_PASSWORD"
	EnvFrameID  = "SKYLIGHTCAL_FRAME_ID"
)

const (
	DefaultBaseURL     = "https://app.ourskylight.com/api"
	DefaultProductID   = "-//skylight-extractor//www.icalendar.com//"
	DefaultOutput      = "calendar.ics"
	DefaultCacheDir    = "./var/cache"
	DefaultSessionFile = "./var/session.json"
	DefaultListen      = "127.0.0.1:8080"
	DefaultRefreshCron = "*/30 * * * *"
	DefaultHistoryDays = 365
	DefaultHorizonDays = 365
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the serve mode.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// BaseURL is the vendor API root, without trailing slash.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Email / Password are the account credentials. Password may be left
	// empty and supplied via SKYLIGHTCAL_PASSWORD or the login prompt.
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password,omitempty" json:"-"`

	// FrameID selects the frame whose calendar is exported.
	FrameID string `yaml:"frame_id" json:"frame_id"`

	// Timezone is the IANA zone used when normalizing recurrence UNTIL dates.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// HistoryDays / HorizonDays bound the requested window around now.
	HistoryDays int `yaml:"history_days" json:"history_days"`
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// WindowDays splits the requested range into several requests of at
	// most this many days. Zero issues a single request.
	WindowDays int `yaml:"window_days" json:"window_days"`

	// Output is the path of the exported .ics file.
	Output string `yaml:"output" json:"output"`

	// ProductID is written as the document PRODID.
	ProductID string `yaml:"product_id" json:"product_id"`

	// CacheDir holds conditional-GET metadata and cached API bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SessionFile stores the cached session (user id + token), mode 0600.
	SessionFile string `yaml:"session_file" json:"session_file"`

	// DumpDir, if set, receives the raw API response as data.json.
	DumpDir string `yaml:"dump_dir,omitempty" json:"dump_dir,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen is the HTTP listen address for serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// used for periodic re-export in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		HistoryDays: DefaultHistoryDays,
		HorizonDays: DefaultHorizonDays,
		Output:      DefaultOutput,
		ProductID:   DefaultProductID,
		CacheDir:    DefaultCacheDir,
		SessionFile: DefaultSessionFile,
		LogLevel:    "info",
		Listen:      DefaultListen,
		RefreshCron: DefaultRefreshCron,
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.HistoryDays < 0 {
		c.HistoryDays = 0
	}
	if c.HistoryDays == 0 && c.HorizonDays == 0 {
		c.HistoryDays = DefaultHistoryDays
		c.HorizonDays = DefaultHorizonDays
	}
	if c.HorizonDays < 0 {
		c.HorizonDays = 0
	}
	if c.WindowDays < 0 {
		c.WindowDays = 0
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.ProductID == "" {
		c.ProductID = DefaultProductID
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.SessionFile == "" {
		c.SessionFile = DefaultSessionFile
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// ApplyEnv overrides credentials and frame selection from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvEmail)); v != "" {
		c.Email = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFrameID)); v != "" {
		c.FrameID = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".skylightcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
