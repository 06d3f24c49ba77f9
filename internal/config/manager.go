package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/gamesync/internal/hashing"
	"github.com/ChamsBouzaiene/gamesync/internal/session"
	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration written as text ("48h", "30s") in both the
// config file and the environment.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SessionConfig tunes the session store and lifecycle.
type SessionConfig struct {
	InProgressSuffix  string   `json:"in_progress_suffix,omitempty" env:"IN_PROGRESS_SUFFIX"`
	CompletedSuffix   string   `json:"completed_suffix,omitempty" env:"COMPLETED_SUFFIX"`
	StaleSuffix       string   `json:"stale_suffix,omitempty" env:"STALE_SUFFIX"`
	Extension         string   `json:"extension,omitempty"`
	Retention         Duration `json:"retention,omitempty" env:"RETENTION"`                     // Undelivered terminal records are dropped after this
	StaleAfter        Duration `json:"stale_after,omitempty" env:"STALE_AFTER"`                 // Sweep marks in-progress records stale after this
	SameSessionWindow Duration `json:"same_session_window,omitempty" env:"SAME_SESSION_WINDOW"` // Reopen within this closes the old record with a duration
}

// Config holds the user's persistent configuration. Environment variables
// override values from the file.
type Config struct {
	ServerURL           string        `json:"server_url,omitempty" env:"GAMESYNC_SERVER_URL"`
	APIToken            string        `json:"api_token,omitempty" env:"GAMESYNC_API_TOKEN"`
	CatalogDB           string        `json:"catalog_db,omitempty" env:"GAMESYNC_CATALOG_DB"`     // sqlite catalog path
	MediaDir            string        `json:"media_dir,omitempty" env:"GAMESYNC_MEDIA_DIR"`       // One folder per game id
	SessionsDir         string        `json:"sessions_dir,omitempty" env:"GAMESYNC_SESSIONS_DIR"` // Pending session records
	SyncInterval        Duration      `json:"sync_interval,omitempty" env:"GAMESYNC_SYNC_INTERVAL"`
	HTTPTimeout         Duration      `json:"http_timeout,omitempty" env:"GAMESYNC_HTTP_TIMEOUT"`
	LibrarySyncOnUpdate bool          `json:"library_sync_on_update" env:"GAMESYNC_LIBRARY_SYNC_ON_UPDATE"`
	MediaSyncOnUpdate   bool          `json:"media_sync_on_update" env:"GAMESYNC_MEDIA_SYNC_ON_UPDATE"`
	MediaIgnore         []string      `json:"media_ignore,omitempty" env:"GAMESYNC_MEDIA_IGNORE" envSeparator:","`
	Sessions            SessionConfig `json:"sessions" envPrefix:"GAMESYNC_SESSION_"`
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir  string
	configPath string
}

// NewManager creates a configuration manager. An empty path selects
// config.json under the user config directory.
func NewManager(path string) (*Manager, error) {
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		return &Manager{configDir: filepath.Dir(abs), configPath: abs}, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}

	dir := filepath.Join(configDir, "gamesync")
	return &Manager{
		configDir:  dir,
		configPath: filepath.Join(dir, "config.json"),
	}, nil
}

// GetConfigPath returns the absolute path to the config file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Default returns the configuration used when nothing is set. Data paths
// live next to the config file.
func (m *Manager) Default() *Config {
	def := session.DefaultPolicy()
	naming := session.DefaultNaming()
	return &Config{
		CatalogDB:           filepath.Join(m.configDir, "catalog.db"),
		MediaDir:            filepath.Join(m.configDir, "media"),
		SessionsDir:         filepath.Join(m.configDir, "sessions"),
		SyncInterval:        Duration(15 * time.Minute),
		HTTPTimeout:         Duration(30 * time.Second),
		LibrarySyncOnUpdate: true,
		MediaSyncOnUpdate:   true,
		MediaIgnore:         append([]string(nil), hashing.DefaultMediaIgnorePatterns...),
		Sessions: SessionConfig{
			InProgressSuffix:  naming.InProgressSuffix,
			CompletedSuffix:   naming.CompletedSuffix,
			StaleSuffix:       naming.StaleSuffix,
			Extension:         naming.Extension,
			Retention:         Duration(def.Retention),
			StaleAfter:        Duration(def.StaleAfter),
			SameSessionWindow: Duration(def.SameSessionWindow),
		},
	}
}

// Load reads the configuration from disk and applies environment
// overrides. A missing file yields the defaults.
func (m *Manager) Load() (*Config, error) {
	cfg := m.Default()

	data, err := os.ReadFile(m.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config json: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config env: %w", err)
	}

	m.fillDefaults(cfg)
	return cfg, nil
}

// fillDefaults restores defaults for values blanked out by the file.
func (m *Manager) fillDefaults(cfg *Config) {
	def := m.Default()
	setString := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	setDuration := func(v *Duration, d Duration) {
		if *v == 0 {
			*v = d
		}
	}

	setString(&cfg.CatalogDB, def.CatalogDB)
	setString(&cfg.MediaDir, def.MediaDir)
	setString(&cfg.SessionsDir, def.SessionsDir)
	setString(&cfg.Sessions.InProgressSuffix, def.Sessions.InProgressSuffix)
	setString(&cfg.Sessions.CompletedSuffix, def.Sessions.CompletedSuffix)
	setString(&cfg.Sessions.StaleSuffix, def.Sessions.StaleSuffix)
	setString(&cfg.Sessions.Extension, def.Sessions.Extension)
	setDuration(&cfg.SyncInterval, def.SyncInterval)
	setDuration(&cfg.HTTPTimeout, def.HTTPTimeout)
	setDuration(&cfg.Sessions.Retention, def.Sessions.Retention)
	setDuration(&cfg.Sessions.StaleAfter, def.Sessions.StaleAfter)
	setDuration(&cfg.Sessions.SameSessionWindow, def.Sessions.SameSessionWindow)
	if cfg.MediaIgnore == nil {
		cfg.MediaIgnore = def.MediaIgnore
	}
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	// Ensure directory exists
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file carries the API token.
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return !os.IsNotExist(err)
}

// Validate reports settings no engine can run with.
func (c *Config) Validate() error {
	var problems []string

	if c.ServerURL == "" {
		problems = append(problems, "server_url is required (or set GAMESYNC_SERVER_URL)")
	} else if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("server_url %q must be an http(s) URL", c.ServerURL))
	}
	if c.CatalogDB == "" {
		problems = append(problems, "catalog_db is required")
	}
	if c.MediaDir == "" {
		problems = append(problems, "media_dir is required")
	}
	if c.SessionsDir == "" {
		problems = append(problems, "sessions_dir is required")
	}
	if c.SyncInterval <= 0 {
		problems = append(problems, "sync_interval must be positive")
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "http_timeout must be positive")
	}

	s := c.Sessions
	if s.Retention <= 0 || s.StaleAfter <= 0 || s.SameSessionWindow <= 0 {
		problems = append(problems, "session thresholds must be positive")
	}
	suffixes := map[string]bool{}
	for _, suffix := range []string{s.InProgressSuffix, s.CompletedSuffix, s.StaleSuffix} {
		if suffix == "" || suffixes[suffix] {
			problems = append(problems, "session suffixes must be non-empty and distinct")
			break
		}
		suffixes[suffix] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SessionPolicy returns the lifecycle thresholds.
func (c *Config) SessionPolicy() session.Policy {
	return session.Policy{
		SameSessionWindow: c.Sessions.SameSessionWindow.Std(),
		StaleAfter:        c.Sessions.StaleAfter.Std(),
		Retention:         c.Sessions.Retention.Std(),
	}
}

// SessionNaming returns the session file-name conventions.
func (c *Config) SessionNaming() session.Naming {
	return session.Naming{
		InProgressSuffix: c.Sessions.InProgressSuffix,
		CompletedSuffix:  c.Sessions.CompletedSuffix,
		StaleSuffix:      c.Sessions.StaleSuffix,
		Extension:        c.Sessions.Extension,
	}
}
