package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func TestLoadDefaults(t *testing.T) {
	m := newTestManager(t)

	if m.Exists() {
		t.Fatal("Expected no config file yet")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	dir := filepath.Dir(m.GetConfigPath())
	if cfg.SessionsDir != filepath.Join(dir, "sessions") {
		t.Errorf("Unexpected sessions dir %s", cfg.SessionsDir)
	}
	if cfg.Sessions.Retention.Std() != 14*24*time.Hour {
		t.Errorf("Expected 14 day retention, got %v", cfg.Sessions.Retention.Std())
	}
	if cfg.Sessions.StaleAfter.Std() != 48*time.Hour {
		t.Errorf("Expected 48h stale threshold, got %v", cfg.Sessions.StaleAfter.Std())
	}
	if cfg.Sessions.SameSessionWindow.Std() != 3*time.Hour {
		t.Errorf("Expected 3h same-session window, got %v", cfg.Sessions.SameSessionWindow.Std())
	}
	naming := cfg.SessionNaming()
	if naming.InProgressSuffix != "-in-progress" || naming.CompletedSuffix != "-completed" || naming.StaleSuffix != "-stale" {
		t.Errorf("Unexpected naming %+v", naming)
	}
	if !cfg.LibrarySyncOnUpdate || !cfg.MediaSyncOnUpdate {
		t.Error("Expected update hooks to be enabled by default")
	}
}

func TestSaveAndLoad(t *testing.T) {
	m := newTestManager(t)

	cfg := m.Default()
	cfg.ServerURL = "http://localhost:3000"
	cfg.APIToken = "secret"
	cfg.MediaSyncOnUpdate = false
	cfg.Sessions.StaleAfter = Duration(24 * time.Hour)

	if err := m.Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}
	data, _ := os.ReadFile(m.GetConfigPath())
	if !strings.Contains(string(data), `"stale_after": "24h0m0s"`) {
		t.Errorf("Expected durations written as text, got %s", data)
	}

	loaded, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ServerURL != cfg.ServerURL || loaded.APIToken != "secret" {
		t.Errorf("Unexpected loaded config %+v", loaded)
	}
	if loaded.MediaSyncOnUpdate {
		t.Error("Expected media sync on update to stay disabled")
	}
	if loaded.Sessions.StaleAfter.Std() != 24*time.Hour {
		t.Errorf("Expected 24h, got %v", loaded.Sessions.StaleAfter.Std())
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	m := newTestManager(t)
	content := `{"server_url": "https://insights.example.com", "sessions": {"retention": "72h", "stale_suffix": ""}}`
	if err := os.WriteFile(m.GetConfigPath(), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sessions.Retention.Std() != 72*time.Hour {
		t.Errorf("Expected 72h retention, got %v", cfg.Sessions.Retention.Std())
	}
	if cfg.Sessions.StaleAfter.Std() != 48*time.Hour {
		t.Errorf("Expected default stale threshold, got %v", cfg.Sessions.StaleAfter.Std())
	}
	if cfg.Sessions.StaleSuffix != "-stale" {
		t.Errorf("Expected blank suffix to fall back to default, got %q", cfg.Sessions.StaleSuffix)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	m := newTestManager(t)
	if err := os.WriteFile(m.GetConfigPath(), []byte(`{"server_url": "http://file:1", "media_sync_on_update": true}`), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GAMESYNC_SERVER_URL", "http://env:2")
	t.Setenv("GAMESYNC_MEDIA_SYNC_ON_UPDATE", "false")
	t.Setenv("GAMESYNC_SYNC_INTERVAL", "5m")
	t.Setenv("GAMESYNC_MEDIA_IGNORE", "*.bak,*.tmp")
	t.Setenv("GAMESYNC_SESSION_STALE_AFTER", "12h")
	t.Setenv("GAMESYNC_SESSION_COMPLETED_SUFFIX", "-done")

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "http://env:2" {
		t.Errorf("Expected env server url, got %s", cfg.ServerURL)
	}
	if cfg.MediaSyncOnUpdate {
		t.Error("Expected env to disable media sync on update")
	}
	if cfg.SyncInterval.Std() != 5*time.Minute {
		t.Errorf("Expected 5m interval, got %v", cfg.SyncInterval.Std())
	}
	if len(cfg.MediaIgnore) != 2 || cfg.MediaIgnore[0] != "*.bak" {
		t.Errorf("Unexpected ignore patterns %v", cfg.MediaIgnore)
	}
	if cfg.SessionPolicy().StaleAfter != 12*time.Hour {
		t.Errorf("Expected 12h, got %v", cfg.SessionPolicy().StaleAfter)
	}
	if cfg.SessionNaming().CompletedSuffix != "-done" {
		t.Errorf("Expected -done, got %s", cfg.SessionNaming().CompletedSuffix)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{"bad json", `{"server_url": `, nil},
		{"bad duration in file", `{"sync_interval": "soon"}`, nil},
		{"bad duration in env", `{}`, map[string]string{"GAMESYNC_HTTP_TIMEOUT": "fast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			if err := os.WriteFile(m.GetConfigPath(), []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := m.Load(); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing server", func(c *Config) { c.ServerURL = "" }, "server_url is required"},
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://x" }, "http(s) URL"},
		{"no sessions dir", func(c *Config) { c.SessionsDir = "" }, "sessions_dir"},
		{"same suffixes", func(c *Config) { c.Sessions.StaleSuffix = c.Sessions.CompletedSuffix }, "distinct"},
		{"zero threshold", func(c *Config) { c.Sessions.Retention = 0 }, "thresholds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := m.Default()
			cfg.ServerURL = "http://localhost:3000"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
