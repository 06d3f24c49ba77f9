package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/gamesync/internal/catalog"
	"github.com/ChamsBouzaiene/gamesync/internal/config"
	"github.com/ChamsBouzaiene/gamesync/internal/hashing"
	"github.com/ChamsBouzaiene/gamesync/internal/library"
	"github.com/ChamsBouzaiene/gamesync/internal/remote"
	"github.com/ChamsBouzaiene/gamesync/internal/runner"
	"github.com/ChamsBouzaiene/gamesync/internal/session"
)

type runtimeEnv struct {
	ConfigPath string
	Config     *config.Config
	Catalog    *catalog.DB
	Client     *remote.Client
	Sessions   *session.Service
	Exporter   *library.Exporter
}

func (r *runtimeEnv) Close() {
	if r.Catalog != nil {
		if err := r.Catalog.Close(); err != nil {
			log.Printf("⚠️  Failed to close catalog: %v", err)
		}
	}
}

// Runner builds the host-event dispatcher over the engines.
func (r *runtimeEnv) Runner() *runner.Runner {
	return runner.New(r.Sessions, r.Exporter, runner.Options{
		LibrarySyncOnUpdate: r.Config.LibrarySyncOnUpdate,
		MediaSyncOnUpdate:   r.Config.MediaSyncOnUpdate,
		Interval:            r.Config.SyncInterval.Std(),
	})
}

func loadConfig(configPath string) (*config.Config, string, error) {
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg, err := cfgManager.Load()
	if err != nil {
		return nil, "", err
	}
	if cfgManager.Exists() {
		log.Printf("User config loaded from: %s", cfgManager.GetConfigPath())
	}
	return cfg, cfgManager.GetConfigPath(), nil
}

// prepareRuntimeEnv loads the configuration and builds every engine. When
// needServer is false a missing server URL is tolerated (local-only commands).
func prepareRuntimeEnv(ctx context.Context, configPath string, needServer bool) (*runtimeEnv, error) {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if needServer {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CatalogDB), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	db, err := catalog.OpenDB(ctx, cfg.CatalogDB)
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(cfg.SessionsDir, cfg.SessionNaming())
	if err != nil {
		db.Close()
		return nil, err
	}

	client := remote.NewClient(&http.Client{Timeout: cfg.HTTPTimeout.Std()}, cfg.ServerURL, cfg.APIToken)
	hasher := hashing.NewHasher(cfg.MediaIgnore)

	return &runtimeEnv{
		ConfigPath: path,
		Config:     cfg,
		Catalog:    db,
		Client:     client,
		Sessions:   session.NewService(store, client, cfg.SessionPolicy()),
		Exporter:   library.NewExporter(db, client, hasher, cfg.MediaDir, library.NewLogProgress()),
	}, nil
}
