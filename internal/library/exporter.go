// Package library mirrors the local game catalog and its media folders to
// the insights server.
package library

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ChamsBouzaiene/gamesync/internal/catalog"
	"github.com/ChamsBouzaiene/gamesync/internal/hashing"
	"github.com/ChamsBouzaiene/gamesync/internal/remote"
)

// ErrManifestUnavailable is returned when a pass needs the server manifest
// and cannot get it. Nothing is sent in that case.
var ErrManifestUnavailable = errors.New("library manifest unavailable")

// Remote is the part of the server client the exporter uses. Each call is
// one attempt.
type Remote interface {
	GetManifest(ctx context.Context) (*remote.Manifest, error)
	PostJSON(ctx context.Context, endpoint string, payload any) error
	PostMultipart(ctx context.Context, endpoint string, fields []remote.FormField, files []remote.FilePart) error
}

// Exporter reconciles the catalog with the server.
type Exporter struct {
	catalog  catalog.Reader
	remote   Remote
	hasher   *hashing.Hasher
	mediaDir string
	progress ProgressReporter
}

// NewExporter creates an exporter. mediaDir holds one folder per game id.
// A nil hasher uses the default media ignore patterns and a nil progress
// reporter discards progress. It panics when catalog or client is nil.
func NewExporter(games catalog.Reader, client Remote, hasher *hashing.Hasher, mediaDir string, progress ProgressReporter) *Exporter {
	if games == nil {
		panic("library: nil catalog")
	}
	if client == nil {
		panic("library: nil remote client")
	}
	if hasher == nil {
		hasher = hashing.NewHasher(hashing.DefaultMediaIgnorePatterns)
	}
	if progress == nil {
		progress = NopProgress{}
	}
	return &Exporter{
		catalog:  games,
		remote:   client,
		hasher:   hasher,
		mediaDir: mediaDir,
		progress: progress,
	}
}

// SyncOption supplies one of the three change sets explicitly. Sets that are
// not supplied are derived from the catalog and the manifest.
type SyncOption func(*syncRequest)

type syncRequest struct {
	added, updated       []catalog.Game
	removed              []string
	hasAdded, hasUpdated bool
	hasRemoved           bool
}

func (r syncRequest) allExplicit() bool {
	return r.hasAdded && r.hasUpdated && r.hasRemoved
}

// WithAdded sends games as additions. An empty call means "add nothing".
func WithAdded(games ...catalog.Game) SyncOption {
	return func(r *syncRequest) {
		r.added = append(r.added, games...)
		r.hasAdded = true
	}
}

// WithUpdated sends games as updates. An empty call means "update nothing".
func WithUpdated(games ...catalog.Game) SyncOption {
	return func(r *syncRequest) {
		r.updated = append(r.updated, games...)
		r.hasUpdated = true
	}
}

// WithRemoved sends ids as removals. An empty call means "remove nothing".
func WithRemoved(ids ...string) SyncOption {
	return func(r *syncRequest) {
		r.removed = append(r.removed, ids...)
		r.hasRemoved = true
	}
}

// RunLibrarySync sends the library changes to the server in one command.
// The manifest is fetched once, and only when some set has to be derived.
// Nothing is sent when all three sets are empty.
func (e *Exporter) RunLibrarySync(ctx context.Context, opts ...SyncOption) error {
	var req syncRequest
	for _, opt := range opts {
		opt(&req)
	}

	e.progress.Start("Syncing library with server", 0)
	defer e.progress.Finish()

	var manifest *remote.Manifest
	if !req.allExplicit() {
		m, err := e.manifest(ctx)
		if err != nil {
			return err
		}
		manifest = m
	}

	var plan Plan
	if req.hasRemoved {
		plan.Removed = req.removed
	} else {
		ids, err := e.catalog.IDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list catalog ids: %w", err)
		}
		plan.Removed = removedIDs(manifest, ids)
	}

	if !req.hasAdded || !req.hasUpdated {
		games, err := e.catalog.All(ctx)
		if err != nil {
			return fmt.Errorf("failed to list catalog games: %w", err)
		}
		plan.Added, plan.Updated = classify(manifest, games, e.hasher)
	}
	if req.hasAdded {
		plan.Added = records(req.added, e.hasher)
	}
	if req.hasUpdated {
		plan.Updated = records(req.updated, e.hasher)
	}

	return e.send(ctx, plan)
}

// RunGameListSync sends the given games as additions or updates, skipping
// those the server already has at the same hash. It never removes anything.
func (e *Exporter) RunGameListSync(ctx context.Context, games []catalog.Game) error {
	manifest, err := e.manifest(ctx)
	if err != nil {
		return err
	}
	added, updated := classify(manifest, games, e.hasher)
	return e.send(ctx, Plan{Added: added, Updated: updated})
}

func (e *Exporter) manifest(ctx context.Context) (*remote.Manifest, error) {
	m, err := e.remote.GetManifest(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to fetch library manifest: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrManifestUnavailable, err)
	}
	return m, nil
}

func (e *Exporter) send(ctx context.Context, plan Plan) error {
	if plan.Empty() {
		log.Println("✅ Library already in sync")
		return nil
	}

	if err := e.remote.PostJSON(ctx, remote.EndpointSyncGames, plan.Command()); err != nil {
		log.Printf("❌ Library sync failed: %v", err)
		return fmt.Errorf("failed to sync library: %w", err)
	}

	log.Printf("✅ Library synced (added: %d, updated: %d, removed: %d)", len(plan.Added), len(plan.Updated), len(plan.Removed))
	return nil
}
