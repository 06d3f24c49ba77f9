// Package runner connects host lifecycle events (game started, stopped,
// installed, library updated) to the session and library engines, and runs
// the periodic background pass.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/gamesync/internal/catalog"
	"github.com/ChamsBouzaiene/gamesync/internal/library"
)

// Sessions is the session lifecycle engine.
type Sessions interface {
	OpenSession(ctx context.Context, gameID string, now time.Time) (bool, error)
	CloseSession(ctx context.Context, gameID string, duration uint64, now time.Time) (bool, error)
	Sync(ctx context.Context, now time.Time) error
}

// Library is the library reconciliation engine.
type Library interface {
	RunLibrarySync(ctx context.Context, opts ...library.SyncOption) error
	RunMediaFilesSync(ctx context.Context, games []catalog.Game) (library.MediaReport, error)
}

// Options configures a Runner.
type Options struct {
	LibrarySyncOnUpdate bool
	MediaSyncOnUpdate   bool
	Interval            time.Duration    // Background pass period
	Now                 func() time.Time // Defaults to time.Now
}

// Runner dispatches host events and runs the background loop.
type Runner struct {
	sessions Sessions
	library  Library
	opts     Options

	passMu  sync.Mutex // One library-updated pass at a time
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runner. It panics when sessions or lib is nil.
func New(sessions Sessions, lib Library, opts Options) *Runner {
	if sessions == nil || lib == nil {
		panic("runner: nil engine")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sessions: sessions,
		library:  lib,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Runner) now() time.Time {
	return r.opts.Now().UTC()
}

func updateOnly(g catalog.Game) []library.SyncOption {
	return []library.SyncOption{library.WithAdded(), library.WithUpdated(g), library.WithRemoved()}
}

// GameStarted opens a session and pushes the game's fresh metadata.
func (r *Runner) GameStarted(ctx context.Context, g catalog.Game) error {
	var errs []error
	if _, err := r.sessions.OpenSession(ctx, g.ID, r.now()); err != nil {
		log.Printf("❌ Failed to open session for game %s: %v", g.ID, err)
		errs = append(errs, err)
	}
	if err := r.library.RunLibrarySync(ctx, updateOnly(g)...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GameStopped closes the game's session with the host-measured elapsed time
// and pushes the game's fresh metadata.
func (r *Runner) GameStopped(ctx context.Context, g catalog.Game, elapsed time.Duration) error {
	var errs []error
	seconds := uint64(0)
	if elapsed > 0 {
		seconds = uint64(elapsed / time.Second)
	}
	if _, err := r.sessions.CloseSession(ctx, g.ID, seconds, r.now()); err != nil {
		log.Printf("❌ Failed to close session for game %s: %v", g.ID, err)
		errs = append(errs, err)
	}
	if err := r.library.RunLibrarySync(ctx, updateOnly(g)...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GameInstalled pushes the game's new install state.
func (r *Runner) GameInstalled(ctx context.Context, g catalog.Game) error {
	return r.library.RunLibrarySync(ctx, updateOnly(g)...)
}

// GameUninstalled pushes the game's new install state. The game stays in
// the library.
func (r *Runner) GameUninstalled(ctx context.Context, g catalog.Game) error {
	return r.library.RunLibrarySync(ctx, updateOnly(g)...)
}

// CollectionChanged mirrors games added to or removed from the catalog.
// Media for added games is uploaded right after their metadata.
func (r *Runner) CollectionChanged(ctx context.Context, added []catalog.Game, removedIDs []string) error {
	if len(added) > 0 {
		if err := r.library.RunLibrarySync(ctx, library.WithAdded(added...), library.WithUpdated(), library.WithRemoved()); err != nil {
			return err
		}
		report, err := r.library.RunMediaFilesSync(ctx, added)
		if err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("media sync failed for %d of %d added games", report.Failed, report.Total)
		}
	}
	if len(removedIDs) > 0 {
		if err := r.library.RunLibrarySync(ctx, library.WithAdded(), library.WithUpdated(), library.WithRemoved(removedIDs...)); err != nil {
			return err
		}
	}
	return nil
}

// LibraryUpdated runs a full pass: library sync when enabled, media sync
// when enabled and the library sync succeeded, then the session sweep.
func (r *Runner) LibraryUpdated(ctx context.Context) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var errs []error
	libraryOK := false
	if r.opts.LibrarySyncOnUpdate {
		if err := r.library.RunLibrarySync(ctx); err != nil {
			log.Printf("❌ Failed to sync library: %v", err)
			errs = append(errs, err)
		} else {
			libraryOK = true
		}
	}
	if r.opts.MediaSyncOnUpdate && libraryOK {
		if _, err := r.library.RunMediaFilesSync(ctx, nil); err != nil {
			log.Printf("❌ Failed to sync media files: %v", err)
			errs = append(errs, err)
		}
	}
	if err := r.sessions.Sync(ctx, r.now()); err != nil {
		log.Printf("❌ Failed to sync sessions: %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Trigger requests a pass from the background loop. Requests made while a
// pass is queued are merged.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start begins the background loop. The first pass runs immediately.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop stops the background loop and waits for a running pass to return.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	log.Printf("🔄 Background sync started (interval: %v)", r.opts.Interval)
	r.pass()

	for {
		select {
		case <-r.ctx.Done():
			log.Println("🛑 Background sync stopped")
			return

		case <-ticker.C:
			r.pass()

		case <-r.trigger:
			r.pass()
		}
	}
}

func (r *Runner) pass() {
	if err := r.LibraryUpdated(r.ctx); err != nil && r.ctx.Err() == nil {
		log.Printf("⚠️  Background sync pass finished with errors: %v", err)
	}
}
