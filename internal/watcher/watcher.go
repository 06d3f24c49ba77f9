// Package watcher turns filesystem activity on the catalog database and the
// media folders into debounced change notifications.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Watcher watches files and directory trees and reports changed paths.
type Watcher struct {
	watcher      *fsnotify.Watcher
	onChange     func([]string) // Callback with changed paths
	debounceTime time.Duration
	ignore       *gitignore.GitIgnore

	roots []string          // Directory trees, watched recursively
	files map[string]string // Watched file -> its directory

	mu            sync.Mutex
	pendingEvents map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher over paths. A path that is a file is watched
// together with its siblings sharing its name as prefix (sqlite -wal and
// -journal files). A directory is watched with all its subdirectories.
// Base names matching ignorePatterns never trigger a change.
func New(ignorePatterns []string, paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		watcher:       fsw,
		debounceTime:  500 * time.Millisecond,
		ignore:        gitignore.CompileIgnoreLines(ignorePatterns...),
		files:         make(map[string]string),
		pendingEvents: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			cancel()
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err == nil && info.IsDir() {
			w.roots = append(w.roots, abs)
			continue
		}
		w.files[abs] = filepath.Dir(abs)
	}

	return w, nil
}

// OnChange sets the callback for changes. It runs on the watcher goroutine.
func (w *Watcher) OnChange(callback func([]string)) {
	w.onChange = callback
}

// SetDebounce changes how long events are collected before the callback runs.
// It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounceTime = d
	}
}

// Start begins watching.
func (w *Watcher) Start() error {
	for _, dir := range w.files {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	for _, root := range w.roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // Continue walking
			}
			if d.IsDir() {
				if err := w.watcher.Add(path); err != nil {
					log.Printf("⚠️  Failed to watch %s: %v", path, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop stops the watcher. Pending events are dropped.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.relevant(event.Name) {
		return
	}

	// New directories under a tree get watched too.
	if event.Has(fsnotify.Create) && w.underRoot(event.Name) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				log.Printf("⚠️  Failed to watch new directory %s: %v", event.Name, err)
			}
		}
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.pendingEvents[event.Name] = true
		w.mu.Unlock()
	}
}

// relevant reports whether a path belongs to a watched file or tree.
func (w *Watcher) relevant(path string) bool {
	if w.ignore.MatchesPath(filepath.Base(path)) {
		return false
	}
	for file, dir := range w.files {
		if filepath.Dir(path) == dir && strings.HasPrefix(filepath.Base(path), filepath.Base(file)) {
			return true
		}
	}
	return w.underRoot(path)
}

func (w *Watcher) underRoot(path string) bool {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.processPendingEvents()
		}
	}
}

func (w *Watcher) processPendingEvents() {
	w.mu.Lock()
	if len(w.pendingEvents) == 0 {
		w.mu.Unlock()
		return
	}

	paths := make([]string, 0, len(w.pendingEvents))
	for path := range w.pendingEvents {
		paths = append(paths, path)
	}
	w.pendingEvents = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(paths)
	if w.onChange != nil {
		log.Printf("📝 Watcher detected %d changed paths", len(paths))
		w.onChange(paths)
	}
}
