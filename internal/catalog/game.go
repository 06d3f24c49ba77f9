package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Game is one catalog entry as exported by the host library.
type Game struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Platforms        []string   `json:"platforms,omitempty"`
	Genres           []string   `json:"genres,omitempty"`
	Developers       []string   `json:"developers,omitempty"`
	Publishers       []string   `json:"publishers,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Categories       []string   `json:"categories,omitempty"`
	Features         []string   `json:"features,omitempty"`
	ReleaseDate      *time.Time `json:"releaseDate,omitempty"`
	Playtime         uint64     `json:"playtime"` // seconds
	PlayCount        uint64     `json:"playCount"`
	LastActivity     *time.Time `json:"lastActivity,omitempty"`
	Added            *time.Time `json:"added,omitempty"`
	InstallDirectory string     `json:"installDirectory,omitempty"`
	IsInstalled      bool       `json:"isInstalled"`
	BackgroundImage  string     `json:"backgroundImage,omitempty"`
	CoverImage       string     `json:"coverImage,omitempty"`
	Icon             string     `json:"icon,omitempty"`
	Description      string     `json:"description,omitempty"`
	CompletionStatus string     `json:"completionStatus,omitempty"`
	Hidden           bool       `json:"hidden"`
	Version          string     `json:"version,omitempty"`

	// Favorite is a host UI flag. It is not exported to the server.
	Favorite bool `json:"favorite"`
}

// Reader is the read-only view of the host catalog the sync engines depend on.
type Reader interface {
	// IDs returns the ids of every game currently in the catalog.
	IDs(ctx context.Context) ([]string, error)
	// All returns every game in the catalog.
	All(ctx context.Context) ([]Game, error)
	// Get returns a single game; the bool is false when the id is unknown.
	Get(ctx context.Context, id string) (Game, bool, error)
}

// Memory is an in-memory catalog, safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	games map[string]Game
}

// NewMemory creates a catalog holding the given games.
func NewMemory(games ...Game) *Memory {
	m := &Memory{games: make(map[string]Game, len(games))}
	for _, g := range games {
		m.games[g.ID] = g
	}
	return m
}

// Put inserts or replaces a game.
func (m *Memory) Put(g Game) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
}

// Remove deletes a game by id.
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, id)
}

func (m *Memory) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.games))
	for id := range m.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) All(ctx context.Context) ([]Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	games := make([]Game, 0, len(m.games))
	for _, g := range m.games {
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })
	return games, nil
}

func (m *Memory) Get(ctx context.Context, id string) (Game, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	return g, ok, nil
}
