// Package remotetest provides an in-process insights server that speaks the
// sync and session wire protocol. It backs the package tests and the
// `gamesync devserver` command.
package remotetest

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/gamesync/internal/remote"
	"github.com/gorilla/mux"
)

// maxUploadMemory is the in-memory budget for parsing media uploads.
const maxUploadMemory = 32 << 20

// SessionEvent is a session open/close notification as received.
type SessionEvent struct {
	SessionID    string     `json:"sessionId"`
	GameID       string     `json:"gameId"`
	Status       string     `json:"status"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Duration     *uint64    `json:"duration,omitempty"`
	ClientUtcNow time.Time  `json:"clientUtcNow"`
}

// MediaUpload is one received media upload.
type MediaUpload struct {
	GameID      string
	ContentHash string
	Files       map[string][]byte
}

// Server is a fake insights server. All methods are safe for concurrent use.
type Server struct {
	mu sync.Mutex

	games map[string]string // gameId -> metadata hash
	media map[string]string // gameId -> media hash

	commands []remote.SyncCommand
	uploads  []MediaUpload
	opened   []SessionEvent
	closed   []SessionEvent

	failing map[string]bool
	calls   map[string]int
}

// New creates an empty server.
func New() *Server {
	return &Server{
		games:   make(map[string]string),
		media:   make(map[string]string),
		failing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// Router returns the HTTP routes of the server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.countAndFail)

	api.HandleFunc("/sync/manifest", s.handleManifest).Methods(http.MethodGet)
	api.HandleFunc("/sync/games", s.handleSyncGames).Methods(http.MethodPost)
	api.HandleFunc("/sync/files", s.handleSyncFiles).Methods(http.MethodPost)
	api.HandleFunc("/session/open", s.handleSession(&s.opened)).Methods(http.MethodPost)
	api.HandleFunc("/session/close", s.handleSession(&s.closed)).Methods(http.MethodPost)
	return r
}

// Start serves the router on a local listener. The returned server must be
// closed by the caller.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.Router())
}

// SetFailing makes every request to endpoint answer 503 while failing is true.
func (s *Server) SetFailing(endpoint string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[endpoint] = failing
}

// SetGame seeds the manifest with a game hash.
func (s *Server) SetGame(gameID, contentHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[gameID] = contentHash
}

// SetMedia seeds the manifest with a media hash.
func (s *Server) SetMedia(gameID, contentHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[gameID] = contentHash
}

// Calls returns how many requests reached endpoint, failed ones included.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// Commands returns the sync commands applied so far.
func (s *Server) Commands() []remote.SyncCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.SyncCommand(nil), s.commands...)
}

// Uploads returns the media uploads received so far.
func (s *Server) Uploads() []MediaUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MediaUpload(nil), s.uploads...)
}

// Opened returns the session open events received so far.
func (s *Server) Opened() []SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionEvent(nil), s.opened...)
}

// Closed returns the session close events received so far.
func (s *Server) Closed() []SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionEvent(nil), s.closed...)
}

// Manifest returns the manifest the server would currently report.
func (s *Server) Manifest() remote.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifestLocked()
}

func (s *Server) manifestLocked() remote.Manifest {
	total := len(s.games)
	m := remote.Manifest{
		TotalGamesInLibrary: &total,
		GamesInLibrary:      entries(s.games),
		MediaExistsFor:      entries(s.media),
	}
	return m
}

func entries(m map[string]string) []remote.ManifestEntry {
	out := make([]remote.ManifestEntry, 0, len(m))
	for id, hash := range m {
		out = append(out, remote.ManifestEntry{GameID: id, ContentHash: hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

func (s *Server) countAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		failing := s.failing[r.URL.Path]
		s.mu.Unlock()

		if failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m := s.manifestLocked()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m)
}

func (s *Server) handleSyncGames(w http.ResponseWriter, r *http.Request) {
	var cmd remote.SyncCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid sync command", http.StatusBadRequest)
		return
	}
	if cmd.AddedItems == nil || cmd.RemovedItems == nil || cmd.UpdatedItems == nil {
		http.Error(w, "sync command lists must not be null", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range cmd.AddedItems {
		s.games[g.ID] = g.ContentHash
	}
	for _, g := range cmd.UpdatedItems {
		s.games[g.ID] = g.ContentHash
	}
	for _, id := range cmd.RemovedItems {
		delete(s.games, id)
		delete(s.media, id)
	}
	s.commands = append(s.commands, cmd)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSyncFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	upload := MediaUpload{
		GameID:      r.FormValue(remote.FieldGameID),
		ContentHash: r.FormValue(remote.FieldContentHash),
		Files:       make(map[string][]byte),
	}
	if upload.GameID == "" || upload.ContentHash == "" {
		http.Error(w, "gameId and contentHash are required", http.StatusBadRequest)
		return
	}
	for _, fh := range r.MultipartForm.File[remote.FieldFiles] {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "unreadable file part", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, "unreadable file part", http.StatusBadRequest)
			return
		}
		upload.Files[fh.Filename] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.games[upload.GameID]; !known {
		http.Error(w, "unknown game", http.StatusNotFound)
		return
	}
	s.media[upload.GameID] = upload.ContentHash
	s.uploads = append(s.uploads, upload)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSession(into *[]SessionEvent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev SessionEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.SessionID == "" || ev.GameID == "" {
			http.Error(w, "invalid session command", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		*into = append(*into, ev)
		s.mu.Unlock()
		log.Printf("📨 Session %s for game %s received (status %s)", ev.SessionID, ev.GameID, ev.Status)
		w.WriteHeader(http.StatusOK)
	}
}
