package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Naming holds the file-name conventions of the sessions directory. File
// names only locate and deduplicate records; the status is read from the
// record itself.
type Naming struct {
	InProgressSuffix string
	CompletedSuffix  string
	StaleSuffix      string
	Extension        string
}

// DefaultNaming returns the stock suffixes.
func DefaultNaming() Naming {
	return Naming{
		InProgressSuffix: "-in-progress",
		CompletedSuffix:  "-completed",
		StaleSuffix:      "-stale",
		Extension:        ".json",
	}
}

// Entry is one file found by Scan. Exactly one of Session and Err is set.
type Entry struct {
	Path    string
	Session *Session
	Err     error
}

// Store persists session records, one JSON file per record.
type Store struct {
	dir    string
	naming Naming
}

// NewStore creates the sessions directory if needed.
func NewStore(dir string, naming Naming) (*Store, error) {
	if dir == "" {
		return nil, errors.New("sessions directory must not be empty")
	}
	if naming.Extension == "" {
		naming.Extension = ".json"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Store{dir: dir, naming: naming}, nil
}

// Dir returns the sessions directory.
func (s *Store) Dir() string {
	return s.dir
}

// InProgressPath is the slot of the single active session of a game.
func (s *Store) InProgressPath(gameID string) (string, error) {
	if err := checkKey(gameID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, gameID+s.naming.InProgressSuffix+s.naming.Extension), nil
}

// TerminalPath is the pending-retry slot of a complete or stale session.
func (s *Store) TerminalPath(sess Session) (string, error) {
	if err := checkKey(sess.SessionID); err != nil {
		return "", err
	}
	suffix := s.naming.CompletedSuffix
	if sess.Status == StatusStale {
		suffix = s.naming.StaleSuffix
	}
	return filepath.Join(s.dir, sess.SessionID+suffix+s.naming.Extension), nil
}

// LoadInProgress returns the in-progress record of gameID, or nil when there
// is none. A record that fails to decode yields ErrCorruptRecord along with
// its path so the caller can remove it.
func (s *Store) LoadInProgress(gameID string) (*Session, string, error) {
	path, err := s.InProgressPath(gameID)
	if err != nil {
		return nil, "", err
	}
	sess, err := s.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, path, nil
	}
	return sess, path, err
}

// Load reads and validates the record at path.
func (s *Store) Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sess, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// SaveInProgress writes the in-progress slot of the session's game.
func (s *Store) SaveInProgress(sess Session) error {
	path, err := s.InProgressPath(sess.GameID)
	if err != nil {
		return err
	}
	return s.write(path, sess)
}

// SaveTerminal writes the pending-retry slot of a complete or stale session
// and returns its path.
func (s *Store) SaveTerminal(sess Session) (string, error) {
	if !sess.Terminal() {
		return "", fmt.Errorf("session %s is not terminal (status %q)", sess.SessionID, sess.Status)
	}
	path, err := s.TerminalPath(sess)
	if err != nil {
		return "", err
	}
	return path, s.write(path, sess)
}

// Remove deletes a record file. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// Scan returns every record file in the directory, sorted by path. Files
// that cannot be decoded are returned with Err set.
func (s *Store) Scan() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, s.naming.Extension) {
			continue
		}
		path := filepath.Join(s.dir, name)
		sess, err := s.Load(path)
		if errors.Is(err, os.ErrNotExist) {
			continue // removed since listing
		}
		if err != nil {
			entries = append(entries, Entry{Path: path, Err: err})
			continue
		}
		entries = append(entries, Entry{Path: path, Session: sess})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// List returns the decoded records whose in-file status is one of statuses.
// With no statuses, every valid record is returned.
func (s *Store) List(statuses ...Status) ([]Session, error) {
	entries, err := s.Scan()
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, e := range entries {
		if e.Session == nil {
			continue
		}
		if len(statuses) == 0 || containsStatus(statuses, e.Session.Status) {
			out = append(out, *e.Session)
		}
	}
	return out, nil
}

// write replaces path atomically so a crash never leaves a half-written record.
func (s *Store) write(path string, sess Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move session file into place: %w", err)
	}
	return nil
}

// checkKey rejects ids that would escape the sessions directory.
func checkKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid session file key %q", key)
	}
	return nil
}

func containsStatus(statuses []Status, s Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
