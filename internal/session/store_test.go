package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), DefaultNaming())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestStore(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	sess := Session{
		SessionID: "abc123",
		GameID:    "game-1",
		Status:    StatusInProgress,
		StartTime: start,
	}

	// Test SaveInProgress
	if err := store.SaveInProgress(sess); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}

	expectedPath := filepath.Join(store.Dir(), "game-1-in-progress.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("Expected session file to exist at %s", expectedPath)
	}

	// Test LoadInProgress
	loaded, path, err := store.LoadInProgress("game-1")
	if err != nil {
		t.Fatalf("LoadInProgress failed: %v", err)
	}
	if path != expectedPath {
		t.Errorf("Expected path %s, got %s", expectedPath, path)
	}
	if loaded == nil || loaded.SessionID != sess.SessionID {
		t.Fatalf("Expected session %s, got %+v", sess.SessionID, loaded)
	}
	if !loaded.StartTime.Equal(start) {
		t.Errorf("Expected start time %v, got %v", start, loaded.StartTime)
	}

	// Test SaveTerminal
	stale := sess.stale()
	stalePath, err := store.SaveTerminal(stale)
	if err != nil {
		t.Fatalf("SaveTerminal failed: %v", err)
	}
	if filepath.Base(stalePath) != "abc123-stale.json" {
		t.Errorf("Expected stale file name, got %s", filepath.Base(stalePath))
	}

	// Test List
	list, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 sessions in list, got %d", len(list))
	}

	list, err = store.List(StatusStale)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].Status != StatusStale {
		t.Errorf("Expected 1 stale session, got %+v", list)
	}
}

func TestStoreLoadInProgressMissing(t *testing.T) {
	store := newTestStore(t)

	sess, path, err := store.LoadInProgress("nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Errorf("Expected no session, got %+v", sess)
	}
	if path == "" {
		t.Error("Expected the slot path even when the file is missing")
	}
}

func TestStoreStatusComesFromFile(t *testing.T) {
	store := newTestStore(t)

	// A complete record sitting in a file with the in-progress suffix.
	data := `{"sessionId":"s1","gameId":"g1","status":"complete","startTime":"2024-03-01T18:00:00Z","endTime":"2024-03-01T19:00:00Z","duration":3600}`
	path := filepath.Join(store.Dir(), "g1-in-progress.json")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(StatusInProgress)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no in-progress sessions, got %d", len(list))
	}

	list, err = store.List(StatusComplete)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 complete session, got %d", len(list))
	}
	if list[0].Duration == nil || *list[0].Duration != 3600 {
		t.Errorf("Expected duration 3600, got %v", list[0].Duration)
	}
}

func TestStoreScanReportsCorruptFiles(t *testing.T) {
	store := newTestStore(t)

	files := map[string]string{
		"broken-in-progress.json": `{"sessionId":`,
		"bogus-completed.json":    `{"sessionId":"s","gameId":"g","status":"bogus","startTime":"2024-03-01T18:00:00Z"}`,
		"nodate-stale.json":       `{"sessionId":"s","gameId":"g","status":"stale"}`,
		"notes.txt":               `ignored`,
		".session-123.tmp":        `ignored`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(store.Dir(), name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Err == nil {
			t.Errorf("Expected %s to be reported as corrupt", e.Path)
			continue
		}
		if !errors.Is(e.Err, ErrCorruptRecord) {
			t.Errorf("Expected ErrCorruptRecord for %s, got %v", e.Path, e.Err)
		}
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := store.InProgressPath(id); err == nil {
			t.Errorf("Expected error for game id %q", id)
		}
	}

	if _, err := store.SaveTerminal(Session{SessionID: "s", GameID: "g", Status: StatusInProgress, StartTime: time.Now()}); err == nil {
		t.Error("Expected SaveTerminal to reject an in-progress session")
	}
}

func TestStoreRemoveMissing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Remove(filepath.Join(store.Dir(), "missing.json")); err != nil {
		t.Errorf("Expected no error removing a missing file, got %v", err)
	}
}
