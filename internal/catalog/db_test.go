package catalog

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB_Pragmas(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var mode string
	if err := db.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("expected journal_mode wal, got %s", mode)
	}

	var timeout int
	if err := db.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("failed to read busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", timeout)
	}
}

func TestDB_UpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	added := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	game := Game{
		ID:          "g-1",
		Name:        "Hollow Knight",
		Genres:      []string{"Metroidvania", "Action"},
		Developers:  []string{"Team Cherry"},
		Added:       &added,
		Playtime:    3600,
		IsInstalled: true,
		Favorite:    true,
	}

	if err := db.Upsert(ctx, game); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, ok, err := db.Get(ctx, "g-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected game to exist")
	}
	if !reflect.DeepEqual(got.Genres, game.Genres) {
		t.Errorf("expected genres %v, got %v", game.Genres, got.Genres)
	}
	if got.Added == nil || !got.Added.Equal(added) {
		t.Errorf("expected added %v, got %v", added, got.Added)
	}
	if got.Platforms != nil {
		t.Errorf("expected nil platforms, got %v", got.Platforms)
	}
	if !got.IsInstalled || !got.Favorite || got.Playtime != 3600 {
		t.Errorf("unexpected scalar fields: %+v", got)
	}

	game.Name = "Hollow Knight: Voidheart"
	if err := db.Upsert(ctx, game); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	got, _, _ = db.Get(ctx, "g-1")
	if got.Name != game.Name {
		t.Errorf("expected updated name, got %q", got.Name)
	}
}

func TestDB_GetUnknown(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected unknown id to be reported as absent")
	}
}

func TestDB_ImportAndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	payload := `[{"id":"b","name":"Celeste"},{"id":"a","name":"Hades","tags":["roguelike"]}]`
	n, err := db.ImportJSON(ctx, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 games imported, got %d", n)
	}

	ids, err := db.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("expected sorted ids [a b], got %v", ids)
	}

	if err := db.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	games, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(games) != 1 || games[0].ID != "b" {
		t.Errorf("expected only game b to remain, got %+v", games)
	}
}

func TestDB_UpsertRejectsEmptyID(t *testing.T) {
	db := openTestDB(t)
	if err := db.Upsert(context.Background(), Game{Name: "no id"}); err == nil {
		t.Error("expected error for empty id")
	}
}
