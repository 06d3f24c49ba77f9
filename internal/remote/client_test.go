package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/gamesync/internal/remote"
	"github.com/ChamsBouzaiene/gamesync/internal/remote/remotetest"
)

func TestGetManifest(t *testing.T) {
	srv := remotetest.New()
	srv.SetGame("a", "hash-a")
	srv.SetMedia("a", "media-a")
	ts := srv.Start()
	defer ts.Close()

	client := remote.NewClient(ts.Client(), ts.URL+"/", "")
	m, err := client.GetManifest(context.Background())
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if hash, ok := m.GameHash("a"); !ok || hash != "hash-a" {
		t.Errorf("expected game hash hash-a, got %q (found=%v)", hash, ok)
	}
	if hash, ok := m.MediaHash("a"); !ok || hash != "media-a" {
		t.Errorf("expected media hash media-a, got %q (found=%v)", hash, ok)
	}
	if m.TotalGamesInLibrary == nil || *m.TotalGamesInLibrary != 1 {
		t.Errorf("expected total of 1, got %v", m.TotalGamesInLibrary)
	}
}

func TestGetManifest_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantErr: remote.ErrUnauthorized,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"gamesInLibrary": [`))
			},
		},
		{
			name: "schema violation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"gamesInLibrary": [{"contentHash": "x"}]}`))
			},
		},
		{
			name: "games list of wrong type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"gamesInLibrary": {"a": "x"}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			m, err := remote.NewClient(ts.Client(), ts.URL, "").GetManifest(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if m != nil {
				t.Errorf("expected nil manifest, got %+v", m)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetManifest_EmptyLibrary(t *testing.T) {
	bodies := []string{
		`{}`,
		`{"mediaExistsFor": []}`,
		`{"gamesInLibrary": null, "mediaExistsFor": null}`,
		`{"totalGamesInLibrary": 0, "gamesInLibrary": [], "mediaExistsFor": []}`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer ts.Close()

			m, err := remote.NewClient(ts.Client(), ts.URL, "").GetManifest(context.Background())
			if err != nil {
				t.Fatalf("expected an empty library to be accepted, got %v", err)
			}
			if len(m.GamesInLibrary) != 0 || len(m.MediaExistsFor) != 0 {
				t.Errorf("expected empty lists, got %+v", m)
			}
			if _, ok := m.GameHash("a"); ok {
				t.Error("expected no games in an empty manifest")
			}
		})
	}
}

func TestGetManifest_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	if _, err := remote.NewClient(nil, url, "").GetManifest(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestNoServerURL(t *testing.T) {
	client := remote.NewClient(nil, "  ", "")
	err := client.PostJSON(context.Background(), remote.EndpointSyncGames, remote.NewSyncCommand(nil, nil, nil))
	if !errors.Is(err, remote.ErrNoServerURL) {
		t.Errorf("expected ErrNoServerURL, got %v", err)
	}
}

func TestPostJSON_Headers(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client := remote.NewClient(ts.Client(), ts.URL, "secret")
	if err := client.PostJSON(context.Background(), remote.EndpointSyncGames, remote.NewSyncCommand(nil, nil, nil)); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if got.Get("Authorization") != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", got.Get("Authorization"))
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("expected json content type, got %q", got.Get("Content-Type"))
	}
	if got.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if got.Get("Origin") != ts.URL {
		t.Errorf("expected origin %s, got %q", ts.URL, got.Get("Origin"))
	}
}

func TestPostJSON_StatusError(t *testing.T) {
	srv := remotetest.New()
	srv.SetFailing(remote.EndpointSyncGames, true)
	ts := srv.Start()
	defer ts.Close()

	err := remote.NewClient(ts.Client(), ts.URL, "").PostJSON(context.Background(), remote.EndpointSyncGames, remote.NewSyncCommand(nil, nil, nil))
	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", statusErr.StatusCode)
	}
}

func TestPostMultipart(t *testing.T) {
	srv := remotetest.New()
	srv.SetGame("g1", "meta")
	ts := srv.Start()
	defer ts.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	client := remote.NewClient(ts.Client(), ts.URL, "")
	err := client.PostMultipart(context.Background(), remote.EndpointSyncFiles,
		[]remote.FormField{{Name: remote.FieldGameID, Value: "g1"}, {Name: remote.FieldContentHash, Value: "media-hash"}},
		[]remote.FilePart{{FileName: "cover.jpg", Path: filepath.Join(dir, "cover.jpg")}},
	)
	if err != nil {
		t.Fatalf("PostMultipart failed: %v", err)
	}

	uploads := srv.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(uploads))
	}
	if string(uploads[0].Files["cover.jpg"]) != "jpeg-bytes" {
		t.Errorf("unexpected file content %q", uploads[0].Files["cover.jpg"])
	}
	m := srv.Manifest()
	if hash, _ := m.MediaHash("g1"); hash != "media-hash" {
		t.Errorf("expected media hash to be recorded, got %q", hash)
	}
}

func TestPostMultipart_MissingFile(t *testing.T) {
	srv := remotetest.New()
	srv.SetGame("g1", "meta")
	ts := srv.Start()
	defer ts.Close()

	client := remote.NewClient(ts.Client(), ts.URL, "")
	err := client.PostMultipart(context.Background(), remote.EndpointSyncFiles,
		[]remote.FormField{{Name: remote.FieldGameID, Value: "g1"}, {Name: remote.FieldContentHash, Value: "h"}},
		[]remote.FilePart{{FileName: "gone.png", Path: filepath.Join(t.TempDir(), "gone.png")}},
	)
	if err == nil {
		t.Fatal("expected error when a media file cannot be opened")
	}
	if len(srv.Uploads()) != 0 {
		t.Error("expected no upload to be recorded")
	}
}

func TestSyncCommandNormalizesNilLists(t *testing.T) {
	cmd := remote.NewSyncCommand(nil, nil, nil)
	if cmd.AddedItems == nil || cmd.RemovedItems == nil || cmd.UpdatedItems == nil {
		t.Fatal("expected nil lists to be normalized to empty lists")
	}
	if !cmd.Empty() {
		t.Error("expected command to be empty")
	}
}

func TestManifestIndex(t *testing.T) {
	m := &remote.Manifest{
		GamesInLibrary: []remote.ManifestEntry{
			{GameID: "a", ContentHash: "hash-a"},
			{GameID: "b", ContentHash: "hash-b"},
			{GameID: "a", ContentHash: "dup"},
		},
		MediaExistsFor: []remote.ManifestEntry{{GameID: "b", ContentHash: "media-b"}},
	}
	idx := m.Index()

	for _, id := range []string{"a", "b", "c"} {
		wantHash, wantOK := m.GameHash(id)
		if hash, ok := idx.GameHash(id); hash != wantHash || ok != wantOK {
			t.Errorf("GameHash(%s): index gave %q/%v, manifest gave %q/%v", id, hash, ok, wantHash, wantOK)
		}
		wantHash, wantOK = m.MediaHash(id)
		if hash, ok := idx.MediaHash(id); hash != wantHash || ok != wantOK {
			t.Errorf("MediaHash(%s): index gave %q/%v, manifest gave %q/%v", id, hash, ok, wantHash, wantOK)
		}
	}

	var none *remote.Manifest
	if _, ok := none.Index().GameHash("a"); ok {
		t.Error("expected an empty index for a nil manifest")
	}
}
