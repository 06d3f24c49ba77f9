package remote

import "time"

// Endpoints, relative to the configured server URL.
const (
	EndpointSyncGames    = "/api/sync/games"
	EndpointSyncFiles    = "/api/sync/files"
	EndpointManifest     = "/api/sync/manifest"
	EndpointOpenSession  = "/api/session/open"
	EndpointCloseSession = "/api/session/close"
)

// Multipart field names of the media upload.
const (
	FieldGameID      = "gameId"
	FieldContentHash = "contentHash"
	FieldFiles       = "files"
)

// ManifestEntry pairs a game id with a content hash.
type ManifestEntry struct {
	GameID      string `json:"gameId"`
	ContentHash string `json:"contentHash"`
}

// Manifest is the server's view of what it already has.
type Manifest struct {
	TotalGamesInLibrary *int            `json:"totalGamesInLibrary,omitempty"`
	GamesInLibrary      []ManifestEntry `json:"gamesInLibrary"`
	MediaExistsFor      []ManifestEntry `json:"mediaExistsFor"`
}

// GameHash returns the metadata hash the server holds for gameID.
func (m *Manifest) GameHash(gameID string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, e := range m.GamesInLibrary {
		if e.GameID == gameID {
			return e.ContentHash, true
		}
	}
	return "", false
}

// MediaHash returns the media hash the server holds for gameID.
func (m *Manifest) MediaHash(gameID string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, e := range m.MediaExistsFor {
		if e.GameID == gameID {
			return e.ContentHash, true
		}
	}
	return "", false
}

// ManifestIndex is a manifest keyed by game id. Build it once per pass when
// many games are looked up.
type ManifestIndex struct {
	games map[string]string
	media map[string]string
}

// Index builds the lookup maps for m. A nil manifest yields an empty index.
// When an id repeats, the first entry wins, as with GameHash and MediaHash.
func (m *Manifest) Index() *ManifestIndex {
	idx := &ManifestIndex{games: map[string]string{}, media: map[string]string{}}
	if m == nil {
		return idx
	}
	idx.games = indexEntries(m.GamesInLibrary)
	idx.media = indexEntries(m.MediaExistsFor)
	return idx
}

func indexEntries(entries []ManifestEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if _, seen := out[e.GameID]; !seen {
			out[e.GameID] = e.ContentHash
		}
	}
	return out
}

// GameHash returns the metadata hash the server holds for gameID.
func (x *ManifestIndex) GameHash(gameID string) (string, bool) {
	h, ok := x.games[gameID]
	return h, ok
}

// MediaHash returns the media hash the server holds for gameID.
func (x *ManifestIndex) MediaHash(gameID string) (string, bool) {
	h, ok := x.media[gameID]
	return h, ok
}

// GameRecord is the exported snapshot of one catalog entry.
type GameRecord struct {
	ID               string     `json:"Id"`
	Name             string     `json:"Name"`
	Platforms        []string   `json:"Platforms"`
	Genres           []string   `json:"Genres"`
	Developers       []string   `json:"Developers"`
	Publishers       []string   `json:"Publishers"`
	ReleaseDate      *time.Time `json:"ReleaseDate"`
	Playtime         uint64     `json:"Playtime"`
	LastActivity     *time.Time `json:"LastActivity"`
	Added            *time.Time `json:"Added"`
	InstallDirectory string     `json:"InstallDirectory"`
	IsInstalled      bool       `json:"IsInstalled"`
	BackgroundImage  string     `json:"BackgroundImage"`
	CoverImage       string     `json:"CoverImage"`
	Icon             string     `json:"Icon"`
	Description      string     `json:"Description"`
	ContentHash      string     `json:"ContentHash"`
}

// SyncCommand is the single batched library update sent per pass.
type SyncCommand struct {
	AddedItems   []GameRecord `json:"AddedItems"`
	RemovedItems []string     `json:"RemovedItems"`
	UpdatedItems []GameRecord `json:"UpdatedItems"`
}

// NewSyncCommand builds a command whose nil sets are normalized to empty
// lists, so they serialize as [] rather than null.
func NewSyncCommand(added []GameRecord, removed []string, updated []GameRecord) SyncCommand {
	if added == nil {
		added = []GameRecord{}
	}
	if removed == nil {
		removed = []string{}
	}
	if updated == nil {
		updated = []GameRecord{}
	}
	return SyncCommand{AddedItems: added, RemovedItems: removed, UpdatedItems: updated}
}

// Empty reports whether the command carries no changes.
func (c SyncCommand) Empty() bool {
	return len(c.AddedItems) == 0 && len(c.RemovedItems) == 0 && len(c.UpdatedItems) == 0
}

// FormField is a text part of a multipart upload.
type FormField struct {
	Name  string
	Value string
}

// FilePart is a file part of a multipart upload.
type FilePart struct {
	FileName string
	Path     string
}
