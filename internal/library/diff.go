package library

import (
	"github.com/ChamsBouzaiene/gamesync/internal/catalog"
	"github.com/ChamsBouzaiene/gamesync/internal/hashing"
	"github.com/ChamsBouzaiene/gamesync/internal/remote"
)

// Plan is the outcome of reconciling the local catalog with a manifest.
type Plan struct {
	Added   []remote.GameRecord
	Updated []remote.GameRecord
	Removed []string
}

// Empty reports whether there is nothing to send.
func (p Plan) Empty() bool {
	return len(p.Added) == 0 && len(p.Updated) == 0 && len(p.Removed) == 0
}

// Command builds the wire command for the plan.
func (p Plan) Command() remote.SyncCommand {
	return remote.NewSyncCommand(p.Added, p.Removed, p.Updated)
}

// Diff reconciles games and the ids of the whole local catalog against m:
// games unknown to the server are added, games whose hash differs are
// updated, and server ids missing from localIDs are removed. Games whose
// hash already matches appear in neither list.
func Diff(m *remote.Manifest, games []catalog.Game, localIDs []string, hasher *hashing.Hasher) Plan {
	added, updated := classify(m, games, hasher)
	return Plan{
		Added:   added,
		Updated: updated,
		Removed: removedIDs(m, localIDs),
	}
}

func classify(m *remote.Manifest, games []catalog.Game, hasher *hashing.Hasher) (added, updated []remote.GameRecord) {
	idx := m.Index()
	for _, g := range games {
		hash := hasher.GameMetadata(g)
		remoteHash, known := idx.GameHash(g.ID)
		switch {
		case !known:
			added = append(added, newGameRecord(g, hash))
		case remoteHash != hash:
			updated = append(updated, newGameRecord(g, hash))
		}
	}
	return added, updated
}

func removedIDs(m *remote.Manifest, localIDs []string) []string {
	if m == nil {
		return nil
	}
	local := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		local[id] = struct{}{}
	}
	var removed []string
	for _, e := range m.GamesInLibrary {
		if _, ok := local[e.GameID]; !ok {
			removed = append(removed, e.GameID)
		}
	}
	return removed
}

func records(games []catalog.Game, hasher *hashing.Hasher) []remote.GameRecord {
	out := make([]remote.GameRecord, 0, len(games))
	for _, g := range games {
		out = append(out, newGameRecord(g, hasher.GameMetadata(g)))
	}
	return out
}

func newGameRecord(g catalog.Game, contentHash string) remote.GameRecord {
	return remote.GameRecord{
		ID:               g.ID,
		Name:             g.Name,
		Platforms:        g.Platforms,
		Genres:           g.Genres,
		Developers:       g.Developers,
		Publishers:       g.Publishers,
		ReleaseDate:      g.ReleaseDate,
		Playtime:         g.Playtime,
		LastActivity:     g.LastActivity,
		Added:            g.Added,
		InstallDirectory: g.InstallDirectory,
		IsInstalled:      g.IsInstalled,
		BackgroundImage:  g.BackgroundImage,
		CoverImage:       g.CoverImage,
		Icon:             g.Icon,
		Description:      g.Description,
		ContentHash:      contentHash,
	}
}
