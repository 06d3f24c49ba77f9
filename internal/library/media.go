package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/ChamsBouzaiene/gamesync/internal/catalog"
	"github.com/ChamsBouzaiene/gamesync/internal/hashing"
	"github.com/ChamsBouzaiene/gamesync/internal/remote"
	"github.com/docker/go-units"
)

// MediaReport summarizes one media pass.
type MediaReport struct {
	Total     int
	Uploaded  int
	Skipped   int
	Failed    int
	Bytes     int64
	Cancelled bool
}

// RunMediaFilesSync uploads the media folder of every game whose folder
// hash differs from the server's. With nil games the whole catalog is
// checked. Games with no media, or unknown to the server, are skipped. A
// failed upload is counted and the pass moves on. Cancellation is checked
// before each game and ends the pass early with Cancelled set.
func (e *Exporter) RunMediaFilesSync(ctx context.Context, games []catalog.Game) (MediaReport, error) {
	var report MediaReport

	manifest, err := e.manifest(ctx)
	if err != nil {
		return report, err
	}
	idx := manifest.Index()

	if games == nil {
		games, err = e.catalog.All(ctx)
		if err != nil {
			return report, fmt.Errorf("failed to list catalog games: %w", err)
		}
	}
	report.Total = len(games)

	e.progress.Start("Syncing media files", len(games))
	defer e.progress.Finish()

	for _, g := range games {
		if ctx.Err() != nil {
			log.Println("🛑 Media files sync cancelled")
			report.Cancelled = true
			return report, nil
		}
		e.progress.Step(fmt.Sprintf("Syncing media files for %s", g.Name))

		uploaded, size, err := e.syncGameMedia(ctx, idx, g)
		switch {
		case err != nil:
			log.Printf("⚠️  Request to sync media files for game %s failed: %v", g.ID, err)
			report.Failed++
		case uploaded:
			report.Uploaded++
			report.Bytes += size
		default:
			report.Skipped++
		}
	}

	log.Printf("✅ Media files sync completed (uploaded: %d, skipped: %d, failed: %d, %s sent)",
		report.Uploaded, report.Skipped, report.Failed, units.HumanSize(float64(report.Bytes)))
	return report, nil
}

// syncGameMedia uploads one game's media folder when needed. It reports
// whether an upload happened and how many bytes it carried. The folder is
// listed once and the sent hash is computed from that listing.
func (e *Exporter) syncGameMedia(ctx context.Context, manifest *remote.ManifestIndex, g catalog.Game) (bool, int64, error) {
	dir := filepath.Join(e.mediaDir, g.ID)

	files, err := e.hasher.MediaFolderFiles(dir)
	if errors.Is(err, hashing.ErrNoMedia) {
		return false, 0, nil
	}
	if err != nil {
		log.Printf("❌ Failed to hash media folder %s: %v", dir, err)
		return false, 0, nil
	}
	hash := hashing.HashMediaFiles(files)

	if _, known := manifest.GameHash(g.ID); !known {
		return false, 0, nil
	}
	if remoteHash, ok := manifest.MediaHash(g.ID); ok && remoteHash == hash {
		return false, 0, nil
	}

	fields := []remote.FormField{
		{Name: remote.FieldGameID, Value: g.ID},
		{Name: remote.FieldContentHash, Value: hash},
	}
	parts := make([]remote.FilePart, 0, len(files))
	var size int64
	for _, f := range files {
		parts = append(parts, remote.FilePart{FileName: f.Name, Path: f.Path})
		size += f.Size
	}

	if err := e.remote.PostMultipart(ctx, remote.EndpointSyncFiles, fields, parts); err != nil {
		return false, 0, err
	}
	log.Printf("📤 Uploaded %d media files (%s) for game %s", len(parts), units.HumanSize(float64(size)), g.ID)
	return true, size, nil
}
