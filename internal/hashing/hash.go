// Package hashing computes the content fingerprints used to detect
// "nothing changed" between the local catalog and the remote server.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/gamesync/internal/catalog"
	"github.com/gowebpki/jcs"
	gitignore "github.com/sabhiram/go-gitignore"
)

// ErrNoMedia reports a media folder that is missing or holds no files.
var ErrNoMedia = errors.New("no media files")

// DefaultMediaIgnorePatterns are OS artifacts that never count as media.
var DefaultMediaIgnorePatterns = []string{
	"Thumbs.db",
	"desktop.ini",
	".DS_Store",
	"._*",
	"*.tmp",
	"*.part",
}

const (
	fieldSeparator = "\x1f"
	listSeparator  = ","
)

// MediaFile is one file of a game's media folder.
type MediaFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Hasher computes metadata, media-folder and session fingerprints.
type Hasher struct {
	ignore *gitignore.GitIgnore
}

// NewHasher creates a hasher. Files matching any of the ignore patterns
// (gitignore syntax) are excluded from media listings.
func NewHasher(ignorePatterns []string) *Hasher {
	return &Hasher{ignore: gitignore.CompileIgnoreLines(ignorePatterns...)}
}

// GameMetadata returns the lowercase hex SHA-256 of the game's tracked fields.
// List fields keep their existing order; nil lists and nil times hash as "".
func (h *Hasher) GameMetadata(g catalog.Game) string {
	fields := []string{
		formatTime(g.LastActivity),
		g.Name,
		g.Description,
		formatTime(g.Added),
		formatTime(g.ReleaseDate),
		strconv.FormatBool(g.IsInstalled),
		g.InstallDirectory,
		g.CoverImage,
		g.BackgroundImage,
		g.Icon,
		g.CompletionStatus,
		strings.Join(g.Tags, listSeparator),
		strings.Join(g.Genres, listSeparator),
		strings.Join(g.Categories, listSeparator),
		strings.Join(g.Features, listSeparator),
		strings.Join(g.Developers, listSeparator),
		strings.Join(g.Publishers, listSeparator),
		strings.Join(g.Platforms, listSeparator),
		strconv.FormatUint(g.PlayCount, 10),
		strconv.FormatUint(g.Playtime, 10),
		strconv.FormatBool(g.Hidden),
		g.Version,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// MediaFolder returns the digest of the files directly under dir, or "" when
// the folder is missing, empty, or cannot be read. Read failures are logged;
// the no-media case is not.
func (h *Hasher) MediaFolder(dir string) string {
	digest, err := h.HashMediaFolder(dir)
	if err != nil {
		if !errors.Is(err, ErrNoMedia) {
			log.Printf("❌ Failed to hash media folder %s: %v", dir, err)
		}
		return ""
	}
	return digest
}

// HashMediaFolder is MediaFolder with the failure reason exposed. It returns
// ErrNoMedia for a missing or empty folder.
func (h *Hasher) HashMediaFolder(dir string) (string, error) {
	files, err := h.MediaFolderFiles(dir)
	if err != nil {
		return "", err
	}
	return HashMediaFiles(files), nil
}

// HashMediaFiles digests a listing returned by MediaFolderFiles. Uploaders
// hash the same listing they send so the hash describes the uploaded files.
func HashMediaFiles(files []MediaFile) string {
	hash := sha256.New()
	for _, f := range files {
		fmt.Fprintf(hash, "%s|%d|%d\n", f.Name, f.Size, f.ModTime.UnixMilli())
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// MediaFolderFiles lists the media files directly under dir, sorted by name
// with byte-wise comparison.
func (h *Hasher) MediaFolderFiles(dir string) ([]MediaFile, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty media folder path", ErrNoMedia)
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, ErrNoMedia
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list media folder: %w", err)
	}

	files := make([]MediaFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || h.ignore.MatchesPath(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, MediaFile{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	if len(files) == 0 {
		return nil, ErrNoMedia
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// SessionID derives the stable session fingerprint for a game started at start.
func (h *Hasher) SessionID(gameID string, start time.Time) string {
	return SessionID(gameID, start)
}

// SessionID hashes the RFC 8785 canonical JSON form of (gameId, startTime):
// sorted keys, no whitespace, and no HTML escaping of the id.
func SessionID(gameID string, start time.Time) string {
	raw, err := json.Marshal(map[string]string{
		"gameId":    gameID,
		"startTime": start.UTC().Format(time.RFC3339Nano),
	})
	if err == nil {
		raw, err = jcs.Transform(raw)
	}
	if err != nil {
		// Unreachable for string maps; fall back to the plain pair.
		raw = []byte(gameID + fieldSeparator + start.UTC().Format(time.RFC3339Nano))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
