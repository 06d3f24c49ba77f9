package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"
)

// DB is a sqlite-backed catalog. The sync engines only read from it; the
// write methods exist for importing the host library.
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the catalog database and initializes the schema.
func OpenDB(ctx context.Context, dbPath string) (*DB, error) {
	// WAL lets the host keep writing while a sync pass reads. modernc.org/sqlite
	// only applies settings passed as _pragma parameters.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		platforms         TEXT NOT NULL DEFAULT '[]',
		genres            TEXT NOT NULL DEFAULT '[]',
		developers        TEXT NOT NULL DEFAULT '[]',
		publishers        TEXT NOT NULL DEFAULT '[]',
		tags              TEXT NOT NULL DEFAULT '[]',
		categories        TEXT NOT NULL DEFAULT '[]',
		features          TEXT NOT NULL DEFAULT '[]',
		release_date      INTEGER,
		playtime          INTEGER NOT NULL DEFAULT 0,
		play_count        INTEGER NOT NULL DEFAULT 0,
		last_activity     INTEGER,
		added             INTEGER,
		install_directory TEXT NOT NULL DEFAULT '',
		is_installed      INTEGER NOT NULL DEFAULT 0,
		background_image  TEXT NOT NULL DEFAULT '',
		cover_image       TEXT NOT NULL DEFAULT '',
		icon              TEXT NOT NULL DEFAULT '',
		description       TEXT NOT NULL DEFAULT '',
		completion_status TEXT NOT NULL DEFAULT '',
		hidden            INTEGER NOT NULL DEFAULT 0,
		version           TEXT NOT NULL DEFAULT '',
		favorite          INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

const selectColumns = `id, name, platforms, genres, developers, publishers, tags, categories, features,
	release_date, playtime, play_count, last_activity, added, install_directory, is_installed,
	background_image, cover_image, icon, description, completion_status, hidden, version, favorite`

// Upsert inserts or replaces a game.
func (d *DB) Upsert(ctx context.Context, g Game) error {
	if g.ID == "" {
		return errors.New("game id must not be empty")
	}
	lists := make([]string, 0, 7)
	for _, l := range [][]string{g.Platforms, g.Genres, g.Developers, g.Publishers, g.Tags, g.Categories, g.Features} {
		s, err := encodeList(l)
		if err != nil {
			return fmt.Errorf("failed to encode list for game %s: %w", g.ID, err)
		}
		lists = append(lists, s)
	}

	query := `
		INSERT INTO games (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			platforms = excluded.platforms,
			genres = excluded.genres,
			developers = excluded.developers,
			publishers = excluded.publishers,
			tags = excluded.tags,
			categories = excluded.categories,
			features = excluded.features,
			release_date = excluded.release_date,
			playtime = excluded.playtime,
			play_count = excluded.play_count,
			last_activity = excluded.last_activity,
			added = excluded.added,
			install_directory = excluded.install_directory,
			is_installed = excluded.is_installed,
			background_image = excluded.background_image,
			cover_image = excluded.cover_image,
			icon = excluded.icon,
			description = excluded.description,
			completion_status = excluded.completion_status,
			hidden = excluded.hidden,
			version = excluded.version,
			favorite = excluded.favorite
	`
	_, err := d.db.ExecContext(ctx, query,
		g.ID, g.Name, lists[0], lists[1], lists[2], lists[3], lists[4], lists[5], lists[6],
		timeToMillis(g.ReleaseDate), int64(g.Playtime), int64(g.PlayCount),
		timeToMillis(g.LastActivity), timeToMillis(g.Added), g.InstallDirectory, boolToInt(g.IsInstalled),
		g.BackgroundImage, g.CoverImage, g.Icon, g.Description, g.CompletionStatus,
		boolToInt(g.Hidden), g.Version, boolToInt(g.Favorite),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert game %s: %w", g.ID, err)
	}
	return nil
}

// Delete removes a game. Deleting an unknown id is not an error.
func (d *DB) Delete(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete game %s: %w", id, err)
	}
	return nil
}

// ImportJSON reads a JSON array of games and upserts each of them.
// It returns the number of games imported.
func (d *DB) ImportJSON(ctx context.Context, r io.Reader) (int, error) {
	var games []Game
	if err := json.NewDecoder(r).Decode(&games); err != nil {
		return 0, fmt.Errorf("failed to decode catalog json: %w", err)
	}
	for i, g := range games {
		if err := d.Upsert(ctx, g); err != nil {
			return i, err
		}
	}
	return len(games), nil
}

func (d *DB) IDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM games ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query game ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DB) All(ctx context.Context) ([]Game, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM games ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (d *DB) Get(ctx context.Context, id string) (Game, bool, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM games WHERE id = ?`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, false, nil
	}
	if err != nil {
		return Game{}, false, err
	}
	return g, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(s scanner) (Game, error) {
	var (
		g                                Game
		lists                            [7]string
		releaseDate, lastActivity, added sql.NullInt64
		playtime, playCount              int64
		isInstalled, hidden, favorite    int
	)
	err := s.Scan(&g.ID, &g.Name, &lists[0], &lists[1], &lists[2], &lists[3], &lists[4], &lists[5], &lists[6],
		&releaseDate, &playtime, &playCount, &lastActivity, &added, &g.InstallDirectory, &isInstalled,
		&g.BackgroundImage, &g.CoverImage, &g.Icon, &g.Description, &g.CompletionStatus, &hidden, &g.Version, &favorite)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Game{}, err
		}
		return Game{}, fmt.Errorf("failed to scan game: %w", err)
	}

	targets := []*[]string{&g.Platforms, &g.Genres, &g.Developers, &g.Publishers, &g.Tags, &g.Categories, &g.Features}
	for i, target := range targets {
		list, err := decodeList(lists[i])
		if err != nil {
			return Game{}, fmt.Errorf("failed to decode list for game %s: %w", g.ID, err)
		}
		*target = list
	}

	g.ReleaseDate = millisToTime(releaseDate)
	g.LastActivity = millisToTime(lastActivity)
	g.Added = millisToTime(added)
	g.Playtime = uint64(playtime)
	g.PlayCount = uint64(playCount)
	g.IsInstalled = isInstalled != 0
	g.Hidden = hidden != 0
	g.Favorite = favorite != 0
	return g, nil
}

func encodeList(l []string) (string, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var l []string
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, err
	}
	return l, nil
}

func timeToMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
