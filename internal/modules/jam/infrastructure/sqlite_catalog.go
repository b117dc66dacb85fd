package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
	_ "modernc.org/sqlite"
)

// Ensure SQLiteCatalog implements CatalogService.
var _ ports.CatalogService = (*SQLiteCatalog)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tracks (
	uri         TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	artist      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS playlists (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS playlist_tracks (
	playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	uri         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS playlist_tracks_position
	ON playlist_tracks (playlist_id, position);
CREATE TABLE IF NOT EXISTS follows (
	user_id     TEXT NOT NULL,
	playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
	alias       TEXT NOT NULL,
	PRIMARY KEY (user_id, playlist_id)
);
`

// SQLiteCatalog is a CatalogService persisted in a SQLite file on the host.
type SQLiteCatalog struct {
	db *sql.DB
}

// OpenSQLiteCatalog opens or creates the catalog database at path.
func OpenSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// Playlist insertions read then shift positions; a single connection
	// serializes them.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure catalog: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// ImportTracks stores track metadata, replacing existing entries.
func (c *SQLiteCatalog) ImportTracks(ctx context.Context, tracks ...domain.Track) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tracks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tracks (uri, title, artist, duration_ms) VALUES (?, ?, ?, ?)
			ON CONFLICT(uri) DO UPDATE SET
				title = excluded.title,
				artist = excluded.artist,
				duration_ms = excluded.duration_ms`,
			string(t.URI), t.Title, t.Artist, t.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("import %s: %w", t.URI, err)
		}
	}
	return tx.Commit()
}

// GetCurrentUser returns the user for creds, registering it on first sight.
func (c *SQLiteCatalog) GetCurrentUser(
	ctx context.Context,
	creds domain.Credentials,
) (domain.User, error) {
	if creds.IsZero() {
		return domain.User{}, ErrUnauthorized
	}

	user := creds.User()
	if user.DisplayName == "" {
		existing, err := c.GetUserByID(ctx, user.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return domain.User{}, err
		}
		user.DisplayName = string(user.ID)
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`,
		string(user.ID), user.DisplayName,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("register user: %w", err)
	}
	return user, nil
}

// CreatePlaylist creates an empty playlist owned by ownerID.
func (c *SQLiteCatalog) CreatePlaylist(
	ctx context.Context,
	creds domain.Credentials,
	ownerID domain.UserID,
	name string,
) (domain.Playlist, error) {
	if creds.IsZero() {
		return domain.Playlist{}, ErrUnauthorized
	}
	if creds.UserID != ownerID {
		return domain.Playlist{}, ErrForbidden
	}

	playlist := domain.Playlist{
		ID:      domain.PlaylistID(uuid.NewString()),
		Name:    name,
		OwnerID: ownerID,
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO playlists (id, name, owner_id) VALUES (?, ?, ?)`,
		string(playlist.ID), playlist.Name, string(playlist.OwnerID),
	)
	if err != nil {
		return domain.Playlist{}, fmt.Errorf("create playlist: %w", err)
	}
	return playlist, nil
}

// GetPlaylistTracksPage returns up to limit tracks starting at offset.
func (c *SQLiteCatalog) GetPlaylistTracksPage(
	ctx context.Context,
	playlistID domain.PlaylistID,
	limit, offset int,
) (*ports.TracksPage, error) {
	if limit <= 0 || offset < 0 {
		return nil, ErrInvalidPage
	}

	total, err := c.playlistLength(ctx, c.db, playlistID)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT pt.uri, COALESCE(t.title, pt.uri), COALESCE(t.artist, ''), COALESCE(t.duration_ms, 0)
		FROM playlist_tracks pt
		LEFT JOIN tracks t ON t.uri = pt.uri
		WHERE pt.playlist_id = ?
		ORDER BY pt.position
		LIMIT ? OFFSET ?`,
		string(playlistID), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query playlist tracks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := &ports.TracksPage{Items: make([]domain.Track, 0, limit)}
	for rows.Next() {
		var (
			uri, title, artist string
			durationMS         int64
		)
		if err := rows.Scan(&uri, &title, &artist, &durationMS); err != nil {
			return nil, fmt.Errorf("scan playlist track: %w", err)
		}
		page.Items = append(page.Items, domain.NewTrack(
			domain.TrackURI(uri),
			title,
			artist,
			time.Duration(durationMS)*time.Millisecond,
		))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if next := offset + len(page.Items); next < total {
		page.NextOffset = &next
	}
	return page, nil
}

// AddTrackAtPosition inserts uri at position, shifting later tracks, or
// appends if position is nil.
func (c *SQLiteCatalog) AddTrackAtPosition(
	ctx context.Context,
	creds domain.Credentials,
	playlistID domain.PlaylistID,
	uri domain.TrackURI,
	position *int,
) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	playlist, err := c.getPlaylist(ctx, tx, playlistID)
	if err != nil {
		return err
	}
	if creds.UserID != playlist.OwnerID {
		return ErrForbidden
	}

	total, err := c.playlistLength(ctx, tx, playlistID)
	if err != nil {
		return err
	}
	at := total
	if position != nil {
		if *position < 0 || *position > total {
			return ErrPositionOutOfRange
		}
		at = *position
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE playlist_tracks SET position = position + 1
		WHERE playlist_id = ? AND position >= ?`,
		string(playlistID), at,
	); err != nil {
		return fmt.Errorf("shift playlist tracks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO playlist_tracks (playlist_id, position, uri) VALUES (?, ?, ?)`,
		string(playlistID), at, string(uri),
	); err != nil {
		return fmt.Errorf("insert playlist track: %w", err)
	}

	return tx.Commit()
}

// GetUserByID looks up a user.
func (c *SQLiteCatalog) GetUserByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	user := domain.User{ID: id}
	err := c.db.QueryRowContext(ctx,
		`SELECT display_name FROM users WHERE id = ?`, string(id),
	).Scan(&user.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// GetTrack returns the stored metadata for uri.
func (c *SQLiteCatalog) GetTrack(ctx context.Context, uri domain.TrackURI) (domain.Track, error) {
	var (
		title, artist string
		durationMS    int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT title, artist, duration_ms FROM tracks WHERE uri = ?`, string(uri),
	).Scan(&title, &artist, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Track{}, ErrTrackNotFound
	}
	if err != nil {
		return domain.Track{}, err
	}
	return domain.NewTrack(uri, title, artist, time.Duration(durationMS)*time.Millisecond), nil
}

// FollowPlaylist adds the playlist to the user's library.
func (c *SQLiteCatalog) FollowPlaylist(
	ctx context.Context,
	creds domain.Credentials,
	id domain.PlaylistID,
) error {
	if creds.IsZero() {
		return ErrUnauthorized
	}

	playlist, err := c.getPlaylist(ctx, c.db, id)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO follows (user_id, playlist_id, alias) VALUES (?, ?, ?)
		ON CONFLICT(user_id, playlist_id) DO NOTHING`,
		string(creds.UserID), string(id), playlist.Name,
	)
	if err != nil {
		return fmt.Errorf("follow playlist: %w", err)
	}
	return nil
}

// UnfollowPlaylist removes the playlist from the user's library.
func (c *SQLiteCatalog) UnfollowPlaylist(
	ctx context.Context,
	creds domain.Credentials,
	id domain.PlaylistID,
) error {
	if creds.IsZero() {
		return ErrUnauthorized
	}

	_, err := c.db.ExecContext(ctx,
		`DELETE FROM follows WHERE user_id = ? AND playlist_id = ?`,
		string(creds.UserID), string(id),
	)
	return err
}

// RenamePlaylist renames the playlist for its owner, or sets the name a
// follower sees in their library.
func (c *SQLiteCatalog) RenamePlaylist(
	ctx context.Context,
	creds domain.Credentials,
	id domain.PlaylistID,
	name string,
) error {
	if creds.IsZero() {
		return ErrUnauthorized
	}

	playlist, err := c.getPlaylist(ctx, c.db, id)
	if err != nil {
		return err
	}

	if playlist.OwnerID == creds.UserID {
		_, err := c.db.ExecContext(ctx,
			`UPDATE playlists SET name = ? WHERE id = ?`, name, string(id),
		)
		return err
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE follows SET alias = ? WHERE user_id = ? AND playlist_id = ?`,
		name, string(creds.UserID), string(id),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPlaylistNotFollowed
	}
	return nil
}

// FollowedPlaylists returns the playlists in a user's library under the
// names the user sees.
func (c *SQLiteCatalog) FollowedPlaylists(
	ctx context.Context,
	userID domain.UserID,
) ([]domain.Playlist, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT p.id, f.alias, p.owner_id
		FROM follows f JOIN playlists p ON p.id = f.playlist_id
		WHERE f.user_id = ?
		ORDER BY f.alias`,
		string(userID),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Playlist
	for rows.Next() {
		var id, name, owner string
		if err := rows.Scan(&id, &name, &owner); err != nil {
			return nil, err
		}
		out = append(out, domain.Playlist{
			ID:      domain.PlaylistID(id),
			Name:    name,
			OwnerID: domain.UserID(owner),
		})
	}
	return out, rows.Err()
}

// querier is the subset of *sql.DB and *sql.Tx the helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *SQLiteCatalog) getPlaylist(
	ctx context.Context,
	q querier,
	id domain.PlaylistID,
) (domain.Playlist, error) {
	var name, owner string
	err := q.QueryRowContext(ctx,
		`SELECT name, owner_id FROM playlists WHERE id = ?`, string(id),
	).Scan(&name, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Playlist{}, ErrPlaylistNotFound
	}
	if err != nil {
		return domain.Playlist{}, err
	}
	return domain.Playlist{ID: id, Name: name, OwnerID: domain.UserID(owner)}, nil
}

func (c *SQLiteCatalog) playlistLength(
	ctx context.Context,
	q querier,
	id domain.PlaylistID,
) (int, error) {
	if _, err := c.getPlaylist(ctx, q, id); err != nil {
		return 0, err
	}
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM playlist_tracks WHERE playlist_id = ?`, string(id),
	).Scan(&n)
	return n, err
}
