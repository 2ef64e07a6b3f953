// Package downloads persists mappings from third-party media URLs to locally
// served proxied paths. Upstream CDN links are short-lived and signed; the
// mapping must outlive them (and process restarts) so a previously issued
// proxied path can still be resolved for byte delivery.
package downloads

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fsmvid-proxy/pkg/types"
)

// Store is a SQLite-backed download-URL store.
type Store struct {
	db *sql.DB
}

// Key derives the store key for an original media URL.
func Key(mediaURL string) string {
	hash := md5.Sum([]byte(mediaURL))
	return hex.EncodeToString(hash[:])
}

// Open initializes the SQLite database under dataDir and creates the schema.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbFile := filepath.Join(dataDir, "downloads.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// WAL and a busy timeout for concurrent request handlers.
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS download_urls (
		key TEXT PRIMARY KEY,
		proxied_path TEXT NOT NULL,
		filename TEXT NOT NULL,
		quality TEXT,
		format TEXT,
		title TEXT,
		original_video_url TEXT,
		original_media_url TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Put stores or refreshes a download entry. Re-submitting the same source URL
// overwrites the row: the newest upstream CDN link wins.
func (s *Store) Put(ctx context.Context, entry *types.DownloadEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_urls
			(key, proxied_path, filename, quality, format, title, original_video_url, original_media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			proxied_path = excluded.proxied_path,
			filename = excluded.filename,
			quality = excluded.quality,
			format = excluded.format,
			title = excluded.title,
			original_video_url = excluded.original_video_url,
			original_media_url = excluded.original_media_url,
			created_at = excluded.created_at`,
		entry.Key, entry.ProxiedPath, entry.Filename, entry.Quality, entry.Format,
		entry.Title, entry.OriginalVideoURL, entry.OriginalMediaURL, entry.CreatedAt,
	)
	return err
}

// Get returns the entry for key, or an error if it does not exist.
func (s *Store) Get(ctx context.Context, key string) (*types.DownloadEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, proxied_path, filename, quality, format, title, original_video_url, original_media_url, created_at
		FROM download_urls WHERE key = ?`, key)

	var e types.DownloadEntry
	err := row.Scan(&e.Key, &e.ProxiedPath, &e.Filename, &e.Quality, &e.Format,
		&e.Title, &e.OriginalVideoURL, &e.OriginalMediaURL, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download entry %s not found", key)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Prune deletes entries older than the given age.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM download_urls WHERE created_at < ?`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
