// Package history persists a record of completed downloads in SQLite, so the
// cleanup pass and operational callers survive process restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
)

// Record is one completed download.
type Record struct {
	Key          string
	Service      string
	Type         string
	ItemID       string
	Name         string
	By           string
	FilePath     string
	DownloadedAt string
}

// InitDB opens the SQLite database and creates the downloads table if it
// doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		item_key TEXT UNIQUE,
		item_service TEXT,
		item_type TEXT,
		item_id TEXT,
		item_name TEXT,
		item_by TEXT,
		file_path TEXT,
		downloaded_at DATETIME
	)`)

	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Repository reads and writes download records.
type Repository struct {
	db *sql.DB
}

// NewRepository returns a repository over the given connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordDownload upserts the completed item keyed by its stage-queue key.
func (r *Repository) RecordDownload(ctx context.Context, item *media.Item) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (item_key, item_service, item_type, item_id, item_name, item_by, file_path, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			file_path = excluded.file_path,
			downloaded_at = excluded.downloaded_at
	`, item.Key, item.Service, item.Type, item.ID, item.Name, item.By, item.FilePath,
		time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// Downloads returns all recorded downloads, newest first.
func (r *Repository) Downloads(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_key, item_service, item_type, item_id, item_name, item_by, file_path, downloaded_at
		FROM downloads ORDER BY downloaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []Record

	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.Key, &record.Service, &record.Type, &record.ItemID,
			&record.Name, &record.By, &record.FilePath, &record.DownloadedAt); err != nil {
			return nil, err
		}
		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

// Forget removes the record for the given key, if any.
func (r *Repository) Forget(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE item_key = ?`, key)
	return err
}
