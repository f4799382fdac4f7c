// Package database provides SQLite storage for content records.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bryan-buckman/feedpool/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent ingest.
	conn.SetMaxOpenConns(1)
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		author TEXT,
		description TEXT NOT NULL DEFAULT '',
		media_ref TEXT,
		kind TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_records_author ON records(author);
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		group_name TEXT NOT NULL DEFAULT '',
		last_fetched DATETIME,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	-- Default polling interval (15 minutes minimum).
	INSERT OR IGNORE INTO settings (key, value) VALUES ('polling_interval_minutes', '15');
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Record Methods ---

// FetchBatch returns up to filter.Limit records, newest first.
func (db *DB) FetchBatch(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error) {
	query, args, err := buildBatchQuery(filter, questionMark)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// AddRecord inserts a record unless its ID exists. Returns whether it was new.
func (db *DB) AddRecord(ctx context.Context, rec *model.ContentRecord) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO records (id, author, description, media_ref, kind, created_at)
		VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Author, rec.Description, rec.MediaRef, string(rec.Kind), rec.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// CountRecords returns the number of stored records.
func (db *DB) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n)
	return n, err
}

func scanRecords(rows *sql.Rows) ([]model.ContentRecord, error) {
	records := []model.ContentRecord{}
	for rows.Next() {
		var r model.ContentRecord
		var author, mediaRef sql.NullString
		var kind string
		var createdAt sql.NullTime
		if err := rows.Scan(&r.ID, &author, &r.Description, &mediaRef, &kind, &createdAt); err != nil {
			return nil, err
		}
		r.Author = author.String
		r.MediaRef = mediaRef.String
		r.Kind = model.Kind(kind)
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Source Methods ---

// GetSources returns all ingest sources ordered by title.
func (db *DB) GetSources() ([]model.IngestSource, error) {
	rows, err := db.conn.Query("SELECT id, title, url, group_name, last_fetched, last_error FROM sources ORDER BY title")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

// GetSourceByID returns one ingest source.
func (db *DB) GetSourceByID(id int64) (*model.IngestSource, error) {
	rows, err := db.conn.Query("SELECT id, title, url, group_name, last_fetched, last_error FROM sources WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sources, err := scanSources(rows)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, sql.ErrNoRows
	}
	return &sources[0], nil
}

// GetOrCreateSource finds a source by URL, or creates it.
func (db *DB) GetOrCreateSource(title, url, group string) (int64, bool, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM sources WHERE url = ?", url).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := db.conn.Exec("INSERT INTO sources (title, url, group_name) VALUES (?, ?, ?)", title, url, group)
		if err != nil {
			return 0, false, err
		}
		id, err := res.LastInsertId()
		return id, true, err
	}
	return id, false, err
}

// UpdateSourceFetched records a successful fetch and clears the last error.
func (db *DB) UpdateSourceFetched(id int64, t time.Time) error {
	_, err := db.conn.Exec("UPDATE sources SET last_fetched = ?, last_error = '' WHERE id = ?", t.UTC(), id)
	return err
}

// UpdateSourceError stores the last fetch error for display.
func (db *DB) UpdateSourceError(id int64, errMsg string) error {
	_, err := db.conn.Exec("UPDATE sources SET last_error = ? WHERE id = ?", truncateError(errMsg), id)
	return err
}

// DeleteSource removes an ingest source. Records it produced are kept.
func (db *DB) DeleteSource(id int64) error {
	_, err := db.conn.Exec("DELETE FROM sources WHERE id = ?", id)
	return err
}

func scanSources(rows *sql.Rows) ([]model.IngestSource, error) {
	var sources []model.IngestSource
	for rows.Next() {
		var s model.IngestSource
		var lastFetched sql.NullTime
		if err := rows.Scan(&s.ID, &s.Title, &s.URL, &s.Group, &lastFetched, &s.LastError); err != nil {
			return nil, err
		}
		if lastFetched.Valid {
			s.LastFetched = lastFetched.Time
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (db *DB) GetSetting(key string) (string, error) {
	var val string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	return val, err
}

// SetSetting saves a setting.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?", key, value, value)
	return err
}

// GetPollingInterval returns the polling interval in minutes, with a minimum of 15.
func (db *DB) GetPollingInterval() (int, error) {
	val, err := db.GetSetting(model.SettingPollingInterval)
	if err != nil {
		return MinPollingIntervalMinutes, nil // default
	}
	return clampInterval(val), nil
}

func clampInterval(val string) int {
	var mins int
	fmt.Sscanf(val, "%d", &mins)
	if mins < MinPollingIntervalMinutes {
		mins = MinPollingIntervalMinutes
	}
	return mins
}
