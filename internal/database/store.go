// Package database provides storage backends for generated content records.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bryan-buckman/feedpool/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Record operations
	FetchBatch(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error)
	AddRecord(ctx context.Context, rec *model.ContentRecord) (bool, error)
	CountRecords(ctx context.Context) (int64, error)

	// Ingest source operations
	GetSources() ([]model.IngestSource, error)
	GetSourceByID(id int64) (*model.IngestSource, error)
	GetOrCreateSource(title, url, group string) (int64, bool, error)
	UpdateSourceFetched(id int64, t time.Time) error
	UpdateSourceError(id int64, errMsg string) error
	DeleteSource(id int64) error

	// Settings operations
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	GetPollingInterval() (int, error)
}

// MinPollingIntervalMinutes is the minimum allowed ingest interval.
const MinPollingIntervalMinutes = 15

const recordColumns = "id, author, description, media_ref, kind, created_at"

// buildBatchQuery renders the record query for filter. placeholder returns
// the bind marker for the n-th argument (1-based), so the same builder
// serves "?" and "$n" dialects.
func buildBatchQuery(filter model.BatchFilter, placeholder func(n int) string) (string, []any, error) {
	if filter.OrderBy != "" && filter.OrderBy != model.OrderNewestFirst {
		return "", nil, fmt.Errorf("unsupported order %q", filter.OrderBy)
	}
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}
	if filter.ExcludeAuthor != "" {
		where = append(where, "(author IS NULL OR author <> "+bind(filter.ExcludeAuthor)+")")
	}
	if filter.Author != "" {
		where = append(where, "author = "+bind(filter.Author))
	}
	if filter.RequireCompleted {
		where = append(where, "media_ref IS NOT NULL AND media_ref <> ''")
	}

	limit := filter.Limit
	if limit <= 0 || limit > model.MaxBatchLimit {
		limit = model.MaxBatchLimit
	}
	offset := max(filter.Offset, 0)

	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM records")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	b.WriteString(" LIMIT " + bind(limit))
	b.WriteString(" OFFSET " + bind(offset))
	return b.String(), args, nil
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// maxErrorLen is the longest last_error stored, in bytes.
const maxErrorLen = 200

// truncateError keeps stored fetch errors short enough for display without
// splitting a UTF-8 sequence.
func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
