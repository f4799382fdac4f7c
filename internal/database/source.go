package database

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bryan-buckman/feedpool/internal/model"
)

// Open returns the Store for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return New(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// BatchFetcher is the read side of a Store.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error)
}

// DefaultSharedFetchTimeout bounds a shared store query.
const DefaultSharedFetchTimeout = 30 * time.Second

// SharedSource collapses identical concurrent FetchBatch calls into one
// store query, e.g. anonymous community sessions opened at the same moment.
// A caller whose context ends stops waiting; the query itself runs until it
// completes or Timeout elapses.
type SharedSource struct {
	next    BatchFetcher
	group   singleflight.Group
	Timeout time.Duration
}

// NewSharedSource wraps next.
func NewSharedSource(next BatchFetcher) *SharedSource {
	return &SharedSource{next: next, Timeout: DefaultSharedFetchTimeout}
}

// FetchBatch implements feed.Source. Every caller receives its own copy of
// the result slice.
func (s *SharedSource) FetchBatch(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error) {
	key := fmt.Sprintf("%q|%q|%t|%d|%d|%q",
		filter.ExcludeAuthor, filter.Author, filter.RequireCompleted, filter.Limit, filter.Offset, filter.OrderBy)
	ch := s.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
		defer cancel()
		return s.next.FetchBatch(flightCtx, filter)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		records := res.Val.([]model.ContentRecord)
		return append([]model.ContentRecord(nil), records...), nil
	}
}

func (s *SharedSource) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultSharedFetchTimeout
	}
	return s.Timeout
}
