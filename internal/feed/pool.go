package feed

import (
	"slices"

	"github.com/bryan-buckman/feedpool/internal/model"
)

// Pool defaults.
const (
	DefaultPageSize = 30

	// DefaultLowWaterMark asks NewPool to use 2 x PageSize.
	DefaultLowWaterMark = -1
)

// PoolConfig parameterizes a Pool.
type PoolConfig struct {
	PageSize int
	// LowWaterMark is the number of unserved records at or below which the
	// pool declares itself exhausted. Zero means exhausted only when empty.
	// DefaultLowWaterMark (any negative value) selects 2 x PageSize.
	LowWaterMark  int
	RequireAuthor bool
}

// Pool holds one fetch cycle's records and serves them in fixed-size pages.
// It is not safe for concurrent use; the Controller serializes access.
type Pool struct {
	pageSize     int
	lowWaterMark int
	requireAuth  bool

	records   []model.ContentRecord
	cursor    int
	built     bool
	exhausted bool
	dropped   int
}

// NewPool returns an unbuilt pool.
func NewPool(cfg PoolConfig) *Pool {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	lwm := cfg.LowWaterMark
	if lwm < 0 {
		lwm = 2 * pageSize
	}
	return &Pool{
		pageSize:     pageSize,
		lowWaterMark: lwm,
		requireAuth:  cfg.RequireAuthor,
	}
}

// Build replaces the pool with records, dropping malformed and duplicate
// entries, and returns the first page.
func (p *Pool) Build(records []model.ContentRecord) []model.ContentRecord {
	p.records, p.dropped = Sanitize(records, p.requireAuth)
	p.cursor = 0
	p.exhausted = false
	p.built = true
	return p.take()
}

// NextPage returns the next page. It fails with ErrPoolEmpty when the pool
// was never built or is already exhausted.
func (p *Pool) NextPage() ([]model.ContentRecord, error) {
	if !p.built || p.exhausted {
		return nil, ErrPoolEmpty
	}
	return p.take(), nil
}

func (p *Pool) take() []model.ContentRecord {
	end := min(p.cursor+p.pageSize, len(p.records))
	page := slices.Clone(p.records[p.cursor:end])
	p.cursor = end
	if remaining := len(p.records) - p.cursor; remaining == 0 || remaining <= p.lowWaterMark {
		p.exhausted = true
	}
	return page
}

// IsExhausted reports whether no further pages will be served.
func (p *Pool) IsExhausted() bool { return p.exhausted }

// Len returns the number of records in the pool.
func (p *Pool) Len() int { return len(p.records) }

// Served returns how many records have been handed out.
func (p *Pool) Served() int { return p.cursor }

// Dropped returns how many records the last Build discarded as malformed
// or duplicate.
func (p *Pool) Dropped() int { return p.dropped }
