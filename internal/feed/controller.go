package feed

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/feedpool/internal/log"
	"github.com/bryan-buckman/feedpool/internal/metrics"
	"github.com/bryan-buckman/feedpool/internal/model"
)

// Source is the bulk query capability the engine consumes. Implementations
// return an empty slice, not an error, when nothing matches.
type Source interface {
	FetchBatch(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error)

// FetchBatch calls f.
func (f SourceFunc) FetchBatch(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error) {
	return f(ctx, filter)
}

// State is the controller lifecycle state.
type State int

// Controller states.
const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateLoadingMore
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingMore:
		return "loading_more"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateExhausted; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown feed state %q", b)
}

// LoadResult describes the outcome of Initialize, Refresh or LoadMore.
type LoadResult struct {
	// Appended holds the records added to the visible list. After a
	// (re)build it is the first page, which also replaces the list.
	Appended []model.ContentRecord
	// Ignored is set when the request was collapsed into a load already in
	// flight, or its result was discarded because the controller moved on.
	Ignored bool
	State   State
}

// Snapshot is a consistent view of a controller for rendering.
type Snapshot struct {
	Variant  Variant               `json:"variant"`
	State    State                 `json:"state"`
	Items    []model.ContentRecord `json:"items"`
	PoolSize int                   `json:"pool_size"`
	Served   int                   `json:"served"`
}

// Controller binds a Pool to load-more and refresh events. All methods are
// safe for concurrent use; at most one fetch is in flight at a time.
type Controller struct {
	source Source
	policy Policy
	logger zerolog.Logger

	mu      sync.Mutex
	rng     Rand
	pool    *Pool
	state   State
	items   []model.ContentRecord
	gen     uint64
	closed  bool
	subs    map[int]func(State)
	nextSub int
}

// NewController returns an idle controller. A nil rng selects an entropy
// seeded generator.
func NewController(source Source, policy Policy, rng Rand) *Controller {
	if rng == nil {
		rng = NewEntropyRand()
	}
	return &Controller{
		source: source,
		policy: policy,
		rng:    rng,
		logger: log.WithComponent("feed").With().Str("variant", string(policy.Variant)).Logger(),
		subs:   make(map[int]func(State)),
	}
}

// Initialize performs the first fetch and builds the pool.
func (c *Controller) Initialize(ctx context.Context) (LoadResult, error) {
	return c.load(ctx, "initialize")
}

// Refresh re-fetches and rebuilds the pool. Shuffled variants produce a new
// order on every refresh. On failure the previous items remain visible.
func (c *Controller) Refresh(ctx context.Context) (LoadResult, error) {
	return c.load(ctx, "refresh")
}

func (c *Controller) load(ctx context.Context, trigger string) (LoadResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return LoadResult{}, ErrClosed
	}
	if c.state == StateLoading || c.state == StateLoadingMore {
		st := c.state
		c.mu.Unlock()
		metrics.RecordLoadIgnored(string(c.policy.Variant))
		return LoadResult{Ignored: true, State: st}, nil
	}
	prev := c.state
	c.gen++
	gen := c.gen
	c.state = StateLoading
	c.mu.Unlock()
	c.notify(StateLoading)

	records, err := c.source.FetchBatch(ctx, c.policy.Filter)

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug().Str("trigger", trigger).Msg("discarding stale fetch result")
		return LoadResult{Ignored: true}, nil
	}
	if err != nil {
		c.state = prev
		c.mu.Unlock()
		c.notify(prev)
		metrics.RecordSourceFailure(string(c.policy.Variant))
		c.logger.Warn().Err(err).Str("trigger", trigger).Msg("record source failed")
		return LoadResult{State: prev}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	page := c.build(records)
	c.items = page
	c.state = StateReady
	if c.pool.IsExhausted() {
		c.state = StateExhausted
	}
	st := c.state
	poolSize := c.pool.Len()
	c.mu.Unlock()

	c.logger.Info().
		Str("trigger", trigger).
		Int("fetched", len(records)).
		Int("pool", poolSize).
		Int("page", len(page)).
		Stringer("state", st).
		Msg("feed pool built")
	c.notify(st)
	return LoadResult{Appended: slices.Clone(page), State: st}, nil
}

// build runs the policy pipeline and returns the first page. Caller holds mu.
func (c *Controller) build(records []model.ContentRecord) []model.ContentRecord {
	variant := string(c.policy.Variant)
	kept := records
	if c.policy.Quality != nil {
		var rejected int
		kept, rejected = c.policy.Quality.Apply(kept)
		metrics.RecordDropped(variant, "quality", rejected)
	}
	switch {
	case c.policy.Fair:
		var capped int
		kept, capped = sample(c.rng, kept, c.policy.PerAuthorCap, c.policy.PoolCap)
		if c.policy.Shuffle {
			// Padding stays behind the capped records so the early pages
			// keep the per-author cap.
			Shuffle(c.rng, kept[:capped])
			Shuffle(c.rng, kept[capped:])
		}
	case c.policy.Shuffle:
		kept = slices.Clone(kept)
		Shuffle(c.rng, kept)
	}
	c.pool = NewPool(c.policy.Pool)
	page := c.pool.Build(kept)
	metrics.RecordDropped(variant, "malformed", c.pool.Dropped())
	metrics.RecordPoolBuild(variant, c.pool.Len())
	metrics.RecordPageServed(variant)
	return page
}

// LoadMore appends the next page. It is meant to be called when the last
// rendered item becomes visible. Calls made while a load is in flight are
// ignored. It fails with ErrPoolEmpty before a pool exists or once the
// feed is exhausted.
func (c *Controller) LoadMore() (LoadResult, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return LoadResult{}, ErrClosed
	case c.state == StateLoading || c.state == StateLoadingMore:
		st := c.state
		c.mu.Unlock()
		metrics.RecordLoadIgnored(string(c.policy.Variant))
		return LoadResult{Ignored: true, State: st}, nil
	case c.state != StateReady:
		st := c.state
		c.mu.Unlock()
		return LoadResult{State: st}, ErrPoolEmpty
	}
	gen := c.gen
	c.state = StateLoadingMore
	c.mu.Unlock()
	c.notify(StateLoadingMore)

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return LoadResult{Ignored: true}, nil
	}
	page, err := c.pool.NextPage()
	if err != nil {
		c.state = StateExhausted
		c.mu.Unlock()
		c.notify(StateExhausted)
		return LoadResult{State: StateExhausted}, err
	}
	c.items = append(c.items, page...)
	c.state = StateReady
	if c.pool.IsExhausted() {
		c.state = StateExhausted
	}
	st := c.state
	c.mu.Unlock()

	metrics.RecordPageServed(string(c.policy.Variant))
	c.notify(st)
	return LoadResult{Appended: slices.Clone(page), State: st}, nil
}

// VisibleItems returns a copy of everything served so far.
func (c *Controller) VisibleItems() []model.ContentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Variant returns the feed variant this controller serves.
func (c *Controller) Variant() Variant {
	return c.policy.Variant
}

// Snapshot returns the state and items under one lock.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Variant: c.policy.Variant,
		State:   c.state,
		Items:   slices.Clone(c.items),
	}
	if c.pool != nil {
		s.PoolSize = c.pool.Len()
		s.Served = c.pool.Served()
	}
	return s
}

// Subscribe registers fn to be called after every state transition. The
// returned function removes the subscription. Callbacks run outside the
// controller lock and may call back into the controller.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Close detaches the controller from its view. Fetches still in flight are
// discarded when they complete and further calls return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	clear(c.subs)
}

func (c *Controller) notify(s State) {
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
