package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryan-buckman/feedpool/internal/feed"
	"github.com/bryan-buckman/feedpool/internal/log"
	"github.com/bryan-buckman/feedpool/internal/metrics"
)

// session is one mounted feed surface held for a client.
type session struct {
	id     string
	viewer string
	ctrl   *feed.Controller

	lastSeen time.Time // guarded by registry.mu
}

// registry holds live sessions and closes them after ttl of inactivity.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newRegistry(ttl time.Duration) *registry {
	return &registry{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
		logger:   log.WithComponent("sessions"),
		stop:     make(chan struct{}),
	}
}

func (r *registry) add(viewer string, ctrl *feed.Controller) *session {
	s := &session{id: uuid.NewString(), viewer: viewer, ctrl: ctrl}
	r.mu.Lock()
	s.lastSeen = r.now()
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SetActiveSessions(n)
	return s
}

// get returns the session and marks it as used.
func (r *registry) get(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.lastSeen = r.now()
	}
	return s, ok
}

// remove closes and forgets the session. It reports whether it existed.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.ctrl.Close()
	metrics.SetActiveSessions(n)
	return true
}

// sweep closes every session idle for longer than ttl.
func (r *registry) sweep() int {
	cutoff := r.now().Add(-r.ttl)
	var expired []*session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.ctrl.Close()
	}
	if len(expired) > 0 {
		metrics.SetActiveSessions(n)
		r.logger.Debug().Int("expired", len(expired)).Int("active", n).Msg("expired idle sessions")
	}
	return len(expired)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *registry) closeAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
	for _, s := range all {
		s.ctrl.Close()
	}
	metrics.SetActiveSessions(0)
}

// startJanitor sweeps expired sessions in the background until stopJanitor.
func (r *registry) startJanitor() {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *registry) stopJanitor() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}
