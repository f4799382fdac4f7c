package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bryan-buckman/feedpool/internal/feed"
	"github.com/bryan-buckman/feedpool/internal/model"
)

func idleController(t *testing.T) *feed.Controller {
	t.Helper()
	policy, err := feed.NewPolicy(feed.VariantCommunity, "", feed.DefaultKnobs(feed.VariantCommunity))
	require.NoError(t, err)
	src := feed.SourceFunc(func(context.Context, model.BatchFilter) ([]model.ContentRecord, error) {
		return nil, nil
	})
	return feed.NewController(src, policy, feed.NewRand(1))
}

func TestRegistry_SweepExpiresIdleSessions(t *testing.T) {
	r := newRegistry(time.Minute)
	now := base
	r.now = func() time.Time { return now }

	stale := r.add("", idleController(t))
	fresh := r.add("", idleController(t))

	now = now.Add(45 * time.Second)
	_, ok := r.get(fresh.id)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, r.sweep())
	assert.Equal(t, 1, r.len())

	_, ok = r.get(stale.id)
	assert.False(t, ok)
	_, err := stale.ctrl.LoadMore()
	assert.ErrorIs(t, err, feed.ErrClosed, "expired sessions are closed")

	_, ok = r.get(fresh.id)
	assert.True(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	r := newRegistry(time.Minute)
	s := r.add("zed", idleController(t))
	assert.True(t, r.remove(s.id))
	assert.False(t, r.remove(s.id))
	assert.Zero(t, r.len())
}

func TestShutdown_StopsJanitorAndClosesSessions(t *testing.T) {
	db := newTestDB(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(testConfig(), db)
	s.sessions.startJanitor()
	sess := s.sessions.add("", idleController(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Zero(t, s.sessions.len())
	_, err := sess.ctrl.LoadMore()
	assert.ErrorIs(t, err, feed.ErrClosed)
}
