package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedpool/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *DB, recs ...model.ContentRecord) {
	t.Helper()
	for i := range recs {
		isNew, err := db.AddRecord(context.Background(), &recs[i])
		require.NoError(t, err)
		require.True(t, isNew)
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id, author string, minutes int, media string) model.ContentRecord {
	return model.ContentRecord{
		ID:          id,
		Author:      author,
		Description: "prompt for " + id,
		MediaRef:    media,
		CreatedAt:   base.Add(time.Duration(minutes) * time.Minute),
		Kind:        model.KindTextToImage,
	}
}

func TestDB_FetchBatchOrdersNewestFirst(t *testing.T) {
	db := newTestDB(t)
	seed(t, db,
		record("a", "alice", 1, "https://cdn/a.png"),
		record("b", "bob", 3, "https://cdn/b.png"),
		record("c", "alice", 2, "https://cdn/c.png"),
	)

	got, err := db.FetchBatch(context.Background(), model.BatchFilter{OrderBy: model.OrderNewestFirst})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.True(t, got[0].CreatedAt.Equal(base.Add(3*time.Minute)))
	assert.Equal(t, model.KindTextToImage, got[0].Kind)
}

func TestDB_FetchBatchFilters(t *testing.T) {
	db := newTestDB(t)
	seed(t, db,
		record("a", "alice", 1, "https://cdn/a.png"),
		record("b", "bob", 2, "https://cdn/b.png"),
		record("p", "bob", 3, ""), // still generating
		record("n", "", 4, "https://cdn/n.png"),
	)
	ctx := context.Background()

	got, err := db.FetchBatch(ctx, model.BatchFilter{ExcludeAuthor: "alice", RequireCompleted: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "n"}, ids(got), "anonymous records are not excluded by author")

	got, err = db.FetchBatch(ctx, model.BatchFilter{Author: "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "b"}, ids(got))

	got, err = db.FetchBatch(ctx, model.BatchFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "b"}, ids(got))

	got, err = db.FetchBatch(ctx, model.BatchFilter{Author: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = db.FetchBatch(ctx, model.BatchFilter{OrderBy: "random"})
	assert.Error(t, err)
}

func TestDB_AddRecordIgnoresDuplicates(t *testing.T) {
	db := newTestDB(t)
	r := record("dup", "alice", 0, "https://cdn/d.png")
	seed(t, db, r)

	isNew, err := db.AddRecord(context.Background(), &r)
	require.NoError(t, err)
	assert.False(t, isNew)

	n, err := db.CountRecords(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDB_Sources(t *testing.T) {
	db := newTestDB(t)
	id, created, err := db.GetOrCreateSource("Studio", "https://studio.example/feed.xml", "partners")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := db.GetOrCreateSource("Other", "https://studio.example/feed.xml", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	require.NoError(t, db.UpdateSourceError(id, "boom"))
	src, err := db.GetSourceByID(id)
	require.NoError(t, err)
	assert.Equal(t, "boom", src.LastError)
	assert.Equal(t, "partners", src.Group)

	require.NoError(t, db.UpdateSourceFetched(id, base))
	src, err = db.GetSourceByID(id)
	require.NoError(t, err)
	assert.Empty(t, src.LastError)
	assert.True(t, src.LastFetched.Equal(base))

	require.NoError(t, db.DeleteSource(id))
	sources, err := db.GetSources()
	require.NoError(t, err)
	assert.Empty(t, sources)
	_, err = db.GetSourceByID(id)
	assert.Error(t, err)
}

func TestDB_UpdateSourceErrorTruncates(t *testing.T) {
	db := newTestDB(t)
	id, _, err := db.GetOrCreateSource("Studio", "https://studio.example/feed.xml", "")
	require.NoError(t, err)

	long := "fetch https://studio.example/feed.xml: " + strings.Repeat("é", 300)
	require.NoError(t, db.UpdateSourceError(id, long))
	src, err := db.GetSourceByID(id)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(src.LastError), 200)
	assert.True(t, strings.HasPrefix(long, src.LastError))
	assert.True(t, utf8.ValidString(src.LastError))
}

func TestDB_PollingInterval(t *testing.T) {
	db := newTestDB(t)
	mins, err := db.GetPollingInterval()
	require.NoError(t, err)
	assert.Equal(t, 15, mins)

	require.NoError(t, db.SetSetting(model.SettingPollingInterval, "5"))
	mins, _ = db.GetPollingInterval()
	assert.Equal(t, MinPollingIntervalMinutes, mins)

	require.NoError(t, db.SetSetting(model.SettingPollingInterval, "45"))
	mins, _ = db.GetPollingInterval()
	assert.Equal(t, 45, mins)
}

func TestBuildBatchQuery_Dialects(t *testing.T) {
	f := model.BatchFilter{ExcludeAuthor: "x", RequireCompleted: true, Limit: 9000, Offset: -4}
	q, args, err := buildBatchQuery(f, dollar)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, author, description, media_ref, kind, created_at FROM records"+
			" WHERE (author IS NULL OR author <> $1) AND media_ref IS NOT NULL AND media_ref <> ''"+
			" ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{"x", model.MaxBatchLimit, 0}, args)

	q, _, err = buildBatchQuery(model.BatchFilter{Author: "y"}, questionMark)
	require.NoError(t, err)
	assert.Contains(t, q, "WHERE author = ? ORDER BY")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	assert.Error(t, err)
}

func ids(records []model.ContentRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// countingFetcher blocks until release is closed so calls overlap.
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *countingFetcher) FetchBatch(ctx context.Context, filter model.BatchFilter) ([]model.ContentRecord, error) {
	f.calls.Add(1)
	<-f.release
	if f.err != nil {
		return nil, f.err
	}
	return []model.ContentRecord{{ID: fmt.Sprint(filter.Limit)}}, nil
}

func TestSharedSource_CollapsesConcurrentCalls(t *testing.T) {
	next := &countingFetcher{release: make(chan struct{})}
	shared := NewSharedSource(next)
	filter := model.BatchFilter{Limit: 7}

	var wg sync.WaitGroup
	results := make([][]model.ContentRecord, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := shared.FetchBatch(context.Background(), filter)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	// Let all callers join the flight before it completes.
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.LessOrEqual(t, next.calls.Load(), int32(5))
	for _, r := range results {
		require.Len(t, r, 1)
		assert.Equal(t, "7", r[0].ID)
	}
	results[0][0].ID = "mutated"
	assert.Equal(t, "7", results[1][0].ID, "callers get independent slices")
}

func TestSharedSource_PropagatesErrors(t *testing.T) {
	next := &countingFetcher{release: make(chan struct{}), err: errors.New("db down")}
	close(next.release)
	_, err := NewSharedSource(next).FetchBatch(context.Background(), model.BatchFilter{})
	assert.EqualError(t, err, "db down")
}

// blockingFetcher waits for its context to end and reports the error it saw.
type blockingFetcher struct {
	done chan error
}

func (f *blockingFetcher) FetchBatch(ctx context.Context, _ model.BatchFilter) ([]model.ContentRecord, error) {
	<-ctx.Done()
	f.done <- ctx.Err()
	return nil, ctx.Err()
}

func TestSharedSource_CallerCancellationReturnsPromptly(t *testing.T) {
	next := &blockingFetcher{done: make(chan error, 1)}
	shared := NewSharedSource(next)
	shared.Timeout = 300 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := shared.FetchBatch(ctx, model.BatchFilter{Limit: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "caller must not wait for the shared query")

	select {
	case err := <-next.done:
		assert.ErrorIs(t, err, context.DeadlineExceeded, "shared query is bounded by its own timeout")
	case <-time.After(2 * time.Second):
		t.Fatal("shared query was never cancelled")
	}
}

func TestSharedSource_FlightSurvivesOneCallerLeaving(t *testing.T) {
	next := &countingFetcher{release: make(chan struct{})}
	shared := NewSharedSource(next)
	filter := model.BatchFilter{Limit: 3}

	leaving, leave := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := shared.FetchBatch(leaving, filter)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		records []model.ContentRecord
		err     error
	}
	stayCh := make(chan result, 1)
	go func() {
		got, err := shared.FetchBatch(context.Background(), filter)
		stayCh <- result{got, err}
	}()

	leave()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	close(next.release)

	res := <-stayCh
	require.NoError(t, res.err)
	require.Len(t, res.records, 1)
	assert.Equal(t, "3", res.records[0].ID)
}
