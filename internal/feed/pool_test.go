package feed

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedpool/internal/model"
)

func records(n int) []model.ContentRecord {
	out := make([]model.ContentRecord, n)
	for i := range out {
		out[i] = rec(fmt.Sprintf("r%03d", i), fmt.Sprintf("u%d", i%5))
	}
	return out
}

func TestPool_ExhaustionTrigger(t *testing.T) {
	p := NewPool(PoolConfig{PageSize: 30, LowWaterMark: 60})
	first := p.Build(records(100))
	assert.Len(t, first, 30)
	assert.Equal(t, 70, p.Len()-p.Served())
	assert.False(t, p.IsExhausted(), "70 remaining is above the low-water mark")

	second, err := p.NextPage()
	require.NoError(t, err)
	assert.Len(t, second, 30)
	assert.Equal(t, 40, p.Len()-p.Served())
	assert.True(t, p.IsExhausted(), "40 remaining is at or below the low-water mark")

	_, err = p.NextPage()
	assert.ErrorIs(t, err, ErrPoolEmpty)
}

func TestPool_DefaultLowWaterMark(t *testing.T) {
	p := NewPool(PoolConfig{PageSize: 10, LowWaterMark: DefaultLowWaterMark})
	p.Build(records(50)) // 40 remain
	assert.False(t, p.IsExhausted())
	_, err := p.NextPage() // 30 remain
	require.NoError(t, err)
	assert.False(t, p.IsExhausted())
	_, err = p.NextPage() // 20 remain <= 20
	require.NoError(t, err)
	assert.True(t, p.IsExhausted())
}

func TestPool_PaginationCompleteness(t *testing.T) {
	for _, n := range []int{0, 1, 29, 30, 31, 95, 300} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			in := records(n)
			p := NewPool(PoolConfig{PageSize: 30, LowWaterMark: 0})
			got := p.Build(in)
			for !p.IsExhausted() {
				page, err := p.NextPage()
				require.NoError(t, err)
				require.NotEmpty(t, page)
				got = append(got, page...)
			}
			if diff := cmp.Diff(in, got); diff != "" && n > 0 {
				t.Errorf("pages do not reproduce pool (-want +got):\n%s", diff)
			}
			assert.Equal(t, n, p.Served())
		})
	}
}

func TestPool_NextPageBeforeBuild(t *testing.T) {
	p := NewPool(PoolConfig{})
	_, err := p.NextPage()
	assert.ErrorIs(t, err, ErrPoolEmpty)
	assert.Equal(t, DefaultPageSize, p.pageSize)
}

func TestPool_Dedup(t *testing.T) {
	in := records(5)
	in = append(in, in[2], in[0])
	p := NewPool(PoolConfig{PageSize: 30})
	page := p.Build(in)
	require.Len(t, page, 5)
	assert.Equal(t, 2, p.Dropped())

	ids := make(map[string]int)
	for _, r := range page {
		ids[r.ID]++
	}
	assert.Equal(t, 1, ids[in[2].ID])
	assert.Equal(t, 1, ids[in[0].ID])
}

func TestPool_DropsMalformed(t *testing.T) {
	noMedia := rec("m", "u")
	noMedia.MediaRef = ""
	noAuthor := rec("n", "")
	noID := rec("", "u")

	p := NewPool(PoolConfig{PageSize: 10, RequireAuthor: true})
	page := p.Build([]model.ContentRecord{rec("ok", "u"), noMedia, noAuthor, noID})
	require.Len(t, page, 1)
	assert.Equal(t, "ok", page[0].ID)
	assert.Equal(t, 3, p.Dropped())

	p = NewPool(PoolConfig{PageSize: 10})
	page = p.Build([]model.ContentRecord{rec("ok", "u"), noAuthor})
	assert.Len(t, page, 2, "author is optional unless required")
}

func TestPool_RebuildResets(t *testing.T) {
	p := NewPool(PoolConfig{PageSize: 10, LowWaterMark: 0})
	p.Build(records(10))
	require.True(t, p.IsExhausted())

	page := p.Build(records(25))
	assert.Len(t, page, 10)
	assert.False(t, p.IsExhausted())
	assert.Equal(t, 25, p.Len())
	assert.Equal(t, 10, p.Served())
}

func TestPool_PagesAreCopies(t *testing.T) {
	p := NewPool(PoolConfig{PageSize: 2, LowWaterMark: 0})
	page := p.Build(records(4))
	page[0].ID = "mutated"
	next, err := p.NextPage()
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", next[0].ID)

	p2 := NewPool(PoolConfig{PageSize: 2, LowWaterMark: 0})
	again := p2.Build(records(4))
	assert.Equal(t, "r000", again[0].ID)
}
