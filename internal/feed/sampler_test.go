package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedpool/internal/model"
)

func rec(id, author string) model.ContentRecord {
	return model.ContentRecord{
		ID:          id,
		Author:      author,
		Description: "a lighthouse at dusk, oil painting",
		MediaRef:    "https://cdn.example.net/" + id + ".png",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func authorCounts(records []model.ContentRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Author]++
	}
	return counts
}

func TestSample_AliceBobScenario(t *testing.T) {
	in := []model.ContentRecord{
		rec("a1", "alice"), rec("a2", "alice"), rec("a3", "alice"),
		rec("b1", "bob"), rec("b2", "bob"),
	}
	for seed := uint64(0); seed < 50; seed++ {
		out := Sample(NewRand(seed), in, 1, 300)
		require.Len(t, out, 5)

		firstTwo := authorCounts(out[:2])
		assert.Equal(t, map[string]int{"alice": 1, "bob": 1}, firstTwo, "seed %d", seed)

		rest := authorCounts(out[2:])
		assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, rest, "seed %d", seed)
	}
}

func TestSample_CapHoldsWithoutPadding(t *testing.T) {
	var in []model.ContentRecord
	for a := range 20 {
		for i := range 10 {
			in = append(in, rec(fmt.Sprintf("%d-%d", a, i), fmt.Sprintf("author-%d", a)))
		}
	}
	// 20 authors x cap 3 = 60 >= total 50, so no padding is needed.
	out := Sample(NewRand(3), in, 3, 50)
	require.Len(t, out, 50)
	for author, n := range authorCounts(out) {
		assert.LessOrEqual(t, n, 3, author)
	}
}

func TestSample_PadsWhenAuthorsAreScarce(t *testing.T) {
	var in []model.ContentRecord
	for i := range 10 {
		in = append(in, rec(fmt.Sprintf("x%d", i), "prolific"))
	}
	in = append(in, rec("y0", "quiet"))

	out := Sample(NewRand(11), in, 2, 6)
	require.Len(t, out, 6)
	counts := authorCounts(out[:3])
	assert.Equal(t, 2, counts["prolific"])
	assert.Equal(t, 1, counts["quiet"])
	for _, r := range out[3:] {
		assert.Equal(t, "prolific", r.Author)
	}
}

func TestSample_TotalCapAndNoDuplicates(t *testing.T) {
	var in []model.ContentRecord
	for i := range 100 {
		in = append(in, rec(fmt.Sprintf("r%d", i), fmt.Sprintf("u%d", i%7)))
	}
	out := Sample(NewRand(5), in, 3, 30)
	require.Len(t, out, 30)
	// 7 authors x cap 3: the first 21 picks respect the cap, the rest is padding.
	for author, n := range authorCounts(out[:21]) {
		assert.Equal(t, 3, n, author)
	}

	out = Sample(NewRand(5), in, 3, 40)
	require.Len(t, out, 40)
	seen := make(map[string]bool)
	for _, r := range out {
		assert.False(t, seen[r.ID], "duplicate %s", r.ID)
		seen[r.ID] = true
	}
}

func TestSample_DoesNotMutateInput(t *testing.T) {
	in := []model.ContentRecord{rec("1", "a"), rec("2", "b"), rec("3", "c")}
	orig := append([]model.ContentRecord(nil), in...)
	_ = Sample(NewRand(1), in, 1, 2)
	assert.Equal(t, orig, in)
}

func TestSample_DisabledCaps(t *testing.T) {
	in := []model.ContentRecord{rec("1", "a"), rec("2", "a"), rec("3", "a")}
	assert.Len(t, Sample(NewRand(1), in, 0, 0), 3)
	assert.Len(t, Sample(NewRand(1), in, 0, 2), 2)
	assert.Empty(t, Sample(NewRand(1), nil, 3, 300))
}

func TestSample_ReportsCappedPrefix(t *testing.T) {
	var in []model.ContentRecord
	for i := range 12 {
		in = append(in, rec(fmt.Sprintf("%02d", i), fmt.Sprintf("u%d", i%2)))
	}
	out, capped := sample(NewRand(8), in, 2, 10)
	require.Len(t, out, 10)
	assert.Equal(t, 4, capped)

	perAuthor := make(map[string]int)
	for _, r := range out[:capped] {
		perAuthor[r.Author]++
	}
	assert.Equal(t, map[string]int{"u0": 2, "u1": 2}, perAuthor)

	_, capped = sample(NewRand(8), in, 0, 5)
	assert.Equal(t, 5, capped, "without an author cap every record counts as capped")
}
