package feed

import (
	"slices"

	"github.com/bryan-buckman/feedpool/internal/model"
)

// Sample returns at most total records in which no author contributes more
// than perAuthorCap, visiting the input in random order so the cap does not
// favour records that came first in the batch. When capping leaves fewer
// than total records, the result is padded with over-cap records (still in
// random order) until total is reached or the input runs out.
//
// perAuthorCap <= 0 disables the author cap; total <= 0 disables the size cap.
// The input slice is not modified.
func Sample(rng Rand, records []model.ContentRecord, perAuthorCap, total int) []model.ContentRecord {
	out, _ := sample(rng, records, perAuthorCap, total)
	return out
}

// sample is Sample that also reports how many leading records of the result
// respect the author cap. Records from index capped onward are padding.
func sample(rng Rand, records []model.ContentRecord, perAuthorCap, total int) (out []model.ContentRecord, capped int) {
	order := slices.Clone(records)
	Shuffle(rng, order)

	limit := len(order)
	if total > 0 && total < limit {
		limit = total
	}
	out = make([]model.ContentRecord, 0, limit)
	if perAuthorCap <= 0 {
		return append(out, order[:limit]...), limit
	}

	counts := make(map[string]int)
	var overflow []model.ContentRecord
	for _, r := range order {
		if len(out) == limit {
			break
		}
		if counts[r.Author] >= perAuthorCap {
			overflow = append(overflow, r)
			continue
		}
		counts[r.Author]++
		out = append(out, r)
	}
	capped = len(out)
	for _, r := range overflow {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, capped
}
