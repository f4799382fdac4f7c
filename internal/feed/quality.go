package feed

import (
	"strings"
	"unicode/utf8"

	"github.com/bryan-buckman/feedpool/internal/model"
)

// DefaultExcludedMarkers are description fragments that identify test and
// scratch generations.
var DefaultExcludedMarkers = []string{"test", "debug", "example", "lorem ipsum", "asdf"}

// QualityFilter rejects records whose description is too short or contains
// an excluded marker (case-insensitive).
type QualityFilter struct {
	MinDescriptionLength int
	ExcludedMarkers      []string
}

// Allow reports whether r passes the filter.
func (q QualityFilter) Allow(r model.ContentRecord) bool {
	desc := strings.TrimSpace(r.Description)
	if utf8.RuneCountInString(desc) < q.MinDescriptionLength {
		return false
	}
	lower := strings.ToLower(desc)
	for _, m := range q.ExcludedMarkers {
		if m == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(m)) {
			return false
		}
	}
	return true
}

// Apply returns the records that pass and the number rejected.
func (q QualityFilter) Apply(records []model.ContentRecord) ([]model.ContentRecord, int) {
	out := make([]model.ContentRecord, 0, len(records))
	for _, r := range records {
		if q.Allow(r) {
			out = append(out, r)
		}
	}
	return out, len(records) - len(out)
}

// Sanitize drops malformed records (missing id or media reference, or a
// missing author when requireAuthor is set) and repeated ids, keeping the
// first occurrence. It returns the kept records and how many were dropped.
func Sanitize(records []model.ContentRecord, requireAuthor bool) ([]model.ContentRecord, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]model.ContentRecord, 0, len(records))
	for _, r := range records {
		if r.ID == "" || strings.TrimSpace(r.MediaRef) == "" {
			continue
		}
		if requireAuthor && strings.TrimSpace(r.Author) == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out, len(records) - len(out)
}
