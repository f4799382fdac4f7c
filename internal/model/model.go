// Package model defines shared data structures.
package model

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Kind is the generation type that produced a record.
type Kind string

// Known generation kinds.
const (
	KindTextToImage  Kind = "text-to-image"
	KindImageToImage Kind = "image-to-image"
	KindVariations   Kind = "variations"
	KindBatch        Kind = "batch"
	KindUpscale      Kind = "upscale"
)

// SetSize returns how many artifacts one generation of this kind produces.
func (k Kind) SetSize() int {
	switch k {
	case KindVariations, KindBatch:
		return 4
	default:
		return 1
	}
}

// ParseKind maps a free-form label (e.g. an RSS category) to a Kind.
// Unknown labels map to KindTextToImage.
func ParseKind(label string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(label))) {
	case KindImageToImage:
		return KindImageToImage
	case KindVariations:
		return KindVariations
	case KindBatch:
		return KindBatch
	case KindUpscale:
		return KindUpscale
	default:
		return KindTextToImage
	}
}

// ContentRecord represents one generated artifact.
type ContentRecord struct {
	ID          string    `json:"id"`
	Author      string    `json:"author,omitempty"` // empty when unknown
	Description string    `json:"description"`      // generation prompt
	MediaRef    string    `json:"media_ref"`
	CreatedAt   time.Time `json:"created_at"`
	Kind        Kind      `json:"kind,omitempty"`
}

// Badge returns an "N of M" label for records that belong to a multi-image
// generation, using the sequence number encoded at the end of the file name
// (".../abc_2.png" or ".../abc-2.png"). It returns "" when no badge applies.
func (r ContentRecord) Badge() string {
	total := r.Kind.SetSize()
	if total <= 1 {
		return ""
	}
	n, ok := sequenceNumber(r.MediaRef)
	if !ok || n < 1 || n > total {
		return ""
	}
	return fmt.Sprintf("%d of %d", n, total)
}

func sequenceNumber(ref string) (int, bool) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	name := path.Base(ref)
	name = strings.TrimSuffix(name, path.Ext(name))
	i := strings.LastIndexAny(name, "_-")
	if i < 0 || i == len(name)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// OrderNewestFirst is the only ordering a record source must support.
const OrderNewestFirst = "createdAt desc"

// MaxBatchLimit caps a single record source query.
const MaxBatchLimit = 500

// BatchFilter describes one bulk query against a record source.
type BatchFilter struct {
	ExcludeAuthor    string // skip records by this author
	Author           string // only records by this author (per-user feeds)
	RequireCompleted bool   // only records with a non-empty media reference
	Limit            int
	Offset           int
	OrderBy          string
}

// IngestSource is an upstream RSS/Atom feed publishing finished generations.
type IngestSource struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Group       string    `json:"group,omitempty"` // optional grouping label, round-trips through OPML
	LastFetched time.Time `json:"last_fetched"`
	LastError   string    `json:"last_error,omitempty"`
}

// Settings key constants.
const (
	SettingPollingInterval = "polling_interval_minutes"
)
