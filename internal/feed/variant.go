package feed

import (
	"fmt"
	"strings"

	"github.com/bryan-buckman/feedpool/internal/model"
)

// Variant names a feed surface.
type Variant string

// Feed surfaces.
const (
	// VariantCommunity is the shared inspiration feed: other people's work,
	// quality filtered, author-capped and shuffled.
	VariantCommunity Variant = "community"
	// VariantGallery is one user's own work, newest first.
	VariantGallery Variant = "gallery"
	// VariantRecent is the short strip of a user's latest images.
	VariantRecent Variant = "recent"
)

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(s)); v {
	case VariantCommunity, VariantGallery, VariantRecent:
		return v, nil
	default:
		return "", fmt.Errorf("unknown feed variant %q", s)
	}
}

// Knobs are the tunable parameters of one variant.
type Knobs struct {
	PageSize             int      `yaml:"page_size"`
	LowWaterMark         int      `yaml:"low_water_mark"`
	BatchLimit           int      `yaml:"batch_limit"`
	PerAuthorCap         int      `yaml:"per_author_cap"`
	PoolCap              int      `yaml:"pool_cap"`
	MinDescriptionLength int      `yaml:"min_description_length"`
	ExcludedTextMarkers  []string `yaml:"excluded_text_markers"`
}

// DefaultKnobs returns the stock settings for a variant.
func DefaultKnobs(v Variant) Knobs {
	switch v {
	case VariantCommunity:
		return Knobs{
			PageSize:             DefaultPageSize,
			LowWaterMark:         2 * DefaultPageSize,
			BatchLimit:           model.MaxBatchLimit,
			PerAuthorCap:         3,
			PoolCap:              300,
			MinDescriptionLength: 10,
			ExcludedTextMarkers:  append([]string(nil), DefaultExcludedMarkers...),
		}
	case VariantRecent:
		return Knobs{
			PageSize:     12,
			LowWaterMark: 0,
			BatchLimit:   60,
		}
	default:
		return Knobs{
			PageSize:     DefaultPageSize,
			LowWaterMark: 0,
			BatchLimit:   model.MaxBatchLimit,
		}
	}
}

// Policy is the complete recipe a Controller follows to build its pool.
type Policy struct {
	Variant      Variant
	Filter       model.BatchFilter
	Quality      *QualityFilter // nil disables quality filtering
	Fair         bool           // apply the fairness sampler
	Shuffle      bool           // shuffle the pool on every build
	PerAuthorCap int
	PoolCap      int
	Pool         PoolConfig
}

// NewPolicy builds the policy for variant v as seen by viewer. The
// community feed excludes the viewer's own records; the per-user feeds
// show only the viewer's records and therefore require a viewer.
func NewPolicy(v Variant, viewer string, k Knobs) (Policy, error) {
	limit := k.BatchLimit
	if limit <= 0 || limit > model.MaxBatchLimit {
		limit = model.MaxBatchLimit
	}
	filter := model.BatchFilter{
		RequireCompleted: true,
		Limit:            limit,
		OrderBy:          model.OrderNewestFirst,
	}
	pool := PoolConfig{PageSize: k.PageSize, LowWaterMark: k.LowWaterMark}

	switch v {
	case VariantCommunity:
		filter.ExcludeAuthor = viewer
		pool.RequireAuthor = true
		return Policy{
			Variant: v,
			Filter:  filter,
			Quality: &QualityFilter{
				MinDescriptionLength: k.MinDescriptionLength,
				ExcludedMarkers:      k.ExcludedTextMarkers,
			},
			Fair:         true,
			Shuffle:      true,
			PerAuthorCap: k.PerAuthorCap,
			PoolCap:      k.PoolCap,
			Pool:         pool,
		}, nil
	case VariantGallery, VariantRecent:
		if viewer == "" {
			return Policy{}, fmt.Errorf("%s feed requires a viewer", v)
		}
		filter.Author = viewer
		return Policy{Variant: v, Filter: filter, Pool: pool}, nil
	default:
		return Policy{}, fmt.Errorf("unknown feed variant %q", v)
	}
}
