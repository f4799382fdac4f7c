// Package feed implements the content feed pool engine: fairness sampling,
// shuffling, paged pools and the controller that drives them from scroll
// and refresh events.
package feed

import "errors"

var (
	// ErrSourceUnavailable wraps record source failures. It is recoverable:
	// the controller keeps its previous items and Refresh may be retried.
	ErrSourceUnavailable = errors.New("record source unavailable")

	// ErrPoolEmpty is returned when a page is requested before a pool was
	// built or after it was exhausted. Callers should check State first.
	ErrPoolEmpty = errors.New("feed pool empty")

	// ErrClosed is returned by a controller after Close.
	ErrClosed = errors.New("feed controller closed")
)
