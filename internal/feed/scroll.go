package feed

import "sync"

// ScrollLocker is implemented by the host view to stop and restore page
// scrolling, e.g. while a detail overlay covers the feed.
type ScrollLocker interface {
	SuspendScroll()
	ResumeScroll()
}

// DetailOverlay tracks open detail overlays. The first Open suspends host
// scrolling and the matching last Close resumes it.
type DetailOverlay struct {
	host ScrollLocker

	mu   sync.Mutex
	open int
}

// NewDetailOverlay returns an overlay tracker for host.
func NewDetailOverlay(host ScrollLocker) *DetailOverlay {
	return &DetailOverlay{host: host}
}

// Open records an overlay opening.
func (d *DetailOverlay) Open() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open++
	if d.open == 1 {
		d.host.SuspendScroll()
	}
}

// Close records an overlay closing. Unbalanced calls are ignored.
func (d *DetailOverlay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open == 0 {
		return
	}
	d.open--
	if d.open == 0 {
		d.host.ResumeScroll()
	}
}

// IsOpen reports whether any overlay is open.
func (d *DetailOverlay) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open > 0
}
