package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeHost struct {
	suspended, resumed int
}

func (h *fakeHost) SuspendScroll() { h.suspended++ }
func (h *fakeHost) ResumeScroll()  { h.resumed++ }

func TestDetailOverlay_Nested(t *testing.T) {
	host := &fakeHost{}
	d := NewDetailOverlay(host)

	d.Open()
	d.Open()
	assert.True(t, d.IsOpen())
	assert.Equal(t, 1, host.suspended)

	d.Close()
	assert.Equal(t, 0, host.resumed)
	d.Close()
	assert.Equal(t, 1, host.resumed)
	assert.False(t, d.IsOpen())

	d.Close() // unbalanced
	assert.Equal(t, 1, host.resumed)
}
