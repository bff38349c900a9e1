// Package present paces decoded video frames to the renderer at their
// clock-computed display times.
package present

import (
	"time"

	"github.com/zsiec/lumen/internal/media"
)

// Timing is the dispatch metadata handed to the renderer with each
// frame. Error is dispatch time minus target: positive means the frame
// went out late.
type Timing struct {
	PresentationMs uint32
	Target         time.Time
	Error          time.Duration
}

// Renderer consumes paced frames. Push is invoked only by the
// scheduler, at the paced moment; ownership of the image transfers to
// the renderer, which must release it exactly once. The interface
// decouples pacing from any particular display stack and keeps the
// scheduler testable with stubs.
type Renderer interface {
	Push(img media.Image, frameNumber uint32, timing Timing)
}

// State is the scheduler lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
)

// String returns the lowercase state name used in logs.
func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}
