// Package clock maps stream presentation timestamps to wall-clock
// presentation deadlines, anchored at the first received frame of a
// session.
package clock

import (
	"log/slog"
	"sync"
	"time"
)

// Clock anchors a session's presentation timeline. One Clock exists per
// streaming session and is shared by the video and audio paths; construct
// with New.
//
// Presentation timestamps are unsigned 32-bit milliseconds and may wrap.
// Deltas against the anchor are computed with signed 32-bit arithmetic,
// so timestamps within ±2^31 ms of the anchor map correctly on either
// side of a wrap.
type Clock struct {
	mu          sync.Mutex
	log         *slog.Logger
	initialized bool
	streamStart time.Time
	firstPTSMs  uint32
}

// New creates an uninitialized Clock. If log is nil, slog.Default() is
// used.
func New(log *slog.Logger) *Clock {
	if log == nil {
		log = slog.Default()
	}
	return &Clock{log: log.With("component", "clock")}
}

// Initialize anchors the timeline: the frame carrying presentationMs is
// defined to present at the current wall-clock instant. Only the first
// call takes effect; later calls are logged at debug and ignored.
func (c *Clock) Initialize(presentationMs uint32, receiveMs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		c.log.Debug("clock already initialized", "pts", presentationMs)
		return
	}
	c.initialized = true
	c.streamStart = time.Now()
	c.firstPTSMs = presentationMs
	c.log.Info("stream clock initialized", "firstPts", presentationMs, "receiveMs", receiveMs)
}

// TargetPresentationTime returns the wall-clock instant at which the
// frame carrying ptsMs should be presented. ok is false before
// initialization; callers treat that as "nothing to schedule yet",
// never as an error.
func (c *Clock) TargetPresentationTime(ptsMs uint32) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return time.Time{}, false
	}
	delta := int32(ptsMs - c.firstPTSMs)
	return c.streamStart.Add(time.Duration(delta) * time.Millisecond), true
}

// TimingOffset returns the frame's deadline minus now: positive while the
// deadline is still ahead, negative once it has passed.
func (c *Clock) TimingOffset(ptsMs uint32) (time.Duration, bool) {
	target, ok := c.TargetPresentationTime(ptsMs)
	if !ok {
		return 0, false
	}
	return time.Until(target), true
}

// CurrentStreamTimeMs returns the stream-relative timestamp that should
// be presenting right now, modulo 2^32.
func (c *Clock) CurrentStreamTimeMs() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, false
	}
	elapsed := time.Since(c.streamStart).Milliseconds()
	return c.firstPTSMs + uint32(elapsed), true
}

// Reset returns the clock to the uninitialized state, ready for a new
// session anchor.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.streamStart = time.Time{}
	c.firstPTSMs = 0
}
