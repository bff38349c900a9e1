package present

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/lumen/internal/media"
)

// Pacing defaults. The queue bound of 16 frames is ~270 ms at 60 fps,
// several times the catch-up threshold: hitting it means the renderer
// has stalled outright, and dropping the oldest frame keeps the stream
// live instead of ever-further behind.
const (
	defaultFPS       = 60
	defaultMaxQueued = 16
)

// Options tunes the pacing geometry. Zero values select the defaults.
type Options struct {
	// FPS is the nominal stream frame rate; it sets the tick interval
	// (half a frame) and the catch-up threshold (two frames).
	FPS       int
	MaxQueued int
}

// Scheduler releases decoded frames to the renderer at their target
// presentation times. Frames enter a bounded FIFO; the run loop ticks at
// twice the nominal frame rate and dispatches every frame whose target
// has arrived, so delivery is smooth when timing is accurate and drains
// immediately when the pipeline falls behind. Overflow drops the oldest
// queued frame and releases its image.
//
// The scheduler is Idle until the first frame is enqueued and returns to
// Idle on Stop, which drains the queue and releases every queued image.
type Scheduler struct {
	log      *slog.Logger
	renderer Renderer

	tick          time.Duration
	frameInterval time.Duration
	lateThreshold time.Duration
	maxQueued     int

	mu       sync.Mutex
	state    State
	stopped  bool
	queue    []media.QueuedFrame
	maxDepth int

	due []media.QueuedFrame // run-loop dispatch scratch

	dispatched atomic.Int64
	early      atomic.Int64
	late       atomic.Int64
	dropped    atomic.Int64
	absErrorUs atomic.Int64
}

// NewScheduler creates a Scheduler pushing frames to r. If log is nil,
// slog.Default() is used.
func NewScheduler(r Renderer, opts Options, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	maxQueued := opts.MaxQueued
	if maxQueued <= 0 {
		maxQueued = defaultMaxQueued
	}
	frameInterval := time.Second / time.Duration(fps)
	return &Scheduler{
		log:           log.With("component", "present"),
		renderer:      r,
		tick:          frameInterval / 2,
		frameInterval: frameInterval,
		lateThreshold: 2 * frameInterval,
		maxQueued:     maxQueued,
		queue:         make([]media.QueuedFrame, 0, maxQueued),
	}
}

// Enqueue adds a decoded frame to the presentation queue, activating the
// scheduler on the first frame. When the queue is full the oldest frame
// is dropped and its image released. Frames enqueued after Stop are
// released immediately.
func (s *Scheduler) Enqueue(f media.QueuedFrame) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		f.Image.Release()
		s.dropped.Add(1)
		return
	}
	if s.state == StateIdle {
		s.state = StateActive
		s.log.Debug("scheduler active", "frame", f.FrameNumber)
	}

	var evicted media.QueuedFrame
	didEvict := len(s.queue) >= s.maxQueued
	if didEvict {
		evicted = s.queue[0]
		copy(s.queue, s.queue[1:])
		s.queue[len(s.queue)-1] = f
	} else {
		s.queue = append(s.queue, f)
	}
	if len(s.queue) > s.maxDepth {
		s.maxDepth = len(s.queue)
	}
	s.mu.Unlock()

	if didEvict {
		evicted.Image.Release()
		s.dropped.Add(1)
		s.log.Debug("presentation queue full, dropping oldest",
			"dropped", evicted.FrameNumber, "enqueued", f.FrameNumber)
	}
}

// Run drives the pacing loop until ctx is cancelled, then drains the
// queue via Stop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.dispatchDue(time.Now())
		}
	}
}

// dispatchDue pops every frame due by now (give or take half a tick, so
// a frame lands on the tick nearest its target) and pushes them to the
// renderer outside the lock. Draining in FIFO order means a backlog is
// released in one tick rather than stretched a frame per tick.
func (s *Scheduler) dispatchDue(now time.Time) {
	horizon := now.Add(s.tick / 2)

	s.due = s.due[:0]
	s.mu.Lock()
	for len(s.queue) > 0 && !s.queue[0].Target.After(horizon) {
		s.due = append(s.due, s.queue[0])
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
	}
	s.mu.Unlock()

	for _, f := range s.due {
		timingErr := now.Sub(f.Target)
		s.dispatched.Add(1)
		if timingErr < 0 {
			s.early.Add(1)
		} else if timingErr > 0 {
			s.late.Add(1)
		}
		s.absErrorUs.Add(timingErr.Abs().Microseconds())
		if timingErr > s.lateThreshold {
			s.log.Debug("frame past catch-up threshold",
				"frame", f.FrameNumber, "late", timingErr)
		}
		s.renderer.Push(f.Image, f.FrameNumber, Timing{
			PresentationMs: f.PresentationMs,
			Target:         f.Target,
			Error:          timingErr,
		})
	}
}

// Stop halts dispatch and releases every queued image. Safe from any
// goroutine, idempotent; the scheduler does not accept frames afterward.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.state = StateIdle
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, f := range drained {
		f.Image.Release()
	}
	s.log.Info("scheduler stopped",
		"dispatched", s.dispatched.Load(),
		"dropped", s.dropped.Load(),
		"drained", len(drained))
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Depth returns the number of queued frames.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stats is a point-in-time snapshot of the pacing counters. Timing
// error is dispatch time versus target, aggregated as a mean of
// absolute values.
type Stats struct {
	Dispatched     int64   `json:"dispatched"`
	Early          int64   `json:"early"`
	Late           int64   `json:"late"`
	Dropped        int64   `json:"dropped"`
	MeanAbsErrorMs float64 `json:"meanAbsErrorMs"`
	MaxDepth       int     `json:"maxDepth"`
	Depth          int     `json:"depth"`
}

// Stats returns a snapshot of the pacing counters.
func (s *Scheduler) Stats() Stats {
	dispatched := s.dispatched.Load()
	var mean float64
	if dispatched > 0 {
		mean = float64(s.absErrorUs.Load()) / float64(dispatched) / 1e3
	}
	s.mu.Lock()
	depth := len(s.queue)
	maxDepth := s.maxDepth
	s.mu.Unlock()
	return Stats{
		Dispatched:     dispatched,
		Early:          s.early.Load(),
		Late:           s.late.Load(),
		Dropped:        s.dropped.Load(),
		MeanAbsErrorMs: mean,
		MaxDepth:       maxDepth,
		Depth:          depth,
	}
}
