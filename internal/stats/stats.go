// Package stats accumulates per-session pipeline telemetry and exposes
// it as JSON snapshots for the debug API and as Prometheus metrics.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/decode"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/present"
)

// Compile-time interface check.
var _ decode.StatsRecorder = (*Pipeline)(nil)

// slidingWindow is the span of the frame-rate and bitrate windows.
const slidingWindow = 2 * time.Second

// VideoStats holds point-in-time video-path metrics for a session,
// serialized as JSON in session snapshots.
type VideoStats struct {
	Units          int64   `json:"units"`
	KeyFrames      int64   `json:"keyFrames"`
	DeltaFrames    int64   `json:"deltaFrames"`
	TotalBytes     int64   `json:"totalBytes"`
	BitrateKbps    float64 `json:"bitrateKbps"`
	FrameRate      float64 `json:"frameRate"`
	SkippedUnits   int64   `json:"skippedUnits"`
	DecodeFailures int64   `json:"decodeFailures"`
	SessionInits   int64   `json:"sessionInits"`
	LastPTSMs      uint32  `json:"lastPtsMs"`
	PrepareMeanMs  float64 `json:"prepareMeanMs"`
	PrepareMaxMs   float64 `json:"prepareMaxMs"`
}

// SessionSnapshot is the top-level stats payload for one streaming
// session, aggregating the video, presentation, and audio paths.
type SessionSnapshot struct {
	Session  string        `json:"session"`
	Codec    string        `json:"codec"`
	UptimeMs int64         `json:"uptimeMs"`
	Video    VideoStats    `json:"video"`
	Present  present.Stats `json:"present"`
	Audio    audio.Stats   `json:"audio"`
}

// Pipeline accumulates video-path telemetry from the assembler in a
// concurrency-safe manner using atomic counters. It implements
// decode.StatsRecorder and produces point-in-time VideoStats for the
// session snapshot.
//
// Fields are organized by the mechanism that guards them:
//   - Atomic counters: lock-free concurrent reads/writes
//   - fpsWindowMu: frame-arrival sliding window
//   - bitrateWindowMu: frame-size sliding window
type Pipeline struct {
	session string
	codec   media.Codec
	started time.Time

	units        atomic.Int64
	keyframes    atomic.Int64
	deltaFrames  atomic.Int64
	totalBytes   atomic.Int64
	skipped      atomic.Int64
	decodeFails  atomic.Int64
	sessionInits atomic.Int64
	lastPTSMs    atomic.Uint32
	prepTotalUs  atomic.Int64
	prepMaxUs    atomic.Int64

	// fpsWindowMu guards fpsWindow
	fpsWindowMu sync.Mutex
	fpsWindow   []time.Time

	// bitrateWindowMu guards bitrateWindow
	bitrateWindowMu sync.Mutex
	bitrateWindow   []bitrateEntry
}

type bitrateEntry struct {
	ts    time.Time
	bytes int64
}

// NewPipeline creates a Pipeline recorder for the named session.
func NewPipeline(session string, codec media.Codec) *Pipeline {
	return &Pipeline{
		session: session,
		codec:   codec,
		started: time.Now(),
	}
}

// RecordVideoUnit records one submitted decode unit: size, frame kind,
// PTS, and the wall-clock cost of assembling and reformatting it.
func (p *Pipeline) RecordVideoUnit(bytes int, kind media.FrameKind, ptsMs uint32, prep time.Duration) {
	p.units.Add(1)
	p.totalBytes.Add(int64(bytes))
	if kind == media.KeyFrame {
		p.keyframes.Add(1)
	} else {
		p.deltaFrames.Add(1)
	}
	p.lastPTSMs.Store(ptsMs)

	us := prep.Microseconds()
	p.prepTotalUs.Add(us)
	for {
		cur := p.prepMaxUs.Load()
		if us <= cur || p.prepMaxUs.CompareAndSwap(cur, us) {
			break
		}
	}

	now := time.Now()
	cutoff := now.Add(-slidingWindow)

	p.fpsWindowMu.Lock()
	p.fpsWindow = append(p.fpsWindow, now)
	j := 0
	for j < len(p.fpsWindow) && p.fpsWindow[j].Before(cutoff) {
		j++
	}
	p.fpsWindow = p.fpsWindow[j:]
	p.fpsWindowMu.Unlock()

	p.bitrateWindowMu.Lock()
	p.bitrateWindow = append(p.bitrateWindow, bitrateEntry{ts: now, bytes: int64(bytes)})
	i := 0
	for i < len(p.bitrateWindow) && p.bitrateWindow[i].ts.Before(cutoff) {
		i++
	}
	p.bitrateWindow = p.bitrateWindow[i:]
	p.bitrateWindowMu.Unlock()
}

// RecordSkippedUnit records a unit that carried no picture data.
func (p *Pipeline) RecordSkippedUnit() {
	p.skipped.Add(1)
}

// RecordDecodeFailure records a bitstream the decode session rejected.
func (p *Pipeline) RecordDecodeFailure() {
	p.decodeFails.Add(1)
}

// RecordSessionInit records an established decode session.
func (p *Pipeline) RecordSessionInit() {
	p.sessionInits.Add(1)
}

// FrameRate computes the current decode-unit rate from the sliding
// window.
func (p *Pipeline) FrameRate() float64 {
	p.fpsWindowMu.Lock()
	defer p.fpsWindowMu.Unlock()

	if len(p.fpsWindow) < 2 {
		return 0
	}
	dur := p.fpsWindow[len(p.fpsWindow)-1].Sub(p.fpsWindow[0]).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(len(p.fpsWindow)-1) / dur
}

// BitrateKbps computes the current video bitrate from the sliding window
// of unit sizes.
func (p *Pipeline) BitrateKbps() float64 {
	p.bitrateWindowMu.Lock()
	defer p.bitrateWindowMu.Unlock()

	if len(p.bitrateWindow) < 2 {
		return 0
	}
	dur := p.bitrateWindow[len(p.bitrateWindow)-1].ts.Sub(p.bitrateWindow[0].ts).Seconds()
	if dur <= 0 {
		return 0
	}
	var total int64
	for _, e := range p.bitrateWindow {
		total += e.bytes
	}
	return float64(total) * 8 / dur / 1000
}

// Session returns the session name the recorder was created with.
func (p *Pipeline) Session() string {
	return p.session
}

// Codec returns the session's video codec.
func (p *Pipeline) Codec() media.Codec {
	return p.codec
}

// UptimeMs returns milliseconds since the recorder was created.
func (p *Pipeline) UptimeMs() int64 {
	return time.Since(p.started).Milliseconds()
}

// Snapshot produces a consistent point-in-time view of the video path.
func (p *Pipeline) Snapshot() VideoStats {
	units := p.units.Load()
	var prepMean float64
	if units > 0 {
		prepMean = float64(p.prepTotalUs.Load()) / float64(units) / 1e3
	}
	return VideoStats{
		Units:          units,
		KeyFrames:      p.keyframes.Load(),
		DeltaFrames:    p.deltaFrames.Load(),
		TotalBytes:     p.totalBytes.Load(),
		BitrateKbps:    p.BitrateKbps(),
		FrameRate:      p.FrameRate(),
		SkippedUnits:   p.skipped.Load(),
		DecodeFailures: p.decodeFails.Load(),
		SessionInits:   p.sessionInits.Load(),
		LastPTSMs:      p.lastPTSMs.Load(),
		PrepareMeanMs:  prepMean,
		PrepareMaxMs:   float64(p.prepMaxUs.Load()) / 1e3,
	}
}
