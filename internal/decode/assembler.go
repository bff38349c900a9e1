package decode

import (
	"log/slog"
	"time"

	"github.com/zsiec/lumen/internal/clock"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/nal"
)

// StatsRecorder is the interface accepted by Assembler for recording
// per-unit telemetry. The stats package's Pipeline implements it.
type StatsRecorder interface {
	RecordVideoUnit(bytes int, kind media.FrameKind, ptsMs uint32, prep time.Duration)
	RecordSkippedUnit()
	RecordDecodeFailure()
	RecordSessionInit()
}

// Assembler turns tagged decode units into contiguous length-prefixed
// bitstreams and submits them to the decode session. It owns session
// initialization: the first keyframe carrying a complete parameter set
// establishes the session, and later keyframes never re-establish it.
// One Assembler exists per streaming session; it is confined to the
// receive goroutine and needs no locking of its own.
type Assembler struct {
	log     *slog.Logger
	codec   media.Codec
	session Session
	clk     *clock.Clock
	stats   StatsRecorder

	initialized bool
	paramSets   ParamSets

	// work and formatted are reused across units to keep the per-frame
	// path allocation-free once warm.
	work      []byte
	formatted []byte

	lastFrameNum uint32
	haveFrameNum bool
}

// NewAssembler creates an Assembler driving session. The clock is
// initialized from the first submitted unit. stats may be nil; if log is
// nil, slog.Default() is used.
func NewAssembler(codec media.Codec, session Session, clk *clock.Clock, stats StatsRecorder, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		log:     log.With("component", "assembler"),
		codec:   codec,
		session: session,
		clk:     clk,
		stats:   stats,
	}
}

// Submit consumes one decode unit: parameter sets are captured from
// keyframes, picture payloads are concatenated in arrival order,
// reformatted to length-prefixed framing, and handed to the session
// together with the unit's presentation timestamp. All failure modes are
// local: the worst outcome of any unit is one dropped frame.
func (a *Assembler) Submit(unit *media.DecodeUnit) Status {
	start := time.Now()

	a.clk.Initialize(unit.PresentationMs, unit.ReceiveMs)

	if a.haveFrameNum && unit.FrameNumber != a.lastFrameNum+1 {
		a.log.Debug("frame number gap",
			"last", a.lastFrameNum, "next", unit.FrameNumber)
	}
	a.lastFrameNum = unit.FrameNumber
	a.haveFrameNum = true

	if cap(a.work) < unit.TotalLength {
		a.work = make([]byte, 0, unit.TotalLength)
	}
	a.work = a.work[:0]

	// Single scan: first buffer of each parameter-set kind wins,
	// picture payloads concatenate in arrival order.
	var ps ParamSets
	for _, b := range unit.Buffers {
		switch b.Kind {
		case media.BufferPicture:
			a.work = append(a.work, b.Payload...)
		case media.BufferVPS:
			if ps.VPS == nil {
				ps.VPS = nal.StripStartCode(b.Payload)
			}
		case media.BufferSPS:
			if ps.SPS == nil {
				ps.SPS = nal.StripStartCode(b.Payload)
			}
		case media.BufferPPS:
			if ps.PPS == nil {
				ps.PPS = nal.StripStartCode(b.Payload)
			}
		}
	}

	if unit.Kind == media.KeyFrame {
		a.maybeInitSession(ps, unit.FrameNumber)
	}

	if len(a.work) == 0 {
		a.log.Debug("unit without picture data", "frame", unit.FrameNumber)
		if a.stats != nil {
			a.stats.RecordSkippedUnit()
		}
		return StatusSkipped
	}

	a.formatted = nal.Reformat(a.formatted[:0], a.work)

	if err := a.session.Decode(a.formatted, unit.PresentationMs, unit.FrameNumber); err != nil {
		a.log.Warn("decode failed",
			"frame", unit.FrameNumber, "kind", unit.Kind, "error", err)
		if a.stats != nil {
			a.stats.RecordDecodeFailure()
		}
		return StatusDecodeFailed
	}

	if a.stats != nil {
		a.stats.RecordVideoUnit(len(a.formatted), unit.Kind, unit.PresentationMs, time.Since(start))
	}
	return StatusOK
}

// Initialized reports whether the decode session has been established.
func (a *Assembler) Initialized() bool {
	return a.initialized
}

// maybeInitSession establishes the decode session from a keyframe's
// parameter sets. A keyframe without a complete set leaves the session
// as-is: on the first keyframe that means picture data will be decoded
// against an uninitialized session and rejected, which is reported but
// not fatal. Once established, the session is never re-initialized;
// changed parameter sets on a later keyframe are logged and kept out.
func (a *Assembler) maybeInitSession(ps ParamSets, frameNumber uint32) {
	if !ps.complete(a.codec) {
		if !a.initialized {
			a.log.Warn("keyframe missing parameter sets",
				"frame", frameNumber,
				"vps", len(ps.VPS), "sps", len(ps.SPS), "pps", len(ps.PPS))
		}
		return
	}

	if a.initialized {
		if !ps.equal(a.paramSets) {
			a.log.Warn("parameter sets changed mid-stream, keeping original session",
				"frame", frameNumber)
		}
		return
	}

	retained := ps.clone()
	if err := a.session.Init(retained); err != nil {
		a.log.Error("decode session init failed", "frame", frameNumber, "error", err)
		return
	}
	a.initialized = true
	a.paramSets = retained
	if a.stats != nil {
		a.stats.RecordSessionInit()
	}
	a.log.Info("decode session initialized",
		"codec", a.codec, "frame", frameNumber,
		"vps", len(ps.VPS), "sps", len(ps.SPS), "pps", len(ps.PPS))
}
