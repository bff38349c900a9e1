// Package pipeline owns the media path of one streaming session: the
// stream clock, decode-unit assembler, decode session, presentation
// scheduler, and audio jitter buffer, wired together behind two submit
// entry points. Every piece of state lives on the Pipeline value, so
// any number of sessions run side by side in one process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/clock"
	"github.com/zsiec/lumen/internal/decode"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/present"
	"github.com/zsiec/lumen/internal/replay"
	"github.com/zsiec/lumen/internal/stats"
)

// Options configures a session pipeline. Codec is required; everything
// else has a working default. A zero Audio config disables the audio
// path entirely.
type Options struct {
	Codec media.Codec
	// FPS is the stream's nominal frame rate, driving the scheduler
	// tick. Zero selects the scheduler default.
	FPS int
	// MaxQueued bounds the scheduler's frame queue.
	MaxQueued int
	// Audio is the negotiated audio geometry.
	Audio audio.Config
	// AudioQueue tunes the jitter buffer depths.
	AudioQueue audio.Options
}

// Pipeline runs one session end to end. Video enters through
// SubmitVideo as encoder-framed decode units and leaves through the
// Renderer at clock-paced display times; audio enters through
// SubmitAudio and leaves through the Engine at its own cadence.
type Pipeline struct {
	log     *slog.Logger
	name    string
	session decode.Session

	clk   *clock.Clock
	asm   *decode.Assembler
	sched *present.Scheduler
	jb    *audio.JitterBuffer
	stats *stats.Pipeline

	imagesForwarded atomic.Int64
	unclockedFrames atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

var _ replay.Sink = (*Pipeline)(nil)

// New wires a pipeline for the named session around its collaborators:
// the decode session producing images, the renderer consuming them, and
// the audio engine plus decoder when opts.Audio is set. The audio path
// is initialized here, so a decoder that rejects the config fails the
// whole construction. If log is nil, slog.Default() is used.
func New(name string, session decode.Session, renderer present.Renderer,
	engine audio.Engine, dec audio.Decoder, opts Options, log *slog.Logger) (*Pipeline, error) {

	if opts.Codec != media.CodecH264 && opts.Codec != media.CodecH265 {
		return nil, fmt.Errorf("pipeline: unsupported codec %q", opts.Codec)
	}
	if session == nil || renderer == nil {
		return nil, errors.New("pipeline: session and renderer are required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", name)

	p := &Pipeline{
		log:     log,
		name:    name,
		session: session,
		clk:     clock.New(log),
		stats:   stats.NewPipeline(name, opts.Codec),
	}
	p.asm = decode.NewAssembler(opts.Codec, session, p.clk, p.stats, log)
	p.sched = present.NewScheduler(renderer, present.Options{
		FPS:       opts.FPS,
		MaxQueued: opts.MaxQueued,
	}, log)

	if opts.Audio.SampleRate > 0 {
		if engine == nil || dec == nil {
			return nil, errors.New("pipeline: audio configured without engine and decoder")
		}
		p.jb = audio.New(dec, engine, opts.AudioQueue, log)
		if err := p.jb.Init(opts.Audio); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if err := p.jb.Start(); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	log.Info("pipeline created", "codec", opts.Codec,
		"fps", opts.FPS, "audio", p.jb != nil)
	return p, nil
}

// Name returns the session name the pipeline was created with.
func (p *Pipeline) Name() string {
	return p.name
}

// SubmitVideo feeds one encoder-framed decode unit into the assembler.
// The returned status says what became of it; failures never stop the
// session.
func (p *Pipeline) SubmitVideo(unit *media.DecodeUnit) decode.Status {
	return p.asm.Submit(unit)
}

// SubmitAudio feeds one encoded audio payload into the jitter buffer. A
// zero-length payload marks a lost packet and synthesizes silence.
func (p *Pipeline) SubmitAudio(payload []byte) error {
	if p.jb == nil {
		return errors.New("pipeline: audio not configured")
	}
	return p.jb.DecodeAndPlay(payload)
}

// Run hosts the pipeline's two loops, the scheduler tick and the
// image-forwarding loop, until ctx is cancelled or the decode session's
// image channel closes. Orderly shutdown returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.sched.Run(ctx)
	})
	g.Go(func() error {
		// The image channel closing means the session is over; stop
		// the scheduler loop too.
		defer cancel()
		return p.forwardImages(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forwardImages moves finished pictures from the decode session to the
// scheduler, stamping each with its clock-computed display target.
func (p *Pipeline) forwardImages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case img, ok := <-p.session.Images():
			if !ok {
				p.log.Debug("image channel closed",
					"forwarded", p.imagesForwarded.Load(),
					"unclocked", p.unclockedFrames.Load())
				return nil
			}
			target, ok := p.clk.TargetPresentationTime(img.PresentationMs)
			if !ok {
				// No clock yet: present immediately rather than hold
				// a picture with no schedulable target.
				target = time.Now()
				p.unclockedFrames.Add(1)
			}
			p.sched.Enqueue(media.QueuedFrame{
				Image:          img.Image,
				FrameNumber:    img.FrameNumber,
				PresentationMs: img.PresentationMs,
				Target:         target,
			})
			p.imagesForwarded.Add(1)
		}
	}
}

// Snapshot returns a point-in-time view of the whole session: video
// path, presentation pacing, and audio buffer counters.
func (p *Pipeline) Snapshot() stats.SessionSnapshot {
	snap := stats.SessionSnapshot{
		Session:  p.stats.Session(),
		Codec:    string(p.stats.Codec()),
		UptimeMs: p.stats.UptimeMs(),
		Video:    p.stats.Snapshot(),
		Present:  p.sched.Stats(),
	}
	if p.jb != nil {
		snap.Audio = p.jb.Stats()
	}
	return snap
}

// Close tears the session down in dependency order: the decode session
// first, which ends the forwarding loop; then the scheduler, releasing
// every queued image; then the audio path. Safe to call more than once
// and concurrently with Run.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		if err := p.session.Close(); err != nil {
			p.closeErr = fmt.Errorf("pipeline: close session: %w", err)
		}
		p.sched.Stop()
		if p.jb != nil {
			p.jb.Cleanup()
		}
		p.log.Info("pipeline closed", "images", p.imagesForwarded.Load())
	})
	return p.closeErr
}
