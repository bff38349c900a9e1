// Package wavsink captures session audio to a WAV file. It implements
// audio.Engine, pulling frames at the stream's own cadence the way a
// sound card would, so the capture is a faithful record of what a
// listener would have heard, underruns included.
package wavsink

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/zsiec/lumen/internal/audio"
)

// WAV format tag for uncompressed PCM.
const pcmFormat = 1

// Sink writes pulled audio frames to a 16-bit PCM WAV file. Underruns
// are written out as silence so the capture timeline stays aligned with
// wall time.
type Sink struct {
	log  *slog.Logger
	path string

	mu      sync.Mutex
	started bool
	stopped bool
	f       *os.File
	enc     *wav.Encoder
	quit    chan struct{}
	done    chan struct{}

	frames atomic.Uint64
	silent atomic.Uint64
}

// New creates a Sink that will write to path once started. If log is
// nil, slog.Default() is used.
func New(path string, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		log:  log.With("component", "wavsink"),
		path: path,
	}
}

// Start opens the capture file and begins pulling frames from src at
// the frame cadence implied by cfg.
func (s *Sink) Start(cfg audio.Config, src audio.Source) error {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.SamplesPerFrame <= 0 {
		return fmt.Errorf("wavsink: invalid config: rate=%d channels=%d samples=%d",
			cfg.SampleRate, cfg.Channels, cfg.SamplesPerFrame)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("wavsink: already stopped")
	}
	if s.started {
		return errors.New("wavsink: already started")
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("wavsink: create %s: %w", s.path, err)
	}
	s.f = f
	s.enc = wav.NewEncoder(f, cfg.SampleRate, 16, cfg.Channels, pcmFormat)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.started = true

	s.log.Info("capture started", "path", s.path,
		"sampleRate", cfg.SampleRate, "channels", cfg.Channels)
	go s.run(cfg, src)
	return nil
}

func (s *Sink) run(cfg audio.Config, src audio.Source) {
	defer close(s.done)

	interval := time.Duration(cfg.SamplesPerFrame) * time.Second / time.Duration(cfg.SampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, 0, cfg.SamplesPerFrame*cfg.Channels),
	}
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			buf.Data = buf.Data[:0]
			if frame, ok := src.NextFrame(); ok {
				for i := 0; i < frame.FrameCount; i++ {
					for _, ch := range frame.PCM {
						buf.Data = append(buf.Data, int(ch[i]))
					}
				}
				s.frames.Add(1)
			} else {
				for i := 0; i < cfg.SamplesPerFrame*cfg.Channels; i++ {
					buf.Data = append(buf.Data, 0)
				}
				s.silent.Add(1)
			}
			if err := s.enc.Write(buf); err != nil {
				s.log.Error("capture write failed", "path", s.path, "error", err)
				return
			}
		}
	}
}

// Stop ends the capture and finalizes the WAV header. Safe to call
// multiple times and before Start.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if !s.started {
		return
	}

	close(s.quit)
	<-s.done

	if err := s.enc.Close(); err != nil {
		s.log.Error("capture finalize failed", "path", s.path, "error", err)
	}
	if err := s.f.Close(); err != nil {
		s.log.Error("capture close failed", "path", s.path, "error", err)
	}
	s.log.Info("capture stopped", "path", s.path,
		"frames", s.frames.Load(), "silent", s.silent.Load())
}

// Frames returns how many pulled and silence frames have been written.
func (s *Sink) Frames() (pulled, silent uint64) {
	return s.frames.Load(), s.silent.Load()
}
