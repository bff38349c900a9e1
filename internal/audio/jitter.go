package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/lumen/internal/media"
)

// Queue depth defaults, in frames. At the usual 20 ms Opus frame
// duration the ring holds ~600 ms and playback starts after ~60 ms of
// pre-buffer, enough to ride out scheduler hiccups without adding
// noticeable latency.
const (
	defaultMaxBufferedFrames = 30
	defaultMinStartDepth     = 3
)

// ErrNotStarted is returned by DecodeAndPlay outside the Started and
// Playing states.
var ErrNotStarted = errors.New("audio: jitter buffer not started")

// Options tunes the queue depths. Zero values select the defaults.
type Options struct {
	MaxBufferedFrames int
	MinStartDepth     int
}

// JitterBuffer queues decoded audio frames between the receive path and
// the output engine. The queue is a bounded ring: overflow evicts the
// oldest frame, keeping playback close to live at the cost of a dropped
// frame. The engine is started only once MinStartDepth frames have
// accumulated, avoiding an immediate underrun on stream start.
//
// Lifecycle: Uninitialized -> Init -> Start -> (depth reaches
// MinStartDepth) Playing -> Stop. Cleanup is reachable from any state
// and idempotent. All methods are safe for concurrent use.
type JitterBuffer struct {
	log     *slog.Logger
	decoder Decoder
	engine  Engine

	mu       sync.Mutex
	state    State
	cfg      Config
	queue    []*media.AudioFrame
	pcm      []int16 // reused interleaved decode scratch
	maxDepth int
	minStart int

	enqueued    atomic.Int64
	synthesized atomic.Int64
	evicted     atomic.Int64
	decodeFails atomic.Int64
	consumed    atomic.Int64
	underruns   atomic.Int64
}

// New creates a JitterBuffer owning dec and pushing lifecycle signals to
// eng. If log is nil, slog.Default() is used.
func New(dec Decoder, eng Engine, opts Options, log *slog.Logger) *JitterBuffer {
	if log == nil {
		log = slog.Default()
	}
	maxDepth := opts.MaxBufferedFrames
	if maxDepth <= 0 {
		maxDepth = defaultMaxBufferedFrames
	}
	minStart := opts.MinStartDepth
	if minStart <= 0 {
		minStart = defaultMinStartDepth
	}
	if minStart > maxDepth {
		minStart = maxDepth
	}
	return &JitterBuffer{
		log:      log.With("component", "audio"),
		decoder:  dec,
		engine:   eng,
		maxDepth: maxDepth,
		minStart: minStart,
		queue:    make([]*media.AudioFrame, 0, maxDepth),
	}
}

// Init configures the decoder and frame geometry. Valid only in the
// Uninitialized state.
func (j *JitterBuffer) Init(cfg Config) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateUninitialized {
		return fmt.Errorf("audio: init in state %s", j.state)
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.SamplesPerFrame <= 0 {
		return fmt.Errorf("audio: invalid config: rate=%d channels=%d samplesPerFrame=%d",
			cfg.SampleRate, cfg.Channels, cfg.SamplesPerFrame)
	}
	if err := j.decoder.Init(cfg); err != nil {
		return fmt.Errorf("audio: decoder init: %w", err)
	}
	j.cfg = cfg
	j.pcm = make([]int16, cfg.Channels*cfg.SamplesPerFrame)
	j.state = StateInitialized
	j.log.Info("audio initialized",
		"rate", cfg.SampleRate, "channels", cfg.Channels,
		"samplesPerFrame", cfg.SamplesPerFrame, "streams", cfg.Streams)
	return nil
}

// Start enables enqueueing. Valid only in the Initialized state; the
// engine itself is not started until enough frames have buffered.
func (j *JitterBuffer) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateInitialized {
		return fmt.Errorf("audio: start in state %s", j.state)
	}
	j.state = StateStarted
	return nil
}

// DecodeAndPlay decodes one payload and queues the resulting frame. A
// zero-length payload stands for one lost packet: a silent frame of the
// configured size is synthesized in its place. Decode failures are
// logged and counted, the sample dropped, and playback continues; no
// silence is inserted on that path.
func (j *JitterBuffer) DecodeAndPlay(payload []byte) error {
	j.mu.Lock()
	if j.state != StateStarted && j.state != StatePlaying {
		j.mu.Unlock()
		return ErrNotStarted
	}

	var frame *media.AudioFrame
	if len(payload) == 0 {
		frame = silentFrame(j.cfg)
		j.synthesized.Add(1)
	} else {
		n, err := j.decoder.Decode(payload, j.pcm)
		if err != nil {
			j.decodeFails.Add(1)
			j.mu.Unlock()
			j.log.Warn("audio decode failed", "error", err, "bytes", len(payload))
			return nil
		}
		frame = deinterleave(j.pcm[:n*j.cfg.Channels], j.cfg.Channels)
	}

	if len(j.queue) >= j.maxDepth {
		copy(j.queue, j.queue[1:])
		j.queue[len(j.queue)-1] = frame
		j.evicted.Add(1)
	} else {
		j.queue = append(j.queue, frame)
	}
	j.enqueued.Add(1)

	startEngine := j.state == StateStarted && len(j.queue) >= j.minStart
	if startEngine {
		j.state = StatePlaying
	}
	cfg := j.cfg
	j.mu.Unlock()

	if startEngine {
		if err := j.engine.Start(cfg, j); err != nil {
			j.log.Error("audio engine start failed", "error", err)
			j.mu.Lock()
			if j.state == StatePlaying {
				j.state = StateStarted
			}
			j.mu.Unlock()
			return nil
		}
		j.log.Info("audio playback started", "depth", j.Depth())
	}
	return nil
}

// NextFrame hands the oldest queued frame to the engine. It never
// blocks: ok is false when the queue is empty or playback is not
// active, and the frame's ownership passes to the caller when ok.
func (j *JitterBuffer) NextFrame() (*media.AudioFrame, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePlaying {
		return nil, false
	}
	if len(j.queue) == 0 {
		j.underruns.Add(1)
		return nil, false
	}
	frame := j.queue[0]
	copy(j.queue, j.queue[1:])
	j.queue = j.queue[:len(j.queue)-1]
	j.consumed.Add(1)
	return frame, true
}

// Stop clears the queue and halts consumption. Safe to call from any
// goroutine and in any state.
func (j *JitterBuffer) Stop() {
	j.mu.Lock()
	if j.state == StateUninitialized || j.state == StateStopped {
		j.mu.Unlock()
		return
	}
	wasPlaying := j.state == StatePlaying
	j.state = StateStopped
	j.queue = j.queue[:0]
	j.mu.Unlock()

	if wasPlaying {
		j.engine.Stop()
	}
	j.log.Info("audio stopped")
}

// Cleanup stops playback if needed and releases the decoder, returning
// the buffer to Uninitialized. Idempotent and reachable from any state.
func (j *JitterBuffer) Cleanup() {
	j.Stop()

	j.mu.Lock()
	if j.state == StateUninitialized {
		j.mu.Unlock()
		return
	}
	j.state = StateUninitialized
	j.cfg = Config{}
	j.pcm = nil
	j.mu.Unlock()

	j.decoder.Close()
}

// State returns the current lifecycle state.
func (j *JitterBuffer) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Depth returns the number of queued frames.
func (j *JitterBuffer) Depth() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.queue)
}

// Stats is a point-in-time snapshot of the buffer counters.
type Stats struct {
	Enqueued       int64 `json:"enqueued"`
	Synthesized    int64 `json:"synthesized"`
	Evicted        int64 `json:"evicted"`
	DecodeFailures int64 `json:"decodeFailures"`
	Consumed       int64 `json:"consumed"`
	Underruns      int64 `json:"underruns"`
	Depth          int   `json:"depth"`
}

// Stats returns a snapshot of the buffer counters.
func (j *JitterBuffer) Stats() Stats {
	return Stats{
		Enqueued:       j.enqueued.Load(),
		Synthesized:    j.synthesized.Load(),
		Evicted:        j.evicted.Load(),
		DecodeFailures: j.decodeFails.Load(),
		Consumed:       j.consumed.Load(),
		Underruns:      j.underruns.Load(),
		Depth:          j.Depth(),
	}
}

// silentFrame builds a zero-filled frame of the configured geometry.
func silentFrame(cfg Config) *media.AudioFrame {
	backing := make([]int16, cfg.Channels*cfg.SamplesPerFrame)
	frame := &media.AudioFrame{
		PCM:        make([][]int16, cfg.Channels),
		FrameCount: cfg.SamplesPerFrame,
	}
	for c := range frame.PCM {
		frame.PCM[c] = backing[c*cfg.SamplesPerFrame : (c+1)*cfg.SamplesPerFrame]
	}
	return frame
}

// deinterleave splits interleaved samples into one contiguous buffer per
// channel.
func deinterleave(in []int16, channels int) *media.AudioFrame {
	per := len(in) / channels
	backing := make([]int16, per*channels)
	frame := &media.AudioFrame{
		PCM:        make([][]int16, channels),
		FrameCount: per,
	}
	for c := 0; c < channels; c++ {
		ch := backing[c*per : (c+1)*per]
		for i := 0; i < per; i++ {
			ch[i] = in[i*channels+c]
		}
		frame.PCM[c] = ch
	}
	return frame
}
