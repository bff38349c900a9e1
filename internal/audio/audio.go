// Package audio paces decoded audio delivery to the output engine,
// absorbing network jitter with a bounded frame queue that favors
// freshness over completeness.
package audio

import "github.com/zsiec/lumen/internal/media"

// Config describes the negotiated audio stream geometry. The tuple
// mirrors an Opus multistream configuration; decoders that need less of
// it ignore the rest.
type Config struct {
	SampleRate      int
	Channels        int
	Streams         int
	CoupledStreams  int
	SamplesPerFrame int
	ChannelMapping  []byte
}

// Decoder turns encoded payloads into interleaved PCM. Implementations
// wrap whatever codec the transport negotiated and are owned by the
// jitter buffer once handed to it.
type Decoder interface {
	Init(cfg Config) error
	// Decode writes interleaved samples into pcm, which has room for
	// SamplesPerFrame*Channels values, and returns the number of
	// samples per channel produced.
	Decode(payload []byte, pcm []int16) (int, error)
	Close()
}

// Engine is the audio output collaborator. Start is invoked once the
// jitter buffer has accumulated its start depth; the engine then pulls
// frames from src at its own cadence.
type Engine interface {
	Start(cfg Config, src Source) error
	Stop()
}

// Source is the pull side handed to an Engine. NextFrame never blocks;
// ok is false on an empty queue, so a stalled network shows up to the
// engine as underruns rather than as a stalled callback.
type Source interface {
	NextFrame() (*media.AudioFrame, bool)
}

// State is the jitter buffer lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateStarted
	StatePlaying
	StateStopped
)

// String returns the lowercase state name used in logs and errors.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}
