// Package media defines the core buffer and frame types that flow through
// the lumen pipeline, from decode-unit submission through presentation.
package media

import "time"

// Channel buffer sizes decoupling the decode session (producer) from the
// presentation scheduler (consumer). Decoded images are large, so the
// in-flight window is kept to a few frame intervals rather than seconds.
const (
	ImageBufferSize = 4
)

// BufferKind classifies the payload of a DecodeBuffer as delivered by the
// receive path.
type BufferKind int

const (
	BufferPicture BufferKind = iota
	BufferVPS
	BufferSPS
	BufferPPS
)

// String returns the short name used in logs.
func (k BufferKind) String() string {
	switch k {
	case BufferPicture:
		return "picture"
	case BufferVPS:
		return "vps"
	case BufferSPS:
		return "sps"
	case BufferPPS:
		return "pps"
	}
	return "unknown"
}

// FrameKind distinguishes keyframes, which may carry parameter sets and
// can (re)establish a decode session, from dependent delta frames.
type FrameKind int

const (
	DeltaFrame FrameKind = iota
	KeyFrame
)

// String returns the short name used in logs.
func (k FrameKind) String() string {
	if k == KeyFrame {
		return "key"
	}
	return "delta"
}

// Codec identifies the video codec of a stream.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// DecodeBuffer is one tagged fragment of an encoded frame. Payload bytes
// are immutable once constructed and owned by the enclosing DecodeUnit.
type DecodeBuffer struct {
	Kind    BufferKind
	Payload []byte
}

// DecodeUnit is one complete encoded frame as delivered by the receive
// path: an ordered sequence of tagged buffers plus timing metadata.
// FrameNumber increases monotonically and is never reused within a
// session. A unit is consumed exactly once by the assembler.
type DecodeUnit struct {
	FrameNumber    uint32
	Kind           FrameKind
	TotalLength    int
	Buffers        []DecodeBuffer
	PresentationMs uint32
	ReceiveMs      uint64
}

// Image is an opaque decoded picture owned by exactly one holder at a
// time. Release returns it to the decode session's pool and must be
// called exactly once, by whichever component holds the image when it
// leaves the pipeline (dispatch to a renderer transfers ownership).
type Image interface {
	Release()
}

// QueuedFrame is a decoded picture waiting in the presentation queue,
// owned by the scheduler until dispatched to the renderer or dropped.
type QueuedFrame struct {
	Image          Image
	FrameNumber    uint32
	PresentationMs uint32
	Target         time.Time
}

// AudioFrame holds one frame of decoded PCM audio, de-interleaved into
// one contiguous buffer per channel. FrameCount is the number of samples
// in each channel buffer. Owned by the jitter buffer until handed to the
// audio engine.
type AudioFrame struct {
	PCM        [][]int16
	FrameCount int
}
