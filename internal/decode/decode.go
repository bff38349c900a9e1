// Package decode assembles network decode units into decoder-ready
// bitstreams and drives the hardware decode session through a narrow
// capability interface.
package decode

import (
	"bytes"
	"errors"

	"github.com/zsiec/lumen/internal/media"
)

// Sentinel errors shared by Session implementations.
var (
	// ErrUninitialized is returned by Decode before a successful Init.
	ErrUninitialized = errors.New("decode: session not initialized")
	// ErrClosed is returned once the session has been torn down.
	ErrClosed = errors.New("decode: session closed")
)

// ParamSets carries the parameter-set NALs needed to initialize a
// decoder, start codes already stripped. VPS is nil for H.264 streams.
type ParamSets struct {
	VPS []byte
	SPS []byte
	PPS []byte
}

// complete reports whether every parameter set the codec requires is
// present.
func (ps ParamSets) complete(codec media.Codec) bool {
	if len(ps.SPS) == 0 || len(ps.PPS) == 0 {
		return false
	}
	if codec == media.CodecH265 && len(ps.VPS) == 0 {
		return false
	}
	return true
}

func (ps ParamSets) equal(other ParamSets) bool {
	return bytes.Equal(ps.VPS, other.VPS) &&
		bytes.Equal(ps.SPS, other.SPS) &&
		bytes.Equal(ps.PPS, other.PPS)
}

func (ps ParamSets) clone() ParamSets {
	return ParamSets{
		VPS: bytes.Clone(ps.VPS),
		SPS: bytes.Clone(ps.SPS),
		PPS: bytes.Clone(ps.PPS),
	}
}

// DecodedImage pairs an opaque decoded picture with its identifying
// metadata, delivered on the session's Images channel as pictures
// complete.
type DecodedImage struct {
	Image          media.Image
	FrameNumber    uint32
	PresentationMs uint32
}

// Session is the capability surface of a video decode session. Decoder
// completion threading stays behind the interface: implementations
// deliver finished pictures on the Images channel in decode order, and
// the rest of the pipeline never sees a codec callback.
//
// Init is called at most once per established session. Close tears the
// session down, after which the Images channel is closed; Close must be
// explicit, nothing is released implicitly.
type Session interface {
	Init(ps ParamSets) error
	Decode(bitstream []byte, presentationMs, frameNumber uint32) error
	Images() <-chan DecodedImage
	Close() error
}

// Status reports the outcome of submitting one decode unit.
type Status int

const (
	StatusOK Status = iota
	// StatusSkipped means the unit held no picture data; nothing was
	// submitted to the session.
	StatusSkipped
	// StatusDecodeFailed means the session rejected the bitstream; the
	// frame is dropped and the pipeline continues.
	StatusDecodeFailed
)

// String returns the short status name used in logs.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusDecodeFailed:
		return "decode failed"
	}
	return "unknown"
}
