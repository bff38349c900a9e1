package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/nal"
)

// SoftwareSession is a Session for environments without a hardware
// decoder: replay runs and tests. It enforces the same contract a real
// decoder would — parameter sets before pictures, well-formed 4-byte
// big-endian length framing — and synthesizes opaque images carrying the
// submitted timing metadata.
type SoftwareSession struct {
	log    *slog.Logger
	codec  media.Codec
	images chan DecodedImage

	mu     sync.Mutex
	inited bool
	closed bool

	decoded        atomic.Int64
	rejected       atomic.Int64
	delivered      atomic.Int64
	dropped        atomic.Int64
	released       atomic.Int64
	doubleReleases atomic.Int64
}

// NewSoftwareSession creates an unestablished session for codec. If log
// is nil, slog.Default() is used.
func NewSoftwareSession(codec media.Codec, log *slog.Logger) *SoftwareSession {
	if log == nil {
		log = slog.Default()
	}
	return &SoftwareSession{
		log:    log.With("component", "softdec"),
		codec:  codec,
		images: make(chan DecodedImage, media.ImageBufferSize),
	}
}

// Init validates the parameter sets and establishes the session.
func (s *SoftwareSession) Init(ps ParamSets) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.inited {
		return errors.New("decode: session already initialized")
	}
	if err := s.validateParamSets(ps); err != nil {
		return err
	}
	s.inited = true
	s.log.Debug("session established", "codec", s.codec)
	return nil
}

func (s *SoftwareSession) validateParamSets(ps ParamSets) error {
	if !ps.complete(s.codec) {
		return fmt.Errorf("decode: incomplete parameter sets for %s", s.codec)
	}
	if s.codec == media.CodecH265 {
		if got := nal.H265Type(ps.VPS); got != h265.NALUType_VPS_NUT {
			return fmt.Errorf("decode: VPS buffer holds NAL type %v", got)
		}
		if got := nal.H265Type(ps.SPS); got != h265.NALUType_SPS_NUT {
			return fmt.Errorf("decode: SPS buffer holds NAL type %v", got)
		}
		if got := nal.H265Type(ps.PPS); got != h265.NALUType_PPS_NUT {
			return fmt.Errorf("decode: PPS buffer holds NAL type %v", got)
		}
		return nil
	}
	if got := nal.H264Type(ps.SPS); got != h264.NALUTypeSPS {
		return fmt.Errorf("decode: SPS buffer holds NAL type %v", got)
	}
	if got := nal.H264Type(ps.PPS); got != h264.NALUTypePPS {
		return fmt.Errorf("decode: PPS buffer holds NAL type %v", got)
	}
	return nil
}

// Decode validates the bitstream framing and emits a synthetic image.
// When the completion channel is full the newest picture is dropped
// rather than blocking the submission path.
func (s *SoftwareSession) Decode(bitstream []byte, presentationMs, frameNumber uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.inited {
		s.rejected.Add(1)
		return ErrUninitialized
	}

	nalus, err := nal.Split(bitstream)
	if err != nil {
		s.rejected.Add(1)
		return fmt.Errorf("decode: bad framing: %w", err)
	}
	if len(nalus) == 0 {
		s.rejected.Add(1)
		return errors.New("decode: empty bitstream")
	}
	s.decoded.Add(1)

	img := DecodedImage{
		Image:          &softImage{session: s},
		FrameNumber:    frameNumber,
		PresentationMs: presentationMs,
	}
	select {
	case s.images <- img:
		s.delivered.Add(1)
	default:
		img.Image.Release()
		s.dropped.Add(1)
		s.log.Debug("image channel full, dropping picture", "frame", frameNumber)
	}
	return nil
}

// Images returns the completion channel. It is closed by Close.
func (s *SoftwareSession) Images() <-chan DecodedImage {
	return s.images
}

// Close tears the session down and closes the Images channel.
// Idempotent.
func (s *SoftwareSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.inited = false
	close(s.images)
	s.log.Debug("session closed",
		"decoded", s.decoded.Load(), "rejected", s.rejected.Load(),
		"released", s.released.Load())
	return nil
}

// Counters is a snapshot of the session's bookkeeping, used by tests and
// the replay report.
type Counters struct {
	Decoded        int64
	Rejected       int64
	Delivered      int64
	Dropped        int64
	Released       int64
	DoubleReleases int64
}

// Counters returns a snapshot of the session's bookkeeping.
func (s *SoftwareSession) Counters() Counters {
	return Counters{
		Decoded:        s.decoded.Load(),
		Rejected:       s.rejected.Load(),
		Delivered:      s.delivered.Load(),
		Dropped:        s.dropped.Load(),
		Released:       s.released.Load(),
		DoubleReleases: s.doubleReleases.Load(),
	}
}

// softImage tracks release-exactly-once for the ownership contract.
type softImage struct {
	session  *SoftwareSession
	released atomic.Bool
}

func (im *softImage) Release() {
	if im.released.CompareAndSwap(false, true) {
		im.session.released.Add(1)
		return
	}
	im.session.doubleReleases.Add(1)
}
