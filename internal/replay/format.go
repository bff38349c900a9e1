// Package replay reads and writes lumen session recordings, the
// diagnostic capture format that stands in for a live transport when
// exercising the pipeline offline.
//
// A recording is a header followed by self-delimiting records:
//
//	header: "LMNR" version(1) codec(1) fps
//	        sampleRate channels streams coupledStreams samplesPerFrame
//	        mappingLen mapping
//	video:  0x01 receiveMs frameNumber kind(1) presentationMs
//	        bufferCount {bufferKind(1) payloadLen payload}...
//	audio:  0x02 receiveMs payloadLen payload
//
// Multi-byte integers are unsigned varints; (1) marks a fixed single
// byte. A zero-length audio payload records a lost packet.
package replay

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/media"
)

const formatVersion = 1

var magic = [4]byte{'L', 'M', 'N', 'R'}

// Read-side bounds. A corrupt length field must not translate into an
// arbitrary allocation.
const (
	maxPayloadBytes = 16 << 20
	maxBufferCount  = 256
)

// Codec bytes in the header.
const (
	codecH264 byte = 1
	codecH265 byte = 2
)

// RecordType distinguishes the record kinds in a recording.
type RecordType byte

const (
	RecordVideo RecordType = 1
	RecordAudio RecordType = 2
)

// Header identifies a recording's stream geometry, written once at the
// front of the file.
type Header struct {
	Codec media.Codec
	FPS   int
	Audio audio.Config
}

// Record is one replayed event: a video decode unit or an audio
// payload, each stamped with its original receive time.
type Record struct {
	Type      RecordType
	ReceiveMs uint64
	// Unit is set for video records.
	Unit *media.DecodeUnit
	// Payload is set for audio records; nil stands for a lost packet.
	Payload []byte
}

// Sentinel errors distinguishing unreadable files from corrupt ones.
var (
	ErrBadMagic = errors.New("replay: not a lumen recording")
	ErrVersion  = errors.New("replay: unsupported format version")
)

// FormatError records which field was being read when a recording
// turned out to be corrupt. It wraps the underlying I/O or bounds
// error.
type FormatError struct {
	Field string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("replay: read %s: %v", e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Writer appends records to a recording. Each record is assembled in a
// reused scratch buffer and written in one call. Callers must Flush
// before closing the underlying file.
type Writer struct {
	bw  *bufio.Writer
	buf []byte
}

// NewWriter writes the recording header to w and returns a Writer for
// its records.
func NewWriter(w io.Writer, hdr Header) (*Writer, error) {
	cb, err := codecByte(hdr.Codec)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, magic[:]...)
	buf = append(buf, formatVersion, cb)
	buf = binary.AppendUvarint(buf, uint64(hdr.FPS))
	buf = binary.AppendUvarint(buf, uint64(hdr.Audio.SampleRate))
	buf = binary.AppendUvarint(buf, uint64(hdr.Audio.Channels))
	buf = binary.AppendUvarint(buf, uint64(hdr.Audio.Streams))
	buf = binary.AppendUvarint(buf, uint64(hdr.Audio.CoupledStreams))
	buf = binary.AppendUvarint(buf, uint64(hdr.Audio.SamplesPerFrame))
	buf = appendBytes(buf, hdr.Audio.ChannelMapping)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(buf); err != nil {
		return nil, fmt.Errorf("replay: write header: %w", err)
	}
	return &Writer{bw: bw, buf: buf[:0]}, nil
}

// WriteVideo appends one decode unit.
func (w *Writer) WriteVideo(unit *media.DecodeUnit) error {
	w.buf = w.buf[:0]
	w.buf = append(w.buf, byte(RecordVideo))
	w.buf = binary.AppendUvarint(w.buf, unit.ReceiveMs)
	w.buf = binary.AppendUvarint(w.buf, uint64(unit.FrameNumber))
	w.buf = append(w.buf, byte(unit.Kind))
	w.buf = binary.AppendUvarint(w.buf, uint64(unit.PresentationMs))
	w.buf = binary.AppendUvarint(w.buf, uint64(len(unit.Buffers)))
	for _, b := range unit.Buffers {
		w.buf = append(w.buf, byte(b.Kind))
		w.buf = appendBytes(w.buf, b.Payload)
	}
	if _, err := w.bw.Write(w.buf); err != nil {
		return fmt.Errorf("replay: write video record: %w", err)
	}
	return nil
}

// WriteAudio appends one audio payload. An empty payload records a lost
// packet.
func (w *Writer) WriteAudio(receiveMs uint64, payload []byte) error {
	w.buf = w.buf[:0]
	w.buf = append(w.buf, byte(RecordAudio))
	w.buf = binary.AppendUvarint(w.buf, receiveMs)
	w.buf = appendBytes(w.buf, payload)
	if _, err := w.bw.Write(w.buf); err != nil {
		return fmt.Errorf("replay: write audio record: %w", err)
	}
	return nil
}

// Flush writes buffered records through to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("replay: flush: %w", err)
	}
	return nil
}

func appendBytes(buf, data []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

// Reader reads a recording sequentially. Next returns io.EOF at a clean
// end of file; corruption surfaces as a FormatError.
type Reader struct {
	br  *bufio.Reader
	hdr Header
}

// NewReader validates the header of r and returns a Reader positioned
// at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{br: bufio.NewReader(r)}

	var m [4]byte
	if _, err := io.ReadFull(rd.br, m[:]); err != nil {
		return nil, &FormatError{Field: "magic", Err: err}
	}
	if m != magic {
		return nil, ErrBadMagic
	}
	ver, err := rd.br.ReadByte()
	if err != nil {
		return nil, &FormatError{Field: "version", Err: noEOF(err)}
	}
	if ver != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, ver)
	}
	cb, err := rd.br.ReadByte()
	if err != nil {
		return nil, &FormatError{Field: "codec", Err: noEOF(err)}
	}
	codec, err := codecFromByte(cb)
	if err != nil {
		return nil, err
	}
	rd.hdr.Codec = codec

	if rd.hdr.FPS, err = rd.readInt("fps"); err != nil {
		return nil, err
	}
	if rd.hdr.Audio.SampleRate, err = rd.readInt("sample rate"); err != nil {
		return nil, err
	}
	if rd.hdr.Audio.Channels, err = rd.readInt("channels"); err != nil {
		return nil, err
	}
	if rd.hdr.Audio.Streams, err = rd.readInt("streams"); err != nil {
		return nil, err
	}
	if rd.hdr.Audio.CoupledStreams, err = rd.readInt("coupled streams"); err != nil {
		return nil, err
	}
	if rd.hdr.Audio.SamplesPerFrame, err = rd.readInt("samples per frame"); err != nil {
		return nil, err
	}
	if rd.hdr.Audio.ChannelMapping, err = rd.readBytes("channel mapping"); err != nil {
		return nil, err
	}
	return rd, nil
}

// Header returns the recording's stream geometry.
func (r *Reader) Header() Header {
	return r.hdr
}

// Next returns the next record, or io.EOF at a clean end of file.
func (r *Reader) Next() (Record, error) {
	tb, err := r.br.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, &FormatError{Field: "record type", Err: err}
	}
	switch RecordType(tb) {
	case RecordVideo:
		return r.readVideo()
	case RecordAudio:
		return r.readAudio()
	default:
		return Record{}, &FormatError{Field: "record type", Err: fmt.Errorf("unknown type 0x%02x", tb)}
	}
}

func (r *Reader) readVideo() (Record, error) {
	recv, err := r.readUvarint("receive time")
	if err != nil {
		return Record{}, err
	}
	frameNum, err := r.readU32("frame number")
	if err != nil {
		return Record{}, err
	}
	kb, err := r.br.ReadByte()
	if err != nil {
		return Record{}, &FormatError{Field: "frame kind", Err: noEOF(err)}
	}
	if kb > byte(media.KeyFrame) {
		return Record{}, &FormatError{Field: "frame kind", Err: fmt.Errorf("unknown kind 0x%02x", kb)}
	}
	pts, err := r.readU32("presentation time")
	if err != nil {
		return Record{}, err
	}
	count, err := r.readUvarint("buffer count")
	if err != nil {
		return Record{}, err
	}
	if count > maxBufferCount {
		return Record{}, &FormatError{Field: "buffer count", Err: fmt.Errorf("%d buffers exceeds limit", count)}
	}

	unit := &media.DecodeUnit{
		FrameNumber:    frameNum,
		Kind:           media.FrameKind(kb),
		PresentationMs: pts,
		ReceiveMs:      recv,
		Buffers:        make([]media.DecodeBuffer, 0, count),
	}
	for i := uint64(0); i < count; i++ {
		bk, err := r.br.ReadByte()
		if err != nil {
			return Record{}, &FormatError{Field: "buffer kind", Err: noEOF(err)}
		}
		if bk > byte(media.BufferPPS) {
			return Record{}, &FormatError{Field: "buffer kind", Err: fmt.Errorf("unknown kind 0x%02x", bk)}
		}
		payload, err := r.readBytes("buffer payload")
		if err != nil {
			return Record{}, err
		}
		unit.TotalLength += len(payload)
		unit.Buffers = append(unit.Buffers, media.DecodeBuffer{
			Kind:    media.BufferKind(bk),
			Payload: payload,
		})
	}
	return Record{Type: RecordVideo, ReceiveMs: recv, Unit: unit}, nil
}

func (r *Reader) readAudio() (Record, error) {
	recv, err := r.readUvarint("receive time")
	if err != nil {
		return Record{}, err
	}
	payload, err := r.readBytes("audio payload")
	if err != nil {
		return Record{}, err
	}
	return Record{Type: RecordAudio, ReceiveMs: recv, Payload: payload}, nil
}

func (r *Reader) readUvarint(field string) (uint64, error) {
	v, err := binary.ReadUvarint(r.br)
	if err != nil {
		return 0, &FormatError{Field: field, Err: noEOF(err)}
	}
	return v, nil
}

func (r *Reader) readU32(field string) (uint32, error) {
	v, err := r.readUvarint(field)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, &FormatError{Field: field, Err: fmt.Errorf("value %d exceeds 32 bits", v)}
	}
	return uint32(v), nil
}

func (r *Reader) readInt(field string) (int, error) {
	v, err := r.readU32(field)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (r *Reader) readBytes(field string) ([]byte, error) {
	n, err := r.readUvarint(field)
	if err != nil {
		return nil, err
	}
	if n > maxPayloadBytes {
		return nil, &FormatError{Field: field, Err: fmt.Errorf("length %d exceeds limit", n)}
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, &FormatError{Field: field, Err: noEOF(err)}
	}
	return buf, nil
}

// noEOF converts a clean EOF inside a record into ErrUnexpectedEOF.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func codecByte(c media.Codec) (byte, error) {
	switch c {
	case media.CodecH264:
		return codecH264, nil
	case media.CodecH265:
		return codecH265, nil
	}
	return 0, fmt.Errorf("replay: unknown codec %q", c)
}

func codecFromByte(b byte) (media.Codec, error) {
	switch b {
	case codecH264:
		return media.CodecH264, nil
	case codecH265:
		return media.CodecH265, nil
	}
	return "", &FormatError{Field: "codec", Err: fmt.Errorf("unknown codec byte 0x%02x", b)}
}
