// Package nal converts between the start-code-delimited Annex B framing
// produced by video encoders and the length-prefixed framing consumed by
// hardware decode sessions.
package nal

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned by Split when a record's length prefix claims
// more bytes than the bitstream holds.
var ErrTruncated = errors.New("nal: truncated length-prefixed record")

// Reformat converts a NAL stream delimited by 3-byte (0x000001) or 4-byte
// (0x00000001) start codes, in any mix, into a sequence of records each
// framed as a 4-byte big-endian length followed by the NAL payload. Start
// code bytes are stripped. Output is appended to dst and the extended
// slice returned, so callers can reuse backing storage across frames
// (dst = Reformat(dst[:0], src)).
//
// Input with no start code at all is framed verbatim as a single record.
// This is deliberate best-effort handling of damaged streams, not an
// error. Empty input appends nothing.
func Reformat(dst, src []byte) []byte {
	if len(src) == 0 {
		return dst
	}

	start, scLen := findStartCode(src, 0)
	if start < 0 {
		return appendRecord(dst, src)
	}

	pos := start + scLen
	for {
		next, nextLen := findStartCode(src, pos)
		if next < 0 {
			// Trailing NAL with no following start code.
			return appendRecord(dst, src[pos:])
		}
		dst = appendRecord(dst, src[pos:next])
		pos = next + nextLen
	}
}

// StripStartCode removes a single leading 3-byte or 4-byte Annex B start
// code. Buffers without a leading start code are returned unchanged.
// Parameter-set buffers are stripped this way before being handed to
// decode-session initialization.
func StripStartCode(nalu []byte) []byte {
	if len(nalu) >= 4 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 0 && nalu[3] == 1 {
		return nalu[4:]
	}
	if len(nalu) >= 3 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 1 {
		return nalu[3:]
	}
	return nalu
}

// Split parses a length-prefixed bitstream back into its NAL payloads,
// validating the framing. Decode-session implementations use it to check
// the binary contract before consuming a submitted bitstream.
func Split(bitstream []byte) ([][]byte, error) {
	var nalus [][]byte
	pos := 0
	for pos < len(bitstream) {
		if len(bitstream)-pos < 4 {
			return nil, fmt.Errorf("nal: %d stray bytes after last record", len(bitstream)-pos)
		}
		n := int(binary.BigEndian.Uint32(bitstream[pos : pos+4]))
		pos += 4
		if n > len(bitstream)-pos {
			return nil, fmt.Errorf("%w: record claims %d bytes, %d remain", ErrTruncated, n, len(bitstream)-pos)
		}
		nalus = append(nalus, bitstream[pos:pos+n])
		pos += n
	}
	return nalus, nil
}

// findStartCode returns the index of the next start code at or after pos
// and its length, or (-1, 0) if none remains. A 4-byte code is preferred
// over the 3-byte code embedded in its tail.
func findStartCode(b []byte, pos int) (int, int) {
	n := len(b)
	for i := pos; i < n-2; i++ {
		if b[i] != 0 || b[i+1] != 0 {
			continue
		}
		if i < n-3 && b[i+2] == 0 && b[i+3] == 1 {
			return i, 4
		}
		if b[i+2] == 1 {
			return i, 3
		}
	}
	return -1, 0
}

func appendRecord(dst, nalu []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(nalu)))
	dst = append(dst, l[:]...)
	return append(dst, nalu...)
}
