package nal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestReformatSingleNALU(t *testing.T) {
	t.Parallel()
	src := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
	out := Reformat(nil, src)

	// 4-byte length (3) followed by the raw NAL
	if len(out) != 7 {
		t.Fatalf("expected 7 bytes, got %d", len(out))
	}
	if got := binary.BigEndian.Uint32(out[0:4]); got != 3 {
		t.Errorf("record length: got %d, want 3", got)
	}
	if !bytes.Equal(out[4:], []byte{0x65, 0xAA, 0xBB}) {
		t.Errorf("record payload mismatch: %x", out[4:])
	}
}

func TestReformatMixedStartCodes(t *testing.T) {
	t.Parallel()
	// SPS with 4-byte code, PPS with 3-byte code, IDR with 4-byte code
	sps := []byte{0x67, 0x42, 0xE0}
	pps := []byte{0x68, 0xCE}
	idr := []byte{0x65, 0x88, 0x80, 0x40}

	var src []byte
	src = append(src, 0x00, 0x00, 0x00, 0x01)
	src = append(src, sps...)
	src = append(src, 0x00, 0x00, 0x01)
	src = append(src, pps...)
	src = append(src, 0x00, 0x00, 0x00, 0x01)
	src = append(src, idr...)

	var want []byte
	for _, nalu := range [][]byte{sps, pps, idr} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(nalu)))
		want = append(want, l[:]...)
		want = append(want, nalu...)
	}

	out := Reformat(nil, src)
	if !bytes.Equal(out, want) {
		t.Errorf("output mismatch:\ngot  %x\nwant %x", out, want)
	}
}

func TestReformatNoStartCode(t *testing.T) {
	t.Parallel()
	// Damaged input without any start code is framed verbatim.
	src := []byte{0x65, 0xAA, 0xBB, 0xCC}
	out := Reformat(nil, src)

	if len(out) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(out))
	}
	if got := binary.BigEndian.Uint32(out[0:4]); got != 4 {
		t.Errorf("record length: got %d, want 4", got)
	}
	if !bytes.Equal(out[4:], src) {
		t.Errorf("record payload mismatch: %x", out[4:])
	}
}

func TestReformatEmpty(t *testing.T) {
	t.Parallel()
	out := Reformat(nil, nil)
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(out))
	}
}

func TestReformatTrailingNALU(t *testing.T) {
	t.Parallel()
	// The final NAL has no following start code and must still be emitted.
	src := []byte{
		0x00, 0x00, 0x01, 0x41, 0x9A,
		0x00, 0x00, 0x01, 0x41, 0x9B, 0x9C,
	}
	out := Reformat(nil, src)

	nalus, err := Split(out)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(nalus) != 2 {
		t.Fatalf("expected 2 records, got %d", len(nalus))
	}
	if !bytes.Equal(nalus[1], []byte{0x41, 0x9B, 0x9C}) {
		t.Errorf("trailing record: got %x, want 419b9c", nalus[1])
	}
}

func TestReformatAdjacentStartCodes(t *testing.T) {
	t.Parallel()
	// Back-to-back start codes bound a zero-length NAL.
	src := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x01, 0x41}
	out := Reformat(nil, src)

	nalus, err := Split(out)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(nalus) != 2 {
		t.Fatalf("expected 2 records, got %d", len(nalus))
	}
	if len(nalus[0]) != 0 {
		t.Errorf("first record length: got %d, want 0", len(nalus[0]))
	}
	if !bytes.Equal(nalus[1], []byte{0x41}) {
		t.Errorf("second record: got %x, want 41", nalus[1])
	}
}

func TestReformatLeadingGarbage(t *testing.T) {
	t.Parallel()
	// Bytes before the first start code are not part of any NAL.
	src := []byte{0xDE, 0xAD, 0x00, 0x00, 0x00, 0x01, 0x65, 0x01}
	out := Reformat(nil, src)

	nalus, err := Split(out)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(nalus) != 1 {
		t.Fatalf("expected 1 record, got %d", len(nalus))
	}
	if !bytes.Equal(nalus[0], []byte{0x65, 0x01}) {
		t.Errorf("record: got %x, want 6501", nalus[0])
	}
}

func TestReformatReusesDst(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 0, 64)

	first := Reformat(buf, []byte{0x00, 0x00, 0x01, 0x41, 0x01})
	second := Reformat(first[:0], []byte{0x00, 0x00, 0x01, 0x41, 0x02})

	if &first[0] != &second[0] {
		t.Error("expected second call to reuse the backing array")
	}
	nalus, err := Split(second)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !bytes.Equal(nalus[0], []byte{0x41, 0x02}) {
		t.Errorf("record after reuse: got %x, want 4102", nalus[0])
	}
}

func TestStripStartCode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"four byte", []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42}, []byte{0x67, 0x42}},
		{"three byte", []byte{0x00, 0x00, 0x01, 0x68, 0xCE}, []byte{0x68, 0xCE}},
		{"none", []byte{0x67, 0x42}, []byte{0x67, 0x42}},
		{"short", []byte{0x00, 0x00}, []byte{0x00, 0x00}},
		{"empty", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StripStartCode(tc.in)
			if !bytes.Equal(got, tc.want) {
				t.Errorf("got %x, want %x", got, tc.want)
			}
		})
	}
}

func TestSplitTruncated(t *testing.T) {
	t.Parallel()
	// Length prefix claims 10 bytes, only 2 follow.
	bad := []byte{0x00, 0x00, 0x00, 0x0A, 0x41, 0x42}
	if _, err := Split(bad); err == nil {
		t.Error("expected error for truncated record")
	}
}

func TestSplitStrayBytes(t *testing.T) {
	t.Parallel()
	// A complete record followed by 3 stray bytes (not enough for a prefix).
	bad := []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0xFF, 0xFF, 0xFF}
	if _, err := Split(bad); err == nil {
		t.Error("expected error for stray trailing bytes")
	}
}
