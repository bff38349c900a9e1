package audio

import (
	"encoding/binary"
	"testing"
)

func TestPCMDecoderRoundTrip(t *testing.T) {
	t.Parallel()
	d := &PCMDecoder{}
	if err := d.Init(testConfig()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	want := []int16{-32768, -1, 0, 1, 32767, 100, -100, 7}
	payload := make([]byte, 2*len(want))
	for i, s := range want {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(s))
	}

	pcm := make([]int16, 480)
	n, err := d.Decode(payload, pcm)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 4 {
		t.Errorf("samples per channel: got %d, want 4", n)
	}
	for i, s := range want {
		if pcm[i] != s {
			t.Errorf("sample %d: got %d, want %d", i, pcm[i], s)
		}
	}
}

func TestPCMDecoderUninitialized(t *testing.T) {
	t.Parallel()
	d := &PCMDecoder{}
	if _, err := d.Decode([]byte{0, 0}, make([]int16, 16)); err == nil {
		t.Error("expected error before Init")
	}
}

func TestPCMDecoderBadPayloads(t *testing.T) {
	t.Parallel()
	d := &PCMDecoder{}
	if err := d.Init(testConfig()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	pcm := make([]int16, 480)

	if _, err := d.Decode([]byte{0x01}, pcm); err == nil {
		t.Error("expected error for odd payload length")
	}
	// 3 samples across 2 channels does not divide.
	if _, err := d.Decode(make([]byte, 6), pcm); err == nil {
		t.Error("expected error for non-divisible sample count")
	}
	// 241 samples per channel exceeds the 240-sample frame.
	if _, err := d.Decode(make([]byte, 2*241*2), pcm); err == nil {
		t.Error("expected error for oversized payload")
	}
}
