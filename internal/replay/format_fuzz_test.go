package replay

import (
	"bytes"
	"testing"
)

func FuzzReader(f *testing.F) {
	// Seed: valid two-record recording.
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader())
	if err != nil {
		f.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteVideo(testKeyUnit(0)); err != nil {
		f.Fatalf("WriteVideo: %v", err)
	}
	if err := w.WriteAudio(1005, []byte{0x10, 0x20}); err != nil {
		f.Fatalf("WriteAudio: %v", err)
	}
	if err := w.Flush(); err != nil {
		f.Fatalf("Flush: %v", err)
	}
	valid := buf.Bytes()
	f.Add(valid)

	// Seed: truncated mid-record.
	f.Add(valid[:len(valid)-3])

	// Seed: header only, and junk.
	f.Add(valid[:20])
	f.Add([]byte("LMNR"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := NewReader(bytes.NewReader(data))
		if err != nil {
			return
		}
		for {
			rec, err := r.Next() // must not panic
			if err != nil {
				return
			}
			if rec.Type == RecordVideo && rec.Unit == nil {
				t.Fatal("video record without a unit")
			}
			if rec.Type == RecordAudio && rec.Unit != nil {
				t.Fatal("audio record carrying a unit")
			}
		}
	})
}
