package wavsink

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/media"
)

type scriptedSource struct {
	mu     sync.Mutex
	frames []*media.AudioFrame
}

func (s *scriptedSource) NextFrame() (*media.AudioFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true
}

func testConfig() audio.Config {
	return audio.Config{
		SampleRate:      48000,
		Channels:        2,
		Streams:         1,
		CoupledStreams:  1,
		SamplesPerFrame: 240,
		ChannelMapping:  []byte{0, 1},
	}
}

// rampFrame fills the left channel with start, start+1, ... and the
// right channel with the negated values, so interleaving mistakes are
// visible in the capture.
func rampFrame(start int16, n int) *media.AudioFrame {
	left := make([]int16, n)
	right := make([]int16, n)
	for i := range left {
		left[i] = start + int16(i)
		right[i] = -(start + int16(i))
	}
	return &media.AudioFrame{PCM: [][]int16{left, right}, FrameCount: n}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCaptureWritesFramesAndSilence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "capture.wav")
	cfg := testConfig()
	src := &scriptedSource{frames: []*media.AudioFrame{
		rampFrame(100, cfg.SamplesPerFrame),
		rampFrame(500, cfg.SamplesPerFrame),
	}}

	s := New(path, nil)
	if err := s.Start(cfg, src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool {
		pulled, silent := s.Frames()
		return pulled == 2 && silent >= 1
	}, "sink never consumed both frames plus silence")
	s.Stop()
	pulled, silent := s.Frames()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatal("capture is not a valid WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if buf.Format.NumChannels != 2 || buf.Format.SampleRate != 48000 {
		t.Errorf("format: got %+v", buf.Format)
	}

	wantLen := int(pulled+silent) * cfg.SamplesPerFrame * cfg.Channels
	if len(buf.Data) != wantLen {
		t.Fatalf("samples: got %d, want %d", len(buf.Data), wantLen)
	}

	// First frame, interleaved: L0 R0 L1 R1 ...
	for i := 0; i < 4; i++ {
		want := 100 + i/2
		if i%2 == 1 {
			want = -want
		}
		if buf.Data[i] != want {
			t.Errorf("sample %d: got %d, want %d", i, buf.Data[i], want)
		}
	}

	// The capture ends in silence fill.
	for i := wantLen - cfg.SamplesPerFrame*cfg.Channels; i < wantLen; i++ {
		if buf.Data[i] != 0 {
			t.Fatalf("sample %d: got %d, want silence", i, buf.Data[i])
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "never.wav"), nil)
	s.Stop()
	s.Stop()

	if err := s.Start(testConfig(), &scriptedSource{}); err == nil {
		t.Error("Start after Stop succeeded")
	}
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "twice.wav"), nil)
	if err := s.Start(testConfig(), &scriptedSource{}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(testConfig(), &scriptedSource{}); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestStartRejectsBadConfig(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "bad.wav"), nil)
	cfg := testConfig()
	cfg.SampleRate = 0
	if err := s.Start(cfg, &scriptedSource{}); err == nil {
		t.Error("Start accepted zero sample rate")
	}
}
