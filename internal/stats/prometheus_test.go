package stats

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/present"
)

func testSnapshots() []SessionSnapshot {
	return []SessionSnapshot{
		{
			Session:  "alpha",
			Codec:    "h264",
			UptimeMs: 5000,
			Video:    VideoStats{Units: 42, KeyFrames: 2, TotalBytes: 9000},
			Present:  present.Stats{Dispatched: 40, Late: 3, Depth: 1},
			Audio:    audio.Stats{Enqueued: 100, Synthesized: 4, Depth: 5},
		},
		{
			Session: "beta",
			Codec:   "h265",
			Video:   VideoStats{Units: 7},
		},
	}
}

func TestCollectorEmitsPerSessionMetrics(t *testing.T) {
	t.Parallel()

	c := NewCollector(func() []SessionSnapshot { return testSnapshots() })

	// 18 series per session, two sessions.
	if got := testutil.CollectAndCount(c); got != 36 {
		t.Errorf("series count: got %d, want 36", got)
	}

	expected := `
# HELP lumen_video_units_total Decode units submitted to the session.
# TYPE lumen_video_units_total counter
lumen_video_units_total{session="alpha"} 42
lumen_video_units_total{session="beta"} 7
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "lumen_video_units_total"); err != nil {
		t.Errorf("video units: %v", err)
	}

	expected = `
# HELP lumen_audio_queue_depth Audio frames currently buffered.
# TYPE lumen_audio_queue_depth gauge
lumen_audio_queue_depth{session="alpha"} 5
lumen_audio_queue_depth{session="beta"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "lumen_audio_queue_depth"); err != nil {
		t.Errorf("audio depth: %v", err)
	}
}

func TestCollectorEmptyProvider(t *testing.T) {
	t.Parallel()

	c := NewCollector(func() []SessionSnapshot { return nil })
	if got := testutil.CollectAndCount(c); got != 0 {
		t.Errorf("series count with no sessions: got %d, want 0", got)
	}
}
