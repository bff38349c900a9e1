package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SnapshotProvider returns the current snapshot of every running
// session. The stream manager's Snapshots method satisfies it.
type SnapshotProvider func() []SessionSnapshot

// Collector exposes session snapshots as Prometheus metrics, labeled by
// session name. Metrics are built fresh from the provider on every
// scrape, so sessions appear and disappear with registration and no
// per-session metric state needs explicit cleanup.
type Collector struct {
	provider SnapshotProvider

	uptime         *prometheus.Desc
	videoUnits     *prometheus.Desc
	videoBytes     *prometheus.Desc
	videoKeyframes *prometheus.Desc
	videoFailures  *prometheus.Desc
	videoSkipped   *prometheus.Desc
	videoRate      *prometheus.Desc
	prepareMean    *prometheus.Desc

	dispatched   *prometheus.Desc
	dispatchLate *prometheus.Desc
	frameDrops   *prometheus.Desc
	presentDepth *prometheus.Desc
	timingError  *prometheus.Desc

	audioFrames      *prometheus.Desc
	audioSynthesized *prometheus.Desc
	audioEvicted     *prometheus.Desc
	audioUnderruns   *prometheus.Desc
	audioDepth       *prometheus.Desc
}

// NewCollector creates a Collector reading from provider.
func NewCollector(provider SnapshotProvider) *Collector {
	label := []string{"session"}
	return &Collector{
		provider: provider,
		uptime: prometheus.NewDesc("lumen_session_uptime_seconds",
			"Seconds since the session pipeline was created.", label, nil),
		videoUnits: prometheus.NewDesc("lumen_video_units_total",
			"Decode units submitted to the session.", label, nil),
		videoBytes: prometheus.NewDesc("lumen_video_bytes_total",
			"Reformatted bitstream bytes submitted for decode.", label, nil),
		videoKeyframes: prometheus.NewDesc("lumen_video_keyframes_total",
			"Keyframe decode units submitted.", label, nil),
		videoFailures: prometheus.NewDesc("lumen_video_decode_failures_total",
			"Bitstreams rejected by the decode session.", label, nil),
		videoSkipped: prometheus.NewDesc("lumen_video_skipped_units_total",
			"Decode units carrying no picture data.", label, nil),
		videoRate: prometheus.NewDesc("lumen_video_frame_rate",
			"Decode-unit rate over the sliding window.", label, nil),
		prepareMean: prometheus.NewDesc("lumen_video_prepare_mean_ms",
			"Mean per-unit assembly and reformat cost in milliseconds.", label, nil),
		dispatched: prometheus.NewDesc("lumen_present_dispatched_total",
			"Frames dispatched to the renderer.", label, nil),
		dispatchLate: prometheus.NewDesc("lumen_present_late_total",
			"Frames dispatched after their target time.", label, nil),
		frameDrops: prometheus.NewDesc("lumen_present_dropped_total",
			"Frames dropped by the presentation queue.", label, nil),
		presentDepth: prometheus.NewDesc("lumen_present_queue_depth",
			"Frames currently queued for presentation.", label, nil),
		timingError: prometheus.NewDesc("lumen_present_timing_error_mean_ms",
			"Mean absolute dispatch timing error in milliseconds.", label, nil),
		audioFrames: prometheus.NewDesc("lumen_audio_frames_total",
			"Audio frames enqueued, including synthesized silence.", label, nil),
		audioSynthesized: prometheus.NewDesc("lumen_audio_synthesized_total",
			"Silent frames synthesized for lost packets.", label, nil),
		audioEvicted: prometheus.NewDesc("lumen_audio_evicted_total",
			"Audio frames evicted by ring overflow.", label, nil),
		audioUnderruns: prometheus.NewDesc("lumen_audio_underruns_total",
			"Engine pulls that found the queue empty while playing.", label, nil),
		audioDepth: prometheus.NewDesc("lumen_audio_queue_depth",
			"Audio frames currently buffered.", label, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptime
	ch <- c.videoUnits
	ch <- c.videoBytes
	ch <- c.videoKeyframes
	ch <- c.videoFailures
	ch <- c.videoSkipped
	ch <- c.videoRate
	ch <- c.prepareMean
	ch <- c.dispatched
	ch <- c.dispatchLate
	ch <- c.frameDrops
	ch <- c.presentDepth
	ch <- c.timingError
	ch <- c.audioFrames
	ch <- c.audioSynthesized
	ch <- c.audioEvicted
	ch <- c.audioUnderruns
	ch <- c.audioDepth
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.provider() {
		counter := func(d *prometheus.Desc, v int64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), s.Session)
		}
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Session)
		}

		gauge(c.uptime, float64(s.UptimeMs)/1e3)
		counter(c.videoUnits, s.Video.Units)
		counter(c.videoBytes, s.Video.TotalBytes)
		counter(c.videoKeyframes, s.Video.KeyFrames)
		counter(c.videoFailures, s.Video.DecodeFailures)
		counter(c.videoSkipped, s.Video.SkippedUnits)
		gauge(c.videoRate, s.Video.FrameRate)
		gauge(c.prepareMean, s.Video.PrepareMeanMs)
		counter(c.dispatched, s.Present.Dispatched)
		counter(c.dispatchLate, s.Present.Late)
		counter(c.frameDrops, s.Present.Dropped)
		gauge(c.presentDepth, float64(s.Present.Depth))
		gauge(c.timingError, s.Present.MeanAbsErrorMs)
		counter(c.audioFrames, s.Audio.Enqueued)
		counter(c.audioSynthesized, s.Audio.Synthesized)
		counter(c.audioEvicted, s.Audio.Evicted)
		counter(c.audioUnderruns, s.Audio.Underruns)
		gauge(c.audioDepth, float64(s.Audio.Depth))
	}
}
