// Command lumen replays session recordings through the media pipeline,
// one concurrent session per recording, and serves live stats over a
// debug HTTP API. It stands in for the full streaming client: the
// recording replaces the network transport, the console renderer
// replaces the GPU, and an optional WAV sink captures the audio path.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/certs"
	"github.com/zsiec/lumen/internal/decode"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/pipeline"
	"github.com/zsiec/lumen/internal/present"
	"github.com/zsiec/lumen/internal/replay"
	"github.com/zsiec/lumen/internal/stats"
	"github.com/zsiec/lumen/internal/stream"
	"github.com/zsiec/lumen/internal/wavsink"
)

var version = "dev"

func main() {
	// Best effort; system env and defaults cover a missing .env.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("LUMEN_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		realtime = flag.Bool("realtime", true, "honor recorded receive-time gaps")
		outWav   = flag.String("out-wav", "", "WAV capture path prefix, one file per session")
		fps      = flag.Int("fps", 0, "override the recording's nominal frame rate")
		codec    = flag.String("codec", "", "override the recording's codec (h264 or h265)")
		httpAddr = flag.String("http", "", "debug API address (default LUMEN_HTTP_ADDR or :8090)")
	)
	flag.Parse()
	recordings := flag.Args()
	if len(recordings) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] recording.lmnr ...\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	addr := *httpAddr
	if addr == "" {
		addr = envOr("LUMEN_HTTP_ADDR", ":8090")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{
		mgr:      stream.NewManager(nil),
		outWav:   *outWav,
		realtime: *realtime,
		fps:      *fps,
		codec:    media.Codec(*codec),
	}

	slog.Info("lumen starting",
		"version", version,
		"sessions", len(recordings),
		"api", addr,
		"realtime", *realtime,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(stats.NewCollector(a.mgr.Snapshots))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/sessions", a.handleSessions)
	mux.HandleFunc("/api/sessions/", a.handleSession)
	apiSrv := &http.Server{Addr: addr, Handler: mux}

	useTLS := os.Getenv("LUMEN_TLS") != ""
	if useTLS {
		cert, err := certs.Generate(0)
		if err != nil {
			slog.Error("failed to generate certificate", "error", err)
			os.Exit(1)
		}
		apiSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}}
		slog.Info("debug API TLS enabled",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("debug API listening", "addr", addr, "tls", useTLS)
		var err error
		if useTLS {
			err = apiSrv.ListenAndServeTLS("", "")
		} else {
			err = apiSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		// All replays finishing shuts the whole process down.
		defer cancel()
		return a.runSessions(ctx, recordings)
	})

	err := g.Wait()
	a.mgr.CloseAll()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	mgr      *stream.Manager
	outWav   string
	realtime bool
	fps      int
	codec    media.Codec
}

// runSessions replays every recording concurrently and waits for all of
// them. One failing session tears the rest down.
func (a *app) runSessions(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		g.Go(func() error {
			return a.runSession(ctx, path)
		})
	}
	return g.Wait()
}

func (a *app) runSession(ctx context.Context, path string) error {
	name := sessionName(path)
	log := slog.With("session", name)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	rdr, err := replay.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	hdr := rdr.Header()

	opts := pipeline.Options{Codec: hdr.Codec, FPS: hdr.FPS}
	if a.fps > 0 {
		opts.FPS = a.fps
	}
	if a.codec != "" {
		log.Warn("overriding recorded codec", "recorded", hdr.Codec, "override", a.codec)
		opts.Codec = a.codec
	}

	var (
		engine audio.Engine
		dec    audio.Decoder
	)
	if hdr.Audio.SampleRate > 0 {
		opts.Audio = hdr.Audio
		dec = &audio.PCMDecoder{}
		if a.outWav != "" {
			engine = wavsink.New(a.outWav+name+".wav", log)
		} else {
			engine = &pullEngine{}
		}
	}

	renderer := &consoleRenderer{log: log}
	p, err := pipeline.New(name, decode.NewSoftwareSession(opts.Codec, log),
		renderer, engine, dec, opts, log)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !a.mgr.Register(p) {
		p.Close()
		return fmt.Errorf("duplicate session name %q", name)
	}
	defer a.mgr.Remove(name)
	defer p.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(ctx)
	})
	g.Go(func() error {
		src := replay.NewSource(rdr, a.realtime, log)
		err := src.Play(ctx, p)
		if err == nil {
			waitDrained(ctx, p)
		}
		p.Close()
		return err
	})

	err = g.Wait()
	log.Info("session ended", "frames", renderer.frames.Load(), "error", err)
	return err
}

// waitDrained gives the scheduler a moment to present the tail of the
// queue before the pipeline is torn down.
func waitDrained(ctx context.Context, p *pipeline.Pipeline) {
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-tick.C:
			if p.Snapshot().Present.Depth == 0 {
				return
			}
		}
	}
}

func (a *app) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.mgr.Snapshots())
}

func (a *app) handleSession(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	s, ok := a.mgr.Get(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// consoleRenderer stands in for the GPU path: it logs dispatches at
// debug level and releases every image.
type consoleRenderer struct {
	log    *slog.Logger
	frames atomic.Int64
}

func (r *consoleRenderer) Push(img media.Image, frameNumber uint32, timing present.Timing) {
	r.frames.Add(1)
	r.log.Debug("frame presented",
		"frame", frameNumber,
		"pts", timing.PresentationMs,
		"errorUs", timing.Error.Microseconds(),
	)
	img.Release()
}

// pullEngine drains the jitter buffer at frame cadence and discards the
// PCM, used when no WAV capture was requested.
type pullEngine struct {
	quit chan struct{}
	done chan struct{}
}

func (e *pullEngine) Start(cfg audio.Config, src audio.Source) error {
	e.quit = make(chan struct{})
	e.done = make(chan struct{})
	interval := time.Duration(cfg.SamplesPerFrame) * time.Second / time.Duration(cfg.SampleRate)
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.quit:
				return
			case <-ticker.C:
				src.NextFrame()
			}
		}
	}()
	return nil
}

func (e *pullEngine) Stop() {
	close(e.quit)
	<-e.done
}

func sessionName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
