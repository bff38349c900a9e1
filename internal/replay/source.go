package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/lumen/internal/decode"
	"github.com/zsiec/lumen/internal/media"
)

// Sink is the pipeline surface a replayed session drives. The pipeline
// type implements it directly.
type Sink interface {
	SubmitVideo(unit *media.DecodeUnit) decode.Status
	SubmitAudio(payload []byte) error
}

// Source feeds a recording into a Sink. In realtime mode records are
// released on the recording's own receive-time schedule, reproducing
// the original arrival jitter; otherwise they are pushed as fast as the
// sink accepts them.
type Source struct {
	log      *slog.Logger
	rdr      *Reader
	realtime bool
}

// NewSource creates a Source reading from rdr. If log is nil,
// slog.Default() is used.
func NewSource(rdr *Reader, realtime bool, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		log:      log.With("component", "replay"),
		rdr:      rdr,
		realtime: realtime,
	}
}

// Play pushes every record into sink, honoring receive-time gaps in
// realtime mode, until the recording ends or ctx is cancelled. Submit
// failures on the audio path are logged and skipped, matching live
// behavior where one bad packet never stops the stream.
func (s *Source) Play(ctx context.Context, sink Sink) error {
	var (
		startWall time.Time
		firstRecv uint64
		first     = true
		videos    int
		audios    int
	)
	for {
		rec, err := s.rdr.Next()
		if errors.Is(err, io.EOF) {
			s.log.Info("recording finished", "video", videos, "audio", audios)
			return nil
		}
		if err != nil {
			return fmt.Errorf("replay: record %d: %w", videos+audios, err)
		}

		if first {
			startWall = time.Now()
			firstRecv = rec.ReceiveMs
			first = false
		}
		if s.realtime && rec.ReceiveMs > firstRecv {
			due := startWall.Add(time.Duration(rec.ReceiveMs-firstRecv) * time.Millisecond)
			if err := sleepUntil(ctx, due); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		switch rec.Type {
		case RecordVideo:
			videos++
			sink.SubmitVideo(rec.Unit)
		case RecordAudio:
			audios++
			if err := sink.SubmitAudio(rec.Payload); err != nil {
				s.log.Warn("audio submit failed", "error", err)
			}
		}
	}
}

func sleepUntil(ctx context.Context, due time.Time) error {
	wait := time.Until(due)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
