// Command gen-units writes a synthetic session recording for exercising
// the pipeline without a live host: H.264 or H.265 decode units with
// realistic NAL framing, plus a PCM sine tone on the audio track with
// configurable packet loss.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/replay"
)

const (
	sampleRate      = 48000
	channels        = 2
	samplesPerFrame = 240 // 5 ms at 48 kHz
)

func main() {
	var (
		out      = flag.String("out", "session.lmnr", "output recording path")
		duration = flag.Float64("duration", 10, "recording length in seconds")
		fps      = flag.Int("fps", 60, "video frame rate")
		keyint   = flag.Int("keyint", 120, "frames between keyframes")
		codec    = flag.String("codec", "h264", "video codec (h264 or h265)")
		withAud  = flag.Bool("audio", true, "include the audio track")
		tone     = flag.Float64("tone", 440, "audio tone frequency in Hz")
		loss     = flag.Float64("loss", 0.02, "audio packet loss fraction (0..1)")
		seed     = flag.Int64("seed", 42, "random seed for payload bytes and jitter")
	)
	flag.Parse()

	var c media.Codec
	switch *codec {
	case "h264":
		c = media.CodecH264
	case "h265":
		c = media.CodecH265
	default:
		fatal("unknown codec %q (want h264 or h265)", *codec)
	}
	if *fps <= 0 || *duration <= 0 || *keyint <= 0 {
		fatal("duration, fps and keyint must be positive")
	}

	rng := rand.New(rand.NewSource(*seed))

	hdr := replay.Header{Codec: c, FPS: *fps}
	if *withAud {
		hdr.Audio = audio.Config{
			SampleRate:      sampleRate,
			Channels:        channels,
			Streams:         1,
			CoupledStreams:  1,
			SamplesPerFrame: samplesPerFrame,
			ChannelMapping:  []byte{0, 1},
		}
	}

	f, err := os.Create(*out)
	if err != nil {
		fatal("create %s: %v", *out, err)
	}
	w, err := replay.NewWriter(f, hdr)
	if err != nil {
		fatal("write header: %v", err)
	}

	// One set of parameter sets for the whole session; a real encoder
	// repeats the same ones on every keyframe.
	params := makeParamSets(c, rng)

	var (
		videoMs, audioMs float64
		endMs            = *duration * 1000
		videoInterval    = 1000 / float64(*fps)
		audioInterval    = 1000 * float64(samplesPerFrame) / sampleRate
		frame            uint32
		keyframes        int
		audioRecords     int
		lostRecords      int
		phase            float64
	)
	if !*withAud {
		audioMs = endMs
	}

	for videoMs < endMs || audioMs < endMs {
		if videoMs < endMs && videoMs <= audioMs {
			pts := uint32(videoMs)
			recvMs := uint64(1000+videoMs) + uint64(rng.Intn(4))
			var unit *media.DecodeUnit
			if frame%uint32(*keyint) == 0 {
				unit = keyframeUnit(c, frame, pts, recvMs, params, rng)
				keyframes++
			} else {
				unit = deltaUnit(c, frame, pts, recvMs, rng)
			}
			if err := w.WriteVideo(unit); err != nil {
				fatal("write video %d: %v", frame, err)
			}
			frame++
			videoMs += videoInterval
			continue
		}

		recvMs := uint64(1000+audioMs) + uint64(rng.Intn(3))
		var payload []byte
		if rng.Float64() < *loss {
			lostRecords++
		} else {
			payload = toneFrame(*tone, &phase)
		}
		if err := w.WriteAudio(recvMs, payload); err != nil {
			fatal("write audio: %v", err)
		}
		audioRecords++
		audioMs += audioInterval
	}

	if err := w.Flush(); err != nil {
		fatal("flush: %v", err)
	}
	if err := f.Close(); err != nil {
		fatal("close: %v", err)
	}

	fmt.Printf("%s: %d video units (%d keyframes), %d audio records (%d lost), %.1fs at %d fps, %s\n",
		*out, frame, keyframes, audioRecords, lostRecords, *duration, *fps, c)
}

// nalu builds one Annex-B NAL: start code, header bytes, then random
// RBSP filler up to size.
func nalu(header []byte, size int, rng *rand.Rand) []byte {
	out := make([]byte, 0, 4+len(header)+size)
	out = append(out, 0x00, 0x00, 0x00, 0x01)
	out = append(out, header...)
	for i := 0; i < size; i++ {
		// Stay clear of 0x00 runs so the filler never forms a start code.
		out = append(out, byte(rng.Intn(254)+1))
	}
	return out
}

type paramSets struct {
	vps, sps, pps []byte
}

func makeParamSets(c media.Codec, rng *rand.Rand) paramSets {
	if c == media.CodecH265 {
		return paramSets{
			vps: nalu([]byte{0x40, 0x01}, 20, rng),
			sps: nalu([]byte{0x42, 0x01}, 40, rng),
			pps: nalu([]byte{0x44, 0x01}, 8, rng),
		}
	}
	return paramSets{
		sps: nalu([]byte{0x67, 0x64, 0x00, 0x1f}, 24, rng),
		pps: nalu([]byte{0x68}, 6, rng),
	}
}

func pictureNAL(c media.Codec, key bool, rng *rand.Rand) []byte {
	size := 4000 + rng.Intn(4000)
	if key {
		size = 16000 + rng.Intn(16000)
	}
	switch {
	case c == media.CodecH265 && key:
		return nalu([]byte{0x26, 0x01}, size, rng) // IDR_W_RADL
	case c == media.CodecH265:
		return nalu([]byte{0x02, 0x01}, size, rng) // TRAIL_R
	case key:
		return nalu([]byte{0x65}, size, rng)
	default:
		return nalu([]byte{0x41}, size, rng)
	}
}

func keyframeUnit(c media.Codec, frame, pts uint32, recvMs uint64, p paramSets, rng *rand.Rand) *media.DecodeUnit {
	var bufs []media.DecodeBuffer
	if c == media.CodecH265 {
		bufs = append(bufs, media.DecodeBuffer{Kind: media.BufferVPS, Payload: p.vps})
	}
	bufs = append(bufs,
		media.DecodeBuffer{Kind: media.BufferSPS, Payload: p.sps},
		media.DecodeBuffer{Kind: media.BufferPPS, Payload: p.pps},
		media.DecodeBuffer{Kind: media.BufferPicture, Payload: pictureNAL(c, true, rng)},
	)
	return newUnit(frame, media.KeyFrame, pts, recvMs, bufs)
}

func deltaUnit(c media.Codec, frame, pts uint32, recvMs uint64, rng *rand.Rand) *media.DecodeUnit {
	bufs := []media.DecodeBuffer{
		{Kind: media.BufferPicture, Payload: pictureNAL(c, false, rng)},
	}
	return newUnit(frame, media.DeltaFrame, pts, recvMs, bufs)
}

func newUnit(frame uint32, kind media.FrameKind, pts uint32, recvMs uint64, bufs []media.DecodeBuffer) *media.DecodeUnit {
	total := 0
	for _, b := range bufs {
		total += len(b.Payload)
	}
	return &media.DecodeUnit{
		FrameNumber:    frame,
		Kind:           kind,
		TotalLength:    total,
		Buffers:        bufs,
		PresentationMs: pts,
		ReceiveMs:      recvMs,
	}
}

// toneFrame renders one frame of a stereo sine tone as little-endian
// interleaved PCM, keeping phase continuous across frames.
func toneFrame(freq float64, phase *float64) []byte {
	step := 2 * math.Pi * freq / sampleRate
	out := make([]byte, samplesPerFrame*channels*2)
	for i := 0; i < samplesPerFrame; i++ {
		s := int16(math.Sin(*phase) * 0.3 * math.MaxInt16)
		*phase += step
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(s))
		}
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
