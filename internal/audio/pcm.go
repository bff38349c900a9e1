package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PCMDecoder is a Decoder for streams whose payloads already carry
// little-endian interleaved 16-bit PCM. The replay tooling and tests use
// it in place of a codec-backed decoder; a real Opus implementation
// slots in behind the same interface.
type PCMDecoder struct {
	cfg Config
}

// Init records the stream geometry.
func (d *PCMDecoder) Init(cfg Config) error {
	if cfg.Channels <= 0 || cfg.SamplesPerFrame <= 0 {
		return fmt.Errorf("audio: invalid PCM config: channels=%d samplesPerFrame=%d",
			cfg.Channels, cfg.SamplesPerFrame)
	}
	d.cfg = cfg
	return nil
}

// Decode copies the payload's interleaved samples into pcm and returns
// the per-channel sample count.
func (d *PCMDecoder) Decode(payload []byte, pcm []int16) (int, error) {
	if d.cfg.Channels == 0 {
		return 0, errors.New("audio: PCM decoder not initialized")
	}
	if len(payload)%2 != 0 {
		return 0, fmt.Errorf("audio: odd PCM payload length %d", len(payload))
	}
	samples := len(payload) / 2
	if samples%d.cfg.Channels != 0 {
		return 0, fmt.Errorf("audio: %d samples do not divide into %d channels", samples, d.cfg.Channels)
	}
	perChannel := samples / d.cfg.Channels
	if perChannel > d.cfg.SamplesPerFrame {
		return 0, fmt.Errorf("audio: payload carries %d samples per channel, frame size is %d",
			perChannel, d.cfg.SamplesPerFrame)
	}
	for i := 0; i < samples; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	return perChannel, nil
}

// Close releases nothing; PCM passthrough holds no codec state.
func (d *PCMDecoder) Close() {}
