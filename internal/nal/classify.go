package nal

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/zsiec/lumen/internal/media"
)

// H264Type extracts the H.264 NAL unit type from a raw NAL payload
// (no start code).
func H264Type(nalu []byte) h264.NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return h264.NALUType(nalu[0] & 0x1F)
}

// H265Type extracts the H.265 NAL unit type from a raw NAL payload
// (no start code).
func H265Type(nalu []byte) h265.NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return h265.NALUType((nalu[0] >> 1) & 0b111111)
}

// TypeName returns a readable NAL type name for logs.
func TypeName(codec media.Codec, nalu []byte) string {
	if len(nalu) == 0 {
		return "empty"
	}
	if codec == media.CodecH265 {
		return H265Type(nalu).String()
	}
	return H264Type(nalu).String()
}

// IsParameterSet reports whether the NAL carries codec configuration
// (SPS/PPS for H.264; VPS/SPS/PPS for H.265).
func IsParameterSet(codec media.Codec, nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	if codec == media.CodecH265 {
		switch H265Type(nalu) {
		case h265.NALUType_VPS_NUT, h265.NALUType_SPS_NUT, h265.NALUType_PPS_NUT:
			return true
		}
		return false
	}
	t := H264Type(nalu)
	return t == h264.NALUTypeSPS || t == h264.NALUTypePPS
}

// IsSyncPoint reports whether the NAL begins a random access point from
// which decoding can start (IDR for H.264; IDR or CRA for H.265).
func IsSyncPoint(codec media.Codec, nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	if codec == media.CodecH265 {
		switch H265Type(nalu) {
		case h265.NALUType_IDR_W_RADL, h265.NALUType_IDR_N_LP, h265.NALUType_CRA_NUT:
			return true
		}
		return false
	}
	return H264Type(nalu) == h264.NALUTypeIDR
}
