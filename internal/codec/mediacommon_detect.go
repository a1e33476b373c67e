package codec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// FromMPEGTS maps a track codec found by the mediacommon MPEG-TS reader to
// the canonical codec name. Unsupported tracks return an empty string.
func FromMPEGTS(c mpegts.Codec) string {
	switch c.(type) {
	case *mpegts.CodecH264:
		return string(VideoH264)
	case *mpegts.CodecH265:
		return string(VideoH265)
	case *mpegts.CodecMPEG4Video:
		return string(VideoMPEG4)
	case *mpegts.CodecMPEG1Video:
		return string(VideoMPEG2)
	case *mpegts.CodecMPEG4Audio:
		return string(AudioAAC)
	case *mpegts.CodecMPEG1Audio:
		return string(AudioMP3)
	case *mpegts.CodecAC3:
		return string(AudioAC3)
	case *mpegts.CodecEAC3:
		return string(AudioEAC3)
	case *mpegts.CodecOpus:
		return string(AudioOpus)
	default:
		return ""
	}
}

// IsVideoTrack reports whether a mediacommon track codec carries video.
func IsVideoTrack(c mpegts.Codec) bool {
	_, ok := ParseVideo(FromMPEGTS(c))
	return ok
}

// StreamTypeFor returns the MPEG-TS stream type for a canonical codec, or 0.
func StreamTypeFor(name string) uint8 {
	if v, ok := ParseVideo(name); ok {
		switch v {
		case VideoH264:
			return StreamTypeH264
		case VideoH265:
			return StreamTypeH265
		}
		return 0
	}
	if a, ok := ParseAudio(name); ok {
		switch a {
		case AudioAAC:
			return StreamTypeAAC
		case AudioAC3:
			return StreamTypeAC3
		case AudioEAC3:
			return StreamTypeEAC3
		case AudioMP3:
			return StreamTypeMP3
		}
	}
	return 0
}
