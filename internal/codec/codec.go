// Package codec provides a unified codec registry for video and audio codecs.
// It maps requested codec names to FFmpeg encoders, infers codecs from
// container extensions and carries the per-codec tables used by the
// transcoding decision engine.
package codec

import (
	"strings"
)

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264    Video = "h264"
	VideoH265    Video = "h265"
	VideoVPX     Video = "vpx" // VP8 as requested by legacy clients
	VideoVP9     Video = "vp9"
	VideoAV1     Video = "av1"
	VideoMPEG2   Video = "mpeg2video"
	VideoMPEG4   Video = "mpeg4"
	VideoMSMPEG4 Video = "msmpeg4"
	VideoVC1     Video = "vc1"
	VideoWMV     Video = "wmv"
	VideoTheora  Video = "theora"
	VideoMJPEG   Video = "mjpeg"
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC    Audio = "aac"
	AudioMP3    Audio = "mp3"
	AudioAC3    Audio = "ac3"
	AudioEAC3   Audio = "eac3"
	AudioOpus   Audio = "opus"
	AudioVorbis Audio = "vorbis"
	AudioFLAC   Audio = "flac"
	AudioDTS    Audio = "dts"
	AudioTrueHD Audio = "truehd"
	AudioWMA    Audio = "wma"
	AudioPCM    Audio = "pcm"
)

// Copy is the pseudo codec/encoder meaning "pass the stream through".
const Copy = "copy"

// HWAccel represents a hardware encoder family.
type HWAccel string

// Hardware acceleration constants.
const (
	HWAccelNone  HWAccel = ""
	HWAccelQSV   HWAccel = "qsv"
	HWAccelNVENC HWAccel = "nvenc"
)

// MPEG-TS stream type constants.
const (
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
	StreamTypeAAC  uint8 = 0x0F
	StreamTypeAC3  uint8 = 0x81
	StreamTypeEAC3 uint8 = 0x87
	StreamTypeMP3  uint8 = 0x03
)

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	Name    Video
	Aliases []string
	// Encoders holds the FFmpeg encoder per acceleration family. HWAccelNone
	// is the software fallback.
	Encoders map[HWAccel]string
	// BitrateFactor is the bitrate needed relative to h264 for similar quality.
	BitrateFactor float64
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	Name    Audio
	Aliases []string
	Encoder Encoder
	// MaxChannels caps the output channel count when a client asks for a maximum.
	MaxChannels int
}

var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name:    VideoH264,
		Aliases: []string{"h264", "avc", "avc1", "h.264", "libx264", "h264_qsv", "h264_nvenc"},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx264",
			HWAccelQSV:   "h264_qsv",
			HWAccelNVENC: "h264_nvenc",
		},
		BitrateFactor: 1,
	},
	VideoH265: {
		Name:          VideoH265,
		Aliases:       []string{"h265", "hevc", "hev1", "hvc1", "h.265", "libx265"},
		Encoders:      map[HWAccel]string{HWAccelNone: "libx265"},
		BitrateFactor: 0.6,
	},
	VideoVPX: {
		Name:          VideoVPX,
		Aliases:       []string{"vpx", "vp8", "libvpx"},
		Encoders:      map[HWAccel]string{HWAccelNone: "libvpx"},
		BitrateFactor: 1,
	},
	VideoVP9: {
		Name:          VideoVP9,
		Aliases:       []string{"vp9", "vp09", "libvpx-vp9"},
		Encoders:      map[HWAccel]string{HWAccelNone: "libvpx-vp9"},
		BitrateFactor: 0.6,
	},
	VideoAV1: {
		Name:          VideoAV1,
		Aliases:       []string{"av1", "av01", "libaom-av1", "libsvtav1"},
		Encoders:      map[HWAccel]string{HWAccelNone: "libsvtav1"},
		BitrateFactor: 0.5,
	},
	VideoMPEG2: {
		Name:          VideoMPEG2,
		Aliases:       []string{"mpeg2video", "mpeg2"},
		Encoders:      map[HWAccel]string{HWAccelNone: "mpeg2video"},
		BitrateFactor: 2,
	},
	VideoMPEG4: {
		Name:          VideoMPEG4,
		Aliases:       []string{"mpeg4", "xvid", "divx"},
		Encoders:      map[HWAccel]string{HWAccelNone: "mpeg4"},
		BitrateFactor: 1.5,
	},
	VideoMSMPEG4: {
		Name:          VideoMSMPEG4,
		Aliases:       []string{"msmpeg4", "msmpeg4v2", "msmpeg4v3"},
		Encoders:      map[HWAccel]string{HWAccelNone: "msmpeg4"},
		BitrateFactor: 1.5,
	},
	VideoVC1: {
		Name:          VideoVC1,
		Aliases:       []string{"vc1", "wmv3"},
		BitrateFactor: 1.5,
	},
	VideoWMV: {
		Name:          VideoWMV,
		Aliases:       []string{"wmv", "wmv2"},
		Encoders:      map[HWAccel]string{HWAccelNone: "wmv2"},
		BitrateFactor: 1.5,
	},
	VideoTheora: {
		Name:          VideoTheora,
		Aliases:       []string{"theora", "libtheora"},
		Encoders:      map[HWAccel]string{HWAccelNone: "libtheora"},
		BitrateFactor: 1.5,
	},
	VideoMJPEG: {
		Name:    VideoMJPEG,
		Aliases: []string{"mjpeg"},
	},
}

var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Name:        AudioAAC,
		Aliases:     []string{"aac", "mp4a", "libfdk_aac"},
		Encoder:     Encoder{Name: "aac", Args: []string{"-strict", "experimental"}},
		MaxChannels: 6,
	},
	AudioMP3: {
		Name:        AudioMP3,
		Aliases:     []string{"mp3", "mp3float", "libmp3lame"},
		Encoder:     Encoder{Name: "libmp3lame"},
		MaxChannels: 2,
	},
	AudioAC3: {
		Name:        AudioAC3,
		Aliases:     []string{"ac3", "ac-3", "a52"},
		Encoder:     Encoder{Name: "ac3"},
		MaxChannels: 6,
	},
	AudioEAC3: {
		Name:        AudioEAC3,
		Aliases:     []string{"eac3", "ec-3"},
		Encoder:     Encoder{Name: "eac3"},
		MaxChannels: 6,
	},
	AudioOpus: {
		Name:        AudioOpus,
		Aliases:     []string{"opus", "libopus"},
		Encoder:     Encoder{Name: "libopus"},
		MaxChannels: 6,
	},
	AudioVorbis: {
		Name:        AudioVorbis,
		Aliases:     []string{"vorbis", "libvorbis"},
		Encoder:     Encoder{Name: "libvorbis"},
		MaxChannels: 6,
	},
	AudioFLAC: {
		Name:        AudioFLAC,
		Aliases:     []string{"flac"},
		Encoder:     Encoder{Name: "flac"},
		MaxChannels: 6,
	},
	AudioDTS: {
		Name:        AudioDTS,
		Aliases:     []string{"dts", "dca"},
		Encoder:     Encoder{Name: "dca"},
		MaxChannels: 6,
	},
	AudioTrueHD: {
		Name:        AudioTrueHD,
		Aliases:     []string{"truehd", "mlp"},
		Encoder:     Encoder{Name: "truehd"},
		MaxChannels: 6,
	},
	AudioWMA: {
		Name:        AudioWMA,
		Aliases:     []string{"wma", "wmav2", "wmapro"},
		Encoder:     Encoder{Name: "wmav2"},
		MaxChannels: 2,
	},
	AudioPCM: {
		Name:        AudioPCM,
		Aliases:     []string{"pcm", "pcm_s16le", "pcm_s24le"},
		Encoder:     Encoder{Name: "pcm_s16le"},
		MaxChannels: 6,
	},
}

var (
	videoAliasIndex map[string]Video
	audioAliasIndex map[string]Audio
)

func init() {
	videoAliasIndex = make(map[string]Video)
	for c, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = c
		}
	}

	audioAliasIndex = make(map[string]Audio)
	for c, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = c
		}
	}
}

// ParseVideo parses a codec name, alias, or encoder to a Video codec.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	c, ok := videoAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// ParseAudio parses a codec name, alias, or encoder to an Audio codec.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	c, ok := audioAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// VideoMatch reports whether two video codec names refer to the same codec.
// Unknown names fall back to a case-insensitive comparison.
func VideoMatch(a, b string) bool {
	ca, okA := ParseVideo(a)
	cb, okB := ParseVideo(b)
	if okA && okB {
		return ca == cb
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// AudioMatch reports whether two audio codec names refer to the same codec.
func AudioMatch(a, b string) bool {
	ca, okA := ParseAudio(a)
	cb, okB := ParseAudio(b)
	if okA && okB {
		return ca == cb
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// IsFamily reports whether name belongs to the given audio codec family.
func IsFamily(name string, family Audio) bool {
	if c, ok := ParseAudio(name); ok {
		return c == family
	}
	return strings.Contains(strings.ToLower(name), string(family))
}

// IsVideoFamily reports whether name belongs to the given video codec family.
func IsVideoFamily(name string, family Video) bool {
	if c, ok := ParseVideo(name); ok {
		return c == family
	}
	return strings.Contains(strings.ToLower(name), string(family))
}

// MaxAudioChannels returns the channel ceiling for an output audio codec.
// Unknown codecs allow six channels.
func MaxAudioChannels(name string) int {
	if c, ok := ParseAudio(name); ok {
		return audioRegistry[c].MaxChannels
	}
	if strings.Contains(strings.ToLower(name), "mp3") {
		return 2
	}
	return 6
}

// BitrateScaleFactor returns the bitrate a codec needs relative to h264 for
// comparable quality. Unknown codecs are treated like h264.
func BitrateScaleFactor(name string) float64 {
	if c, ok := ParseVideo(name); ok {
		if f := videoRegistry[c].BitrateFactor; f > 0 {
			return f
		}
	}
	return 1
}
