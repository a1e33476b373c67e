package ffmpeg

import (
	"strings"

	"github.com/jmylchreest/encodr/internal/codec"
)

// OutputFormatType is an FFmpeg muxer name.
type OutputFormatType string

const (
	FormatMPEGTS  OutputFormatType = "mpegts"
	FormatHLS     OutputFormatType = "hls"
	FormatDASH    OutputFormatType = "dash"
	FormatFLV     OutputFormatType = "flv"
	FormatMP4     OutputFormatType = "mp4"
	FormatMKV     OutputFormatType = "matroska"
	FormatWebM    OutputFormatType = "webm"
	FormatOGG     OutputFormatType = "ogg"
	FormatASF     OutputFormatType = "asf"
	FormatMP3     OutputFormatType = "mp3"
	FormatADTS    OutputFormatType = "adts"
	FormatUnknown OutputFormatType = ""
)

// ParseOutputFormat maps a container extension to the muxer that writes it.
func ParseOutputFormat(container string) OutputFormatType {
	switch strings.TrimPrefix(strings.ToLower(container), ".") {
	case "mpegts", "ts", "m2ts", "mts":
		return FormatMPEGTS
	case "hls", "m3u8":
		return FormatHLS
	case "mpd", "dash":
		return FormatDASH
	case "flv":
		return FormatFLV
	case "mp4", "m4v", "mov":
		return FormatMP4
	case "matroska", "mkv":
		return FormatMKV
	case "webm":
		return FormatWebM
	case "ogg", "ogv", "oga":
		return FormatOGG
	case "asf", "wmv", "wma":
		return FormatASF
	case "mp3":
		return FormatMP3
	case "aac":
		return FormatADTS
	default:
		return FormatUnknown
	}
}

// RequiresAnnexBConversion returns true if the output format requires Annex B NAL format
func RequiresAnnexBConversion(outputFormat OutputFormatType) bool {
	switch outputFormat {
	case FormatMPEGTS, FormatHLS:
		return true
	default:
		return false
	}
}

// BitstreamFilterInfo contains information about a bitstream filter to apply
type BitstreamFilterInfo struct {
	VideoBSF string // e.g. "h264_mp4toannexb"
	AudioBSF string // e.g. "aac_adtstoasc"
}

// GetBitstreamFilters returns the filters needed when streams are copied
// between containers that frame them differently. Encoders already emit the
// framing their muxer expects, so nothing is added for transcoded streams.
func GetBitstreamFilters(inputContainer string, output OutputFormatType, videoCodec string, copyVideo bool, audioCodec string, copyAudio bool) BitstreamFilterInfo {
	var info BitstreamFilterInfo
	input := ParseOutputFormat(strings.Split(inputContainer, ",")[0])

	if copyVideo && RequiresAnnexBConversion(output) && !RequiresAnnexBConversion(input) {
		switch {
		case codec.IsVideoFamily(videoCodec, codec.VideoH264):
			info.VideoBSF = "h264_mp4toannexb"
		case codec.IsVideoFamily(videoCodec, codec.VideoH265):
			info.VideoBSF = "hevc_mp4toannexb"
		}
	}

	if copyAudio && codec.IsFamily(audioCodec, codec.AudioAAC) && RequiresAnnexBConversion(input) {
		switch output {
		case FormatMP4, FormatFLV:
			info.AudioBSF = "aac_adtstoasc"
		}
	}
	return info
}

// ApplyBitstreamFilters adds the bitstream filter arguments to a CommandBuilder
func ApplyBitstreamFilters(builder *CommandBuilder, bsfInfo BitstreamFilterInfo) *CommandBuilder {
	if bsfInfo.VideoBSF != "" {
		builder.OutputArgs("-bsf:v", bsfInfo.VideoBSF)
	}
	if bsfInfo.AudioBSF != "" {
		builder.OutputArgs("-bsf:a", bsfInfo.AudioBSF)
	}
	return builder
}

// IsHardwareEncoder returns true if the encoder is a hardware encoder
func IsHardwareEncoder(encoder string) bool {
	encoder = strings.ToLower(encoder)
	for _, suffix := range []string{"_nvenc", "_qsv", "_vaapi", "_videotoolbox", "_amf"} {
		if strings.HasSuffix(encoder, suffix) {
			return true
		}
	}
	return encoder == "libnvenc"
}
