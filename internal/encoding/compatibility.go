package encoding

import (
	"strconv"
	"strings"

	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/media"
)

// CanStreamCopyVideo reports whether the source video stream already
// satisfies every constraint of the request. Unknown source properties fail
// any ceiling the client asked for, except bit depth and reference frames.
func CanStreamCopyVideo(req *Request, stream *media.Stream) bool {
	v := req.Video
	if v == nil || stream == nil {
		return false
	}

	if stream.IsInterlaced {
		return false
	}
	if stream.IsAnamorphic != nil && *stream.IsAnamorphic {
		return false
	}
	if v.SubtitleStreamIndex != nil && v.SubtitleMethod == SubtitleEncode {
		return false
	}

	if !codec.VideoMatch(v.VideoCodec, stream.Codec) {
		return false
	}

	if v.Profile != "" {
		if stream.Profile == "" {
			return false
		}
		if !strings.EqualFold(v.Profile, stream.Profile) {
			current := codec.ProfileRank(stream.Profile)
			requested := codec.ProfileRank(v.Profile)
			if current == -1 || current > requested {
				return false
			}
		}
	}

	if exceedsOrUnknown(stream.Width, v.MaxWidth) || exceedsOrUnknown(stream.Height, v.MaxHeight) {
		return false
	}

	if requested := firstNonNil(v.MaxFramerate, v.Framerate); requested != nil {
		rate := stream.FrameRate()
		if rate == nil || *rate > *requested {
			return false
		}
	}

	if exceedsOrUnknown(stream.BitRate, v.VideoBitRate) {
		return false
	}

	if exceedsKnown(stream.BitDepth, v.MaxVideoBitDepth) || exceedsKnown(stream.RefFrames, v.MaxRefFrames) {
		return false
	}

	if v.Level != "" {
		if requested, err := strconv.ParseFloat(v.Level, 64); err == nil {
			if stream.Level == nil || *stream.Level > requested {
				return false
			}
		}
	}

	if v.Cabac != nil && *v.Cabac && stream.IsCabac != nil && !*stream.IsCabac {
		return false
	}

	return req.AutoStreamCopy()
}

// CanStreamCopyAudio reports whether the source audio stream can be passed
// through. The codec must be one the client supports, and every requested
// ceiling needs a known positive source value within it.
func CanStreamCopyAudio(req *Request, stream *media.Stream, supportedCodecs []string) bool {
	if stream == nil || stream.Codec == "" {
		return false
	}

	supported := false
	for _, c := range supportedCodecs {
		if strings.EqualFold(c, stream.Codec) {
			supported = true
			break
		}
	}
	if !supported {
		return false
	}

	if exceedsOrNonPositive(stream.BitRate, req.AudioBitRate) {
		return false
	}
	if exceedsOrNonPositive(stream.Channels, firstNonNil(req.AudioChannels, req.MaxAudioChannels)) {
		return false
	}
	if exceedsOrNonPositive(stream.SampleRate, req.AudioSampleRate) {
		return false
	}

	return req.AutoStreamCopy()
}

// exceedsOrUnknown is true when a limit is set and the source value is
// missing or above it.
func exceedsOrUnknown(value, limit *int) bool {
	if limit == nil {
		return false
	}
	return value == nil || *value > *limit
}

// exceedsKnown is true only when both are known and the value is above the limit.
func exceedsKnown(value, limit *int) bool {
	return limit != nil && value != nil && *value > *limit
}

func exceedsOrNonPositive(value, limit *int) bool {
	if limit == nil {
		return false
	}
	return value == nil || *value <= 0 || *value > *limit
}

func firstNonNil[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
