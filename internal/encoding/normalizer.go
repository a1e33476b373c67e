package encoding

import (
	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/media"
)

// VideoBitrateParamValue returns the output video bitrate. Unless the
// request upscales, the requested bitrate is capped to the source bitrate.
func VideoBitrateParamValue(v *VideoRequest, stream *media.Stream) *int {
	if v == nil {
		return nil
	}
	bitrate := v.VideoBitRate
	if bitrate == nil || stream == nil {
		return clonePtr(bitrate)
	}

	upscaling := (v.Height != nil && stream.Height != nil && *v.Height > *stream.Height) ||
		(v.Width != nil && stream.Width != nil && *v.Width > *stream.Width)

	if !upscaling && stream.BitRate != nil && *stream.BitRate < *bitrate {
		capped := *stream.BitRate
		return &capped
	}
	return clonePtr(bitrate)
}

// EnforceResolutionLimit turns explicit dimensions into ceilings so that
// output sizing has a single max-width/max-height path.
func EnforceResolutionLimit(v *VideoRequest) {
	if v == nil {
		return
	}
	if v.MaxWidth == nil {
		v.MaxWidth = v.Width
	}
	if v.MaxHeight == nil {
		v.MaxHeight = v.Height
	}
	v.Width = nil
	v.Height = nil
}

// NumAudioChannelsParam returns the output channel count. The result never
// exceeds the output codec's channel ceiling or the source channel count
// when that is known.
func NumAudioChannelsParam(req *Request, stream *media.Stream, outputCodec string) *int {
	var input *int
	if stream != nil && stream.Channels != nil && *stream.Channels > 0 {
		input = stream.Channels
	}

	if codec.IsFamily(outputCodec, codec.AudioWMA) {
		// wmav2 only supports stereo output
		n := 2
		if input != nil {
			n = min(2, *input)
		}
		return &n
	}

	limit := codec.MaxAudioChannels(outputCodec)
	if input != nil {
		limit = min(limit, *input)
	}

	switch {
	case req.MaxAudioChannels != nil:
		n := min(*req.MaxAudioChannels, limit)
		return &n
	case req.AudioChannels != nil:
		return clonePtr(req.AudioChannels)
	default:
		return nil
	}
}

// AudioBitrateParam returns the output audio bitrate.
func AudioBitrateParam(req *Request) *int {
	return clonePtr(req.AudioBitRate)
}

// FramerateParam returns the output frame rate: an explicit rate, or the
// maximum when the content runs faster than it.
func FramerateParam(v *VideoRequest, stream *media.Stream) *float64 {
	if v == nil {
		return nil
	}
	if v.Framerate != nil {
		return clonePtr(v.Framerate)
	}
	if v.MaxFramerate != nil && stream != nil {
		if rate := stream.FrameRate(); rate != nil && *rate > *v.MaxFramerate {
			return clonePtr(v.MaxFramerate)
		}
	}
	return nil
}
