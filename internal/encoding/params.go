package encoding

import (
	"math"
	"strconv"
	"strings"

	"github.com/jmylchreest/encodr/internal/media"
)

// TimeSeekHeader is the DLNA header carrying a requested start position.
const TimeSeekHeader = "TimeSeekRange.dlna.org"

// paramField applies one positional value of the legacy parameter string.
type paramField func(r *Request, val string) error

// paramFields lists the positional layout of the legacy parameter string.
// A nil entry is a slot that is accepted but ignored.
var paramFields = []paramField{
	0: func(r *Request, v string) error { r.DeviceProfileID = v; return nil },
	1: func(r *Request, v string) error { r.DeviceID = v; return nil },
	2: func(r *Request, v string) error { r.MediaSourceID = v; return nil },
	3: func(r *Request, v string) error { r.Static = strings.EqualFold(v, "true"); return nil },
	4: videoField(func(vr *VideoRequest, v string) error { vr.VideoCodec = v; return nil }),
	5: func(r *Request, v string) error { r.AudioCodec = v; return nil },
	6: videoField(func(vr *VideoRequest, v string) error {
		return parseIntInto(&vr.AudioStreamIndex, "audioStreamIndex", v)
	}),
	7: videoField(func(vr *VideoRequest, v string) error {
		return parseIntInto(&vr.SubtitleStreamIndex, "subtitleStreamIndex", v)
	}),
	8:  videoField(func(vr *VideoRequest, v string) error { return parseIntInto(&vr.VideoBitRate, "videoBitRate", v) }),
	9:  func(r *Request, v string) error { return parseIntInto(&r.AudioBitRate, "audioBitRate", v) },
	10: func(r *Request, v string) error { return parseIntInto(&r.MaxAudioChannels, "maxAudioChannels", v) },
	11: videoField(func(vr *VideoRequest, v string) error { return parseFloatInto(&vr.MaxFramerate, "maxFramerate", v) }),
	12: videoField(func(vr *VideoRequest, v string) error { return parseIntInto(&vr.MaxWidth, "maxWidth", v) }),
	13: videoField(func(vr *VideoRequest, v string) error { return parseIntInto(&vr.MaxHeight, "maxHeight", v) }),
	14: func(r *Request, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid("startTimeTicks", "not an integer: %q", v)
		}
		r.StartTimeTicks = &n
		return nil
	},
	15: videoField(func(vr *VideoRequest, v string) error { vr.Level = v; return nil }),
	16: videoField(func(vr *VideoRequest, v string) error { return parseIntInto(&vr.MaxRefFrames, "maxRefFrames", v) }),
	17: videoField(func(vr *VideoRequest, v string) error {
		return parseIntInto(&vr.MaxVideoBitDepth, "maxVideoBitDepth", v)
	}),
	18: videoField(func(vr *VideoRequest, v string) error { vr.Profile = v; return nil }),
	19: videoField(func(vr *VideoRequest, v string) error {
		cabac := strings.EqualFold(v, "true")
		vr.Cabac = &cabac
		return nil
	}),
	20: func(r *Request, v string) error { r.PlaySessionID = v; return nil },
	21: nil, // api key
	22: func(r *Request, v string) error { r.LiveStreamID = v; return nil },
	23: nil, // duplicated item id
}

func videoField(fn func(*VideoRequest, string) error) paramField {
	return func(r *Request, v string) error {
		if r.Video == nil {
			return nil
		}
		return fn(r.Video, v)
	}
}

func parseIntInto(dst **int, field, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return invalid(field, "not an integer: %q", v)
	}
	*dst = &n
	return nil
}

func parseFloatInto(dst **float64, field, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return invalid(field, "not a number: %q", v)
	}
	*dst = &f
	return nil
}

// ApplyParams decodes the legacy positional parameter string into r.
// Empty positions are skipped; video-only positions are ignored for
// audio-only requests.
func ApplyParams(r *Request, params string) error {
	if params == "" {
		return nil
	}
	for i, val := range strings.Split(params, ";") {
		if strings.TrimSpace(val) == "" || i >= len(paramFields) || paramFields[i] == nil {
			continue
		}
		if err := paramFields[i](r, val); err != nil {
			return err
		}
	}
	return nil
}

// ParseTimeSeek parses a DLNA time seek range ("npt=417.33-" or
// "npt=10:19:25.7-") into ticks. An empty value yields nil.
func ParseTimeSeek(value string) (*int64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	if len(value) < 4 || !strings.EqualFold(value[:4], "npt=") {
		return nil, invalid(TimeSeekHeader, "must start with npt=")
	}
	value, _, _ = strings.Cut(value[4:], "-")
	value = strings.TrimSpace(value)

	if !strings.Contains(value, ":") {
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, invalid(TimeSeekHeader, "invalid seconds %q", value)
		}
		ticks := secondsToTicks(seconds)
		return &ticks, nil
	}

	var sum float64
	factor := 3600.0
	for _, token := range strings.SplitN(value, ":", 3) {
		digit, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, invalid(TimeSeekHeader, "invalid time component %q", token)
		}
		sum += digit * factor
		factor /= 60
	}
	ticks := secondsToTicks(sum)
	return &ticks, nil
}

func secondsToTicks(s float64) int64 {
	return int64(math.Round(s * float64(media.TicksPerSecond)))
}
