// Package encoding decides how a media source is delivered to a client:
// which streams are selected, whether each can be copied, and which
// output parameters an encoder must produce.
package encoding

import (
	"strings"
)

// SubtitleMethod is how a selected subtitle stream is delivered.
type SubtitleMethod string

// Subtitle delivery methods.
const (
	SubtitleEncode   SubtitleMethod = "Encode" // burned into the video
	SubtitleEmbed    SubtitleMethod = "Embed"
	SubtitleExternal SubtitleMethod = "External"
	SubtitleHLS      SubtitleMethod = "Hls"
)

// Request is a client's playback request. Video fields live in an optional
// payload; a request without one is audio-only.
type Request struct {
	ItemID               string `json:"itemId"`
	MediaSourceID        string `json:"mediaSourceId,omitempty"`
	LiveStreamID         string `json:"liveStreamId,omitempty"`
	DeviceID             string `json:"deviceId,omitempty"`
	DeviceProfileID      string `json:"deviceProfileId,omitempty"`
	PlaySessionID        string `json:"playSessionId,omitempty"`
	Static               bool   `json:"static,omitempty"`
	AudioCodec           string `json:"audioCodec,omitempty"`
	AudioBitRate         *int   `json:"audioBitRate,omitempty"`
	AudioChannels        *int   `json:"audioChannels,omitempty"`
	MaxAudioChannels     *int   `json:"maxAudioChannels,omitempty"`
	AudioSampleRate      *int   `json:"audioSampleRate,omitempty"`
	StartTimeTicks       *int64 `json:"startTimeTicks,omitempty"`
	Container            string `json:"container,omitempty"`
	EnableAutoStreamCopy *bool  `json:"enableAutoStreamCopy,omitempty"`
	// Params is the legacy semicolon separated parameter string.
	Params string `json:"params,omitempty"`

	Video *VideoRequest `json:"video,omitempty"`
}

// VideoRequest holds the fields only meaningful for video playback.
type VideoRequest struct {
	VideoCodec          string         `json:"videoCodec,omitempty"`
	VideoBitRate        *int           `json:"videoBitRate,omitempty"`
	Width               *int           `json:"width,omitempty"`
	Height              *int           `json:"height,omitempty"`
	MaxWidth            *int           `json:"maxWidth,omitempty"`
	MaxHeight           *int           `json:"maxHeight,omitempty"`
	Framerate           *float64       `json:"framerate,omitempty"`
	MaxFramerate        *float64       `json:"maxFramerate,omitempty"`
	Profile             string         `json:"profile,omitempty"`
	Level               string         `json:"level,omitempty"`
	MaxRefFrames        *int           `json:"maxRefFrames,omitempty"`
	MaxVideoBitDepth    *int           `json:"maxVideoBitDepth,omitempty"`
	Cabac               *bool          `json:"cabac,omitempty"`
	VideoStreamIndex    *int           `json:"videoStreamIndex,omitempty"`
	AudioStreamIndex    *int           `json:"audioStreamIndex,omitempty"`
	SubtitleStreamIndex *int           `json:"subtitleStreamIndex,omitempty"`
	SubtitleMethod      SubtitleMethod `json:"subtitleMethod,omitempty"`
}

// IsVideo reports whether the request carries a video payload.
func (r *Request) IsVideo() bool {
	return r.Video != nil
}

// AutoStreamCopy reports whether streams may be copied when compatible.
// It defaults to true.
func (r *Request) AutoStreamCopy() bool {
	return r.EnableAutoStreamCopy == nil || *r.EnableAutoStreamCopy
}

// StartTicks returns the requested start offset, zero when unset.
func (r *Request) StartTicks() int64 {
	if r.StartTimeTicks == nil {
		return 0
	}
	return *r.StartTimeTicks
}

// Validate checks the request shape before any resource is touched.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.ItemID) == "" {
		return invalid("itemId", "is required")
	}
	if r.StartTimeTicks != nil && *r.StartTimeTicks < 0 {
		return invalid("startTimeTicks", "must not be negative")
	}
	if err := nonNegative("audioBitRate", r.AudioBitRate); err != nil {
		return err
	}
	if err := nonNegative("audioChannels", r.AudioChannels); err != nil {
		return err
	}
	if err := nonNegative("maxAudioChannels", r.MaxAudioChannels); err != nil {
		return err
	}
	if err := nonNegative("audioSampleRate", r.AudioSampleRate); err != nil {
		return err
	}

	v := r.Video
	if v == nil {
		return nil
	}
	for field, val := range map[string]*int{
		"videoBitRate":        v.VideoBitRate,
		"width":               v.Width,
		"height":              v.Height,
		"maxWidth":            v.MaxWidth,
		"maxHeight":           v.MaxHeight,
		"maxRefFrames":        v.MaxRefFrames,
		"maxVideoBitDepth":    v.MaxVideoBitDepth,
		"videoStreamIndex":    v.VideoStreamIndex,
		"audioStreamIndex":    v.AudioStreamIndex,
		"subtitleStreamIndex": v.SubtitleStreamIndex,
	} {
		if err := nonNegative(field, val); err != nil {
			return err
		}
	}
	if v.Framerate != nil && *v.Framerate < 0 {
		return invalid("framerate", "must not be negative")
	}
	if v.MaxFramerate != nil && *v.MaxFramerate < 0 {
		return invalid("maxFramerate", "must not be negative")
	}
	switch v.SubtitleMethod {
	case "", SubtitleEncode, SubtitleEmbed, SubtitleExternal, SubtitleHLS:
	default:
		return invalid("subtitleMethod", "unknown method %q", v.SubtitleMethod)
	}
	return nil
}

func nonNegative(field string, v *int) error {
	if v != nil && *v < 0 {
		return invalid(field, "must not be negative")
	}
	return nil
}

// Clone returns a deep copy so the decision engine can mutate it freely.
func (r *Request) Clone() *Request {
	out := *r
	out.AudioBitRate = clonePtr(r.AudioBitRate)
	out.AudioChannels = clonePtr(r.AudioChannels)
	out.MaxAudioChannels = clonePtr(r.MaxAudioChannels)
	out.AudioSampleRate = clonePtr(r.AudioSampleRate)
	out.StartTimeTicks = clonePtr(r.StartTimeTicks)
	out.EnableAutoStreamCopy = clonePtr(r.EnableAutoStreamCopy)
	if r.Video != nil {
		v := *r.Video
		v.VideoBitRate = clonePtr(v.VideoBitRate)
		v.Width = clonePtr(v.Width)
		v.Height = clonePtr(v.Height)
		v.MaxWidth = clonePtr(v.MaxWidth)
		v.MaxHeight = clonePtr(v.MaxHeight)
		v.Framerate = clonePtr(v.Framerate)
		v.MaxFramerate = clonePtr(v.MaxFramerate)
		v.MaxRefFrames = clonePtr(v.MaxRefFrames)
		v.MaxVideoBitDepth = clonePtr(v.MaxVideoBitDepth)
		v.Cabac = clonePtr(v.Cabac)
		v.VideoStreamIndex = clonePtr(v.VideoStreamIndex)
		v.AudioStreamIndex = clonePtr(v.AudioStreamIndex)
		v.SubtitleStreamIndex = clonePtr(v.SubtitleStreamIndex)
		out.Video = &v
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
