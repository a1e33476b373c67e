// Package media describes the media sources and elementary streams the
// transcoding engine makes decisions about.
package media

import (
	"fmt"
	"strings"
	"time"
)

// StreamType identifies the kind of elementary stream.
type StreamType string

// Stream types.
const (
	StreamVideo    StreamType = "video"
	StreamAudio    StreamType = "audio"
	StreamSubtitle StreamType = "subtitle"
)

// Protocol is the access protocol of a media source.
type Protocol string

// Source protocols.
const (
	ProtocolFile  Protocol = "file"
	ProtocolHTTP  Protocol = "http"
	ProtocolRTMP  Protocol = "rtmp"
	ProtocolRTSP  Protocol = "rtsp"
	ProtocolUDP   Protocol = "udp"
	ProtocolOther Protocol = "other"
)

// VideoType is the on-disk packaging of a video source.
type VideoType string

// Video packaging types.
const (
	VideoFile VideoType = "VideoFile"
	VideoISO  VideoType = "Iso"
	VideoDVD  VideoType = "Dvd"
	VideoBD   VideoType = "BluRay"
)

// IsoType is the disc format inside an ISO image.
type IsoType string

// ISO disc formats.
const (
	IsoNone   IsoType = ""
	IsoDVD    IsoType = "Dvd"
	IsoBluRay IsoType = "BluRay"
)

// Timestamp describes the timestamp layout of a transport stream.
type Timestamp string

// Transport stream timestamp modes.
const (
	TimestampNone  Timestamp = "None"
	TimestampZero  Timestamp = "Zero"
	TimestampValid Timestamp = "Valid"
)

// ItemType is the kind of library item.
type ItemType string

// Library item kinds.
const (
	ItemVideo ItemType = "Video"
	ItemAudio ItemType = "Audio"
)

// Item is a library entry that owns one or more media sources.
type Item struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	MediaType ItemType `json:"mediaType"`
}

// Stream is one elementary stream inside a media source. Optional numeric
// properties are pointers so that "unknown" is distinguishable from zero.
type Stream struct {
	Type                 StreamType `json:"type"`
	Index                int        `json:"index"`
	Codec                string     `json:"codec,omitempty"`
	Profile              string     `json:"profile,omitempty"`
	Level                *float64   `json:"level,omitempty"`
	Width                *int       `json:"width,omitempty"`
	Height               *int       `json:"height,omitempty"`
	AverageFrameRate     *float64   `json:"averageFrameRate,omitempty"`
	RealFrameRate        *float64   `json:"realFrameRate,omitempty"`
	BitDepth             *int       `json:"bitDepth,omitempty"`
	RefFrames            *int       `json:"refFrames,omitempty"`
	Channels             *int       `json:"channels,omitempty"`
	SampleRate           *int       `json:"sampleRate,omitempty"`
	BitRate              *int       `json:"bitRate,omitempty"`
	IsInterlaced         bool       `json:"isInterlaced,omitempty"`
	IsAnamorphic         *bool      `json:"isAnamorphic,omitempty"`
	IsCabac              *bool      `json:"isCabac,omitempty"`
	IsExternal           bool       `json:"isExternal,omitempty"`
	IsTextSubtitleStream bool       `json:"isTextSubtitleStream,omitempty"`
	Path                 string     `json:"path,omitempty"`
	Language             string     `json:"language,omitempty"`
}

// FrameRate returns the average frame rate, falling back to the real frame rate.
func (s *Stream) FrameRate() *float64 {
	if s.AverageFrameRate != nil {
		return s.AverageFrameRate
	}
	return s.RealFrameRate
}

// Source is one playable version of an item. It is treated as immutable once
// fetched from the library.
type Source struct {
	ID                      string            `json:"id"`
	Path                    string            `json:"path"`
	Protocol                Protocol          `json:"protocol"`
	Container               string            `json:"container,omitempty"`
	Size                    *int64            `json:"size,omitempty"`
	Bitrate                 *int              `json:"bitrate,omitempty"`
	RunTimeTicks            *int64            `json:"runTimeTicks,omitempty"`
	VideoType               VideoType         `json:"videoType,omitempty"`
	IsoType                 IsoType           `json:"isoType,omitempty"`
	Timestamp               Timestamp         `json:"timestamp,omitempty"`
	Streams                 []Stream          `json:"mediaStreams"`
	RequiresOpening         bool              `json:"requiresOpening,omitempty"`
	RequiresClosing         bool              `json:"requiresClosing,omitempty"`
	OpenToken               string            `json:"openToken,omitempty"`
	LiveStreamID            string            `json:"liveStreamId,omitempty"`
	BufferMs                *int              `json:"bufferMs,omitempty"`
	ReadAtNativeFramerate   bool              `json:"readAtNativeFramerate,omitempty"`
	RequiredHTTPHeaders     map[string]string `json:"requiredHttpHeaders,omitempty"`
	PlayableStreamFileNames []string          `json:"playableStreamFileNames,omitempty"`
}

// StreamsOfType returns the streams of the given type in their stored order.
func (s *Source) StreamsOfType(t StreamType) []Stream {
	var out []Stream
	for _, st := range s.Streams {
		if st.Type == t {
			out = append(out, st)
		}
	}
	return out
}

// ContainerIs reports whether the container matches name, case-insensitively.
func (s *Source) ContainerIs(name string) bool {
	return strings.EqualFold(s.Container, name)
}

// TicksPerSecond is the number of 100ns ticks in one second.
const TicksPerSecond int64 = 10_000_000

// TicksPerMillisecond is the number of 100ns ticks in one millisecond.
const TicksPerMillisecond int64 = 10_000

// TicksToDuration converts 100ns ticks to a duration.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * 100
}

// DurationToTicks converts a duration to 100ns ticks.
func DurationToTicks(d time.Duration) int64 {
	return int64(d / 100)
}

// FormatTicks renders ticks as an encoder time parameter (hh:mm:ss.fff).
func FormatTicks(ticks int64) string {
	d := TicksToDuration(ticks)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	d -= sec * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", int64(h), int64(m), int64(sec), int64(ms))
}

// Ptr returns a pointer to v. Used to populate optional fields.
func Ptr[T any](v T) *T {
	return &v
}
