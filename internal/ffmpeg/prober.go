package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/encodr/internal/media"
)

// ProbeResult contains the complete ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index            int               `json:"index"`
	CodecName        string            `json:"codec_name"`
	Profile          string            `json:"profile"`
	CodecType        string            `json:"codec_type"` // video, audio, subtitle, data
	Width            int               `json:"width,omitempty"`
	Height           int               `json:"height,omitempty"`
	SampleAspect     string            `json:"sample_aspect_ratio,omitempty"`
	PixFmt           string            `json:"pix_fmt,omitempty"`
	Level            int               `json:"level,omitempty"`
	FieldOrder       string            `json:"field_order,omitempty"`
	Refs             int               `json:"refs,omitempty"`
	IsAVC            string            `json:"is_avc,omitempty"`
	SampleRate       string            `json:"sample_rate,omitempty"`
	Channels         int               `json:"channels,omitempty"`
	ChannelLayout    string            `json:"channel_layout,omitempty"`
	BitsPerRawSample string            `json:"bits_per_raw_sample,omitempty"`
	RFrameRate       string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate     string            `json:"avg_frame_rate,omitempty"`
	BitRate          string            `json:"bit_rate,omitempty"`
	Disposition      ProbeDisposition  `json:"disposition,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// ProbeDisposition contains stream disposition flags.
type ProbeDisposition struct {
	Default     int `json:"default"`
	Forced      int `json:"forced"`
	AttachedPic int `json:"attached_pic"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new stream prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes a file or URL and returns detailed information.
func (p *Prober) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}

	if isNetworkURL(url) {
		args = append(args,
			"-timeout", strconv.FormatInt(int64(p.timeout.Seconds())*1000000, 10),
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}

	args = append(args, url)

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return ParseProbeOutput(output)
}

// ParseProbeOutput decodes ffprobe JSON output.
func ParseProbeOutput(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeSource probes path and converts the result into a media source.
func (p *Prober) ProbeSource(ctx context.Context, id, path string) (*media.Source, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.ToSource(id, path), nil
}

// ToSource converts the probe result into a media source. Values ffprobe
// did not report stay unknown.
func (r *ProbeResult) ToSource(id, path string) *media.Source {
	src := &media.Source{
		ID:        id,
		Path:      path,
		Protocol:  protocolFor(path),
		Container: containerFor(r.Format.FormatName, path),
		VideoType: media.VideoFile,
	}
	if strings.EqualFold(filepath.Ext(path), ".iso") {
		src.VideoType = media.VideoISO
	}

	if n, err := strconv.ParseInt(r.Format.Size, 10, 64); err == nil && n > 0 {
		src.Size = &n
	}
	if n, err := strconv.Atoi(r.Format.BitRate); err == nil && n > 0 {
		src.Bitrate = &n
	}
	if d, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil && d > 0 {
		ticks := int64(math.Round(d * float64(media.TicksPerSecond)))
		src.RunTimeTicks = &ticks
	}
	if strings.Contains(r.Format.FormatName, "mpegts") {
		src.Timestamp = media.TimestampZero
	}

	for _, s := range r.Streams {
		stream, ok := s.toStream()
		if ok {
			src.Streams = append(src.Streams, stream)
		}
	}
	return src
}

func (s ProbeStream) toStream() (media.Stream, bool) {
	out := media.Stream{
		Index:    s.Index,
		Codec:    strings.ToLower(s.CodecName),
		Profile:  s.Profile,
		Language: s.Tags["language"],
	}
	if br, err := strconv.Atoi(s.BitRate); err == nil && br > 0 {
		out.BitRate = &br
	}

	switch s.CodecType {
	case "video":
		out.Type = media.StreamVideo
		if s.Disposition.AttachedPic == 1 && out.Codec != "mjpeg" {
			out.Codec = "mjpeg"
		}
		if s.Width > 0 {
			out.Width = media.Ptr(s.Width)
		}
		if s.Height > 0 {
			out.Height = media.Ptr(s.Height)
		}
		if s.Level > 0 {
			out.Level = media.Ptr(float64(s.Level))
		}
		if s.Refs > 0 {
			out.RefFrames = media.Ptr(s.Refs)
		}
		if fr := parseFramerate(s.AvgFrameRate); fr > 0 {
			out.AverageFrameRate = &fr
		}
		if fr := parseFramerate(s.RFrameRate); fr > 0 {
			out.RealFrameRate = &fr
		}
		if depth := bitDepth(s); depth > 0 {
			out.BitDepth = &depth
		}
		switch s.FieldOrder {
		case "tt", "bb", "tb", "bt":
			out.IsInterlaced = true
		}
		if s.SampleAspect != "" && s.SampleAspect != "0:1" {
			out.IsAnamorphic = media.Ptr(s.SampleAspect != "1:1")
		}
		if s.IsAVC != "" {
			// ffprobe does not report entropy coding; baseline profiles cannot use CABAC
			out.IsCabac = media.Ptr(!strings.Contains(strings.ToLower(s.Profile), "baseline"))
		}
	case "audio":
		out.Type = media.StreamAudio
		if s.Channels > 0 {
			out.Channels = media.Ptr(s.Channels)
		}
		if sr, err := strconv.Atoi(s.SampleRate); err == nil && sr > 0 {
			out.SampleRate = &sr
		}
	case "subtitle":
		out.Type = media.StreamSubtitle
		out.IsTextSubtitleStream = isTextSubtitle(out.Codec)
	default:
		return media.Stream{}, false
	}
	return out, true
}

func bitDepth(s ProbeStream) int {
	if n, err := strconv.Atoi(s.BitsPerRawSample); err == nil && n > 0 {
		return n
	}
	switch {
	case strings.Contains(s.PixFmt, "10"):
		return 10
	case strings.Contains(s.PixFmt, "12"):
		return 12
	case s.PixFmt != "":
		return 8
	}
	return 0
}

func isTextSubtitle(codecName string) bool {
	switch codecName {
	case "subrip", "srt", "ass", "ssa", "webvtt", "mov_text", "text":
		return true
	}
	return false
}

func isNetworkURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func protocolFor(path string) media.Protocol {
	i := strings.Index(path, "://")
	if i <= 0 {
		return media.ProtocolFile
	}
	switch strings.ToLower(path[:i]) {
	case "http", "https":
		return media.ProtocolHTTP
	case "rtmp":
		return media.ProtocolRTMP
	case "rtsp":
		return media.ProtocolRTSP
	case "udp":
		return media.ProtocolUDP
	case "file":
		return media.ProtocolFile
	default:
		return media.ProtocolOther
	}
}

// containerFor picks a container name. ffprobe reports demuxer families
// such as "matroska,webm", so the file extension wins when it is one of them.
func containerFor(formatName, path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if formatName == "" {
		return ext
	}
	for _, f := range strings.Split(formatName, ",") {
		if f == ext {
			return ext
		}
	}
	switch {
	case strings.HasPrefix(formatName, "matroska"):
		return "mkv"
	case strings.HasPrefix(formatName, "mov,mp4"):
		return "mp4"
	}
	return strings.Split(formatName, ",")[0]
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
