package encoding

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/media"
)

// JobType is how transcoded output is delivered.
type JobType string

// Job types.
const (
	JobProgressive JobType = "progressive"
	JobHLS         JobType = "hls"
	JobDASH        JobType = "dash"
)

// IsSegmented reports whether output is written as a playlist of segments.
func (t JobType) IsSegmented() bool {
	return t == JobHLS || t == JobDASH
}

// IsoMount is a mounted disc image. Closing it unmounts the image.
type IsoMount interface {
	io.Closer
	MountedPath() string
}

// LiveStream is an opened live source. Closing it releases the tuner or
// upstream connection.
type LiveStream interface {
	io.Closer
	Source() *media.Source
}

// Job is the full decision for one playback request: the request after
// normalization, the chosen source and streams, and every output parameter
// the execution plan needs. A job is written by a single goroutine while it
// is built and is read-mostly once the encoder starts.
type Job struct {
	Request       *Request
	Type          JobType
	RequestedPath string
	Source        *media.Source

	VideoStream    *media.Stream
	AudioStream    *media.Stream
	SubtitleStream *media.Stream

	IsInputVideo               bool
	InputProtocol              media.Protocol
	InputContainer             string
	InputBitrate               *int
	InputFileSize              *int64
	InputTimestamp             media.Timestamp
	MediaPath                  string
	RunTimeTicks               *int64
	VideoType                  media.VideoType
	IsoType                    media.IsoType
	PlayableStreamFileNames    []string
	RemoteHTTPHeaders          map[string]string
	ReadInputAtNativeFramerate bool

	InputAudioSync  string
	InputVideoSync  string
	OutputAudioSync string

	DeInterlace                  bool
	InternalSubtitleStreamOffset int
	SupportedAudioCodecs         []string

	OutputContainer       string
	OutputAudioCodec      string
	OutputAudioBitrate    *int
	OutputAudioChannels   *int
	OutputAudioSampleRate *int
	OutputVideoCodec      string
	OutputVideoBitrate    *int

	DeviceProfile         *DeviceProfile
	MimeType              string
	EstimateContentLength bool
	EnableMpegtsM2TsMode  bool
	TranscodeSeekInfo     SeekInfo

	OutputFilePath string
	// WaitForPath is the file whose appearance signals first output. Empty
	// means OutputFilePath.
	WaitForPath string

	mu         sync.Mutex
	isoMount   IsoMount
	liveStream LiveStream
	closers    []io.Closer
	disposed   sync.Once
	disposeErr error
}

// HasVideoRequest reports whether the job serves a video request.
func (j *Job) HasVideoRequest() bool {
	return j.Request != nil && j.Request.Video != nil
}

// StartTicks returns the requested start offset.
func (j *Job) StartTicks() int64 {
	return j.Request.StartTicks()
}

// IsVideoCopy reports whether the video stream is passed through.
func (j *Job) IsVideoCopy() bool {
	return strings.EqualFold(j.OutputVideoCodec, codec.Copy)
}

// IsAudioCopy reports whether the audio stream is passed through.
func (j *Job) IsAudioCopy() bool {
	return strings.EqualFold(j.OutputAudioCodec, codec.Copy)
}

// ActualOutputVideoCodec is the codec of the output video stream, resolving
// copy to the source codec.
func (j *Job) ActualOutputVideoCodec() string {
	if j.IsVideoCopy() {
		if j.VideoStream == nil {
			return ""
		}
		return j.VideoStream.Codec
	}
	return j.OutputVideoCodec
}

// ActualOutputAudioCodec is the codec of the output audio stream, resolving
// copy to the source codec.
func (j *Job) ActualOutputAudioCodec() string {
	if j.IsAudioCopy() {
		if j.AudioStream == nil {
			return ""
		}
		return j.AudioStream.Codec
	}
	return j.OutputAudioCodec
}

// sourceTargets reports whether output stream properties equal the source's.
func (j *Job) sourceTargets() bool {
	return j.IsVideoCopy() || j.Request.Static
}

// OutputWidth is the expected output width.
func (j *Job) OutputWidth() *int {
	w, _ := j.outputSize()
	return w
}

// OutputHeight is the expected output height.
func (j *Job) OutputHeight() *int {
	_, h := j.outputSize()
	return h
}

func (j *Job) outputSize() (*int, *int) {
	if !j.HasVideoRequest() {
		return nil, nil
	}
	v := j.Request.Video
	s := j.VideoStream
	if s == nil || s.Width == nil || s.Height == nil {
		return firstNonNil(v.MaxWidth, v.Width), firstNonNil(v.MaxHeight, v.Height)
	}
	if j.sourceTargets() {
		return s.Width, s.Height
	}
	w, h := FitSize(*s.Width, *s.Height, v.Width, v.Height, v.MaxWidth, v.MaxHeight)
	return &w, &h
}

// FitSize computes output dimensions for a source of w x h given optional
// fixed and maximum dimensions, preserving aspect ratio.
func FitSize(w, h int, width, height, maxWidth, maxHeight *int) (int, int) {
	if width != nil && height != nil {
		return *width, *height
	}
	newW, newH := float64(w), float64(h)
	switch {
	case height != nil && h > 0:
		newW = newW * float64(*height) / newH
		newH = float64(*height)
	case width != nil && w > 0:
		newH = newH * float64(*width) / newW
		newW = float64(*width)
	}
	if maxHeight != nil && float64(*maxHeight) < newH && newH > 0 {
		newW = newW * float64(*maxHeight) / newH
		newH = float64(*maxHeight)
	}
	if maxWidth != nil && float64(*maxWidth) < newW && newW > 0 {
		newH = newH * float64(*maxWidth) / newW
		newW = float64(*maxWidth)
	}
	return int(newW + 0.5), int(newH + 0.5)
}

// TargetVideoBitDepth is the bit depth of the output video.
func (j *Job) TargetVideoBitDepth() *int {
	if j.VideoStream == nil {
		return nil
	}
	if j.sourceTargets() {
		return j.VideoStream.BitDepth
	}
	// the plan always emits yuv420p
	depth := 8
	return &depth
}

// TargetVideoProfile is the profile of the output video.
func (j *Job) TargetVideoProfile() string {
	if j.VideoStream == nil || !j.HasVideoRequest() {
		return ""
	}
	if j.sourceTargets() {
		return j.VideoStream.Profile
	}
	return j.Request.Video.Profile
}

// TargetVideoLevel is the level of the output video.
func (j *Job) TargetVideoLevel() *float64 {
	if j.VideoStream == nil || !j.HasVideoRequest() {
		return nil
	}
	if j.sourceTargets() {
		return j.VideoStream.Level
	}
	if lvl, err := strconv.ParseFloat(j.Request.Video.Level, 64); err == nil {
		return &lvl
	}
	return nil
}

// TargetFramerate is the frame rate of the output video.
func (j *Job) TargetFramerate() *float64 {
	if j.VideoStream == nil {
		return nil
	}
	if j.sourceTargets() {
		return j.VideoStream.FrameRate()
	}
	if r := FramerateParam(j.Request.Video, j.VideoStream); r != nil {
		return r
	}
	return j.VideoStream.FrameRate()
}

// TargetTimestamp is the timestamp layout of the output transport stream.
func (j *Job) TargetTimestamp() media.Timestamp {
	if j.Request.Static {
		return j.InputTimestamp
	}
	if strings.EqualFold(j.OutputContainer, "m2ts") {
		return media.TimestampValid
	}
	return media.TimestampNone
}

// IsTargetAnamorphic reports whether the output video is anamorphic.
func (j *Job) IsTargetAnamorphic() *bool {
	if j.VideoStream == nil {
		return nil
	}
	if j.sourceTargets() {
		return j.VideoStream.IsAnamorphic
	}
	f := false
	return &f
}

// IsTargetCabac reports whether the output video uses CABAC.
func (j *Job) IsTargetCabac() *bool {
	if j.VideoStream == nil {
		return nil
	}
	if j.sourceTargets() {
		return j.VideoStream.IsCabac
	}
	t := true
	return &t
}

// TargetRefFrames is the reference frame count of the output video.
func (j *Job) TargetRefFrames() *int {
	if j.VideoStream == nil {
		return nil
	}
	if j.sourceTargets() {
		return j.VideoStream.RefFrames
	}
	return nil
}

// TryStreamCopy switches each stream to copy when the source satisfies the
// request as it stands.
func (j *Job) TryStreamCopy() {
	if j.HasVideoRequest() && j.VideoStream != nil && CanStreamCopyVideo(j.Request, j.VideoStream) {
		j.OutputVideoCodec = codec.Copy
	}
	if j.AudioStream != nil && CanStreamCopyAudio(j.Request, j.AudioStream, j.SupportedAudioCodecs) {
		j.OutputAudioCodec = codec.Copy
	}
}

// AttachSource copies source properties into the job and selects streams.
func (j *Job) AttachSource(src *media.Source) {
	j.Source = src
	j.MediaPath = src.Path
	j.InputProtocol = src.Protocol
	j.InputContainer = src.Container
	j.InputFileSize = src.Size
	j.InputBitrate = src.Bitrate
	j.RunTimeTicks = src.RunTimeTicks
	j.RemoteHTTPHeaders = src.RequiredHTTPHeaders
	j.VideoType = src.VideoType
	j.IsoType = src.IsoType
	j.PlayableStreamFileNames = src.PlayableStreamFileNames
	j.InputTimestamp = src.Timestamp
	j.ReadInputAtNativeFramerate = src.ReadAtNativeFramerate

	if j.ReadInputAtNativeFramerate || (src.Protocol == media.ProtocolFile && src.ContainerIs("wtv")) {
		j.OutputAudioSync = "1000"
		j.InputVideoSync = "-1"
		j.InputAudioSync = "1"
	}
	if src.ContainerIs("wma") {
		j.InputAudioSync = "1"
	}

	if !j.HasVideoRequest() {
		j.AudioStream = SelectStream(src.Streams, nil, media.StreamAudio, true)
		return
	}

	v := j.Request.Video
	if v.VideoCodec == "" {
		v.VideoCodec = codec.InferVideoFromPath(j.RequestedPath)
	}

	j.VideoStream = SelectStream(src.Streams, v.VideoStreamIndex, media.StreamVideo, true)
	j.SubtitleStream = SelectStream(src.Streams, v.SubtitleStreamIndex, media.StreamSubtitle, false)
	j.AudioStream = SelectStream(src.Streams, v.AudioStreamIndex, media.StreamAudio, true)

	if j.SubtitleStream != nil && !j.SubtitleStream.IsExternal {
		j.InternalSubtitleStreamOffset = 0
		for _, s := range src.Streams {
			if s.Type != media.StreamSubtitle || s.IsExternal {
				continue
			}
			if s.Index == j.SubtitleStream.Index {
				break
			}
			j.InternalSubtitleStreamOffset++
		}
	}

	if j.VideoStream != nil && j.VideoStream.IsInterlaced {
		j.DeInterlace = true
	}

	EnforceResolutionLimit(v)
}

// SetIsoMount records a mounted image to release on disposal.
func (j *Job) SetIsoMount(m IsoMount) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.isoMount = m
}

// IsoMount returns the mounted image, if any.
func (j *Job) IsoMount() IsoMount {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isoMount
}

// SetLiveStream records an opened live stream to close on disposal.
func (j *Job) SetLiveStream(ls LiveStream) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.liveStream = ls
}

// AddCloser registers an additional resource, such as the job log, to
// release on disposal.
func (j *Job) AddCloser(c io.Closer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closers = append(j.closers, c)
}

// InputPath returns the path the encoder reads from, which is the mount
// point for mounted images.
func (j *Job) InputPath() string {
	if m := j.IsoMount(); m != nil {
		return m.MountedPath()
	}
	return j.MediaPath
}

// Dispose releases every resource held by the job. It runs once; later
// calls return the first result.
func (j *Job) Dispose() error {
	j.disposed.Do(func() {
		j.mu.Lock()
		closers := append([]io.Closer(nil), j.closers...)
		iso, live := j.isoMount, j.liveStream
		j.closers, j.isoMount, j.liveStream = nil, nil, nil
		j.mu.Unlock()

		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i].Close())
		}
		if live != nil {
			errs = append(errs, live.Close())
		}
		if iso != nil {
			errs = append(errs, iso.Close())
		}
		j.disposeErr = errors.Join(errs...)
	})
	return j.disposeErr
}
