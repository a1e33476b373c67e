package encoding

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/media"
)

// Library is the catalog the builder resolves items and sources from.
type Library interface {
	GetItem(ctx context.Context, id string) (*media.Item, error)
	GetPlaybackMediaSources(ctx context.Context, itemID string) ([]*media.Source, error)
	GetLiveStream(ctx context.Context, liveStreamID string) (*media.Source, error)
	OpenLiveStream(ctx context.Context, openToken string) (LiveStream, error)
}

// ArgumentBuilder renders the encoder argument list for a job.
type ArgumentBuilder interface {
	BuildArgs(job *Job, outputPath string) ([]string, error)
}

// Builder turns requests into fully decided jobs.
type Builder struct {
	library      Library
	profiles     DeviceProfiles
	args         ArgumentBuilder
	resolution   *ResolutionNormalizer
	hwAccel      codec.HWAccel
	transcodeDir string
	subfolders   bool
	autoCopy     bool
	logger       *slog.Logger
}

// NewBuilder creates a builder. Device profiles are optional.
func NewBuilder(library Library, args ArgumentBuilder, transcodeDir string) *Builder {
	return &Builder{
		library:      library,
		args:         args,
		resolution:   NewResolutionNormalizer(nil),
		transcodeDir: transcodeDir,
		autoCopy:     true,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithDeviceProfiles sets the device profile resolver.
func (b *Builder) WithDeviceProfiles(p DeviceProfiles) *Builder {
	b.profiles = p
	return b
}

// WithResolutionNormalizer replaces the default resolution table.
func (b *Builder) WithResolutionNormalizer(n *ResolutionNormalizer) *Builder {
	b.resolution = n
	return b
}

// WithHWAccel selects the hardware encoder family.
func (b *Builder) WithHWAccel(accel codec.HWAccel) *Builder {
	b.hwAccel = accel
	return b
}

// WithSegmentSubfolders writes each segmented job into its own directory.
func (b *Builder) WithSegmentSubfolders(enabled bool) *Builder {
	b.subfolders = enabled
	return b
}

// WithAutoStreamCopy sets the default for requests that leave
// EnableAutoStreamCopy unset.
func (b *Builder) WithAutoStreamCopy(enabled bool) *Builder {
	b.autoCopy = enabled
	return b
}

// Library returns the catalog used to resolve sources.
func (b *Builder) Library() Library {
	return b.library
}

// HWAccel returns the configured hardware encoder family.
func (b *Builder) HWAccel() codec.HWAccel {
	return b.hwAccel
}

// Build decides everything about a request: which streams to use, whether
// each is copied, the output parameters and the output path. The request is
// cloned so the caller's value is left untouched. No resources are acquired.
func (b *Builder) Build(ctx context.Context, req *Request, requestedPath string, headers map[string]string, jobType JobType) (*Job, error) {
	if req == nil {
		return nil, invalid("request", "is required")
	}
	req = req.Clone()
	if jobType == "" {
		jobType = JobProgressive
	}

	if req.StartTimeTicks == nil {
		if seek := headerValue(headers, TimeSeekHeader); seek != "" {
			ticks, err := ParseTimeSeek(seek)
			if err != nil {
				return nil, err
			}
			req.StartTimeTicks = ticks
		}
	}
	if req.Params != "" {
		if err := ApplyParams(req, req.Params); err != nil {
			return nil, err
		}
	}
	if req.EnableAutoStreamCopy == nil {
		auto := b.autoCopy
		req.EnableAutoStreamCopy = &auto
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := &Job{
		Request:       req,
		Type:          jobType,
		RequestedPath: requestedPath,
	}

	if req.AudioCodec == "" {
		req.AudioCodec = codec.InferAudioFromPath(requestedPath)
	}
	job.SupportedAudioCodecs = splitCodecs(req.AudioCodec)
	if len(job.SupportedAudioCodecs) > 0 {
		req.AudioCodec = job.SupportedAudioCodecs[0]
	}

	item, err := b.library.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", req.ItemID, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, req.ItemID)
	}
	job.IsInputVideo = item.MediaType == media.ItemVideo

	src, err := b.resolveSource(ctx, req)
	if err != nil {
		return nil, err
	}
	job.AttachSource(src)

	job.OutputContainer = outputContainer(job)

	job.OutputAudioBitrate = AudioBitrateParam(req)
	job.OutputAudioSampleRate = clonePtr(req.AudioSampleRate)
	job.OutputAudioCodec = req.AudioCodec
	job.OutputAudioChannels = NumAudioChannelsParam(req, job.AudioStream, job.OutputAudioCodec)

	if v := req.Video; v != nil {
		job.OutputVideoCodec = v.VideoCodec
		job.OutputVideoBitrate = VideoBitrateParamValue(v, job.VideoStream)

		if job.OutputVideoBitrate != nil && job.VideoStream != nil {
			requested := v.MaxWidth
			v.MaxWidth, v.MaxHeight = b.resolution.Normalize(
				job.VideoStream.BitRate,
				*job.OutputVideoBitrate,
				job.VideoStream.Codec,
				job.OutputVideoCodec,
				v.MaxWidth,
				v.MaxHeight,
			)
			// Without an explicit ceiling the table step never exceeds the source.
			if requested == nil {
				v.MaxWidth = CapToSource(v.MaxWidth, job.VideoStream.Width)
			}
		}
	}

	profile, err := ResolveDeviceProfile(ctx, b.profiles, req, headers)
	if err != nil {
		return nil, fmt.Errorf("resolving device profile: %w", err)
	}
	job.DeviceProfile = profile
	job.ApplyDeviceProfile()

	job.TryStreamCopy()

	if err := b.assignOutputPath(job); err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "encoding decision",
		slog.String("item_id", req.ItemID),
		slog.String("media_source_id", src.ID),
		slog.String("container", job.OutputContainer),
		slog.String("video_codec", job.OutputVideoCodec),
		slog.String("audio_codec", job.OutputAudioCodec),
		slog.Bool("video_copy", job.IsVideoCopy()),
		slog.Bool("audio_copy", job.IsAudioCopy()),
	)
	return job, nil
}

// resolveSource picks the media source: the live stream when one is named,
// otherwise the requested source id, otherwise the first source.
func (b *Builder) resolveSource(ctx context.Context, req *Request) (*media.Source, error) {
	if req.LiveStreamID != "" {
		src, err := b.library.GetLiveStream(ctx, req.LiveStreamID)
		if err != nil {
			return nil, fmt.Errorf("getting live stream %s: %w", req.LiveStreamID, err)
		}
		if src == nil {
			return nil, fmt.Errorf("%w: live stream %s", ErrMediaSourceNotFound, req.LiveStreamID)
		}
		return src, nil
	}

	sources, err := b.library.GetPlaybackMediaSources(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("getting media sources for %s: %w", req.ItemID, err)
	}
	if req.MediaSourceID != "" {
		for _, s := range sources {
			if s != nil && s.ID == req.MediaSourceID {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrMediaSourceNotFound, req.MediaSourceID)
	}
	if len(sources) == 0 || sources[0] == nil {
		return nil, fmt.Errorf("%w: item %s has no sources", ErrMediaSourceNotFound, req.ItemID)
	}
	return sources[0], nil
}

// Reattach replaces the job's source, used once a live stream has been
// opened, and re-runs the copy decision against the new streams.
func (b *Builder) Reattach(job *Job, src *media.Source) error {
	job.AttachSource(src)
	job.OutputAudioChannels = NumAudioChannelsParam(job.Request, job.AudioStream, job.Request.AudioCodec)
	if v := job.Request.Video; v != nil {
		job.OutputVideoCodec = v.VideoCodec
		job.OutputVideoBitrate = VideoBitrateParamValue(v, job.VideoStream)
	}
	job.OutputAudioCodec = job.Request.AudioCodec
	job.TryStreamCopy()
	return b.assignOutputPath(job)
}

func (b *Builder) assignOutputPath(job *Job) error {
	if b.args == nil {
		return nil
	}
	p, err := OutputFilePath(b.args, job, b.transcodeDir, b.subfolders && job.Type.IsSegmented())
	if err != nil {
		return fmt.Errorf("computing output path: %w", err)
	}
	job.OutputFilePath = p
	return nil
}

// outputContainer picks the output container extension without a leading dot.
func outputContainer(job *Job) string {
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(stripQuery(job.RequestedPath))), "."); ext != "" {
		return ext
	}
	if job.Request.Container != "" {
		return strings.TrimPrefix(strings.ToLower(job.Request.Container), ".")
	}
	if job.Request.Static && job.InputContainer != "" {
		return strings.ToLower(strings.Split(job.InputContainer, ",")[0])
	}
	return strings.TrimPrefix(OutputExtension(job), ".")
}

// OutputExtension is the file extension used when nothing else names the
// container.
func OutputExtension(job *Job) string {
	if job.Type.IsSegmented() {
		return ".ts"
	}
	if job.HasVideoRequest() {
		switch {
		case codec.IsVideoFamily(job.Request.Video.VideoCodec, codec.VideoH264):
			return ".ts"
		case codec.IsVideoFamily(job.Request.Video.VideoCodec, codec.VideoTheora):
			return ".ogv"
		case codec.IsVideoFamily(job.Request.Video.VideoCodec, codec.VideoVPX):
			return ".webm"
		case codec.IsVideoFamily(job.Request.Video.VideoCodec, codec.VideoWMV):
			return ".asf"
		}
		return ""
	}
	switch {
	case codec.IsFamily(job.Request.AudioCodec, codec.AudioAAC):
		return ".aac"
	case codec.IsFamily(job.Request.AudioCodec, codec.AudioMP3):
		return ".mp3"
	case codec.IsFamily(job.Request.AudioCodec, codec.AudioVorbis):
		return ".ogg"
	case codec.IsFamily(job.Request.AudioCodec, codec.AudioWMA):
		return ".wma"
	}
	return ""
}

func splitCodecs(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func stripQuery(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}
