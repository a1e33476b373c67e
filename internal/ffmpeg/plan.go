package ffmpeg

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/media"
)

// Default plan settings.
const (
	DefaultDownmixBoost    = 2.0
	DefaultSegmentDuration = 6
)

// Planner turns an encoding job into an FFmpeg argument list. It is safe
// for concurrent use once configured.
type Planner struct {
	binary          string
	hwAccel         codec.HWAccel
	threads         int
	debug           bool
	downmixBoost    float64
	segmentDuration int
	hasDecoder      func(name string) bool
}

var _ encoding.ArgumentBuilder = (*Planner)(nil)

// NewPlanner creates a planner for the given FFmpeg binary.
func NewPlanner(binary string) *Planner {
	return &Planner{
		binary:          binary,
		downmixBoost:    DefaultDownmixBoost,
		segmentDuration: DefaultSegmentDuration,
	}
}

// WithHWAccel selects the hardware encoder family.
func (p *Planner) WithHWAccel(accel codec.HWAccel) *Planner {
	p.hwAccel = accel
	return p
}

// WithThreads sets the encoder thread count. Zero lets FFmpeg decide; a
// negative count also means automatic.
func (p *Planner) WithThreads(n int) *Planner {
	p.threads = n
	return p
}

// WithDebugLog makes FFmpeg log at debug level.
func (p *Planner) WithDebugLog(enabled bool) *Planner {
	p.debug = enabled
	return p
}

// WithDownmixBoost sets the volume multiplier applied when multichannel
// audio is folded down to stereo.
func (p *Planner) WithDownmixBoost(boost float64) *Planner {
	if boost > 0 {
		p.downmixBoost = boost
	}
	return p
}

// WithSegmentDuration sets the segment length in seconds for HLS and DASH.
func (p *Planner) WithSegmentDuration(seconds int) *Planner {
	if seconds > 0 {
		p.segmentDuration = seconds
	}
	return p
}

// WithDecoderSupport sets the check used before selecting a hardware
// decoder, usually BinaryInfo.HasDecoder.
func (p *Planner) WithDecoderSupport(has func(name string) bool) *Planner {
	p.hasDecoder = has
	return p
}

// Binary returns the FFmpeg binary path.
func (p *Planner) Binary() string {
	return p.binary
}

// Command builds the full command for a job.
func (p *Planner) Command(job *encoding.Job, outputPath string) (*Command, error) {
	args, err := p.BuildArgs(job, outputPath)
	if err != nil {
		return nil, err
	}
	return &Command{Binary: p.binary, Args: args}, nil
}

// BuildArgs renders the argument list for a job writing to outputPath.
func (p *Planner) BuildArgs(job *encoding.Job, outputPath string) ([]string, error) {
	if job == nil || job.Request == nil {
		return nil, errors.New("building arguments: job has no request")
	}
	input := inputPath(job)
	if input == "" {
		return nil, errors.New("building arguments: job has no input")
	}

	b := NewCommandBuilder(p.binary).HideBanner()
	if p.debug {
		b.LogLevel("debug")
	}

	b.InputArgs(p.inputModifiers(job)...)
	b.Input(input)
	if sub := job.SubtitleStream; burnSubtitles(job) && sub.IsExternal && !sub.IsTextSubtitleStream {
		b.Input(sub.Path)
	}

	b.MapArgs(mapArgs(job)...)

	b.OutputArgs("-threads", strconv.Itoa(p.threadCount(job)))

	if job.HasVideoRequest() {
		p.videoArgs(b, job)
	} else {
		b.OutputArgs("-vn")
	}
	p.audioArgs(b, job)

	format := ParseOutputFormat(job.OutputContainer)
	if job.Type == encoding.JobHLS {
		format = FormatHLS
	} else if job.Type == encoding.JobDASH {
		format = FormatDASH
	}
	ApplyBitstreamFilters(b, GetBitstreamFilters(
		job.InputContainer, format,
		job.ActualOutputVideoCodec(), job.HasVideoRequest() && job.IsVideoCopy(),
		job.ActualOutputAudioCodec(), job.IsAudioCopy(),
	))

	p.containerArgs(b, job, format, outputPath)

	b.Overwrite().Output(outputPath)
	return b.Args(), nil
}

// inputModifiers are the arguments that precede -i.
func (p *Planner) inputModifiers(job *encoding.Job) []string {
	var args []string

	if len(job.PlayableStreamFileNames) > 0 || job.VideoType == media.VideoDVD || job.VideoType == media.VideoBD {
		args = append(args, "-probesize", "1G", "-analyzeduration", "200M")
	}

	if ua := headerLookup(job.RemoteHTTPHeaders, "User-Agent"); ua != "" {
		args = append(args, "-user_agent", ua)
	}

	if start := job.StartTicks(); start > 0 {
		args = append(args, "-ss", media.FormatTicks(start))
	}

	if job.HasVideoRequest() {
		args = append(args, "-fflags", "+genpts")
	}
	if job.InputAudioSync != "" {
		args = append(args, "-async", job.InputAudioSync)
	}
	if job.InputVideoSync != "" {
		args = append(args, "-vsync", job.InputVideoSync)
	}
	if job.ReadInputAtNativeFramerate {
		args = append(args, "-re")
	}

	if dec := p.videoDecoder(job); dec != "" {
		args = append(args, "-c:v", dec)
	}

	if job.HasVideoRequest() && strings.EqualFold(job.OutputContainer, "mkv") {
		args = append(args, "-noaccurate_seek")
	}
	return args
}

// videoDecoder picks a hardware decoder when qsv is configured and FFmpeg
// was built with it. Empty lets FFmpeg decide.
func (p *Planner) videoDecoder(job *encoding.Job) string {
	if p.hwAccel != codec.HWAccelQSV || job.VideoStream == nil || p.hasDecoder == nil {
		return ""
	}
	var dec string
	switch {
	case codec.IsVideoFamily(job.VideoStream.Codec, codec.VideoH264):
		dec = "h264_qsv"
	case codec.IsVideoFamily(job.VideoStream.Codec, codec.VideoMPEG2):
		dec = "mpeg2_qsv"
	case codec.IsVideoFamily(job.VideoStream.Codec, codec.VideoVC1):
		dec = "vc1_qsv"
	default:
		return ""
	}
	if !p.hasDecoder(dec) {
		return ""
	}
	return dec
}

// inputPath renders the input URL. Local files are prefixed so names that
// look like protocols are read as files. Disc folders and mounted images
// with several playable files are read through the concat protocol.
func inputPath(job *encoding.Job) string {
	path := job.InputPath()
	if path == "" {
		return ""
	}

	if job.IsInputVideo && len(job.PlayableStreamFileNames) > 0 &&
		!(job.VideoType == media.VideoISO && job.IsoMount() == nil) {
		files := make([]string, 0, len(job.PlayableStreamFileNames))
		for _, name := range job.PlayableStreamFileNames {
			files = append(files, filepath.Join(path, name))
		}
		if len(files) == 1 {
			return "file:" + files[0]
		}
		return "concat:" + strings.Join(files, "|")
	}

	if job.InputProtocol == media.ProtocolFile || job.InputProtocol == "" {
		return "file:" + path
	}
	return path
}

// mapArgs selects the chosen streams. Unknown indexes fall back to FFmpeg's
// default selection with subtitles dropped.
func mapArgs(job *encoding.Job) []string {
	if job.VideoStream == nil && job.AudioStream == nil {
		if job.IsInputVideo {
			return []string{"-sn"}
		}
		return nil
	}
	if job.VideoStream != nil && job.VideoStream.Index == -1 {
		return []string{"-sn"}
	}
	if job.AudioStream != nil && job.AudioStream.Index == -1 {
		if job.IsInputVideo {
			return []string{"-sn"}
		}
		return nil
	}

	var args []string
	if job.VideoStream != nil && job.HasVideoRequest() {
		args = append(args, "-map", "0:"+strconv.Itoa(job.VideoStream.Index))
	} else {
		args = append(args, "-map", "-0:v")
	}

	if job.AudioStream != nil {
		args = append(args, "-map", "0:"+strconv.Itoa(job.AudioStream.Index))
	} else {
		args = append(args, "-map", "-0:a")
	}

	if job.SubtitleStream == nil {
		args = append(args, "-map", "-0:s")
	} else if job.SubtitleStream.IsExternal && !job.SubtitleStream.IsTextSubtitleStream && burnSubtitles(job) {
		args = append(args, "-map", "1:0", "-sn")
	}
	return args
}

func (p *Planner) threadCount(job *encoding.Job) int {
	if job.HasVideoRequest() && codec.IsVideoFamily(job.OutputVideoCodec, codec.VideoVPX) {
		return max(runtime.NumCPU()-1, 2)
	}
	if p.threads < 0 {
		return 0
	}
	return p.threads
}

func (p *Planner) videoArgs(b *CommandBuilder, job *encoding.Job) {
	enc := codec.VideoEncoder(job.OutputVideoCodec, p.hwAccel, job.RunTimeTicks != nil)
	b.OutputArgs("-codec:v:0", enc.Name)
	b.OutputArgs(enc.Args...)
	if enc.IsCopy() {
		if job.StartTicks() > 0 {
			b.OutputArgs("-avoid_negative_ts", "make_zero")
		}
		return
	}

	b.OutputArgs("-pix_fmt", "yuv420p")
	b.OutputArgs(videoQualityArgs(enc.Name, job)...)
	b.OutputArgs(videoBitrateArgs(enc.Name, job.OutputVideoBitrate, job.Type.IsSegmented())...)

	v := job.Request.Video
	if rate := encoding.FramerateParam(v, job.VideoStream); rate != nil {
		b.OutputArgs("-r", formatFloat(*rate))
	}
	if v.Profile != "" {
		b.OutputArgs("-profile:v", v.Profile)
	}
	if v.Level != "" {
		b.OutputArgs("-level", codec.FormatLevel(enc.Name, v.Level))
	}

	if sub := job.SubtitleStream; burnSubtitles(job) && !sub.IsTextSubtitleStream {
		b.OutputArgs("-filter_complex", graphicalSubtitleFilter(job))
		return
	}

	for _, f := range outputSizeFilters(job) {
		b.VideoFilter(f)
	}
	if burnSubtitles(job) {
		b.VideoFilter(textSubtitleFilter(job))
		b.OutputArgs("-copyts")
	}
}

// videoQualityArgs are the per encoder speed and quality settings.
func videoQualityArgs(encoder string, job *encoding.Job) []string {
	switch strings.ToLower(encoder) {
	case "libx264":
		return []string{"-preset", "superfast", "-crf", "23"}
	case "libx265":
		return []string{"-preset", "fast", "-crf", "28"}
	case "h264_qsv":
		return []string{"-preset", "7", "-look_ahead", "0"}
	case "h264_nvenc", "libnvenc":
		return []string{"-preset", "p1"}
	case "libvpx":
		// profile 0-3, lower is slower and better
		profile := 0
		if job.VideoStream != nil && codec.IsVideoFamily(job.VideoStream.Codec, codec.VideoVC1) {
			profile = 1
		}
		return []string{"-speed", "16", "-quality", "good", "-profile:v", strconv.Itoa(profile),
			"-slices", "8", "-crf", "10", "-qmin", "0", "-qmax", "50"}
	case "mpeg4":
		return []string{"-mbd", "rd", "-flags", "+mv4+aic", "-trellis", "2", "-cmp", "2", "-subcmp", "2", "-bf", "2"}
	case "wmv2":
		return []string{"-qmin", "2"}
	case "msmpeg4":
		return []string{"-mbd", "2"}
	}
	return nil
}

// videoBitrateArgs caps the output bitrate. With vpx and crf, -b:v becomes
// a ceiling. Segmented output gets a VBV buffer so segments stay bounded.
func videoBitrateArgs(encoder string, bitrate *int, segmented bool) []string {
	if bitrate == nil {
		return nil
	}
	br := strconv.Itoa(*bitrate)
	buf := strconv.Itoa(*bitrate * 2)

	switch strings.ToLower(encoder) {
	case "libvpx":
		return []string{"-maxrate:v", br, "-bufsize:v", buf, "-b:v", br}
	case "msmpeg4":
		return []string{"-b:v", br}
	}
	if segmented {
		return []string{"-b:v", br, "-maxrate", br, "-bufsize", buf}
	}
	return []string{"-b:v", br}
}

// outputSizeFilters returns deinterlace and scale filters. Dimensions are
// kept even as most encoders require.
func outputSizeFilters(job *encoding.Job) []string {
	v := job.Request.Video
	var filters []string

	if job.DeInterlace {
		filters = append(filters, "yadif=0:-1:0")
	}

	switch {
	case v.Width != nil && v.Height != nil:
		filters = append(filters, fmt.Sprintf("scale=trunc(%d/2)*2:trunc(%d/2)*2", *v.Width, *v.Height))
	case v.MaxWidth != nil && v.MaxHeight != nil:
		filters = append(filters, fmt.Sprintf(
			`scale=trunc(min(max(iw\,ih*dar)\,min(%[1]d\,%[2]d*dar))/2)*2:trunc(min(max(iw/dar\,ih)\,min(%[1]d/dar\,%[2]d))/2)*2`,
			*v.MaxWidth, *v.MaxHeight))
	case v.Width != nil:
		filters = append(filters, fmt.Sprintf("scale=%d:trunc(ow/a/2)*2", *v.Width))
	case v.Height != nil:
		filters = append(filters, fmt.Sprintf("scale=trunc(oh*a/2)*2:%d", *v.Height))
	case v.MaxWidth != nil:
		filters = append(filters, fmt.Sprintf(`scale=trunc(min(max(iw\,ih*dar)\,%d)/2)*2:trunc(ow/dar/2)*2`, *v.MaxWidth))
	case v.MaxHeight != nil:
		filters = append(filters, fmt.Sprintf(`scale=trunc(oh*a/2)*2:min(ih\,%d)`, *v.MaxHeight))
	}
	return filters
}

func burnSubtitles(job *encoding.Job) bool {
	return job.SubtitleStream != nil && job.HasVideoRequest() &&
		job.Request.Video.SubtitleMethod == encoding.SubtitleEncode
}

// textSubtitleFilter renders text subtitles onto the video, shifted back by
// the seek offset so they line up with the copied timestamps.
func textSubtitleFilter(job *encoding.Job) string {
	seconds := startSeconds(job)
	sub := job.SubtitleStream
	if sub.IsExternal {
		return fmt.Sprintf("subtitles=filename='%s',setpts=PTS -%d/TB", escapeFilterPath(sub.Path), seconds)
	}
	return fmt.Sprintf("subtitles='%s:si=%d',setpts=PTS -%d/TB",
		escapeFilterPath(job.MediaPath), job.InternalSubtitleStreamOffset, seconds)
}

// graphicalSubtitleFilter overlays a bitmap subtitle stream, scaling the
// result the same way the plain scale filters would.
func graphicalSubtitleFilter(job *encoding.Job) string {
	var outputSize string
	if filters := outputSizeFilters(job); len(filters) > 0 {
		last := filters[len(filters)-1]
		if strings.HasPrefix(last, "scale=") {
			outputSize = "," + last
		}
	}

	var videoSize string
	if vs := job.VideoStream; vs != nil && vs.Width != nil && vs.Height != nil {
		videoSize = fmt.Sprintf(",scale=%d:%d", *vs.Width, *vs.Height)
	}

	input, index := 0, job.SubtitleStream.Index
	if job.SubtitleStream.IsExternal {
		input, index = 1, 0
	}
	videoIndex := 0
	if job.VideoStream != nil {
		videoIndex = job.VideoStream.Index
	}

	return fmt.Sprintf("[%d:%d]format=yuva444p%s,lut=u=128:v=128:y=gammaval(.3)[sub] ; [0:%d] [sub] overlay%s",
		input, index, videoSize, videoIndex, outputSize)
}

func (p *Planner) audioArgs(b *CommandBuilder, job *encoding.Job) {
	if job.AudioStream == nil && job.HasVideoRequest() {
		b.OutputArgs("-an")
		return
	}

	enc := codec.AudioEncoder(job.OutputAudioCodec)
	b.OutputArgs("-codec:a:0", enc.Name)
	b.OutputArgs(enc.Args...)
	if enc.IsCopy() {
		return
	}

	if ch := job.OutputAudioChannels; ch != nil {
		b.OutputArgs("-ac", strconv.Itoa(*ch))
	}
	if br := job.OutputAudioBitrate; br != nil {
		b.OutputArgs("-ab", strconv.Itoa(*br))
	}
	if sr := job.OutputAudioSampleRate; sr != nil {
		b.OutputArgs("-ar", strconv.Itoa(*sr))
	}
	b.OutputArgs("-af", p.audioFilter(job))
}

// audioFilter resamples with drift correction, boosts volume when folding
// 6+ channels to stereo and shifts timestamps when subtitles are burned in.
func (p *Planner) audioFilter(job *encoding.Job) string {
	var sb strings.Builder

	if job.Type.IsSegmented() {
		sb.WriteString("adelay=1,")
	}

	sb.WriteString("aresample=")
	if sr := job.OutputAudioSampleRate; sr != nil {
		sb.WriteString(strconv.Itoa(*sr) + ":")
	}
	async := job.OutputAudioSync
	if async == "" {
		async = "1"
	}
	sb.WriteString("async=" + async)

	if ch := job.OutputAudioChannels; ch != nil && *ch <= 2 {
		if as := job.AudioStream; as != nil && as.Channels != nil && *as.Channels > 5 {
			sb.WriteString(",volume=" + formatFloat(p.downmixBoost))
		}
	}

	if burnSubtitles(job) && job.SubtitleStream.IsTextSubtitleStream {
		fmt.Fprintf(&sb, ",asetpts=PTS-%d/TB", startSeconds(job))
	}
	return sb.String()
}

// containerArgs selects the muxer and its options.
func (p *Planner) containerArgs(b *CommandBuilder, job *encoding.Job, format OutputFormatType, outputPath string) {
	seg := strconv.Itoa(p.segmentDuration)

	switch format {
	case FormatHLS:
		segmentTicks := int64(p.segmentDuration) * media.TicksPerSecond
		startNumber := job.StartTicks() / segmentTicks
		base := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
		if job.HasVideoRequest() && !job.IsVideoCopy() {
			b.OutputArgs("-force_key_frames", "expr:gte(t,n_forced*"+seg+")")
		}
		b.OutputArgs(
			"-f", string(FormatHLS),
			"-hls_time", seg,
			"-hls_list_size", "0",
			"-start_number", strconv.FormatInt(startNumber, 10),
			"-hls_segment_filename", base+"%d.ts",
		)
		return
	case FormatDASH:
		b.OutputArgs(
			"-f", string(FormatDASH),
			"-seg_duration", seg,
			"-use_template", "1",
			"-use_timeline", "1",
		)
		return
	}

	if job.HasVideoRequest() {
		b.OutputArgs("-map_metadata", "-1", "-map_chapters", "-1")
	}

	switch format {
	case FormatMPEGTS:
		b.OutputArgs("-f", string(FormatMPEGTS))
		if job.EnableMpegtsM2TsMode {
			b.OutputArgs("-mpegts_m2ts_mode", "1")
		}
	case FormatMP4:
		b.OutputArgs("-movflags", "frag_keyframe+empty_moov", "-f", string(FormatMP4))
	case FormatUnknown:
	default:
		b.OutputArgs("-f", string(format))
	}
}

func startSeconds(job *encoding.Job) int {
	return int(math.Round(media.TicksToDuration(job.StartTicks()).Seconds()))
}

func escapeFilterPath(p string) string {
	return strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`).Replace(p)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func headerLookup(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
