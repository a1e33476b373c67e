package ffmpeg

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/media"
)

func videoStream() *media.Stream {
	return &media.Stream{
		Type:             media.StreamVideo,
		Index:            0,
		Codec:            "h264",
		Profile:          "High",
		Width:            media.Ptr(1920),
		Height:           media.Ptr(1080),
		AverageFrameRate: media.Ptr(23.976),
	}
}

func audioStream(channels int) *media.Stream {
	return &media.Stream{
		Type:     media.StreamAudio,
		Index:    1,
		Codec:    "aac",
		Channels: media.Ptr(channels),
	}
}

// videoJob is a progressive video job reading a local mkv file.
func videoJob() *encoding.Job {
	return &encoding.Job{
		Request:          &encoding.Request{ItemID: "item-1", Video: &encoding.VideoRequest{}},
		Type:             encoding.JobProgressive,
		IsInputVideo:     true,
		InputProtocol:    media.ProtocolFile,
		InputContainer:   "mkv",
		MediaPath:        "/media/movie.mkv",
		RunTimeTicks:     media.Ptr(int64(2 * 60 * 60 * media.TicksPerSecond)),
		VideoType:        media.VideoFile,
		VideoStream:      videoStream(),
		AudioStream:      audioStream(2),
		OutputContainer:  "ts",
		OutputVideoCodec: codec.Copy,
		OutputAudioCodec: codec.Copy,
	}
}

// assertSequence checks that want appears contiguously in args.
func assertSequence(t *testing.T, args []string, want ...string) {
	t.Helper()
	for i := 0; i+len(want) <= len(args); i++ {
		if slices.Equal(args[i:i+len(want)], want) {
			return
		}
	}
	t.Errorf("expected %q in %q", want, strings.Join(args, " "))
}

func TestPlanner_StreamCopy(t *testing.T) {
	args, err := NewPlanner("ffmpeg").BuildArgs(videoJob(), "/tmp/out.ts")
	require.NoError(t, err)

	assert.Equal(t, "-hide_banner", args[0])
	assert.NotContains(t, args, "-loglevel")
	assertSequence(t, args, "-fflags", "+genpts", "-i", "file:/media/movie.mkv")
	assertSequence(t, args, "-map", "0:0", "-map", "0:1", "-map", "-0:s")
	assertSequence(t, args, "-codec:v:0", "copy")
	assertSequence(t, args, "-codec:a:0", "copy")
	assertSequence(t, args, "-bsf:v", "h264_mp4toannexb")
	assertSequence(t, args, "-map_metadata", "-1", "-map_chapters", "-1", "-f", "mpegts")
	assert.Equal(t, []string{"-y", "/tmp/out.ts"}, args[len(args)-2:])

	assert.NotContains(t, args, "-pix_fmt")
	assert.NotContains(t, args, "-vf")
	assert.NotContains(t, args, "-af")
}

func TestPlanner_CopyWithSeekAvoidsNegativeTimestamps(t *testing.T) {
	job := videoJob()
	job.Request.StartTimeTicks = media.Ptr(int64(90 * media.TicksPerSecond))

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)

	assertSequence(t, args, "-ss", "00:01:30.000")
	assertSequence(t, args, "-codec:v:0", "copy", "-avoid_negative_ts", "make_zero")
}

func TestPlanner_TranscodeWithMaxWidth(t *testing.T) {
	job := videoJob()
	job.Request.Video.MaxWidth = media.Ptr(640)
	job.OutputVideoCodec = "h264"
	job.OutputVideoBitrate = media.Ptr(1_000_000)
	job.AudioStream = audioStream(6)
	job.OutputAudioCodec = "aac"
	job.OutputAudioChannels = media.Ptr(2)
	job.OutputAudioBitrate = media.Ptr(128_000)

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)

	assertSequence(t, args, "-codec:v:0", "libx264", "-pix_fmt", "yuv420p", "-preset", "superfast", "-crf", "23", "-b:v", "1000000")
	assertSequence(t, args, "-vf", `scale=trunc(min(max(iw\,ih*dar)\,640)/2)*2:trunc(ow/dar/2)*2`)
	assertSequence(t, args, "-codec:a:0", "aac", "-strict", "experimental", "-ac", "2", "-ab", "128000", "-af", "aresample=async=1,volume=2")
	assert.NotContains(t, args, "-bsf:v")
	assert.NotContains(t, args, "-maxrate")
}

func TestPlanner_DeinterlaceAndProfile(t *testing.T) {
	job := videoJob()
	job.DeInterlace = true
	job.OutputVideoCodec = "h264"
	job.Request.Video.Profile = "high"
	job.Request.Video.Level = "41"
	job.Request.Video.Framerate = media.Ptr(25.0)

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)

	assertSequence(t, args, "-r", "25", "-profile:v", "high", "-level")
	assertSequence(t, args, "-vf", "yadif=0:-1:0")
}

func TestPlanner_HLS(t *testing.T) {
	job := videoJob()
	job.Type = encoding.JobHLS
	job.Request.StartTimeTicks = media.Ptr(int64(13 * media.TicksPerSecond))
	job.OutputVideoCodec = "h264"
	job.OutputVideoBitrate = media.Ptr(2_000_000)
	job.OutputAudioCodec = "aac"

	args, err := NewPlanner("ffmpeg").WithSegmentDuration(6).BuildArgs(job, "/tmp/t/abc.m3u8")
	require.NoError(t, err)

	assertSequence(t, args, "-b:v", "2000000", "-maxrate", "2000000", "-bufsize", "4000000")
	assertSequence(t, args, "-force_key_frames", "expr:gte(t,n_forced*6)")
	assertSequence(t, args, "-f", "hls", "-hls_time", "6", "-hls_list_size", "0", "-start_number", "2",
		"-hls_segment_filename", "/tmp/t/abc%d.ts")

	i := slices.Index(args, "-af")
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, strings.HasPrefix(args[i+1], "adelay=1,aresample="))
	assert.NotContains(t, args, "-map_metadata")
}

func TestPlanner_AudioOnly(t *testing.T) {
	job := &encoding.Job{
		Request:          &encoding.Request{ItemID: "song"},
		Type:             encoding.JobProgressive,
		InputProtocol:    media.ProtocolFile,
		InputContainer:   "flac",
		MediaPath:        "/music/song.flac",
		AudioStream:      &media.Stream{Type: media.StreamAudio, Index: 0, Codec: "flac", Channels: media.Ptr(2)},
		OutputContainer:  "mp3",
		OutputAudioCodec: "mp3",
	}

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/song.mp3")
	require.NoError(t, err)

	assert.NotContains(t, args, "-fflags")
	assertSequence(t, args, "-map", "-0:v", "-map", "0:0")
	assertSequence(t, args, "-vn", "-codec:a:0", "libmp3lame")
	assertSequence(t, args, "-f", "mp3", "-y", "/tmp/song.mp3")
	assert.NotContains(t, args, "-map_metadata")
}

func TestPlanner_NoAudioStream(t *testing.T) {
	job := videoJob()
	job.AudioStream = nil

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)

	assertSequence(t, args, "-map", "-0:a")
	assert.Contains(t, args, "-an")
	assert.NotContains(t, args, "-codec:a:0")
}

func TestPlanner_DebugLog(t *testing.T) {
	args, err := NewPlanner("ffmpeg").WithDebugLog(true).BuildArgs(videoJob(), "/tmp/out.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"-loglevel", "debug", "-hide_banner"}, args[:3])
}

func TestPlanner_InputModifiers(t *testing.T) {
	job := videoJob()
	job.RemoteHTTPHeaders = map[string]string{"user-agent": "encodr-test"}
	job.ReadInputAtNativeFramerate = true
	job.InputAudioSync = "1"
	job.OutputContainer = "mkv"
	job.InputProtocol = media.ProtocolHTTP
	job.MediaPath = "http://tuner/stream"

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.mkv")
	require.NoError(t, err)

	assertSequence(t, args, "-user_agent", "encodr-test")
	assertSequence(t, args, "-async", "1", "-re")
	assertSequence(t, args, "-noaccurate_seek", "-i", "http://tuner/stream")
	assertSequence(t, args, "-f", "matroska")
}

func TestPlanner_QSVDecoder(t *testing.T) {
	job := videoJob()
	job.OutputVideoCodec = "h264"

	withDecoder := NewPlanner("ffmpeg").WithHWAccel(codec.HWAccelQSV).
		WithDecoderSupport(func(name string) bool { return name == "h264_qsv" })
	args, err := withDecoder.BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)
	assertSequence(t, args, "-c:v", "h264_qsv", "-i")

	without := NewPlanner("ffmpeg").WithHWAccel(codec.HWAccelQSV).
		WithDecoderSupport(func(string) bool { return false })
	args, err = without.BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)
	assert.NotContains(t, args, "-c:v")
}

func TestPlanner_DiscConcat(t *testing.T) {
	job := videoJob()
	job.VideoType = media.VideoBD
	job.MediaPath = "/media/disc"
	job.PlayableStreamFileNames = []string{"BDMV/STREAM/00001.m2ts", "BDMV/STREAM/00002.m2ts"}

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)

	assertSequence(t, args, "-probesize", "1G", "-analyzeduration", "200M")
	assert.Contains(t, args, "concat:/media/disc/BDMV/STREAM/00001.m2ts|/media/disc/BDMV/STREAM/00002.m2ts")
}

func TestPlanner_TextSubtitleBurnIn(t *testing.T) {
	job := videoJob()
	job.OutputVideoCodec = "h264"
	job.OutputAudioCodec = "aac"
	job.Request.Video.SubtitleMethod = encoding.SubtitleEncode
	job.SubtitleStream = &media.Stream{Type: media.StreamSubtitle, Index: 2, Codec: "subrip", IsTextSubtitleStream: true}

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)

	assertSequence(t, args, "-vf", `subtitles='/media/movie.mkv:si=0',setpts=PTS -0/TB`)
	assert.Contains(t, args, "-copyts")
	i := slices.Index(args, "-af")
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, strings.HasSuffix(args[i+1], ",asetpts=PTS-0/TB"))
}

func TestPlanner_GraphicalSubtitleOverlay(t *testing.T) {
	job := videoJob()
	job.OutputVideoCodec = "h264"
	job.Request.Video.SubtitleMethod = encoding.SubtitleEncode
	job.SubtitleStream = &media.Stream{Type: media.StreamSubtitle, Index: 0, Codec: "dvdsub", IsExternal: true, Path: "/media/movie.sub"}

	args, err := NewPlanner("ffmpeg").BuildArgs(job, "/tmp/out.ts")
	require.NoError(t, err)

	assertSequence(t, args, "-i", "file:/media/movie.mkv", "-i", "/media/movie.sub")
	assertSequence(t, args, "-map", "1:0", "-sn")
	i := slices.Index(args, "-filter_complex")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "[1:0]format=yuva444p,scale=1920:1080,lut=u=128:v=128:y=gammaval(.3)[sub] ; [0:0] [sub] overlay", args[i+1])
	assert.NotContains(t, args, "-vf")
}

func TestPlanner_VPXThreads(t *testing.T) {
	job := videoJob()
	job.OutputVideoCodec = "vpx"
	job.OutputContainer = "webm"

	args, err := NewPlanner("ffmpeg").WithThreads(1).BuildArgs(job, "/tmp/out.webm")
	require.NoError(t, err)

	i := slices.Index(args, "-threads")
	require.GreaterOrEqual(t, i, 0)
	assert.NotEqual(t, "1", args[i+1])
	assertSequence(t, args, "-codec:v:0", "libvpx")
	assertSequence(t, args, "-f", "webm")
}

func TestPlanner_Errors(t *testing.T) {
	p := NewPlanner("ffmpeg")

	_, err := p.BuildArgs(nil, "/tmp/out.ts")
	assert.Error(t, err)

	job := videoJob()
	job.MediaPath = ""
	_, err = p.BuildArgs(job, "/tmp/out.ts")
	assert.Error(t, err)
}

func TestPlanner_Command(t *testing.T) {
	cmd, err := NewPlanner("/usr/bin/ffmpeg").Command(videoJob(), "/tmp/out.ts")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.True(t, strings.HasPrefix(cmd.String(), "/usr/bin/ffmpeg -hide_banner "))
}

func TestGetBitstreamFilters(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		output    OutputFormatType
		video     string
		copyVideo bool
		audio     string
		copyAudio bool
		want      BitstreamFilterInfo
	}{
		{"h264 mkv to ts", "matroska,webm", FormatMPEGTS, "h264", true, "aac", true, BitstreamFilterInfo{VideoBSF: "h264_mp4toannexb"}},
		{"hevc mp4 to hls", "mp4", FormatHLS, "hevc", true, "ac3", true, BitstreamFilterInfo{VideoBSF: "hevc_mp4toannexb"}},
		{"ts to ts", "mpegts", FormatMPEGTS, "h264", true, "aac", true, BitstreamFilterInfo{}},
		{"transcoded video", "mp4", FormatMPEGTS, "h264", false, "aac", false, BitstreamFilterInfo{}},
		{"adts aac into mp4", "mpegts", FormatMP4, "h264", true, "aac", true, BitstreamFilterInfo{AudioBSF: "aac_adtstoasc"}},
		{"adts aac into flv", "ts", FormatFLV, "h264", false, "aac", true, BitstreamFilterInfo{AudioBSF: "aac_adtstoasc"}},
		{"adts aac into mkv", "ts", FormatMKV, "h264", false, "aac", true, BitstreamFilterInfo{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetBitstreamFilters(tt.input, tt.output, tt.video, tt.copyVideo, tt.audio, tt.copyAudio)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	assert.Equal(t, FormatMPEGTS, ParseOutputFormat(".ts"))
	assert.Equal(t, FormatHLS, ParseOutputFormat("m3u8"))
	assert.Equal(t, FormatMKV, ParseOutputFormat("MKV"))
	assert.Equal(t, FormatADTS, ParseOutputFormat("aac"))
	assert.Equal(t, FormatUnknown, ParseOutputFormat("xyz"))
}

func TestIsHardwareEncoder(t *testing.T) {
	assert.True(t, IsHardwareEncoder("h264_qsv"))
	assert.True(t, IsHardwareEncoder("H264_NVENC"))
	assert.True(t, IsHardwareEncoder("libnvenc"))
	assert.False(t, IsHardwareEncoder("libx264"))
}
