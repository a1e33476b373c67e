package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/media"
)

func TestVideoBitrateParamValue(t *testing.T) {
	stream := streamOf(h264AACSource(), media.StreamVideo)

	t.Run("capped to source", func(t *testing.T) {
		got := VideoBitrateParamValue(&VideoRequest{VideoBitRate: media.Ptr(20_000_000)}, stream)
		require.NotNil(t, got)
		assert.Equal(t, 5_000_000, *got)
	})

	t.Run("below source kept", func(t *testing.T) {
		got := VideoBitrateParamValue(&VideoRequest{VideoBitRate: media.Ptr(1_000_000)}, stream)
		require.NotNil(t, got)
		assert.Equal(t, 1_000_000, *got)
	})

	t.Run("upscaling keeps requested", func(t *testing.T) {
		got := VideoBitrateParamValue(&VideoRequest{VideoBitRate: media.Ptr(20_000_000), Width: media.Ptr(3840)}, stream)
		require.NotNil(t, got)
		assert.Equal(t, 20_000_000, *got)
	})

	t.Run("unset", func(t *testing.T) {
		assert.Nil(t, VideoBitrateParamValue(&VideoRequest{}, stream))
	})
}

func TestEnforceResolutionLimit(t *testing.T) {
	v := &VideoRequest{Width: media.Ptr(1280), Height: media.Ptr(720), MaxHeight: media.Ptr(480)}
	EnforceResolutionLimit(v)

	assert.Nil(t, v.Width)
	assert.Nil(t, v.Height)
	require.NotNil(t, v.MaxWidth)
	assert.Equal(t, 1280, *v.MaxWidth)
	require.NotNil(t, v.MaxHeight)
	assert.Equal(t, 480, *v.MaxHeight)
}

func TestNumAudioChannelsParam(t *testing.T) {
	surround := &media.Stream{Type: media.StreamAudio, Channels: media.Ptr(6)}
	stereo := &media.Stream{Type: media.StreamAudio, Channels: media.Ptr(2)}
	mono := &media.Stream{Type: media.StreamAudio, Channels: media.Ptr(1)}

	tests := []struct {
		name   string
		req    *Request
		stream *media.Stream
		codec  string
		want   *int
	}{
		{name: "mp3 limited to stereo", req: &Request{MaxAudioChannels: media.Ptr(6)}, stream: surround, codec: "mp3", want: media.Ptr(2)},
		{name: "aac limited to six", req: &Request{MaxAudioChannels: media.Ptr(8)}, stream: &media.Stream{Channels: media.Ptr(8)}, codec: "aac", want: media.Ptr(6)},
		{name: "source caps max", req: &Request{MaxAudioChannels: media.Ptr(6)}, stream: stereo, codec: "aac", want: media.Ptr(2)},
		{name: "explicit channels pass through", req: &Request{AudioChannels: media.Ptr(6)}, stream: stereo, codec: "ac3", want: media.Ptr(6)},
		{name: "explicit channels above codec limit", req: &Request{AudioChannels: media.Ptr(8)}, stream: &media.Stream{Channels: media.Ptr(8)}, codec: "aac", want: media.Ptr(8)},
		{name: "explicit downmix", req: &Request{AudioChannels: media.Ptr(2)}, stream: surround, codec: "aac", want: media.Ptr(2)},
		{name: "wma stereo", req: &Request{}, stream: surround, codec: "wma", want: media.Ptr(2)},
		{name: "wma mono source", req: &Request{}, stream: mono, codec: "wmav2", want: media.Ptr(1)},
		{name: "wma unknown source", req: &Request{}, stream: nil, codec: "wma", want: media.Ptr(2)},
		{name: "nothing requested", req: &Request{}, stream: surround, codec: "aac", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NumAudioChannelsParam(tt.req, tt.stream, tt.codec)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
			if tt.stream != nil && tt.stream.Channels != nil {
				assert.False(t, *got > *tt.stream.Channels && *got > codec.MaxAudioChannels(tt.codec),
					"%d exceeds both the source and the codec limit", *got)
			}
		})
	}
}

func TestFramerateParam(t *testing.T) {
	stream := &media.Stream{AverageFrameRate: media.Ptr(59.94)}

	assert.Equal(t, 25.0, *FramerateParam(&VideoRequest{Framerate: media.Ptr(25.0)}, stream))
	assert.Equal(t, 30.0, *FramerateParam(&VideoRequest{MaxFramerate: media.Ptr(30.0)}, stream))
	assert.Nil(t, FramerateParam(&VideoRequest{MaxFramerate: media.Ptr(60.0)}, stream))
	assert.Nil(t, FramerateParam(nil, stream))
}

func TestResolutionNormalizer_Normalize(t *testing.T) {
	n := NewResolutionNormalizer(nil)

	tests := []struct {
		name      string
		input     *int
		output    int
		outCodec  string
		inCodec   string
		maxWidth  *int
		maxHeight *int
		wantWidth *int
		wantH     *int
	}{
		{
			name: "bitrate not reduced keeps ceilings", input: media.Ptr(5_000_000), output: 6_000_000, outCodec: "h264",
			maxWidth: media.Ptr(1920), maxHeight: media.Ptr(1080), wantWidth: media.Ptr(1920), wantH: media.Ptr(1080),
		},
		{
			name: "reduced bitrate picks step", input: media.Ptr(5_000_000), output: 1_000_000, outCodec: "h264",
			wantWidth: media.Ptr(1280),
		},
		{
			name: "existing ceiling lower than step", input: media.Ptr(5_000_000), output: 1_000_000, outCodec: "h264",
			maxWidth: media.Ptr(640), maxHeight: media.Ptr(360), wantWidth: media.Ptr(640), wantH: media.Ptr(360),
		},
		{
			name: "step lowers ceiling and drops height", input: media.Ptr(5_000_000), output: 400_000, outCodec: "h264",
			maxWidth: media.Ptr(1920), maxHeight: media.Ptr(1080), wantWidth: media.Ptr(640),
		},
		{
			name: "efficient codec gets a larger step", input: media.Ptr(5_000_000), output: 1_800_000, outCodec: "hevc",
			wantWidth: media.Ptr(1920),
		},
		{
			name: "hevc source at the same bitrate is a reduction", input: media.Ptr(1_500_000), output: 1_500_000, outCodec: "h264",
			inCodec: "hevc", maxWidth: media.Ptr(1920), maxHeight: media.Ptr(1080), wantWidth: media.Ptr(1280),
		},
		{
			name: "above table leaves ceilings", input: media.Ptr(80_000_000), output: 50_000_000, outCodec: "h264",
			maxWidth: media.Ptr(3840), wantWidth: media.Ptr(3840),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inCodec := tt.inCodec
			if inCodec == "" {
				inCodec = "h264"
			}
			w, h := n.Normalize(tt.input, tt.output, inCodec, tt.outCodec, tt.maxWidth, tt.maxHeight)
			assert.Equal(t, tt.wantWidth, w)
			assert.Equal(t, tt.wantH, h)
			if tt.maxWidth != nil && w != nil {
				assert.LessOrEqual(t, *w, *tt.maxWidth)
			}
		})
	}
}

func TestCapToSource(t *testing.T) {
	assert.Equal(t, media.Ptr(640), CapToSource(media.Ptr(1280), media.Ptr(640)))
	assert.Equal(t, media.Ptr(480), CapToSource(media.Ptr(480), media.Ptr(640)))
	assert.Equal(t, media.Ptr(1280), CapToSource(media.Ptr(1280), nil))
	assert.Nil(t, CapToSource(nil, media.Ptr(640)))
}

func TestResolutionNormalizer_SetSteps(t *testing.T) {
	n := NewResolutionNormalizer([]ResolutionStep{
		{MaxWidth: 1920, MaxBitrate: 8_000_000},
		{MaxWidth: 960, MaxBitrate: 1_000_000},
	})

	w, _ := n.Normalize(media.Ptr(10_000_000), 900_000, "h264", "h264", nil, nil)
	require.NotNil(t, w)
	assert.Equal(t, 960, *w)

	n.SetSteps(nil)
	w, _ = n.Normalize(media.Ptr(10_000_000), 900_000, "h264", "h264", nil, nil)
	require.NotNil(t, w)
	assert.Equal(t, 1280, *w)
}
