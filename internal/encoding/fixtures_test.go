package encoding

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/jmylchreest/encodr/internal/media"
)

// h264AACSource is a 1080p h264/aac file that most clients can play as is.
func h264AACSource() *media.Source {
	return &media.Source{
		ID:           "src-1",
		Path:         "/media/movie.mkv",
		Protocol:     media.ProtocolFile,
		Container:    "mkv",
		Bitrate:      media.Ptr(5_192_000),
		RunTimeTicks: media.Ptr(int64(2 * 60 * 60 * media.TicksPerSecond)),
		VideoType:    media.VideoFile,
		Streams: []media.Stream{
			{
				Type:             media.StreamVideo,
				Index:            0,
				Codec:            "h264",
				Profile:          "High",
				Level:            media.Ptr(41.0),
				Width:            media.Ptr(1920),
				Height:           media.Ptr(1080),
				BitRate:          media.Ptr(5_000_000),
				AverageFrameRate: media.Ptr(23.976),
				BitDepth:         media.Ptr(8),
				RefFrames:        media.Ptr(4),
				IsAnamorphic:     media.Ptr(false),
				IsCabac:          media.Ptr(true),
			},
			{
				Type:       media.StreamAudio,
				Index:      1,
				Codec:      "aac",
				Channels:   media.Ptr(2),
				SampleRate: media.Ptr(48000),
				BitRate:    media.Ptr(192_000),
				Language:   "eng",
			},
			{
				Type:     media.StreamSubtitle,
				Index:    2,
				Codec:    "subrip",
				Language: "eng",
			},
		},
	}
}

type fakeLibrary struct {
	items     map[string]*media.Item
	sources   map[string][]*media.Source
	live      map[string]*media.Source
	openCount atomic.Int32
	openErr   error
}

func newFakeLibrary(src *media.Source) *fakeLibrary {
	return &fakeLibrary{
		items: map[string]*media.Item{
			"item-1": {ID: "item-1", Name: "Movie", MediaType: media.ItemVideo},
		},
		sources: map[string][]*media.Source{"item-1": {src}},
		live:    map[string]*media.Source{},
	}
}

func (l *fakeLibrary) GetItem(_ context.Context, id string) (*media.Item, error) {
	return l.items[id], nil
}

func (l *fakeLibrary) GetPlaybackMediaSources(_ context.Context, itemID string) ([]*media.Source, error) {
	return l.sources[itemID], nil
}

func (l *fakeLibrary) GetLiveStream(_ context.Context, id string) (*media.Source, error) {
	return l.live[id], nil
}

func (l *fakeLibrary) OpenLiveStream(_ context.Context, token string) (LiveStream, error) {
	l.openCount.Add(1)
	if l.openErr != nil {
		return nil, l.openErr
	}
	src, ok := l.live[token]
	if !ok {
		return nil, errors.New("unknown open token")
	}
	return &fakeLiveStream{src: src}, nil
}

type fakeLiveStream struct {
	src    *media.Source
	closed atomic.Int32
}

func (s *fakeLiveStream) Source() *media.Source { return s.src }

func (s *fakeLiveStream) Close() error {
	s.closed.Add(1)
	return nil
}

// stubArgs renders a short, order-stable argument list from the decision.
type stubArgs struct{}

func (stubArgs) BuildArgs(job *Job, out string) ([]string, error) {
	args := []string{"-i", job.InputPath(), "-c:a", job.OutputAudioCodec}
	if job.HasVideoRequest() {
		args = append(args, "-c:v", job.OutputVideoCodec)
	}
	return append(args, out), nil
}

type closeCounter struct {
	n   atomic.Int32
	err error
}

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return c.err
}

type fakeIsoMount struct {
	closeCounter
	path string
}

func (m *fakeIsoMount) MountedPath() string { return m.path }

type staticProfiles struct {
	byID    map[string]*DeviceProfile
	caps    map[string]*DeviceProfile
	headers []*DeviceProfile
}

func (s *staticProfiles) GetProfile(_ context.Context, id string) (*DeviceProfile, error) {
	return s.byID[id], nil
}

func (s *staticProfiles) GetCapabilities(_ context.Context, deviceID string) (*DeviceProfile, bool, error) {
	p, ok := s.caps[deviceID]
	return p, ok, nil
}

func (s *staticProfiles) MatchProfile(_ context.Context, headers map[string]string) (*DeviceProfile, error) {
	for _, p := range s.headers {
		if p.MatchesHeaders(headers) {
			return p, nil
		}
	}
	return nil, nil
}

func streamOf(src *media.Source, typ media.StreamType) *media.Stream {
	for i := range src.Streams {
		if src.Streams[i].Type == typ {
			return &src.Streams[i]
		}
	}
	return nil
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}
