package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/encodr/internal/codec"
)

// OutputInfo describes what an encoder has written so far.
type OutputInfo struct {
	Path           string        `json:"path"`
	Format         string        `json:"format"`
	Size           int64         `json:"size"`
	Tracks         []TrackInfo   `json:"tracks,omitempty"`
	Segments       []SegmentInfo `json:"segments,omitempty"`
	TargetDuration int           `json:"target_duration,omitempty"`
	Ended          bool          `json:"ended,omitempty"`
}

// TrackInfo is one elementary stream found in transport stream output.
type TrackInfo struct {
	PID   uint16 `json:"pid"`
	Codec string `json:"codec"`
	Video bool   `json:"video"`
}

// SegmentInfo is one media segment listed in an HLS playlist.
type SegmentInfo struct {
	URI      string        `json:"uri"`
	Duration time.Duration `json:"duration"`
}

// OutputReady reports whether output at path can be handed to a client.
// Transport streams must carry a program map table, playlists must list at
// least one segment and anything else must simply be non-empty. A missing
// file is not an error.
func OutputReady(ctx context.Context, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	switch outputKind(path) {
	case "mpegts":
		return TransportStreamReady(ctx, f)
	case "hls":
		data, err := io.ReadAll(io.LimitReader(f, 4<<20))
		if err != nil {
			return false, err
		}
		pl, err := ParseMediaPlaylist(data)
		if err != nil {
			return false, nil // partially written playlist
		}
		return len(pl.Segments) > 0, nil
	default:
		st, err := f.Stat()
		if err != nil {
			return false, err
		}
		return st.Size() > 0, nil
	}
}

// TransportStreamReady reports whether the stream contains a PMT with at
// least one elementary stream. Running out of packets first is not an
// error; the encoder may not have flushed yet.
func TransportStreamReady(ctx context.Context, r io.Reader) (bool, error) {
	dmx := astits.NewDemuxer(ctx, r)
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return false, nil
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("demuxing transport stream: %w", err)
		}
		if d.PMT != nil && len(d.PMT.ElementaryStreams) > 0 {
			return true, nil
		}
	}
}

// TransportStreamTracks lists the tracks of a transport stream.
func TransportStreamTracks(r io.Reader) ([]TrackInfo, error) {
	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		return nil, fmt.Errorf("reading transport stream: %w", err)
	}

	var tracks []TrackInfo
	for _, t := range reader.Tracks() {
		tracks = append(tracks, TrackInfo{
			PID:   t.PID,
			Codec: codec.FromMPEGTS(t.Codec),
			Video: codec.IsVideoTrack(t.Codec),
		})
	}
	return tracks, nil
}

// ParseMediaPlaylist parses an HLS media playlist.
func ParseMediaPlaylist(data []byte) (*playlist.Media, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("not a media playlist")
	}
	return media, nil
}

// InspectOutput describes the output file at path: tracks for transport
// streams, segments for playlists.
func InspectOutput(ctx context.Context, path string) (*OutputInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	info := &OutputInfo{Path: path, Format: outputKind(path), Size: st.Size()}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch info.Format {
	case "mpegts":
		tracks, err := TransportStreamTracks(f)
		if err != nil {
			return nil, err
		}
		info.Tracks = tracks
	case "hls":
		data, err := io.ReadAll(io.LimitReader(f, 4<<20))
		if err != nil {
			return nil, err
		}
		pl, err := ParseMediaPlaylist(data)
		if err != nil {
			return nil, err
		}
		info.TargetDuration = pl.TargetDuration
		info.Ended = pl.Endlist
		for _, seg := range pl.Segments {
			info.Segments = append(info.Segments, SegmentInfo{URI: seg.URI, Duration: seg.Duration})
		}
		if len(pl.Segments) > 0 {
			if tracks, err := segmentTracks(ctx, filepath.Dir(path), pl.Segments[0].URI); err == nil {
				info.Tracks = tracks
			}
		}
	}
	return info, nil
}

func segmentTracks(ctx context.Context, dir, uri string) ([]TrackInfo, error) {
	if strings.Contains(uri, "://") {
		return nil, fmt.Errorf("remote segment %s", uri)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, uri))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return TransportStreamTracks(f)
}

func outputKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".m2ts", ".mts":
		return "mpegts"
	case ".m3u8":
		return "hls"
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
