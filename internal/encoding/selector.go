package encoding

import (
	"slices"
	"strings"

	"github.com/jmylchreest/encodr/internal/media"
)

// SelectStream picks the stream of the given type to use for output.
// The stream at desiredIndex wins when it exists. Otherwise, when
// returnFirst is set, video falls back to the first non-mjpeg stream
// (cover art) and audio to the first stream reporting channels. A nil
// result means no stream of that type applies.
func SelectStream(streams []media.Stream, desiredIndex *int, typ media.StreamType, returnFirst bool) *media.Stream {
	var candidates []media.Stream
	for _, s := range streams {
		if s.Type == typ {
			candidates = append(candidates, s)
		}
	}
	slices.SortStableFunc(candidates, func(a, b media.Stream) int {
		return a.Index - b.Index
	})

	if desiredIndex != nil {
		for i := range candidates {
			if candidates[i].Index == *desiredIndex {
				return &candidates[i]
			}
		}
	}

	if typ == media.StreamVideo {
		candidates = slices.DeleteFunc(candidates, func(s media.Stream) bool {
			return strings.EqualFold(s.Codec, "mjpeg")
		})
	}

	if !returnFirst || len(candidates) == 0 {
		return nil
	}

	if typ == media.StreamAudio {
		for i := range candidates {
			if c := candidates[i].Channels; c != nil && *c > 0 {
				return &candidates[i]
			}
		}
	}
	return &candidates[0]
}
