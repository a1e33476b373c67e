package encoding

import (
	"slices"
	"sync"

	"github.com/jmylchreest/encodr/internal/codec"
)

// ResolutionStep is the largest width worth encoding at up to MaxBitrate
// of h264-equivalent bandwidth.
type ResolutionStep struct {
	MaxWidth   int `json:"maxWidth" yaml:"max_width"`
	MaxBitrate int `json:"maxBitrate" yaml:"max_bitrate"`
}

// DefaultResolutionSteps is the built-in resolution/bitrate table.
var DefaultResolutionSteps = []ResolutionStep{
	{MaxWidth: 426, MaxBitrate: 320_000},
	{MaxWidth: 640, MaxBitrate: 400_000},
	{MaxWidth: 720, MaxBitrate: 950_000},
	{MaxWidth: 1280, MaxBitrate: 2_500_000},
	{MaxWidth: 1920, MaxBitrate: 4_000_000},
	{MaxWidth: 2560, MaxBitrate: 20_000_000},
	{MaxWidth: 3840, MaxBitrate: 35_000_000},
}

// ResolutionNormalizer keeps resolution ceilings consistent with the output
// bitrate. It is safe for concurrent use.
type ResolutionNormalizer struct {
	mu    sync.RWMutex
	steps []ResolutionStep
}

// NewResolutionNormalizer creates a normalizer over the given steps, or the
// default table when steps is empty.
func NewResolutionNormalizer(steps []ResolutionStep) *ResolutionNormalizer {
	n := &ResolutionNormalizer{}
	n.SetSteps(steps)
	return n
}

// SetSteps replaces the table. Steps are kept sorted by bitrate.
func (n *ResolutionNormalizer) SetSteps(steps []ResolutionStep) {
	if len(steps) == 0 {
		steps = DefaultResolutionSteps
	}
	sorted := slices.Clone(steps)
	slices.SortFunc(sorted, func(a, b ResolutionStep) int {
		return a.MaxBitrate - b.MaxBitrate
	})

	n.mu.Lock()
	n.steps = sorted
	n.mu.Unlock()
}

// Normalize returns the max width and height to use for an output of
// outputBitrate. Both bitrates are compared as h264 equivalents of their
// codecs. When the bitrate is not being reduced the ceilings are left alone.
// Otherwise the width ceiling is lowered to the table step that fits the
// h264-equivalent bitrate and the height ceiling is dropped so the aspect
// ratio decides it. The width ceiling is never raised.
func (n *ResolutionNormalizer) Normalize(inputBitrate *int, outputBitrate int, inputCodec, outputCodec string, maxWidth, maxHeight *int) (*int, *int) {
	equivalent := h264Equivalent(outputBitrate, outputCodec)
	if inputBitrate != nil && equivalent >= h264Equivalent(*inputBitrate, inputCodec) && (maxWidth != nil || maxHeight != nil) {
		return maxWidth, maxHeight
	}

	step, ok := n.stepFor(equivalent)
	if !ok {
		return maxWidth, maxHeight
	}

	width := step.MaxWidth
	if maxWidth != nil {
		width = min(width, *maxWidth)
	}
	if maxWidth == nil || *maxWidth != width {
		maxHeight = nil
	}
	return &width, maxHeight
}

// CapToSource lowers a width ceiling wider than the source to the source
// width. Unknown values are returned unchanged.
func CapToSource(maxWidth, sourceWidth *int) *int {
	if maxWidth == nil || sourceWidth == nil || *sourceWidth <= 0 || *maxWidth <= *sourceWidth {
		return maxWidth
	}
	return clonePtr(sourceWidth)
}

func h264Equivalent(bitrate int, name string) int {
	return int(float64(bitrate) / codec.BitrateScaleFactor(name))
}

func (n *ResolutionNormalizer) stepFor(bitrate int) (ResolutionStep, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, s := range n.steps {
		if bitrate <= s.MaxBitrate {
			return s, true
		}
	}
	return ResolutionStep{}, false
}
