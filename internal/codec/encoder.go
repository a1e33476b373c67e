package codec

import (
	"path"
	"strings"
	"sync"
)

// Encoder is an FFmpeg encoder name plus any arguments that must follow it.
type Encoder struct {
	Name string
	Args []string
}

// String renders the encoder the way it appears after -codec on a command line.
func (e Encoder) String() string {
	if len(e.Args) == 0 {
		return e.Name
	}
	return e.Name + " " + strings.Join(e.Args, " ")
}

// IsCopy reports whether the encoder passes the stream through unchanged.
func (e Encoder) IsCopy() bool {
	return e.Name == Copy
}

// VideoEncoder resolves the FFmpeg encoder for a requested video codec.
// The qsv encoder is only chosen when the input runtime is known, as it
// cannot start against open-ended live inputs. An empty codec means copy.
func VideoEncoder(name string, accel HWAccel, runtimeKnown bool) Encoder {
	if strings.TrimSpace(name) == "" || strings.EqualFold(name, Copy) {
		return Encoder{Name: Copy}
	}

	lower := strings.ToLower(strings.TrimSpace(name))
	if isEncoderName(lower) {
		return Encoder{Name: lower}
	}

	c, ok := ParseVideo(lower)
	if !ok || len(videoRegistry[c].Encoders) == 0 {
		return Encoder{Name: lower}
	}

	encoders := videoRegistry[c].Encoders
	if accel == HWAccelQSV && !runtimeKnown {
		accel = HWAccelNone
	}
	if enc, ok := encoders[accel]; ok {
		return Encoder{Name: enc}
	}
	return Encoder{Name: encoders[HWAccelNone]}
}

// isEncoderName reports whether a name already is a concrete FFmpeg encoder.
func isEncoderName(lower string) bool {
	return strings.HasPrefix(lower, "lib") || strings.Contains(lower, "_")
}

// AudioEncoder resolves the FFmpeg encoder for a requested audio codec.
// Unknown codecs are passed through lower-cased.
func AudioEncoder(name string) Encoder {
	if strings.TrimSpace(name) == "" || strings.EqualFold(name, Copy) {
		return Encoder{Name: Copy}
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	if isEncoderName(lower) {
		return Encoder{Name: lower}
	}
	c, ok := ParseAudio(lower)
	if !ok {
		return Encoder{Name: lower}
	}
	return audioRegistry[c].Encoder
}

// InferVideoFromPath infers the video codec a client expects from the
// extension of the requested path. Unknown extensions mean copy.
func InferVideoFromPath(p string) string {
	switch extension(p) {
	case ".asf":
		return string(VideoWMV)
	case ".webm":
		return string(VideoVPX)
	case ".ogg", ".ogv":
		return string(VideoTheora)
	case ".m3u8", ".ts":
		return string(VideoH264)
	default:
		return Copy
	}
}

// InferAudioFromPath infers the audio codec a client expects from the
// extension of the requested path. Unknown extensions mean copy.
func InferAudioFromPath(p string) string {
	switch extension(p) {
	case ".mp3":
		return string(AudioMP3)
	case ".aac":
		return string(AudioAAC)
	case ".wma":
		return string(AudioWMA)
	case ".ogg", ".oga", ".ogv", ".webm", ".webma":
		return string(AudioVorbis)
	default:
		return Copy
	}
}

func extension(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.ToLower(path.Ext(p))
}

// h264Profiles ranks H.264 profiles from least to most demanding.
var h264Profiles = []string{
	"Constrained Baseline",
	"Baseline",
	"Extended",
	"Main",
	"High",
	"Progressive High",
	"Constrained High",
}

// ProfileRank returns the position of an H.264 profile on the capability
// scale, or -1 if the profile is unknown.
func ProfileRank(profile string) int {
	for i, p := range h264Profiles {
		if strings.EqualFold(p, strings.TrimSpace(profile)) {
			return i
		}
	}
	return -1
}

var (
	levelMu      sync.RWMutex
	levelFormats = map[string]map[string]string{}
)

// defaultDecimalLevels maps integer H.264 levels to the decimal form some
// hardware encoders require.
var defaultDecimalLevels = map[string]string{
	"30": "3",
	"31": "3.1",
	"32": "3.2",
	"40": "4",
	"41": "4.1",
	"42": "4.2",
	"50": "5",
	"51": "5.1",
	"52": "5.2",
}

func init() {
	RegisterLevelFormat("h264_qsv", defaultDecimalLevels)
	RegisterLevelFormat("h264_nvenc", defaultDecimalLevels)
	RegisterLevelFormat("libnvenc", defaultDecimalLevels)
}

// RegisterLevelFormat installs a level rewrite table for an encoder. Entries
// are merged into any existing table for that encoder.
func RegisterLevelFormat(encoder string, table map[string]string) {
	levelMu.Lock()
	defer levelMu.Unlock()

	enc := strings.ToLower(encoder)
	dst, ok := levelFormats[enc]
	if !ok {
		dst = make(map[string]string, len(table))
		levelFormats[enc] = dst
	}
	for k, v := range table {
		dst[k] = v
	}
}

// FormatLevel rewrites a requested level for the given encoder. Levels
// without a table entry pass through unchanged.
func FormatLevel(encoder, level string) string {
	levelMu.RLock()
	defer levelMu.RUnlock()

	if table, ok := levelFormats[strings.ToLower(encoder)]; ok {
		if v, ok := table[level]; ok {
			return v
		}
	}
	return level
}
