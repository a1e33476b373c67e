package ffmpeg

import (
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/encodr/internal/media"
)

// Progress is what one FFmpeg stats line says about a running encode.
// Fields the line did not carry are nil.
type Progress struct {
	Framerate       *float64       `json:"framerate,omitempty"`
	Percent         *float64       `json:"percent,omitempty"`
	Position        *time.Duration `json:"position,omitempty"`
	BytesTranscoded *int64         `json:"bytes_transcoded,omitempty"`
}

// PositionTicks returns the absolute output position in ticks, counting the
// requested start offset.
func (p Progress) PositionTicks(startTicks int64) *int64 {
	if p.Position == nil {
		return nil
	}
	t := startTicks + media.DurationToTicks(*p.Position)
	return &t
}

// ParseProgressLine extracts progress from an FFmpeg stats line such as
//
//	frame= 100 fps= 25.0 q=28.0 size=    2048kB time=00:00:04.00 bitrate=4194.3kbits/s
//
// Values may follow their key inline ("fps=25.0") or as the next token
// ("fps= 25.0"). Time is only interpreted when runtimeTicks is positive, and
// percent is measured against it from startTicks. Sizes are only trusted when
// given in kilobytes. The line is reported when a framerate or percent was
// found.
func ParseProgressLine(line string, runtimeTicks, startTicks int64) (Progress, bool) {
	var p Progress
	parts := strings.Fields(line)

	for i := 0; i < len(parts); i++ {
		key, value, ok := splitToken(parts, i)
		if !ok {
			continue
		}
		if value == "" && i+1 < len(parts) && !strings.Contains(parts[i+1], "=") {
			value = parts[i+1]
			i++
		}

		switch key {
		case "fps":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				p.Framerate = &f
			}
		case "time":
			if runtimeTicks <= 0 {
				continue
			}
			d, ok := parseClock(value)
			if !ok {
				continue
			}
			pos := d
			p.Position = &pos
			pct := float64(startTicks+media.DurationToTicks(d)) / float64(runtimeTicks) * 100
			p.Percent = &pct
		case "size":
			if n, ok := parseKilobytes(value); ok {
				p.BytesTranscoded = &n
			}
		}
	}

	return p, p.Framerate != nil || p.Percent != nil
}

func splitToken(parts []string, i int) (key, value string, ok bool) {
	key, value, ok = strings.Cut(parts[i], "=")
	if !ok {
		return "", "", false
	}
	return strings.ToLower(key), value, true
}

// parseClock parses hh:mm:ss(.fff). Negative times are not progress.
func parseClock(s string) (time.Duration, bool) {
	fields := strings.Split(s, ":")
	if len(fields) != 3 || strings.HasPrefix(s, "-") {
		return 0, false
	}
	h, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)), true
}

// parseKilobytes parses "2048kB" (or "2048KiB") into bytes.
func parseKilobytes(s string) (int64, bool) {
	lower := strings.ToLower(s)
	i := strings.Index(lower, "kb")
	if i < 0 {
		i = strings.Index(lower, "kib")
	}
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(lower[:i]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n * 1024, true
}
