// Package ffmpeg drives the external FFmpeg and FFprobe binaries: locating
// them, building argument lists, running and pausing processes, parsing their
// progress and probing what they wrote.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/encodr/internal/util"
)

// Environment variables consulted when no path is configured.
const (
	EnvFFmpegBinary  = "ENCODR_FFMPEG_BINARY"
	EnvFFprobeBinary = "ENCODR_FFPROBE_BINARY"
)

// BinaryInfo describes the FFmpeg installation in use.
type BinaryInfo struct {
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path,omitempty"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	BuildDate     string   `json:"build_date,omitempty"`
	Configuration string   `json:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty"`
	Decoders      []string `json:"decoders,omitempty"`
	HWAccels      []string `json:"hw_accels,omitempty"`
	Muxers        []string `json:"muxers,omitempty"`
}

// runFunc executes a binary and returns its stdout.
type runFunc func(ctx context.Context, bin string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).Output()
}

// BinaryDetector finds FFmpeg and caches what it supports.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string
	run         runFunc

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Configured paths are tried before
// the ENCODR_FFMPEG_BINARY and ENCODR_FFPROBE_BINARY variables and PATH;
// either may be empty.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         runCommand,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets how long detection results are reused.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the installation details, running the binaries at most once
// per cache period.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath, err := util.FindBinary("ffmpeg", EnvFFmpegBinary, d.ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info := &BinaryInfo{FFmpegPath: ffmpegPath}

	// ffprobe is optional; the library adapter reports its absence per item.
	if ffprobePath, err := util.FindBinary("ffprobe", EnvFFprobeBinary, d.ffprobePath); err == nil {
		info.FFprobePath = ffprobePath
	}

	out, err := d.run(ctx, ffmpegPath, "-version")
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	if err := parseVersion(string(out), info); err != nil {
		return nil, err
	}

	if out, err := d.run(ctx, ffmpegPath, "-hide_banner", "-encoders"); err == nil {
		info.Encoders = parseCoderList(string(out))
	}
	if out, err := d.run(ctx, ffmpegPath, "-hide_banner", "-decoders"); err == nil {
		info.Decoders = parseCoderList(string(out))
	}
	if out, err := d.run(ctx, ffmpegPath, "-hide_banner", "-hwaccels"); err == nil {
		info.HWAccels = parseHWAccels(string(out))
	}
	if out, err := d.run(ctx, ffmpegPath, "-hide_banner", "-muxers"); err == nil {
		info.Muxers = parseMuxers(string(out))
	}
	return info, nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads "ffmpeg -version" output such as
// "ffmpeg version n6.1.1 Copyright ...".
func parseVersion(output string, info *BinaryInfo) error {
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Version = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) == 3 {
				info.MajorVersion, _ = strconv.Atoi(m[1])
				info.MinorVersion, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}
	if info.Version == "" {
		return fmt.Errorf("failed to parse ffmpeg version")
	}
	return nil
}

// parseCoderList reads the names from "-encoders" or "-decoders" output. Each
// entry follows a dashed separator and looks like " V....D libx264  desc".
func parseCoderList(output string) []string {
	var names []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 || !strings.ContainsRune("VAS", rune(line[0])) {
			continue
		}
		if parts := strings.Fields(line[6:]); len(parts) > 0 {
			names = append(names, parts[0])
		}
	}
	return names
}

// parseHWAccels reads "-hwaccels" output.
func parseHWAccels(output string) []string {
	var accels []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels
}

// parseMuxers reads "-muxers" output. Entries look like "  E mpegts  desc".
func parseMuxers(output string) []string {
	var muxers []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "--") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[0], "E") {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			muxers = append(muxers, name)
		}
	}
	return muxers
}

// HasEncoder reports whether the named encoder is compiled in.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasDecoder reports whether the named decoder is compiled in.
func (info *BinaryInfo) HasDecoder(name string) bool {
	return slices.Contains(info.Decoders, name)
}

// HasHWAccel reports whether ffmpeg lists the acceleration method.
func (info *BinaryInfo) HasHWAccel(name string) bool {
	return slices.Contains(info.HWAccels, name)
}

// HasMuxer reports whether output in the named format can be written.
func (info *BinaryInfo) HasMuxer(name string) bool {
	return slices.Contains(info.Muxers, name)
}

// JSON returns the info as indented JSON.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion reports whether the version is at least major.minor.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}
