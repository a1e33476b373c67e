// Package library serves media items from a directory tree. Item ids are
// slash separated paths relative to the media root, and each item has a
// single media source described by ffprobe.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/media"
)

// ErrLiveStreamUnsupported is returned for live stream lookups; a directory
// library has no tuners.
var ErrLiveStreamUnsupported = errors.New("live streams are not supported")

// audioExtensions are treated as audio items; everything else is video.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".aac":  true,
	".m4a":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".wma":  true,
}

// Prober describes a media file.
type Prober interface {
	ProbeSource(ctx context.Context, id, path string) (*media.Source, error)
}

type cachedSource struct {
	modTime  time.Time
	size     int64
	probedAt time.Time
	source   *media.Source
}

// Library is an encoding.Library over a media root.
type Library struct {
	root   string
	prober Prober
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSource
}

var _ encoding.Library = (*Library)(nil)

// New creates a library rooted at root.
func New(root string, prober Prober) (*Library, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving media root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media root %s is not a directory", abs)
	}
	return &Library{
		root:   abs,
		prober: prober,
		logger: slog.Default(),
		now:    time.Now,
		cache:  make(map[string]cachedSource),
	}, nil
}

// WithLogger sets the logger.
func (l *Library) WithLogger(logger *slog.Logger) *Library {
	l.logger = logger
	return l
}

// WithCacheTTL bounds how long a probe result is reused. Zero keeps results
// until the file changes.
func (l *Library) WithCacheTTL(ttl time.Duration) *Library {
	l.ttl = ttl
	return l
}

// Root returns the absolute media root.
func (l *Library) Root() string {
	return l.root
}

// resolve maps an item id to a file below the root. Ids escaping the root
// resolve to nothing.
func (l *Library) resolve(id string) (string, os.FileInfo, bool) {
	clean := path.Clean("/" + strings.ReplaceAll(id, "\\", "/"))
	if clean == "/" {
		return "", nil, false
	}
	full := filepath.Join(l.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", nil, false
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", nil, false
	}
	return full, info, true
}

// GetItem returns the item for id, or nil when no such file exists.
func (l *Library) GetItem(_ context.Context, id string) (*media.Item, error) {
	full, _, ok := l.resolve(id)
	if !ok {
		return nil, nil
	}
	itemType := media.ItemVideo
	if audioExtensions[strings.ToLower(filepath.Ext(full))] {
		itemType = media.ItemAudio
	}
	return &media.Item{
		ID:        id,
		Name:      strings.TrimSuffix(filepath.Base(full), filepath.Ext(full)),
		MediaType: itemType,
	}, nil
}

// GetPlaybackMediaSources probes the item's file. Results are cached until
// the file's size or modification time changes or the cache TTL passes.
func (l *Library) GetPlaybackMediaSources(ctx context.Context, itemID string) ([]*media.Source, error) {
	full, info, ok := l.resolve(itemID)
	if !ok {
		return nil, nil
	}

	l.mu.Lock()
	cached, hit := l.cache[full]
	l.mu.Unlock()
	if hit && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() &&
		(l.ttl <= 0 || l.now().Sub(cached.probedAt) < l.ttl) {
		return []*media.Source{cloneSource(cached.source)}, nil
	}

	start := time.Now()
	src, err := l.prober.ProbeSource(ctx, itemID, full)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", itemID, err)
	}
	l.logger.Debug("probed media source",
		slog.String("item_id", itemID),
		slog.Int("streams", len(src.Streams)),
		slog.Duration("duration", time.Since(start)))

	l.mu.Lock()
	l.cache[full] = cachedSource{modTime: info.ModTime(), size: info.Size(), probedAt: l.now(), source: src}
	l.mu.Unlock()
	return []*media.Source{cloneSource(src)}, nil
}

func cloneSource(src *media.Source) *media.Source {
	cp := *src
	cp.Streams = slices.Clone(src.Streams)
	return &cp
}

// GetLiveStream always fails with ErrLiveStreamUnsupported.
func (l *Library) GetLiveStream(context.Context, string) (*media.Source, error) {
	return nil, ErrLiveStreamUnsupported
}

// OpenLiveStream always fails with ErrLiveStreamUnsupported.
func (l *Library) OpenLiveStream(context.Context, string) (encoding.LiveStream, error) {
	return nil, ErrLiveStreamUnsupported
}
