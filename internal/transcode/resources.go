package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/media"
)

// KeyedMutex serializes work per key. Waiting for a key honours
// cancellation; entries are dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires key and returns the function releasing it.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(key, e)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// acquireResources mounts images, opens live streams and waits out the
// source's buffering delay. Anything acquired is recorded on the job so
// disposal releases it.
func (o *Orchestrator) acquireResources(ctx context.Context, job *encoding.Job) error {
	src := job.Source
	if src == nil {
		return nil
	}

	if job.VideoType == media.VideoISO && job.IsoType != media.IsoNone && o.iso.CanMount(job.MediaPath) {
		unlock, err := o.locks.Lock(ctx, "iso:"+job.MediaPath)
		if err != nil {
			return err
		}
		mount, err := o.iso.Mount(ctx, job.MediaPath)
		unlock()
		if err != nil {
			return fmt.Errorf("mounting %s: %w", job.MediaPath, err)
		}
		job.SetIsoMount(mount)
		o.logger.DebugContext(ctx, "mounted iso",
			slog.String("path", job.MediaPath),
			slog.String("mounted_path", mount.MountedPath()))
	}

	if src.RequiresOpening && job.Request.LiveStreamID == "" {
		unlock, err := o.locks.Lock(ctx, "live:"+src.OpenToken)
		if err != nil {
			return err
		}
		live, err := o.builder.Library().OpenLiveStream(ctx, src.OpenToken)
		unlock()
		if err != nil {
			return fmt.Errorf("opening live stream: %w", err)
		}
		job.SetLiveStream(live)
		if err := o.builder.Reattach(job, live.Source()); err != nil {
			return fmt.Errorf("attaching live stream: %w", err)
		}
	}

	if src.BufferMs != nil && *src.BufferMs > 0 {
		if err := sleepContext(ctx, time.Duration(*src.BufferMs)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// removeOutput deletes a job's output. Segmented jobs also lose every
// segment sharing the playlist's base name.
func removeOutput(path string, typ encoding.JobType) error {
	var errs []error
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if typ.IsSegmented() {
		base := strings.TrimSuffix(path, filepath.Ext(path))
		matches, err := filepath.Glob(globEscape(base) + "*")
		if err != nil {
			errs = append(errs, err)
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func globEscape(s string) string {
	return strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`).Replace(s)
}
