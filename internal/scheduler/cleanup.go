package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/encodr/internal/logarchive"
)

// Task names.
const (
	TaskCleanup = "cleanup"
	TaskArchive = "archive"
)

// TempCleanup deletes transcode output older than a maximum age. Files that
// belong to a running job are left alone.
type TempCleanup struct {
	dir    string
	maxAge time.Duration
	active func() []string
	logger *slog.Logger
	now    func() time.Time
}

var _ Task = (*TempCleanup)(nil)

// NewTempCleanup creates a cleanup task for dir.
func NewTempCleanup(dir string, maxAge time.Duration) *TempCleanup {
	return &TempCleanup{
		dir:    dir,
		maxAge: maxAge,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithActivePaths sets the source of output paths owned by running jobs.
func (c *TempCleanup) WithActivePaths(fn func() []string) *TempCleanup {
	c.active = fn
	return c
}

// WithLogger sets a custom logger.
func (c *TempCleanup) WithLogger(logger *slog.Logger) *TempCleanup {
	c.logger = logger
	return c
}

// Name implements Task.
func (c *TempCleanup) Name() string { return TaskCleanup }

// Execute implements Task.
func (c *TempCleanup) Execute(ctx context.Context) (Result, error) {
	var prefixes []string
	if c.active != nil {
		for _, p := range c.active() {
			// HLS segments share the playlist's base name.
			prefixes = append(prefixes, strings.TrimSuffix(p, filepath.Ext(p)))
		}
	}

	cutoff := c.now().Add(-c.maxAge)
	var removed int
	var dirs []string
	var errs []error

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != c.dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if owned(path, prefixes) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			return nil
		}
		removed++
		c.logger.Debug("removed stale transcode file", slog.String("path", path))
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}

	// Deepest first so nested segment folders collapse.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}

	if removed > 0 {
		c.logger.Info("transcode cleanup finished",
			slog.Int("removed", removed),
			slog.Duration("max_age", c.maxAge))
	}
	return Result{
		Removed: removed,
		Message: fmt.Sprintf("removed %d files", removed),
	}, errors.Join(errs...)
}

func owned(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RunStartupCleanup removes transcode files orphaned by a previous process.
// No job is running yet, so nothing is skipped.
func RunStartupCleanup(ctx context.Context, dir string, maxAge time.Duration, logger *slog.Logger) (Result, error) {
	return NewTempCleanup(dir, maxAge).WithLogger(logger).Execute(ctx)
}

// LogArchive archives finished encoder logs.
type LogArchive struct {
	archiver *logarchive.Archiver
}

var _ Task = (*LogArchive)(nil)

// NewLogArchive wraps an archiver as a task.
func NewLogArchive(archiver *logarchive.Archiver) *LogArchive {
	return &LogArchive{archiver: archiver}
}

// Name implements Task.
func (a *LogArchive) Name() string { return TaskArchive }

// Execute implements Task.
func (a *LogArchive) Execute(ctx context.Context) (Result, error) {
	res, err := a.archiver.Run(ctx)
	return Result{
		Removed: res.Archived + res.Pruned,
		Message: fmt.Sprintf("archived %d logs, pruned %d archives", res.Archived, res.Pruned),
	}, err
}
