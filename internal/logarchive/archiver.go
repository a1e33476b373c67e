package logarchive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrLogNotFound is returned when neither a live nor an archived log exists.
var ErrLogNotFound = errors.New("transcode log not found")

const (
	logPrefix     = "transcode-"
	logSuffix     = ".txt"
	defaultMinAge = time.Minute
)

// LogName is the file name of a job's log.
func LogName(jobID string) string {
	return logPrefix + jobID + logSuffix
}

// Result summarizes one archive run.
type Result struct {
	Archived int   `json:"archived"`
	Pruned   int   `json:"pruned"`
	BytesIn  int64 `json:"bytes_in"`
	BytesOut int64 `json:"bytes_out"`
}

// Archiver moves finished job logs from the log directory into compressed
// archives and prunes archives past their retention.
type Archiver struct {
	logDir     string
	archiveDir string
	format     Format
	retention  time.Duration
	minAge     time.Duration
	active     func() []string
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an archiver using brotli and no retention limit.
func New(logDir, archiveDir string) *Archiver {
	return &Archiver{
		logDir:     logDir,
		archiveDir: archiveDir,
		format:     FormatBrotli,
		minAge:     defaultMinAge,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// WithFormat sets the compression format for new archives.
func (a *Archiver) WithFormat(f Format) *Archiver {
	a.format = f
	return a
}

// WithRetention sets how long archives are kept. Zero keeps them forever.
func (a *Archiver) WithRetention(d time.Duration) *Archiver {
	a.retention = d
	return a
}

// WithMinAge leaves logs modified within d in place.
func (a *Archiver) WithMinAge(d time.Duration) *Archiver {
	a.minAge = d
	return a
}

// WithActiveLogs sets the source of log paths still being written.
func (a *Archiver) WithActiveLogs(fn func() []string) *Archiver {
	a.active = fn
	return a
}

// WithLogger sets the logger.
func (a *Archiver) WithLogger(logger *slog.Logger) *Archiver {
	a.logger = logger
	return a
}

// Run archives every finished log and prunes expired archives.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := os.MkdirAll(a.archiveDir, 0o755); err != nil {
		return res, fmt.Errorf("creating archive directory: %w", err)
	}

	entries, err := os.ReadDir(a.logDir)
	if err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("reading log directory: %w", err)
	}

	var active []string
	if a.active != nil {
		for _, p := range a.active() {
			active = append(active, filepath.Clean(p))
		}
	}
	cutoff := a.now().Add(-a.minAge)

	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		path := filepath.Join(a.logDir, name)
		if slices.Contains(active, path) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		out, err := a.archiveFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Archived++
		res.BytesIn += info.Size()
		res.BytesOut += out
	}

	pruned, err := a.prune()
	res.Pruned = pruned
	if err != nil {
		errs = append(errs, err)
	}

	a.logger.InfoContext(ctx, "transcode logs archived",
		slog.Int("archived", res.Archived),
		slog.Int("pruned", res.Pruned),
		slog.Int64("bytes_in", res.BytesIn),
		slog.Int64("bytes_out", res.BytesOut),
		slog.String("format", string(a.format)))
	return res, errors.Join(errs...)
}

// archiveFile compresses path into the archive directory and removes the
// original. The archive is written under a temporary name first.
func (a *Archiver) archiveFile(path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	dest := filepath.Join(a.archiveDir, filepath.Base(path)+a.format.Extension())
	tmp, err := os.CreateTemp(a.archiveDir, ".archive-*")
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw, err := a.format.newWriter(tmp)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		tmp.Close()
		return 0, fmt.Errorf("compressing %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("compressing %s: %w", path, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("storing archive: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return info.Size(), fmt.Errorf("removing archived log: %w", err)
	}
	return info.Size(), nil
}

func (a *Archiver) prune() (int, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(a.archiveDir)
	if err != nil {
		return 0, fmt.Errorf("reading archive directory: %w", err)
	}
	cutoff := a.now().Add(-a.retention)
	pruned := 0
	for _, e := range entries {
		if _, ok := formatForName(e.Name()); !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.archiveDir, e.Name())); err == nil {
			pruned++
		}
	}
	return pruned, nil
}

// Open returns a job's log, reading the live file when it still exists and
// decompressing the archive otherwise.
func (a *Archiver) Open(jobID string) (io.ReadCloser, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, ErrLogNotFound
	}
	name := LogName(jobID)

	if f, err := os.Open(filepath.Join(a.logDir, name)); err == nil {
		return f, nil
	}

	for _, f := range []Format{a.format, FormatBrotli, FormatXZ, FormatBzip2} {
		file, err := os.Open(filepath.Join(a.archiveDir, name+f.Extension()))
		if err != nil {
			continue
		}
		r, err := f.newReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		return readCloser{Reader: r, closer: file}, nil
	}
	return nil, ErrLogNotFound
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r readCloser) Close() error {
	return r.closer.Close()
}
