// Package logarchive compresses finished transcode logs and reads them back.
package logarchive

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Format is an archive compression format.
type Format string

// Supported formats.
const (
	FormatBrotli Format = "brotli"
	FormatXZ     Format = "xz"
	FormatBzip2  Format = "bzip2"
)

var extensions = map[Format]string{
	FormatBrotli: ".br",
	FormatXZ:     ".xz",
	FormatBzip2:  ".bz2",
}

// ParseFormat parses a format name. Empty selects brotli.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatBrotli, nil
	case FormatBrotli, FormatXZ, FormatBzip2:
		return f, nil
	default:
		return "", fmt.Errorf("unknown archive format %q", s)
	}
}

// Extension is the file suffix archives of this format carry.
func (f Format) Extension() string {
	return extensions[f]
}

func formatForName(name string) (Format, bool) {
	for f, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return f, true
		}
	}
	return "", false
}

func (f Format) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch f {
	case FormatBrotli:
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	case FormatXZ:
		return xz.NewWriter(w)
	case FormatBzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	default:
		return nil, fmt.Errorf("unknown archive format %q", f)
	}
}

func (f Format) newReader(r io.Reader) (io.Reader, error) {
	switch f {
	case FormatBrotli:
		return brotli.NewReader(r), nil
	case FormatXZ:
		return xz.NewReader(r)
	case FormatBzip2:
		return bzip2.NewReader(r, nil)
	default:
		return nil, fmt.Errorf("unknown archive format %q", f)
	}
}
