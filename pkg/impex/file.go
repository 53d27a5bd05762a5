package impex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// FormatFromPath picks the format from a file name. A trailing .gz or .zst
// is ignored.
func FormatFromPath(path string) (Format, error) {
	name := strings.ToLower(path)
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zst")
	switch filepath.Ext(name) {
	case ".json":
		return FormatJSON, nil
	case ".ndjson", ".jsonl":
		return FormatNDJSON, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("cannot infer format of %s; use .json, .ndjson, .jsonl or .csv", path)
	}
}

type multiCloser struct {
	io.Reader
	io.Writer
	closers []func() error
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenFile opens path for reading, decompressing .gz and .zst files
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		return &multiCloser{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open zstd stream %s: %w", path, err)
		}
		return &multiCloser{Reader: zr, closers: []func() error{func() error { zr.Close(); return nil }, f.Close}}, nil
	default:
		return f, nil
	}
}

// CreateFile creates path for writing, compressing .gz and .zst files.
// Close flushes the compressor before closing the file.
func CreateFile(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		zw := gzip.NewWriter(f)
		return &multiCloser{Writer: zw, closers: []func() error{zw.Close, f.Close}}, nil
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd stream %s: %w", path, err)
		}
		return &multiCloser{Writer: zw, closers: []func() error{zw.Close, f.Close}}, nil
	default:
		return f, nil
	}
}
