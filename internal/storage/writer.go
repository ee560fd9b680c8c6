package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Artifact codecs. gzip and zlib are DEFLATE streams; zstd is an extension
// that plain DEFLATE readers cannot open.
const (
	CodecGzip = "gzip"
	CodecZlib = "zlib"
	CodecZstd = "zstd"
)

// IsDeflate reports whether codec produces a DEFLATE-family stream.
func IsDeflate(codec string) bool {
	return codec == "" || codec == CodecGzip || codec == CodecZlib
}

// ArtifactWriter streams a serialized payload through a compressor into the
// artifact file.
type ArtifactWriter struct {
	codec string
}

// NewArtifactWriter returns a writer for codec ("" selects gzip).
func NewArtifactWriter(codec string) (*ArtifactWriter, error) {
	switch codec {
	case "":
		codec = CodecGzip
	case CodecGzip, CodecZlib, CodecZstd:
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
	return &ArtifactWriter{codec: codec}, nil
}

// Codec returns the compression codec in use.
func (aw *ArtifactWriter) Codec() string {
	return aw.codec
}

// Write compresses payload into path and returns the compressed size. The
// stream goes to a temporary file in the same directory that is renamed
// over path only once complete, so a failed write leaves neither a partial
// artifact nor a freshly created directory. Its signature matches
// engine.WriterFunc.
func (aw *ArtifactWriter) Write(path string, payload []byte) (n int64, err error) {
	dir := filepath.Dir(path)
	_, statErr := os.Stat(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		aw.cleanup("", dir, statErr)
		return 0, err
	}
	defer func() {
		if err != nil {
			f.Close()
			aw.cleanup(f.Name(), dir, statErr)
		}
	}()

	cw := &countingWriter{w: f}
	zw, err := aw.compressor(cw)
	if err != nil {
		return 0, err
	}

	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return 0, err
	}
	// Close flushes the trailer; the count is only final after it.
	if err := zw.Close(); err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return 0, err
	}
	return cw.n, nil
}

// cleanup removes the temporary file and, if Write created it, the now
// empty directory.
func (aw *ArtifactWriter) cleanup(tmp, dir string, statErr error) {
	if tmp != "" {
		os.Remove(tmp)
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		os.Remove(dir)
	}
}

func (aw *ArtifactWriter) compressor(w io.Writer) (io.WriteCloser, error) {
	switch aw.codec {
	case CodecGzip:
		return gzip.NewWriter(w), nil
	case CodecZlib:
		return zlib.NewWriter(w), nil
	case CodecZstd:
		// An empty payload must still produce a readable frame.
		return zstd.NewWriter(w, zstd.WithZeroFrames(true))
	}
	return nil, fmt.Errorf("unknown codec %q", aw.codec)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
