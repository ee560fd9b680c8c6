package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/DefectiveCube/XPlaneGen/internal/record"
)

var ErrInvalidHeader = errors.New("invalid artifact header")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// isZlibHeader checks the RFC 1950 CMF/FLG pair: deflate method and a
// header checksum divisible by 31.
func isZlibHeader(b []byte) bool {
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// Iterator walks the records of an artifact in stored order.
type Iterator[T any, PT record.Ptr[T]] struct {
	file  *os.File
	zr    io.ReadCloser
	r     *bufio.Reader
	frame []byte
	cur   T
	err   error
}

// Open opens an artifact and detects its codec from the magic bytes.
func Open[T any, PT record.Ptr[T]](path string) (*Iterator[T, PT], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	// Every supported stream is at least 4 bytes long.
	magic, err := br.Peek(len(zstdMagic))
	if err != nil {
		f.Close()
		return nil, ErrInvalidHeader
	}

	var zr io.ReadCloser
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		zr, err = gzip.NewReader(br)
	case bytes.HasPrefix(magic, zstdMagic):
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(br)
		if err == nil {
			zr = dec.IOReadCloser()
		}
	case isZlibHeader(magic):
		zr, err = zlib.NewReader(br)
	default:
		err = ErrInvalidHeader
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Iterator[T, PT]{
		file: f,
		zr:   zr,
		r:    bufio.NewReader(zr),
	}, nil
}

// Next decodes the next record. It returns false at the end of the stream
// or on error; check Err afterwards.
func (it *Iterator[T, PT]) Next() bool {
	if it.err != nil {
		return false
	}

	var hdr [record.FrameHeaderSize]byte
	if _, err := io.ReadFull(it.r, hdr[:]); err != nil {
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}

	size := int(binary.LittleEndian.Uint16(hdr[:]))
	if cap(it.frame) < len(hdr)+size {
		it.frame = make([]byte, len(hdr)+size)
	}
	it.frame = it.frame[:len(hdr)+size]
	copy(it.frame, hdr[:])
	if _, err := io.ReadFull(it.r, it.frame[len(hdr):]); err != nil {
		it.err = err
		return false
	}

	it.cur = *new(T)
	if _, err := PT(&it.cur).UnmarshalBinary(it.frame); err != nil {
		it.err = err
		return false
	}
	return true
}

// Record returns the current record. It is overwritten by the next call to
// Next.
func (it *Iterator[T, PT]) Record() PT {
	return PT(&it.cur)
}

func (it *Iterator[T, PT]) Err() error {
	return it.err
}

func (it *Iterator[T, PT]) Close() error {
	zerr := it.zr.Close()
	if err := it.file.Close(); err != nil {
		return err
	}
	return zerr
}

// ReadAll decodes every record of the artifact at path.
func ReadAll[T any, PT record.Ptr[T]](path string) ([]T, error) {
	it, err := Open[T, PT](path)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []T
	for it.Next() {
		out = append(out, it.cur)
	}
	return out, it.Err()
}
