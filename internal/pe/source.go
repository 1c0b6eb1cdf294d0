package pe

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ByteSource is read-only, bounds-checked random access to a file's bytes.
type ByteSource interface {
	io.ReaderAt
	// Len returns the number of bytes in the source.
	Len() int64
	// Slice returns n bytes starting at off without copying when possible.
	Slice(off, n int64) ([]byte, error)
	Close() error
}

// bytesSource serves reads from a byte slice. It backs both in-memory
// buffers and mapped files.
type bytesSource struct {
	data    []byte
	release func([]byte) error
}

// NewBytesSource wraps data as a ByteSource. The slice must not be modified
// while the source is in use.
func NewBytesSource(data []byte) ByteSource {
	return &bytesSource{data: data}
}

func (s *bytesSource) Len() int64 {
	return int64(len(s.data))
}

func (s *bytesSource) Slice(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off > int64(len(s.data)) || n > int64(len(s.data))-off {
		return nil, errors.Wrapf(ErrOutOfRange, "读取 [0x%X, +%d) 超出文件长度 %d", off, n, len(s.data))
	}
	return s.data[off : off+n : off+n], nil
}

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s.data)) {
		if off == int64(len(s.data)) && len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *bytesSource) Close() error {
	if s.release == nil || s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return s.release(data)
}

func readU16(src ByteSource, off int64) (uint16, error) {
	b, err := src.Slice(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func readU32(src ByteSource, off int64) (uint32, error) {
	b, err := src.Slice(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func readU64(src ByteSource, off int64) (uint64, error) {
	b, err := src.Slice(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readStruct decodes a fixed little-endian layout at off.
func readStruct(src ByteSource, off int64, size int, v any) error {
	if _, err := src.Slice(off, int64(size)); err != nil {
		return err
	}
	return binary.Read(io.NewSectionReader(src, off, int64(size)), binary.LittleEndian, v)
}

// readCString reads a NUL-terminated string of at most maxCString bytes.
// A string running into the end of the source is an error.
func readCString(src ByteSource, off int64) (string, error) {
	if off < 0 || off >= src.Len() {
		return "", errors.Wrapf(ErrOutOfRange, "字符串偏移 0x%X 超出文件长度", off)
	}
	n := src.Len() - off
	if n > maxCString {
		n = maxCString
	}
	b, err := src.Slice(off, n)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return "", errors.Wrapf(ErrOutOfRange, "偏移 0x%X 处的字符串未终止", off)
}

const maxCString = 4096
