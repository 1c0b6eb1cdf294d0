// Package clr reads CLI metadata: the metadata root, its heaps and the
// #~ table stream.
package clr

import (
	"encoding/binary"
	"sync"
	"unicode/utf16"

	"github.com/ZacharyZcR/PEDeps/internal/pe"
	"github.com/pkg/errors"
)

const (
	metadataSignature = 0x424A5342 // "BSJB"
	maxStreams        = 64
)

// Stream names.
const (
	StreamTables     = "#~"
	StreamStrings    = "#Strings"
	StreamUserString = "#US"
	StreamGUID       = "#GUID"
	StreamBlob       = "#Blob"
)

// StreamHeader locates one stream relative to the metadata root.
type StreamHeader struct {
	Offset uint32
	Size   uint32
	Name   string
}

// Metadata is a parsed metadata root. Table contents are decoded on the
// first call to Tables.
type Metadata struct {
	MajorVersion uint16
	MinorVersion uint16
	Version      string
	Flags        uint8
	Streams      []StreamHeader

	tablesData []byte
	strings    []byte
	userString []byte
	guids      []byte
	blobs      []byte

	once      sync.Once
	tables    *Tables
	tablesErr error
}

// FromImage slices the metadata blob out of a managed image and parses it.
func FromImage(img *pe.Image) (*Metadata, error) {
	h := img.ManagedHeader()
	if h == nil || h.MetaData.VirtualAddress == 0 {
		return nil, errors.Wrap(ErrMissingStream, "映像不包含托管元数据")
	}
	off, err := img.Rva2Offset(h.MetaData.VirtualAddress)
	if err != nil {
		return nil, errors.WithMessage(err, "定位元数据失败")
	}
	data, err := img.Source().Slice(off, int64(h.MetaData.Size))
	if err != nil {
		return nil, errors.WithMessage(err, "读取元数据失败")
	}
	return Parse(data)
}

// Parse reads the metadata root and stream headers from data.
func Parse(data []byte) (*Metadata, error) {
	r := &reader{data: data}
	sig, err := r.u32()
	if err != nil {
		return nil, err
	}
	if sig != metadataSignature {
		return nil, errors.Wrapf(ErrBadSignature, "0x%08X", sig)
	}

	md := &Metadata{}
	if md.MajorVersion, err = r.u16(); err != nil {
		return nil, err
	}
	if md.MinorVersion, err = r.u16(); err != nil {
		return nil, err
	}
	if _, err = r.u32(); err != nil {
		return nil, err
	}
	verLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	ver, err := r.bytes(int(verLen))
	if err != nil {
		return nil, errors.WithMessage(err, "读取元数据版本失败")
	}
	md.Version = cstring(ver)
	r.pos = pe.AlignUp(r.pos, 4)

	if md.Flags, err = r.u8(); err != nil {
		return nil, err
	}
	if _, err = r.u8(); err != nil {
		return nil, err
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	if count > maxStreams {
		return nil, errors.Wrapf(ErrOutOfRange, "流数量 %d 过大", count)
	}

	for i := 0; i < int(count); i++ {
		var h StreamHeader
		if h.Offset, err = r.u32(); err != nil {
			return nil, err
		}
		if h.Size, err = r.u32(); err != nil {
			return nil, err
		}
		if h.Name, err = r.alignedString(); err != nil {
			return nil, errors.WithMessage(err, "读取流名称失败")
		}
		if uint64(h.Offset)+uint64(h.Size) > uint64(len(data)) {
			return nil, errors.Wrapf(ErrOutOfRange, "流 %s [0x%X, +0x%X) 超出元数据长度 0x%X", h.Name, h.Offset, h.Size, len(data))
		}
		body := data[h.Offset : h.Offset+h.Size]

		switch h.Name {
		case StreamTables:
			md.tablesData = body
		case StreamStrings:
			md.strings = body
		case StreamUserString:
			md.userString = body
		case StreamGUID:
			md.guids = body
		case StreamBlob:
			md.blobs = body
		default:
			return nil, errors.Wrapf(ErrUnknownStream, "%q", h.Name)
		}
		md.Streams = append(md.Streams, h)
	}
	return md, nil
}

// Tables parses the #~ stream header on first use and returns the table
// set. Later calls return the same result.
func (md *Metadata) Tables() (*Tables, error) {
	md.once.Do(func() {
		md.tables, md.tablesErr = parseTables(md)
	})
	return md.tables, md.tablesErr
}

// String returns the NUL-terminated string at off in the #Strings heap.
func (md *Metadata) String(off uint32) (string, error) {
	if off == 0 && len(md.strings) == 0 {
		return "", nil
	}
	if int64(off) >= int64(len(md.strings)) {
		return "", errors.Wrapf(ErrHeapOffset, "#Strings 偏移 0x%X 超出大小 0x%X", off, len(md.strings))
	}
	b := md.strings[off:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return "", errors.Wrapf(ErrHeapOffset, "#Strings 偏移 0x%X 处字符串未终止", off)
}

// Blob returns the blob at off in the #Blob heap, without its length prefix.
// The slice aliases the metadata bytes and is valid while they are.
func (md *Metadata) Blob(off uint32) ([]byte, error) {
	return heapBlob(md.blobs, off, StreamBlob)
}

// UserString returns the string literal at off in the #US heap.
func (md *Metadata) UserString(off uint32) (string, error) {
	b, err := heapBlob(md.userString, off, StreamUserString)
	if err != nil {
		return "", err
	}
	// The trailing byte flags non-ASCII content.
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(u)), nil
}

// GUID returns the GUID at the 1-based index. Index 0 is the null GUID.
func (md *Metadata) GUID(index uint32) ([16]byte, error) {
	var g [16]byte
	if index == 0 {
		return g, nil
	}
	if uint64(index)*16 > uint64(len(md.guids)) {
		return g, errors.Wrapf(ErrHeapOffset, "#GUID 索引 %d 超出 %d 项", index, len(md.guids)/16)
	}
	copy(g[:], md.guids[(index-1)*16:])
	return g, nil
}

func heapBlob(heap []byte, off uint32, name string) ([]byte, error) {
	if off == 0 && len(heap) == 0 {
		return nil, nil
	}
	if int64(off) >= int64(len(heap)) {
		return nil, errors.Wrapf(ErrHeapOffset, "%s 偏移 0x%X 超出大小 0x%X", name, off, len(heap))
	}
	r := &reader{data: heap, pos: int(off)}
	n, err := r.compressedUint()
	if err != nil {
		return nil, errors.WithMessagef(err, "%s 偏移 0x%X", name, off)
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return nil, errors.WithMessagef(err, "%s 偏移 0x%X", name, off)
	}
	return b, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// reader is a bounds-checked little-endian cursor.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) || r.pos+n < r.pos {
		return nil, errors.Wrapf(ErrOutOfRange, "偏移 0x%X+%d 超出长度 0x%X", r.pos, n, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// alignedString reads a NUL-terminated name padded to a 4-byte boundary.
func (r *reader) alignedString() (string, error) {
	start := r.pos
	for {
		c, err := r.u8()
		if err != nil {
			return "", err
		}
		if c == 0 {
			break
		}
	}
	s := string(r.data[start : r.pos-1])
	r.pos = start + pe.AlignUp(r.pos-start, 4)
	return s, nil
}

// compressedUint decodes an ECMA-335 compressed unsigned integer.
func (r *reader) compressedUint() (uint32, error) {
	b0, err := r.u8()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := r.u8()
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	default:
		rest, err := r.bytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	}
}
