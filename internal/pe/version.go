package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/pkg/errors"
)

const (
	versionHeaderLen  = 6 // wLength, wValueLength, wType
	fixedFileInfoLen  = 52
	fixedFileInfoSig  = 0xFEEF04BD
	versionInfoKey    = "VS_VERSION_INFO"
	stringFileInfoKey = "StringFileInfo"
	varFileInfoKey    = "VarFileInfo"
)

// FixedFileInfo is VS_FIXEDFILEINFO.
type FixedFileInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

// FileVersion formats the binary file version as a.b.c.d.
func (f FixedFileInfo) FileVersion() string {
	return fmt.Sprintf("%d.%d.%d.%d", f.FileVersionMS>>16, f.FileVersionMS&0xFFFF, f.FileVersionLS>>16, f.FileVersionLS&0xFFFF)
}

// ProductVersion formats the binary product version as a.b.c.d.
func (f FixedFileInfo) ProductVersion() string {
	return fmt.Sprintf("%d.%d.%d.%d", f.ProductVersionMS>>16, f.ProductVersionMS&0xFFFF, f.ProductVersionLS>>16, f.ProductVersionLS&0xFFFF)
}

// VersionInfo is the decoded content of every RT_VERSION leaf.
type VersionInfo struct {
	// Fixed holds one entry per leaf that carried a VS_FIXEDFILEINFO.
	Fixed []FixedFileInfo
	// Lines are "StringFileInfo for LangId: <id>", "<key> -> <value>" and
	// "VarFileInfo" in encounter order.
	Lines []string
}

// VersionInfo decodes the version resources of the image. An image without
// resources yields an empty result.
func (img *Image) VersionInfo() (*VersionInfo, error) {
	info := &VersionInfo{}
	isVersion := func(id ResourceID) bool {
		return id.Name == "" && ResourceType(id.ID) == RT_VERSION
	}
	err := img.walkResources(isVersion, func(leaf ResourceLeaf) error {
		data, err := img.src.Slice(leaf.Offset, int64(leaf.Size))
		if err != nil {
			return errors.WithMessage(err, "读取版本资源失败")
		}
		return parseVersionInfo(data, info)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// versionReader walks a VS_VERSION_INFO block. Alignment is relative to the
// start of the block.
type versionReader struct {
	data []byte
	pos  int
}

func (r *versionReader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return errors.Wrapf(ErrOutOfRange, "版本资源偏移 %d+%d 超出长度 %d", r.pos, n, len(r.data))
	}
	return nil
}

func (r *versionReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// header reads wLength, wValueLength and wType.
func (r *versionReader) header() (length, valueLength uint16, err error) {
	if err := r.need(versionHeaderLen); err != nil {
		return 0, 0, err
	}
	length = binary.LittleEndian.Uint16(r.data[r.pos:])
	valueLength = binary.LittleEndian.Uint16(r.data[r.pos+2:])
	r.pos += versionHeaderLen
	return length, valueLength, nil
}

// utf16z reads a NUL-terminated UTF-16LE string.
func (r *versionReader) utf16z() (string, error) {
	var u []uint16
	for {
		c, err := r.u16()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(utf16.Decode(u)), nil
		}
		u = append(u, c)
	}
}

func (r *versionReader) align() {
	r.pos = AlignUp(r.pos, 4)
}

// block reads a child header and its key, leaving the reader aligned at
// the child's value. It returns the child's end offset.
func (r *versionReader) block(limit int) (key string, valueLength uint16, end int, err error) {
	start := r.pos
	length, valueLength, err := r.header()
	if err != nil {
		return "", 0, 0, err
	}
	if int(length) < versionHeaderLen {
		return "", 0, 0, errors.Wrapf(ErrOutOfRange, "版本资源块长度 %d 无效", length)
	}
	end = start + int(length)
	if end > limit {
		return "", 0, 0, errors.Wrapf(ErrOutOfRange, "版本资源块结束于 %d，超出上级长度 %d", end, limit)
	}
	key, err = r.utf16z()
	if err != nil {
		return "", 0, 0, err
	}
	r.align()
	return key, valueLength, end, nil
}

func parseVersionInfo(data []byte, info *VersionInfo) error {
	r := &versionReader{data: data}
	key, valueLength, end, err := r.block(len(data))
	if err != nil {
		return err
	}
	if key != versionInfoKey {
		return errors.Wrapf(ErrBadBlockName, "期望 %s，实际为 %q", versionInfoKey, key)
	}

	if valueLength != 0 {
		if valueLength < fixedFileInfoLen {
			return errors.Wrapf(ErrOutOfRange, "VS_FIXEDFILEINFO 长度 %d 过短", valueLength)
		}
		if err := r.need(int(valueLength)); err != nil {
			return err
		}
		var fixed FixedFileInfo
		if err := binary.Read(bytes.NewReader(r.data[r.pos:r.pos+fixedFileInfoLen]), binary.LittleEndian, &fixed); err != nil {
			return errors.Wrap(err, "读取VS_FIXEDFILEINFO失败")
		}
		if fixed.Signature == fixedFileInfoSig {
			info.Fixed = append(info.Fixed, fixed)
		}
		r.pos += int(valueLength)
		r.align()
	}

	for r.pos < end {
		name, _, childEnd, err := r.block(end)
		if err != nil {
			return err
		}
		switch name {
		case stringFileInfoKey:
			if err := r.stringFileInfo(childEnd, info); err != nil {
				return err
			}
		case varFileInfoKey:
			info.Lines = append(info.Lines, varFileInfoKey)
		default:
			return errors.Wrapf(ErrBadBlockName, "%q", name)
		}
		r.pos = childEnd
		r.align()
	}
	return nil
}

// stringFileInfo decodes each language table and its key/value pairs.
func (r *versionReader) stringFileInfo(end int, info *VersionInfo) error {
	for r.pos < end {
		langID, _, tableEnd, err := r.block(end)
		if err != nil {
			return err
		}
		info.Lines = append(info.Lines, fmt.Sprintf("%s for LangId: %s", stringFileInfoKey, langID))

		for r.pos < tableEnd {
			key, _, pairEnd, err := r.block(tableEnd)
			if err != nil {
				return err
			}
			value := ""
			if r.pos < pairEnd {
				value = decodeUTF16(r.data[r.pos:pairEnd])
			}
			info.Lines = append(info.Lines, fmt.Sprintf("%s -> %s", key, value))
			r.pos = AlignUp(pairEnd, 4)
		}
		r.pos = AlignUp(tableEnd, 4)
	}
	return nil
}

// decodeUTF16 decodes UTF-16LE up to the first NUL or the end of b.
func decodeUTF16(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}
