// Package pe parses PE/COFF images: headers, sections, data directories,
// imports, exports and the version resource.
package pe

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	dosMagic      = 0x5A4D     // "MZ"
	peSignature   = 0x00004550 // "PE\0\0"
	lfanewOffset  = 60
	fileHeaderLen = 20
	sectionLen    = 40
	corHeaderLen  = 72

	optMagic32 = 0x10B
	optMagic64 = 0x20B

	file32BitMachine = 0x0100
	fileDLL          = 0x2000

	comImageILOnly = 0x00000001
)

// FileImageFlags summarises what kind of image a file is.
type FileImageFlags uint8

// Image flags.
const (
	IsExe FileImageFlags = 1 << iota
	IsDll
	Is32
	Is64
	IsClr
)

func (f FileImageFlags) String() string {
	if f == 0 {
		return "None"
	}
	names := []string{"IsExe", "IsDll", "Is32", "Is64", "IsClr"}
	var parts []string
	for i, name := range names {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

// DirectoryID indexes the optional header's data directory array.
type DirectoryID int

// Data directory indices.
const (
	DirExport DirectoryID = iota
	DirImport
	DirResource
	DirException
	DirSecurity
	DirBaseReloc
	DirDebug
	DirArchitecture
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirCLR

	NumDirectories = 16
)

// DataDirectory locates a well-known structure inside the image.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// FileHeader is the COFF header that follows the PE signature.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// OptionalHeader holds the optional-header fields this package consumes.
type OptionalHeader struct {
	Magic               uint16
	AddressOfEntryPoint uint32
	ImageBase           uint64
	CheckSum            uint32
	Subsystem           uint16
	NumberOfRvaAndSizes uint32
}

// SectionHeader is one 40-byte entry of the section table.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// NameString returns the section name without NUL padding.
func (s SectionHeader) NameString() string {
	n := 0
	for n < len(s.Name) && s.Name[n] != 0 {
		n++
	}
	return string(s.Name[:n])
}

func (s SectionHeader) contains(rva uint32) bool {
	return s.VirtualAddress <= rva && uint64(rva) < uint64(s.VirtualAddress)+uint64(s.SizeOfRawData)
}

// ManagedHeader is the COR20 header of a managed image.
type ManagedHeader struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                DataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               DataDirectory
	StrongNameSignature     DataDirectory
	CodeManagerTable        DataDirectory
	VTableFixups            DataDirectory
	ExportAddressTableJumps DataDirectory
	ManagedNativeHeader     DataDirectory
}

// ILOnly reports whether the image contains only IL code.
func (h *ManagedHeader) ILOnly() bool {
	return h.Flags&comImageILOnly != 0
}

// Image is a parsed PE file. A file without the MZ or PE signature is not an
// error: the image reports IsPE() == false and empty flags.
type Image struct {
	src      ByteSource
	filepath string

	isPE      bool
	flags     FileImageFlags
	header    FileHeader
	optional  OptionalHeader
	optOffset int64
	dirs      [NumDirectories]DataDirectory
	sections  []SectionHeader
	managed   *ManagedHeader
}

// Open maps a file and parses its headers. The returned image owns the
// file mapping until Close.
func Open(filepath string) (*Image, error) {
	src, err := OpenSource(filepath)
	if err != nil {
		return nil, err
	}
	img, err := NewImage(src)
	if err != nil {
		_ = src.Close()
		return nil, errors.WithMessagef(err, "解析 %s 失败", filepath)
	}
	img.filepath = filepath
	return img, nil
}

// NewImage parses the headers of src. Close on the image closes src.
func NewImage(src ByteSource) (*Image, error) {
	img := &Image{src: src}
	if err := img.parse(); err != nil {
		return nil, err
	}
	return img, nil
}

// Close releases the underlying byte source.
func (img *Image) Close() error {
	return img.src.Close()
}

// Source returns the underlying byte source.
func (img *Image) Source() ByteSource {
	return img.src
}

// FilePath returns the path the image was opened from, if any.
func (img *Image) FilePath() string {
	return img.filepath
}

// FileSize returns the file size in bytes.
func (img *Image) FileSize() int64 {
	return img.src.Len()
}

// IsPE reports whether both the MZ and PE signatures were found.
func (img *Image) IsPE() bool { return img.isPE }

// Flags returns the image kind, bitness and managed flags.
func (img *Image) Flags() FileImageFlags { return img.flags }

// FileHeader returns the COFF header.
func (img *Image) FileHeader() FileHeader { return img.header }

// Machine returns the COFF machine type.
func (img *Image) Machine() uint16 { return img.header.Machine }

// OptionalHeader returns the decoded optional-header fields.
func (img *Image) OptionalHeader() OptionalHeader { return img.optional }

// Sections returns the section table in file order.
func (img *Image) Sections() []SectionHeader { return img.sections }

// DataDirectory returns the directory entry for id, or a zero entry.
func (img *Image) DataDirectory(id DirectoryID) DataDirectory {
	if id < 0 || id >= NumDirectories {
		return DataDirectory{}
	}
	return img.dirs[id]
}

// ManagedHeader returns the COR20 header, or nil for native images.
func (img *Image) ManagedHeader() *ManagedHeader { return img.managed }

// IsPureManaged reports whether the image is IL-only managed code.
func (img *Image) IsPureManaged() bool {
	return img.managed != nil && img.managed.ILOnly()
}

// Rva2Offset translates an RVA to a file offset using the first section
// whose [VirtualAddress, VirtualAddress+SizeOfRawData) contains it.
func (img *Image) Rva2Offset(rva uint32) (int64, error) {
	for _, s := range img.sections {
		if s.contains(rva) {
			return int64(s.PointerToRawData) + int64(rva-s.VirtualAddress), nil
		}
	}
	return 0, errors.Wrapf(ErrAddressTranslation, "RVA 0x%X", rva)
}

func (img *Image) parse() error {
	magic, err := readU16(img.src, 0)
	if err != nil || magic != dosMagic {
		return nil
	}
	lfanew, err := readU32(img.src, lfanewOffset)
	if err != nil {
		return errors.WithMessage(err, "读取DOS头失败")
	}
	sig, err := readU32(img.src, int64(lfanew))
	if err != nil {
		return errors.WithMessage(err, "读取PE签名失败")
	}
	if sig != peSignature {
		return nil
	}
	img.isPE = true

	headerOffset := int64(lfanew) + 4
	if err := readStruct(img.src, headerOffset, fileHeaderLen, &img.header); err != nil {
		return errors.WithMessage(err, "读取COFF头失败")
	}
	if img.header.Characteristics&fileDLL != 0 {
		img.flags |= IsDll
	} else {
		img.flags |= IsExe
	}
	if img.header.Characteristics&file32BitMachine != 0 {
		img.flags |= Is32
	} else {
		img.flags |= Is64
	}

	img.optOffset = headerOffset + fileHeaderLen
	if err := img.parseOptionalHeader(); err != nil {
		return err
	}
	if err := img.parseSections(); err != nil {
		return err
	}

	clr := img.dirs[DirCLR]
	if clr.VirtualAddress != 0 {
		img.flags |= IsClr
		off, err := img.Rva2Offset(clr.VirtualAddress)
		if err != nil {
			return errors.WithMessage(err, "定位CLR头失败")
		}
		var hdr ManagedHeader
		if err := readStruct(img.src, off, corHeaderLen, &hdr); err != nil {
			return errors.WithMessage(err, "读取CLR头失败")
		}
		img.managed = &hdr
	}
	return nil
}

// parseOptionalHeader decides the layout from the optional header's own
// magic, not from the COFF 32-bit flag; the two disagree on some toolchains.
func (img *Image) parseOptionalHeader() error {
	opt := &img.optional
	off := img.optOffset

	magic, err := readU16(img.src, off)
	if err != nil {
		return errors.WithMessage(err, "读取可选头失败")
	}
	opt.Magic = magic

	var dirOffset, countOffset int64
	switch magic {
	case optMagic32:
		base, err := readU32(img.src, off+28)
		if err != nil {
			return errors.WithMessage(err, "读取可选头失败")
		}
		opt.ImageBase = uint64(base)
		countOffset, dirOffset = off+92, off+96
	case optMagic64:
		base, err := readU64(img.src, off+24)
		if err != nil {
			return errors.WithMessage(err, "读取可选头失败")
		}
		opt.ImageBase = base
		countOffset, dirOffset = off+108, off+112
	default:
		return errors.Wrapf(ErrBadOptionalHeader, "0x%X", magic)
	}

	fields := []struct {
		off int64
		u32 *uint32
		u16 *uint16
	}{
		{off: off + 16, u32: &opt.AddressOfEntryPoint},
		{off: off + 64, u32: &opt.CheckSum},
		{off: off + 68, u16: &opt.Subsystem},
		{off: countOffset, u32: &opt.NumberOfRvaAndSizes},
	}
	for _, f := range fields {
		if f.u32 != nil {
			v, err := readU32(img.src, f.off)
			if err != nil {
				return errors.WithMessage(err, "读取可选头失败")
			}
			*f.u32 = v
			continue
		}
		v, err := readU16(img.src, f.off)
		if err != nil {
			return errors.WithMessage(err, "读取可选头失败")
		}
		*f.u16 = v
	}

	n := int(opt.NumberOfRvaAndSizes)
	if n > NumDirectories {
		n = NumDirectories
	}
	for i := 0; i < n; i++ {
		if err := readStruct(img.src, dirOffset+int64(i)*8, 8, &img.dirs[i]); err != nil {
			return errors.WithMessagef(err, "读取数据目录 %d 失败", i)
		}
	}
	return nil
}

func (img *Image) parseSections() error {
	off := img.optOffset + int64(img.header.SizeOfOptionalHeader)
	img.sections = make([]SectionHeader, img.header.NumberOfSections)
	for i := range img.sections {
		if err := readStruct(img.src, off+int64(i)*sectionLen, sectionLen, &img.sections[i]); err != nil {
			return errors.WithMessagef(err, "读取节区头 %d 失败", i)
		}
	}
	return nil
}

// checksumOffset is the file offset of the optional header's CheckSum field.
func (img *Image) checksumOffset() int64 {
	return img.optOffset + 64
}

func (img *Image) String() string {
	if !img.isPE {
		return "非PE文件"
	}
	return fmt.Sprintf("%s (%d 个节区)", img.flags, len(img.sections))
}
