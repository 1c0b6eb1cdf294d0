package pe

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// RelocationInfo summarises the base relocation table.
type RelocationInfo struct {
	HasRelocations bool
	BlockCount     int
	TotalEntries   int
	// ByType counts entries per relocation type, padding included.
	ByType map[uint16]int
}

// IMAGE_BASE_RELOCATION.
type baseRelocationBlock struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
}

// Base relocation types.
const (
	relBasedAbsolute = 0
	relBasedHigh     = 1
	relBasedLow      = 2
	relBasedHighLow  = 3
	relBasedHighAdj  = 4
	relBasedARMMov32 = 5
	relBasedThumbMov = 7
	relBasedDir64    = 10
)

// maxRelocationBlock bounds SizeOfBlock: one page of 2-byte entries.
const maxRelocationBlock = 8 + 0x1000*2

// Relocations walks the base relocation blocks.
func (img *Image) Relocations() (*RelocationInfo, error) {
	info := &RelocationInfo{ByType: make(map[uint16]int)}
	dir := img.DataDirectory(DirBaseReloc)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return info, nil
	}
	info.HasRelocations = true

	off, err := img.Rva2Offset(dir.VirtualAddress)
	if err != nil {
		return info, errors.Wrap(err, "定位重定位表失败")
	}
	end := off + int64(dir.Size)

	for off+8 <= end {
		var block baseRelocationBlock
		if err := readStruct(img.src, off, 8, &block); err != nil {
			return info, errors.Wrap(err, "读取重定位块失败")
		}
		if block.SizeOfBlock == 0 {
			break
		}
		if block.SizeOfBlock < 8 || block.SizeOfBlock > maxRelocationBlock {
			return info, errors.Wrapf(ErrOutOfRange, "重定位块大小 %d 无效 (RVA 0x%X)", block.SizeOfBlock, block.VirtualAddress)
		}

		n := int(block.SizeOfBlock-8) / 2
		for i := 0; i < n; i++ {
			entry, err := readU16(img.src, off+8+int64(i)*2)
			if err != nil {
				return info, errors.Wrap(err, "读取重定位项失败")
			}
			info.ByType[entry>>12]++
		}
		info.TotalEntries += n
		info.BlockCount++
		off += int64(block.SizeOfBlock)
	}
	return info, nil
}

// Types returns the relocation types present, in ascending order.
func (r *RelocationInfo) Types() []uint16 {
	types := make([]uint16, 0, len(r.ByType))
	for t := range r.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// RelocationTypeName returns the name of a relocation type.
func RelocationTypeName(relocType uint16) string {
	switch relocType {
	case relBasedAbsolute:
		return "ABSOLUTE"
	case relBasedHigh:
		return "HIGH"
	case relBasedLow:
		return "LOW"
	case relBasedHighLow:
		return "HIGHLOW"
	case relBasedHighAdj:
		return "HIGHADJ"
	case relBasedARMMov32:
		return "ARM_MOV32"
	case relBasedThumbMov:
		return "THUMB_MOV32"
	case relBasedDir64:
		return "DIR64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", relocType)
	}
}
