package pe

import (
	"strings"

	"github.com/pkg/errors"
)

const exportDirectoryLen = 40

// ExportDirectory represents the PE export directory table.
type ExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// FindExport reports whether the image exports symbol by name. The
// comparison is case-insensitive. An image without an export directory
// exports nothing.
func (img *Image) FindExport(symbol string) (bool, error) {
	found := false
	err := img.walkExportNames(func(name string) bool {
		if strings.EqualFold(name, symbol) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// ExportNames returns every exported name in name-table order.
func (img *Image) ExportNames() ([]string, error) {
	var names []string
	err := img.walkExportNames(func(name string) bool {
		names = append(names, name)
		return true
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// walkExportNames calls fn for each exported name until fn returns false.
func (img *Image) walkExportNames(fn func(string) bool) error {
	if !img.isPE {
		return nil
	}
	dir := img.dirs[DirExport]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}

	off, err := img.Rva2Offset(dir.VirtualAddress)
	if err != nil {
		return errors.WithMessage(err, "无法定位导出表")
	}
	var exp ExportDirectory
	if err := readStruct(img.src, off, exportDirectoryLen, &exp); err != nil {
		return errors.WithMessage(err, "读取导出目录失败")
	}
	if exp.NumberOfNames == 0 || exp.AddressOfNames == 0 {
		return nil
	}

	namesOff, err := img.Rva2Offset(exp.AddressOfNames)
	if err != nil {
		return errors.WithMessage(err, "无法定位导出名称表")
	}
	for i := int64(0); i < int64(exp.NumberOfNames); i++ {
		nameRVA, err := readU32(img.src, namesOff+i*4)
		if err != nil {
			return errors.WithMessage(err, "读取导出名称指针失败")
		}
		name, err := img.stringAt(nameRVA)
		if err != nil {
			return errors.WithMessagef(err, "读取导出名称 %d 失败", i)
		}
		if !fn(name) {
			return nil
		}
	}
	return nil
}
