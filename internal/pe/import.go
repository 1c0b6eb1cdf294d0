package pe

import (
	"github.com/pkg/errors"
)

const (
	importDescriptorLen      = 20
	delayImportDescriptorLen = 32
	maxThunks                = 1 << 16
)

// ImportDescriptor represents IMAGE_IMPORT_DESCRIPTOR.
type ImportDescriptor struct {
	OriginalFirstThunk uint32 // RVA to Import Name Table (INT). Zero terminates the array.
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32 // RVA to DLL name.
	FirstThunk         uint32 // RVA to Import Address Table (IAT).
}

// DelayImportDescriptor represents IMAGE_DELAYLOAD_DESCRIPTOR.
type DelayImportDescriptor struct {
	Attributes                 uint32 // Zero terminates the array.
	Name                       uint32
	ModuleHandleRVA            uint32
	ImportAddressTableRVA      uint32
	ImportNameTableRVA         uint32
	BoundImportAddressTableRVA uint32
	UnloadInformationTableRVA  uint32
	TimeDateStamp              uint32
}

// Import is one imported module, either load-time or delay-loaded.
type Import struct {
	Name    string
	Delayed bool

	nameTable uint32
}

// ImportFunction is one entry of an import name table.
type ImportFunction struct {
	Name      string
	Hint      uint16
	Ordinal   uint16
	ByOrdinal bool
}

// Imports returns the normal imports followed by the delay-load imports,
// each in declaration order.
func (img *Image) Imports() ([]Import, error) {
	if !img.isPE {
		return nil, nil
	}
	imports, err := img.readImports()
	if err != nil {
		return nil, err
	}
	delayed, err := img.readDelayImports()
	if err != nil {
		return nil, err
	}
	return append(imports, delayed...), nil
}

func (img *Image) readImports() ([]Import, error) {
	dir := img.dirs[DirImport]
	if dir.VirtualAddress == 0 {
		return nil, nil
	}
	off, err := img.Rva2Offset(dir.VirtualAddress)
	if err != nil {
		return nil, errors.WithMessage(err, "定位导入表失败")
	}

	var imports []Import
	for ; ; off += importDescriptorLen {
		var desc ImportDescriptor
		if err := readStruct(img.src, off, importDescriptorLen, &desc); err != nil {
			return nil, errors.WithMessage(err, "读取导入描述符失败")
		}
		if desc.OriginalFirstThunk == 0 {
			break
		}
		name, err := img.stringAt(desc.Name)
		if err != nil {
			return nil, errors.WithMessage(err, "读取导入DLL名称失败")
		}
		imports = append(imports, Import{Name: name, nameTable: desc.OriginalFirstThunk})
	}
	return imports, nil
}

func (img *Image) readDelayImports() ([]Import, error) {
	dir := img.dirs[DirDelayImport]
	if dir.VirtualAddress == 0 {
		return nil, nil
	}
	off, err := img.Rva2Offset(dir.VirtualAddress)
	if err != nil {
		return nil, errors.WithMessage(err, "定位延迟导入表失败")
	}

	var imports []Import
	for ; ; off += delayImportDescriptorLen {
		var desc DelayImportDescriptor
		if err := readStruct(img.src, off, delayImportDescriptorLen, &desc); err != nil {
			return nil, errors.WithMessage(err, "读取延迟导入描述符失败")
		}
		if desc.Attributes == 0 {
			break
		}
		name, err := img.stringAt(desc.Name)
		if err != nil {
			return nil, errors.WithMessage(err, "读取延迟导入DLL名称失败")
		}
		imports = append(imports, Import{Name: name, Delayed: true, nameTable: desc.ImportNameTableRVA})
	}
	return imports, nil
}

// ImportedFunctions reads the import name table of imp.
func (img *Image) ImportedFunctions(imp Import) ([]ImportFunction, error) {
	if imp.nameTable == 0 {
		return nil, nil
	}
	off, err := img.Rva2Offset(imp.nameTable)
	if err != nil {
		return nil, errors.WithMessagef(err, "定位 %s 的名称表失败", imp.Name)
	}

	is64 := img.optional.Magic == optMagic64
	ptrSize := int64(4)
	ordinalFlag := uint64(0x80000000)
	if is64 {
		ptrSize = 8
		ordinalFlag = 1 << 63
	}

	var funcs []ImportFunction
	for i := 0; i < maxThunks; i++ {
		var thunk uint64
		if is64 {
			thunk, err = readU64(img.src, off)
		} else {
			var v uint32
			v, err = readU32(img.src, off)
			thunk = uint64(v)
		}
		if err != nil {
			return nil, errors.WithMessage(err, "读取导入thunk失败")
		}
		if thunk == 0 {
			break
		}
		off += ptrSize

		if thunk&ordinalFlag != 0 {
			funcs = append(funcs, ImportFunction{Ordinal: uint16(thunk), ByOrdinal: true})
			continue
		}
		hintOff, err := img.Rva2Offset(uint32(thunk))
		if err != nil {
			return nil, errors.WithMessage(err, "定位导入函数名失败")
		}
		hint, err := readU16(img.src, hintOff)
		if err != nil {
			return nil, err
		}
		name, err := readCString(img.src, hintOff+2)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, ImportFunction{Name: name, Hint: hint})
	}
	return funcs, nil
}

// stringAt reads a NUL-terminated string at an RVA.
func (img *Image) stringAt(rva uint32) (string, error) {
	off, err := img.Rva2Offset(rva)
	if err != nil {
		return "", err
	}
	return readCString(img.src, off)
}
