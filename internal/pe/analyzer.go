package pe

import (
	"debug/pe"
	"fmt"
	"sort"
)

// Info contains analyzed PE file information.
type Info struct {
	FilePath     string
	FileSize     int64
	Flags        FileImageFlags
	Architecture string
	Subsystem    string
	EntryPoint   uint64
	ImageBase    uint64
	Checksum     *ChecksumInfo
	Runtime      string // managed runtime version, empty for native images
	PureManaged  bool
	Sections     []SectionInfo
	Imports      []ImportInfo
	Exports      []string
	Resources    []ResourceCount
	Signature    *SignatureInfo
	TLS          *TLSInfo
	Relocations  *RelocationInfo
}

// SectionInfo contains information about a PE section.
type SectionInfo struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Size            uint32
	Characteristics uint32
	Permissions     string
	Entropy         float64
}

// ImportInfo contains information about an imported DLL and its functions.
type ImportInfo struct {
	DLL       string
	Delayed   bool
	Functions []string
}

// ResourceCount is the number of resource leaves of one type.
type ResourceCount struct {
	Type  string
	Count int
}

// Analyzer extracts a summary from a parsed image.
type Analyzer struct {
	image *Image
}

// NewAnalyzer creates a new analyzer for the given image.
func NewAnalyzer(img *Image) *Analyzer {
	return &Analyzer{image: img}
}

// Analyze extracts all information from the image. Import, export and
// resource failures are reported as errors; a non-PE file is not.
func (a *Analyzer) Analyze() (*Info, error) {
	img := a.image
	info := &Info{
		FilePath: img.FilePath(),
		FileSize: img.FileSize(),
		Flags:    img.Flags(),
	}
	if !img.IsPE() {
		return info, nil
	}

	a.extractBasicInfo(info)
	a.extractSections(info)
	if err := a.extractImports(info); err != nil {
		return nil, err
	}
	exports, err := img.ExportNames()
	if err != nil {
		return nil, err
	}
	info.Exports = exports
	if err := a.extractResources(info); err != nil {
		return nil, err
	}
	checksum, err := VerifyChecksum(img)
	if err != nil {
		return nil, err
	}
	info.Checksum = checksum
	a.extractOptional(info)

	return info, nil
}

// extractOptional fills the parts of the summary that never fail it. A
// damaged certificate table still reports the image as signed.
func (a *Analyzer) extractOptional(info *Info) {
	info.Signature, _ = a.image.Signature()
	if tls, err := a.image.TLS(); err == nil {
		info.TLS = tls
	}
	if relocs, err := a.image.Relocations(); err == nil {
		info.Relocations = relocs
	}
}

func (a *Analyzer) extractBasicInfo(info *Info) {
	img := a.image
	info.Architecture = getArchitecture(img.header.Machine)
	info.Subsystem = getSubsystem(img.optional.Subsystem)
	info.EntryPoint = uint64(img.optional.AddressOfEntryPoint)
	info.ImageBase = img.optional.ImageBase

	if h := img.ManagedHeader(); h != nil {
		info.Runtime = fmt.Sprintf("%d.%d", h.MajorRuntimeVersion, h.MinorRuntimeVersion)
		info.PureManaged = h.ILOnly()
	}
}

func (a *Analyzer) extractSections(info *Info) {
	for _, section := range a.image.Sections() {
		info.Sections = append(info.Sections, SectionInfo{
			Name:            section.NameString(),
			VirtualAddress:  section.VirtualAddress,
			VirtualSize:     section.VirtualSize,
			Size:            section.SizeOfRawData,
			Characteristics: section.Characteristics,
			Permissions:     getSectionPermissions(section.Characteristics),
			Entropy:         CalculateSectionEntropy(a.image.Source(), section),
		})
	}
}

func (a *Analyzer) extractImports(info *Info) error {
	imports, err := a.image.Imports()
	if err != nil {
		return err
	}
	for _, imp := range imports {
		funcs, err := a.image.ImportedFunctions(imp)
		if err != nil {
			return err
		}
		entry := ImportInfo{DLL: imp.Name, Delayed: imp.Delayed}
		for _, f := range funcs {
			if f.ByOrdinal {
				entry.Functions = append(entry.Functions, fmt.Sprintf("#%d", f.Ordinal))
			} else {
				entry.Functions = append(entry.Functions, f.Name)
			}
		}
		info.Imports = append(info.Imports, entry)
	}
	return nil
}

func (a *Analyzer) extractResources(info *Info) error {
	leaves, err := a.image.Resources()
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, leaf := range leaves {
		name := leaf.Type.Name
		if name == "" {
			name = ResourceType(leaf.Type.ID).String()
		}
		counts[name]++
	}
	for name, n := range counts {
		info.Resources = append(info.Resources, ResourceCount{Type: name, Count: n})
	}
	sort.Slice(info.Resources, func(i, j int) bool {
		return info.Resources[i].Type < info.Resources[j].Type
	})
	return nil
}

func getArchitecture(machine uint16) string {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "x86 (32位)"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "x64 (64位)"
	case pe.IMAGE_FILE_MACHINE_ARM:
		return "ARM"
	case pe.IMAGE_FILE_MACHINE_ARMNT:
		return "ARM Thumb-2"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "ARM64"
	case pe.IMAGE_FILE_MACHINE_IA64:
		return "IA64"
	default:
		return fmt.Sprintf("未知 (0x%X)", machine)
	}
}

func getSubsystem(subsystem uint16) string {
	switch subsystem {
	case pe.IMAGE_SUBSYSTEM_WINDOWS_GUI:
		return "Windows GUI"
	case pe.IMAGE_SUBSYSTEM_WINDOWS_CUI:
		return "Windows 控制台"
	case pe.IMAGE_SUBSYSTEM_NATIVE:
		return "Native"
	case pe.IMAGE_SUBSYSTEM_EFI_APPLICATION:
		return "EFI 应用"
	default:
		return fmt.Sprintf("未知 (0x%X)", subsystem)
	}
}

func getSectionPermissions(c uint32) string {
	perms := [3]rune{'-', '-', '-'}

	if c&pe.IMAGE_SCN_MEM_READ != 0 {
		perms[0] = 'R'
	}
	if c&pe.IMAGE_SCN_MEM_WRITE != 0 {
		perms[1] = 'W'
	}
	if c&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
		perms[2] = 'X'
	}

	return string(perms[:])
}
