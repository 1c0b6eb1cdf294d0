// Package petest builds small synthetic PE images and metadata blobs for
// tests.
package petest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

const (
	lfanew      = 0x40
	headersSize = 0x400
	fileAlign   = 0x200
	SectionRVA  = 0x1000

	dirExport      = 0
	dirImport      = 1
	dirResource    = 2
	dirSecurity    = 4
	dirBaseReloc   = 5
	dirTLS         = 9
	dirDelayImport = 13
	dirCLR         = 14
)

// Section describes an extra, zero-filled section.
type Section struct {
	Name           string
	VirtualAddress uint32
	RawSize        uint32
}

type importSpec struct {
	name  string
	funcs []string
}

// Builder assembles a PE image with one ".rdata" section holding every
// directory, optionally followed by extra empty sections.
type Builder struct {
	// PE32Plus selects the 64-bit optional header layout.
	PE32Plus bool
	// DLL sets IMAGE_FILE_DLL.
	DLL bool
	// Wide clears IMAGE_FILE_32BIT_MACHINE.
	Wide bool

	imports  []importSpec
	delayed  []importSpec
	exports  []string
	versions [][]byte
	metadata []byte
	ilOnly   bool
	extra    []Section
	tls      []uint32
	hasTLS   bool
	relocs   []relocBlock
	cert     []byte
	certType uint16
}

type relocBlock struct {
	page    uint32
	entries []uint16
}

// New returns an empty 32-bit exe builder.
func New() *Builder {
	return &Builder{}
}

// Import adds a load-time import descriptor.
func (b *Builder) Import(dll string, funcs ...string) *Builder {
	b.imports = append(b.imports, importSpec{dll, funcs})
	return b
}

// DelayImport adds a delay-load descriptor.
func (b *Builder) DelayImport(dll string, funcs ...string) *Builder {
	b.delayed = append(b.delayed, importSpec{dll, funcs})
	return b
}

// Export adds exported names.
func (b *Builder) Export(names ...string) *Builder {
	b.exports = append(b.exports, names...)
	return b
}

// Version adds an RT_VERSION leaf holding block.
func (b *Builder) Version(block []byte) *Builder {
	b.versions = append(b.versions, block)
	return b
}

// Managed embeds a COR20 header pointing at metadata.
func (b *Builder) Managed(metadata []byte, ilOnly bool) *Builder {
	b.metadata = metadata
	b.ilOnly = ilOnly
	return b
}

// TLS adds a TLS directory whose callback array holds the given RVAs,
// stored as virtual addresses.
func (b *Builder) TLS(callbacks ...uint32) *Builder {
	b.hasTLS = true
	b.tls = callbacks
	return b
}

// Relocation adds a base relocation block for page.
func (b *Builder) Relocation(page uint32, entries ...uint16) *Builder {
	b.relocs = append(b.relocs, relocBlock{page, entries})
	return b
}

// Certificate appends a WIN_CERTIFICATE (revision 2.0) of certType
// holding blob after the last section.
func (b *Builder) Certificate(certType uint16, blob []byte) *Builder {
	b.certType = certType
	b.cert = blob
	return b
}

// ImageBase returns the image base the builder writes.
func (b *Builder) ImageBase() uint64 {
	if b.PE32Plus {
		return 0x140000000
	}
	return 0x400000
}

// Section appends an extra section after the data section.
func (b *Builder) Section(s Section) *Builder {
	b.extra = append(b.extra, s)
	return b
}

// section accumulates the data section and hands out RVAs.
type section struct {
	data []byte
}

func (s *section) put(p []byte) uint32 {
	for len(s.data)%4 != 0 {
		s.data = append(s.data, 0)
	}
	rva := SectionRVA + uint32(len(s.data))
	s.data = append(s.data, p...)
	return rva
}

func (s *section) cstring(v string) uint32 {
	return s.put(append([]byte(v), 0))
}

func (s *section) patch32(rva, v uint32) {
	binary.LittleEndian.PutUint32(s.data[rva-SectionRVA:], v)
}

// Bytes lays out the image.
func (b *Builder) Bytes() []byte {
	var dirs [16][2]uint32
	sec := &section{}

	if len(b.imports) > 0 {
		descs := make([]byte, 20*(len(b.imports)+1))
		for i, imp := range b.imports {
			name := sec.cstring(imp.name)
			thunks := b.thunks(sec, imp.funcs)
			binary.LittleEndian.PutUint32(descs[i*20:], thunks)
			binary.LittleEndian.PutUint32(descs[i*20+12:], name)
			binary.LittleEndian.PutUint32(descs[i*20+16:], thunks)
		}
		dirs[dirImport] = [2]uint32{sec.put(descs), uint32(len(descs))}
	}

	if len(b.delayed) > 0 {
		descs := make([]byte, 32*(len(b.delayed)+1))
		for i, imp := range b.delayed {
			name := sec.cstring(imp.name)
			thunks := b.thunks(sec, imp.funcs)
			binary.LittleEndian.PutUint32(descs[i*32:], 1)
			binary.LittleEndian.PutUint32(descs[i*32+4:], name)
			binary.LittleEndian.PutUint32(descs[i*32+16:], thunks)
		}
		dirs[dirDelayImport] = [2]uint32{sec.put(descs), uint32(len(descs))}
	}

	if len(b.exports) > 0 {
		ptrs := make([]byte, 4*len(b.exports))
		for i, name := range b.exports {
			binary.LittleEndian.PutUint32(ptrs[i*4:], sec.cstring(name))
		}
		names := sec.put(ptrs)
		dir := make([]byte, 40)
		binary.LittleEndian.PutUint32(dir[24:], uint32(len(b.exports)))
		binary.LittleEndian.PutUint32(dir[32:], names)
		dirs[dirExport] = [2]uint32{sec.put(dir), 40}
	}

	if len(b.versions) > 0 {
		dirs[dirResource] = b.resources(sec)
	}

	if b.metadata != nil {
		md := sec.put(b.metadata)
		cor := make([]byte, 72)
		binary.LittleEndian.PutUint32(cor[0:], 72)
		binary.LittleEndian.PutUint16(cor[4:], 2)
		binary.LittleEndian.PutUint16(cor[6:], 5)
		binary.LittleEndian.PutUint32(cor[8:], md)
		binary.LittleEndian.PutUint32(cor[12:], uint32(len(b.metadata)))
		if b.ilOnly {
			binary.LittleEndian.PutUint32(cor[16:], 1)
		}
		dirs[dirCLR] = [2]uint32{sec.put(cor), 72}
	}

	if b.hasTLS {
		dirs[dirTLS] = b.tlsDirectory(sec)
	}

	if len(b.relocs) > 0 {
		var table []byte
		for _, blk := range b.relocs {
			block := make([]byte, 8+2*len(blk.entries))
			binary.LittleEndian.PutUint32(block[0:], blk.page)
			binary.LittleEndian.PutUint32(block[4:], uint32(len(block)))
			for i, e := range blk.entries {
				binary.LittleEndian.PutUint16(block[8+2*i:], e)
			}
			table = append(table, block...)
		}
		dirs[dirBaseReloc] = [2]uint32{sec.put(table), uint32(len(table))}
	}

	return b.layout(sec.data, dirs)
}

func (b *Builder) tlsDirectory(sec *section) [2]uint32 {
	base := b.ImageBase()
	size := 4
	if b.PE32Plus {
		size = 8
	}
	array := make([]byte, size*(len(b.tls)+1))
	for i, rva := range b.tls {
		if b.PE32Plus {
			binary.LittleEndian.PutUint64(array[i*size:], base+uint64(rva))
		} else {
			binary.LittleEndian.PutUint32(array[i*size:], uint32(base)+rva)
		}
	}
	callbacks := base + uint64(sec.put(array))

	if b.PE32Plus {
		dir := make([]byte, 40)
		binary.LittleEndian.PutUint64(dir[0:], base+0x2000)
		binary.LittleEndian.PutUint64(dir[8:], base+0x2100)
		binary.LittleEndian.PutUint64(dir[16:], base+0x2200)
		if len(b.tls) > 0 {
			binary.LittleEndian.PutUint64(dir[24:], callbacks)
		}
		return [2]uint32{sec.put(dir), 40}
	}
	dir := make([]byte, 24)
	binary.LittleEndian.PutUint32(dir[0:], uint32(base)+0x2000)
	binary.LittleEndian.PutUint32(dir[4:], uint32(base)+0x2100)
	binary.LittleEndian.PutUint32(dir[8:], uint32(base)+0x2200)
	if len(b.tls) > 0 {
		binary.LittleEndian.PutUint32(dir[12:], uint32(callbacks))
	}
	return [2]uint32{sec.put(dir), 24}
}

func (b *Builder) thunks(sec *section, funcs []string) uint32 {
	if len(funcs) == 0 {
		funcs = []string{"Init"}
	}
	size := 4
	if b.PE32Plus {
		size = 8
	}
	table := make([]byte, size*(len(funcs)+1))
	for i, fn := range funcs {
		hint := sec.put(append([]byte{0, 0}, append([]byte(fn), 0)...))
		if b.PE32Plus {
			binary.LittleEndian.PutUint64(table[i*size:], uint64(hint))
		} else {
			binary.LittleEndian.PutUint32(table[i*size:], hint)
		}
	}
	return sec.put(table)
}

// resources writes a three-level tree: RT_VERSION / 1 / 0x409 with one
// language leaf per version block.
func (b *Builder) resources(sec *section) [2]uint32 {
	n := len(b.versions)
	// root dir + entry, name dir + entry, lang dir + n entries, n data entries
	size := 16 + 8 + 16 + 8 + 16 + 8*n + 16*n
	tree := make([]byte, size)
	root := sec.put(tree)

	binary.LittleEndian.PutUint16(tree[14:], 1)
	binary.LittleEndian.PutUint32(tree[16:], 16)
	binary.LittleEndian.PutUint32(tree[20:], 0x80000000|24)

	binary.LittleEndian.PutUint16(tree[24+14:], 1)
	binary.LittleEndian.PutUint32(tree[40:], 1)
	binary.LittleEndian.PutUint32(tree[44:], 0x80000000|48)

	binary.LittleEndian.PutUint16(tree[48+14:], uint16(n))
	dataBase := 64 + 8*n
	for i, block := range b.versions {
		binary.LittleEndian.PutUint32(tree[64+8*i:], uint32(0x409+i))
		binary.LittleEndian.PutUint32(tree[68+8*i:], uint32(dataBase+16*i))
		rva := sec.put(block)
		binary.LittleEndian.PutUint32(tree[dataBase+16*i:], rva)
		binary.LittleEndian.PutUint32(tree[dataBase+16*i+4:], uint32(len(block)))
	}
	copy(sec.data[root-SectionRVA:], tree)
	return [2]uint32{root, uint32(size)}
}

func (b *Builder) layout(data []byte, dirs [16][2]uint32) []byte {
	optSize := 224
	if b.PE32Plus {
		optSize = 240
	}
	nsec := 1 + len(b.extra)

	rawSize := align(uint32(len(data)), fileAlign)
	if rawSize == 0 {
		rawSize = fileAlign
	}
	total := headersSize + int(rawSize)
	for _, s := range b.extra {
		total += int(align(s.RawSize, fileAlign))
	}
	if b.cert != nil {
		certLen := 8 + len(b.cert)
		dirs[dirSecurity] = [2]uint32{uint32(total), align(uint32(certLen), 8)}
		total += int(align(uint32(certLen), 8))
	}
	img := make([]byte, total)

	binary.LittleEndian.PutUint16(img[0:], 0x5A4D)
	binary.LittleEndian.PutUint32(img[60:], lfanew)
	binary.LittleEndian.PutUint32(img[lfanew:], 0x00004550)

	fh := img[lfanew+4:]
	machine, chars := uint16(0x14C), uint16(0x0002)
	if b.PE32Plus {
		machine = 0x8664
	}
	if !b.Wide {
		chars |= 0x0100
	}
	if b.DLL {
		chars |= 0x2000
	}
	binary.LittleEndian.PutUint16(fh[0:], machine)
	binary.LittleEndian.PutUint16(fh[2:], uint16(nsec))
	binary.LittleEndian.PutUint16(fh[16:], uint16(optSize))
	binary.LittleEndian.PutUint16(fh[18:], chars)

	opt := img[lfanew+24:]
	dirOff := 96
	if b.PE32Plus {
		binary.LittleEndian.PutUint16(opt[0:], 0x20B)
		binary.LittleEndian.PutUint64(opt[24:], 0x140000000)
		binary.LittleEndian.PutUint32(opt[108:], 16)
		dirOff = 112
	} else {
		binary.LittleEndian.PutUint16(opt[0:], 0x10B)
		binary.LittleEndian.PutUint32(opt[28:], 0x400000)
		binary.LittleEndian.PutUint32(opt[92:], 16)
	}
	binary.LittleEndian.PutUint32(opt[16:], SectionRVA)
	binary.LittleEndian.PutUint16(opt[68:], 3)
	for i, d := range dirs {
		binary.LittleEndian.PutUint32(opt[dirOff+8*i:], d[0])
		binary.LittleEndian.PutUint32(opt[dirOff+8*i+4:], d[1])
	}

	sh := img[lfanew+24+optSize:]
	writeSection(sh, ".rdata", uint32(len(data)), SectionRVA, rawSize, headersSize, 0x40000040)
	copy(img[headersSize:], data)

	raw := uint32(headersSize) + rawSize
	for i, s := range b.extra {
		size := align(s.RawSize, fileAlign)
		writeSection(sh[40*(i+1):], s.Name, s.RawSize, s.VirtualAddress, s.RawSize, raw, 0x60000020)
		raw += size
	}

	if b.cert != nil {
		off := dirs[dirSecurity][0]
		binary.LittleEndian.PutUint32(img[off:], uint32(8+len(b.cert)))
		binary.LittleEndian.PutUint16(img[off+4:], 0x0200)
		binary.LittleEndian.PutUint16(img[off+6:], b.certType)
		copy(img[off+8:], b.cert)
	}
	return img
}

func writeSection(sh []byte, name string, vsize, va, rawSize, rawOff, chars uint32) {
	copy(sh[:8], name)
	binary.LittleEndian.PutUint32(sh[8:], vsize)
	binary.LittleEndian.PutUint32(sh[12:], va)
	binary.LittleEndian.PutUint32(sh[16:], rawSize)
	binary.LittleEndian.PutUint32(sh[20:], rawOff)
	binary.LittleEndian.PutUint32(sh[36:], chars)
}

// Write stores the image as dir/name and returns the full path.
func (b *Builder) Write(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// UTF16Z encodes s as NUL-terminated UTF-16LE.
func UTF16Z(s string) []byte {
	u := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(u)+2)
	for i, c := range u {
		binary.LittleEndian.PutUint16(out[2*i:], c)
	}
	return out
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// VersionNode builds one VS_VERSIONINFO-style block: header, key, value
// and 4-byte aligned children.
func VersionNode(key string, value []byte, valueLength, typ uint16, children ...[]byte) []byte {
	b := make([]byte, 6)
	b = append(b, UTF16Z(key)...)
	b = pad4(b)
	b = append(b, value...)
	for _, c := range children {
		b = pad4(b)
		b = append(b, c...)
	}
	binary.LittleEndian.PutUint16(b[0:], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[2:], valueLength)
	binary.LittleEndian.PutUint16(b[4:], typ)
	return b
}

// VersionInfo builds a VS_VERSION_INFO block with one string table for
// lang holding pairs (key, value, key, value, ...) and a VarFileInfo.
func VersionInfo(lang string, pairs ...string) []byte {
	var strs [][]byte
	for i := 0; i+1 < len(pairs); i += 2 {
		v := UTF16Z(pairs[i+1])
		strs = append(strs, VersionNode(pairs[i], v, uint16(len(v)/2), 1))
	}
	table := VersionNode(lang, nil, 0, 1, strs...)
	sfi := VersionNode("StringFileInfo", nil, 0, 1, table)

	translation := []byte{0x09, 0x04, 0xB0, 0x04}
	vfi := VersionNode("VarFileInfo", nil, 0, 1, VersionNode("Translation", translation, 4, 0))

	fixed := make([]byte, 52)
	binary.LittleEndian.PutUint32(fixed[0:], 0xFEEF04BD)
	binary.LittleEndian.PutUint32(fixed[4:], 0x00010000)
	binary.LittleEndian.PutUint32(fixed[8:], 0x00010002)
	binary.LittleEndian.PutUint32(fixed[12:], 0x00030004)
	return VersionNode("VS_VERSION_INFO", fixed, 52, 0, sfi, vfi)
}
