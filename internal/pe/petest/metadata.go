package petest

import (
	"encoding/binary"
	"sort"
)

// Metadata assembles a CLI metadata root with the five standard streams.
// Cells passed to Row are written verbatim, so callers choose widths that
// match the row counts and heap sizes they declare.
type Metadata struct {
	// HeapSizes is the #~ heap-size flags byte.
	HeapSizes byte

	strings []byte
	blobs   []byte
	guids   []byte
	us      []byte
	rows    map[int][][]byte
	counts  map[int]uint32
	extra   []stream
}

type stream struct {
	name string
	data []byte
}

// NewMetadata returns a builder with empty heaps.
func NewMetadata() *Metadata {
	return &Metadata{
		strings: []byte{0},
		blobs:   []byte{0},
		us:      []byte{0},
		rows:    make(map[int][][]byte),
		counts:  make(map[int]uint32),
	}
}

// String adds s to the #Strings heap and returns its offset.
func (m *Metadata) String(s string) uint32 {
	off := uint32(len(m.strings))
	m.strings = append(append(m.strings, s...), 0)
	return off
}

// Blob adds b with a compressed length prefix and returns its offset.
func (m *Metadata) Blob(b []byte) uint32 {
	off := uint32(len(m.blobs))
	switch n := len(b); {
	case n < 0x80:
		m.blobs = append(m.blobs, byte(n))
	case n < 0x4000:
		m.blobs = append(m.blobs, byte(n>>8)|0x80, byte(n))
	default:
		m.blobs = append(m.blobs, byte(n>>24)|0xC0, byte(n>>16), byte(n>>8), byte(n))
	}
	m.blobs = append(m.blobs, b...)
	return off
}

// GUID adds g to the #GUID heap and returns its 1-based index.
func (m *Metadata) GUID(g [16]byte) uint32 {
	m.guids = append(m.guids, g[:]...)
	return uint32(len(m.guids) / 16)
}

// Row appends a row to table. Each cell is a uint8, uint16 or uint32.
func (m *Metadata) Row(table int, cells ...any) {
	var row []byte
	for _, c := range cells {
		switch v := c.(type) {
		case uint8:
			row = append(row, v)
		case uint16:
			row = binary.LittleEndian.AppendUint16(row, v)
		case uint32:
			row = binary.LittleEndian.AppendUint32(row, v)
		default:
			panic("petest: unsupported cell type")
		}
	}
	m.rows[table] = append(m.rows[table], row)
}

// RowCount declares n rows for table without writing their data.
func (m *Metadata) RowCount(table int, n uint32) {
	m.counts[table] = n
}

// Stream adds an extra stream after the standard ones.
func (m *Metadata) Stream(name string, data []byte) {
	m.extra = append(m.extra, stream{name, data})
}

// Tables returns the #~ stream.
func (m *Metadata) Tables() []byte {
	present := make(map[int]uint32)
	for t, rows := range m.rows {
		present[t] = uint32(len(rows))
	}
	for t, n := range m.counts {
		present[t] = n
	}
	var ids []int
	var valid uint64
	for t := range present {
		ids = append(ids, t)
		valid |= 1 << uint(t)
	}
	sort.Ints(ids)

	b := make([]byte, 24)
	b[4] = 2
	b[6] = m.HeapSizes
	b[7] = 1
	binary.LittleEndian.PutUint64(b[8:], valid)
	for _, t := range ids {
		b = binary.LittleEndian.AppendUint32(b, present[t])
	}
	for _, t := range ids {
		for _, row := range m.rows[t] {
			b = append(b, row...)
		}
	}
	return pad4(b)
}

// Bytes returns the metadata root followed by its streams.
func (m *Metadata) Bytes() []byte {
	streams := []stream{
		{"#~", m.Tables()},
		{"#Strings", pad4(m.strings)},
		{"#US", pad4(m.us)},
		{"#GUID", m.guids},
		{"#Blob", pad4(m.blobs)},
	}
	streams = append(streams, m.extra...)

	version := []byte("v4.0.30319")
	verLen := (len(version) + 1 + 3) &^ 3

	headerLen := 16 + verLen + 4
	for _, s := range streams {
		headerLen += 8 + (len(s.name)+1+3)&^3
	}

	b := binary.LittleEndian.AppendUint32(nil, 0x424A5342)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = binary.LittleEndian.AppendUint32(b, uint32(verLen))
	b = append(b, version...)
	b = append(b, make([]byte, verLen-len(version))...)
	b = append(b, 0, 0)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(streams)))

	off := headerLen
	for _, s := range streams {
		b = binary.LittleEndian.AppendUint32(b, uint32(off))
		b = binary.LittleEndian.AppendUint32(b, uint32(len(s.data)))
		name := append([]byte(s.name), 0)
		b = append(b, pad4(name)...)
		off += len(pad4(append([]byte(nil), s.data...)))
	}
	for _, s := range streams {
		b = append(b, pad4(append([]byte(nil), s.data...))...)
	}
	return b
}
