package clr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	heapStringWide = 0x01
	heapGUIDWide   = 0x02
	heapBlobWide   = 0x04
	heapExtraData  = 0x40

	smallIndexLimit = 1 << 16
)

// Ref is a reference to a table row. Row is the 1-based row id as stored
// in the file; zero is the null reference.
type Ref struct {
	Table Table
	Row   uint32
}

// IsNull reports whether r refers to no row.
func (r Ref) IsNull() bool { return r.Row == 0 }

// Index returns the zero-based row index, or -1 for a null reference.
func (r Ref) Index() int { return int(r.Row) - 1 }

func (r Ref) String() string {
	return fmt.Sprintf("%s %X", r.Table, r.Row)
}

// Cell is one decoded column value. Type selects the meaningful field:
// Int for integers, Str, Blob, GUID, or Ref for row ids and coded tokens.
// Offset keeps the raw heap offset or index for heap columns.
type Cell struct {
	Type   ColumnType
	Int    uint32
	Offset uint32
	Str    string
	Blob   []byte
	GUID   [16]byte
	Ref    Ref
}

// Row is one decoded table row.
type Row struct {
	Table Table
	Index int
	Cells []Cell
}

// Uint returns the integer in column i.
func (r Row) Uint(i int) uint32 { return r.Cells[i].Int }

// Str returns the string in column i.
func (r Row) Str(i int) string { return r.Cells[i].Str }

// Bytes returns the blob in column i.
func (r Row) Bytes(i int) []byte { return r.Cells[i].Blob }

// Ref returns the reference in column i.
func (r Row) Ref(i int) Ref { return r.Cells[i].Ref }

// Tables is the decoded #~ stream header with the per-table layout it
// implies. Rows are decoded on request.
type Tables struct {
	md *Metadata

	MajorVersion uint8
	MinorVersion uint8
	HeapSizes    uint8
	Valid        uint64
	Sorted       uint64
	RowCounts    [64]uint32

	widths  [NumTables][]int
	rowSize [NumTables]int
	offset  [NumTables]int
}

func parseTables(md *Metadata) (*Tables, error) {
	if md.tablesData == nil {
		return nil, errors.Wrap(ErrMissingStream, StreamTables)
	}
	r := &reader{data: md.tablesData}
	t := &Tables{md: md}

	if _, err := r.u32(); err != nil {
		return nil, errors.WithMessage(err, "读取表头失败")
	}
	fields := []*uint8{&t.MajorVersion, &t.MinorVersion, &t.HeapSizes, nil}
	for _, f := range fields {
		v, err := r.u8()
		if err != nil {
			return nil, errors.WithMessage(err, "读取表头失败")
		}
		if f != nil {
			*f = v
		}
	}
	var err error
	if t.Valid, err = r.u64(); err != nil {
		return nil, errors.WithMessage(err, "读取表头失败")
	}
	if t.Sorted, err = r.u64(); err != nil {
		return nil, errors.WithMessage(err, "读取表头失败")
	}
	for i := 0; i < 64; i++ {
		if t.Valid&(1<<uint(i)) == 0 {
			continue
		}
		if t.RowCounts[i], err = r.u32(); err != nil {
			return nil, errors.WithMessagef(err, "读取表 %s 行数失败", Table(i))
		}
	}
	if t.HeapSizes&heapExtraData != 0 {
		if _, err := r.u32(); err != nil {
			return nil, errors.WithMessage(err, "读取表头失败")
		}
	}

	t.layout(r.pos)
	return t, nil
}

// layout computes column widths, row sizes and table offsets. Widths of
// row-id and coded-token columns depend on the row counts of the tables
// they reference, so every count must be known first.
func (t *Tables) layout(start int) {
	off := start
	for i := 0; i < NumTables; i++ {
		cols := schema[i]
		widths := make([]int, len(cols))
		size := 0
		for j, c := range cols {
			widths[j] = t.columnWidth(c)
			size += widths[j]
		}
		t.widths[i] = widths
		t.rowSize[i] = size
		t.offset[i] = off
		off += size * int(t.RowCounts[i])
	}
}

func (t *Tables) columnWidth(c Column) int {
	switch c.Type {
	case ColUint16:
		return 2
	case ColUint32:
		return 4
	case ColString:
		return t.heapWidth(heapStringWide)
	case ColGUID:
		return t.heapWidth(heapGUIDWide)
	case ColBlob:
		return t.heapWidth(heapBlobWide)
	case ColRowID:
		if t.RowCounts[c.Table] < smallIndexLimit {
			return 2
		}
		return 4
	case ColCoded:
		var maxRows uint64
		for _, tbl := range c.Coded.Tables() {
			if tbl == UserStringHeap {
				continue
			}
			if n := uint64(t.RowCounts[tbl]); n > maxRows {
				maxRows = n
			}
		}
		if maxRows<<c.Coded.TagBits() < smallIndexLimit {
			return 2
		}
		return 4
	}
	panic(fmt.Sprintf("clr: unknown column type %d", c.Type))
}

func (t *Tables) heapWidth(flag uint8) int {
	if t.HeapSizes&flag != 0 {
		return 4
	}
	return 2
}

// Count returns the number of rows in table.
func (t *Tables) Count(table Table) int {
	if int(table) >= NumTables {
		return 0
	}
	return int(t.RowCounts[table])
}

// RowSize returns the byte size of one row of table.
func (t *Tables) RowSize(table Table) int {
	if int(table) >= NumTables {
		return 0
	}
	return t.rowSize[table]
}

// ColumnWidth returns the byte width of column col of table.
// Unknown tables and columns have width 0.
func (t *Tables) ColumnWidth(table Table, col int) int {
	if int(table) >= NumTables || col < 0 || col >= len(t.widths[table]) {
		return 0
	}
	return t.widths[table][col]
}

// Row decodes the row at zero-based index i of table.
func (t *Tables) Row(table Table, i int) (Row, error) {
	if int(table) >= NumTables {
		return Row{}, errors.Errorf("未知的表 %d", table)
	}
	if i < 0 || i >= int(t.RowCounts[table]) {
		return Row{}, errors.Wrapf(ErrOutOfRange, "%s 行索引 %d 超出 %d 行", table, i, t.RowCounts[table])
	}
	r := &reader{data: t.md.tablesData, pos: t.offset[table] + i*t.rowSize[table]}
	row := Row{Table: table, Index: i, Cells: make([]Cell, len(schema[table]))}
	for j, c := range schema[table] {
		cell, err := t.decodeCell(r, c, t.widths[table][j])
		if err != nil {
			return Row{}, errors.WithMessagef(err, "%s[%d].%s", table, i, c.Name)
		}
		row.Cells[j] = cell
	}
	return row, nil
}

// Rows decodes every row of table.
func (t *Tables) Rows(table Table) ([]Row, error) {
	n := t.Count(table)
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		row, err := t.Row(table, i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (t *Tables) decodeCell(r *reader, c Column, width int) (Cell, error) {
	raw, err := readUint(r, width)
	if err != nil {
		return Cell{}, err
	}
	cell := Cell{Type: c.Type}
	switch c.Type {
	case ColUint16, ColUint32:
		cell.Int = raw
	case ColString:
		cell.Offset = raw
		cell.Str, err = t.md.String(raw)
	case ColBlob:
		cell.Offset = raw
		cell.Blob, err = t.md.Blob(raw)
	case ColGUID:
		cell.Offset = raw
		cell.GUID, err = t.md.GUID(raw)
	case ColRowID:
		cell.Ref = Ref{Table: c.Table, Row: raw}
	case ColCoded:
		cell.Ref, err = DecodeToken(c.Coded, raw)
	}
	return cell, err
}

// DecodeToken splits a raw coded-token value into its table and 1-based row.
func DecodeToken(kind CodedKind, raw uint32) (Ref, error) {
	if kind >= numCodedKinds {
		return Ref{}, errors.Wrapf(ErrBadToken, "未知的编码类型 %d", uint8(kind))
	}
	tables := kind.Tables()
	tagBits := kind.TagBits()
	tag := raw & (1<<tagBits - 1)
	if int(tag) >= len(tables) {
		return Ref{}, errors.Wrapf(ErrBadToken, "%s 标记 %d 超出 %d 个表", kind, tag, len(tables))
	}
	return Ref{Table: tables[tag], Row: raw >> tagBits}, nil
}

func readUint(r *reader, width int) (uint32, error) {
	if width == 2 {
		v, err := r.u16()
		return uint32(v), err
	}
	return r.u32()
}

// FormatBlob renders up to 32 bytes of b as hex, marking truncation.
func FormatBlob(b []byte) string {
	n := len(b)
	if n > 32 {
		n = 32
	}
	parts := make([]string, 0, n+1)
	for _, c := range b[:n] {
		parts = append(parts, fmt.Sprintf("%02X", c))
	}
	if len(b) > 32 {
		parts = append(parts, "...")
	}
	return strings.Join(parts, " ")
}
