package pe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func uniformBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// Each case is measured directly and as the raw data of a section placed
// after a header-sized gap, which must agree.
func TestEntropy(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		min, max float64
	}{
		{"空数据", nil, 0, 0},
		{"单一字节", []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90}, 0, 0},
		{"两种字节", []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xBB, 0xBB, 0xBB, 0xBB}, 1, 1},
		{"八种字节", uniformBytes(8), 3, 3},
		{"函数序言", []byte{0x55, 0x48, 0x89, 0xE5, 0x48, 0x83, 0xEC, 0x10}, 2, 3},
		{"文本", []byte("KERNEL32.dll GetProcAddress LoadLibraryW"), 3.5, 5},
		{"全部字节值", uniformBytes(256), 8, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateEntropy(tt.data)
			assert.GreaterOrEqual(t, got, tt.min-0.01)
			assert.LessOrEqual(t, got, tt.max+0.01)

			const gap = 0x40
			src := NewBytesSource(append(make([]byte, gap), tt.data...))
			section := SectionHeader{PointerToRawData: gap, SizeOfRawData: uint32(len(tt.data))}
			assert.InDelta(t, got, CalculateSectionEntropy(src, section), 1e-9)
		})
	}
}

func TestCalculateSectionEntropyBounds(t *testing.T) {
	data := append(make([]byte, 0x100), uniformBytes(0x100)...)
	src := NewBytesSource(data)

	tests := []struct {
		name    string
		section SectionHeader
		want    float64
	}{
		{"无原始数据", SectionHeader{PointerToRawData: 0x100}, 0},
		{"超出文件末尾", SectionHeader{PointerToRawData: 0x400, SizeOfRawData: 0x100}, 0},
		{"截断到文件末尾", SectionHeader{PointerToRawData: 0x100, SizeOfRawData: 0x1000}, 8},
		{"跨越零填充", SectionHeader{PointerToRawData: 0x80, SizeOfRawData: 0x180}, CalculateEntropy(data[0x80:])},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateSectionEntropy(src, tt.section), 0.01)
		})
	}
}
