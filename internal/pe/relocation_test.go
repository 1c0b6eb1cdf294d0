package pe

import (
	"testing"

	"github.com/ZacharyZcR/PEDeps/internal/pe/petest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelocations(t *testing.T) {
	img := openBuilder(t, petest.New().
		Relocation(0x1000, 0x3010, 0x3020, 0x0000).
		Relocation(0x2000, 0xA008))

	relocs, err := img.Relocations()
	require.NoError(t, err)
	assert.True(t, relocs.HasRelocations)
	assert.Equal(t, 2, relocs.BlockCount)
	assert.Equal(t, 4, relocs.TotalEntries)
	assert.Equal(t, map[uint16]int{relBasedAbsolute: 1, relBasedHighLow: 2, relBasedDir64: 1}, relocs.ByType)
	assert.Equal(t, []uint16{relBasedAbsolute, relBasedHighLow, relBasedDir64}, relocs.Types())
}

func TestRelocationsAbsent(t *testing.T) {
	relocs, err := openBuilder(t, petest.New()).Relocations()
	require.NoError(t, err)
	assert.False(t, relocs.HasRelocations)
	assert.Zero(t, relocs.BlockCount)
}

func TestRelocationTypeName(t *testing.T) {
	tests := []struct {
		typ  uint16
		want string
	}{
		{relBasedAbsolute, "ABSOLUTE"},
		{relBasedHighLow, "HIGHLOW"},
		{relBasedDir64, "DIR64"},
		{15, "UNKNOWN(15)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, RelocationTypeName(tt.typ))
		})
	}
}
