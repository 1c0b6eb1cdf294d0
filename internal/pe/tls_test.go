package pe

import (
	"testing"

	"github.com/ZacharyZcR/PEDeps/internal/pe/petest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLS(t *testing.T) {
	tests := []struct {
		name string
		wide bool
	}{
		{"PE32", false},
		{"PE32+", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := petest.New().TLS(0x1010, 0x1020)
			b.PE32Plus = tt.wide
			img := openBuilder(t, b)
			base := b.ImageBase()

			tls, err := img.TLS()
			require.NoError(t, err)
			assert.True(t, tls.HasTLS)
			assert.Equal(t, base+0x2000, tls.StartAddressOfRawData)
			assert.Equal(t, base+0x2100, tls.EndAddressOfRawData)
			assert.Equal(t, base+0x2200, tls.AddressOfIndex)
			assert.Equal(t, []uint64{base + 0x1010, base + 0x1020}, tls.Callbacks)
		})
	}
}

func TestTLSWithoutCallbacks(t *testing.T) {
	img := openBuilder(t, petest.New().TLS())

	tls, err := img.TLS()
	require.NoError(t, err)
	assert.True(t, tls.HasTLS)
	assert.Empty(t, tls.Callbacks)
}

func TestTLSAbsent(t *testing.T) {
	img := openBuilder(t, petest.New())

	tls, err := img.TLS()
	require.NoError(t, err)
	assert.False(t, tls.HasTLS)
}
