package clr

import (
	"testing"

	"github.com/ZacharyZcR/PEDeps/internal/pe"
	"github.com/ZacharyZcR/PEDeps/internal/pe/petest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoot(t *testing.T) {
	md, err := Parse(petest.NewMetadata().Bytes())
	require.NoError(t, err)

	assert.Equal(t, uint16(1), md.MajorVersion)
	assert.Equal(t, uint16(1), md.MinorVersion)
	assert.Equal(t, "v4.0.30319", md.Version)

	var names []string
	for _, s := range md.Streams {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{StreamTables, StreamStrings, StreamUserString, StreamGUID, StreamBlob}, names)
}

func TestParseErrors(t *testing.T) {
	unknown := petest.NewMetadata()
	unknown.Stream("#Pdb", []byte{1, 2, 3, 4})

	truncated := petest.NewMetadata().Bytes()
	truncated = truncated[:20]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad signature", []byte("ABCD\x01\x00\x01\x00"), ErrBadSignature},
		{"empty", nil, ErrOutOfRange},
		{"unknown stream", unknown.Bytes(), ErrUnknownStream},
		{"truncated stream headers", truncated, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHeaps(t *testing.T) {
	m := petest.NewMetadata()
	hello := m.String("Hello")
	world := m.String("World")
	short := m.Blob([]byte{0xDE, 0xAD})
	long := make([]byte, 300)
	long[299] = 0x7F
	longOff := m.Blob(long)
	g1 := m.GUID([16]byte{1, 2, 3})
	g2 := m.GUID([16]byte{15: 0xFF})

	md, err := Parse(m.Bytes())
	require.NoError(t, err)

	s, err := md.String(hello)
	require.NoError(t, err)
	assert.Equal(t, "Hello", s)
	s, err = md.String(world)
	require.NoError(t, err)
	assert.Equal(t, "World", s)
	s, err = md.String(0)
	require.NoError(t, err)
	assert.Empty(t, s)

	b, err := md.Blob(short)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, b)
	b, err = md.Blob(longOff)
	require.NoError(t, err)
	assert.Len(t, b, 300)
	assert.Equal(t, byte(0x7F), b[299])

	g, err := md.GUID(g1)
	require.NoError(t, err)
	assert.Equal(t, [16]byte{1, 2, 3}, g)
	g, err = md.GUID(g2)
	require.NoError(t, err)
	assert.Equal(t, [16]byte{15: 0xFF}, g)
	g, err = md.GUID(0)
	require.NoError(t, err)
	assert.Equal(t, [16]byte{}, g)

	us, err := md.UserString(0)
	require.NoError(t, err)
	assert.Empty(t, us)

	_, err = md.String(0x1000)
	assert.ErrorIs(t, err, ErrHeapOffset)
	_, err = md.Blob(0x1000)
	assert.ErrorIs(t, err, ErrHeapOffset)
	_, err = md.GUID(3)
	assert.ErrorIs(t, err, ErrHeapOffset)
}

func TestFromImage(t *testing.T) {
	m := petest.NewMetadata()
	m.Row(int(AssemblyRef), uint16(4), uint16(2), uint16(0), uint16(0), uint32(0),
		uint16(0), uint16(m.String("System.Runtime")), uint16(0), uint16(0))

	img, err := pe.NewImage(pe.NewBytesSource(petest.New().Managed(m.Bytes(), true).Bytes()))
	require.NoError(t, err)
	md, err := FromImage(img)
	require.NoError(t, err)

	refs, err := md.AssemblyReferences()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "System.Runtime, Version=4.2.0.0", refs[0].String())

	native, err := pe.NewImage(pe.NewBytesSource(petest.New().Import("KERNEL32.dll").Bytes()))
	require.NoError(t, err)
	_, err = FromImage(native)
	assert.ErrorIs(t, err, ErrMissingStream)
}
