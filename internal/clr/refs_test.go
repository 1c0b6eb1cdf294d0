package clr

import (
	"testing"

	"github.com/ZacharyZcR/PEDeps/internal/pe/petest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceMetadata builds two assembly refs, one module ref, four type
// refs with different scopes and member refs with different parents.
func referenceMetadata() *petest.Metadata {
	m := petest.NewMetadata()
	token := m.Blob([]byte{0xB0, 0x3F, 0x5F, 0x7F, 0x11, 0xD5, 0x0A, 0x3A})
	asmRef := func(name string, major, minor uint16) {
		m.Row(int(AssemblyRef), major, minor, uint16(0), uint16(0), uint32(0),
			uint16(token), uint16(m.String(name)), uint16(0), uint16(0))
	}
	asmRef("mscorlib", 4, 0)
	asmRef("Newtonsoft.Json", 13, 0)
	m.Row(int(ModuleRef), uint16(m.String("native.dll")))

	// Coded tags: ResolutionScope uses 2 bits, MemberRefParent 3.
	const (
		scopeModuleRef   = 1
		scopeAssemblyRef = 2
		parentTypeRef    = 1
		parentTypeSpec   = 4
	)
	typeRef := func(row, tag uint16, name, ns string) {
		scope := row<<2 | tag
		m.Row(int(TypeRef), scope, uint16(m.String(name)), uint16(m.String(ns)))
	}
	typeRef(1, scopeAssemblyRef, "Object", "System")
	typeRef(2, scopeAssemblyRef, "JsonConvert", "Newtonsoft.Json")
	typeRef(1, scopeModuleRef, "NativeThing", "Interop")
	typeRef(1, scopeAssemblyRef, "Console", "System")

	memberRef := func(row, tag uint16, name string, sig []byte) {
		parent := row<<3 | tag
		m.Row(int(MemberRef), parent, uint16(m.String(name)), uint16(m.Blob(sig)))
	}
	memberRef(1, parentTypeRef, ".ctor", []byte{0x20, 0x00, 0x01})
	memberRef(4, parentTypeRef, "WriteLine", []byte{0x00, 0x01, 0x01, 0x0E})
	memberRef(2, parentTypeRef, "SerializeObject", []byte{0x00, 0x01, 0x0E, 0x1C})
	memberRef(3, parentTypeRef, "Call", []byte{0x00, 0x00, 0x01})
	memberRef(1, parentTypeSpec, "Invoke", []byte{0x20, 0x00, 0x01})
	return m
}

func TestAssemblyReferences(t *testing.T) {
	md, err := Parse(referenceMetadata().Bytes())
	require.NoError(t, err)

	refs, err := md.AssemblyReferences()
	require.NoError(t, err)
	require.Len(t, refs, 3)

	assert.Equal(t, "mscorlib", refs[0].Name)
	assert.Equal(t, "4.0.0.0", refs[0].Version())
	assert.Equal(t, []byte{0xB0, 0x3F, 0x5F, 0x7F, 0x11, 0xD5, 0x0A, 0x3A}, refs[0].PublicKeyOrToken)
	assert.False(t, refs[0].Module)
	assert.Equal(t, "Newtonsoft.Json, Version=13.0.0.0", refs[1].String())
	assert.Equal(t, AssemblyReference{Name: "native.dll", Module: true}, refs[2])
	assert.Equal(t, "native.dll", refs[2].String())
}

func TestAssemblyReferencesEmpty(t *testing.T) {
	md, err := Parse(petest.NewMetadata().Bytes())
	require.NoError(t, err)

	refs, err := md.AssemblyReferences()
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestTypeRefs(t *testing.T) {
	md, err := Parse(referenceMetadata().Bytes())
	require.NoError(t, err)

	refs, err := md.TypeRefs()
	require.NoError(t, err)
	assert.Equal(t, []string{"Newtonsoft.Json", "mscorlib"}, refs.Assemblies())
	assert.Equal(t, TypeRefIndex{
		"mscorlib":        {"System": {"Object", "Console"}},
		"Newtonsoft.Json": {"Newtonsoft.Json": {"JsonConvert"}},
	}, refs)
}

func TestMemberRefs(t *testing.T) {
	md, err := Parse(referenceMetadata().Bytes())
	require.NoError(t, err)

	refs, err := md.MemberRefs()
	require.NoError(t, err)
	assert.Equal(t, []string{"Newtonsoft.Json", "mscorlib"}, refs.Assemblies())
	assert.Equal(t, MemberRefIndex{
		"mscorlib": {"System": {
			"Object":  {".ctor -- 20 00 01"},
			"Console": {"WriteLine -- 00 01 01 0E"},
		}},
		"Newtonsoft.Json": {"Newtonsoft.Json": {
			"JsonConvert": {"SerializeObject -- 00 01 0E 1C"},
		}},
	}, refs)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 3, "a": 1, "b": 2}))
	assert.Empty(t, SortedKeys(map[string]bool{}))
}
