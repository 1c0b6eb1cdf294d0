package clr

import (
	"bytes"
	"fmt"
	"sort"
)

// AssemblyReference is an external assembly or module a managed image
// depends on. Module references carry no version.
type AssemblyReference struct {
	Name             string
	Major            uint16
	Minor            uint16
	Build            uint16
	Revision         uint16
	Flags            uint32
	Culture          string
	PublicKeyOrToken []byte
	Module           bool
}

// Version formats the version quadruple.
func (a AssemblyReference) Version() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.Major, a.Minor, a.Build, a.Revision)
}

func (a AssemblyReference) String() string {
	if a.Module {
		return a.Name
	}
	return fmt.Sprintf("%s, Version=%s", a.Name, a.Version())
}

// AssemblyReferences lists the AssemblyRef rows followed by the ModuleRef
// rows. The result does not alias the metadata bytes.
func (md *Metadata) AssemblyReferences() ([]AssemblyReference, error) {
	t, err := md.Tables()
	if err != nil {
		return nil, err
	}
	asmRows, err := t.Rows(AssemblyRef)
	if err != nil {
		return nil, err
	}
	modRows, err := t.Rows(ModuleRef)
	if err != nil {
		return nil, err
	}

	refs := make([]AssemblyReference, 0, len(asmRows)+len(modRows))
	for _, row := range asmRows {
		refs = append(refs, AssemblyReference{
			Name:             row.Str(colAssemblyRefName),
			Major:            uint16(row.Uint(colAssemblyRefMajor)),
			Minor:            uint16(row.Uint(colAssemblyRefMinor)),
			Build:            uint16(row.Uint(colAssemblyRefBuild)),
			Revision:         uint16(row.Uint(colAssemblyRefRevision)),
			Flags:            row.Uint(colAssemblyRefFlags),
			Culture:          row.Str(colAssemblyRefLocale),
			PublicKeyOrToken: bytes.Clone(row.Bytes(colAssemblyRefKey)),
		})
	}
	for _, row := range modRows {
		refs = append(refs, AssemblyReference{Name: row.Str(colModuleRefName), Module: true})
	}
	return refs, nil
}

// TypeRefIndex groups referenced type names by assembly, then namespace.
type TypeRefIndex map[string]map[string][]string

// Assemblies returns the assembly names in sorted order.
func (x TypeRefIndex) Assemblies() []string { return SortedKeys(x) }

// MemberRefIndex groups "name -- signature" entries by assembly, namespace
// and type.
type MemberRefIndex map[string]map[string]map[string][]string

// Assemblies returns the assembly names in sorted order.
func (x MemberRefIndex) Assemblies() []string { return SortedKeys(x) }

// TypeRefs groups the TypeRef rows whose resolution scope is an
// AssemblyRef. Rows scoped to a module, module ref or enclosing type are
// skipped.
func (md *Metadata) TypeRefs() (TypeRefIndex, error) {
	t, err := md.Tables()
	if err != nil {
		return nil, err
	}
	rows, err := t.Rows(TypeRef)
	if err != nil {
		return nil, err
	}

	index := make(TypeRefIndex)
	for _, row := range rows {
		asm, ok, err := t.scopeAssembly(row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ns := index[asm]
		if ns == nil {
			ns = make(map[string][]string)
			index[asm] = ns
		}
		namespace := row.Str(colTypeRefNamespace)
		ns[namespace] = append(ns[namespace], row.Str(colTypeRefName))
	}
	return index, nil
}

// MemberRefs groups the MemberRef rows whose parent is a TypeRef scoped to
// an AssemblyRef. Members of type definitions, specs or methods are
// skipped.
func (md *Metadata) MemberRefs() (MemberRefIndex, error) {
	t, err := md.Tables()
	if err != nil {
		return nil, err
	}
	rows, err := t.Rows(MemberRef)
	if err != nil {
		return nil, err
	}

	index := make(MemberRefIndex)
	for _, row := range rows {
		parent := row.Ref(colMemberRefParent)
		if parent.Table != TypeRef || parent.IsNull() {
			continue
		}
		typeRow, err := t.Row(TypeRef, parent.Index())
		if err != nil {
			return nil, err
		}
		asm, ok, err := t.scopeAssembly(typeRow)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		namespaces := index[asm]
		if namespaces == nil {
			namespaces = make(map[string]map[string][]string)
			index[asm] = namespaces
		}
		namespace := typeRow.Str(colTypeRefNamespace)
		types := namespaces[namespace]
		if types == nil {
			types = make(map[string][]string)
			namespaces[namespace] = types
		}
		typeName := typeRow.Str(colTypeRefName)
		member := fmt.Sprintf("%s -- %s", row.Str(colMemberRefName), FormatBlob(row.Bytes(colMemberRefSignature)))
		types[typeName] = append(types[typeName], member)
	}
	return index, nil
}

// scopeAssembly returns the assembly name a TypeRef row resolves to, or
// false when its scope is not an AssemblyRef.
func (t *Tables) scopeAssembly(typeRow Row) (string, bool, error) {
	scope := typeRow.Ref(colTypeRefScope)
	if scope.Table != AssemblyRef || scope.IsNull() {
		return "", false, nil
	}
	asmRow, err := t.Row(AssemblyRef, scope.Index())
	if err != nil {
		return "", false, err
	}
	return asmRow.Str(colAssemblyRefName), true, nil
}

// SortedKeys returns the keys of m in sorted order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
