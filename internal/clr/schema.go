package clr

import (
	"fmt"
	"math/bits"
)

// Table identifies one of the metadata tables, numbered as in the #~
// stream's valid mask.
type Table uint8

// Metadata tables.
const (
	Module Table = iota
	TypeRef
	TypeDef
	FieldPtr
	Field
	MethodPtr
	Method
	ParamPtr
	Param
	InterfaceImpl
	MemberRef
	Constant
	CustomAttribute
	FieldMarshal
	Permission
	ClassLayout
	FieldLayout
	StandAloneSig
	EventMap
	EventPtr
	Event
	PropertyMap
	PropertyPtr
	Property
	MethodSemantics
	MethodImpl
	ModuleRef
	TypeSpec
	ImplMap
	FieldRVA
	ENCLog
	ENCMap
	Assembly
	AssemblyProcessor
	AssemblyOS
	AssemblyRef
	AssemblyRefProcessor
	AssemblyRefOS
	File
	ExportedType
	ManifestResource
	NestedClass
	TypeTyPar
	MethodTyPar

	// NumTables is the number of tables with a known schema.
	NumTables = 44

	// UserStringHeap stands in a coded-token table list for the #US heap;
	// it has no rows and does not take part in width computation.
	UserStringHeap Table = 0xFF
)

var tableNames = [NumTables]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "Method",
	"ParamPtr", "Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute",
	"FieldMarshal", "Permission", "ClassLayout", "FieldLayout", "StandAloneSig",
	"EventMap", "EventPtr", "Event", "PropertyMap", "PropertyPtr", "Property",
	"MethodSemantics", "MethodImpl", "ModuleRef", "TypeSpec", "ImplMap", "FieldRVA",
	"ENCLog", "ENCMap", "Assembly", "AssemblyProcessor", "AssemblyOS", "AssemblyRef",
	"AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType", "ManifestResource",
	"NestedClass", "TypeTyPar", "MethodTyPar",
}

func (t Table) String() string {
	if t == UserStringHeap {
		return "UserString"
	}
	if int(t) < len(tableNames) {
		return tableNames[t]
	}
	return fmt.Sprintf("Table(%d)", uint8(t))
}

// CodedKind is a coded-token column encoding.
type CodedKind uint8

// Coded-token kinds.
const (
	TypeDefOrRef CodedKind = iota
	HasConstant
	CustomAttributeType
	HasSemantic
	ResolutionScope
	HasFieldMarshal
	HasDeclSecurity
	MemberRefParent
	MethodDefOrRef
	MemberForwarded
	Implementation
	HasCustomAttribute

	numCodedKinds = 12
)

var codedNames = [numCodedKinds]string{
	"TypeDefOrRef", "HasConstant", "CustomAttributeType", "HasSemantic",
	"ResolutionScope", "HasFieldMarshal", "HasDeclSecurity", "MemberRefParent",
	"MethodDefOrRef", "MemberForwarded", "Implementation", "HasCustomAttribute",
}

func (k CodedKind) String() string {
	if int(k) < len(codedNames) {
		return codedNames[k]
	}
	return fmt.Sprintf("CodedKind(%d)", uint8(k))
}

// codedTables lists, per coded kind, the table selected by each tag value.
var codedTables = [numCodedKinds][]Table{
	TypeDefOrRef:        {TypeDef, TypeRef, TypeSpec},
	HasConstant:         {Field, Param, Property},
	CustomAttributeType: {TypeRef, TypeDef, Method, MemberRef, UserStringHeap},
	HasSemantic:         {Event, Property},
	ResolutionScope:     {Module, ModuleRef, AssemblyRef, TypeRef},
	HasFieldMarshal:     {Field, Param},
	HasDeclSecurity:     {TypeDef, Method, Assembly},
	MemberRefParent:     {TypeDef, TypeRef, ModuleRef, Method, TypeSpec},
	MethodDefOrRef:      {Method, MemberRef},
	MemberForwarded:     {Field, Method},
	Implementation:      {File, AssemblyRef, ExportedType},
	HasCustomAttribute: {
		Method, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef, Module,
		Permission, Property, Event, StandAloneSig, ModuleRef, TypeSpec, Assembly,
		AssemblyRef, File, ExportedType, ManifestResource,
	},
}

// Tables returns the tables a coded kind may reference, in tag order.
func (k CodedKind) Tables() []Table {
	if k >= numCodedKinds {
		return nil
	}
	return codedTables[k]
}

// TagBits returns the width of the tag: ceil(log2(n)) for n referenced tables.
func (k CodedKind) TagBits() uint {
	if k >= numCodedKinds {
		return 0
	}
	return uint(bits.Len(uint(len(codedTables[k]) - 1)))
}

// ColumnType is the encoding of one table column.
type ColumnType uint8

// Column encodings.
const (
	ColUint16 ColumnType = iota
	ColUint32
	ColString
	ColBlob
	ColGUID
	ColRowID
	ColCoded
)

// Column describes one column of a table schema.
type Column struct {
	Name  string
	Type  ColumnType
	Table Table     // referenced table for ColRowID
	Coded CodedKind // encoding for ColCoded
}

func u16(name string) Column { return Column{Name: name, Type: ColUint16} }
func u32(name string) Column { return Column{Name: name, Type: ColUint32} }
func str(name string) Column { return Column{Name: name, Type: ColString} }
func blob(name string) Column { return Column{Name: name, Type: ColBlob} }
func guid(name string) Column { return Column{Name: name, Type: ColGUID} }
func rid(name string, t Table) Column {
	return Column{Name: name, Type: ColRowID, Table: t}
}
func coded(name string, k CodedKind) Column {
	return Column{Name: name, Type: ColCoded, Coded: k}
}

// schema is the column layout of every table. It is never modified.
var schema = [NumTables][]Column{
	Module:          {u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},
	TypeRef:         {coded("ResolutionScope", ResolutionScope), str("Name"), str("Namespace")},
	TypeDef:         {u32("Flags"), str("Name"), str("Namespace"), coded("Extends", TypeDefOrRef), rid("FieldList", Field), rid("MethodList", Method)},
	FieldPtr:        {rid("Field", Field)},
	Field:           {u16("Flags"), str("Name"), blob("Signature")},
	MethodPtr:       {rid("Method", Method)},
	Method:          {u32("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"), rid("ParamList", Param)},
	ParamPtr:        {rid("Param", Param)},
	Param:           {u16("Flags"), u16("Sequence"), str("Name")},
	InterfaceImpl:   {rid("Class", TypeDef), coded("Interface", TypeDefOrRef)},
	MemberRef:       {coded("Class", MemberRefParent), str("Name"), blob("Signature")},
	Constant:        {u16("Type"), coded("Parent", HasConstant), blob("Value")},
	CustomAttribute: {coded("Parent", HasCustomAttribute), coded("Type", CustomAttributeType), blob("Value")},
	FieldMarshal:    {coded("Parent", HasFieldMarshal), blob("NativeType")},
	Permission:      {u16("Action"), coded("Parent", HasDeclSecurity), blob("PermissionSet")},
	ClassLayout:     {u16("PackingSize"), u32("ClassSize"), rid("Parent", TypeDef)},
	FieldLayout:     {u32("Offset"), rid("Field", Field)},
	StandAloneSig:   {blob("Signature")},
	EventMap:        {rid("Parent", TypeDef), rid("EventList", Event)},
	EventPtr:        {rid("Event", Event)},
	Event:           {u16("EventFlags"), str("Name"), coded("EventType", TypeDefOrRef)},
	PropertyMap:     {rid("Parent", TypeDef), rid("PropertyList", Property)},
	PropertyPtr:     {rid("Property", Property)},
	Property:        {u16("PropFlags"), str("Name"), blob("Type")},
	MethodSemantics: {u16("Semantic"), rid("Method", Method), coded("Association", HasSemantic)},
	MethodImpl:      {rid("Class", TypeDef), coded("MethodBody", MethodDefOrRef), coded("MethodDeclaration", MethodDefOrRef)},
	ModuleRef:       {str("Name")},
	TypeSpec:        {blob("Signature")},
	ImplMap:         {u16("MappingFlags"), coded("MemberForwarded", MemberForwarded), str("ImportName"), rid("ImportScope", ModuleRef)},
	FieldRVA:        {u32("RVA"), rid("Field", Field)},
	ENCLog:          {u32("Token"), u32("FuncCode")},
	ENCMap:          {u32("Token")},
	Assembly: {
		u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"),
		u16("RevisionNumber"), u32("Flags"), blob("PublicKey"), str("Name"), str("Locale"),
	},
	AssemblyProcessor: {u32("Processor")},
	AssemblyOS:        {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion")},
	AssemblyRef: {
		u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"),
		u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Locale"), blob("HashValue"),
	},
	AssemblyRefProcessor: {u32("Processor"), rid("AssemblyRef", AssemblyRef)},
	AssemblyRefOS:        {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion"), rid("AssemblyRef", AssemblyRef)},
	File:                 {u32("Flags"), str("Name"), blob("HashValue")},
	ExportedType:         {u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"), coded("Implementation", Implementation)},
	ManifestResource:     {u32("Offset"), u32("Flags"), str("Name"), coded("Implementation", Implementation)},
	NestedClass:          {rid("NestedClass", TypeDef), rid("EnclosingClass", TypeDef)},
	TypeTyPar:            {u16("Number"), rid("Class", TypeDef), coded("Bound", TypeDefOrRef), str("Name")},
	MethodTyPar:          {u16("Number"), rid("Method", Method), coded("Bound", TypeDefOrRef), str("Name")},
}

// Columns returns the schema of t.
func (t Table) Columns() []Column {
	if int(t) >= NumTables {
		return nil
	}
	return schema[t]
}

// Column indices used by the reference queries.
const (
	colTypeRefScope     = 0
	colTypeRefName      = 1
	colTypeRefNamespace = 2

	colMemberRefParent    = 0
	colMemberRefName      = 1
	colMemberRefSignature = 2

	colAssemblyRefMajor    = 0
	colAssemblyRefMinor    = 1
	colAssemblyRefBuild    = 2
	colAssemblyRefRevision = 3
	colAssemblyRefFlags    = 4
	colAssemblyRefKey      = 5
	colAssemblyRefName     = 6
	colAssemblyRefLocale   = 7

	colModuleRefName = 0
)
