package pe

import (
	"fmt"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// ResourceType is a Win32 RT_* resource type id.
type ResourceType uint32

// Resource types.
const (
	RT_CURSOR       ResourceType = 1
	RT_BITMAP       ResourceType = 2
	RT_ICON         ResourceType = 3
	RT_MENU         ResourceType = 4
	RT_DIALOG       ResourceType = 5
	RT_STRING       ResourceType = 6
	RT_FONTDIR      ResourceType = 7
	RT_FONT         ResourceType = 8
	RT_ACCELERATOR  ResourceType = 9
	RT_RCDATA       ResourceType = 10
	RT_MESSAGETABLE ResourceType = 11
	RT_GROUP_CURSOR ResourceType = 12
	RT_GROUP_ICON   ResourceType = 14
	RT_VERSION      ResourceType = 16
	RT_DLGINCLUDE   ResourceType = 17
	RT_PLUGPLAY     ResourceType = 19
	RT_VXD          ResourceType = 20
	RT_ANICURSOR    ResourceType = 21
	RT_ANIICON      ResourceType = 22
	RT_HTML         ResourceType = 23
	RT_MANIFEST     ResourceType = 24
)

var resourceTypeNames = map[ResourceType]string{
	RT_CURSOR:       "Cursor",
	RT_BITMAP:       "Bitmap",
	RT_ICON:         "Icon",
	RT_MENU:         "Menu",
	RT_DIALOG:       "Dialog",
	RT_STRING:       "String",
	RT_FONTDIR:      "FontDir",
	RT_FONT:         "Font",
	RT_ACCELERATOR:  "Accelerator",
	RT_RCDATA:       "RCData",
	RT_MESSAGETABLE: "MessageTable",
	RT_GROUP_CURSOR: "GroupCursor",
	RT_GROUP_ICON:   "GroupIcon",
	RT_VERSION:      "Version",
	RT_DLGINCLUDE:   "DialogInclude",
	RT_PLUGPLAY:     "PlugNPlay",
	RT_VXD:          "VxD",
	RT_ANICURSOR:    "AnimatedCursor",
	RT_ANIICON:      "AnimatedIcon",
	RT_HTML:         "HTML",
	RT_MANIFEST:     "Manifest",
}

func (t ResourceType) String() string {
	if name, ok := resourceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(t))
}

const (
	resourceDirectoryLen = 16
	resourceEntryLen     = 8
	resourceDataEntryLen = 16
	resourceSubdirectory = 0x80000000
	resourceNamed        = 0x80000000
	resourceLevels       = 3
)

// IMAGE_RESOURCE_DIRECTORY structure.
type resourceDirectory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIdEntries    uint16
}

// IMAGE_RESOURCE_DIRECTORY_ENTRY structure.
type resourceDirectoryEntry struct {
	NameOrID                uint32
	OffsetToDataOrDirectory uint32
}

// IMAGE_RESOURCE_DATA_ENTRY structure.
type resourceDataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

// ResourceID names one level of the resource tree: either a numeric id or
// a string name.
type ResourceID struct {
	ID   uint32
	Name string
}

func (id ResourceID) String() string {
	if id.Name != "" {
		return id.Name
	}
	return fmt.Sprintf("#%d", id.ID)
}

// ResourceLeaf is a data entry at the bottom of the resource tree.
type ResourceLeaf struct {
	Type     ResourceID
	Name     ResourceID
	Language ResourceID
	Offset   int64 // file offset of the data
	Size     uint32
	CodePage uint32
}

// resourceFrame is one directory being enumerated on the descent stack.
type resourceFrame struct {
	offset int64 // relative to the resource root
	next   int
	count  int
	path   [resourceLevels]ResourceID
}

// Resources returns every leaf of the resource tree in directory order.
func (img *Image) Resources() ([]ResourceLeaf, error) {
	var leaves []ResourceLeaf
	err := img.walkResources(nil, func(leaf ResourceLeaf) error {
		leaves = append(leaves, leaf)
		return nil
	})
	return leaves, err
}

// walkResources enumerates the resource tree depth-first in directory
// order. When typeFilter is set, only top-level entries it accepts are
// descended into.
func (img *Image) walkResources(typeFilter func(ResourceID) bool, visit func(ResourceLeaf) error) error {
	if !img.isPE {
		return nil
	}
	dir := img.dirs[DirResource]
	if dir.VirtualAddress == 0 {
		return nil
	}
	base, err := img.Rva2Offset(dir.VirtualAddress)
	if err != nil {
		return errors.WithMessage(err, "定位资源目录失败")
	}

	stack := []resourceFrame{{offset: 0, count: -1}}
	for len(stack) > 0 {
		level := len(stack) - 1
		top := &stack[level]
		if top.count < 0 {
			var hdr resourceDirectory
			if err := readStruct(img.src, base+top.offset, resourceDirectoryLen, &hdr); err != nil {
				return errors.WithMessage(err, "读取资源目录失败")
			}
			top.count = int(hdr.NumberOfNamedEntries) + int(hdr.NumberOfIdEntries)
		}
		if top.next >= top.count {
			stack = stack[:level]
			continue
		}
		i := top.next
		top.next++

		var entry resourceDirectoryEntry
		entryOff := base + top.offset + resourceDirectoryLen + int64(i)*resourceEntryLen
		if err := readStruct(img.src, entryOff, resourceEntryLen, &entry); err != nil {
			return errors.WithMessage(err, "读取资源目录项失败")
		}
		id, err := img.resourceID(base, entry.NameOrID)
		if err != nil {
			return err
		}
		if level == 0 && typeFilter != nil && !typeFilter(id) {
			continue
		}
		path := top.path
		path[level] = id

		target := int64(entry.OffsetToDataOrDirectory &^ resourceSubdirectory)
		if entry.OffsetToDataOrDirectory&resourceSubdirectory != 0 {
			if level+1 >= resourceLevels {
				return errors.Wrapf(ErrResourceTree, "第 %d 层出现子目录", level+1)
			}
			stack = append(stack, resourceFrame{offset: target, count: -1, path: path})
			continue
		}

		var data resourceDataEntry
		if err := readStruct(img.src, base+target, resourceDataEntryLen, &data); err != nil {
			return errors.WithMessage(err, "读取资源数据项失败")
		}
		dataOff, err := img.Rva2Offset(data.OffsetToData)
		if err != nil {
			return errors.WithMessage(err, "定位资源数据失败")
		}
		leaf := ResourceLeaf{
			Type:     path[0],
			Name:     path[1],
			Language: path[2],
			Offset:   dataOff,
			Size:     data.Size,
			CodePage: data.CodePage,
		}
		if err := visit(leaf); err != nil {
			return err
		}
	}
	return nil
}

// resourceID decodes an entry name: a numeric id, or an offset to a
// length-prefixed UTF-16 string when the high bit is set.
func (img *Image) resourceID(base int64, nameOrID uint32) (ResourceID, error) {
	if nameOrID&resourceNamed == 0 {
		return ResourceID{ID: nameOrID}, nil
	}
	off := base + int64(nameOrID&^resourceNamed)
	n, err := readU16(img.src, off)
	if err != nil {
		return ResourceID{}, errors.WithMessage(err, "读取资源名称失败")
	}
	b, err := img.src.Slice(off+2, int64(n)*2)
	if err != nil {
		return ResourceID{}, errors.WithMessage(err, "读取资源名称失败")
	}
	u := make([]uint16, n)
	for i := range u {
		u[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return ResourceID{ID: nameOrID, Name: string(utf16.Decode(u))}, nil
}
