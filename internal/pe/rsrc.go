package pe

import (
	"encoding/binary"
	"sort"
	"unicode/utf16"

	"github.com/socketdev/binject/internal/errs"
)

// rLeaf is a single IMAGE_RESOURCE_DATA_ENTRY's payload.
type rLeaf struct {
	data       []byte
	codePage   uint32
	fileOffset uint64 // 0 for freshly-inserted leaves that don't exist on disk yet
}

// rEntry is one IMAGE_RESOURCE_DIRECTORY_ENTRY: a key (numeric id or string
// name) paired with exactly one of a child directory or a leaf.
type rEntry struct {
	id       uint32
	isString bool
	name     string
	subdir   *rDir
	leaf     *rLeaf
}

// rDir is one IMAGE_RESOURCE_DIRECTORY plus its entries.
type rDir struct {
	entries []*rEntry
}

// rvaResolver maps a virtual address to file-offset bytes plus the absolute
// file offset itself, so leaf data entries (whose OffsetToData is an RVA,
// not a section-relative offset) can be read directly into memory while
// walking the tree.
type rvaResolver func(rva, size uint32) (data []byte, fileOffset uint64, ok bool)

// parseResourceTree walks an existing `.rsrc` section's directory tree
// (type -> name -> language, per the Windows resource format) into an rDir,
// so insertOrReplaceResource can graft one entry in without disturbing any
// other resource (icons, version info, manifests, ...) already present.
func parseResourceTree(sec []byte, resolve rvaResolver, op string) (*rDir, error) {
	return parseDir(sec, 0, resolve, op, 0)
}

func parseDir(sec []byte, off uint32, resolve rvaResolver, op string, depth int) (*rDir, error) {
	if depth > 8 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	if uint64(off)+16 > uint64(len(sec)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	order := binary.LittleEndian
	numNamed := order.Uint16(sec[off+12 : off+14])
	numID := order.Uint16(sec[off+14 : off+16])
	total := int(numNamed) + int(numID)

	d := &rDir{}
	entryBase := off + 16
	for i := 0; i < total; i++ {
		eOff := entryBase + uint32(i)*8
		if uint64(eOff)+8 > uint64(len(sec)) {
			return nil, errs.New(errs.MalformedBinary, op)
		}
		nameField := order.Uint32(sec[eOff : eOff+4])
		dataField := order.Uint32(sec[eOff+4 : eOff+8])

		e := &rEntry{}
		if nameField&0x80000000 != 0 {
			strOff := nameField &^ 0x80000000
			name, err := readResourceString(sec, strOff, op)
			if err != nil {
				return nil, err
			}
			e.isString = true
			e.name = name
		} else {
			e.id = nameField
		}

		if dataField&0x80000000 != 0 {
			childOff := dataField &^ 0x80000000
			sub, err := parseDir(sec, childOff, resolve, op, depth+1)
			if err != nil {
				return nil, err
			}
			e.subdir = sub
		} else {
			leaf, err := parseDataEntry(sec, dataField, resolve, op)
			if err != nil {
				return nil, err
			}
			e.leaf = leaf
		}
		d.entries = append(d.entries, e)
	}
	return d, nil
}

func readResourceString(sec []byte, off uint32, op string) (string, error) {
	if uint64(off)+2 > uint64(len(sec)) {
		return "", errs.New(errs.MalformedBinary, op)
	}
	order := binary.LittleEndian
	n := order.Uint16(sec[off : off+2])
	start := off + 2
	if uint64(start)+uint64(n)*2 > uint64(len(sec)) {
		return "", errs.New(errs.MalformedBinary, op)
	}
	units := make([]uint16, n)
	for i := uint16(0); i < n; i++ {
		units[i] = order.Uint16(sec[start+uint32(i)*2 : start+uint32(i)*2+2])
	}
	return string(utf16.Decode(units)), nil
}

// parseDataEntry reads an IMAGE_RESOURCE_DATA_ENTRY and resolves its payload
// bytes immediately via resolve, since OffsetToData there is an RVA
// (relative to the image), not a section-relative offset.
func parseDataEntry(sec []byte, off uint32, resolve rvaResolver, op string) (*rLeaf, error) {
	if uint64(off)+16 > uint64(len(sec)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	order := binary.LittleEndian
	dataRVA := order.Uint32(sec[off : off+4])
	size := order.Uint32(sec[off+4 : off+8])
	codePage := order.Uint32(sec[off+8 : off+12])
	data, fileOff, ok := resolve(dataRVA, size)
	if !ok {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	return &rLeaf{data: data, codePage: codePage, fileOffset: fileOff}, nil
}

// findEntry returns the entry in d matching the (isString,name,id) key, or
// nil.
func (d *rDir) findEntry(isString bool, name string, id uint32) *rEntry {
	for _, e := range d.entries {
		if e.isString == isString && (isString && e.name == name || !isString && e.id == id) {
			return e
		}
	}
	return nil
}

// insertOrReplaceResource grafts payload under (binjectResourceType, name,
// lang=0) into root, creating the type/name/lang directory chain as needed,
// without touching any other entry.
func insertOrReplaceResource(root *rDir, name string, payload []byte) *rDir {
	if root == nil {
		root = &rDir{}
	}
	typeEntry := root.findEntry(false, "", binjectResourceType)
	if typeEntry == nil {
		typeEntry = &rEntry{id: binjectResourceType, subdir: &rDir{}}
		root.entries = append(root.entries, typeEntry)
	} else if typeEntry.subdir == nil {
		typeEntry.subdir = &rDir{}
	}

	nameEntry := typeEntry.subdir.findEntry(true, name, 0)
	if nameEntry == nil {
		nameEntry = &rEntry{isString: true, name: name, subdir: &rDir{}}
		typeEntry.subdir.entries = append(typeEntry.subdir.entries, nameEntry)
	} else if nameEntry.subdir == nil {
		nameEntry.subdir = &rDir{}
	}

	langEntry := nameEntry.subdir.findEntry(false, "", 0)
	if langEntry == nil {
		langEntry = &rEntry{id: 0, leaf: &rLeaf{data: payload}}
		nameEntry.subdir.entries = append(nameEntry.subdir.entries, langEntry)
	} else {
		langEntry.leaf = &rLeaf{data: payload}
	}
	return root
}

// findResource returns the raw payload bytes for (binjectResourceType,
// name, lang=0), or nil if absent.
func findResource(root *rDir, name string) []byte {
	if root == nil {
		return nil
	}
	typeEntry := root.findEntry(false, "", binjectResourceType)
	if typeEntry == nil || typeEntry.subdir == nil {
		return nil
	}
	nameEntry := typeEntry.subdir.findEntry(true, name, 0)
	if nameEntry == nil || nameEntry.subdir == nil {
		return nil
	}
	langEntry := nameEntry.subdir.findEntry(false, "", 0)
	if langEntry == nil || langEntry.leaf == nil {
		return nil
	}
	return langEntry.leaf.data
}

// --- serialization ---

// serializeResourceTree assigns section-relative offsets to every directory, string, and
// leaf data-entry in root, in breadth-first order, then writes the full
// section body. rvaBase is the virtual address the rebuilt section will
// load at, needed because IMAGE_RESOURCE_DATA_ENTRY.OffsetToData is an RVA.
func serializeResourceTree(root *rDir, rvaBase uint32) []byte {
	var dirs []*rDir
	queue := []*rDir{root}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		sortDirEntries(d)
		dirs = append(dirs, d)
		for _, e := range d.entries {
			if e.subdir != nil {
				queue = append(queue, e.subdir)
			}
		}
	}

	var strEntries, leafEntries []*rEntry
	for _, d := range dirs {
		for _, e := range d.entries {
			if e.isString {
				strEntries = append(strEntries, e)
			}
			if e.leaf != nil {
				leafEntries = append(leafEntries, e)
			}
		}
	}

	dirOff := make(map[*rDir]uint32, len(dirs))
	cursor := uint32(0)
	for _, d := range dirs {
		dirOff[d] = cursor
		cursor += 16 + uint32(len(d.entries))*8
	}

	strOff := make(map[*rEntry]uint32, len(strEntries))
	for _, e := range strEntries {
		strOff[e] = cursor
		units := utf16.Encode([]rune(e.name))
		cursor += 2 + uint32(len(units))*2
		cursor = roundUp(cursor, 4)
	}

	leafOff := make(map[*rEntry]uint32, len(leafEntries))
	for _, e := range leafEntries {
		leafOff[e] = cursor
		cursor += 16
	}

	dataOff := make(map[*rEntry]uint32, len(leafEntries))
	for _, e := range leafEntries {
		cursor = roundUp(cursor, 4)
		dataOff[e] = cursor
		cursor += uint32(len(e.leaf.data))
	}

	buf := make([]byte, cursor)
	order := binary.LittleEndian

	for _, d := range dirs {
		base := dirOff[d]
		var named, ids []*rEntry
		for _, e := range d.entries {
			if e.isString {
				named = append(named, e)
			} else {
				ids = append(ids, e)
			}
		}
		order.PutUint16(buf[base+12:base+14], uint16(len(named)))
		order.PutUint16(buf[base+14:base+16], uint16(len(ids)))
		entryBase := base + 16
		for i, e := range d.entries {
			eOff := entryBase + uint32(i)*8
			var nameField uint32
			if e.isString {
				nameField = 0x80000000 | strOff[e]
			} else {
				nameField = e.id
			}
			var dataField uint32
			if e.subdir != nil {
				dataField = 0x80000000 | dirOff[e.subdir]
			} else {
				dataField = leafOff[e]
			}
			order.PutUint32(buf[eOff:eOff+4], nameField)
			order.PutUint32(buf[eOff+4:eOff+8], dataField)
		}
	}

	for _, e := range strEntries {
		off := strOff[e]
		units := utf16.Encode([]rune(e.name))
		order.PutUint16(buf[off:off+2], uint16(len(units)))
		for i, u := range units {
			order.PutUint16(buf[off+2+uint32(i)*2:off+2+uint32(i)*2+2], u)
		}
	}

	for _, e := range leafEntries {
		off := leafOff[e]
		order.PutUint32(buf[off:off+4], rvaBase+dataOff[e])
		order.PutUint32(buf[off+4:off+8], uint32(len(e.leaf.data)))
		order.PutUint32(buf[off+8:off+12], e.leaf.codePage)
		order.PutUint32(buf[off+12:off+16], 0)
		copy(buf[dataOff[e]:dataOff[e]+uint32(len(e.leaf.data))], e.leaf.data)
	}

	return buf
}

func sortDirEntries(d *rDir) {
	sort.SliceStable(d.entries, func(i, j int) bool {
		a, b := d.entries[i], d.entries[j]
		if a.isString != b.isString {
			return a.isString // named entries sort before id entries
		}
		if a.isString {
			return a.name < b.name
		}
		return a.id < b.id
	})
}
