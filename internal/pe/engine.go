package pe

import (
	"github.com/socketdev/binject/internal/engine"
	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

// Engine implements engine.Engine for PE executables via the resource
// directory (spec §4.4.3). Every kind lives under the fixed
// binjectResourceType, keyed by its container name as a string resource
// name, language 0. Authenticode signatures (data directory index 4) are
// never regenerated here: InsertOrReplace zeroes that directory entry, and
// nothing in this engine writes a new one.
type Engine struct{}

var _ engine.Engine = Engine{}

func resNameFor(kind resource.Kind) (string, bool) {
	n, ok := resource.NamesFor(kind)
	if !ok {
		return "", false
	}
	return n.PEResource, true
}

func loadResourceRoot(bin []byte, p *parsedPE, op string) (*rDir, error) {
	dd, ok := p.resourceDataDir()
	if !ok {
		return nil, nil
	}
	off, ok := p.rvaToFileOffset(dd.RVA)
	if !ok {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	end := uint64(off) + uint64(dd.Size)
	if end > uint64(len(bin)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	sec := bin[off:end]
	return parseResourceTree(sec, p.resolver(bin), op)
}

// List implements engine.Engine.
func (Engine) List(bin []byte) ([]engine.Summary, error) {
	const op = "pe.List"
	p, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	root, err := loadResourceRoot(bin, p, op)
	if err != nil {
		return nil, err
	}
	var out []engine.Summary
	for _, kind := range []resource.Kind{resource.SEA, resource.VFS, resource.SMOLCompressed} {
		name, _ := resNameFor(kind)
		leaf := findLeaf(root, name)
		if leaf == nil {
			continue
		}
		rec, err := resource.Decode(leaf.data)
		if err != nil {
			continue
		}
		out = append(out, engine.Summary{
			Kind:       kind,
			Container:  name,
			FileOffset: leaf.fileOffset,
			PayloadLen: uint64(len(rec.Payload)),
			Checksum:   resource.Checksum(rec.Payload),
		})
	}
	return out, nil
}

// findLeaf is like findResource but returns the rLeaf (carrying fileOffset)
// rather than just its bytes.
func findLeaf(root *rDir, name string) *rLeaf {
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
	if langEntry == nil {
		return nil
	}
	return langEntry.leaf
}

// Validate implements engine.Engine.
func (Engine) Validate(bin []byte) error {
	const op = "pe.Validate"
	p, err := parse(bin, op)
	if err != nil {
		return err
	}
	for _, s := range p.sections {
		if s.SizeOfRawData == 0 {
			continue
		}
		if uint64(s.PointerToRawData)+uint64(s.SizeOfRawData) > uint64(len(bin)) {
			return errs.New(errs.MalformedBinary, op)
		}
	}
	root, err := loadResourceRoot(bin, p, op)
	if err != nil {
		return err
	}
	var typeEntry *rEntry
	if root != nil {
		typeEntry = root.findEntry(false, "", binjectResourceType)
	}
	for _, kind := range []resource.Kind{resource.SEA, resource.VFS, resource.SMOLCompressed} {
		name, ok := resNameFor(kind)
		if !ok {
			continue
		}
		if typeEntry == nil || typeEntry.subdir == nil {
			continue
		}
		count := 0
		for _, e := range typeEntry.subdir.entries {
			if e.isString && e.name == name {
				count++
			}
		}
		if count > 1 {
			return errs.New(errs.MalformedBinary, op)
		}
		leaf := findLeaf(root, name)
		if leaf != nil && leaf.fileOffset+uint64(len(leaf.data)) > uint64(len(bin)) {
			return errs.New(errs.MalformedBinary, op)
		}
	}
	return nil
}

// Find implements engine.Engine.
func (e Engine) Find(bin []byte, kind resource.Kind) (*resource.Record, *engine.Summary, error) {
	const op = "pe.Find"
	p, err := parse(bin, op)
	if err != nil {
		return nil, nil, err
	}
	name, ok := resNameFor(kind)
	if !ok {
		return nil, nil, errs.New(errs.NotFound, op)
	}
	root, err := loadResourceRoot(bin, p, op)
	if err != nil {
		return nil, nil, err
	}
	leaf := findLeaf(root, name)
	if leaf == nil {
		return nil, nil, errs.New(errs.NotFound, op)
	}
	rec, err := resource.Decode(leaf.data)
	if err != nil {
		return nil, nil, err
	}
	return rec, &engine.Summary{
		Kind:       kind,
		Container:  name,
		FileOffset: leaf.fileOffset,
		PayloadLen: uint64(len(rec.Payload)),
		Checksum:   resource.Checksum(rec.Payload),
	}, nil
}

// Extract implements engine.Engine.
func (e Engine) Extract(bin []byte, kind resource.Kind) ([]byte, error) {
	rec, _, err := e.Find(bin, kind)
	if err != nil {
		return nil, err
	}
	return rec.Payload, nil
}

// InsertOrReplace implements engine.Engine per §4.4.3: parse the resource
// directory, graft the new/replacement entry in, serialize a fresh `.rsrc`
// section at file end, grow the section table if `.rsrc` didn't already
// exist, and update the data directory + image-size fields.
func (e Engine) InsertOrReplace(bin []byte, kind resource.Kind, payload []byte) ([]byte, error) {
	const op = "pe.InsertOrReplace"
	p, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	name, ok := resNameFor(kind)
	if !ok {
		return nil, errs.New(errs.InvalidArg, op)
	}
	encoded, err := resource.Encode(kind, payload)
	if err != nil {
		return nil, err
	}

	root, err := loadResourceRoot(bin, p, op)
	if err != nil {
		return nil, err
	}
	root = insertOrReplaceResource(root, name, encoded)

	existingIdx := p.findSection(".rsrc")
	fileAlign := p.opt.fileAlignment
	if fileAlign == 0 {
		fileAlign = 512
	}
	secAlign := p.opt.sectionAlignment
	if secAlign == 0 {
		secAlign = 4096
	}

	origLen := uint64(len(bin))
	truncateLen := origLen
	var rvaBase uint32
	if existingIdx >= 0 {
		old := p.sections[existingIdx]
		tail := uint64(old.PointerToRawData) + uint64(old.SizeOfRawData)
		if tail == origLen {
			truncateLen = uint64(old.PointerToRawData)
			rvaBase = old.VirtualAddress
		}
	}
	if rvaBase == 0 {
		var maxVA uint32
		for _, s := range p.sections {
			end := roundUp(s.VirtualAddress+s.VirtualSize, secAlign)
			if end > maxVA {
				maxVA = end
			}
		}
		rvaBase = maxVA
	}

	rsrcBytes := serializeResourceTree(root, rvaBase)

	newOff64 := roundUp64(truncateLen, fileAlign)
	if newOff64 > uint64(^uint32(0)) || newOff64+uint64(len(rsrcBytes)) > uint64(^uint32(0)) {
		return nil, errs.New(errs.SizeOverflow, op)
	}
	newOff := uint32(newOff64)

	out := make([]byte, truncateLen, newOff64+uint64(len(rsrcBytes)))
	copy(out, bin[:truncateLen])
	out = append(out, make([]byte, newOff64-truncateLen)...)
	out = append(out, rsrcBytes...)
	rawSize := roundUp(uint32(len(rsrcBytes)), fileAlign)
	out = append(out, make([]byte, uint64(rawSize)-uint64(len(rsrcBytes)))...)

	newSection := section{
		Name:             ".rsrc",
		VirtualSize:      uint32(len(rsrcBytes)),
		VirtualAddress:   rvaBase,
		SizeOfRawData:    rawSize,
		PointerToRawData: newOff,
	}

	sections := append([]section(nil), p.sections...)
	var shOff uint32
	if existingIdx >= 0 {
		sections[existingIdx] = newSection
		shOff = p.sectionTableOffset + uint32(existingIdx)*sectionHeaderSize
	} else {
		need := uint64(p.sectionTableOffset) + uint64(len(sections)+1)*sectionHeaderSize
		if need > uint64(p.opt.sizeOfHeaders) {
			return nil, errs.New(errs.InsufficientHeaderSlack, op)
		}
		shOff = p.sectionTableOffset + uint32(len(p.sections))*sectionHeaderSize
		sections = append(sections, newSection)
	}
	copy(out[shOff:shOff+sectionHeaderSize], newSection.put(p.order))

	var maxVA uint32
	for _, s := range sections {
		end := roundUp(s.VirtualAddress+s.VirtualSize, secAlign)
		if end > maxVA {
			maxVA = end
		}
	}

	// The data directory count is baked into the optional header's declared
	// size (and therefore the section table's offset); growing it would
	// shift every section header, which append-only injection never does.
	if len(p.opt.dataDirs) <= dataDirResource {
		return nil, errs.New(errs.InsufficientHeaderSlack, op)
	}

	newOpt := *p.opt
	newOpt.sizeOfImage = maxVA
	newOpt.dataDirs = append([]dataDirEntry(nil), p.opt.dataDirs...)
	newOpt.dataDirs[dataDirResource] = dataDirEntry{RVA: rvaBase, Size: uint32(len(rsrcBytes))}
	if len(newOpt.dataDirs) > dataDirSecurity {
		newOpt.dataDirs[dataDirSecurity] = dataDirEntry{}
	}
	newOpt.checkSum = 0
	optBytes := newOpt.put(p.order)
	copy(out[p.optOffset:p.optOffset+uint32(len(optBytes))], optBytes)

	if existingIdx < 0 {
		p.order.PutUint16(out[p.coffOffset+2:p.coffOffset+4], uint16(len(sections)))
	}

	cs := computeChecksum(out)
	checksumFieldOff := uint64(p.optOffset) + checkSumOff
	p.order.PutUint32(out[checksumFieldOff:checksumFieldOff+4], cs)

	return out, nil
}

// Remove implements engine.Engine by zeroing the first four bytes of the
// resource's payload in place (same rationale as the Mach-O/ELF engines:
// shrinking the directory tree would require renumbering every sibling
// entry).
func (e Engine) Remove(bin []byte, kind resource.Kind) ([]byte, error) {
	const op = "pe.Remove"
	p, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	name, ok := resNameFor(kind)
	if !ok {
		return nil, errs.New(errs.InvalidArg, op)
	}
	root, err := loadResourceRoot(bin, p, op)
	if err != nil {
		return nil, err
	}
	leaf := findLeaf(root, name)
	if leaf == nil {
		return nil, errs.New(errs.NotFound, op)
	}

	out := append([]byte(nil), bin...)
	// The DATA_ENTRY's Size field sits 4 bytes after OffsetToData; locate it
	// by re-deriving the data entry's file offset from its RVA through the
	// resource section, which parseDataEntry already resolved into
	// leaf.fileOffset being the *payload* offset. The entry struct itself
	// lives in the directory tree, 16 bytes before the payload only when the
	// payload immediately follows its own entry — which is not guaranteed,
	// so instead we zero the payload's first four bytes (the wire-format
	// magic), which resource.Decode rejects with Err(MalformedBinary): List
	// then skips the entry, and Find/Extract return that error.
	if leaf.fileOffset != 0 && len(leaf.data) >= 4 {
		for i := 0; i < 4; i++ {
			out[leaf.fileOffset+uint64(i)] = 0
		}
	}
	return out, nil
}
