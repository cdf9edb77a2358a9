package macho

import (
	"github.com/socketdev/binject/internal/engine"
	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

// Engine implements engine.Engine for Mach-O (including fat/universal
// wrappers, delegated to fat.go; Remove rejects fat input with
// Err(UnsupportedFormat)). It never touches LC_CODE_SIGNATURE — that
// is the Signature Manager's job, and always runs before this engine does
// per the orchestrator's ordering (spec §4.5).
type Engine struct{}

var _ engine.Engine = Engine{}

func segNamesFor(kind resource.Kind) (string, string, bool) {
	n, ok := resource.NamesFor(kind)
	if !ok {
		return "", "", false
	}
	return n.MachOSegment, n.MachOSection, true
}

// List implements engine.Engine.
func (Engine) List(bin []byte) ([]engine.Summary, error) {
	const op = "macho.List"
	if IsFat(bin) {
		return fatList(bin, op)
	}
	pf, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	return listFromParsed(pf, bin), nil
}

func listFromParsed(pf *parsedFile, bin []byte) []engine.Summary {
	var out []engine.Summary
	for _, kind := range []resource.Kind{resource.SEA, resource.VFS, resource.SMOLCompressed} {
		segName, _, _ := segNamesFor(kind)
		idx := pf.findSegment(segName)
		if idx < 0 {
			continue
		}
		seg := pf.loads[idx].seg
		if len(seg.Sections) == 0 || seg.Sections[0].Size == 0 {
			continue
		}
		sec := seg.Sections[0]
		if uint64(sec.Offset)+sec.Size > uint64(len(bin)) {
			continue
		}
		raw := bin[sec.Offset : uint64(sec.Offset)+sec.Size]
		rec, err := resource.Decode(raw)
		if err != nil {
			continue
		}
		out = append(out, engine.Summary{
			Kind:       kind,
			Container:  seg.Name,
			FileOffset: uint64(sec.Offset),
			PayloadLen: uint64(len(rec.Payload)),
			Checksum:   resource.Checksum(rec.Payload),
		})
	}
	return out
}

// Validate implements engine.Engine. Fat binaries delegate per-slice.
func (Engine) Validate(bin []byte) error {
	const op = "macho.Validate"
	if IsFat(bin) {
		return fatValidate(bin, op)
	}
	pf, err := parse(bin, op)
	if err != nil {
		return err
	}
	return validateParsed(pf, bin, op)
}

func validateParsed(pf *parsedFile, bin []byte, op string) error {
	counts := map[string]int{}
	for _, kind := range []resource.Kind{resource.SEA, resource.VFS, resource.SMOLCompressed} {
		segName, _, ok := segNamesFor(kind)
		if !ok {
			continue
		}
		for _, l := range pf.loads {
			if l.seg != nil && l.seg.Name == segName {
				counts[segName]++
			}
		}
		if counts[segName] > 1 {
			return errs.New(errs.MalformedBinary, op)
		}
	}
	for _, l := range pf.loads {
		if l.seg == nil {
			continue
		}
		for _, sec := range l.seg.Sections {
			if sec.Size == 0 {
				continue
			}
			if uint64(sec.Offset)+sec.Size > uint64(len(bin)) {
				return errs.New(errs.MalformedBinary, op)
			}
		}
	}
	return nil
}

// Find implements engine.Engine.
func (e Engine) Find(bin []byte, kind resource.Kind) (*resource.Record, *engine.Summary, error) {
	const op = "macho.Find"
	if IsFat(bin) {
		// As in fatList, the first slice that parses answers for the whole
		// file; the summary's FileOffset is relative to that slice.
		archs, err := parseFat(bin, op)
		if err != nil {
			return nil, nil, err
		}
		for _, a := range archs {
			slice := bin[a.Offset : a.Offset+a.Size]
			if _, err := parse(slice, op); err != nil {
				continue
			}
			return e.Find(slice, kind)
		}
		return nil, nil, errs.New(errs.NotFound, op)
	}
	pf, err := parse(bin, op)
	if err != nil {
		return nil, nil, err
	}
	segName, _, ok := segNamesFor(kind)
	if !ok {
		return nil, nil, errs.New(errs.NotFound, op)
	}
	idx := pf.findSegment(segName)
	if idx < 0 {
		return nil, nil, errs.New(errs.NotFound, op)
	}
	seg := pf.loads[idx].seg
	if len(seg.Sections) == 0 || seg.Sections[0].Size == 0 {
		return nil, nil, errs.New(errs.NotFound, op)
	}
	sec := seg.Sections[0]
	if uint64(sec.Offset)+sec.Size > uint64(len(bin)) {
		return nil, nil, errs.New(errs.MalformedBinary, op)
	}
	raw := bin[sec.Offset : uint64(sec.Offset)+sec.Size]
	rec, err := resource.Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return rec, &engine.Summary{
		Kind:       kind,
		Container:  seg.Name,
		FileOffset: uint64(sec.Offset),
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

// InsertOrReplace implements engine.Engine, following the §4.4.1 algorithm:
// replace in place (reusing the load command) when the kind's segment
// already exists, or append a brand-new single-section LC_SEGMENT_64 when it
// doesn't, always placing payload bytes past the current end of file.
func (e Engine) InsertOrReplace(bin []byte, kind resource.Kind, payload []byte) ([]byte, error) {
	const op = "macho.InsertOrReplace"
	if IsFat(bin) {
		return fatInsertOrReplace(bin, kind, payload, op)
	}
	pf, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	segName, secName, ok := segNamesFor(kind)
	if !ok {
		return nil, errs.New(errs.InvalidArg, op)
	}
	encoded, err := resource.Encode(kind, payload)
	if err != nil {
		return nil, err
	}

	idx := pf.findSegment(segName)
	if idx >= 0 {
		return replaceExisting(bin, pf, idx, encoded, op)
	}
	return appendNewSegment(bin, pf, segName, secName, encoded, op)
}

func replaceExisting(bin []byte, pf *parsedFile, idx int, encoded []byte, op string) ([]byte, error) {
	l := pf.loads[idx]
	seg := *l.seg
	oldOff, oldSize := seg.FileOff, seg.FileSize
	origLen := uint64(len(bin))

	truncateLen := origLen
	if oldOff+oldSize == origLen {
		truncateLen = oldOff
	}

	newOff := roundUp4(truncateLen)
	if newOff > uint64(^uint32(0)) || newOff+uint64(len(encoded)) > uint64(^uint32(0)) {
		return nil, errs.New(errs.SizeOverflow, op)
	}

	out := make([]byte, truncateLen, newOff+uint64(len(encoded)))
	copy(out, bin[:truncateLen])
	out = append(out, make([]byte, newOff-truncateLen)...)
	out = append(out, encoded...)

	patchSegmentFields(out, pf.order, pf.is64, l.cmdOffset, l.cmdSize, seg, newOff, uint64(len(encoded)))
	return out, nil
}

func appendNewSegment(bin []byte, pf *parsedFile, segName, secName string, encoded []byte, op string) ([]byte, error) {
	slackStart := pf.loadsEnd
	slackEnd := pf.firstSectionDataOffset()

	origLen := uint64(len(bin))
	newOff := roundUp4(origLen)
	if newOff+uint64(len(encoded)) > uint64(^uint32(0)) {
		return nil, errs.New(errs.SizeOverflow, op)
	}
	vmaddr := pf.nextVMAddr()

	newSeg := segment{
		Name:     segName,
		VMAddr:   vmaddr,
		VMSize:   roundUp16(uint64(len(encoded))),
		FileOff:  newOff,
		FileSize: uint64(len(encoded)),
		MaxProt:  vmProtRead,
		InitProt: vmProtRead,
		Sections: []section{{
			Name:    secName,
			SegName: segName,
			Addr:    vmaddr,
			Size:    uint64(len(encoded)),
			Offset:  uint32(newOff),
			Align:   2, // 2^2 = 4-byte alignment
		}},
	}
	cmdBytes := newSeg.put(pf.order, pf.is64)

	if uint64(slackStart)+uint64(len(cmdBytes)) > slackEnd {
		return nil, errs.New(errs.InsufficientHeaderSlack, op)
	}

	out := append([]byte(nil), bin...)
	copy(out[slackStart:slackStart+len(cmdBytes)], cmdBytes)
	pf.order.PutUint32(out[16:20], pf.header.NCommands+1)
	pf.order.PutUint32(out[20:24], pf.header.SizeCommands+uint32(len(cmdBytes)))

	pad := newOff - origLen
	out = append(out, make([]byte, pad)...)
	out = append(out, encoded...)
	return out, nil
}

// Remove implements engine.Engine. It never shrinks the load command table
// (that would shift every byte offset referenced elsewhere in the file) —
// instead it zeros the segment's file size so List/Find/Extract treat it as
// absent, leaving an inert, zero-length load command in place.
func (e Engine) Remove(bin []byte, kind resource.Kind) ([]byte, error) {
	const op = "macho.Remove"
	if IsFat(bin) {
		return nil, errs.New(errs.UnsupportedFormat, op)
	}
	pf, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	segName, _, ok := segNamesFor(kind)
	if !ok {
		return nil, errs.New(errs.InvalidArg, op)
	}
	idx := pf.findSegment(segName)
	if idx < 0 {
		return nil, errs.New(errs.NotFound, op)
	}
	l := pf.loads[idx]
	out := append([]byte(nil), bin...)
	patchSegmentFields(out, pf.order, pf.is64, l.cmdOffset, l.cmdSize, *l.seg, l.seg.FileOff, 0)
	return out, nil
}
