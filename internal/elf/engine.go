package elf

import (
	"github.com/socketdev/binject/internal/engine"
	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

// Engine implements engine.Engine for ELF32/64, both endiannesses. It never
// touches program headers — only the section header table, a trailing
// .shstrtab, and appended payload data move, per spec §4.4.2.
type Engine struct{}

var _ engine.Engine = Engine{}

func secNameFor(kind resource.Kind) (string, bool) {
	n, ok := resource.NamesFor(kind)
	if !ok {
		return "", false
	}
	return n.ELFSection, true
}

// List implements engine.Engine.
func (Engine) List(bin []byte) ([]engine.Summary, error) {
	const op = "elf.List"
	p, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	var out []engine.Summary
	for _, kind := range []resource.Kind{resource.SEA, resource.VFS, resource.SMOLCompressed} {
		name, _ := secNameFor(kind)
		idx, err := p.findSectionByName(bin, name, op)
		if err != nil || idx < 0 {
			continue
		}
		s := p.sections[idx]
		if s.Offset+s.Size > uint64(len(bin)) {
			continue
		}
		rec, err := resource.Decode(bin[s.Offset : s.Offset+s.Size])
		if err != nil {
			continue
		}
		out = append(out, engine.Summary{
			Kind:       kind,
			Container:  name,
			FileOffset: s.Offset,
			PayloadLen: uint64(len(rec.Payload)),
			Checksum:   resource.Checksum(rec.Payload),
		})
	}
	return out, nil
}

// Validate implements engine.Engine.
func (Engine) Validate(bin []byte) error {
	const op = "elf.Validate"
	p, err := parse(bin, op)
	if err != nil {
		return err
	}
	strtab, err := p.shstrtab(bin, op)
	if err != nil {
		return err
	}
	for _, kind := range []resource.Kind{resource.SEA, resource.VFS, resource.SMOLCompressed} {
		name, ok := secNameFor(kind)
		if !ok {
			continue
		}
		count := 0
		for _, s := range p.sections {
			if nameAt(strtab, s.Name) == name {
				count++
			}
		}
		if count > 1 {
			return errs.New(errs.MalformedBinary, op)
		}
	}
	for _, s := range p.sections {
		if s.Size == 0 {
			continue
		}
		if s.Offset+s.Size > uint64(len(bin)) {
			return errs.New(errs.MalformedBinary, op)
		}
	}
	return nil
}

// Find implements engine.Engine.
func (e Engine) Find(bin []byte, kind resource.Kind) (*resource.Record, *engine.Summary, error) {
	const op = "elf.Find"
	p, err := parse(bin, op)
	if err != nil {
		return nil, nil, err
	}
	name, ok := secNameFor(kind)
	if !ok {
		return nil, nil, errs.New(errs.NotFound, op)
	}
	idx, err := p.findSectionByName(bin, name, op)
	if err != nil {
		return nil, nil, err
	}
	if idx < 0 {
		return nil, nil, errs.New(errs.NotFound, op)
	}
	s := p.sections[idx]
	if s.Offset+s.Size > uint64(len(bin)) {
		return nil, nil, errs.New(errs.MalformedBinary, op)
	}
	rec, err := resource.Decode(bin[s.Offset : s.Offset+s.Size])
	if err != nil {
		return nil, nil, err
	}
	return rec, &engine.Summary{
		Kind:       kind,
		Container:  name,
		FileOffset: s.Offset,
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

// InsertOrReplace implements engine.Engine per §4.4.2: append payload bytes
// at file end (8-byte aligned), reuse or append a section header entry, grow
// .shstrtab if the name is new, then move the section header table itself
// to file end.
func (e Engine) InsertOrReplace(bin []byte, kind resource.Kind, payload []byte) ([]byte, error) {
	const op = "elf.InsertOrReplace"
	p, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	name, ok := secNameFor(kind)
	if !ok {
		return nil, errs.New(errs.InvalidArg, op)
	}
	encoded, err := resource.Encode(kind, payload)
	if err != nil {
		return nil, err
	}

	out := append([]byte(nil), bin...)

	strtab, err := p.shstrtab(bin, op)
	if err != nil {
		return nil, err
	}
	sections := append([]shdr(nil), p.sections...)

	idx, err := p.findSectionByName(bin, name, op)
	if err != nil {
		return nil, err
	}

	var nameOff uint32
	if idx >= 0 {
		nameOff = sections[idx].Name
	} else {
		grown, off := appendName(strtab, name)
		strtab = grown
		nameOff = off

		strtabOff := roundUp8(uint64(len(out)))
		out = append(out, make([]byte, strtabOff-uint64(len(out)))...)
		out = append(out, strtab...)
		sections[p.hdr.eShstrndx].Offset = strtabOff
		sections[p.hdr.eShstrndx].Size = uint64(len(strtab))
	}

	maxOffset := ^uint64(0)
	if !p.hdr.is64 {
		maxOffset = uint64(^uint32(0))
	}

	payloadOff := roundUp8(uint64(len(out)))
	if payloadOff+uint64(len(encoded)) > maxOffset {
		return nil, errs.New(errs.SizeOverflow, op)
	}
	out = append(out, make([]byte, payloadOff-uint64(len(out)))...)
	out = append(out, encoded...)

	newSection := shdr{
		Name:      nameOff,
		Type:      shtProgbits,
		Flags:     0,
		Addr:      0,
		Offset:    payloadOff,
		Size:      uint64(len(encoded)),
		Link:      0,
		Info:      0,
		AddrAlign: 1,
		EntSize:   0,
	}
	if idx >= 0 {
		sections[idx] = newSection
	} else {
		sections = append(sections, newSection)
	}

	shoff := roundUp8(uint64(len(out)))
	if shoff > maxOffset {
		return nil, errs.New(errs.SizeOverflow, op)
	}
	out = append(out, make([]byte, shoff-uint64(len(out)))...)
	for _, s := range sections {
		out = append(out, s.put(p.hdr.order, p.hdr.is64)...)
	}

	newHdr := *p.hdr
	newHdr.eShoff = shoff
	newHdr.eShnum = uint16(len(sections))
	newHdr.eShentsize = uint16(shdrSize(p.hdr.is64))
	newHdr.put(out[:ehdrSize(p.hdr.is64)])

	return out, nil
}

// Remove implements engine.Engine by zeroing the section's size in place
// (same rationale as the Mach-O engine's Remove: shrinking the section
// header table would not move anything, but dropping an entry would shift
// every later section's index, which downstream tools key on).
func (e Engine) Remove(bin []byte, kind resource.Kind) ([]byte, error) {
	const op = "elf.Remove"
	p, err := parse(bin, op)
	if err != nil {
		return nil, err
	}
	name, ok := secNameFor(kind)
	if !ok {
		return nil, errs.New(errs.InvalidArg, op)
	}
	idx, err := p.findSectionByName(bin, name, op)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, errs.New(errs.NotFound, op)
	}

	out := append([]byte(nil), bin...)
	entSize := shdrSize(p.hdr.is64)
	shdrStart := p.hdr.eShoff + uint64(idx)*uint64(entSize)
	s := p.sections[idx]
	s.Size = 0
	copy(out[shdrStart:shdrStart+uint64(entSize)], s.put(p.hdr.order, p.hdr.is64))
	return out, nil
}
