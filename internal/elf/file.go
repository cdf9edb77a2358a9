package elf

import (
	"github.com/socketdev/binject/internal/errs"
)

type parsedELF struct {
	hdr      *header
	sections []shdr
}

func parse(bin []byte, op string) (*parsedELF, error) {
	h, err := parseHeader(bin, op)
	if err != nil {
		return nil, err
	}
	if h.eShnum == 0 {
		return &parsedELF{hdr: h}, nil
	}
	entSize := shdrSize(h.is64)
	if int(h.eShentsize) != 0 && int(h.eShentsize) != entSize {
		// Non-standard entsize is legal in the ELF spec (extra padding) but
		// this engine only knows the canonical layout.
		return nil, errs.New(errs.MalformedBinary, op)
	}
	need := h.eShoff + uint64(h.eShnum)*uint64(entSize)
	if need > uint64(len(bin)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	sections := make([]shdr, h.eShnum)
	for i := range sections {
		start := h.eShoff + uint64(i)*uint64(entSize)
		sections[i] = parseShdr(bin[start:start+uint64(entSize)], h.order, h.is64)
	}
	return &parsedELF{hdr: h, sections: sections}, nil
}

// shstrtab returns the raw bytes of the section-name string table.
func (p *parsedELF) shstrtab(bin []byte, op string) ([]byte, error) {
	if int(p.hdr.eShstrndx) >= len(p.sections) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	s := p.sections[p.hdr.eShstrndx]
	if s.Offset+s.Size > uint64(len(bin)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	return bin[s.Offset : s.Offset+s.Size], nil
}

func nameAt(strtab []byte, off uint32) string {
	if int(off) >= len(strtab) {
		return ""
	}
	end := int(off)
	for end < len(strtab) && strtab[end] != 0 {
		end++
	}
	return string(strtab[off:end])
}

// findSectionByName returns the index of the section whose name (resolved
// through shstrtab) equals name, or -1.
func (p *parsedELF) findSectionByName(bin []byte, name, op string) (int, error) {
	strtab, err := p.shstrtab(bin, op)
	if err != nil {
		return -1, err
	}
	for i, s := range p.sections {
		if nameAt(strtab, s.Name) == name {
			return i, nil
		}
	}
	return -1, nil
}

// appendName appends name (NUL-terminated) to strtab and returns the grown
// table plus the byte offset the new name starts at.
func appendName(strtab []byte, name string) ([]byte, uint32) {
	off := uint32(len(strtab))
	out := make([]byte, 0, len(strtab)+len(name)+1)
	out = append(out, strtab...)
	out = append(out, []byte(name)...)
	out = append(out, 0)
	return out, off
}
