package pe

import (
	"encoding/binary"

	"github.com/socketdev/binject/internal/errs"
)

// parsedPE is the decoded view of a PE image this engine mutates. PE is
// always little-endian on disk; there is no swapped-magic variant the way
// Mach-O has.
type parsedPE struct {
	order binary.ByteOrder

	lfanew     uint32
	coff       coffHeader
	coffOffset uint32
	opt        *optHeader
	optOffset  uint32
	sections   []section
	sectionTableOffset uint32
}

func parse(bin []byte, op string) (*parsedPE, error) {
	order := binary.LittleEndian
	if len(bin) < peSigOffset+4 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	if order.Uint16(bin[0:2]) != dosMagic {
		return nil, errs.New(errs.UnsupportedFormat, op)
	}
	lfanew := order.Uint32(bin[peSigOffset : peSigOffset+4])
	if uint64(lfanew)+4+coffHeaderLen > uint64(len(bin)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	if order.Uint32(bin[lfanew:lfanew+4]) != peSignature {
		return nil, errs.New(errs.UnsupportedFormat, op)
	}

	coffOffset := lfanew + 4
	coff := parseCOFFHeader(bin[coffOffset:coffOffset+coffHeaderLen], order)

	optOffset := coffOffset + coffHeaderLen
	if uint64(optOffset)+uint64(coff.SizeOfOptionalHeader) > uint64(len(bin)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	opt, err := parseOptHeader(bin[optOffset:optOffset+uint32(coff.SizeOfOptionalHeader)], order, op)
	if err != nil {
		return nil, err
	}

	sectionTableOffset := optOffset + uint32(coff.SizeOfOptionalHeader)
	need := uint64(sectionTableOffset) + uint64(coff.NumberOfSections)*sectionHeaderSize
	if need > uint64(len(bin)) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	sections := make([]section, coff.NumberOfSections)
	for i := range sections {
		off := sectionTableOffset + uint32(i)*sectionHeaderSize
		sections[i] = parseSection(bin[off:off+sectionHeaderSize], order)
	}

	return &parsedPE{
		order:              order,
		lfanew:             lfanew,
		coff:               coff,
		coffOffset:         coffOffset,
		opt:                opt,
		optOffset:          optOffset,
		sections:           sections,
		sectionTableOffset: sectionTableOffset,
	}, nil
}

// findSection returns the index of the section named name, or -1.
func (p *parsedPE) findSection(name string) int {
	for i, s := range p.sections {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// rvaToFileOffset maps a virtual address to a file offset by locating the
// section whose virtual range contains rva.
func (p *parsedPE) rvaToFileOffset(rva uint32) (uint32, bool) {
	for _, s := range p.sections {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.VirtualSize {
			return s.PointerToRawData + (rva - s.VirtualAddress), true
		}
	}
	return 0, false
}

// resolver builds an rvaResolver bound to bin, for reading leaf resource
// payloads while walking a parsed directory tree.
func (p *parsedPE) resolver(bin []byte) rvaResolver {
	return func(rva, size uint32) ([]byte, uint64, bool) {
		off, ok := p.rvaToFileOffset(rva)
		if !ok {
			return nil, 0, false
		}
		end := uint64(off) + uint64(size)
		if end > uint64(len(bin)) {
			return nil, 0, false
		}
		return bin[off:end], uint64(off), true
	}
}

func (p *parsedPE) resourceDataDir() (dataDirEntry, bool) {
	if int(dataDirResource) >= len(p.opt.dataDirs) {
		return dataDirEntry{}, false
	}
	dd := p.opt.dataDirs[dataDirResource]
	return dd, dd.RVA != 0 && dd.Size != 0
}
