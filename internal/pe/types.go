// Package pe is the C3 format engine for PE executables. It works through
// the resource directory (the `.rsrc` section) the way the Mach-O engine
// works through segments and the ELF engine works through sections: every
// kind is a named entry under a fixed resource type, inserted or replaced by
// rebuilding the directory tree and appending it as a new section at file
// end, per spec §4.4.3.
package pe

import (
	"encoding/binary"

	"github.com/socketdev/binject/internal/errs"
)

const (
	dosMagic      = 0x5a4d // "MZ"
	peSigOffset   = 0x3c
	peSignature   = 0x00004550 // "PE\x00\x00"
	coffHeaderLen = 20

	optMagicPE32     = 0x10b
	optMagicPE32Plus = 0x20b

	dataDirResource   = 2
	dataDirSecurity   = 4
	numDataDirEntries = 16
	dataDirEntrySize  = 8

	sectionHeaderSize = 40

	// binjectResourceType is the RT_* value binject's own resources live
	// under. 0xB17C ("BITC"-ish, arbitrary) avoids the standard RT_CURSOR..
	// RT_MANIFEST range (1-24) so a real resource compiler never collides
	// with it.
	binjectResourceType = 0xB17C
)

// coffHeader is the subset of IMAGE_FILE_HEADER this engine reads/rewrites.
type coffHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

func parseCOFFHeader(b []byte, o binary.ByteOrder) coffHeader {
	return coffHeader{
		Machine:              o.Uint16(b[0:2]),
		NumberOfSections:     o.Uint16(b[2:4]),
		TimeDateStamp:        o.Uint32(b[4:8]),
		PointerToSymbolTable: o.Uint32(b[8:12]),
		NumberOfSymbols:      o.Uint32(b[12:16]),
		SizeOfOptionalHeader: o.Uint16(b[16:18]),
		Characteristics:      o.Uint16(b[18:20]),
	}
}

func (h coffHeader) put(b []byte, o binary.ByteOrder) {
	o.PutUint16(b[0:2], h.Machine)
	o.PutUint16(b[2:4], h.NumberOfSections)
	o.PutUint32(b[4:8], h.TimeDateStamp)
	o.PutUint32(b[8:12], h.PointerToSymbolTable)
	o.PutUint32(b[12:16], h.NumberOfSymbols)
	o.PutUint16(b[16:18], h.SizeOfOptionalHeader)
	o.PutUint16(b[18:20], h.Characteristics)
}

// optHeader is the subset of IMAGE_OPTIONAL_HEADER32/64 this engine cares
// about. The fields below are 32 bits wide and sit at the same offsets in
// PE32 and PE32+, so they are held as uint32; is64 records which variant was
// parsed, and put() does not consult it.
type optHeader struct {
	is64             bool
	magic            uint16
	sectionAlignment uint32
	fileAlignment    uint32
	sizeOfImage      uint32
	sizeOfHeaders    uint32
	checkSum         uint32

	// raw carries every byte of the optional header verbatim except the
	// fields above and the data directory table, so untouched fields
	// (entry point, stack sizes, subsystem, ...) round-trip losslessly.
	raw []byte

	numDataDirs uint32
	dataDirs    []dataDirEntry // RVA, Size
}

type dataDirEntry struct {
	RVA, Size uint32
}

const (
	sectionAlignOff = 32
	fileAlignOff    = 36
	sizeOfImageOff  = 56
	sizeOfHeaderOff = 60
	checkSumOff     = 64
	numRvaSizesOff32 = 92
	numRvaSizesOff64 = 108
)

func parseOptHeader(b []byte, o binary.ByteOrder, op string) (*optHeader, error) {
	if len(b) < 2 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	magic := o.Uint16(b[0:2])
	is64 := magic == optMagicPE32Plus
	if magic != optMagicPE32 && !is64 {
		return nil, errs.New(errs.UnsupportedFormat, op)
	}
	numRvaOff := numRvaSizesOff32
	if is64 {
		numRvaOff = numRvaSizesOff64
	}
	if len(b) < numRvaOff+4 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	oh := &optHeader{
		is64:             is64,
		magic:            magic,
		sectionAlignment: o.Uint32(b[sectionAlignOff : sectionAlignOff+4]),
		fileAlignment:    o.Uint32(b[fileAlignOff : fileAlignOff+4]),
		sizeOfImage:      o.Uint32(b[sizeOfImageOff : sizeOfImageOff+4]),
		sizeOfHeaders:    o.Uint32(b[sizeOfHeaderOff : sizeOfHeaderOff+4]),
		checkSum:         o.Uint32(b[checkSumOff : checkSumOff+4]),
		numDataDirs:      o.Uint32(b[numRvaOff : numRvaOff+4]),
	}
	ddStart := numRvaOff + 4
	need := ddStart + int(oh.numDataDirs)*dataDirEntrySize
	if need > len(b) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	oh.raw = append([]byte(nil), b[:ddStart]...)
	for i := uint32(0); i < oh.numDataDirs; i++ {
		off := ddStart + int(i)*dataDirEntrySize
		oh.dataDirs = append(oh.dataDirs, dataDirEntry{
			RVA:  o.Uint32(b[off : off+4]),
			Size: o.Uint32(b[off+4 : off+8]),
		})
	}
	return oh, nil
}

// put re-serializes the optional header, writing back sizeOfImage,
// sizeOfHeaders, checkSum and the data directories (the engine changes
// sizeOfImage, checkSum and the data directories; section/file alignment
// and sizeOfHeaders are left as parsed).
func (oh *optHeader) put(o binary.ByteOrder) []byte {
	buf := append([]byte(nil), oh.raw...)
	o.PutUint32(buf[sizeOfImageOff:sizeOfImageOff+4], oh.sizeOfImage)
	o.PutUint32(buf[sizeOfHeaderOff:sizeOfHeaderOff+4], oh.sizeOfHeaders)
	o.PutUint32(buf[checkSumOff:checkSumOff+4], oh.checkSum)
	for _, dd := range oh.dataDirs {
		b := make([]byte, dataDirEntrySize)
		o.PutUint32(b[0:4], dd.RVA)
		o.PutUint32(b[4:8], dd.Size)
		buf = append(buf, b...)
	}
	return buf
}

// section is the decoded IMAGE_SECTION_HEADER.
type section struct {
	Name                 string // up to 8 bytes, NUL padded
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

func parseSection(b []byte, o binary.ByteOrder) section {
	return section{
		Name:                 cstring8(b[0:8]),
		VirtualSize:          o.Uint32(b[8:12]),
		VirtualAddress:       o.Uint32(b[12:16]),
		SizeOfRawData:        o.Uint32(b[16:20]),
		PointerToRawData:     o.Uint32(b[20:24]),
		PointerToRelocations: o.Uint32(b[24:28]),
		PointerToLinenumbers: o.Uint32(b[28:32]),
		NumberOfRelocations:  o.Uint16(b[32:34]),
		NumberOfLinenumbers:  o.Uint16(b[34:36]),
		Characteristics:      o.Uint32(b[36:40]),
	}
}

func (s section) put(o binary.ByteOrder) []byte {
	buf := make([]byte, sectionHeaderSize)
	putCString8(buf[0:8], s.Name)
	o.PutUint32(buf[8:12], s.VirtualSize)
	o.PutUint32(buf[12:16], s.VirtualAddress)
	o.PutUint32(buf[16:20], s.SizeOfRawData)
	o.PutUint32(buf[20:24], s.PointerToRawData)
	o.PutUint32(buf[24:28], s.PointerToRelocations)
	o.PutUint32(buf[28:32], s.PointerToLinenumbers)
	o.PutUint16(buf[32:34], s.NumberOfRelocations)
	o.PutUint16(buf[34:36], s.NumberOfLinenumbers)
	o.PutUint32(buf[36:40], s.Characteristics)
	return buf
}

func cstring8(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func putCString8(b []byte, s string) {
	n := copy(b, s)
	for i := n; i < len(b); i++ {
		b[i] = 0
	}
}

// roundUp rounds n up to the nearest multiple of align (align must be a
// power of two).
func roundUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

func roundUp64(n uint64, align uint32) uint64 {
	a := uint64(align)
	if a == 0 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}
