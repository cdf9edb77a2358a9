// Package elf is the C3 format engine for ELF executables (32/64-bit, both
// endiannesses). Unlike the Mach-O engine it never touches program headers —
// only the section header table and a trailing .shstrtab grow, per spec
// §4.4.2's design constraint that loadable segments stay untouched.
package elf

import (
	"encoding/binary"

	"github.com/socketdev/binject/internal/errs"
)

const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7f, 'E', 'L', 'F'

	classNone = 0
	class32   = 1
	class64   = 2

	dataNone = 0
	dataLSB  = 1 // little-endian
	dataMSB  = 2 // big-endian

	shtProgbits = 1
	shtStrtab   = 3
)

// header is the decoded subset of Elf32_Ehdr/Elf64_Ehdr this engine reads
// and rewrites. The entry point and the program/section header offsets are
// held as uint64 for both classes; put() truncates them to 32 bits for ELF32
// without checking, so InsertOrReplace range-checks new offsets (returning
// Err(SizeOverflow)) before it calls put().
type header struct {
	is64      bool
	order     binary.ByteOrder
	identRest [8]byte // e_ident[8:16], passed through unchanged

	eType, eMachine, eVersion uint32
	eEntry, ePhoff            uint64
	eFlags                    uint32
	eEhsize, ePhentsize       uint16
	ePhnum                    uint16
	eShentsize                uint16

	eShoff    uint64
	eShnum    uint16
	eShstrndx uint16
}

func ehdrSize(is64 bool) int {
	if is64 {
		return 64
	}
	return 52
}

func shdrSize(is64 bool) int {
	if is64 {
		return 64
	}
	return 40
}

func parseHeader(b []byte, op string) (*header, error) {
	if len(b) < 20 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	if b[0] != elfMagic0 || b[1] != elfMagic1 || b[2] != elfMagic2 || b[3] != elfMagic3 {
		return nil, errs.New(errs.UnsupportedFormat, op)
	}
	class := b[4]
	data := b[5]
	if class != class32 && class != class64 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	var order binary.ByteOrder
	switch data {
	case dataLSB:
		order = binary.LittleEndian
	case dataMSB:
		order = binary.BigEndian
	default:
		return nil, errs.New(errs.MalformedBinary, op)
	}
	is64 := class == class64
	if len(b) < ehdrSize(is64) {
		return nil, errs.New(errs.MalformedBinary, op)
	}

	h := &header{is64: is64, order: order}
	copy(h.identRest[:], b[8:16])

	h.eType = uint32(order.Uint16(b[16:18]))
	h.eMachine = uint32(order.Uint16(b[18:20]))
	h.eVersion = order.Uint32(b[20:24])

	off := 24
	if is64 {
		h.eEntry = order.Uint64(b[off : off+8])
		h.ePhoff = order.Uint64(b[off+8 : off+16])
		h.eShoff = order.Uint64(b[off+16 : off+24])
		off += 24
	} else {
		h.eEntry = uint64(order.Uint32(b[off : off+4]))
		h.ePhoff = uint64(order.Uint32(b[off+4 : off+8]))
		h.eShoff = uint64(order.Uint32(b[off+8 : off+12]))
		off += 12
	}
	h.eFlags = order.Uint32(b[off : off+4])
	h.eEhsize = order.Uint16(b[off+4 : off+6])
	h.ePhentsize = order.Uint16(b[off+6 : off+8])
	h.ePhnum = order.Uint16(b[off+8 : off+10])
	h.eShentsize = order.Uint16(b[off+10 : off+12])
	h.eShnum = order.Uint16(b[off+12 : off+14])
	h.eShstrndx = order.Uint16(b[off+14 : off+16])

	return h, nil
}

func (h *header) put(b []byte) {
	b[0], b[1], b[2], b[3] = elfMagic0, elfMagic1, elfMagic2, elfMagic3
	if h.is64 {
		b[4] = class64
	} else {
		b[4] = class32
	}
	if h.order == binary.BigEndian {
		b[5] = dataMSB
	} else {
		b[5] = dataLSB
	}
	b[6] = 1 // EV_CURRENT
	copy(b[8:16], h.identRest[:])

	o := h.order
	o.PutUint16(b[16:18], uint16(h.eType))
	o.PutUint16(b[18:20], uint16(h.eMachine))
	o.PutUint32(b[20:24], h.eVersion)

	off := 24
	if h.is64 {
		o.PutUint64(b[off:off+8], h.eEntry)
		o.PutUint64(b[off+8:off+16], h.ePhoff)
		o.PutUint64(b[off+16:off+24], h.eShoff)
		off += 24
	} else {
		o.PutUint32(b[off:off+4], uint32(h.eEntry))
		o.PutUint32(b[off+4:off+8], uint32(h.ePhoff))
		o.PutUint32(b[off+8:off+12], uint32(h.eShoff))
		off += 12
	}
	o.PutUint32(b[off:off+4], h.eFlags)
	o.PutUint16(b[off+4:off+6], h.eEhsize)
	o.PutUint16(b[off+6:off+8], h.ePhentsize)
	o.PutUint16(b[off+8:off+10], h.ePhnum)
	o.PutUint16(b[off+10:off+12], h.eShentsize)
	o.PutUint16(b[off+12:off+14], h.eShnum)
	o.PutUint16(b[off+14:off+16], h.eShstrndx)
}

// shdr is the decoded, width-widened section header.
type shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

func parseShdr(b []byte, o binary.ByteOrder, is64 bool) shdr {
	var s shdr
	s.Name = o.Uint32(b[0:4])
	s.Type = o.Uint32(b[4:8])
	if is64 {
		s.Flags = o.Uint64(b[8:16])
		s.Addr = o.Uint64(b[16:24])
		s.Offset = o.Uint64(b[24:32])
		s.Size = o.Uint64(b[32:40])
		s.Link = o.Uint32(b[40:44])
		s.Info = o.Uint32(b[44:48])
		s.AddrAlign = o.Uint64(b[48:56])
		s.EntSize = o.Uint64(b[56:64])
	} else {
		s.Flags = uint64(o.Uint32(b[8:12]))
		s.Addr = uint64(o.Uint32(b[12:16]))
		s.Offset = uint64(o.Uint32(b[16:20]))
		s.Size = uint64(o.Uint32(b[20:24]))
		s.Link = o.Uint32(b[24:28])
		s.Info = o.Uint32(b[28:32])
		s.AddrAlign = uint64(o.Uint32(b[32:36]))
		s.EntSize = uint64(o.Uint32(b[36:40]))
	}
	return s
}

func (s shdr) put(o binary.ByteOrder, is64 bool) []byte {
	buf := make([]byte, shdrSize(is64))
	o.PutUint32(buf[0:4], s.Name)
	o.PutUint32(buf[4:8], s.Type)
	if is64 {
		o.PutUint64(buf[8:16], s.Flags)
		o.PutUint64(buf[16:24], s.Addr)
		o.PutUint64(buf[24:32], s.Offset)
		o.PutUint64(buf[32:40], s.Size)
		o.PutUint32(buf[40:44], s.Link)
		o.PutUint32(buf[44:48], s.Info)
		o.PutUint64(buf[48:56], s.AddrAlign)
		o.PutUint64(buf[56:64], s.EntSize)
	} else {
		o.PutUint32(buf[8:12], uint32(s.Flags))
		o.PutUint32(buf[12:16], uint32(s.Addr))
		o.PutUint32(buf[16:20], uint32(s.Offset))
		o.PutUint32(buf[20:24], uint32(s.Size))
		o.PutUint32(buf[24:28], s.Link)
		o.PutUint32(buf[28:32], s.Info)
		o.PutUint32(buf[32:36], uint32(s.AddrAlign))
		o.PutUint32(buf[36:40], uint32(s.EntSize))
	}
	return buf
}

// roundUp8 aligns n up to an 8-byte boundary (spec §4.4.4: "ELF sh_offset
// multiple of 8").
func roundUp8(n uint64) uint64 { return (n + 7) &^ 7 }
