// Package macho is the C3 format engine for Mach-O executables. It follows
// the teacher library's load-command model (blacktop/go-macho's
// types/commands.go and types/header.go) but only keeps the handful of
// commands the injector actually touches: segments/sections and the code
// signature command. Every other load command is carried through verbatim
// as opaque bytes, the way the teacher's LoadCmdBytes does for commands it
// doesn't specialize.
package macho

import "encoding/binary"

// Magic numbers, 32/64-bit, both byte orders, plus the fat (universal)
// wrapper. Mirrors blacktop/go-macho/types.Magic32/Magic64/MagicFat.
type Magic uint32

const (
	Magic32     Magic = 0xfeedface
	Magic64     Magic = 0xfeedfacf
	Magic32Swap Magic = 0xcefaedfe
	Magic64Swap Magic = 0xcffaedfe
	MagicFat    Magic = 0xcafebabe
	MagicFatBE  Magic = 0xbebafeca
)

// LoadCmd identifies a Mach-O load command type. Subset of
// blacktop/go-macho/types.LoadCmd — only the values this engine acts on by
// name; everything else round-trips as LoadCmdBytes.
type LoadCmd uint32

const (
	LCSegment       LoadCmd = 0x1
	LCSegment64     LoadCmd = 0x19
	LCCodeSignature LoadCmd = 0x1d
)

// FileHeader is the 28 (32-bit) or 32 (64-bit, +4 reserved) byte Mach-O
// header.
type FileHeader struct {
	Magic        Magic
	CPU          uint32
	SubCPU       uint32
	Type         uint32
	NCommands    uint32
	SizeCommands uint32
	Flags        uint32
	Reserved     uint32 // 64-bit only
}

// Is64 reports whether m is one of the 64-bit magics.
func (m Magic) Is64() bool { return m == Magic64 || m == Magic64Swap }

// IsSwapped reports whether m names a byte-swapped (opposite-endian) magic.
func (m Magic) IsSwapped() bool { return m == Magic32Swap || m == Magic64Swap }

// ByteOrderFor returns the decoding endianness implied by magic, which is
// read little-endian: swapped magics mean big-endian, the others
// little-endian, whatever the host, per §9's
// "every multi-byte read/write ... takes the detected endianness as an
// argument" rule.
func ByteOrderFor(magic Magic) binary.ByteOrder {
	if magic.IsSwapped() {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func headerSize(is64 bool) int {
	if is64 {
		return 32
	}
	return 28
}

func (h FileHeader) put(b []byte, o binary.ByteOrder, is64 bool) {
	o.PutUint32(b[0:4], uint32(h.Magic))
	o.PutUint32(b[4:8], h.CPU)
	o.PutUint32(b[8:12], h.SubCPU)
	o.PutUint32(b[12:16], h.Type)
	o.PutUint32(b[16:20], h.NCommands)
	o.PutUint32(b[20:24], h.SizeCommands)
	o.PutUint32(b[24:28], h.Flags)
	if is64 {
		o.PutUint32(b[28:32], h.Reserved)
	}
}

func parseFileHeader(b []byte, o binary.ByteOrder, magic Magic) FileHeader {
	is64 := magic.Is64()
	h := FileHeader{
		Magic:        magic,
		CPU:          o.Uint32(b[4:8]),
		SubCPU:       o.Uint32(b[8:12]),
		Type:         o.Uint32(b[12:16]),
		NCommands:    o.Uint32(b[16:20]),
		SizeCommands: o.Uint32(b[20:24]),
		Flags:        o.Uint32(b[24:28]),
	}
	if is64 {
		h.Reserved = o.Uint32(b[28:32])
	}
	return h
}

// segCommandSize returns sizeof(segment_command[_64]).
func segCommandSize(is64 bool) int {
	if is64 {
		return 72
	}
	return 56
}

// sectionSize returns sizeof(section[_64]).
func sectionSize(is64 bool) int {
	if is64 {
		return 80
	}
	return 68
}

// segment is the decoded, format-agnostic view of a segment_command(_64)
// plus its single section. The engine only ever builds single-section
// segments for injected resources (spec §4.4.1's design constraint), but
// Parse keeps every section of pre-existing segments so re-serialization is
// lossless.
type segment struct {
	Cmd      LoadCmd
	CmdSize  uint32
	Name     string // 16 bytes, NUL padded
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32

	Sections []section
}

type section struct {
	Name     string // 16 bytes
	SegName  string // 16 bytes
	Addr     uint64
	Size     uint64
	Offset   uint32
	Align    uint32
	RelOff   uint32
	NReloc   uint32
	Flags    uint32
	Reserved1, Reserved2, Reserved3 uint32
}

func putCString16(b []byte, s string) {
	n := copy(b, s)
	for i := n; i < 16; i++ {
		b[i] = 0
	}
}

func cstring16(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func (s segment) put(o binary.ByteOrder, is64 bool) []byte {
	size := segCommandSize(is64) + len(s.Sections)*sectionSize(is64)
	buf := make([]byte, size)
	cmd := LCSegment
	if is64 {
		cmd = LCSegment64
	}
	o.PutUint32(buf[0:4], uint32(cmd))
	o.PutUint32(buf[4:8], uint32(size))
	putCString16(buf[8:24], s.Name)
	off := 24
	if is64 {
		o.PutUint64(buf[off:off+8], s.VMAddr)
		o.PutUint64(buf[off+8:off+16], s.VMSize)
		o.PutUint64(buf[off+16:off+24], s.FileOff)
		o.PutUint64(buf[off+24:off+32], s.FileSize)
		off += 32
	} else {
		o.PutUint32(buf[off:off+4], uint32(s.VMAddr))
		o.PutUint32(buf[off+4:off+8], uint32(s.VMSize))
		o.PutUint32(buf[off+8:off+12], uint32(s.FileOff))
		o.PutUint32(buf[off+12:off+16], uint32(s.FileSize))
		off += 16
	}
	o.PutUint32(buf[off:off+4], s.MaxProt)
	o.PutUint32(buf[off+4:off+8], s.InitProt)
	o.PutUint32(buf[off+8:off+12], uint32(len(s.Sections)))
	o.PutUint32(buf[off+12:off+16], s.Flags)
	off += 16

	for _, sec := range s.Sections {
		sb := buf[off : off+sectionSize(is64)]
		putCString16(sb[0:16], sec.Name)
		putCString16(sb[16:32], sec.SegName)
		p := 32
		if is64 {
			o.PutUint64(sb[p:p+8], sec.Addr)
			o.PutUint64(sb[p+8:p+16], sec.Size)
			p += 16
		} else {
			o.PutUint32(sb[p:p+4], uint32(sec.Addr))
			o.PutUint32(sb[p+4:p+8], uint32(sec.Size))
			p += 8
		}
		o.PutUint32(sb[p:p+4], sec.Offset)
		o.PutUint32(sb[p+4:p+8], sec.Align)
		o.PutUint32(sb[p+8:p+12], sec.RelOff)
		o.PutUint32(sb[p+12:p+16], sec.NReloc)
		o.PutUint32(sb[p+16:p+20], sec.Flags)
		o.PutUint32(sb[p+20:p+24], sec.Reserved1)
		o.PutUint32(sb[p+24:p+28], sec.Reserved2)
		p += 28
		if is64 {
			o.PutUint32(sb[p:p+4], sec.Reserved3)
		}
		off += sectionSize(is64)
	}
	return buf
}

func parseSegment(b []byte, o binary.ByteOrder, is64 bool) segment {
	s := segment{Name: cstring16(b[8:24])}
	cmd := LoadCmd(o.Uint32(b[0:4]))
	s.Cmd = cmd
	s.CmdSize = o.Uint32(b[4:8])
	off := 24
	if is64 {
		s.VMAddr = o.Uint64(b[off : off+8])
		s.VMSize = o.Uint64(b[off+8 : off+16])
		s.FileOff = o.Uint64(b[off+16 : off+24])
		s.FileSize = o.Uint64(b[off+24 : off+32])
		off += 32
	} else {
		s.VMAddr = uint64(o.Uint32(b[off : off+4]))
		s.VMSize = uint64(o.Uint32(b[off+4 : off+8]))
		s.FileOff = uint64(o.Uint32(b[off+8 : off+12]))
		s.FileSize = uint64(o.Uint32(b[off+12 : off+16]))
		off += 16
	}
	s.MaxProt = o.Uint32(b[off : off+4])
	s.InitProt = o.Uint32(b[off+4 : off+8])
	s.NSects = o.Uint32(b[off+8 : off+12])
	s.Flags = o.Uint32(b[off+12 : off+16])
	off += 16

	secSize := sectionSize(is64)
	for i := uint32(0); i < s.NSects; i++ {
		start := off + int(i)*secSize
		if start+secSize > len(b) {
			break
		}
		sb := b[start : start+secSize]
		sec := section{Name: cstring16(sb[0:16]), SegName: cstring16(sb[16:32])}
		p := 32
		if is64 {
			sec.Addr = o.Uint64(sb[p : p+8])
			sec.Size = o.Uint64(sb[p+8 : p+16])
			p += 16
		} else {
			sec.Addr = uint64(o.Uint32(sb[p : p+4]))
			sec.Size = uint64(o.Uint32(sb[p+4 : p+8]))
			p += 8
		}
		sec.Offset = o.Uint32(sb[p : p+4])
		sec.Align = o.Uint32(sb[p+4 : p+8])
		sec.RelOff = o.Uint32(sb[p+8 : p+12])
		sec.NReloc = o.Uint32(sb[p+12 : p+16])
		sec.Flags = o.Uint32(sb[p+16 : p+20])
		sec.Reserved1 = o.Uint32(sb[p+20 : p+24])
		sec.Reserved2 = o.Uint32(sb[p+24 : p+28])
		p += 28
		if is64 {
			sec.Reserved3 = o.Uint32(sb[p : p+4])
		}
		s.Sections = append(s.Sections, sec)
	}
	return s
}

// VM protection flags, used for the read-only data segments this engine
// creates (VM_PROT_READ).
const vmProtRead = 0x1

// roundUp4 aligns n up to a 4-byte boundary (§4.4.1's fileoff alignment).
func roundUp4(n uint64) uint64 { return (n + 3) &^ 3 }

// roundUp16 aligns n up to a 16-byte boundary (§4.4.1's vmsize alignment).
func roundUp16(n uint64) uint64 { return (n + 15) &^ 15 }
