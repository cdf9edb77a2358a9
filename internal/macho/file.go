package macho

import (
	"encoding/binary"

	"github.com/socketdev/binject/internal/errs"
)

// parsedLoad is one decoded load command. Segments get a typed seg field so
// the engine can read/rewrite their offsets; every other command is kept as
// opaque bytes, exactly where blacktop/go-macho's LoadCmdBytes default case
// lands for commands it doesn't specialize.
type parsedLoad struct {
	cmd       LoadCmd
	cmdOffset int // absolute byte offset of this command within the file
	cmdSize   int
	seg       *segment // non-nil for LC_SEGMENT / LC_SEGMENT_64
}

// parsedFile is the minimal decoded view this engine needs: header fields
// plus the load command list with byte offsets, so mutation can patch fields
// in place without re-serializing commands this engine doesn't understand.
type parsedFile struct {
	header   FileHeader
	order    binary.ByteOrder
	is64     bool
	hdrSize  int
	loads    []parsedLoad
	loadsEnd int // hdrSize + header.SizeCommands
}

func parse(bin []byte, op string) (*parsedFile, error) {
	if len(bin) < 4 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	magic := Magic(binary.LittleEndian.Uint32(bin[0:4]))
	switch magic {
	case Magic32, Magic64, Magic32Swap, Magic64Swap:
	default:
		return nil, errs.New(errs.UnsupportedFormat, op)
	}

	order := ByteOrderFor(magic)
	is64 := magic.Is64()
	hdrSize := headerSize(is64)
	if len(bin) < hdrSize {
		return nil, errs.New(errs.MalformedBinary, op)
	}

	h := parseFileHeader(bin, order, magic)

	pf := &parsedFile{header: h, order: order, is64: is64, hdrSize: hdrSize}

	off := hdrSize
	for i := uint32(0); i < h.NCommands; i++ {
		if off+8 > len(bin) {
			return nil, errs.New(errs.MalformedBinary, op)
		}
		cmd := LoadCmd(order.Uint32(bin[off : off+4]))
		size := int(order.Uint32(bin[off+4 : off+8]))
		if size < 8 || off+size > len(bin) {
			return nil, errs.New(errs.MalformedBinary, op)
		}

		pl := parsedLoad{cmd: cmd, cmdOffset: off, cmdSize: size}
		if cmd == LCSegment || cmd == LCSegment64 {
			seg := parseSegment(bin[off:off+size], order, is64)
			pl.seg = &seg
		}
		pf.loads = append(pf.loads, pl)
		off += size
	}
	pf.loadsEnd = off

	if uint64(pf.loadsEnd) != uint64(hdrSize)+uint64(h.SizeCommands) {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	return pf, nil
}

// findSegment returns the parsedLoad index carrying a segment named name, or
// -1 if not found.
func (pf *parsedFile) findSegment(name string) int {
	for i, l := range pf.loads {
		if l.seg != nil && l.seg.Name == name {
			return i
		}
	}
	return -1
}

// firstSectionDataOffset returns the lowest nonzero section file offset
// across every segment, i.e. where real content starts after the load
// command table. Used to bound the slack available for a new load command
// (§4.4.1). If no section carries file data, loadsEnd is returned, which
// leaves no slack for a new load command.
func (pf *parsedFile) firstSectionDataOffset() uint64 {
	var min uint64
	for _, l := range pf.loads {
		if l.seg == nil {
			continue
		}
		for _, sec := range l.seg.Sections {
			if sec.Offset == 0 {
				continue
			}
			if min == 0 || uint64(sec.Offset) < min {
				min = uint64(sec.Offset)
			}
		}
	}
	if min == 0 {
		return uint64(pf.loadsEnd)
	}
	return min
}

// nextVMAddr picks a vmaddr for a newly appended segment: the highest
// vmaddr+vmsize in use, rounded up to 16-byte alignment per §4.4.1.
func (pf *parsedFile) nextVMAddr() uint64 {
	var max uint64
	for _, l := range pf.loads {
		if l.seg == nil {
			continue
		}
		end := l.seg.VMAddr + l.seg.VMSize
		if end > max {
			max = end
		}
	}
	return roundUp16(max)
}

// patchSegmentFields re-derives a segment's command bytes after updating its
// file offset/size (and its single section's offset/size/vmaddr to match),
// then splices the re-encoded command back into buf at cmdOffset. The
// command's total byte length never changes (same section count), so this
// never shifts anything else in the file.
func patchSegmentFields(buf []byte, order binary.ByteOrder, is64 bool, cmdOffset, cmdSize int, seg segment, fileOff, size uint64) {
	seg.FileOff = fileOff
	seg.FileSize = size
	seg.VMSize = roundUp16(size)
	if len(seg.Sections) > 0 {
		seg.Sections[0].Offset = uint32(fileOff)
		seg.Sections[0].Size = size
		seg.Sections[0].Addr = seg.VMAddr
	}
	out := seg.put(order, is64)
	if len(out) != cmdSize {
		panic("macho: patched segment command changed size")
	}
	copy(buf[cmdOffset:cmdOffset+cmdSize], out)
}
