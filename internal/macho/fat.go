package macho

import (
	"encoding/binary"

	"github.com/socketdev/binject/internal/engine"
	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

const fatArchSize = 20 // cputype, cpusubtype, offset, size, align (4 bytes each)

// fat header and arch table are always big-endian on disk, regardless of
// host byte order (spec §4.4.1: "for fat binaries each contained slice is
// processed independently and the fat offsets re-aggregated").
type fatArch struct {
	CPUType, CPUSubtype uint32
	Offset, Size, Align uint32
}

// IsFat reports whether bin opens with the universal-binary magic.
func IsFat(bin []byte) bool {
	if len(bin) < 8 {
		return false
	}
	magic := binary.BigEndian.Uint32(bin[0:4])
	return Magic(magic) == MagicFat
}

func parseFat(bin []byte, op string) ([]fatArch, error) {
	if len(bin) < 8 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	n := binary.BigEndian.Uint32(bin[4:8])
	archs := make([]fatArch, 0, n)
	off := 8
	for i := uint32(0); i < n; i++ {
		if off+fatArchSize > len(bin) {
			return nil, errs.New(errs.MalformedBinary, op)
		}
		a := fatArch{
			CPUType:    binary.BigEndian.Uint32(bin[off : off+4]),
			CPUSubtype: binary.BigEndian.Uint32(bin[off+4 : off+8]),
			Offset:     binary.BigEndian.Uint32(bin[off+8 : off+12]),
			Size:       binary.BigEndian.Uint32(bin[off+12 : off+16]),
			Align:      binary.BigEndian.Uint32(bin[off+16 : off+20]),
		}
		if uint64(a.Offset)+uint64(a.Size) > uint64(len(bin)) {
			return nil, errs.New(errs.MalformedBinary, op)
		}
		archs = append(archs, a)
		off += fatArchSize
	}
	return archs, nil
}

func fatList(bin []byte, op string) ([]engine.Summary, error) {
	archs, err := parseFat(bin, op)
	if err != nil {
		return nil, err
	}
	// All architecture slices of a fat binary are injected identically, so
	// listing the first slice represents the whole fat file; callers that
	// need per-slice detail can split explicitly.
	var out []engine.Summary
	for _, a := range archs {
		slice := bin[a.Offset : a.Offset+a.Size]
		pf, err := parse(slice, op)
		if err != nil {
			continue
		}
		out = append(out, listFromParsed(pf, slice)...)
		break
	}
	return out, nil
}

// fatValidate validates every architecture slice independently; a fat binary
// is only structurally sound if all of its slices are.
func fatValidate(bin []byte, op string) error {
	archs, err := parseFat(bin, op)
	if err != nil {
		return err
	}
	for _, a := range archs {
		slice := bin[a.Offset : a.Offset+a.Size]
		pf, err := parse(slice, op)
		if err != nil {
			return err
		}
		if err := validateParsed(pf, slice, op); err != nil {
			return err
		}
	}
	return nil
}

// fatInsertOrReplace injects kind/payload into every architecture slice
// independently, then re-aggregates: the fat header's per-arch offset/size
// table is rewritten to point at each slice's new position once slices
// change length, and slices are re-laid end to end with page alignment.
func fatInsertOrReplace(bin []byte, kind resource.Kind, payload []byte, op string) ([]byte, error) {
	archs, err := parseFat(bin, op)
	if err != nil {
		return nil, err
	}
	if len(archs) == 0 {
		return nil, errs.New(errs.MalformedBinary, op)
	}

	eng := Engine{}
	newSlices := make([][]byte, len(archs))
	for i, a := range archs {
		slice := bin[a.Offset : a.Offset+a.Size]
		mutated, err := eng.InsertOrReplace(slice, kind, payload)
		if err != nil {
			return nil, err
		}
		newSlices[i] = mutated
	}

	headerLen := 8 + len(archs)*fatArchSize
	out := make([]byte, headerLen)
	binary.BigEndian.PutUint32(out[0:4], uint32(MagicFat))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(archs)))

	for i, a := range archs {
		align := a.Align
		if align == 0 {
			align = 14 // 2^14 = 16KiB, Apple's conventional fat slice alignment
		}
		alignment := uint64(1) << align
		cur := uint64(len(out))
		pad := (alignment - cur%alignment) % alignment
		out = append(out, make([]byte, pad)...)
		sliceOff := uint64(len(out))
		out = append(out, newSlices[i]...)

		archOff := 8 + i*fatArchSize
		binary.BigEndian.PutUint32(out[archOff:archOff+4], a.CPUType)
		binary.BigEndian.PutUint32(out[archOff+4:archOff+8], a.CPUSubtype)
		binary.BigEndian.PutUint32(out[archOff+8:archOff+12], uint32(sliceOff))
		binary.BigEndian.PutUint32(out[archOff+12:archOff+16], uint32(len(newSlices[i])))
		binary.BigEndian.PutUint32(out[archOff+16:archOff+20], align)
	}
	return out, nil
}
