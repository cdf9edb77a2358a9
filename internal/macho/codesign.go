package macho

import "github.com/socketdev/binject/internal/errs"

// StripCodeSignature detects LC_CODE_SIGNATURE (spec §4.5) and, if present,
// drops the signature blob from file end and removes the load command
// (decrementing ncmds, shrinking sizeofcmds).
//
// Every other command's segment/section file offsets are absolute
// positions in the file and must not move, so the removed command's slot
// is zero-padded back out to the original load-command-table end instead
// of being spliced out. A real parser never reads past hdrSize+sizeofcmds
// looking for commands (it iterates exactly ncmds times), so the padding
// is inert slack, indistinguishable from the header-to-first-section slack
// this engine already relies on elsewhere (firstSectionDataOffset) — and
// every segment/section's FileOff/Offset keeps pointing at the same byte
// it always did.
//
// Fat/universal binaries are left untouched here (hadSig=false, no error):
// each contained slice is ad-hoc re-signed as a whole by the external
// signer, which handles per-slice signatures itself.
func StripCodeSignature(bin []byte, op string) (out []byte, hadSig bool, err error) {
	if IsFat(bin) {
		return append([]byte(nil), bin...), false, nil
	}
	pf, err := parse(bin, op)
	if err != nil {
		return nil, false, err
	}

	idx := -1
	for i, l := range pf.loads {
		if l.cmd == LCCodeSignature {
			idx = i
			break
		}
	}
	if idx < 0 {
		return append([]byte(nil), bin...), false, nil
	}

	l := pf.loads[idx]
	if l.cmdSize < 16 || l.cmdOffset+16 > len(bin) {
		return nil, false, errs.New(errs.MalformedBinary, op)
	}
	dataoff := pf.order.Uint32(bin[l.cmdOffset+8 : l.cmdOffset+12])
	if uint64(dataoff) > uint64(len(bin)) || uint64(dataoff) < uint64(pf.loadsEnd) {
		return nil, false, errs.New(errs.MalformedBinary, op)
	}

	compacted := make([]byte, 0, len(bin))
	compacted = append(compacted, bin[:pf.hdrSize]...)
	for i, ld := range pf.loads {
		if i == idx {
			continue
		}
		compacted = append(compacted, bin[ld.cmdOffset:ld.cmdOffset+ld.cmdSize]...)
	}
	newSizeCommands := len(compacted) - pf.hdrSize
	for len(compacted) < pf.loadsEnd {
		compacted = append(compacted, 0)
	}
	compacted = append(compacted, bin[pf.loadsEnd:dataoff]...)

	pf.order.PutUint32(compacted[16:20], pf.header.NCommands-1)
	pf.order.PutUint32(compacted[20:24], uint32(newSizeCommands))

	return compacted, true, nil
}
