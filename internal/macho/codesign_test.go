package macho

import (
	"encoding/binary"
	"testing"
)

func TestStripCodeSignatureRemovesCommandAndBlob(t *testing.T) {
	const slackBudget = 4096
	textFileOff := uint64(headerSize(true)) + 200 + uint64(slackBudget)

	text := segment{
		Name:     "__TEXT",
		VMAddr:   0x100000000,
		VMSize:   roundUp16(4096),
		FileSize: textFileOff + 16,
		MaxProt:  7,
		InitProt: 5,
		Sections: []section{{
			Name:    "__text",
			SegName: "__TEXT",
			Addr:    0x100000000 + textFileOff,
			Size:    16,
			Offset:  uint32(textFileOff),
		}},
	}
	textBytes := text.put(binary.LittleEndian, true)

	bodyEnd := textFileOff + 16
	dataoff := uint32(bodyEnd)
	sigBlob := []byte("fake-cms-signature-blob-bytes")
	datasize := uint32(len(sigBlob))

	codesigCmd := make([]byte, 16)
	binary.LittleEndian.PutUint32(codesigCmd[0:4], uint32(LCCodeSignature))
	binary.LittleEndian.PutUint32(codesigCmd[4:8], 16)
	binary.LittleEndian.PutUint32(codesigCmd[8:12], dataoff)
	binary.LittleEndian.PutUint32(codesigCmd[12:16], datasize)

	allCmds := append(append([]byte(nil), textBytes...), codesigCmd...)

	hdr := make([]byte, headerSize(true))
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(Magic64))
	binary.LittleEndian.PutUint32(hdr[16:20], 2) // ncmds
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(allCmds)))

	bin := append(hdr, allCmds...)
	for uint64(len(bin)) < bodyEnd {
		bin = append(bin, 0)
	}
	bin = append(bin, sigBlob...)

	out, hadSig, err := StripCodeSignature(bin, "test")
	if err != nil {
		t.Fatalf("StripCodeSignature: %v", err)
	}
	if !hadSig {
		t.Fatalf("expected hadSig=true")
	}
	if len(out) != int(bodyEnd) {
		t.Fatalf("expected signature blob truncated: got len %d want %d", len(out), bodyEnd)
	}

	pf, err := parse(out, "test")
	if err != nil {
		t.Fatalf("re-parse after strip: %v", err)
	}
	if pf.header.NCommands != 1 {
		t.Fatalf("expected ncmds=1 after strip, got %d", pf.header.NCommands)
	}
	for _, l := range pf.loads {
		if l.cmd == LCCodeSignature {
			t.Fatalf("LC_CODE_SIGNATURE still present after strip")
		}
	}

	idx := pf.findSegment("__TEXT")
	if idx < 0 {
		t.Fatalf("__TEXT segment missing after strip")
	}
	seg := pf.loads[idx].seg
	if seg.Sections[0].Offset != uint32(textFileOff) {
		t.Fatalf("__text section offset moved: got %d want %d", seg.Sections[0].Offset, textFileOff)
	}
	if seg.Sections[0].Offset+uint32(seg.Sections[0].Size) > uint32(len(out)) {
		t.Fatalf("__text section now points past end of file: offset=%d size=%d len(out)=%d",
			seg.Sections[0].Offset, seg.Sections[0].Size, len(out))
	}
}
