package macho

import (
	"encoding/binary"
	"testing"

	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

// buildMinimalMachO constructs a 64-bit little-endian Mach-O with one
// __TEXT segment (no sections) whose section data region starts well past
// the header, leaving slack for a new load command.
func buildMinimalMachO(t *testing.T) []byte {
	t.Helper()
	const slackBudget = 4096 // plenty of room for one new segment+section
	textFileOff := uint64(headerSize(true)) + 200 /* segment cmd */ + uint64(slackBudget)

	text := segment{
		Name:     "__TEXT",
		VMAddr:   0x100000000,
		VMSize:   roundUp16(4096),
		FileOff:  0,
		FileSize: textFileOff + 16,
		MaxProt:  7,
		InitProt: 5,
		Sections: []section{{
			Name:    "__text",
			SegName: "__TEXT",
			Addr:    0x100000000 + textFileOff,
			Size:    16,
			Offset:  uint32(textFileOff),
			Align:   0,
		}},
	}
	textBytes := text.put(binary.LittleEndian, true)

	hdr := make([]byte, headerSize(true))
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(Magic64))
	binary.LittleEndian.PutUint32(hdr[16:20], 1) // ncmds
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(textBytes)))

	bin := append(hdr, textBytes...)
	for uint64(len(bin)) < textFileOff {
		bin = append(bin, 0)
	}
	bin = append(bin, make([]byte, 16)...)
	return bin
}

func TestInsertAndExtractNewSegment(t *testing.T) {
	bin := buildMinimalMachO(t)
	eng := Engine{}

	payload := []byte("Hello, binject!")
	out, err := eng.InsertOrReplace(bin, resource.SEA, payload)
	if err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}

	got, err := eng.Extract(out, resource.SEA)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}

	list, err := eng.List(out)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].PayloadLen != uint64(len(payload)) {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestReinjectReplacesInPlace(t *testing.T) {
	bin := buildMinimalMachO(t)
	eng := Engine{}

	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("AAAAAAAAAA"))
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	out2, err := eng.InsertOrReplace(out, resource.SEA, []byte("B"))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}

	got, err := eng.Extract(out2, resource.SEA)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(got) != "B" {
		t.Fatalf("payload mismatch: got %q want %q", got, "B")
	}

	list, err := eng.List(out2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one container, got %d: %+v", len(list), list)
	}

	// The second replace's payload is smaller, and the first payload's
	// container was at file end, so the file should not have grown without
	// bound across the replay.
	if len(out2) > len(out) {
		t.Fatalf("file grew on replace: %d -> %d", len(out), len(out2))
	}
}

func TestInsertTwoKindsThenReplaceFirst(t *testing.T) {
	bin := buildMinimalMachO(t)
	eng := Engine{}

	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("sea-payload"))
	if err != nil {
		t.Fatalf("insert sea: %v", err)
	}
	out, err = eng.InsertOrReplace(out, resource.VFS, []byte("vfs-payload-longer"))
	if err != nil {
		t.Fatalf("insert vfs: %v", err)
	}
	// SEA's container is no longer at file end (VFS was appended after it).
	out, err = eng.InsertOrReplace(out, resource.SEA, []byte("new-sea"))
	if err != nil {
		t.Fatalf("replace sea: %v", err)
	}

	seaGot, err := eng.Extract(out, resource.SEA)
	if err != nil {
		t.Fatalf("extract sea: %v", err)
	}
	if string(seaGot) != "new-sea" {
		t.Fatalf("sea payload mismatch: got %q", seaGot)
	}
	vfsGot, err := eng.Extract(out, resource.VFS)
	if err != nil {
		t.Fatalf("extract vfs: %v", err)
	}
	if string(vfsGot) != "vfs-payload-longer" {
		t.Fatalf("vfs payload mismatch: got %q", vfsGot)
	}
}

func TestExtractNotFound(t *testing.T) {
	bin := buildMinimalMachO(t)
	eng := Engine{}
	_, err := eng.Extract(bin, resource.SEA)
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestValidateAcceptsCleanBinary(t *testing.T) {
	bin := buildMinimalMachO(t)
	eng := Engine{}
	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("payload"))
	if err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}
	if err := eng.Validate(out); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

// TestValidateRejectsDuplicateContainer builds a binary with two segments
// both named __NODE_SEA (the SEA kind's Mach-O container name), which should
// never legitimately occur, and checks Validate catches it.
func TestValidateRejectsDuplicateContainer(t *testing.T) {
	seg := segment{
		Name:     "__NODE_SEA",
		VMAddr:   0x100000000,
		VMSize:   roundUp16(4096),
		FileSize: 0,
		MaxProt:  7,
		InitProt: 5,
	}
	segBytes := seg.put(binary.LittleEndian, true)

	hdr := make([]byte, headerSize(true))
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(Magic64))
	binary.LittleEndian.PutUint32(hdr[16:20], 2) // ncmds
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(2*len(segBytes)))

	bin := append(hdr, segBytes...)
	bin = append(bin, segBytes...)

	eng := Engine{}
	if err := eng.Validate(bin); !errs.Is(err, errs.MalformedBinary) {
		t.Fatalf("want MalformedBinary, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeOffset(t *testing.T) {
	bin := buildMinimalMachO(t)
	eng := Engine{}
	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("payload"))
	if err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}
	truncated := out[:len(out)-4]
	if err := eng.Validate(truncated); !errs.Is(err, errs.MalformedBinary) {
		t.Fatalf("want MalformedBinary, got %v", err)
	}
}

func TestInsufficientHeaderSlack(t *testing.T) {
	// Build a header where the section data starts immediately after the
	// load commands, leaving no slack for a new segment command.
	text := segment{
		Name:     "__TEXT",
		VMAddr:   0x100000000,
		FileSize: 16,
		Sections: []section{{
			Name:    "__text",
			SegName: "__TEXT",
			Offset:  uint32(headerSize(true) + segCommandSize(true) + sectionSize(true)),
			Size:    16,
		}},
	}
	textBytes := text.put(binary.LittleEndian, true)
	hdr := make([]byte, headerSize(true))
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(Magic64))
	binary.LittleEndian.PutUint32(hdr[16:20], 1)
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(textBytes)))
	bin := append(hdr, textBytes...)
	bin = append(bin, make([]byte, 16)...)

	eng := Engine{}
	_, err := eng.InsertOrReplace(bin, resource.SEA, []byte("x"))
	if !errs.Is(err, errs.InsufficientHeaderSlack) {
		t.Fatalf("want InsufficientHeaderSlack, got %v", err)
	}
}
