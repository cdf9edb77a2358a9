package elf

import (
	"encoding/binary"
	"testing"

	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

// buildMinimalELF64 builds a tiny little-endian ELF64 file with a single
// ".shstrtab" section (holding just that one name) and nothing else.
func buildMinimalELF64(t *testing.T) []byte {
	t.Helper()
	order := binary.LittleEndian

	ehSize := ehdrSize(true)
	strtabContent := []byte("\x00.shstrtab\x00")
	strtabOff := uint64(ehSize)
	bin := make([]byte, ehSize)
	bin = append(bin, strtabContent...)

	shoff := roundUp8(uint64(len(bin)))
	bin = append(bin, make([]byte, shoff-uint64(len(bin)))...)

	nullSec := shdr{}
	strtabSec := shdr{Name: 1, Type: shtStrtab, Offset: strtabOff, Size: uint64(len(strtabContent)), AddrAlign: 1}

	bin = append(bin, nullSec.put(order, true)...)
	bin = append(bin, strtabSec.put(order, true)...)

	h := &header{is64: true, order: order, eShoff: shoff, eShnum: 2, eShstrndx: 1, eShentsize: uint16(shdrSize(true))}
	h.put(bin[:ehSize])

	return bin
}

func TestELFInsertAndExtract(t *testing.T) {
	bin := buildMinimalELF64(t)
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
	if len(list) != 1 || list[0].Container != "NODE_SEA_BLOB" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestELFReinjectReplacesSlot(t *testing.T) {
	bin := buildMinimalELF64(t)
	eng := Engine{}

	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("AAAA"))
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	out2, err := eng.InsertOrReplace(out, resource.SEA, []byte("BBBBBBBB"))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}

	got, err := eng.Extract(out2, resource.SEA)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(got) != "BBBBBBBB" {
		t.Fatalf("payload mismatch: got %q", got)
	}

	list, err := eng.List(out2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one SEA container, got %+v", list)
	}
}

func TestELFExtractNotFound(t *testing.T) {
	bin := buildMinimalELF64(t)
	eng := Engine{}
	_, err := eng.Extract(bin, resource.VFS)
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestELFValidateAcceptsCleanBinary(t *testing.T) {
	bin := buildMinimalELF64(t)
	eng := Engine{}
	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("payload"))
	if err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}
	if err := eng.Validate(out); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestELFValidateRejectsDuplicateSection(t *testing.T) {
	bin := buildMinimalELF64(t)
	eng := Engine{}
	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("payload"))
	if err != nil {
		t.Fatalf("InsertOrReplace: %v", err)
	}

	p, err := parse(out, "test")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dupIdx, err := p.findSectionByName(out, "NODE_SEA_BLOB", "test")
	if err != nil || dupIdx < 0 {
		t.Fatalf("findSectionByName: idx=%d err=%v", dupIdx, err)
	}
	dup := p.sections[dupIdx]

	sections := append([]shdr(nil), p.sections...)
	sections = append(sections, dup)

	corrupted := append([]byte(nil), out...)
	newShoff := roundUp8(uint64(len(corrupted)))
	corrupted = append(corrupted, make([]byte, newShoff-uint64(len(corrupted)))...)
	for _, s := range sections {
		corrupted = append(corrupted, s.put(p.hdr.order, p.hdr.is64)...)
	}
	newHdr := *p.hdr
	newHdr.eShoff = newShoff
	newHdr.eShnum = uint16(len(sections))
	newHdr.put(corrupted[:ehdrSize(p.hdr.is64)])

	if err := eng.Validate(corrupted); !errs.Is(err, errs.MalformedBinary) {
		t.Fatalf("want MalformedBinary, got %v", err)
	}
}

func TestELFValidateRejectsOutOfRangeOffset(t *testing.T) {
	bin := buildMinimalELF64(t)
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

func TestELFTwoKinds(t *testing.T) {
	bin := buildMinimalELF64(t)
	eng := Engine{}

	out, err := eng.InsertOrReplace(bin, resource.SEA, []byte("sea-data"))
	if err != nil {
		t.Fatalf("insert sea: %v", err)
	}
	out, err = eng.InsertOrReplace(out, resource.VFS, []byte("vfs-data-longer-string"))
	if err != nil {
		t.Fatalf("insert vfs: %v", err)
	}

	seaGot, err := eng.Extract(out, resource.SEA)
	if err != nil || string(seaGot) != "sea-data" {
		t.Fatalf("sea extract: %q err=%v", seaGot, err)
	}
	vfsGot, err := eng.Extract(out, resource.VFS)
	if err != nil || string(vfsGot) != "vfs-data-longer-string" {
		t.Fatalf("vfs extract: %q err=%v", vfsGot, err)
	}
}
