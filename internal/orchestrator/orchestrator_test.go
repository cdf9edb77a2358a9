package orchestrator

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/socketdev/binject/internal/collaborator/fakecompress"
	"github.com/socketdev/binject/internal/resource"
)

// buildMinimalELF64 builds the smallest ELF64 file the elf package's parser
// accepts: a header plus a ".shstrtab" section holding just that one name.
// This mirrors elf.buildMinimalELF64 (unexported there), rebuilt here since
// this test lives in a different package.
func buildMinimalELF64(t *testing.T) []byte {
	t.Helper()
	order := binary.LittleEndian

	const ehSize = 64
	strtabContent := []byte("\x00.shstrtab\x00")
	strtabOff := uint64(ehSize)
	bin := make([]byte, ehSize)
	bin = append(bin, strtabContent...)

	shoff := (uint64(len(bin)) + 7) &^ 7
	bin = append(bin, make([]byte, shoff-uint64(len(bin)))...)

	const shdrSize = 64
	nullSec := make([]byte, shdrSize)
	strtabSec := make([]byte, shdrSize)
	order.PutUint32(strtabSec[0:4], 1)                             // sh_name
	order.PutUint32(strtabSec[4:8], 3)                             // sh_type = SHT_STRTAB
	order.PutUint64(strtabSec[24:32], strtabOff)                   // sh_offset
	order.PutUint64(strtabSec[32:40], uint64(len(strtabContent)))  // sh_size
	order.PutUint64(strtabSec[48:56], 1)                           // sh_addralign

	bin = append(bin, nullSec...)
	bin = append(bin, strtabSec...)

	// e_ident
	bin[0], bin[1], bin[2], bin[3] = 0x7f, 'E', 'L', 'F'
	bin[4] = 2 // ELFCLASS64
	bin[5] = 1 // ELFDATA2LSB
	order.PutUint64(bin[40:48], shoff)       // e_shoff
	order.PutUint16(bin[58:60], shdrSize)    // e_shentsize
	order.PutUint16(bin[60:62], 2)           // e_shnum
	order.PutUint16(bin[62:64], 1)           // e_shstrndx

	return bin
}

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
	return path
}

func TestInjectListExtractVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := writeTempFile(t, dir, "in.elf", buildMinimalELF64(t))
	output := filepath.Join(dir, "out.elf")

	o := New(fakecompress.Collaborator{})
	o.TempRoot = dir

	err := o.Inject(context.Background(), InjectRequest{
		Input:   input,
		Output:  output,
		SEAPath: writeTempFile(t, dir, "payload.bin", []byte("Hello, binject!")),
	})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}

	summaries, err := o.List(output)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Kind != resource.SEA {
		t.Fatalf("expected one SEA resource, got %+v", summaries)
	}

	extractPath := filepath.Join(dir, "extracted.bin")
	if err := o.Extract(output, extractPath, resource.SEA); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(extractPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "Hello, binject!" {
		t.Fatalf("extracted payload mismatch: got %q", got)
	}

	if err := o.Verify(output, resource.SEA); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := o.Verify(output, resource.VFS); err == nil {
		t.Fatalf("expected Verify(VFS) to fail, none was injected")
	}
}

func TestInjectRequiresSEAOrVFS(t *testing.T) {
	dir := t.TempDir()
	input := writeTempFile(t, dir, "in.elf", buildMinimalELF64(t))
	o := New(fakecompress.Collaborator{})
	o.TempRoot = dir

	err := o.Inject(context.Background(), InjectRequest{
		Input:  input,
		Output: filepath.Join(dir, "out.elf"),
	})
	if err == nil {
		t.Fatalf("expected error when neither --sea nor --vfs given")
	}
}

func TestInjectVFSRequiresSEA(t *testing.T) {
	dir := t.TempDir()
	input := writeTempFile(t, dir, "in.elf", buildMinimalELF64(t))
	o := New(fakecompress.Collaborator{})
	o.TempRoot = dir

	err := o.Inject(context.Background(), InjectRequest{
		Input:   input,
		Output:  filepath.Join(dir, "out.elf"),
		VFSPath: writeTempFile(t, dir, "vfs.bin", []byte("vfs payload")),
	})
	if err == nil {
		t.Fatalf("expected error when --vfs given without --sea")
	}
}

func TestInjectReplacesOnSecondCall(t *testing.T) {
	dir := t.TempDir()
	input := writeTempFile(t, dir, "in.elf", buildMinimalELF64(t))
	output := filepath.Join(dir, "out.elf")

	o := New(fakecompress.Collaborator{})
	o.TempRoot = dir

	seaA := writeTempFile(t, dir, "a.bin", []byte("AAAA"))
	if err := o.Inject(context.Background(), InjectRequest{Input: input, Output: output, SEAPath: seaA}); err != nil {
		t.Fatalf("first Inject: %v", err)
	}

	seaB := writeTempFile(t, dir, "b.bin", []byte("BBBBBBBB"))
	if err := o.Inject(context.Background(), InjectRequest{Input: output, Output: output, SEAPath: seaB}); err != nil {
		t.Fatalf("second Inject: %v", err)
	}

	extractPath := filepath.Join(dir, "extracted.bin")
	if err := o.Extract(output, extractPath, resource.SEA); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, _ := os.ReadFile(extractPath)
	if string(got) != "BBBBBBBB" {
		t.Fatalf("expected replaced payload BBBBBBBB, got %q", got)
	}

	summaries, err := o.List(output)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected exactly one resource after replace, got %d", len(summaries))
	}
}

func TestExtractRejectsUnsupportedKind(t *testing.T) {
	dir := t.TempDir()
	input := writeTempFile(t, dir, "in.elf", buildMinimalELF64(t))
	o := New(fakecompress.Collaborator{})
	o.TempRoot = dir
	err := o.Extract(input, filepath.Join(dir, "out.bin"), resource.SMOLCompressed)
	if err == nil {
		t.Fatalf("expected error extracting SMOL_COMPRESSED")
	}
}
