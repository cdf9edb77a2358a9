package collaborator

import (
	"context"

	"github.com/socketdev/binject/internal/collaborator/fakecompress"
)

// Default is the collaborator.Set binject's CLI wires up out of the box:
// real exec-backed signing and blob generation always (spec §6 never
// describes a fallback for those — they need a real codesign binary and a
// real JS runtime respectively), but an in-process gzip fallback for
// Compress/Decompress when no compressor/decompressor binary is configured
// (Paths.Compressor/Decompressor empty), so `binject inject` against a
// SMOL_COMPRESSED stub still
// works without external tooling installed. Point BINJECT_COMPRESSOR/
// BINJECT_DECOMPRESSOR at the real codec to use it instead.
type Default struct {
	Exec Exec
}

// Sign implements Set.
func (d Default) Sign(ctx context.Context, path string) error {
	return d.Exec.Sign(ctx, path)
}

// GenerateBlob implements Set.
func (d Default) GenerateBlob(ctx context.Context, configPath, workdir string) ([]byte, error) {
	return d.Exec.GenerateBlob(ctx, configPath, workdir)
}

// Decompress implements Set, falling back to fakecompress when no
// decompressor binary is configured.
func (d Default) Decompress(ctx context.Context, inputPath, outputPath string) error {
	if d.Exec.Paths.Decompressor == "" {
		return fakecompress.Collaborator{}.Decompress(ctx, inputPath, outputPath)
	}
	return d.Exec.Decompress(ctx, inputPath, outputPath)
}

// Compress implements Set, falling back to fakecompress when no compressor
// binary is configured.
func (d Default) Compress(ctx context.Context, inputPath, outputPath, existingStubPath string) error {
	if d.Exec.Paths.Compressor == "" {
		return fakecompress.Collaborator{}.Compress(ctx, inputPath, outputPath, existingStubPath)
	}
	return d.Exec.Compress(ctx, inputPath, outputPath, existingStubPath)
}
