// Package fakecompress is an in-process Collaborator used by tests and, when
// BINJECT_COMPRESSOR/BINJECT_DECOMPRESSOR name no binary, as a local
// development fallback (see SPEC_FULL.md's DOMAIN STACK entry for
// klauspost/compress). It is never the production stub format — it exists
// so the Stub Bridge and its tests have something to round-trip against
// without shelling out to the real compression tool.
package fakecompress

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Collaborator implements collaborator.Set entirely in process.
type Collaborator struct {
	// SignErr, if set, is returned by Sign instead of succeeding — lets
	// tests exercise the SigningFailed path without a real codesign binary.
	SignErr error
}

func (c Collaborator) Sign(ctx context.Context, path string) error {
	return c.SignErr
}

// Decompress gunzips inputPath into outputPath. The header format written by
// Compress is: magic "FKCP" | u8 algorithm (always 0=gzip) | gzip stream.
func (c Collaborator) Decompress(ctx context.Context, inputPath, outputPath string) error {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	inner, err := DecompressBytes(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, inner, 0o755)
}

// Compress gzips inputPath into outputPath, ignoring existingStubPath (the
// fake format carries no incremental metadata to reuse).
func (c Collaborator) Compress(ctx context.Context, inputPath, outputPath, existingStubPath string) error {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	out, err := CompressBytes(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, out, 0o644)
}

// GenerateBlob is not meaningfully fakeable (it depends on a real JS
// runtime); callers that need a blob in tests should synthesize one
// directly rather than calling this.
func (c Collaborator) GenerateBlob(ctx context.Context, configPath, workdir string) ([]byte, error) {
	return nil, io.ErrUnexpectedEOF
}

var fakeMagic = [4]byte{'F', 'K', 'C', 'P'}

// CompressBytes wraps data in the fake stub envelope.
func CompressBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(fakeMagic[:])
	buf.WriteByte(0) // algorithm: gzip
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressBytes reverses CompressBytes.
func DecompressBytes(data []byte) ([]byte, error) {
	if len(data) < 5 || [4]byte(data[0:4]) != fakeMagic {
		return nil, io.ErrUnexpectedEOF
	}
	r, err := gzip.NewReader(bytes.NewReader(data[5:]))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// LooksLikeFakeStub reports whether data starts with the fake envelope
// magic, used by tests that want to assert a round-trip used this path.
func LooksLikeFakeStub(data []byte) bool {
	return len(data) >= 4 && [4]byte(data[0:4]) == fakeMagic
}
