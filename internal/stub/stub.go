// Package stub is the Stub Bridge (C5, spec §4.6): it detects a
// SMOL_COMPRESSED wrapper, shuttles bytes to the external (de)compressor
// collaborators, and never decompresses a payload itself.
package stub

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/socketdev/binject/internal/collaborator"
	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/scratch"
	"github.com/socketdev/binject/internal/seaconfig"
)

// Algorithm identifies the compression scheme used for the inner executable.
type Algorithm byte

const (
	AlgorithmGzip Algorithm = 0
)

// headerMagic tags the SMOL_COMPRESSED payload's own header, distinct from
// the resource.Encode wrapper the container itself is wrapped in.
var headerMagic = [4]byte{'S', 'M', 'O', 'L'}

const (
	headerVersion  uint16 = 1
	headerFixedLen        = 4 + 2 + 1 + 1 + 4 + seaconfig.AuxConfigSize // magic+version+algo+pad+compressedLen+auxconfig
)

// Header is the decoded form of a SMOL_COMPRESSED payload's own header:
// algorithm identifier, compressed-data size, and the aux-config record that
// rides alongside it (spec §3: "AUX_CONFIG carried inside SMOL_COMPRESSED
// header region").
type Header struct {
	Algorithm Algorithm
	AuxConfig []byte // exactly seaconfig.AuxConfigSize bytes
}

// IsStubPayload reports whether payload begins with the SMOL_COMPRESSED
// header magic.
func IsStubPayload(payload []byte) bool {
	return len(payload) >= 4 && [4]byte(payload[0:4]) == headerMagic
}

// ParseHeader decodes header and returns the compressed inner-executable
// bytes that follow it.
func ParseHeader(payload []byte, op string) (*Header, []byte, error) {
	if len(payload) < headerFixedLen {
		return nil, nil, errs.New(errs.MalformedBinary, op)
	}
	if [4]byte(payload[0:4]) != headerMagic {
		return nil, nil, errs.New(errs.MalformedBinary, op)
	}
	version := binary.LittleEndian.Uint16(payload[4:6])
	if version != headerVersion {
		return nil, nil, errs.New(errs.MalformedBinary, op)
	}
	algo := Algorithm(payload[6])
	compressedLen := binary.LittleEndian.Uint32(payload[8:12])
	auxConfig := append([]byte(nil), payload[12:12+seaconfig.AuxConfigSize]...)
	compressedStart := 12 + seaconfig.AuxConfigSize
	if uint64(compressedStart)+uint64(compressedLen) > uint64(len(payload)) {
		return nil, nil, errs.New(errs.MalformedBinary, op)
	}
	compressed := payload[compressedStart : compressedStart+int(compressedLen)]
	return &Header{Algorithm: algo, AuxConfig: auxConfig}, compressed, nil
}

// BuildPayload assembles a SMOL_COMPRESSED payload from its parts.
func BuildPayload(algo Algorithm, auxConfig, compressed []byte) []byte {
	if len(auxConfig) != seaconfig.AuxConfigSize {
		padded := make([]byte, seaconfig.AuxConfigSize)
		copy(padded, auxConfig)
		auxConfig = padded
	}
	buf := make([]byte, headerFixedLen+len(compressed))
	copy(buf[0:4], headerMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], headerVersion)
	buf[6] = byte(algo)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(compressed)))
	copy(buf[12:12+seaconfig.AuxConfigSize], auxConfig)
	copy(buf[12+seaconfig.AuxConfigSize:], compressed)
	return buf
}

// wrapCollabErr classifies a collaborator failure as CollaboratorError unless
// it already carries its own taxonomy Kind (e.g. CollaboratorTimeout from a
// context deadline, already wrapped by collaborator.Exec).
func wrapCollabErr(op string, err error) error {
	if errs.Is(err, errs.CollaboratorTimeout) || errs.Is(err, errs.CollaboratorError) {
		return err
	}
	return errs.Wrap(errs.CollaboratorError, op, err)
}

// Unwrap decodes payload's header and invokes the external decompressor to
// produce the inner executable's bytes (spec §4.6 steps 1-2). scope owns the
// temp files the collaborator reads/writes.
func Unwrap(ctx context.Context, payload []byte, scope *scratch.Scope, collab collaborator.Set) ([]byte, *Header, error) {
	const op = "stub.Unwrap"
	header, compressed, err := ParseHeader(payload, op)
	if err != nil {
		return nil, nil, err
	}

	inPath, err := scope.WriteFile("stub-in.bin", compressed, 0o644)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CollaboratorError, op, err)
	}
	outPath := scope.Path("stub-out.bin")

	decompCtx, cancel := context.WithTimeout(ctx, collaborator.DecompressTimeout)
	defer cancel()
	if err := collab.Decompress(decompCtx, inPath, outPath); err != nil {
		return nil, nil, wrapCollabErr(op, err)
	}

	inner, err := os.ReadFile(outPath)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CollaboratorError, op, err)
	}
	return inner, header, nil
}

// Rewrap invokes the external compressor over the mutated inner bytes and
// re-assembles a SMOL_COMPRESSED payload carrying the (possibly updated)
// aux-config (spec §4.6 step 4). existingStubPath, when non-empty, names the
// original stub file so the compressor can reuse its incremental metadata.
func Rewrap(ctx context.Context, inner []byte, header *Header, existingStubPath string, scope *scratch.Scope, collab collaborator.Set) ([]byte, error) {
	const op = "stub.Rewrap"
	inPath, err := scope.WriteFile("repack-in.bin", inner, 0o755)
	if err != nil {
		return nil, errs.Wrap(errs.CollaboratorError, op, err)
	}
	outPath := scope.Path("repack-out.bin")

	compCtx, cancel := context.WithTimeout(ctx, collaborator.CompressTimeout)
	defer cancel()
	if err := collab.Compress(compCtx, inPath, outPath, existingStubPath); err != nil {
		return nil, wrapCollabErr(op, err)
	}

	compressed, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errs.Wrap(errs.CollaboratorError, op, err)
	}
	return BuildPayload(header.Algorithm, header.AuxConfig, compressed), nil
}
