// Package collaborator abstracts the external processes the core shells out
// to — signer, compressor, decompressor, blob generator — behind one
// capability set, per spec §9's design note: "No function in the core spawns
// processes directly." Every suspension point here carries the default
// timeout named in spec §5.
package collaborator

import (
	"context"
	"time"
)

// Timeouts, per spec §5.
const (
	SignTimeout       = 30 * time.Second
	BlobGenTimeout    = 60 * time.Second
	CompressTimeout   = 180 * time.Second
	DecompressTimeout = 180 * time.Second
)

// Set is the capability set the orchestrator, Signature Manager, and Stub
// Bridge depend on. Real code gets Exec (os/exec backed); tests and the
// no-external-tool-configured dev fallback get an in-process fake.
type Set interface {
	// Sign ad-hoc-signs the binary at path in place.
	Sign(ctx context.Context, path string) error

	// Decompress reads a compressed stub payload from inputPath and writes
	// the inner executable's bytes to outputPath.
	Decompress(ctx context.Context, inputPath, outputPath string) error

	// Compress reads the mutated inner executable from inputPath and writes
	// a new SMOL_COMPRESSED payload to outputPath. existingStubPath, when
	// non-empty, names the original stub so the compressor can reuse
	// whatever metadata it keeps alongside the compressed image (the "-u"
	// flag in spec §6's collaborator contract).
	Compress(ctx context.Context, inputPath, outputPath, existingStubPath string) error

	// GenerateBlob runs the host runtime's --experimental-sea-config over
	// configPath inside workdir, and returns the blob bytes it produced.
	GenerateBlob(ctx context.Context, configPath, workdir string) ([]byte, error)
}
