package collaborator

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/socketdev/binject/internal/errs"
)

// Paths names the external collaborator binaries. An empty Signer falls back
// to "codesign" looked up on PATH; the other fields have no fallback, and the
// call that needs an empty one fails.
type Paths struct {
	Signer       string // default: codesign
	Compressor   string // no default — caller must configure for stub repacking
	Decompressor string // no default — caller must configure for stub repacking
	Runtime      string // the host JS runtime, for blob generation
}

// Exec shells out to real collaborator binaries per the process contracts in
// spec §6.
type Exec struct {
	Paths Paths
}

func (e Exec) signerPath() string {
	if e.Paths.Signer != "" {
		return e.Paths.Signer
	}
	return "codesign"
}

func run(ctx context.Context, op string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return errs.New(errs.CollaboratorTimeout, op)
	}
	if err != nil {
		return errs.Wrap(errs.CollaboratorError, op, errorWithStderr(err, stderr.Bytes()))
	}
	return nil
}

func errorWithStderr(err error, stderr []byte) error {
	if len(stderr) == 0 {
		return err
	}
	return &stderrError{err: err, stderr: string(stderr)}
}

type stderrError struct {
	err    error
	stderr string
}

func (e *stderrError) Error() string { return e.err.Error() + ": " + e.stderr }
func (e *stderrError) Unwrap() error { return e.err }

// Sign implements Set.
func (e Exec) Sign(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, SignTimeout)
	defer cancel()
	const op = "collaborator.Sign"
	return run(ctx, op, e.signerPath(), "--sign", "-", "--force", path)
}

// Decompress implements Set.
func (e Exec) Decompress(ctx context.Context, inputPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, DecompressTimeout)
	defer cancel()
	const op = "collaborator.Decompress"
	if e.Paths.Decompressor == "" {
		return errs.New(errs.CollaboratorError, op)
	}
	return run(ctx, op, e.Paths.Decompressor, inputPath, "-o", outputPath)
}

// Compress implements Set.
func (e Exec) Compress(ctx context.Context, inputPath, outputPath, existingStubPath string) error {
	ctx, cancel := context.WithTimeout(ctx, CompressTimeout)
	defer cancel()
	const op = "collaborator.Compress"
	if e.Paths.Compressor == "" {
		return errs.New(errs.CollaboratorError, op)
	}
	args := []string{inputPath, "-o", outputPath}
	if existingStubPath != "" {
		args = append(args, "-u", existingStubPath)
	}
	return run(ctx, op, e.Paths.Compressor, args...)
}

// GenerateBlob implements Set.
func (e Exec) GenerateBlob(ctx context.Context, configPath, workdir string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, BlobGenTimeout)
	defer cancel()
	const op = "collaborator.GenerateBlob"

	if e.Paths.Runtime == "" {
		return nil, errs.New(errs.BlobGenerationFailed, op)
	}

	cmd := exec.CommandContext(ctx, e.Paths.Runtime, "--experimental-sea-config", configPath)
	cmd.Dir = workdir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.New(errs.CollaboratorTimeout, op)
		}
		return nil, errs.Wrap(errs.BlobGenerationFailed, op, errorWithStderr(err, stderr.Bytes()))
	}

	outputField, err := blobOutputPath(configPath, workdir)
	if err != nil {
		return nil, errs.Wrap(errs.BlobGenerationFailed, op, err)
	}
	blob, err := os.ReadFile(outputField)
	if err != nil {
		return nil, errs.Wrap(errs.BlobGenerationFailed, op, err)
	}
	return blob, nil
}

// blobOutputPath re-reads the "output" field out of the SEA config so the
// caller doesn't have to parse it twice; seaconfig.Parse already
// validated it as a relative path.
func blobOutputPath(configPath, workdir string) (string, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return "", err
	}
	out, err := extractOutputField(raw)
	if err != nil {
		return "", err
	}
	return filepath.Join(workdir, out), nil
}
