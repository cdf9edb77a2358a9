package engine

import (
	"os"
	"path/filepath"

	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

// Binary is the in-memory lifecycle value from spec §3's "Lifecycle"
// paragraph: loaded once, mutated by engine calls that return new byte
// sequences, written atomically exactly once. There is no long-lived
// mutable shared state — one Binary serves one invocation.
type Binary struct {
	Path string
	Data []byte
}

// Load reads path fully into memory. Size is checked against §6's input
// binary limit here, the one place a plain read can still fail loudly
// before any format-specific parsing begins.
func Load(path string) (*Binary, error) {
	const op = "engine.Load"
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.FileNotFound, op, err)
		}
		return nil, errs.Wrap(errs.FileNotFound, op, err)
	}
	if info.Size() > resource.MaxInputBinary {
		return nil, errs.New(errs.SizeLimitExceeded, op)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.FileNotFound, op, err)
	}
	return &Binary{Path: path, Data: data}, nil
}

// Verify checks all three structural invariants from spec §3 before any
// mutating engine call runs, so malformed input fails fast with
// Err(MalformedBinary)/Err(EmptyPayload) rather than partway through a
// write: the binary is non-empty, eng's per-format parse succeeds at all
// (eng.Validate's own parse step stands in for "declared size equals file
// size" — every format's parser already rejects a file whose header/table
// lengths disagree with len(b.Data)), at most one container exists per
// resource kind, and every found container's offset/size lies strictly
// within the file. eng must be the Engine resolved for b.Data's detected
// format.
func (b *Binary) Verify(eng Engine) error {
	const op = "engine.Verify"
	if len(b.Data) == 0 {
		return errs.New(errs.EmptyPayload, op)
	}
	return eng.Validate(b.Data)
}

// WriteAtomic writes data to path by writing to a sibling temp file and
// renaming it into place, so a crash mid-write never leaves a truncated
// output binary (spec §5's cancellation guarantee: partial output is never
// observable at the final path).
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	const op = "engine.WriteAtomic"
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".binject-out-*")
	if err != nil {
		return errs.Wrap(errs.CollaboratorError, op, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.CollaboratorError, op, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return errs.Wrap(errs.CollaboratorError, op, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.CollaboratorError, op, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.CollaboratorError, op, err)
	}
	cleanup = false
	return nil
}

// DeletePartial removes an output file left behind by a failed or cancelled
// operation (spec §7's propagation policy: "deletes partial output files").
func DeletePartial(path string) {
	if path == "" {
		return
	}
	os.Remove(path)
}
