// Package scratch models temp-file/dir acquisition as a scoped resource with
// deterministic release on every exit path, per spec §5's "Shared
// resources" paragraph: nothing about the host environment is read
// implicitly — the caller passes the root temp directory in explicitly.
package scratch

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Scope owns a private subdirectory under root and removes it (and
// everything under it) on Close, however the caller exits — success, error,
// or cancellation.
type Scope struct {
	dir string
}

// Acquire creates a fresh scoped directory under root. root is passed in
// explicitly by the caller (typically os.TempDir()) rather than read from an
// environment variable inside this package, per the "explicit parameters"
// design note.
func Acquire(root, label string) (*Scope, error) {
	dir, err := os.MkdirTemp(root, "binject-"+label+"-"+uuid.NewString()+"-")
	if err != nil {
		return nil, err
	}
	return &Scope{dir: dir}, nil
}

// Dir returns the scope's private directory.
func (s *Scope) Dir() string { return s.dir }

// Path joins name under the scope's directory.
func (s *Scope) Path(name string) string { return filepath.Join(s.dir, name) }

// Close removes the scope's directory tree unconditionally.
func (s *Scope) Close() error {
	if s == nil || s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// WriteFile writes data to name within the scope and returns the full path.
func (s *Scope) WriteFile(name string, data []byte, perm os.FileMode) (string, error) {
	p := s.Path(name)
	if err := os.WriteFile(p, data, perm); err != nil {
		return "", err
	}
	return p, nil
}
