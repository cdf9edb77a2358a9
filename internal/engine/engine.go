// Package engine defines the format-engine contract shared by macho, elf,
// and pe (spec §4.4's "{list, find, insert_or_replace, remove, extract}"
// design constraint), expressed as a tagged interface rather than a class
// hierarchy per §9's polymorphism note.
package engine

import "github.com/socketdev/binject/internal/resource"

// Summary is what `list` reports for one injected resource (spec §4.1).
type Summary struct {
	Kind       resource.Kind
	Container  string // segment/section/resource name that holds it
	FileOffset uint64
	PayloadLen uint64
	Checksum   uint32
}

// Engine is the per-format contract. Each of macho.Engine, elf.Engine, and
// pe.Engine implements it independently; the orchestrator dispatches on the
// detected format.Format to pick one.
type Engine interface {
	// List reports every injected resource kind present in bin.
	List(bin []byte) ([]Summary, error)

	// Find locates kind and returns its decoded record plus summary, or
	// Err(NotFound) if absent.
	Find(bin []byte, kind resource.Kind) (*resource.Record, *Summary, error)

	// InsertOrReplace adds kind if absent or replaces it if present,
	// returning the new binary bytes. Never mutates bin in place.
	InsertOrReplace(bin []byte, kind resource.Kind, payload []byte) ([]byte, error)

	// Remove neutralizes kind's container. Never shrinks any table that
	// would require remapping other containers' offsets.
	Remove(bin []byte, kind resource.Kind) ([]byte, error)

	// Extract returns kind's raw payload, or Err(NotFound)/Err(IntegrityError).
	Extract(bin []byte, kind resource.Kind) ([]byte, error)

	// Validate checks the two format-specific structural invariants of spec
	// §3 that List's per-kind, first-match lookup can't surface on its own:
	// at most one container per resource kind, and every found container's
	// offset/size lies strictly within bin. Returns Err(MalformedBinary) on
	// violation.
	Validate(bin []byte) error
}
