// Package errs defines the error taxonomy the core reports across every
// operation. Only the CLI entry point turns one of these into a process exit
// code, and it exits with status 1 whatever the Kind.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way §7 of the design groups them. Callers
// and tests can tell failures apart by Kind; the exit status does not depend
// on it, and callers that only care about the message can ignore it.
type Kind int

const (
	_ Kind = iota
	InvalidArg
	FileNotFound
	UnsupportedFormat
	MalformedBinary
	InsufficientHeaderSlack
	SizeOverflow
	EmptyPayload
	SizeLimitExceeded
	NotFound
	IntegrityError
	SigningFailed
	CollaboratorTimeout
	CollaboratorError
	Cancelled
	BlobGenerationFailed
)

func (k Kind) String() string {
	switch k {
	case InvalidArg:
		return "InvalidArg"
	case FileNotFound:
		return "FileNotFound"
	case UnsupportedFormat:
		return "UnsupportedFormat"
	case MalformedBinary:
		return "MalformedBinary"
	case InsufficientHeaderSlack:
		return "InsufficientHeaderSlack"
	case SizeOverflow:
		return "SizeOverflow"
	case EmptyPayload:
		return "EmptyPayload"
	case SizeLimitExceeded:
		return "SizeLimitExceeded"
	case NotFound:
		return "NotFound"
	case IntegrityError:
		return "IntegrityError"
	case SigningFailed:
		return "SigningFailed"
	case CollaboratorTimeout:
		return "CollaboratorTimeout"
	case CollaboratorError:
		return "CollaboratorError"
	case Cancelled:
		return "Cancelled"
	case BlobGenerationFailed:
		return "BlobGenerationFailed"
	default:
		return "Unknown"
	}
}

// Error is the core's single error type. Op names the failing step
// ("macho.InsertOrReplace", "seaconfig.Parse", ...) so the orchestrator's
// one-line message can name it per §7's propagation policy.
type Error struct {
	Kind  Kind
	Op    string
	Field string // set for validation errors that name an offending field
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: field %q: %v", e.Op, e.Kind, e.Field, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause returns the innermost wrapped error, for collaborator failures where
// the orchestrator wants to surface stderr from the external process.
func (e *Error) Cause() error { return errors.Cause(e.Err) }

// New builds a bare Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap attaches kind/op to an existing error, preserving it as the cause.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.Wrap(err, op)}
}

// Field builds a validation error naming the offending config/CLI field.
func Field(op, field string, err error) *Error {
	return &Error{Kind: InvalidArg, Op: op, Field: field, Err: err}
}

// Is reports whether err is an *Error of the given Kind, unwrapping through
// any pkg/errors wrapping in between.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == kind
}
