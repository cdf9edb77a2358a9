// Package codesign is the C4 Signature Manager (spec §4.5). It only acts on
// Mach-O: ELF has no mandatory signature and PE Authenticode is stripped by
// the PE engine itself, never regenerated.
package codesign

import (
	"context"

	"github.com/socketdev/binject/internal/collaborator"
	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/format"
	"github.com/socketdev/binject/internal/macho"
)

// StripBeforeMutation removes any existing LC_CODE_SIGNATURE from bin ahead
// of an engine mutation, the way the teacher signs by always re-signing
// after altering load commands. Formats other than Mach-O pass through
// unchanged.
func StripBeforeMutation(bin []byte, f format.Format) ([]byte, bool, error) {
	const op = "codesign.StripBeforeMutation"
	if f != format.MachO {
		return bin, false, nil
	}
	return macho.StripCodeSignature(bin, op)
}

// ResignAfterMutation invokes the ad-hoc signer collaborator on the
// on-disk output at path, per spec §4.5: "the manager does not manage keys
// or certificates; ad-hoc signatures suffice to make the binary loadable."
// Only Mach-O outputs are signed; other formats are a no-op.
func ResignAfterMutation(ctx context.Context, f format.Format, path string, collab collaborator.Set) error {
	const op = "codesign.ResignAfterMutation"
	if f != format.MachO {
		return nil
	}
	signCtx, cancel := context.WithTimeout(ctx, collaborator.SignTimeout)
	defer cancel()
	if err := collab.Sign(signCtx, path); err != nil {
		return errs.Wrap(errs.SigningFailed, op, err)
	}
	return nil
}
