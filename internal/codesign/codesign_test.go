package codesign

import (
	"context"
	"errors"
	"testing"

	"github.com/socketdev/binject/internal/format"
)

type fakeCollaborator struct {
	signErr error
	signed  []string
}

func (f *fakeCollaborator) Sign(ctx context.Context, path string) error {
	f.signed = append(f.signed, path)
	return f.signErr
}
func (f *fakeCollaborator) Decompress(ctx context.Context, in, out string) error { return nil }
func (f *fakeCollaborator) Compress(ctx context.Context, in, out, existing string) error {
	return nil
}
func (f *fakeCollaborator) GenerateBlob(ctx context.Context, configPath, workdir string) ([]byte, error) {
	return nil, nil
}

func TestStripBeforeMutationSkipsNonMachO(t *testing.T) {
	bin := []byte{0x7f, 'E', 'L', 'F'}
	out, hadSig, err := StripBeforeMutation(bin, format.ELF)
	if err != nil || hadSig {
		t.Fatalf("expected no-op for ELF, got hadSig=%v err=%v", hadSig, err)
	}
	if string(out) != string(bin) {
		t.Fatalf("expected bytes unchanged")
	}
}

func TestResignAfterMutationSkipsNonMachO(t *testing.T) {
	collab := &fakeCollaborator{}
	if err := ResignAfterMutation(context.Background(), format.PE, "/tmp/x", collab); err != nil {
		t.Fatalf("expected no-op for PE, got %v", err)
	}
	if len(collab.signed) != 0 {
		t.Fatalf("signer should not have been invoked")
	}
}

func TestResignAfterMutationPropagatesFailure(t *testing.T) {
	collab := &fakeCollaborator{signErr: errors.New("boom")}
	err := ResignAfterMutation(context.Background(), format.MachO, "/tmp/x", collab)
	if err == nil {
		t.Fatalf("expected signing error")
	}
}
