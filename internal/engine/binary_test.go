package engine

import (
	"testing"

	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/resource"
)

// fakeEngine lets tests drive Binary.Verify's dispatch without a real
// format parser.
type fakeEngine struct {
	validateErr error
}

func (f fakeEngine) List(bin []byte) ([]Summary, error) { return nil, nil }
func (f fakeEngine) Find(bin []byte, kind resource.Kind) (*resource.Record, *Summary, error) {
	return nil, nil, errs.New(errs.NotFound, "fakeEngine.Find")
}
func (f fakeEngine) InsertOrReplace(bin []byte, kind resource.Kind, payload []byte) ([]byte, error) {
	return bin, nil
}
func (f fakeEngine) Remove(bin []byte, kind resource.Kind) ([]byte, error) { return bin, nil }
func (f fakeEngine) Extract(bin []byte, kind resource.Kind) ([]byte, error) {
	return nil, errs.New(errs.NotFound, "fakeEngine.Extract")
}
func (f fakeEngine) Validate(bin []byte) error { return f.validateErr }

var _ Engine = fakeEngine{}

func TestBinaryVerifyEmptyData(t *testing.T) {
	b := &Binary{Data: nil}
	err := b.Verify(fakeEngine{})
	if !errs.Is(err, errs.EmptyPayload) {
		t.Fatalf("expected EmptyPayload, got %v", err)
	}
}

func TestBinaryVerifyDelegatesToEngine(t *testing.T) {
	b := &Binary{Data: []byte{1, 2, 3}}
	if err := b.Verify(fakeEngine{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	wantErr := errs.New(errs.MalformedBinary, "fakeEngine.Validate")
	b2 := &Binary{Data: []byte{1, 2, 3}}
	if err := b2.Verify(fakeEngine{validateErr: wantErr}); !errs.Is(err, errs.MalformedBinary) {
		t.Fatalf("expected MalformedBinary, got %v", err)
	}
}
