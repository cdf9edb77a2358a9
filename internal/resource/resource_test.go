package resource

import (
	"testing"

	"github.com/socketdev/binject/internal/errs"
)

func TestRoundTrip(t *testing.T) {
	payload := []byte("Hello, binject!")
	enc, err := Encode(SEA, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(rec.Payload) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", rec.Payload, payload)
	}
}

func TestEncodeRejectsEmptyPayload(t *testing.T) {
	_, err := Encode(SEA, nil)
	if !errs.Is(err, errs.EmptyPayload) {
		t.Fatalf("want EmptyPayload, got %v", err)
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	big := make([]byte, MaxSEAPayload+1)
	_, err := Encode(SEA, big)
	if !errs.Is(err, errs.SizeLimitExceeded) {
		t.Fatalf("want SizeLimitExceeded, got %v", err)
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	enc, err := Encode(VFS, []byte("payload-bytes"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupt := append([]byte{}, enc...)
	corrupt[25] ^= 0xff // flip a payload byte
	_, err = Decode(corrupt)
	if !errs.Is(err, errs.IntegrityError) {
		t.Fatalf("want IntegrityError, got %v", err)
	}
}

func TestDecodeRejectsBadTrailer(t *testing.T) {
	enc, err := Encode(VFS, []byte("payload-bytes"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupt := append([]byte{}, enc...)
	corrupt[len(corrupt)-1] ^= 0xff
	_, err = Decode(corrupt)
	if !errs.Is(err, errs.IntegrityError) {
		t.Fatalf("want IntegrityError, got %v", err)
	}
}
