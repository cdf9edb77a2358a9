// Package resource implements the canonical wire encoding for a single named
// resource (spec §3, "Resource Record (C2 wire form)"). Encoding and
// decoding are pure, total functions over byte buffers — no I/O here.
package resource

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/socketdev/binject/internal/errs"
)

// Kind selects the format-specific container a resource lives in.
type Kind int

const (
	_ Kind = iota
	SEA
	VFS
	SMOLCompressed
	AuxConfig
)

func (k Kind) String() string {
	switch k {
	case SEA:
		return "sea"
	case VFS:
		return "vfs"
	case SMOLCompressed:
		return "smol_compressed"
	case AuxConfig:
		return "aux_config"
	default:
		return "unknown"
	}
}

// Names carries the per-format container identifiers for a Kind, per the
// table in spec §3.
type Names struct {
	MachOSegment string
	MachOSection string
	ELFSection   string
	PEResource   string
}

var kindNames = map[Kind]Names{
	SEA:            {MachOSegment: "__NODE_SEA", MachOSection: "__NODE_SEA_BLOB", ELFSection: "NODE_SEA_BLOB", PEResource: "NODE_SEA_BLOB"},
	VFS:            {MachOSegment: "__SMOL_VFS", MachOSection: "__SMOL_VFS_BLOB", ELFSection: "SMOL_VFS_BLOB", PEResource: "SMOL_VFS_BLOB"},
	SMOLCompressed: {MachOSegment: "__SMOL", MachOSection: "__PRESSED_DATA", ELFSection: "SMOL_PRESSED_DATA", PEResource: "SMOL_PRESSED_DATA"},
}

// NamesFor returns the container identifiers for kind. AuxConfig has no
// container of its own: it rides inside the SMOLCompressed header, per §3.
func NamesFor(kind Kind) (Names, bool) {
	n, ok := kindNames[kind]
	return n, ok
}

const (
	magicValue   uint32 = 0x424e4a31 // "BNJ1", arbitrary but stable across versions
	currentVer   uint16 = 1
	headerSize          = 4 + 2 + 2 + 8 + 4 // magic+version+flags+payload_len+checksum
	trailerSize         = 4
	minRecordLen        = headerSize + trailerSize
)

// Size limits from spec §6.
const (
	MaxSEAPayload   = 100 * 1024 * 1024
	MaxVFSPayload   = 256 * 1024 * 1024
	MaxInputBinary  = 256 * 1024 * 1024
)

// MaxPayloadFor returns the size ceiling for SEA and VFS, and 0 for every
// other kind (AuxConfig, SMOLCompressed).
func MaxPayloadFor(kind Kind) int64 {
	switch kind {
	case SEA:
		return MaxSEAPayload
	case VFS:
		return MaxVFSPayload
	default:
		return 0
	}
}

// Record is the decoded form of a Resource Record.
type Record struct {
	Version uint16
	Flags   uint16
	Payload []byte
}

// Encode lays out payload per §3's fixed record layout. It rejects payloads
// that are empty or exceed the format-specific maximum for kind.
func Encode(kind Kind, payload []byte) ([]byte, error) {
	const op = "resource.Encode"
	if len(payload) == 0 {
		return nil, errs.New(errs.EmptyPayload, op)
	}
	if max := MaxPayloadFor(kind); max > 0 && int64(len(payload)) > max {
		return nil, errs.New(errs.SizeLimitExceeded, op)
	}

	buf := make([]byte, headerSize+len(payload)+trailerSize)
	binary.LittleEndian.PutUint32(buf[0:4], magicValue)
	binary.LittleEndian.PutUint16(buf[4:6], currentVer)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(payload)))
	binary.LittleEndian.PutUint32(buf[16:20], crc32.ChecksumIEEE(payload))
	copy(buf[20:20+len(payload)], payload)
	binary.LittleEndian.PutUint32(buf[20+len(payload):], magicValue)
	return buf, nil
}

// Decode validates magic, trailer, version, and CRC, returning the payload
// on success. Container capacity is checked by the caller (the engine knows
// the real container size; Decode only trusts what's in buf).
func Decode(buf []byte) (*Record, error) {
	const op = "resource.Decode"
	if len(buf) < minRecordLen {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != magicValue {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != currentVer {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	flags := binary.LittleEndian.Uint16(buf[6:8])
	payloadLen := binary.LittleEndian.Uint64(buf[8:16])
	checksum := binary.LittleEndian.Uint32(buf[16:20])

	if uint64(len(buf)) < uint64(headerSize)+payloadLen+uint64(trailerSize) {
		return nil, errs.New(errs.MalformedBinary, op)
	}

	payload := buf[20 : 20+payloadLen]
	trailer := binary.LittleEndian.Uint32(buf[20+payloadLen:])
	if trailer != magicValue {
		return nil, errs.New(errs.IntegrityError, op)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, errs.New(errs.IntegrityError, op)
	}

	return &Record{Version: version, Flags: flags, Payload: payload}, nil
}

// EncodedLen returns the total on-disk size of the encoded record for a
// payload of the given length, for callers that need to size a container
// before calling Encode.
func EncodedLen(payloadLen int) int {
	return headerSize + payloadLen + trailerSize
}

// Checksum is exposed separately so list operations can report a resource's
// CRC without re-decoding the whole payload.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
