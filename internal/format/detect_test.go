package format

import "testing"

func TestDetectTotalAndStable(t *testing.T) {
	cases := []struct {
		name   string
		prefix []byte
		want   Format
	}{
		{"macho32", []byte{0xfe, 0xed, 0xfa, 0xce}, MachO},
		{"macho64", []byte{0xfe, 0xed, 0xfa, 0xcf}, MachO},
		{"macho32swap", []byte{0xce, 0xfa, 0xed, 0xfe}, MachO},
		{"macho64swap", []byte{0xcf, 0xfa, 0xed, 0xfe}, MachO},
		{"fat", []byte{0xca, 0xfe, 0xba, 0xbe}, Fat},
		{"fatswap", []byte{0xbe, 0xba, 0xfe, 0xca}, Fat},
		{"elf", []byte{0x7f, 'E', 'L', 'F'}, ELF},
		{"unknown", []byte{0, 0, 0, 0}, Unknown},
		{"short", []byte{0xfe, 0xed}, Unknown},
		{"empty", nil, Unknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			suffix := append(append([]byte{}, c.prefix...), []byte{1, 2, 3, 4, 5, 6, 7, 8}...)
			got := Detect(suffix)
			if got != c.want {
				t.Fatalf("Detect(%x) = %v, want %v", suffix, got, c.want)
			}
		})
	}
}

func TestDetectPE(t *testing.T) {
	b := make([]byte, 0x40)
	b[0], b[1] = 'M', 'Z'
	// u32 at 0x3c points to offset 0x40, where we place the PE signature.
	b[0x3c] = 0x40
	b = append(b, 'P', 'E', 0, 0)
	b = append(b, make([]byte, 16)...)
	if got := Detect(b); got != PE {
		t.Fatalf("Detect(PE) = %v, want PE", got)
	}
}

func TestDetectMZWithoutPESignatureIsUnknown(t *testing.T) {
	b := make([]byte, 64)
	b[0], b[1] = 'M', 'Z'
	// e_lfanew points past EOF.
	b[0x3c] = 0xff
	if got := Detect(b); got != Unknown {
		t.Fatalf("Detect(bad PE) = %v, want Unknown", got)
	}
}
