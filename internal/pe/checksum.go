package pe

import "encoding/binary"

// computeChecksum implements the algorithm Microsoft's linker and
// CheckSumMappedFile use: sum the image as little-endian 16-bit words (with
// the existing checksum field treated as zero), fold carries, then add the
// file length. data must have its checksum field already zeroed.
func computeChecksum(data []byte) uint32 {
	var sum uint64
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint64(binary.LittleEndian.Uint16(data[i : i+2]))
		sum = (sum & 0xffffffff) + (sum >> 32)
	}
	if n%2 == 1 {
		sum += uint64(data[n-1])
		sum = (sum & 0xffffffff) + (sum >> 32)
	}
	sum = (sum & 0xffff) + (sum >> 16)
	sum = sum + (sum >> 16)
	sum &= 0xffff
	sum += uint64(n)
	return uint32(sum)
}
