// Package checksum implements the RFC 1071 Internet checksum.
package checksum

import "encoding/binary"

// Verifier computes and verifies ones-complement Internet checksums.
type Verifier struct{}

// Compute returns the checksum of b as it would be stored in a header whose
// checksum field is zero.
func (Verifier) Compute(b []byte) uint16 {
	return ^Fold(Sum(b, 0))
}

// Verify reports whether b, including its embedded checksum field, sums to 0xffff.
func (Verifier) Verify(b []byte) bool {
	return Fold(Sum(b, 0)) == 0xffff
}

// Sum adds b to the running 32-bit accumulator initial as a sequence of
// big-endian 16-bit words. An odd trailing byte is padded with zero.
func Sum(b []byte, initial uint32) uint32 {
	sum := initial
	for len(b) >= 8 {
		sum += uint32(binary.BigEndian.Uint16(b[0:2]))
		sum += uint32(binary.BigEndian.Uint16(b[2:4]))
		sum += uint32(binary.BigEndian.Uint16(b[4:6]))
		sum += uint32(binary.BigEndian.Uint16(b[6:8]))
		sum = (sum & 0xffff) + (sum >> 16)
		b = b[8:]
	}
	for len(b) >= 2 {
		sum += uint32(binary.BigEndian.Uint16(b))
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	return sum
}

// Fold reduces a 32-bit accumulator to 16 bits with end-around carry.
func Fold(sum uint32) uint16 {
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}
