// Package vlq implements the variable-length-quantity integer encoding
// used to size-prefix leaf record values: 7 payload bits per byte, most
// significant group first, with the top bit of every byte but the last
// set as a continuation flag.
//
// This mirrors StarVlqEncoding.hpp byte-for-byte rather than the LEB128
// variant implemented by encoding/binary's Uvarint (which emits groups
// least-significant-first): the two are not wire-compatible for values
// needing more than one byte.
package vlq

import "github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"

// maxBytes bounds both encode and decode to 10 bytes, enough for a full
// 64-bit value (70 bits of group capacity).
const maxBytes = 10

// SizeUint returns the number of bytes EncodeUint would write for x,
// without performing the encode.
func SizeUint(x uint64) int {
	i := 9
	for ; i > 0; i-- {
		if x&(uint64(127)<<(uint(i)*7)) != 0 {
			break
		}
	}
	return i + 1
}

// AppendUint appends the VLQ encoding of x to dst and returns the
// extended slice.
func AppendUint(dst []byte, x uint64) []byte {
	i := 9
	for ; i > 0; i-- {
		if x&(uint64(127)<<(uint(i)*7)) != 0 {
			break
		}
	}
	for j := 0; j < i; j++ {
		dst = append(dst, byte((x>>(uint(i-j)*7))&127)|128)
	}
	return append(dst, byte(x&127))
}

// DecodeUint reads a VLQ-encoded unsigned integer from the front of src.
// It returns the decoded value and the number of bytes consumed. An
// encoding that does not terminate within min(len(src), 10) bytes is a
// *dberr.Error of KindCorruption.
func DecodeUint(src []byte) (uint64, int, error) {
	var x uint64
	limit := len(src)
	if limit > maxBytes {
		limit = maxBytes
	}
	for i := 0; i < limit; i++ {
		oct := src[i]
		x = (x << 7) | uint64(oct&127)
		if oct&128 == 0 {
			return x, i + 1, nil
		}
	}
	return 0, 0, dberr.Corruption("vlq: no terminating byte within %d bytes", limit)
}
