package cyton

import "fmt"

const (
	int24SignBit   = 0x800000
	int24Magnitude = 0x7FFFFF
	int24Mask      = 0xFFFFFF
)

// DecodeInt24 decodes three big-endian bytes into a signed value. Bit 23 is a
// sign flag over the low 23 bits, so 0x800001 is -1 rather than the two's
// complement -8388607.
//
// It panics if b is not exactly three bytes long.
func DecodeInt24(b []byte) int32 {
	if len(b) != 3 {
		panic(fmt.Sprintf("cyton: DecodeInt24 needs 3 bytes, got %d", len(b)))
	}
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&int24SignBit != 0 {
		return -(v & int24Magnitude)
	}
	return v & int24Mask
}

// EncodeInt24 is the inverse of DecodeInt24. Magnitudes above 0x7FFFFF are
// truncated to 23 bits.
func EncodeInt24(dst []byte, v int32) {
	_ = dst[2]
	var m uint32
	if v < 0 {
		m = uint32(-int64(v))&int24Magnitude | int24SignBit
	} else {
		m = uint32(v) & int24Magnitude
	}
	dst[0] = byte(m >> 16)
	dst[1] = byte(m >> 8)
	dst[2] = byte(m)
}
