// Package varint implements varint and ZigZag encoding and decoding as used
// by the record batch wire format.
package varint

// PutZigZag64 appends the zigzag encoding of x to dst, using buf as scratch
// space. buf must be at least binary.MaxVarintLen64 bytes.
func PutZigZag64(dst, buf []byte, x int64) []byte {
	// signed shift right gets the sign extension arithmetic right
	n := PutVarint(buf, uint64(x<<1^(x>>63)))
	return append(dst, buf[:n]...)
}

// DecodeZigZag64 decodes a zigzag encoded int64 from buf. Returns the value
// and the number of bytes consumed (0 when buf is truncated).
func DecodeZigZag64(buf []byte) (int64, int) {
	x, n := DecodeVarint(buf)
	x = (x >> 1) ^ uint64((int64(x&1)<<63)>>63)
	return int64(x), n
}

// PutVarint encodes x into buf and returns the number of bytes written.
// Panics if the buffer is too small.
func PutVarint(buf []byte, x uint64) int {
	n := 0
	for ; x > 127; n++ {
		buf[n] = 0x80 | uint8(x&0x7f)
		x >>= 7
	}
	buf[n] = uint8(x)
	return n + 1
}

// DecodeVarint decodes a uint64 from buf. Returns the value and the number
// of bytes consumed. n == 0 means the buffer was truncated or the value
// would overflow 64 bits.
func DecodeVarint(buf []byte) (x uint64, n int) {
	for shift := uint(0); shift < 64; shift += 7 {
		if n >= len(buf) {
			return 0, 0
		}
		b := uint64(buf[n])
		n++
		x |= (b & 0x7f) << shift
		if b&0x80 == 0 {
			return x, n
		}
	}
	return 0, 0
}
