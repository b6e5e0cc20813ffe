package xdec

import "fmt"

// MaxShortNop is the longest NOP EncodeNop produces.
const MaxShortNop = 9

// LongNop is a 15-byte NOP. Its trailing n bytes (n >= 10) are themselves a
// valid n-byte NOP because the leading bytes are redundant 0x66 prefixes.
var LongNop = [MaxInstLen]byte{
	0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x2e, 0x0f, 0x1f, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Recommended multi-byte NOP sequences, indexed by length.
var shortNops = [MaxShortNop + 1][]byte{
	1: {0x90},
	2: {0x66, 0x90},
	3: {0x0f, 0x1f, 0x00},
	4: {0x0f, 0x1f, 0x40, 0x00},
	5: {0x0f, 0x1f, 0x44, 0x00, 0x00},
	6: {0x66, 0x0f, 0x1f, 0x44, 0x00, 0x00},
	7: {0x0f, 0x1f, 0x80, 0x00, 0x00, 0x00, 0x00},
	8: {0x0f, 0x1f, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
	9: {0x66, 0x0f, 0x1f, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// EncodeNop writes an n-byte NOP into buf and returns n.
func EncodeNop(buf []byte, n int) (int, error) {
	if n < 1 || n > MaxShortNop {
		return 0, fmt.Errorf("nop length %d out of range [1,%d]", n, MaxShortNop)
	}
	if len(buf) < n {
		return 0, fmt.Errorf("nop buffer too small: %d < %d", len(buf), n)
	}
	return copy(buf, shortNops[n]), nil
}

// LongNopTail returns the trailing n bytes of LongNop.
func LongNopTail(n int) ([]byte, error) {
	if n <= MaxShortNop || n > MaxInstLen {
		return nil, fmt.Errorf("long nop length %d out of range [%d,%d]", n, MaxShortNop+1, MaxInstLen)
	}
	return LongNop[MaxInstLen-n:], nil
}
