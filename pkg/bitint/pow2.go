/*
Package bitint provides the integer sizing helpers used to lay out the
measurement buffers: FFT sizes must be powers of two, and circular histories
are rounded up to whole blocks so their write position never drifts.

All functions are O(1), allocation free and safe to call from the real-time
path.

Usage:

	// Validate an FFT size and suggest a fix.
	if !bitint.IsPowerOfTwo(n) {
		return fmt.Errorf("fft size %d, try %d", n, bitint.NextPowerOfTwo(n))
	}

	// Size a history for 660 samples of delay plus one 128-sample block.
	size := bitint.CeilMultiple(660+128, 128) // 896

----------------------------------------------------------------------

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two are preserved:

	size = 8, size-1 = 7 (0111), bits.Len(7) = 3, 1<<3 = 8
	without the subtraction bits.Len(8) = 4 and the result doubles to 16.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2. Powers of two have exactly one
// bit set, so n & (n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// CeilMultiple rounds n up to the nearest multiple of m. m must be positive;
// non-positive n rounds to zero.
func CeilMultiple(n, m int) int {
	if n <= 0 {
		return 0
	}
	return (n + m - 1) / m * m
}
