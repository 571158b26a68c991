/*
Package bitint provides the power-of-two helpers used to size audio buffers.
Callback block sizes must be powers of two and ring buffers are rounded up
to one, so every helper here is allocation free and constant time.

	NextPowerOfTwo(1000) // 1024
	IsPowerOfTwo(512)    // true
	Capacity(2.0, 48000, 2) // 262144, room for two seconds of stereo

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two are preserved:

	size = 8, size-1 = 7 (0111), bits.Len(7) = 3, 1<<3 = 8
	without the subtraction bits.Len(8) = 4 and the result doubles to 16
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size. Zero and negative
// sizes return 1.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return int(1 << bits.Len(uint(size-1)))
}

// IsPowerOfTwo checks if n is a power of 2. A power of two has exactly one
// bit set, so clearing the lowest set bit leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Capacity returns the number of interleaved samples needed to hold the
// given duration of audio, rounded up to a power of two.
func Capacity(seconds, sampleRate float64, channels int) int {
	if seconds <= 0 || sampleRate <= 0 || channels <= 0 {
		return 1
	}
	return NextPowerOfTwo(int(seconds*sampleRate) * channels)
}
