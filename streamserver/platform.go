package streamserver

import (
	"math/bits"
	"time"
	"unsafe"
)

// nativeByteOrder reports this process's native integer byte order as the
// classic 1234 (little-endian) / 4321 (big-endian) sentinel values used in
// the feedparams negotiation headers.
func nativeByteOrder() int {
	var x uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&x))
	if b[0] == 1 {
		return 1234
	}
	return 4321
}

// measureEndianPerformance times how long this process takes to byte-swap
// one 8-byte value, averaged over a short burst, for the negotiation's
// "whichever side swaps faster reverses the order" comparison.
func measureEndianPerformance() float64 {
	const iterations = 100000
	var sink uint64 = 0xdeadbeefcafebabe

	start := time.Now()
	for i := 0; i < iterations; i++ {
		sink = bits.ReverseBytes64(sink)
	}
	elapsed := time.Since(start)

	// keep the compiler from eliding the loop
	if sink == 0 {
		return 1
	}

	return float64(elapsed.Nanoseconds()) / float64(iterations)
}
