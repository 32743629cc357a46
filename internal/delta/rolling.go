// Package delta implements the rsync-style block delta engine (§4.6): an
// Adler-32 variant rolling hash, signature generation over an existing
// target file, delta calculation against a source file, and delta
// application to reconstruct the source from a target plus instructions.
package delta

const modulus = 65521

// RollingHash is an Adler-32 variant over a sliding window of bytes. Sum
// returns the combined 32-bit value (b<<16)|a the same way every call
// site in this package expects it, so two RollingHash values initialized
// over the same bytes always agree.
type RollingHash struct {
	a, b   int64
	window int
}

// NewRollingHash computes the initial hash over buf from scratch.
func NewRollingHash(buf []byte) *RollingHash {
	h := &RollingHash{a: 1, window: len(buf)}
	for _, c := range buf {
		h.a += int64(c)
		h.b += h.a
	}
	h.a %= modulus
	h.b %= modulus
	return h
}

// Sum returns the combined weak hash value.
func (h *RollingHash) Sum() uint32 {
	return uint32(h.b<<16) | uint32(h.a&0xffff)
}

// Roll slides the window forward by one byte: out leaves the window, in
// enters it. The update is O(1) regardless of window size. The b term is
// carried in a signed 64-bit accumulator before the final modulus so a
// transient negative intermediate (out can outweigh the running a sum for
// a single step) does not wrap the way it would in unsigned arithmetic.
func (h *RollingHash) Roll(out, in byte) {
	n := int64(h.window)

	h.a = (h.a - int64(out) + int64(in)) % modulus
	if h.a < 0 {
		h.a += modulus
	}

	h.b = (h.b - n*int64(out) + h.a - 1) % modulus
	if h.b < 0 {
		h.b += modulus
	}
}

// ComputeWeakHash is a convenience one-shot equivalent to
// NewRollingHash(buf).Sum(), used by signature generation where no
// rolling update is needed.
func ComputeWeakHash(buf []byte) uint32 {
	return NewRollingHash(buf).Sum()
}
