package outcome

import "github.com/bits-and-blooms/bitset"

// MaskBytes encodes the first n bits of b in the big-endian bitmap layout the
// shared store uses: bit i lives in byte i/8 at mask 0x80>>(i%8).
func MaskBytes(b *bitset.BitSet, n int) []byte {
	out := make([]byte, (n+7)/8)
	for i, ok := b.NextSet(0); ok && int(i) < n; i, ok = b.NextSet(i + 1) {
		out[i/8] |= 0x80 >> (i % 8)
	}
	return out
}

// FromMask decodes a bitmap written by MaskBytes. Bits at or beyond n are
// ignored; a short or empty mask leaves the remaining bits clear.
func FromMask(mask []byte, n int) *bitset.BitSet {
	b := bitset.New(uint(n))
	for byteIdx, v := range mask {
		if v == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			i := byteIdx*8 + bit
			if i >= n {
				return b
			}
			if v&(0x80>>bit) != 0 {
				b.Set(uint(i))
			}
		}
	}
	return b
}
