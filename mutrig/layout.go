// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import "math/bits"

// fieldLoc locates one channel's TTH field inside the chip partition.
// The 68-bit channel stride is not a multiple of 32, so the 6-bit field
// may straddle a word boundary; word1 is only meaningful when nwords==2.
type fieldLoc struct {
	word0  uint32 // word index of the field lsb, relative to the partition
	word1  uint32 // word index of the field msb
	lsb    int    // bit position of the field lsb within word0
	nwords int    // 1 or 2
}

// tthTable derives the per-channel field locations from the fixed
// bitstream layout. Computed once, never mutated.
func tthTable() [nChans]fieldLoc {
	var tbl [nChans]fieldLoc
	for ch := range tbl {
		var (
			lo  = nBitsHdrCfg + ch*nBitsChCfg + offTTH
			hi  = lo + nBitsTTH - 1
			loc = fieldLoc{
				word0:  uint32(lo / 32),
				word1:  uint32(hi / 32),
				lsb:    lo % 32,
				nwords: 1,
			}
		)
		if loc.word1 != loc.word0 {
			loc.nwords = 2
		}
		tbl[ch] = loc
	}
	return tbl
}

// mergeField replaces the 6-bit window [lsb,lsb+5] of orig with repl.
// lsb may be negative (field starts in the previous word) or reach past
// bit 31 (field ends in the next word); out-of-range window bits are
// dropped, bits of orig outside the window pass through unchanged.
func mergeField(orig, repl uint32, lsb int) uint32 {
	repl &= 0x3f
	var mask, val uint32
	switch {
	case lsb >= 0:
		mask = 0x3f << uint(lsb)
		val = repl << uint(lsb)
	default:
		mask = 0x3f >> uint(-lsb)
		val = repl >> uint(-lsb)
	}
	return (orig &^ mask) | (val & mask)
}

// reverse6 mirrors a 6-bit value; the TTH field is stored msb-first in
// the bitstream order used by the serial writer.
func reverse6(v uint32) uint32 {
	return uint32(bits.Reverse8(uint8(v&0x3f)) >> 2)
}
