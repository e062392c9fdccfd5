// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"fmt"
	"testing"
)

func TestTTHTable(t *testing.T) {
	tbl := tthTable()

	for ch, loc := range tbl {
		lo := nBitsHdrCfg + ch*nBitsChCfg + offTTH
		hi := lo + nBitsTTH - 1

		if got, want := loc.word0, uint32(lo/32); got != want {
			t.Errorf("ch=%d: invalid word0: got=%d, want=%d", ch, got, want)
		}
		if got, want := loc.lsb, lo%32; got != want {
			t.Errorf("ch=%d: invalid lsb: got=%d, want=%d", ch, got, want)
		}
		switch loc.nwords {
		case 1:
			if lo/32 != hi/32 {
				t.Errorf("ch=%d: field straddles words but nwords=1", ch)
			}
		case 2:
			if lo/32 == hi/32 {
				t.Errorf("ch=%d: field fits one word but nwords=2", ch)
			}
			if got, want := loc.word1, loc.word0+1; got != want {
				t.Errorf("ch=%d: invalid word1: got=%d, want=%d", ch, got, want)
			}
		default:
			t.Errorf("ch=%d: invalid nwords=%d", ch, loc.nwords)
		}
	}

	// the 68-bit stride guarantees both straddling and contained fields
	var n1, n2 int
	for _, loc := range tbl {
		switch loc.nwords {
		case 1:
			n1++
		case 2:
			n2++
		}
	}
	if n1 == 0 || n2 == 0 {
		t.Fatalf("degenerate layout: contained=%d, straddling=%d", n1, n2)
	}
}

func TestMergeField(t *testing.T) {
	for _, tc := range []struct {
		orig uint32
		repl uint32
		lsb  int
		want uint32
	}{
		{orig: 0x00000000, repl: 0x3f, lsb: 0, want: 0x0000003f},
		{orig: 0xffffffff, repl: 0x00, lsb: 0, want: 0xffffffc0},
		{orig: 0x00000000, repl: 0x3f, lsb: 8, want: 0x00003f00},
		{orig: 0xffffffff, repl: 0x15, lsb: 8, want: 0xffffd5ff},
		// field straddles into the next word: only the low part lands here
		{orig: 0x00000000, repl: 0x3f, lsb: 30, want: 0xc0000000},
		{orig: 0xffffffff, repl: 0x00, lsb: 30, want: 0x3fffffff},
		// continuation in the next word: lsb goes negative
		{orig: 0x00000000, repl: 0x3f, lsb: -2, want: 0x0000000f},
		{orig: 0xffffffff, repl: 0x00, lsb: -2, want: 0xfffffff0},
		{orig: 0x00000000, repl: 0x2a, lsb: -3, want: 0x00000005},
	} {
		t.Run(fmt.Sprintf("lsb=%d", tc.lsb), func(t *testing.T) {
			got := mergeField(tc.orig, tc.repl, tc.lsb)
			if got != tc.want {
				t.Fatalf("invalid merge: got=0x%08x, want=0x%08x", got, tc.want)
			}
		})
	}
}

func TestMergeFieldSplit(t *testing.T) {
	// a straddling field reassembles across the word boundary
	tbl := tthTable()
	var loc fieldLoc
	for _, l := range tbl {
		if l.nwords == 2 {
			loc = l
			break
		}
	}

	const tth = 0x2d
	var (
		rev = reverse6(tth)
		w0  = mergeField(0, rev, loc.lsb)
		w1  = mergeField(0, rev, loc.lsb-32)
	)
	var got uint32
	for i := 0; i < nBitsTTH; i++ {
		pos := loc.lsb + i
		var bit uint32
		if pos < 32 {
			bit = w0 >> uint(pos) & 1
		} else {
			bit = w1 >> uint(pos-32) & 1
		}
		got |= bit << i
	}
	if got != rev {
		t.Fatalf("split field does not reassemble: got=0x%02x, want=0x%02x", got, rev)
	}
}

func TestReverse6(t *testing.T) {
	for _, tc := range []struct {
		v, want uint32
	}{
		{0x00, 0x00},
		{0x3f, 0x3f},
		{0x01, 0x20},
		{0x20, 0x01},
		{0x2a, 0x15},
		{0x0d, 0x2c},
	} {
		if got := reverse6(tc.v); got != tc.want {
			t.Errorf("reverse6(0x%02x): got=0x%02x, want=0x%02x", tc.v, got, tc.want)
		}
		if got := reverse6(reverse6(tc.v)); got != tc.v {
			t.Errorf("reverse6 not involutive for 0x%02x: got=0x%02x", tc.v, got)
		}
	}
}
