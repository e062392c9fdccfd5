// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"testing"

	"github.com/yifeng-ethz/mutrig-controller/conddb"
)

func testModifier(t *testing.T) (*modifier, *wordRAM) {
	t.Helper()
	var (
		cfg  = newWordRAM(nASICs * szSlice)
		gate writeGate
		tbl  = tthTable()
	)
	return &modifier{cfg: cfg, gate: &gate, tbl: &tbl}, cfg
}

func TestModifier(t *testing.T) {
	const (
		dev = uint8(2)
		tth = uint32(0x19)
	)
	pm, cfg := testModifier(t)

	// seed the partition with a dense pattern
	base := uint32(dev) * szSlice
	for i := uint32(0); i < nWordsCfg; i++ {
		cfg.set(base+i, 0xffffffff)
	}

	err := pm.run(context.Background(), dev, tth)
	if err != nil {
		t.Fatalf("could not run modifier: %+v", err)
	}

	// every channel's field holds the bit-reversed threshold, every
	// other bit of the partition is still set
	want := func(pos uint32) uint32 {
		rel := int(pos)
		for ch := 0; ch < nChans; ch++ {
			lo := nBitsHdrCfg + ch*nBitsChCfg + offTTH
			if rel >= lo && rel < lo+nBitsTTH {
				return reverse6(tth) >> uint(rel-lo) & 1
			}
		}
		return 1
	}
	for pos := uint32(0); pos < nBitsCfg; pos++ {
		if got := cfg.bit(base*32 + pos); got != want(pos) {
			t.Fatalf("invalid bit %d: got=%d, want=%d", pos, got, want(pos))
		}
	}
}

func TestModifierOtherPartitionsUntouched(t *testing.T) {
	pm, cfg := testModifier(t)

	err := pm.run(context.Background(), 1, 0x3f)
	if err != nil {
		t.Fatalf("could not run modifier: %+v", err)
	}

	for dev := uint8(0); dev < nASICs; dev++ {
		if dev == 1 {
			continue
		}
		base := uint32(dev) * szSlice
		for i := uint32(0); i < szSlice; i++ {
			if got := cfg.at(base + i); got != 0 {
				t.Fatalf("dev=%d word=%d modified: 0x%08x", dev, i, got)
			}
		}
	}
}

// TestModifierBitstream drives the modifier over a frame assembled by
// the conditions database and decodes it back: only the timing
// thresholds may change.
func TestModifierBitstream(t *testing.T) {
	const (
		dev = uint8(9)
		tth = uint32(0x2c)
	)

	var asic conddb.ASIC
	asic.PLLConfig = 0xbeef
	asic.TDCConfig = 0x0000_1234_5678_9abc
	asic.GlobalThreshold = 0x55
	for i := range asic.Channels {
		asic.Channels[i] = conddb.Channel{
			TDCTune:  uint16(i * 257),
			EThr:     uint8(i & 0x3f),
			TTH:      uint8(63 - i),
			AmpBias:  0x99,
			Polarity: 1,
		}
	}

	pm, cfg := testModifier(t)
	base := uint32(dev) * szSlice
	for i, w := range asic.Bitstream() {
		cfg.set(base+uint32(i), w)
	}

	err := pm.run(context.Background(), dev, tth)
	if err != nil {
		t.Fatalf("could not run modifier: %+v", err)
	}

	words := make([]uint32, nWordsCfg)
	for i := range words {
		words[i] = cfg.at(base + uint32(i))
	}
	var got conddb.ASIC
	err = got.FromBitstream(words)
	if err != nil {
		t.Fatalf("could not decode patched frame: %+v", err)
	}

	want := asic
	for i := range want.Channels {
		want.Channels[i].TTH = uint8(tth)
	}
	if got != want {
		t.Fatalf("patched frame differs:\ngot= %#v\nwant=%#v", got, want)
	}
}
