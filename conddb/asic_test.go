// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"reflect"
	"testing"
)

func TestASICBitstream(t *testing.T) {
	want := ASIC{
		GenIdleSignal:   1,
		ExtTrigMode:     1,
		ExtTrigEndTime:  0x9,
		TimingBias:      0xdeadbeef,
		PLLConfig:       0x1234,
		TDCConfig:       0x0000cafe_f00d_0042,
		DACChargePump:   0x5,
		LVDSBias:        0xa5,
		AmpComBias:      0x5a,
		GlobalThreshold: 0x33,
		ChannelMaskSel:  0x2,
	}
	for i := range want.Channels {
		want.Channels[i] = Channel{
			TDCTune:   uint16(0xbe00 + i),
			InputBias: uint8(i),
			EThr:      uint8(0x3f - i&0x3f),
			DMon:      uint8(i & 0x7f),
			TTH:       uint8(i * 2 & 0x3f),
			AmpBias:   0x42,
			CompBias:  0x24,
			Hyst:      uint8(i & 0x1f),
			Mask:      uint8(i & 1),
			EdgeSel:   uint8(i >> 1 & 1),
			Polarity:  1,
			MonitorEn: 0,
		}
	}

	words := want.Bitstream()
	if got, want := len(words), nWords; got != want {
		t.Fatalf("invalid bitstream length: got=%d, want=%d", got, want)
	}

	var got ASIC
	err := got.FromBitstream(words)
	if err != nil {
		t.Fatalf("could not unmarshal bitstream: %+v", err)
	}

	// identity columns do not cross the bitstream
	want.PrimaryID = 0
	want.FEBID = 0
	want.ChipID = 0

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("bitstream round-trip differs:\ngot= %#v\nwant=%#v", got, want)
	}
}

// TestTTHPlacement pins the absolute bit positions of the per-channel
// timing threshold: the controller's threshold patcher relies on them.
func TestTTHPlacement(t *testing.T) {
	var asic ASIC
	asic.Channels[0].TTH = 0x3f
	asic.Channels[13].TTH = 0x01 // stored msb-first: only the last field bit set

	words := asic.Bitstream()

	bit := func(i int) uint32 {
		return (words[i>>5] >> (i & 31)) & 1
	}

	const offTTH = 37 // bit offset of the field inside a channel record
	for i := 0; i < nBitsStream; i++ {
		lo0 := nBitsHdr + 0*nBitsCh + offTTH
		lo13 := nBitsHdr + 13*nBitsCh + offTTH
		var want uint32
		switch {
		case i >= lo0 && i < lo0+6:
			want = 1
		case i == lo13+5:
			want = 1
		}
		if got := bit(i); got != want {
			t.Fatalf("invalid bit %d: got=%d, want=%d", i, got, want)
		}
	}
}
