// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/bits"
)

const (
	numASICs = 16

	nChans      = 32
	nBitsHdr    = 182
	nBitsCh     = 68
	nBitsStream = nBitsHdr + nChans*nBitsCh // 2358
	nWords      = (nBitsStream + 31) / 32   // 74
)

// ASIC is one MuTRiG configuration record, one row of the asics table.
type ASIC struct {
	PrimaryID int32 `json:"identifier"`
	FEBID     uint8 `json:"feb_id"`
	ChipID    uint8 `json:"chip_id"`

	GenIdleSignal  uint8  `json:"genidlesignal"`
	RecvAllMode    uint8  `json:"recvallmode"`
	ExtTrigMode    uint8  `json:"exttrigmode"`
	ExtTrigEndTime uint8  `json:"exttrigendtime"`
	TimingBias     uint32 `json:"timingbias"`
	PLLConfig      uint16 `json:"pllconfig"`
	TDCConfig      uint64 `json:"tdcconfig"` // 48 significant bits
	DACChargePump  uint8  `json:"daccp"`
	LVDSBias       uint8  `json:"lvdsbias"`
	AmpComBias     uint8  `json:"ampcombias"`

	GlobalThreshold uint8 `json:"globalth"` // coarse threshold DAC
	ChannelMaskSel  uint8 `json:"chmasksel"`

	Channels ChannelList `json:"channels"`
}

// Channel is the per-channel block of a MuTRiG record.
type Channel struct {
	TDCTune   uint16 `json:"tdctune"`
	InputBias uint8  `json:"inputbias"`
	EThr      uint8  `json:"ethr"` // energy-branch threshold, 6 bits
	DMon      uint8  `json:"dmon"` // 7 bits
	TTH       uint8  `json:"tth"`  // timing threshold, 6 bits
	AmpBias   uint8  `json:"ampbias"`
	CompBias  uint8  `json:"compbias"`
	Hyst      uint8  `json:"hyst"` // 5 bits
	Mask      uint8  `json:"mask"`
	EdgeSel   uint8  `json:"edgesel"`
	Polarity  uint8  `json:"polarity"`
	MonitorEn uint8  `json:"monitoren"`
}

// ChannelList is the channels column, stored as a JSON blob.
type ChannelList [nChans]Channel

func (chs *ChannelList) Scan(src interface{}) error {
	switch src := src.(type) {
	case []byte:
		return json.Unmarshal(src, chs)
	case string:
		return json.Unmarshal([]byte(src), chs)
	default:
		return fmt.Errorf("conddb: invalid channels column type %T", src)
	}
}

func (chs ChannelList) Value() (driver.Value, error) {
	return json.Marshal(chs)
}

// Bitstream assembles the slow-control frame of this record, packed in
// the word order of the controller's configuration store: bit 0 of the
// frame is the lsb of word 0. Multi-bit fields are stored msb-first,
// matching the order in which the serial link shifts them out.
func (asic ASIC) Bitstream() []uint32 {
	w := bitWriter{buf: make([]uint32, nWords)}

	w.put(uint64(asic.GenIdleSignal), 1)
	w.put(uint64(asic.RecvAllMode), 1)
	w.put(uint64(asic.ExtTrigMode), 1)
	w.put(uint64(asic.ExtTrigEndTime), 4)
	w.put(uint64(asic.TimingBias), 32)
	w.put(uint64(asic.PLLConfig), 16)
	w.put(asic.TDCConfig, 48)
	w.put(uint64(asic.DACChargePump), 4)
	w.put(uint64(asic.LVDSBias), 8)
	w.put(uint64(asic.AmpComBias), 8)
	w.put(uint64(asic.GlobalThreshold), 8)
	w.put(uint64(asic.ChannelMaskSel), 2)
	w.put(0, nBitsHdr-w.n) // reserved

	for _, ch := range asic.Channels {
		w.put(uint64(ch.TDCTune), 16)
		w.put(uint64(ch.InputBias), 8)
		w.put(uint64(ch.EThr), 6)
		w.put(uint64(ch.DMon), 7)
		w.put(uint64(ch.TTH), 6)
		w.put(uint64(ch.AmpBias), 8)
		w.put(uint64(ch.CompBias), 8)
		w.put(uint64(ch.Hyst), 5)
		w.put(uint64(ch.Mask), 1)
		w.put(uint64(ch.EdgeSel), 1)
		w.put(uint64(ch.Polarity), 1)
		w.put(uint64(ch.MonitorEn), 1)
	}

	if w.n != nBitsStream {
		panic(fmt.Errorf("conddb: invalid bitstream length %d", w.n))
	}
	return w.buf
}

// FromBitstream decodes words, as read back from a controller's
// configuration store, into this record's fields.
func (asic *ASIC) FromBitstream(words []uint32) error {
	if got, want := len(words), nWords; got != want {
		return fmt.Errorf("conddb: invalid bitstream buffer length (got=%d, want=%d)", got, want)
	}
	r := bitReader{buf: words}

	asic.GenIdleSignal = uint8(r.get(1))
	asic.RecvAllMode = uint8(r.get(1))
	asic.ExtTrigMode = uint8(r.get(1))
	asic.ExtTrigEndTime = uint8(r.get(4))
	asic.TimingBias = uint32(r.get(32))
	asic.PLLConfig = uint16(r.get(16))
	asic.TDCConfig = r.get(48)
	asic.DACChargePump = uint8(r.get(4))
	asic.LVDSBias = uint8(r.get(8))
	asic.AmpComBias = uint8(r.get(8))
	asic.GlobalThreshold = uint8(r.get(8))
	asic.ChannelMaskSel = uint8(r.get(2))
	_ = r.get(nBitsHdr - r.n) // reserved

	for i := range asic.Channels {
		ch := &asic.Channels[i]
		ch.TDCTune = uint16(r.get(16))
		ch.InputBias = uint8(r.get(8))
		ch.EThr = uint8(r.get(6))
		ch.DMon = uint8(r.get(7))
		ch.TTH = uint8(r.get(6))
		ch.AmpBias = uint8(r.get(8))
		ch.CompBias = uint8(r.get(8))
		ch.Hyst = uint8(r.get(5))
		ch.Mask = uint8(r.get(1))
		ch.EdgeSel = uint8(r.get(1))
		ch.Polarity = uint8(r.get(1))
		ch.MonitorEn = uint8(r.get(1))
	}
	return nil
}

// bitWriter packs fields into a word buffer, msb of each field first.
type bitWriter struct {
	buf []uint32
	n   int
}

func (w *bitWriter) put(v uint64, n int) {
	v = bits.Reverse64(v<<(64-n)) & (1<<n - 1) // field msb goes out first
	for i := 0; i < n; i++ {
		bit := uint32(v>>i) & 1
		w.buf[w.n>>5] |= bit << (w.n & 31)
		w.n++
	}
}

type bitReader struct {
	buf []uint32
	n   int
}

func (r *bitReader) get(n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		bit := uint64(r.buf[r.n>>5]>>(r.n&31)) & 1
		v |= bit << i
		r.n++
	}
	return bits.Reverse64(v<<(64-n)) & (1<<n - 1)
}
