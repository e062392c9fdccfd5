// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mutrig controls an array of MuTRiG ASICs: it moves slow-control
// bitstreams from a staging buffer into per-chip configuration RAM, drives
// the serial slow-control link, patches the per-channel TTH threshold field
// and runs automated threshold scans with hit-rate readout.
package mutrig // import "github.com/yifeng-ethz/mutrig-controller/mutrig"

const (
	nChans = 32 // channels per MuTRiG
	nASICs = 16 // addressable chips (4-bit device id)

	nBitsHdrCfg = 182  // global configuration block
	nBitsChCfg  = 68   // one channel record
	nBitsTTH    = 6    // TTH field width
	offTTH      = 37   // TTH lsb inside a channel record
	nBitsCfg    = nBitsHdrCfg + nChans*nBitsChCfg // 2358
	nWordsCfg   = (nBitsCfg + 31) / 32            // 74
	szSlice     = 128                             // per-chip partition, in words
	nBitsShift  = nWordsCfg * 32                  // serialized frame length

	nTTH = 64 // threshold steps per scan
)

// command codes, bits [31:20] of the command register.
const (
	cmdCfgASIC    = 0x110 // configure one chip from the staging buffer
	cmdTTHScan    = 0x111 // threshold scan, one chip
	cmdTTHScanAll = 0x112 // threshold scan, all enabled chips
)

// completion codes, status register bits [15:0] while idle.
const (
	statOK    = 0x0
	statFault = 0x1 // handshake inconsistency, cleared by Reset
)

// cmdWord is the latched content of the command register.
type cmdWord struct {
	cmd uint32 // 12-bit command code
	dev uint8  // 4-bit chip id
	n   uint16 // payload length, in words
}

func decodeCmd(v uint32) cmdWord {
	return cmdWord{
		cmd: (v >> 20) & 0xfff,
		dev: uint8((v >> 16) & 0xf),
		n:   uint16(v & 0xffff),
	}
}
