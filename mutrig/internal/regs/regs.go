// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the FPGA register map of the MuTRiG controller
// firmware, as seen from the HPS lightweight bridge.
package regs // import "github.com/yifeng-ethz/mutrig-controller/mutrig/internal/regs"

// lightweight HPS-to-FPGA bridge window.
const (
	LW_H2F_BASE = 0xff200000
	LW_H2F_SPAN = 0x00200000
)

// control/status registers, byte offsets into the bridge window.
const (
	LW_H2F_PIO_CMD      = 0x0000 // command register
	LW_H2F_PIO_STATUS   = 0x0004 // status register
	LW_H2F_PIO_OFFSET   = 0x0008 // staging-offset register
	LW_H2F_PIO_INTERVAL = 0x000c // monitor-interval register

	LW_H2F_PIO_SPI_CTRL = 0x0010 // serial link drive lines
	LW_H2F_PIO_SPI_STAT = 0x0014 // serial link sense lines

	LW_H2F_PIO_CNT_CTRL = 0x0018 // hit-counter control pulses
	LW_H2F_PIO_CNT_STAT = 0x001c // hit-counter burst status
)

// memory windows, byte offsets into the bridge window.
const (
	LW_H2F_RAM_STAGING = 0x010000 // staging buffer
	LW_H2F_CNT_HIT     = 0x020000 // hit-counter block
)

// LW_H2F_PIO_SPI_CTRL bit assignment.
const (
	O_SPI_SCLK = 0x00000001 // serial clock
	O_SPI_MOSI = 0x00000002 // serial data to the chip

	SHIFT_SPI_CS = 16 // chip-select lines, one-hot, bits [31:16]
)

// LW_H2F_PIO_SPI_STAT bit assignment.
const (
	I_SPI_MISO = 0x00000001 // serial data from the chip
)

// LW_H2F_PIO_CNT_CTRL bit assignment.
const (
	O_CNT_CLEAR = 0x00000001 // synchronous clear, all counters
	O_CNT_FLUSH = 0x00000002 // drop the in-flight read burst
)
