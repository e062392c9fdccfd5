// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/yifeng-ethz/mutrig-controller/internal/mmap"
	"github.com/yifeng-ethz/mutrig-controller/mutrig/internal/regs"
	"golang.org/x/sys/unix"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(mm *MMIO, rw rwer, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return mm.readU32(rw, offset)
		},
		w: func(v uint32) {
			mm.writeU32(rw, offset, v)
		},
	}
}

// MMIO is the hardware back end: it maps the FPGA register window of
// the MuTRiG controller firmware through the HPS lightweight bridge
// and exposes the staging buffer, the hit-counter block and the serial
// link as ports for a Controller. Errors are sticky: the first failed
// register access latches and every later access is a no-op until Err
// is consulted.
type MMIO struct {
	mem struct {
		fd *os.File
		lw *mmap.Handle
	}
	buf [4]byte
	err error

	regs struct {
		cmd      reg32
		status   reg32
		offset   reg32
		interval reg32
		spiCtrl  reg32
		spiStat  reg32
		cntCtrl  reg32
		cntStat  reg32
	}

	spi uint32 // shadow of the serial drive lines
}

// OpenMMIO maps the controller registers from devmem, usually
// /dev/mem.
func OpenMMIO(devmem string) (*MMIO, error) {
	mem, err := os.OpenFile(devmem, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("mutrig: could not open %q: %w", devmem, err)
	}

	mm := &MMIO{}
	mm.mem.fd = mem

	data, err := unix.Mmap(
		int(mem.Fd()),
		regs.LW_H2F_BASE, regs.LW_H2F_SPAN,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("mutrig: could not mmap lw-h2f: %w", err)
	}
	if data == nil || len(data) != regs.LW_H2F_SPAN {
		_ = mem.Close()
		return nil, fmt.Errorf("mutrig: invalid mmap'd data: %d", len(data))
	}
	mm.mem.lw = mmap.HandleFrom(data)
	mm.bind()

	return mm, nil
}

func (mm *MMIO) bind() {
	lw := mm.mem.lw
	mm.regs.cmd = newReg32(mm, lw, regs.LW_H2F_PIO_CMD)
	mm.regs.status = newReg32(mm, lw, regs.LW_H2F_PIO_STATUS)
	mm.regs.offset = newReg32(mm, lw, regs.LW_H2F_PIO_OFFSET)
	mm.regs.interval = newReg32(mm, lw, regs.LW_H2F_PIO_INTERVAL)
	mm.regs.spiCtrl = newReg32(mm, lw, regs.LW_H2F_PIO_SPI_CTRL)
	mm.regs.spiStat = newReg32(mm, lw, regs.LW_H2F_PIO_SPI_STAT)
	mm.regs.cntCtrl = newReg32(mm, lw, regs.LW_H2F_PIO_CNT_CTRL)
	mm.regs.cntStat = newReg32(mm, lw, regs.LW_H2F_PIO_CNT_STAT)
}

// Close unmaps the register window.
func (mm *MMIO) Close() error {
	if mm.mem.lw != nil {
		if err := mm.mem.lw.Close(); err != nil {
			return fmt.Errorf("mutrig: could not unmap lw-h2f: %w", err)
		}
		mm.mem.lw = nil
	}
	if mm.mem.fd != nil {
		if err := mm.mem.fd.Close(); err != nil {
			return fmt.Errorf("mutrig: could not close devmem: %w", err)
		}
		mm.mem.fd = nil
	}
	return nil
}

// Err returns the sticky register-access error, if any.
func (mm *MMIO) Err() error { return mm.err }

func (mm *MMIO) readU32(r io.ReaderAt, off int64) uint32 {
	if mm.err != nil {
		return 0
	}
	_, mm.err = r.ReadAt(mm.buf[:4], off)
	if mm.err != nil {
		mm.err = fmt.Errorf("mutrig: could not read register 0x%x: %w", off, mm.err)
		return 0
	}
	return binary.LittleEndian.Uint32(mm.buf[:4])
}

func (mm *MMIO) writeU32(w io.WriterAt, off int64, v uint32) {
	if mm.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(mm.buf[:4], v)
	_, mm.err = w.WriteAt(mm.buf[:4], off)
	if mm.err != nil {
		mm.err = fmt.Errorf("mutrig: could not write register 0x%x: %w", off, mm.err)
	}
}

// Staging returns the burst-read port over the staging-buffer window.
func (mm *MMIO) Staging() ReadPort {
	return &mmioPort{mm: mm, base: regs.LW_H2F_RAM_STAGING}
}

// Counters returns the Rate Monitor's port over the hit-counter block.
func (mm *MMIO) Counters() CounterPort {
	return &mmioCounters{mmioPort{mm: mm, base: regs.LW_H2F_CNT_HIT}}
}

// Serial returns the slow-control link driver.
func (mm *MMIO) Serial() SerialBus { return (*mmioSerial)(mm) }

// LoadStaging writes a configuration payload into the staging buffer.
func (mm *MMIO) LoadStaging(off uint32, words []uint32) error {
	for i, v := range words {
		mm.writeU32(mm.mem.lw, regs.LW_H2F_RAM_STAGING+int64(off+uint32(i))*4, v)
	}
	return mm.err
}

// mmioPort adapts a memory window on the bridge to the burst-read
// protocol. The bridge is synchronous, so posts are always accepted
// and every beat is valid.
type mmioPort struct {
	mm   *MMIO
	base int64
	cur  uint32
	left uint32
	resp BusResp
}

func (p *mmioPort) Post(addr, n uint32) bool {
	p.cur = addr
	p.left = n
	p.resp = RespOK
	return true
}

func (p *mmioPort) Data() (uint32, bool) {
	if p.left == 0 {
		return 0, false
	}
	v := p.mm.readU32(p.mm.mem.lw, p.base+int64(p.cur)*4)
	if p.mm.err != nil {
		p.resp = RespSlaveErr
	}
	p.cur++
	p.left--
	return v, true
}

func (p *mmioPort) Resp() BusResp { return p.resp }

type mmioCounters struct {
	mmioPort
}

func (c *mmioCounters) Clear() {
	c.mm.regs.cntCtrl.w(regs.O_CNT_CLEAR)
	c.mm.regs.cntCtrl.w(0)
}

func (c *mmioCounters) Flush() {
	c.left = 0
	c.mm.regs.cntCtrl.w(regs.O_CNT_FLUSH)
	c.mm.regs.cntCtrl.w(0)
}

// mmioSerial bit-bangs the slow-control lines through the SPI control
// register, keeping a shadow of the drive bits.
type mmioSerial MMIO

func (s *mmioSerial) set(mask uint32, on bool) {
	if on {
		s.spi |= mask
	} else {
		s.spi &^= mask
	}
	s.regs.spiCtrl.w(s.spi)
}

func (s *mmioSerial) ChipSelect(dev uint8, assert bool) {
	s.set(1<<(regs.SHIFT_SPI_CS+uint32(dev)), assert)
}

func (s *mmioSerial) ClockHigh() { s.set(regs.O_SPI_SCLK, true) }
func (s *mmioSerial) ClockLow()  { s.set(regs.O_SPI_SCLK, false) }

func (s *mmioSerial) WriteBit(b uint32) {
	s.set(regs.O_SPI_MOSI, b&1 == 1)
}

func (s *mmioSerial) ReadBit() uint32 {
	return s.regs.spiStat.r() & regs.I_SPI_MISO
}

var (
	_ ReadPort    = (*mmioPort)(nil)
	_ CounterPort = (*mmioCounters)(nil)
	_ SerialBus   = (*mmioSerial)(nil)
)
