// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import "sync"

// BusResp is the response code of a completed burst read.
type BusResp uint8

const (
	RespOK BusResp = iota
	RespDecodeErr
	RespSlaveErr
)

// ReadPort is a burst-capable word-read port with wait/valid handshake,
// as exposed by the staging buffer and the hit-counter block.
type ReadPort interface {
	// Post posts a burst read of n words at word address addr.
	// It returns false while the bus asserts wait.
	Post(addr, n uint32) bool
	// Data returns the next beat of the current burst; ok reports
	// whether a valid beat was available this cycle.
	Data() (v uint32, ok bool)
	// Resp reports the response code of the current burst.
	Resp() BusResp
}

// CounterPort is the Rate Monitor's view of the hit-counter block.
type CounterPort interface {
	ReadPort
	// Clear pulses the synchronous-clear line of all hit counters.
	Clear()
	// Flush drops an in-flight burst after a bus timeout.
	Flush()
}

// SerialBus is the MuTRiG slow-control link: one chip-select per chip,
// a clock idling low and a data line sampled by the chip on the rising
// edge.
type SerialBus interface {
	ChipSelect(dev uint8, assert bool)
	ClockHigh()
	ClockLow()
	WriteBit(b uint32)
	ReadBit() uint32
}

// counterBase maps a chip id to the word address of its counter block.
func counterBase(dev uint8) uint32 {
	return uint32(dev) * nChans
}

// MemPort is an in-memory burst-read port. It backs the staging buffer
// in soft deployments and stands in for the bus fabric in tests.
// A negative wait (resp. lag) stalls Post (resp. Data) forever.
type MemPort struct {
	mu   sync.Mutex
	mem  []uint32
	cur  uint32
	left uint32
	resp BusResp

	wait  int // Post calls rejected before a request is accepted
	lag   int // empty Data calls between two valid beats
	nwait int
	nlag  int
}

func NewMemPort(n int) *MemPort {
	return &MemPort{mem: make([]uint32, n)}
}

func (p *MemPort) Load(off uint32, words []uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.mem[off:], words)
}

func (p *MemPort) Post(addr, n uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wait < 0 {
		return false
	}
	if p.nwait > 0 {
		p.nwait--
		return false
	}
	p.cur = addr
	p.left = n
	p.resp = RespOK
	if int(addr)+int(n) > len(p.mem) {
		p.resp = RespDecodeErr
	}
	p.nwait = p.wait
	p.nlag = p.lag
	return true
}

func (p *MemPort) Data() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left == 0 || p.lag < 0 {
		return 0, false
	}
	if p.nlag > 0 {
		p.nlag--
		return 0, false
	}
	var v uint32
	if int(p.cur) < len(p.mem) {
		v = p.mem[p.cur]
	}
	p.cur++
	p.left--
	p.nlag = p.lag
	return v, true
}

func (p *MemPort) Resp() BusResp {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resp
}

// MemCounters models the per-chip hit-counter block: one 32-word burst
// per chip at counterBase(dev).
type MemCounters struct {
	MemPort

	nclear int
	nflush int
}

func NewMemCounters() *MemCounters {
	return &MemCounters{MemPort: MemPort{mem: make([]uint32, nASICs*nChans)}}
}

func (c *MemCounters) SetCount(dev uint8, ch int, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[counterBase(dev)+uint32(ch)] = v
}

func (c *MemCounters) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nclear++
	for i := range c.mem {
		c.mem[i] = 0
	}
}

func (c *MemCounters) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nflush++
	c.left = 0
}

var (
	_ ReadPort    = (*MemPort)(nil)
	_ CounterPort = (*MemCounters)(nil)
)
