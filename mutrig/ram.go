// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import "sync"

// wordRAM models a dual-port word memory: concurrent readers, one
// writer at a time. The configuration store is read bit-wise by the
// serial writer from its own clock domain, hence the read lock.
type wordRAM struct {
	mu   sync.RWMutex
	data []uint32
}

func newWordRAM(n int) *wordRAM {
	return &wordRAM{data: make([]uint32, n)}
}

func (ram *wordRAM) size() int { return len(ram.data) }

func (ram *wordRAM) at(i uint32) uint32 {
	ram.mu.RLock()
	defer ram.mu.RUnlock()
	return ram.data[i]
}

func (ram *wordRAM) set(i, v uint32) {
	ram.mu.Lock()
	defer ram.mu.Unlock()
	ram.data[i] = v
}

// bit returns bit i of the store; bit 0 is the lsb of word 0.
func (ram *wordRAM) bit(i uint32) uint32 {
	ram.mu.RLock()
	defer ram.mu.RUnlock()
	return (ram.data[i>>5] >> (i & 31)) & 1
}

func (ram *wordRAM) snapshot() []uint32 {
	ram.mu.RLock()
	defer ram.mu.RUnlock()
	out := make([]uint32, len(ram.data))
	copy(out, ram.data)
	return out
}

func (ram *wordRAM) reset() {
	ram.mu.Lock()
	defer ram.mu.Unlock()
	for i := range ram.data {
		ram.data[i] = 0
	}
}

// write ports of the configuration store.
type wrPort uint8

const (
	portNone wrPort = iota
	portMover
	portModifier
)

// writeGate arbitrates the configuration store write port with fixed
// priority: data mover above pattern modifier. The two engines are never
// active at the same time in normal operation; the gate makes the
// behavior deterministic if they were.
type writeGate struct {
	mu    sync.Mutex
	owner wrPort
	want  [portModifier + 1]bool
}

func (g *writeGate) acquire(p wrPort) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.want[p] = true
	if g.owner != portNone && g.owner != p {
		return false
	}
	if p == portModifier && g.want[portMover] {
		return false
	}
	g.owner = p
	g.want[p] = false
	return true
}

func (g *writeGate) release(p wrPort) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == p {
		g.owner = portNone
	}
}
