// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"
)

// fakeBus records the serial transactions seen on the slow-control
// link: one frame per chip-select window, one bit per rising edge.
type fakeBus struct {
	mu      sync.Mutex
	sel     int // asserted chip-select, -1 when idle
	pending uint32
	cur     []uint32
	frames  []busFrame
	nreads  int
}

type busFrame struct {
	dev  uint8
	bits []uint32
}

func newFakeBus() *fakeBus { return &fakeBus{sel: -1} }

func (b *fakeBus) ChipSelect(dev uint8, assert bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case assert:
		b.sel = int(dev)
		b.cur = nil
	default:
		b.frames = append(b.frames, busFrame{dev: dev, bits: b.cur})
		b.sel = -1
		b.cur = nil
	}
}

func (b *fakeBus) ClockHigh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sel >= 0 {
		b.cur = append(b.cur, b.pending)
	}
}

func (b *fakeBus) ClockLow() {}

func (b *fakeBus) WriteBit(v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = v & 1
}

func (b *fakeBus) ReadBit() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nreads++
	return 0
}

func (b *fakeBus) snapshot() []busFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]busFrame, len(b.frames))
	copy(out, b.frames)
	return out
}

func TestWriterShift(t *testing.T) {
	const dev = uint8(7)

	var (
		bus = newFakeBus()
		cfg = newWordRAM(nASICs * szSlice)
		rnd = rand.New(rand.NewSource(1))
	)
	base := uint32(dev) * szSlice
	for i := uint32(0); i < szSlice; i++ {
		cfg.set(base+i, rnd.Uint32())
	}

	wr := writer{bus: bus, cfg: cfg}
	ack := wr.shift(dev)
	if !ack.Done {
		t.Fatalf("shift did not report done")
	}

	frames := bus.snapshot()
	if got, want := len(frames), 2; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	for i, frame := range frames {
		if got, want := frame.dev, dev; got != want {
			t.Fatalf("frame %d: invalid chip: got=%d, want=%d", i, got, want)
		}
		if got, want := len(frame.bits), nBitsShift; got != want {
			t.Fatalf("frame %d: invalid length: got=%d, want=%d", i, got, want)
		}
	}
	if !reflect.DeepEqual(frames[0].bits, frames[1].bits) {
		t.Fatalf("the two frames differ")
	}

	// bits leave the store in reverse order: last stored bit first
	bits := frames[0].bits
	for _, i := range []uint32{0, 1, 31, 32, 100, nBitsShift - 1} {
		if got, want := bits[i], cfg.bit(base*32+nBitsShift-1-i); got != want {
			t.Fatalf("invalid bit %d: got=%d, want=%d", i, got, want)
		}
	}

	// line sensing happens on the second pass only
	if got, want := bus.nreads, nBitsShift; got != want {
		t.Fatalf("invalid number of line reads: got=%d, want=%d", got, want)
	}
}

func TestWriterHandshake(t *testing.T) {
	var (
		bus = newFakeBus()
		cfg = newWordRAM(nASICs * szSlice)
		in  = newLink[serialReq]()
		out = newLink[serialAck]()
	)
	wr := writer{bus: bus, cfg: cfg, in: in, out: out}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- wr.loop(ctx) }()

	// start is asserted, done must come back and hold
	if _, err := in.send(ctx, serialReq{Start: true, Dev: 4}); err != nil {
		t.Fatalf("could not assert start: %+v", err)
	}
	ack, err := out.recv(ctx)
	if err != nil {
		t.Fatalf("could not receive done: %+v", err)
	}
	if !ack.Done {
		t.Fatalf("invalid ack: %+v", ack)
	}

	// done clears only after the start retraction
	if _, ok := out.poll(); ok {
		t.Fatalf("done cleared before start retraction")
	}
	if _, err := in.send(ctx, serialReq{}); err != nil {
		t.Fatalf("could not retract start: %+v", err)
	}
	ack, err = out.recv(ctx)
	if err != nil {
		t.Fatalf("could not receive done clear: %+v", err)
	}
	if ack.Done {
		t.Fatalf("done did not clear: %+v", ack)
	}

	if got, want := len(bus.snapshot()), 2; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}

	cancel()
	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer loop did not stop")
	}
}
