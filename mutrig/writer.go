// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import "context"

// writer is the serial-context engine shifting a chip's configuration
// frame onto the slow-control link. It owns no control-context state:
// requests and completions cross through the two one-slot links.
type writer struct {
	bus SerialBus
	cfg *wordRAM
	tim timings

	in  *link[serialReq]
	out *link[serialAck]
}

// loop runs the serial context. Each accepted request follows the
// four-phase handshake: done is held until the start retraction is
// observed, then cleared.
func (wr *writer) loop(ctx context.Context) error {
	for {
		req, err := wr.in.recv(ctx)
		if err != nil {
			return err
		}
		if !req.Start {
			continue
		}

		ack := wr.shift(req.Dev)
		if _, err := wr.out.send(ctx, ack); err != nil {
			return err
		}

		for req.Start {
			req, err = wr.in.recv(ctx)
			if err != nil {
				return err
			}
		}
		if _, err := wr.out.send(ctx, serialAck{}); err != nil {
			return err
		}
	}
}

// shift serializes dev's frame. The frame is always transmitted twice,
// each pass a complete chip-select transaction; only after the second
// pass is the write reported done.
func (wr *writer) shift(dev uint8) serialAck {
	base := uint32(dev) * szSlice * 32
	for pass := 0; pass < 2; pass++ {
		wr.bus.ChipSelect(dev, true)

		// hold the data line idle to satisfy the chip's setup time
		sleepCycles(wr.tim.settle, wr.tim.clk)

		// one bit per two clock phases, last stored bit first
		for i := uint32(0); i < nBitsShift; i++ {
			bit := wr.cfg.bit(base + nBitsShift - 1 - i)
			wr.bus.WriteBit(bit)
			wr.bus.ClockHigh()
			sleepCycles(1, wr.tim.clk)
			if pass == 1 {
				// readback validation reserved; no comparison here
				_ = wr.bus.ReadBit()
			}
			wr.bus.ClockLow()
			sleepCycles(1, wr.tim.clk)
		}

		wr.bus.ChipSelect(dev, false)
		if pass == 0 {
			sleepCycles(wr.tim.settle, wr.tim.clk)
		}
	}
	return serialAck{Done: true}
}
