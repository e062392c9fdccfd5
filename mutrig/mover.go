// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"fmt"
	"time"
)

// mover is the bulk-copy engine moving one configuration payload from
// the staging buffer into a chip's partition of the configuration store
// and its mirror.
type mover struct {
	src  ReadPort
	cfg  *wordRAM
	mir  *wordRAM
	gate *writeGate
	tim  timings
}

// run posts one burst read of n words at staging offset off and writes
// every beat to dev's partition. The staging bus has no timeout: a
// permanently stalled source stalls the mover until the context is
// cancelled, which is the reset line of this engine.
func (mv *mover) run(ctx context.Context, dev uint8, off, n uint32) error {
	if n == 0 || n > szSlice {
		return fmt.Errorf("mutrig: invalid payload length %d words", n)
	}

	for !mv.gate.acquire(portMover) {
		if err := tick(ctx, mv.tim.poll); err != nil {
			return err
		}
	}
	defer mv.gate.release(portMover)

	for !mv.src.Post(off, n) {
		if err := tick(ctx, mv.tim.poll); err != nil {
			return err
		}
	}

	base := uint32(dev) * szSlice
	for i := uint32(0); i < n; {
		v, ok := mv.src.Data()
		if !ok {
			if err := tick(ctx, mv.tim.poll); err != nil {
				return err
			}
			continue
		}
		mv.cfg.set(base+i, v)
		mv.mir.set(base+i, v)
		i++
	}

	if resp := mv.src.Resp(); resp != RespOK {
		return fmt.Errorf("mutrig: staging burst failed (dev=%d): resp=%d", dev, resp)
	}
	return nil
}

// tick advances one poll cycle, honouring cancellation.
func tick(ctx context.Context, period time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if period > 0 {
		time.Sleep(period)
	}
	return nil
}
