// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"log"
	"time"
)

// monitor snapshots the per-chip hit counters for one threshold step.
type monitor struct {
	msg *log.Logger
	cnt CounterPort
	res *wordRAM
	tim timings

	timedOut bool // latched on bus timeout, reset per invocation
}

// resultIndex flattens (threshold, chip, channel) into the result store.
func resultIndex(tth uint32, dev uint8, ch uint32) uint32 {
	return (tth*nASICs+uint32(dev))*nChans + ch
}

// run clears the counters, lets them accumulate for interval
// accumulation units and reads every chip's 32 counters into the
// result store. The interval is a per-routine snapshot of the
// monitor-interval register, taken by the caller under its lock.
// A bus starving the read past the timeout aborts that burst:
// the counters are flushed, the timeout is latched and the routine
// still runs to completion with a degraded result.
func (mon *monitor) run(ctx context.Context, tth uint32, devs []uint8, interval uint16) error {
	mon.timedOut = false

	// counter-clear pulse after the debounce
	sleepCycles(mon.tim.debounce, mon.tim.poll)
	mon.cnt.Clear()

	// accumulation window plus margin
	if mon.tim.second > 0 {
		time.Sleep(time.Duration(interval) * mon.tim.second)
	}
	sleepCycles(mon.tim.margin, mon.tim.poll)

	for _, dev := range devs {
		var (
			posted bool
			got    uint32
			idle   int
		)
	read:
		for got < nChans {
			switch {
			case !posted:
				if mon.cnt.Post(counterBase(dev), nChans) {
					posted = true
					idle = 0
					continue
				}
			default:
				if v, ok := mon.cnt.Data(); ok {
					mon.res.set(resultIndex(tth, dev, got), v)
					got++
					idle = 0
					continue
				}
			}

			idle++
			if idle >= mon.tim.timeout {
				mon.timedOut = true
				mon.cnt.Flush()
				mon.msg.Printf("counter read timeout (dev=%d, tth=%d): flushing", dev, tth)
				break read
			}
			if err := tick(ctx, mon.tim.poll); err != nil {
				return err
			}
		}
	}
	return nil
}
