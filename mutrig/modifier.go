// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import "context"

// modifier patches the 6-bit TTH field of all 32 channels of one chip,
// leaving every other bit of the configuration store untouched.
type modifier struct {
	cfg  *wordRAM
	gate *writeGate
	tbl  *[nChans]fieldLoc
	tim  timings
}

// run rewrites the TTH field of every channel of dev with tth. The
// value is bit-reversed before merging: the field is stored msb-first
// in the bitstream order used by the serial writer.
func (pm *modifier) run(ctx context.Context, dev uint8, tth uint32) error {
	for !pm.gate.acquire(portModifier) {
		if err := tick(ctx, pm.tim.poll); err != nil {
			return err
		}
	}
	defer pm.gate.release(portModifier)

	var (
		base = uint32(dev) * szSlice
		rev  = reverse6(tth)
	)
	for ch := 0; ch < nChans; ch++ {
		loc := pm.tbl[ch]

		w0 := pm.cfg.at(base + loc.word0)
		pm.cfg.set(base+loc.word0, mergeField(w0, rev, loc.lsb))

		// a field contained in one word skips the second write-back
		if loc.nwords == 2 {
			w1 := pm.cfg.at(base + loc.word1)
			pm.cfg.set(base+loc.word1, mergeField(w1, rev, loc.lsb-32))
		}
	}
	return nil
}
