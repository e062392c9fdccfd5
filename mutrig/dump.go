// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"bufio"
	"fmt"
	"io"
)

// DumpConfig writes dev's configuration partition as one word per line,
// msb-oriented bit offset first, matching the serial transmission
// order.
func (ctl *Controller) DumpConfig(w io.Writer, dev uint8) error {
	buf := bufio.NewWriter(w)
	defer buf.Flush()

	words := ctl.Config(dev)
	for i := 0; i < nWordsCfg; i++ {
		j := 32 * (nWordsCfg - i - 1)
		_, err := fmt.Fprintf(buf, "%d\t%08x\n", j, words[nWordsCfg-i-1])
		if err != nil {
			return fmt.Errorf("mutrig: could not dump config: %w", err)
		}
	}
	return nil
}

// DumpScan writes dev's scan results as CSV, one line per threshold
// step.
func (ctl *Controller) DumpScan(w io.Writer, dev uint8) error {
	var (
		buf    = bufio.NewWriter(w)
		err    error
		printf = func(format string, args ...interface{}) {
			_, e := fmt.Fprintf(buf, format, args...)
			if err == nil {
				err = e
			}
		}
	)
	defer buf.Flush()

	printf("<scan dev=%d>\n", dev)
	printf("#tth")
	for ch := 0; ch < nChans; ch++ {
		printf(";ch%02d", ch)
	}
	printf("\n")
	for tth := uint32(0); tth < nTTH; tth++ {
		printf("%d", tth)
		for ch := uint32(0); ch < nChans; ch++ {
			printf(";%d", ctl.Result(tth, dev, ch))
		}
		printf("\n")
	}

	if err != nil {
		return fmt.Errorf("mutrig: could not dump scan results: %w", err)
	}

	err = buf.Flush()
	if err != nil {
		return fmt.Errorf("mutrig: could not dump scan results: %w", err)
	}
	return nil
}
