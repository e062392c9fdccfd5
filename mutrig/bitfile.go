// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadBitstream parses a slow-control bit file and returns the 74-word
// configuration payload. The file holds one "addr;bit" line per
// bitstream position, addresses descending from 2357 down to 0, with
// '#' comment lines skipped.
func ReadBitstream(fname string) ([]uint32, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("mutrig: could not open bit file %q: %w", fname, err)
	}
	defer f.Close()

	var (
		words = make([]uint32, nWordsCfg)
		cnt   = uint32(nBitsCfg - 1)
		sc    = bufio.NewScanner(f)
		line  int
	)

	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" || strings.HasPrefix(txt, "#") {
			continue
		}
		toks := strings.Split(txt, ";")
		if len(toks) != 2 {
			return nil, fmt.Errorf("mutrig: invalid bit file:%d: line=%q", line, txt)
		}
		v, err := strconv.ParseUint(toks[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("mutrig: could not parse address %q in %q: %w", toks[0], txt, err)
		}
		addr := uint32(v)

		v, err = strconv.ParseUint(toks[1], 10, 1)
		if err != nil {
			return nil, fmt.Errorf("mutrig: could not parse bit %q in %q: %w", toks[1], txt, err)
		}
		bit := uint32(v)

		if addr != cnt {
			return nil, fmt.Errorf(
				"mutrig: invalid bit address line:%d: got=%d, want=%d",
				line, addr, cnt,
			)
		}
		cnt--

		if bit != 0 {
			words[addr/32] |= 1 << (addr % 32)
		}
		if addr == 0 {
			return words, nil
		}
	}
	err = sc.Err()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("mutrig: could not scan bit file %q: %w", fname, err)
	}

	return nil, fmt.Errorf("mutrig: reached end of bit file %q before last bit", fname)
}
