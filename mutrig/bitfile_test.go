// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestReadBitstream(t *testing.T) {
	set := map[uint32]struct{}{
		0:    {},
		31:   {},
		32:   {},
		100:  {},
		2357: {},
	}

	fname := filepath.Join(t.TempDir(), "conf.csv")
	err := os.WriteFile(fname, bitFile(set), 0644)
	if err != nil {
		t.Fatalf("could not write bit file: %+v", err)
	}

	words, err := ReadBitstream(fname)
	if err != nil {
		t.Fatalf("could not read bit file: %+v", err)
	}

	if got, want := len(words), nWordsCfg; got != want {
		t.Fatalf("invalid number of words: got=%d, want=%d", got, want)
	}

	want := make([]uint32, nWordsCfg)
	for addr := range set {
		want[addr/32] |= 1 << (addr % 32)
	}
	for i := range words {
		if words[i] != want[i] {
			t.Fatalf("invalid word %d: got=0x%08x, want=0x%08x", i, words[i], want[i])
		}
	}
}

func TestReadBitstreamInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{
			name: "empty",
			data: []byte("# comment only\n"),
		},
		{
			name: "bad-tokens",
			data: []byte("2357;1;0\n"),
		},
		{
			name: "bad-addr",
			data: []byte("2356;1\n"),
		},
		{
			name: "bad-bit",
			data: []byte("2357;2\n"),
		},
		{
			name: "truncated",
			data: func() []byte {
				buf := bitFile(nil)
				return buf[:bytes.LastIndex(buf[:len(buf)-1], []byte("\n"))+1]
			}(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(t.TempDir(), "conf.csv")
			err := os.WriteFile(fname, tc.data, 0644)
			if err != nil {
				t.Fatalf("could not write bit file: %+v", err)
			}

			_, err = ReadBitstream(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func bitFile(set map[uint32]struct{}) []byte {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "# slow-control bits\n")
	for addr := int(nBitsCfg) - 1; addr >= 0; addr-- {
		bit := 0
		if _, ok := set[uint32(addr)]; ok {
			bit = 1
		}
		fmt.Fprintf(buf, "%d;%d\n", addr, bit)
	}
	return buf.Bytes()
}
