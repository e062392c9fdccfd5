// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestProcess(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "tth-scan-dev03.csv")
	err := os.WriteFile(fname, scanCSV(3), 0644)
	if err != nil {
		t.Fatalf("could not write scan file: %+v", err)
	}

	hs, err := process(fname)
	if err != nil {
		t.Fatalf("could not process scan file: %+v", err)
	}

	if got, want := len(hs), nChans; got != want {
		t.Fatalf("invalid number of histograms: got=%d, want=%d", got, want)
	}

	for ch, h := range hs {
		if got, want := h.Entries(), int64(nTTH); got != want {
			t.Fatalf("ch=%d: invalid number of entries: got=%d, want=%d", ch, got, want)
		}
		// rows hold rate = tth*100 + ch
		var want float64
		for tth := 0; tth < nTTH; tth++ {
			want += float64(tth*100 + ch)
		}
		if got := h.SumW(); got != want {
			t.Fatalf("ch=%d: invalid sum of weights: got=%v, want=%v", ch, got, want)
		}
	}

	if got, want := hs[7].Annotation()["name"], "scurve_dev03_ch07"; got != want {
		t.Fatalf("invalid histogram name: got=%q, want=%q", got, want)
	}
}

func TestProcessInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{
			name: "empty",
			data: nil,
		},
		{
			name: "bad-header",
			data: []byte("#tth;ch00\n"),
		},
		{
			name: "short",
			data: []byte("<scan dev=1>\n#tth\n0;1\n"),
		},
		{
			name: "bad-rate",
			data: func() []byte {
				buf := scanCSV(1)
				return bytes.Replace(buf, []byte(";100;"), []byte(";x;"), 1)
			}(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(t.TempDir(), "scan.csv")
			err := os.WriteFile(fname, tc.data, 0644)
			if err != nil {
				t.Fatalf("could not write scan file: %+v", err)
			}

			_, err = process(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func scanCSV(dev int) []byte {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "<scan dev=%d>\n", dev)
	fmt.Fprintf(buf, "#tth")
	for ch := 0; ch < nChans; ch++ {
		fmt.Fprintf(buf, ";ch%02d", ch)
	}
	fmt.Fprintf(buf, "\n")
	for tth := 0; tth < nTTH; tth++ {
		fmt.Fprintf(buf, "%d", tth)
		for ch := 0; ch < nChans; ch++ {
			fmt.Fprintf(buf, ";%d", tth*100+ch)
		}
		fmt.Fprintf(buf, "\n")
	}
	return buf.Bytes()
}
