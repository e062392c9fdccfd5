// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command scan2yoda converts threshold-scan CSV files written by
// mutrig-daq into YODA files holding one S-curve histogram (hit rate
// vs threshold) per channel.
package main // import "github.com/yifeng-ethz/mutrig-controller/cmd/scan2yoda"

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hbook/yodacnv"
)

const (
	nChans = 32
	nTTH   = 64
)

func main() {
	var (
		oname = flag.String("o", "tth-scan.yoda", "path to output YODA file")
	)

	log.SetPrefix("scan2yoda: ")
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: scan2yoda [OPTIONS] scan.csv [scan.csv ...]

ex:
 $> scan2yoda -o tth-scan.yoda tth-scan-dev00.csv tth-scan-dev01.csv

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		log.Fatalf("missing path(s) to input scan file(s)")
	}

	err := run(*oname, flag.Args())
	if err != nil {
		log.Fatalf("could not convert scan files: %+v", err)
	}
}

func run(oname string, fnames []string) error {
	var hs []*hbook.H1D
	for _, fname := range fnames {
		hdev, err := process(fname)
		if err != nil {
			return fmt.Errorf("could not process %q: %w", fname, err)
		}
		hs = append(hs, hdev...)
	}

	o, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer o.Close()

	objs := make([]yodacnv.Marshaler, len(hs))
	for i, h := range hs {
		objs[i] = h
	}
	err = yodacnv.Write(o, objs...)
	if err != nil {
		return fmt.Errorf("could not marshal histograms to YODA: %w", err)
	}

	err = o.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	return nil
}

// process reads one scan CSV file and returns the 32 per-channel
// S-curve histograms it holds.
func process(fname string) ([]*hbook.H1D, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open scan file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)

	if !sc.Scan() {
		return nil, fmt.Errorf("could not read scan header: %w", sc.Err())
	}
	var dev int
	_, err = fmt.Sscanf(sc.Text(), "<scan dev=%d>", &dev)
	if err != nil {
		return nil, fmt.Errorf("invalid scan header %q: %w", sc.Text(), err)
	}

	hs := make([]*hbook.H1D, nChans)
	for ch := range hs {
		h := hbook.NewH1D(nTTH, 0, nTTH)
		h.Annotation()["name"] = fmt.Sprintf("scurve_dev%02d_ch%02d", dev, ch)
		h.Annotation()["path"] = fmt.Sprintf("/scan/dev%02d/ch%02d", dev, ch)
		h.Annotation()["title"] = fmt.Sprintf("hit rate vs TTH (dev=%d ch=%d)", dev, ch)
		hs[ch] = h
	}

	var nrows int
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		toks := strings.Split(line, ";")
		if len(toks) != 1+nChans {
			return nil, fmt.Errorf("invalid scan row %q", line)
		}
		tth, err := strconv.Atoi(toks[0])
		if err != nil {
			return nil, fmt.Errorf("invalid threshold value %q: %w", toks[0], err)
		}
		if tth < 0 || tth >= nTTH {
			return nil, fmt.Errorf("threshold value %d out of range", tth)
		}
		for ch := 0; ch < nChans; ch++ {
			rate, err := strconv.ParseUint(toks[1+ch], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid rate value %q: %w", toks[1+ch], err)
			}
			hs[ch].Fill(float64(tth)+0.5, float64(rate))
		}
		nrows++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("could not read scan file: %w", err)
	}
	if nrows != nTTH {
		return nil, fmt.Errorf("invalid number of scan rows: got=%d, want=%d", nrows, nTTH)
	}

	return hs, nil
}
