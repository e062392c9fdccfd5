// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mutrig-daq drives MuTRiG configuration and threshold scans
// in stand-alone mode, without a DAQ orchestrator.
package main // import "github.com/yifeng-ethz/mutrig-controller/cmd/mutrig-daq"

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/yifeng-ethz/mutrig-controller/conddb"
	"github.com/yifeng-ethz/mutrig-controller/mutrig"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		cfg      = flag.String("cfg", "", "JSON file with the ASIC configuration records")
		csv      = flag.String("csv", "", "slow-control bit file (addr;bit lines) applied to every enabled chip")
		dbname   = flag.String("db", "", "conditions database to fetch the configuration from (overrides -cfg)")
		feb      = flag.Int("feb", 0, "front-end board id, for -db lookups")
		mask     = flag.Int("devmask", 0xffff, "mask of chips to drive")
		interval = flag.Int("interval", 1, "rate-accumulation window, in seconds")
		scan     = flag.Bool("scan", false, "run a threshold scan after configuring")
		odir     = flag.String("o", "/home/root/run", "output dir")
		devmem   = flag.String("dev-mem", "/dev/mem", "mmap'able device file")
	)

	log.SetPrefix("mutrig-daq: ")
	log.SetFlags(0)

	flag.Parse()

	log.Printf("devmask=0x%04x interval=%ds scan=%v", *mask, *interval, *scan)

	if *cfg == "" && *csv == "" && *dbname == "" {
		log.Fatalf("missing ASIC configuration (-cfg, -csv or -db)")
	}

	err := run(*cfg, *csv, *dbname, uint8(*feb), uint16(*mask), uint16(*interval), *scan, *odir, *devmem)
	if err != nil {
		log.Fatalf("could not run mutrig-daq: %+v", err)
	}
}

func run(cfg, csv, dbname string, feb uint8, mask, interval uint16, scan bool, odir, devmem string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		asics []conddb.ASIC
		bits  []uint32
		err   error
	)
	switch {
	case csv != "":
		bits, err = mutrig.ReadBitstream(csv)
		if err != nil {
			return fmt.Errorf("could not load bit file: %w", err)
		}
	default:
		asics, err = loadASICs(ctx, cfg, dbname, feb)
		if err != nil {
			return fmt.Errorf("could not load ASIC configuration: %w", err)
		}
	}

	mm, err := mutrig.OpenMMIO(devmem)
	if err != nil {
		return fmt.Errorf("could not open MMIO device: %w", err)
	}
	defer mm.Close()

	ctl := mutrig.New(
		mm.Staging(), mm.Counters(), mm.Serial(),
		mutrig.WithDeviceMask(mask),
		mutrig.WithMonitorInterval(interval),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var grp errgroup.Group
	grp.Go(func() error { return ctl.Run(runCtx) })

	switch {
	case bits != nil:
		for dev := uint8(0); dev < 16; dev++ {
			if mask&(1<<dev) == 0 {
				continue
			}
			err := configureBits(ctx, mm, ctl, dev, bits)
			if err != nil {
				cancel()
				_ = grp.Wait()
				return err
			}
		}
	default:
		for _, asic := range asics {
			err := configure(ctx, mm, ctl, asic)
			if err != nil {
				cancel()
				_ = grp.Wait()
				return err
			}
		}
	}

	if scan {
		err := runScan(ctx, ctl, odir, mask)
		if err != nil {
			cancel()
			_ = grp.Wait()
			return err
		}
	}

	cancel()
	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run controller: %w", err)
	}
	return mm.Err()
}

func loadASICs(ctx context.Context, cfg, dbname string, feb uint8) ([]conddb.ASIC, error) {
	if dbname != "" {
		db, err := conddb.Open(dbname)
		if err != nil {
			return nil, fmt.Errorf("could not open conddb: %w", err)
		}
		defer db.Close()

		name, err := db.LastConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not get last configuration set: %w", err)
		}
		log.Printf("using configuration set %q", name)

		asics, err := db.ASICConfig(ctx, name, feb)
		if err != nil {
			return nil, fmt.Errorf("could not get ASIC records: %w", err)
		}
		return asics, nil
	}

	f, err := os.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", cfg, err)
	}
	defer f.Close()

	var asics []conddb.ASIC
	err = json.NewDecoder(f).Decode(&asics)
	if err != nil {
		return nil, fmt.Errorf("could not decode %q: %w", cfg, err)
	}
	return asics, nil
}

func configure(ctx context.Context, mm *mutrig.MMIO, ctl *mutrig.Controller, asic conddb.ASIC) error {
	return configureBits(ctx, mm, ctl, asic.ChipID, asic.Bitstream())
}

func configureBits(ctx context.Context, mm *mutrig.MMIO, ctl *mutrig.Controller, dev uint8, words []uint32) error {
	off := uint32(dev) * uint32(len(words))
	err := mm.LoadStaging(off, words)
	if err != nil {
		return fmt.Errorf("could not load staging buffer (chip=%d): %w", dev, err)
	}

	log.Printf("configuring chip %d...", dev)
	err = ctl.Configure(ctx, dev, off, uint16(len(words)))
	if err != nil {
		return fmt.Errorf("could not configure chip %d: %w", dev, err)
	}
	log.Printf("configuring chip %d... [done]", dev)
	return nil
}

func runScan(ctx context.Context, ctl *mutrig.Controller, odir string, mask uint16) error {
	log.Printf("running threshold scan...")
	err := ctl.ScanAll(ctx)
	if err != nil {
		return fmt.Errorf("could not run threshold scan: %w", err)
	}
	log.Printf("running threshold scan... [done]")

	for dev := uint8(0); dev < 16; dev++ {
		if mask&(1<<dev) == 0 {
			continue
		}
		fname := filepath.Join(odir, fmt.Sprintf("tth-scan-dev%02d.csv", dev))
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("could not create %q: %w", fname, err)
		}
		err = ctl.DumpScan(f, dev)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("could not dump scan results to %q: %w", fname, err)
		}
		err = f.Close()
		if err != nil {
			return fmt.Errorf("could not close %q: %w", fname, err)
		}
		log.Printf("wrote %s", fname)
	}
	return nil
}
