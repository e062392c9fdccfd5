// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mutrig-svc starts a TDAQ server wrapping the MuTRiG
// controller of a front-end board, together with the TCP control
// endpoint used by mutrig-sh.
package main // import "github.com/yifeng-ethz/mutrig-controller/cmd/mutrig-svc"

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/yifeng-ethz/mutrig-controller/mutrig"
	"golang.org/x/sync/errgroup"
)

var (
	ctlAddr = flag.String("ctl-addr", ":8877", "[ip]:port of the TCP control endpoint")
	devmem  = flag.String("dev-mem", "/dev/mem", "mmap'able device file")
	mask    = flag.Int("devmask", 0xffff, "mask of chips to drive")
)

func main() {
	cmd := flags.New()

	feb := &feb{
		name:    cmd.Args[0],
		devmem:  *devmem,
		ctlAddr: *ctlAddr,
		mask:    uint16(*mask),
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", feb.OnConfig)
	srv.CmdHandle("/init", feb.OnInit)
	srv.CmdHandle("/reset", feb.OnReset)
	srv.CmdHandle("/start", feb.OnStart)
	srv.CmdHandle("/stop", feb.OnStop)
	srv.CmdHandle("/quit", feb.OnQuit)

	srv.OutputHandle("/tth-scan", feb.scans)

	srv.RunHandle(feb.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// feb wraps one front-end board for the TDAQ state machine.
type feb struct {
	name    string
	devmem  string
	ctlAddr string
	mask    uint16

	mm  *mutrig.MMIO
	ctl *mutrig.Controller

	stop context.CancelFunc
	grp  *errgroup.Group

	data chan []byte
}

func (dev *feb) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	return nil
}

func (dev *feb) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	mm, err := mutrig.OpenMMIO(dev.devmem)
	if err != nil {
		return fmt.Errorf("could not open MMIO device: %w", err)
	}
	dev.mm = mm
	dev.ctl = mutrig.New(
		mm.Staging(), mm.Counters(), mm.Serial(),
		mutrig.WithDeviceMask(dev.mask),
	)
	dev.data = make(chan []byte, 16)

	runCtx, cancel := context.WithCancel(context.Background())
	dev.stop = cancel
	dev.grp, runCtx = errgroup.WithContext(runCtx)
	dev.grp.Go(func() error { return dev.ctl.Run(runCtx) })
	dev.grp.Go(func() error {
		return mutrig.Serve(runCtx, dev.ctlAddr, dev.ctl, dev.mm.LoadStaging)
	})
	return nil
}

func (dev *feb) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if dev.ctl != nil {
		dev.ctl.Reset()
	}
	return nil
}

func (dev *feb) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return nil
}

func (dev *feb) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	return nil
}

func (dev *feb) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if dev.stop != nil {
		dev.stop()
		err := dev.grp.Wait()
		if err != nil {
			ctx.Msg.Errorf("could not stop controller: %+v", err)
		}
	}
	if dev.mm != nil {
		return dev.mm.Close()
	}
	return nil
}

// run scans all enabled chips and publishes the result store on the
// /tth-scan output port, one little-endian word per cell.
func (dev *feb) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
		}

		err := dev.ctl.ScanAll(ctx.Ctx)
		if err != nil {
			ctx.Msg.Errorf("could not run threshold scan: %+v", err)
			return err
		}

		res := dev.ctl.Results()
		buf := make([]byte, 4*len(res))
		for i, v := range res {
			binary.LittleEndian.PutUint32(buf[4*i:], v)
		}
		select {
		case dev.data <- buf:
		case <-ctx.Ctx.Done():
			return nil
		}
	}
}

func (dev *feb) scans(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case data := <-dev.data:
		dst.Body = data
	case <-ctx.Ctx.Done():
		dst.Body = nil
	}
	return nil
}
