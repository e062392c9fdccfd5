// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Controller drives an array of MuTRiG chips. It runs two goroutines,
// one per clock domain: the control context interprets commands and
// runs the copy, patch and monitor engines; the serial context shifts
// configuration frames onto the slow-control link. The two contexts
// share no state beyond the two one-slot links.
type Controller struct {
	msg *log.Logger
	cfg config

	stage ReadPort

	cfgRAM *wordRAM // per-chip configuration partitions
	mirRAM *wordRAM // write-only mirror of cfgRAM
	res    *wordRAM // scan results, one word per (tth, chip, channel)
	gate   writeGate

	mv  mover
	pm  modifier
	mon monitor
	wr  writer

	toSerial   *link[serialReq]
	fromSerial *link[serialAck]

	cmds chan cmdWord
	gen  atomic.Uint32 // completed-routine counter

	mu       sync.Mutex
	busy     bool   // a routine is running
	cur      uint32 // command echo, status bits [31:16] while busy
	curTTH   uint32 // scan progress, status bits [15:0] while busy
	offset   uint32 // staging offset register
	interval uint16 // monitor-interval register
	stat     uint32 // completion code of the last routine
	trapped  bool   // handshake fault, cleared by Reset
	timedOut bool   // rate-monitor bus timeout during the last scan
}

// New builds a controller over the staging buffer, the hit-counter
// block and the slow-control link.
func New(stage ReadPort, cnt CounterPort, bus SerialBus, opts ...Option) *Controller {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(os.Stdout, "mutrig: ", 0)
	}

	ctl := &Controller{
		msg:        cfg.msg,
		cfg:        cfg,
		stage:      stage,
		cfgRAM:     newWordRAM(nASICs * szSlice),
		mirRAM:     newWordRAM(nASICs * szSlice),
		res:        newWordRAM(nTTH * nASICs * nChans),
		toSerial:   newLink[serialReq](),
		fromSerial: newLink[serialAck](),
		cmds:       make(chan cmdWord, 1),
		interval:   cfg.interval,
	}
	tbl := tthTable()
	ctl.mv = mover{src: stage, cfg: ctl.cfgRAM, mir: ctl.mirRAM, gate: &ctl.gate, tim: cfg.tim}
	ctl.pm = modifier{cfg: ctl.cfgRAM, gate: &ctl.gate, tbl: &tbl, tim: cfg.tim}
	ctl.mon = monitor{msg: cfg.msg, cnt: cnt, res: ctl.res, tim: cfg.tim}
	ctl.wr = writer{bus: bus, cfg: ctl.cfgRAM, tim: cfg.tim, in: ctl.toSerial, out: ctl.fromSerial}
	return ctl
}

// Run starts the two contexts and blocks until the context is
// cancelled, which acts as the reset line.
func (ctl *Controller) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return ctl.wr.loop(ctx) })
	grp.Go(func() error { return ctl.interpret(ctx) })
	err := grp.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// WriteCmd latches a command word. Unknown commands, commands for
// masked chips, configure commands while configuration is disabled and
// any command arriving while a routine runs or while the controller is
// trapped are silently discarded.
func (ctl *Controller) WriteCmd(v uint32) {
	cw := decodeCmd(v)

	switch cw.cmd {
	case cmdCfgASIC:
		if !ctl.cfg.mcc {
			return
		}
		if ctl.cfg.devmask&(1<<cw.dev) == 0 {
			return
		}
	case cmdTTHScan:
		if ctl.cfg.devmask&(1<<cw.dev) == 0 {
			return
		}
	case cmdTTHScanAll:
		// device field ignored
	default:
		return
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.trapped || ctl.busy {
		return
	}
	select {
	case ctl.cmds <- cw:
	default:
		// busy: the command register is write-ignored mid-routine
	}
}

// WriteOffset sets the staging-buffer word offset used by the next
// configure command.
func (ctl *Controller) WriteOffset(v uint32) {
	ctl.mu.Lock()
	ctl.offset = v
	ctl.mu.Unlock()
}

// WriteInterval sets the rate-accumulation window of subsequent scans,
// in accumulation units.
func (ctl *Controller) WriteInterval(v uint16) {
	ctl.mu.Lock()
	ctl.interval = v
	ctl.mu.Unlock()
}

// Idle status register bits. While a routine runs the whole register
// is the busy echo instead, see Status.
const (
	StatTrapped = 1 << 30 // handshake fault latched
	StatTimeout = 1 << 16 // counter-read timeout during the last scan
)

// Status returns the status register. While a routine runs, bits
// [31:16] echo bits [31:16] of the command word and bits [15:0] report
// the current threshold step (zero outside a scan). When idle, bits
// [15:0] hold the completion code of the last routine (0 = ok) with
// the fault flags above it.
func (ctl *Controller) Status() uint32 {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.busy {
		return ctl.cur | ctl.curTTH&0xffff
	}
	v := ctl.stat & 0xffff
	if ctl.trapped {
		v |= StatTrapped
	}
	if ctl.timedOut {
		v |= StatTimeout
	}
	return v
}

// Completions returns the number of routines run to completion since
// start, successful or not. Hosts use it to detect the end of a
// command they just latched.
func (ctl *Controller) Completions() uint32 {
	return ctl.gen.Load()
}

// Result returns the hit count recorded for one (threshold, chip,
// channel) triple by the last scan.
func (ctl *Controller) Result(tth uint32, dev uint8, ch uint32) uint32 {
	return ctl.res.at(resultIndex(tth, dev, ch))
}

// Results returns a snapshot of the whole result store.
func (ctl *Controller) Results() []uint32 {
	return ctl.res.snapshot()
}

// Config returns a snapshot of dev's configuration partition.
func (ctl *Controller) Config(dev uint8) []uint32 {
	out := make([]uint32, szSlice)
	for i := range out {
		out[i] = ctl.cfgRAM.at(uint32(dev)*szSlice + uint32(i))
	}
	return out
}

// Mirror returns a snapshot of dev's mirror partition, the payload as
// it left the staging buffer, before any threshold patching.
func (ctl *Controller) Mirror(dev uint8) []uint32 {
	out := make([]uint32, szSlice)
	for i := range out {
		out[i] = ctl.mirRAM.at(uint32(dev)*szSlice + uint32(i))
	}
	return out
}

// Reset performs a full reset of the control context: pending command,
// stores, link history and fault flags. The serial context is reset by
// cancelling Run's context.
func (ctl *Controller) Reset() {
	select {
	case <-ctl.cmds:
	default:
	}
	ctl.toSerial.drop()
	ctl.fromSerial.drop()
	ctl.cfgRAM.reset()
	ctl.mirRAM.reset()
	ctl.res.reset()

	ctl.mu.Lock()
	ctl.stat = statOK
	ctl.trapped = false
	ctl.timedOut = false
	ctl.mu.Unlock()
}

// Configure latches a configure command for dev, with a payload of n
// words at staging offset off, and waits for the routine to complete.
func (ctl *Controller) Configure(ctx context.Context, dev uint8, off uint32, n uint16) error {
	gen := ctl.gen.Load()
	ctl.WriteOffset(off)
	ctl.WriteCmd(cmdCfgASIC<<20 | uint32(dev)<<16 | uint32(n))
	return ctl.waitDone(ctx, gen)
}

// Scan runs a threshold scan of one chip and waits for it.
func (ctl *Controller) Scan(ctx context.Context, dev uint8) error {
	gen := ctl.gen.Load()
	ctl.WriteCmd(cmdTTHScan<<20 | uint32(dev)<<16)
	return ctl.waitDone(ctx, gen)
}

// ScanAll runs a threshold scan of all enabled chips and waits for it.
func (ctl *Controller) ScanAll(ctx context.Context) error {
	gen := ctl.gen.Load()
	ctl.WriteCmd(cmdTTHScanAll << 20)
	return ctl.waitDone(ctx, gen)
}

func (ctl *Controller) waitDone(ctx context.Context, gen uint32) error {
	for {
		// completion first: the status read below must postdate it,
		// or a busy echo would masquerade as a completion code
		done := ctl.gen.Load() != gen
		stat := ctl.Status()
		switch {
		case stat&StatTrapped != 0:
			return fmt.Errorf("mutrig: controller trapped (status=0x%08x)", stat)
		case done:
			if code := stat & 0xffff; code != statOK {
				return fmt.Errorf("mutrig: routine failed (status=0x%08x)", stat)
			}
			return nil
		}
		if err := tick(ctx, ctl.cfg.tim.poll); err != nil {
			return err
		}
	}
}

// interpret runs the control context: one command at a time, in
// arrival order, each routine running to completion before the next
// command is accepted.
func (ctl *Controller) interpret(ctx context.Context) error {
	for {
		var cw cmdWord
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cw = <-ctl.cmds:
		}

		ctl.mu.Lock()
		ctl.busy = true
		ctl.cur = (uint32(cw.cmd)<<4 | uint32(cw.dev)) << 16
		ctl.curTTH = 0
		// a write racing the receive above slipped past the busy
		// check: it arrived mid-routine and is discarded
		select {
		case <-ctl.cmds:
		default:
		}
		ctl.mu.Unlock()

		var err error
		switch cw.cmd {
		case cmdCfgASIC:
			err = ctl.runMCC(ctx, cw.dev, uint32(cw.n))
		case cmdTTHScan:
			err = ctl.runTSA(ctx, []uint8{cw.dev})
		case cmdTTHScanAll:
			err = ctl.runTSA(ctx, ctl.devices())
		}

		ctl.mu.Lock()
		ctl.busy = false
		ctl.cur = 0
		ctl.curTTH = 0
		ctl.mu.Unlock()
		ctl.gen.Add(1)

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ctl.msg.Printf("command 0x%03x (dev=%d) failed: %+v", cw.cmd, cw.dev, err)
		}
	}
}

// devices lists the chips enabled by the device mask.
func (ctl *Controller) devices() []uint8 {
	var devs []uint8
	for dev := uint8(0); dev < nASICs; dev++ {
		if ctl.cfg.devmask&(1<<dev) != 0 {
			devs = append(devs, dev)
		}
	}
	return devs
}

// runMCC is the configuration routine: copy the payload from the
// staging buffer into dev's partition, then shift it out.
func (ctl *Controller) runMCC(ctx context.Context, dev uint8, n uint32) error {
	ctl.mu.Lock()
	off := ctl.offset
	ctl.mu.Unlock()

	if err := ctl.mv.run(ctx, dev, off, n); err != nil {
		ctl.setStat(statFault)
		return err
	}
	if err := ctl.writeCfg(ctx, dev); err != nil {
		return err
	}
	ctl.setStat(statOK)
	return nil
}

// runTSA is the threshold-scan routine. Each of the 64 steps patches
// and rewrites every chip under scan at the step's threshold, then
// accumulates and reads the hit counters of all of them.
func (ctl *Controller) runTSA(ctx context.Context, devs []uint8) error {
	if len(devs) == 0 {
		ctl.setStat(statOK)
		return nil
	}

	ctl.mu.Lock()
	ctl.timedOut = false
	interval := ctl.interval
	ctl.mu.Unlock()

	for tth := uint32(0); tth < nTTH; tth++ {
		ctl.mu.Lock()
		ctl.curTTH = tth
		ctl.mu.Unlock()

		for _, dev := range devs {
			if err := ctl.pm.run(ctx, dev, tth); err != nil {
				ctl.setStat(statFault)
				return err
			}
			if err := ctl.writeCfg(ctx, dev); err != nil {
				return err
			}
		}
		if err := ctl.mon.run(ctx, tth, devs, interval); err != nil {
			ctl.setStat(statFault)
			return err
		}
		if ctl.mon.timedOut {
			ctl.mu.Lock()
			ctl.timedOut = true
			ctl.mu.Unlock()
		}
	}
	ctl.setStat(statOK)
	return nil
}

var errTrapped = errors.New("mutrig: serial handshake fault")

// writeCfg runs the four-phase handshake with the serial context:
// start, wait for done, retract start, wait for done to clear. A done
// observed before start was asserted is a protocol violation: the
// controller traps and stays trapped until Reset.
func (ctl *Controller) writeCfg(ctx context.Context, dev uint8) error {
	if ack, ok := ctl.fromSerial.poll(); ok && ack.Done {
		ctl.trap(dev, ack)
		return errTrapped
	}

	if _, err := ctl.toSerial.send(ctx, serialReq{Start: true, Dev: dev}); err != nil {
		return err
	}

	ack, err := ctl.fromSerial.recv(ctx)
	for err == nil && !ack.Done {
		ack, err = ctl.fromSerial.recv(ctx)
	}
	if err != nil {
		return err
	}
	if ack.Err {
		ctl.trap(dev, ack)
		return errTrapped
	}

	if _, err := ctl.toSerial.send(ctx, serialReq{}); err != nil {
		return err
	}
	for {
		ack, err := ctl.fromSerial.recv(ctx)
		if err != nil {
			return err
		}
		if !ack.Done {
			return nil
		}
	}
}

func (ctl *Controller) trap(dev uint8, ack serialAck) {
	ctl.mu.Lock()
	ctl.trapped = true
	ctl.stat = statFault
	ctl.mu.Unlock()
	ctl.msg.Printf("serial handshake fault (dev=%d, info=%d): trapped until reset", dev, ack.Info)
}

func (ctl *Controller) setStat(v uint32) {
	ctl.mu.Lock()
	ctl.stat = v
	ctl.mu.Unlock()
}
