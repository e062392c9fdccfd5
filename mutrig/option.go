// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"log"
	"time"
)

type config struct {
	msg      *log.Logger
	devmask  uint16 // enabled chips
	mcc      bool   // configuration routine enabled
	interval uint16 // monitor-interval register, in accumulation units

	tim timings
}

// timings gathers the fixed-latency waits of the state machines. The
// cycle counts mirror the hardware defaults; tests shrink them.
type timings struct {
	clk      time.Duration // serial-context clock period (two per bit)
	poll     time.Duration // control-context poll period
	second   time.Duration // one unit of the monitor-interval register
	settle   int           // idle cycles before the first serial bit
	debounce int           // cycles before the counter-clear pulse
	margin   int           // extra cycles after the accumulation window
	timeout  int           // idle cycles before a counter read aborts
}

func newConfig() config {
	return config{
		devmask:  0xffff,
		mcc:      true,
		interval: 1,
		tim: timings{
			clk:      25 * time.Nanosecond,
			poll:     10 * time.Microsecond,
			second:   time.Second,
			settle:   1000,
			debounce: 5,
			margin:   5,
			timeout:  500,
		},
	}
}

// Option configures a Controller.
type Option func(*config)

// WithLogger sets the logger used by the controller.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) { cfg.msg = msg }
}

// WithDeviceMask selects the chips addressed by the scan-all routine.
func WithDeviceMask(mask uint16) Option {
	return func(cfg *config) { cfg.devmask = mask }
}

// WithoutConfigCtl administratively disables the configuration routine:
// configure commands are silently discarded.
func WithoutConfigCtl() Option {
	return func(cfg *config) { cfg.mcc = false }
}

// WithMonitorInterval sets the rate-accumulation window, in units of
// the accumulation period (seconds by default).
func WithMonitorInterval(v uint16) Option {
	return func(cfg *config) { cfg.interval = v }
}

// WithSerialClock sets the serial-context clock period.
func WithSerialClock(d time.Duration) Option {
	return func(cfg *config) { cfg.tim.clk = d }
}

// WithPollPeriod sets the control-context bus poll period.
func WithPollPeriod(d time.Duration) Option {
	return func(cfg *config) { cfg.tim.poll = d }
}

// WithAccumPeriod sets the duration of one monitor-interval unit.
func WithAccumPeriod(d time.Duration) Option {
	return func(cfg *config) { cfg.tim.second = d }
}

// WithSettleCycles sets the serial settle window.
func WithSettleCycles(n int) Option {
	return func(cfg *config) { cfg.tim.settle = n }
}

// WithDebounceCycles sets the counter-clear debounce.
func WithDebounceCycles(n int) Option {
	return func(cfg *config) { cfg.tim.debounce = n }
}

// WithMarginCycles sets the post-window margin of the rate monitor.
func WithMarginCycles(n int) Option {
	return func(cfg *config) { cfg.tim.margin = n }
}

// WithTimeoutCycles sets the counter-read idle limit.
func WithTimeoutCycles(n int) Option {
	return func(cfg *config) { cfg.tim.timeout = n }
}

func sleepCycles(n int, period time.Duration) {
	if n > 0 && period > 0 {
		time.Sleep(time.Duration(n) * period)
	}
}
