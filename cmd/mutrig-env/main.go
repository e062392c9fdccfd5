// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mutrig-env reads the environment sensors of a MuTRiG
// front-end board over SMBus/I2C: board temperature and the supply
// voltage/current monitor.
package main // import "github.com/yifeng-ethz/mutrig-controller/cmd/mutrig-env"

import (
	"flag"
	"fmt"
	"log"
	"math/bits"
	"time"

	"github.com/go-daq/smbus"
)

const (
	tmpAddr = 0x48 // TMP102 board temperature sensor
	pwrAddr = 0x40 // INA226 supply monitor

	tmpRegTemp = 0x00

	pwrRegBus     = 0x02
	pwrRegCurrent = 0x04

	pwrLSBBusVolt = 1.25e-3 // V/count
	pwrLSBCurrent = 1.0e-3  // A/count, 1 mA calibration
)

func main() {
	var (
		bus  = flag.Int("bus", 1, "SMBus id to use")
		freq = flag.Duration("freq", 10*time.Second, "readout interval (0 for one-shot)")
	)

	log.SetPrefix("mutrig-env: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*bus, *freq)
	if err != nil {
		log.Fatalf("could not run mutrig-env: %+v", err)
	}
}

func run(bus int, freq time.Duration) error {
	conn, err := smbus.Open(bus, tmpAddr)
	if err != nil {
		return fmt.Errorf("could not open smbus-%d: %w", bus, err)
	}
	defer conn.Close()

	for {
		temp, err := readTemp(conn)
		if err != nil {
			return fmt.Errorf("could not read temperature: %w", err)
		}
		volt, curr, err := readPower(conn)
		if err != nil {
			return fmt.Errorf("could not read supply monitor: %w", err)
		}

		log.Printf("temp=%6.2f C volt=%6.3f V curr=%6.3f A pwr=%6.3f W",
			temp, volt, curr, volt*curr,
		)

		if freq <= 0 {
			return nil
		}
		time.Sleep(freq)
	}
}

// readTemp returns the board temperature in Celsius.
func readTemp(conn *smbus.Conn) (float64, error) {
	raw, err := conn.ReadWord(tmpAddr, tmpRegTemp)
	if err != nil {
		return 0, err
	}
	// byte-swapped on the wire, 12-bit left-justified, 0.0625 C/count
	raw = bits.ReverseBytes16(raw)
	return float64(int16(raw)>>4) * 0.0625, nil
}

// readPower returns the supply voltage and current.
func readPower(conn *smbus.Conn) (volt, curr float64, err error) {
	vraw, err := conn.ReadWord(pwrAddr, pwrRegBus)
	if err != nil {
		return 0, 0, err
	}
	iraw, err := conn.ReadWord(pwrAddr, pwrRegCurrent)
	if err != nil {
		return 0, 0, err
	}
	volt = float64(bits.ReverseBytes16(vraw)) * pwrLSBBusVolt
	curr = float64(int16(bits.ReverseBytes16(iraw))) * pwrLSBCurrent
	return volt, curr, nil
}
