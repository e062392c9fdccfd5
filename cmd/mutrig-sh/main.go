// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mutrig-sh is an interactive shell speaking the control
// protocol of mutrig-svc.
package main // import "github.com/yifeng-ethz/mutrig-controller/cmd/mutrig-sh"

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/yifeng-ethz/mutrig-controller/conddb"
)

func main() {
	var (
		addr   = flag.String("addr", "localhost:8877", "[ip]:port of the mutrig-svc control endpoint")
		dbname = flag.String("db", "", "conditions database for the db commands")
	)

	log.SetPrefix("mutrig-sh: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*addr, *dbname)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr, dbname string) error {
	sh, err := newShell(addr, dbname)
	if err != nil {
		return fmt.Errorf("could not create shell: %w", err)
	}
	defer sh.close()

	return sh.loop()
}

type shell struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	db   *conddb.DB

	term    *liner.State
	history string
}

func newShell(addr, dbname string) (*shell, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not dial %q: %w", addr, err)
	}

	sh := &shell{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		dec:     json.NewDecoder(conn),
		term:    liner.NewLiner(),
		history: filepath.Join(os.TempDir(), ".mutrig_sh_history"),
	}
	sh.term.SetCtrlCAborts(true)

	if dbname != "" {
		db, err := conddb.Open(dbname)
		if err != nil {
			_ = conn.Close()
			sh.term.Close()
			return nil, fmt.Errorf("could not open conddb: %w", err)
		}
		sh.db = db
	}

	if f, err := os.Open(sh.history); err == nil {
		_, _ = sh.term.ReadHistory(f)
		f.Close()
	}
	return sh, nil
}

func (sh *shell) close() {
	if f, err := os.Create(sh.history); err == nil {
		_, _ = sh.term.WriteHistory(f)
		f.Close()
	}
	sh.term.Close()
	if sh.db != nil {
		_ = sh.db.Close()
	}
	_ = sh.conn.Close()
}

func (sh *shell) loop() error {
	for {
		line, err := sh.term.Prompt("mutrig> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read line: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sh.term.AppendHistory(line)

		quit, err := sh.dispatch(strings.Fields(line))
		if err != nil {
			log.Printf("%+v", err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *shell) dispatch(args []string) (bool, error) {
	switch args[0] {
	case "help":
		fmt.Println(`commands:
  configure <dev> <file>  load a JSON ASIC record and configure chip <dev>
  scan <dev>              threshold scan of one chip
  scan-all                threshold scan of all enabled chips
  interval <seconds>      set the rate-accumulation window
  status                  controller status register
  results <dev>           scan results of one chip
  reset                   reset the controller
  db scanstates           list the recorded scan states
  quit                    leave the shell`)
		return false, nil

	case "configure":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: configure <dev> <file>")
		}
		dev, err := strconv.ParseUint(args[1], 10, 4)
		if err != nil {
			return false, fmt.Errorf("invalid chip id %q: %w", args[1], err)
		}
		return false, sh.configure(uint8(dev), args[2])

	case "scan":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: scan <dev>")
		}
		dev, err := strconv.ParseUint(args[1], 10, 4)
		if err != nil {
			return false, fmt.Errorf("invalid chip id %q: %w", args[1], err)
		}
		_, err = sh.request("scan", map[string]any{"dev": dev})
		return false, err

	case "scan-all":
		_, err := sh.request("scan-all", nil)
		return false, err

	case "interval":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: interval <seconds>")
		}
		v, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return false, fmt.Errorf("invalid interval %q: %w", args[1], err)
		}
		_, err = sh.request("interval", map[string]any{"interval": v})
		return false, err

	case "status":
		data, err := sh.request("status", nil)
		if err != nil {
			return false, err
		}
		var stat uint32
		if err := json.Unmarshal(data, &stat); err != nil {
			return false, fmt.Errorf("could not decode status: %w", err)
		}
		fmt.Printf("status= 0x%08x\n", stat)
		return false, nil

	case "results":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: results <dev>")
		}
		dev, err := strconv.ParseUint(args[1], 10, 4)
		if err != nil {
			return false, fmt.Errorf("invalid chip id %q: %w", args[1], err)
		}
		data, err := sh.request("results", map[string]any{"dev": dev})
		if err != nil {
			return false, err
		}
		var res [][]uint32
		if err := json.Unmarshal(data, &res); err != nil {
			return false, fmt.Errorf("could not decode results: %w", err)
		}
		for tth, row := range res {
			fmt.Printf("tth=%02d:", tth)
			for _, v := range row {
				fmt.Printf(" %d", v)
			}
			fmt.Println()
		}
		return false, nil

	case "reset":
		_, err := sh.request("reset", nil)
		return false, err

	case "db":
		if len(args) != 2 || args[1] != "scanstates" {
			return false, fmt.Errorf("usage: db scanstates")
		}
		if sh.db == nil {
			return false, fmt.Errorf("no conditions database (run with -db)")
		}
		states, err := sh.db.ScanStates(context.Background())
		if err != nil {
			return false, err
		}
		for _, st := range states {
			fmt.Printf("id=%d config=%d interval=%ds devmask=0x%04x\n",
				st.ID, st.Config, st.Interval, st.DevMask,
			)
		}
		return false, nil

	case "quit", "exit":
		_, err := sh.request("stop", nil)
		return true, err

	default:
		return false, fmt.Errorf("unknown command %q", args[0])
	}
}

func (sh *shell) configure(dev uint8, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	var asic conddb.ASIC
	err = json.NewDecoder(f).Decode(&asic)
	if err != nil {
		return fmt.Errorf("could not decode %q: %w", fname, err)
	}

	words := asic.Bitstream()
	_, err = sh.request("configure", []map[string]any{
		{"dev": dev, "offset": uint32(dev) * uint32(len(words)), "words": words},
	})
	return err
}

func (sh *shell) request(name string, args any) (json.RawMessage, error) {
	req := struct {
		Name string `json:"name"`
		Args any    `json:"args"`
	}{name, args}
	err := sh.enc.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("could not send %q request: %w", name, err)
	}

	var rep struct {
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	err = sh.dec.Decode(&rep)
	if err != nil {
		return nil, fmt.Errorf("could not read %q reply: %w", name, err)
	}
	if rep.Msg != "ok" {
		return nil, fmt.Errorf("%q failed: %s", name, rep.Msg)
	}
	return rep.Data, nil
}
