// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"testing"
	"time"
)

func TestServer(t *testing.T) {
	cnt := NewMemCounters()
	rig := newTestRig(t, nil, seededCounters{cnt}, WithDeviceMask(0x0800))

	srv, err := newServer("127.0.0.1:0", rig.ctl, func(off uint32, words []uint32) error {
		rig.stage.Load(off, words)
		return nil
	})
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	srv.msg = log.New(io.Discard, "mutrig-svc: ", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx) }()

	conn, err := net.Dial("tcp", srv.ctl.Addr().String())
	if err != nil {
		t.Fatalf("could not dial server: %+v", err)
	}
	defer conn.Close()

	var (
		enc = json.NewEncoder(conn)
		dec = json.NewDecoder(conn)
	)
	request := func(name string, args any) (string, json.RawMessage) {
		t.Helper()
		req := struct {
			Name string `json:"name"`
			Args any    `json:"args"`
		}{name, args}
		if err := enc.Encode(req); err != nil {
			t.Fatalf("could not send %q request: %+v", name, err)
		}
		var rep struct {
			Msg  string          `json:"msg"`
			Data json.RawMessage `json:"data"`
		}
		if err := dec.Decode(&rep); err != nil {
			t.Fatalf("could not read %q reply: %+v", name, err)
		}
		return rep.Msg, rep.Data
	}

	words := make([]uint32, 16)
	for i := range words {
		words[i] = uint32(0xc0de0000 + i)
	}
	msg, _ := request("configure", []map[string]any{
		{"dev": 11, "offset": 64, "words": words},
	})
	if msg != "ok" {
		t.Fatalf("configure failed: %q", msg)
	}
	for i, w := range words {
		if got := rig.ctl.Config(11)[i]; got != w {
			t.Fatalf("config[%d]: got=0x%08x, want=0x%08x", i, got, w)
		}
	}

	msg, _ = request("interval", map[string]any{"interval": 2})
	if msg != "ok" {
		t.Fatalf("interval failed: %q", msg)
	}

	msg, _ = request("scan", map[string]any{"dev": 11})
	if msg != "ok" {
		t.Fatalf("scan failed: %q", msg)
	}

	msg, data := request("results", map[string]any{"dev": 11})
	if msg != "ok" {
		t.Fatalf("results failed: %q", msg)
	}
	var res [][]uint32
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("could not decode results: %+v", err)
	}
	if got, want := len(res), nTTH; got != want {
		t.Fatalf("invalid number of steps: got=%d, want=%d", got, want)
	}
	for tth, row := range res {
		for ch, v := range row {
			if want := uint32(11*1000 + ch); v != want {
				t.Fatalf("tth=%d ch=%d: got=%d, want=%d", tth, ch, v, want)
			}
		}
	}

	msg, data = request("status", nil)
	if msg != "ok" {
		t.Fatalf("status failed: %q", msg)
	}
	var stat uint32
	if err := json.Unmarshal(data, &stat); err != nil {
		t.Fatalf("could not decode status: %+v", err)
	}
	if stat != statOK {
		t.Fatalf("invalid status: 0x%08x", stat)
	}

	msg, _ = request("bogus", nil)
	if got, want := msg, fmt.Sprintf("unknown command %q", "bogus"); got != want {
		t.Fatalf("invalid error reply: got=%q, want=%q", got, want)
	}

	msg, _ = request("stop", nil)
	if msg != "ok" {
		t.Fatalf("stop failed: %q", msg)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
