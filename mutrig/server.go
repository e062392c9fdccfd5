// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
)

// server exposes a Controller to DAQ clients over a line of JSON
// requests.
type server struct {
	ctl net.Listener
	msg *log.Logger

	dev  *Controller
	load func(off uint32, words []uint32) error
}

// Serve runs the command server on addr, driving dev. load writes
// configuration payloads into the staging buffer; the hardware back
// end provides it (MMIO.LoadStaging), soft deployments use a MemPort.
func Serve(ctx context.Context, addr string, dev *Controller, load func(off uint32, words []uint32) error) error {
	srv, err := newServer(addr, dev, load)
	if err != nil {
		return fmt.Errorf("could not create mutrig server: %w", err)
	}
	return srv.serve(ctx)
}

func newServer(addr string, dev *Controller, load func(off uint32, words []uint32) error) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create mutrig server on %q: %w", addr, err)
	}

	srv := &server{
		ctl:  ctl,
		msg:  log.New(os.Stdout, "mutrig-svc: ", 0),
		dev:  dev,
		load: load,
	}
	return srv, nil
}

func (srv *server) serve(ctx context.Context) error {
	defer srv.close()

	go func() {
		<-ctx.Done()
		srv.close()
	}()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("could not accept connection: %w", err)
		}

		err = srv.handle(ctx, conn)
		if err != nil {
			srv.msg.Printf("could not serve client: %+v", err)
			continue
		}
	}
}

func (srv *server) handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

loop:
	for {
		var req struct {
			Name string           `json:"name"`
			Args *json.RawMessage `json:"args"`
		}

		err := json.NewDecoder(conn).Decode(&req)
		if err != nil {
			srv.reply(conn, nil, err)
			if errors.Is(err, io.EOF) {
				break loop
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			continue
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "configure":
			var args []struct {
				Dev    uint8    `json:"dev"`
				Offset uint32   `json:"offset"`
				Words  []uint32 `json:"words"`
			}
			err = json.Unmarshal(*req.Args, &args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, nil, err)
				continue
			}

			for _, arg := range args {
				err = srv.configure(ctx, arg.Dev, arg.Offset, arg.Words)
				if err != nil {
					srv.msg.Printf("could not configure chip %d: %+v", arg.Dev, err)
					break
				}
			}
			srv.reply(conn, nil, err)

		case "scan":
			var args struct {
				Dev uint8 `json:"dev"`
			}
			err = json.Unmarshal(*req.Args, &args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, nil, err)
				continue
			}

			err = srv.dev.Scan(ctx, args.Dev)
			srv.reply(conn, nil, err)

		case "scan-all":
			err = srv.dev.ScanAll(ctx)
			srv.reply(conn, nil, err)

		case "interval":
			var args struct {
				Interval uint16 `json:"interval"`
			}
			err = json.Unmarshal(*req.Args, &args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, nil, err)
				continue
			}
			srv.dev.WriteInterval(args.Interval)
			srv.reply(conn, nil, nil)

		case "status":
			srv.reply(conn, srv.dev.Status(), nil)

		case "results":
			var args struct {
				Dev uint8 `json:"dev"`
			}
			err = json.Unmarshal(*req.Args, &args)
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, nil, err)
				continue
			}

			out := make([][]uint32, nTTH)
			for tth := uint32(0); tth < nTTH; tth++ {
				row := make([]uint32, nChans)
				for ch := uint32(0); ch < nChans; ch++ {
					row[ch] = srv.dev.Result(tth, args.Dev, ch)
				}
				out[tth] = row
			}
			srv.reply(conn, out, nil)

		case "reset":
			srv.dev.Reset()
			srv.reply(conn, nil, nil)

		case "stop":
			srv.reply(conn, nil, nil)
			break loop

		default:
			srv.msg.Printf("unknown command name=%q, args=%q", req.Name, req.Args)
			err = fmt.Errorf("unknown command %q", req.Name)
			srv.reply(conn, nil, err)
			continue
		}
	}

	return nil
}

// configure loads words at offset into the staging buffer and latches
// a configure command for dev.
func (srv *server) configure(ctx context.Context, dev uint8, off uint32, words []uint32) error {
	if len(words) == 0 || len(words) > szSlice {
		return fmt.Errorf("invalid payload length %d words", len(words))
	}
	if err := srv.load(off, words); err != nil {
		return fmt.Errorf("could not load staging buffer: %w", err)
	}

	return srv.dev.Configure(ctx, dev, off, uint16(len(words)))
}

func (srv *server) reply(conn net.Conn, data any, err error) {
	rep := struct {
		Msg  string `json:"msg"`
		Data any    `json:"data"`
	}{Msg: "ok", Data: data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
