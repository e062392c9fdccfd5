// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLinkEdgeTriggered(t *testing.T) {
	ctx := context.Background()
	l := newLink[serialReq]()

	sent, err := l.send(ctx, serialReq{Start: true, Dev: 3})
	if err != nil {
		t.Fatalf("could not send: %+v", err)
	}
	if !sent {
		t.Fatalf("first send did not transfer")
	}

	// repeating the same value is not a new transfer
	if v, ok := l.poll(); !ok || v != (serialReq{Start: true, Dev: 3}) {
		t.Fatalf("invalid polled value: v=%v, ok=%v", v, ok)
	}
	sent, err = l.send(ctx, serialReq{Start: true, Dev: 3})
	if err != nil {
		t.Fatalf("could not re-send: %+v", err)
	}
	if sent {
		t.Fatalf("level re-send transferred")
	}
	if _, ok := l.poll(); ok {
		t.Fatalf("suppressed send still reached the slot")
	}

	// a changed value transfers again
	sent, err = l.send(ctx, serialReq{})
	if err != nil {
		t.Fatalf("could not send retraction: %+v", err)
	}
	if !sent {
		t.Fatalf("changed value did not transfer")
	}
}

func TestLinkSingleInFlight(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	l := newLink[serialAck]()
	if _, err := l.send(ctx, serialAck{Done: true}); err != nil {
		t.Fatalf("could not send: %+v", err)
	}

	// the slot is full: a second distinct value must block, not overwrite
	_, err := l.send(ctx, serialAck{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second send did not block: err=%+v", err)
	}
	if v, ok := l.poll(); !ok || !v.Done {
		t.Fatalf("in-flight value was overwritten: v=%v, ok=%v", v, ok)
	}
}

func TestLinkDrop(t *testing.T) {
	ctx := context.Background()
	l := newLink[serialAck]()

	if _, err := l.send(ctx, serialAck{Done: true}); err != nil {
		t.Fatalf("could not send: %+v", err)
	}
	l.drop()

	if _, ok := l.poll(); ok {
		t.Fatalf("drop left a value in the slot")
	}

	// send history is forgotten: the same value transfers again
	sent, err := l.send(ctx, serialAck{Done: true})
	if err != nil {
		t.Fatalf("could not send after drop: %+v", err)
	}
	if !sent {
		t.Fatalf("send after drop was suppressed")
	}
}

func TestLinkDropDuringSend(t *testing.T) {
	l := newLink[serialAck]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			if _, err := l.send(ctx, serialAck{Done: i%2 == 0}); err != nil {
				return
			}
		}
	}()

	// a host reset may race an in-flight handshake
	for i := 0; i < 1000; i++ {
		l.drop()
	}
	cancel()
	<-done

	// history forgotten: the next send transfers again
	l.drop()
	sent, err := l.send(context.Background(), serialAck{Done: true})
	if err != nil {
		t.Fatalf("could not send after drop: %+v", err)
	}
	if !sent {
		t.Fatalf("send after drop was suppressed")
	}
}

func TestLinkRecvCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newLink[serialReq]()

	errc := make(chan error, 1)
	go func() {
		_, err := l.recv(ctx)
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("invalid recv error: %+v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("recv did not honour cancellation")
	}
}
