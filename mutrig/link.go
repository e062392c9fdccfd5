// Copyright 2024 The mutrig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutrig

import (
	"context"
	"sync"
)

// serialReq crosses from the control context to the serial context.
type serialReq struct {
	Start bool
	Dev   uint8
}

// serialAck crosses from the serial context back to the control context.
type serialAck struct {
	Done bool
	Err  bool
	Info uint8 // 2-bit error qualifier
}

// link is a one-slot transfer between the two clock domains. A value is
// handed over only when it differs from the previous one (edge-triggered
// send); the receive side drains continuously. At most one message is in
// flight: a sender changing the value again before the slot drained
// blocks, it never overwrites.
type link[T comparable] struct {
	slot chan T

	mu     sync.Mutex // guards the send history against drop
	last   T
	primed bool
}

func newLink[T comparable]() *link[T] {
	return &link[T]{slot: make(chan T, 1)}
}

// send hands v to the other domain; it reports whether a transfer
// actually happened (false when v repeats the previous value).
func (l *link[T]) send(ctx context.Context, v T) (bool, error) {
	l.mu.Lock()
	repeat := l.primed && v == l.last
	l.mu.Unlock()
	if repeat {
		return false, nil
	}
	select {
	case l.slot <- v:
		l.mu.Lock()
		l.last = v
		l.primed = true
		l.mu.Unlock()
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (l *link[T]) recv(ctx context.Context) (T, error) {
	select {
	case v := <-l.slot:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// poll drains the slot without blocking.
func (l *link[T]) poll() (T, bool) {
	select {
	case v := <-l.slot:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// drop clears a stale value from the slot and forgets the send history,
// part of the full-reset path. It is safe against a concurrent send,
// though a reset is only meaningful with the routine contexts idle.
func (l *link[T]) drop() {
	select {
	case <-l.slot:
	default:
	}
	l.mu.Lock()
	var zero T
	l.last = zero
	l.primed = false
	l.mu.Unlock()
}
