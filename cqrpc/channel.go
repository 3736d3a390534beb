// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// Channel is the client endpoint of one connection. It multiplexes calls
// over a single wireConn and drives their completions through its own
// completion queue and worker pool.
type Channel struct {
	wc       *wireConn
	cq       *completionQueue
	workers  int
	compress bool

	mu     sync.Mutex
	calls  map[uint64]*ClientCall
	closed bool

	nextID       atomic.Uint64
	readLoopDone chan struct{}
	workerWG     sync.WaitGroup
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithCompression enables zstd message compression. Both ends of a
// connection must agree.
func WithCompression() ChannelOption {
	return func(ch *Channel) { ch.compress = true }
}

// WithWorkers sets the number of completion-queue worker goroutines.
// Default 2.
func WithWorkers(n int) ChannelOption {
	return func(ch *Channel) {
		if n > 0 {
			ch.workers = n
		}
	}
}

// Dial connects to a server at addr ("host:port").
func Dial(addr string, opts ...ChannelOption) (*Channel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cqrpc: dialing %s: %w", addr, err)
	}
	return NewChannel(conn, opts...)
}

// NewChannel wraps an established connection. The Channel takes ownership
// of conn.
func NewChannel(conn net.Conn, opts ...ChannelOption) (*Channel, error) {
	ch := &Channel{
		cq:           newCompletionQueue(),
		workers:      2,
		calls:        make(map[uint64]*ClientCall),
		readLoopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	wc, err := newWireConn(conn, ch.compress)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	ch.wc = wc
	for i := 0; i < ch.workers; i++ {
		ch.workerWG.Add(1)
		go func() {
			defer ch.workerWG.Done()
			ch.cq.pump()
		}()
	}
	go ch.readLoop()
	return ch, nil
}

// NewAlarm returns an Alarm bound to this channel's completion queue.
func (ch *Channel) NewAlarm() *Alarm {
	return newAlarm(ch.cq)
}

func (ch *Channel) readLoop() {
	defer close(ch.readLoopDone)
	for {
		f, err := ch.wc.readFrame()
		if err != nil {
			if err != io.EOF && !isClosedConn(err) {
				slog.Error("channel read loop", "err", err)
			}
			ch.failAllCalls(NewStatus(CodeUnavailable, "connection closed"))
			return
		}
		ch.mu.Lock()
		call := ch.calls[f.callID]
		ch.mu.Unlock()
		if call == nil {
			continue
		}
		switch f.kind {
		case frameMessage:
			call.deliverMessage(f.payload)
		case frameStatus:
			call.deliverStatus(parseStatusPayload(f.payload))
		default:
			slog.Error("unexpected frame from server", "kind", f.kind)
		}
	}
}

func (ch *Channel) failAllCalls(st Status) {
	ch.mu.Lock()
	calls := make([]*ClientCall, 0, len(ch.calls))
	for _, c := range ch.calls {
		calls = append(calls, c)
	}
	ch.mu.Unlock()
	for _, c := range calls {
		c.deliverStatus(st)
	}
}

// registerCall adds c to the call table; it reports false once the
// channel is closed.
func (ch *Channel) registerCall(c *ClientCall) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	ch.calls[c.id] = c
	return true
}

func (ch *Channel) removeCall(id uint64) {
	ch.mu.Lock()
	delete(ch.calls, id)
	ch.mu.Unlock()
}

// Close shuts the channel down: queued writes drain, in-flight calls fail
// with CodeUnavailable, queued completions are delivered, and the worker
// pool exits.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	ch.mu.Unlock()
	ch.wc.close()
	<-ch.readLoopDone
	ch.cq.Shutdown()
	ch.workerWG.Wait()
}
