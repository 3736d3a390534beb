// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"fmt"
	"sync"
)

// ClientReadReactor drives the client side of a server-streaming call.
// OnReadDone(true) delivers one decoded message into the buffer passed to
// StartRead; ok=false means the stream ended. OnDone delivers the final
// status and is the last callback on every path.
type ClientReadReactor interface {
	OnReadDone(ok bool)
	OnDone(s Status)
}

// ClientWriteReactor drives the client side of a client-streaming call.
type ClientWriteReactor interface {
	OnWriteDone(ok bool)
	OnDone(s Status)
}

// ClientBidiReactor drives the client side of a bidirectional call.
type ClientBidiReactor interface {
	OnReadDone(ok bool)
	OnWriteDone(ok bool)
	OnDone(s Status)
}

type clientDoner interface{ OnDone(s Status) }

type callKind int

const (
	callUnary callKind = iota
	callServerStream
	callClientStream
	callBidi
)

// ClientCall is one in-flight call on a Channel. All Start* methods are
// non-blocking; completions arrive as reactor callbacks (or, for unary
// calls, as the done tag) dispatched on the channel's workers.
//
// Operations issued before StartCall are buffered and replayed once the
// call is on the wire.
type ClientCall struct {
	ch     *Channel
	id     uint64
	method string
	kind   callKind

	// strand serializes reactor callbacks for this call.
	strand sync.Mutex

	mu        sync.Mutex
	reactor   any
	finishTag Completion // unary completion, nil for streaming calls

	reqData  []byte  // unary and server-stream request, sent at StartCall
	respBuf  Message // unary and client-stream response target
	respData []byte

	readBuf     Message
	readPending bool
	readQ       [][]byte
	readEver    bool
	readsDone   bool

	writePending        bool
	holds               int
	writesDoneRequested bool
	halfCloseSent       bool

	statusReceived bool
	status         Status
	cancelled      bool
	doneQueued     bool

	started bool
	startQ  []func()
}

func (ch *Channel) newCall(method string, kind callKind) *ClientCall {
	return &ClientCall{
		ch:     ch,
		id:     ch.nextID.Add(1),
		method: method,
		kind:   kind,
	}
}

// NewUnaryCall prepares a unary call. done completes once the final
// status is available through Status() and resp is populated on success.
func (ch *Channel) NewUnaryCall(method string, req, resp Message, done Completion) *ClientCall {
	c := ch.newCall(method, callUnary)
	c.reqData = req.AppendWire(nil)
	c.respBuf = resp
	c.finishTag = done
	return c
}

// NewServerStreamCall prepares a server-streaming call. The request is
// sent and writes half-closed at StartCall; r receives the stream.
func (ch *Channel) NewServerStreamCall(method string, req Message, r ClientReadReactor) *ClientCall {
	c := ch.newCall(method, callServerStream)
	c.reqData = req.AppendWire(nil)
	c.reactor = r
	return c
}

// NewClientStreamCall prepares a client-streaming call. resp is populated
// from the server's single response before OnDone fires.
func (ch *Channel) NewClientStreamCall(method string, resp Message, r ClientWriteReactor) *ClientCall {
	c := ch.newCall(method, callClientStream)
	c.respBuf = resp
	c.reactor = r
	return c
}

// NewBidiCall prepares a bidirectional streaming call.
func (ch *Channel) NewBidiCall(method string, r ClientBidiReactor) *ClientCall {
	c := ch.newCall(method, callBidi)
	c.reactor = r
	return c
}

// Invoke performs a blocking unary call and returns its final status.
func (ch *Channel) Invoke(method string, req, resp Message) Status {
	done := make(chan struct{})
	c := ch.NewUnaryCall(method, req, resp, CompletionFunc(func(bool) { close(done) }))
	c.StartCall()
	<-done
	return c.Status()
}

// Method returns the full method name of the call.
func (c *ClientCall) Method() string { return c.method }

// Status returns the final status. Valid only after the done completion
// or OnDone has fired.
func (c *ClientCall) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StartCall puts the call on the wire and replays buffered operations.
// For unary and server-streaming calls the request message and half-close
// are sent immediately.
func (c *ClientCall) StartCall() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		panic(fmt.Sprintf("cqrpc: StartCall called twice on %s", c.method))
	}
	if !c.ch.registerCall(c) {
		c.started = true
		c.statusReceived = true
		c.status = NewStatus(CodeUnavailable, "channel closed")
		c.doneQueued = true
		c.mu.Unlock()
		// The queue may already be shut down; run the terminal event
		// inline so waiters are always released.
		(&clientDoneTag{call: c}).Complete(true)
		return
	}
	c.ch.wc.enqueue(frame{kind: frameCall, callID: c.id, payload: []byte(c.method)}, nil)
	switch c.kind {
	case callUnary, callServerStream:
		c.ch.wc.enqueue(frame{kind: frameMessage, callID: c.id, payload: c.reqData}, nil)
		c.ch.wc.enqueue(frame{kind: frameHalfClose, callID: c.id}, nil)
		c.halfCloseSent = true
	}
	c.started = true
	pending := c.startQ
	c.startQ = nil
	c.maybeSendHalfCloseLocked()
	c.mu.Unlock()
	for _, op := range pending {
		op()
	}
}

// StartRead posts a read intent for the next incoming message. At most
// one read may be outstanding.
func (c *ClientCall) StartRead(m Message) {
	c.mu.Lock()
	if !c.started {
		c.startQ = append(c.startQ, func() { c.StartRead(m) })
		c.mu.Unlock()
		return
	}
	if c.readPending {
		c.mu.Unlock()
		panic(fmt.Sprintf("cqrpc: StartRead with a read already outstanding on %s", c.method))
	}
	c.readEver = true
	if len(c.readQ) > 0 {
		payload := c.readQ[0]
		c.readQ = c.readQ[1:]
		c.mu.Unlock()
		ok := decodeInto(m, payload, c.method)
		c.ch.cq.Post(&clientReadTag{call: c}, ok)
		return
	}
	if c.statusReceived || c.cancelled {
		c.readsDone = true
		c.ch.cq.Post(&clientReadTag{call: c}, false)
		c.maybeDoneLocked()
		c.mu.Unlock()
		return
	}
	c.readPending = true
	c.readBuf = m
	c.mu.Unlock()
}

// StartWrite posts a write intent for m. At most one write may be
// outstanding.
func (c *ClientCall) StartWrite(m Message) {
	c.mu.Lock()
	if !c.started {
		c.startQ = append(c.startQ, func() { c.StartWrite(m) })
		c.mu.Unlock()
		return
	}
	if c.writePending {
		c.mu.Unlock()
		panic(fmt.Sprintf("cqrpc: StartWrite with a write already outstanding on %s", c.method))
	}
	if c.halfCloseSent || c.cancelled || c.statusReceived {
		c.ch.cq.Post(&clientWriteTag{call: c}, false)
		c.mu.Unlock()
		return
	}
	c.writePending = true
	data := m.AppendWire(nil)
	c.mu.Unlock()
	c.ch.wc.enqueue(frame{kind: frameMessage, callID: c.id, payload: data}, func(ok bool) {
		c.mu.Lock()
		c.writePending = false
		c.maybeSendHalfCloseLocked()
		c.ch.cq.Post(&clientWriteTag{call: c}, ok)
		c.maybeDoneLocked()
		c.mu.Unlock()
	})
}

// StartWritesDone announces that no further writes will be posted. The
// half-close goes out once any outstanding write completes and all holds
// are released.
func (c *ClientCall) StartWritesDone() {
	c.mu.Lock()
	if !c.started {
		c.startQ = append(c.startQ, c.StartWritesDone)
		c.mu.Unlock()
		return
	}
	c.writesDoneRequested = true
	c.maybeSendHalfCloseLocked()
	c.mu.Unlock()
}

// AddHold defers the half-close while operations will be started from
// outside reactor callbacks, typically by alarms. Pair with RemoveHold.
func (c *ClientCall) AddHold() {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()
}

// RemoveHold releases one hold.
func (c *ClientCall) RemoveHold() {
	c.mu.Lock()
	if c.holds == 0 {
		c.mu.Unlock()
		panic(fmt.Sprintf("cqrpc: RemoveHold without matching AddHold on %s", c.method))
	}
	c.holds--
	c.maybeSendHalfCloseLocked()
	c.mu.Unlock()
}

// Cancel aborts the call. Pending operations fail with ok=false and the
// final status is CodeCancelled unless the server's status already
// arrived.
func (c *ClientCall) Cancel() {
	c.mu.Lock()
	if !c.started {
		c.startQ = append(c.startQ, c.Cancel)
		c.mu.Unlock()
		return
	}
	if c.cancelled || c.doneQueued {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	c.ch.wc.enqueue(frame{kind: frameCancel, callID: c.id}, nil)
	if !c.statusReceived {
		c.statusReceived = true
		c.status = NewStatus(CodeCancelled, "cancelled locally")
	}
	if c.readPending {
		c.readPending = false
		c.readBuf = nil
		c.readsDone = true
		c.ch.cq.Post(&clientReadTag{call: c}, false)
	}
	c.readQ = nil
	c.maybeDoneLocked()
	c.mu.Unlock()
}

func (c *ClientCall) maybeSendHalfCloseLocked() {
	if !c.started || c.halfCloseSent || c.cancelled || c.statusReceived {
		return
	}
	if !c.writesDoneRequested || c.holds > 0 || c.writePending {
		return
	}
	c.halfCloseSent = true
	c.ch.wc.enqueue(frame{kind: frameHalfClose, callID: c.id}, nil)
}

// maybeDoneLocked queues the terminal completion once the status is in
// and no operation remains in flight or undelivered.
func (c *ClientCall) maybeDoneLocked() {
	if c.doneQueued || !c.statusReceived {
		return
	}
	if c.readPending || c.writePending || len(c.readQ) > 0 {
		return
	}
	if c.readEver && !c.readsDone {
		return
	}
	c.doneQueued = true
	c.ch.cq.Post(&clientDoneTag{call: c}, true)
}

func (c *ClientCall) deliverMessage(payload []byte) {
	c.mu.Lock()
	switch c.kind {
	case callUnary, callClientStream:
		c.respData = payload
		c.mu.Unlock()
		return
	}
	if c.readPending {
		c.readPending = false
		m := c.readBuf
		c.readBuf = nil
		c.mu.Unlock()
		ok := decodeInto(m, payload, c.method)
		c.ch.cq.Post(&clientReadTag{call: c}, ok)
		return
	}
	c.readQ = append(c.readQ, payload)
	c.mu.Unlock()
}

func (c *ClientCall) deliverStatus(st Status) {
	c.mu.Lock()
	if c.statusReceived {
		c.mu.Unlock()
		return
	}
	c.statusReceived = true
	c.status = st
	if c.readPending {
		c.readPending = false
		c.readBuf = nil
		c.readsDone = true
		c.ch.cq.Post(&clientReadTag{call: c}, false)
	}
	c.maybeDoneLocked()
	c.mu.Unlock()
}

func (c *ClientCall) reactorRef() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reactor
}

type clientReadTag struct{ call *ClientCall }

func (t *clientReadTag) Complete(ok bool) {
	c := t.call
	c.strand.Lock()
	if r, is := c.reactorRef().(readDoner); is {
		r.OnReadDone(ok)
	}
	c.strand.Unlock()
	if !ok {
		c.mu.Lock()
		c.readsDone = true
		c.maybeDoneLocked()
		c.mu.Unlock()
	}
}

type clientWriteTag struct{ call *ClientCall }

func (t *clientWriteTag) Complete(ok bool) {
	c := t.call
	c.strand.Lock()
	defer c.strand.Unlock()
	if r, is := c.reactorRef().(writeDoner); is {
		r.OnWriteDone(ok)
	}
}

// clientDoneTag is the terminal event: the response is decoded for
// request-response shapes, the call leaves the channel's table, and the
// reactor's OnDone (or the unary done tag) fires exactly once.
type clientDoneTag struct{ call *ClientCall }

func (t *clientDoneTag) Complete(bool) {
	c := t.call
	c.ch.removeCall(c.id)

	c.mu.Lock()
	st := c.status
	if st.OK() && c.respBuf != nil {
		if c.respData == nil {
			st = NewStatus(CodeInternal, "server sent no response message")
		} else if err := c.respBuf.UnmarshalWire(c.respData); err != nil {
			st = NewStatus(CodeInternal, fmt.Sprintf("decoding response: %v", err))
		}
		c.status = st
	}
	r := c.reactor
	c.reactor = nil
	fin := c.finishTag
	c.mu.Unlock()

	c.strand.Lock()
	if d, is := r.(clientDoner); is {
		d.OnDone(st)
	}
	c.strand.Unlock()
	if fin != nil {
		fin.Complete(true)
	}
}
