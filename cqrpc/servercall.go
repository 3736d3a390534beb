// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
)

// ServerReadReactor drives the server side of a client-streaming call.
// OnReadDone(true) delivers one decoded message; ok=false is the
// half-close from the peer (or cancellation) and the only end-of-input
// signal. OnDone is the final callback on every terminal path and the
// only place the reactor may release its resources.
type ServerReadReactor interface {
	OnReadDone(ok bool)
	OnDone()
}

// ServerWriteReactor drives the server side of a server-streaming call.
// OnWriteDone(true) means the transport owns the previously written
// message; post the next write or Finish.
type ServerWriteReactor interface {
	OnWriteDone(ok bool)
	OnDone()
}

// ServerBidiReactor drives the server side of a bidirectional call. The
// read and write pipelines are independent; their completions may
// interleave in any order and may be dispatched on different worker
// goroutines across events, though never concurrently for one reactor.
type ServerBidiReactor interface {
	OnReadDone(ok bool)
	OnWriteDone(ok bool)
	OnDone()
}

// Minimal method-set views used at dispatch time.
type readDoner interface{ OnReadDone(bool) }
type writeDoner interface{ OnWriteDone(bool) }
type doner interface{ OnDone() }

// serverConn owns one accepted connection: a single read loop routes
// frames to calls, and the shared wireConn writer carries everything out.
type serverConn struct {
	srv  *Server
	wc   *wireConn
	peer string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	calls   map[uint64]*ServerCall
	pending map[uint64]*pendingRequest
}

// pendingRequest is a unary, async-unary, or server-stream call whose
// single request message has not arrived yet.
type pendingRequest struct {
	mi *methodInfo
}

func newServerConn(s *Server, conn net.Conn) (*serverConn, error) {
	wc, err := newWireConn(conn, s.compress)
	if err != nil {
		return nil, err
	}
	sc := &serverConn{
		srv:     s,
		wc:      wc,
		peer:    conn.RemoteAddr().String(),
		calls:   make(map[uint64]*ServerCall),
		pending: make(map[uint64]*pendingRequest),
	}
	sc.ctx, sc.cancel = context.WithCancel(s.ctx)
	return sc, nil
}

func (sc *serverConn) readLoop() {
	defer sc.teardown()
	for {
		f, err := sc.wc.readFrame()
		if err != nil {
			if err != io.EOF && !isClosedConn(err) {
				slog.Error("server read loop", "peer", sc.peer, "err", err)
			}
			return
		}
		switch f.kind {
		case frameCall:
			sc.handleCall(f.callID, string(f.payload))
		case frameMessage:
			sc.handleMessage(f.callID, f.payload)
		case frameHalfClose:
			sc.handleHalfClose(f.callID)
		case frameCancel:
			sc.handleCancel(f.callID)
		default:
			slog.Error("unexpected frame from client", "peer", sc.peer, "kind", f.kind)
		}
	}
}

func (sc *serverConn) handleCall(id uint64, method string) {
	mi := sc.srv.lookupMethod(method)
	if mi == nil {
		sc.sendStatus(id, NewStatus(CodeUnimplemented, fmt.Sprintf("unknown method %q", method)), nil)
		return
	}
	sc.mu.Lock()
	if _, dup := sc.calls[id]; dup {
		sc.mu.Unlock()
		slog.Error("duplicate call id", "peer", sc.peer, "id", id)
		return
	}
	if _, dup := sc.pending[id]; dup {
		sc.mu.Unlock()
		slog.Error("duplicate call id", "peer", sc.peer, "id", id)
		return
	}
	switch mi.kind {
	case MethodUnary, MethodAsyncUnary, MethodServerStream:
		sc.pending[id] = &pendingRequest{mi: mi}
		sc.mu.Unlock()
	default:
		call := newServerCall(sc, id, mi)
		sc.calls[id] = call
		sc.mu.Unlock()
		sc.srv.cq.Post(&serverStartTag{call: call}, true)
	}
}

func (sc *serverConn) handleMessage(id uint64, payload []byte) {
	sc.mu.Lock()
	if pr, ok := sc.pending[id]; ok {
		delete(sc.pending, id)
		mi := pr.mi
		switch mi.kind {
		case MethodUnary:
			sc.mu.Unlock()
			sc.srv.cq.Post(&unaryTask{conn: sc, id: id, mi: mi, payload: payload}, true)
		case MethodAsyncUnary:
			sc.mu.Unlock()
			sc.srv.offerAsyncRequest(mi, &asyncRequest{conn: sc, id: id, payload: payload})
		default: // MethodServerStream
			call := newServerCall(sc, id, mi)
			sc.calls[id] = call
			sc.mu.Unlock()
			sc.srv.cq.Post(&serverStartTag{call: call, payload: payload}, true)
		}
		return
	}
	call := sc.calls[id]
	sc.mu.Unlock()
	if call != nil {
		call.deliverMessage(payload)
	}
}

func (sc *serverConn) handleHalfClose(id uint64) {
	sc.mu.Lock()
	call := sc.calls[id]
	sc.mu.Unlock()
	if call != nil {
		call.deliverHalfClose()
	}
}

func (sc *serverConn) handleCancel(id uint64) {
	sc.mu.Lock()
	delete(sc.pending, id)
	call := sc.calls[id]
	sc.mu.Unlock()
	if call != nil {
		call.deliverCancel(NewStatus(CodeCancelled, "cancelled by client"))
		return
	}
	// The request may already sit in an async-unary backlog.
	sc.srv.dropAsyncRequest(sc, id)
}

// sendStatus writes the final status for a call; done, if non-nil, runs
// after the frame is flushed.
func (sc *serverConn) sendStatus(id uint64, st Status, done func(ok bool)) {
	sc.wc.enqueue(frame{kind: frameStatus, callID: id, payload: statusPayload(st)}, done)
}

func (sc *serverConn) removeCall(id uint64) {
	sc.mu.Lock()
	delete(sc.calls, id)
	sc.mu.Unlock()
}

// teardown cancels every live call after the connection drops.
func (sc *serverConn) teardown() {
	sc.cancel()
	sc.wc.close()
	sc.mu.Lock()
	calls := make([]*ServerCall, 0, len(sc.calls))
	for _, c := range sc.calls {
		calls = append(calls, c)
	}
	sc.pending = make(map[uint64]*pendingRequest)
	sc.mu.Unlock()
	for _, c := range calls {
		c.deliverCancel(NewStatus(CodeUnavailable, "connection closed"))
	}
	sc.srv.removeConn(sc)
}

func isClosedConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}

// ServerCall is the transport handle owned by one server-side streaming
// reactor. All Start* methods are non-blocking: they post intents whose
// completions come back through the server's completion queue.
type ServerCall struct {
	conn *serverConn
	id   uint64
	mi   *methodInfo

	ctx       context.Context
	ctxCancel context.CancelFunc

	// strand serializes reactor callbacks for this call.
	strand sync.Mutex

	mu           sync.Mutex
	reactor      any
	readBuf      Message
	readPending  bool
	readQ        [][]byte
	halfClosed   bool
	writePending bool
	finishing    bool
	startDone    bool
	donePending  bool
	doneQueued   bool
	cancelled    bool
	finalStatus  Status

	hookCtx   context.Context
	hookToken HookToken
	hooked    bool
}

func newServerCall(sc *serverConn, id uint64, mi *methodInfo) *ServerCall {
	c := &ServerCall{conn: sc, id: id, mi: mi}
	c.ctx, c.ctxCancel = context.WithCancel(sc.ctx)
	return c
}

// Context is cancelled when the call terminates or the connection drops.
func (c *ServerCall) Context() context.Context { return c.ctx }

// Method returns the full method name of the call.
func (c *ServerCall) Method() string { return c.mi.name }

// Peer returns the remote transport address.
func (c *ServerCall) Peer() string { return c.conn.peer }

// Cancelled reports whether the call ended by cancellation or transport
// failure rather than a local Finish.
func (c *ServerCall) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *ServerCall) post(tag Completion, ok bool) {
	c.conn.srv.cq.Post(tag, ok)
}

// StartRead posts a read intent for the next incoming message, decoded
// into m when OnReadDone(true) fires. At most one read may be
// outstanding; a second concurrent read is a caller bug.
func (c *ServerCall) StartRead(m Message) {
	c.mu.Lock()
	if c.readPending {
		c.mu.Unlock()
		panic(fmt.Sprintf("cqrpc: StartRead with a read already outstanding on %s", c.mi.name))
	}
	if len(c.readQ) > 0 {
		payload := c.readQ[0]
		c.readQ = c.readQ[1:]
		c.mu.Unlock()
		ok := decodeInto(m, payload, c.mi.name)
		c.post(&serverReadTag{call: c}, ok)
		return
	}
	if c.halfClosed || c.cancelled || c.finishing {
		c.mu.Unlock()
		c.post(&serverReadTag{call: c}, false)
		return
	}
	c.readPending = true
	c.readBuf = m
	c.mu.Unlock()
}

// StartWrite posts a write intent for m. OnWriteDone(true) fires once the
// transport owns the encoded bytes. At most one write may be outstanding.
func (c *ServerCall) StartWrite(m Message) {
	c.mu.Lock()
	if c.writePending {
		c.mu.Unlock()
		panic(fmt.Sprintf("cqrpc: StartWrite with a write already outstanding on %s", c.mi.name))
	}
	if c.cancelled || c.finishing {
		c.mu.Unlock()
		c.post(&serverWriteTag{call: c}, false)
		return
	}
	c.writePending = true
	data := m.AppendWire(nil)
	c.mu.Unlock()
	c.conn.wc.enqueue(frame{kind: frameMessage, callID: c.id, payload: data}, func(ok bool) {
		c.mu.Lock()
		c.writePending = false
		c.mu.Unlock()
		c.post(&serverWriteTag{call: c}, ok)
		c.mu.Lock()
		if c.cancelled {
			c.queueDoneLocked()
		}
		c.mu.Unlock()
	})
}

// Finish sends the final status. The reactor's OnDone fires after the
// status reaches the transport; the call must not be touched afterwards.
func (c *ServerCall) Finish(st Status) {
	c.finish(nil, st)
}

// FinishWithResponse sends one response message followed by the final
// status, the terminal shape of a client-streaming call.
func (c *ServerCall) FinishWithResponse(resp Message, st Status) {
	c.finish(resp, st)
}

func (c *ServerCall) finish(resp Message, st Status) {
	c.mu.Lock()
	if c.finishing {
		c.mu.Unlock()
		panic(fmt.Sprintf("cqrpc: Finish called twice on %s", c.mi.name))
	}
	c.finishing = true
	c.finalStatus = st
	if c.cancelled {
		c.queueDoneLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if resp != nil && st.OK() {
		c.conn.wc.enqueue(frame{kind: frameMessage, callID: c.id, payload: resp.AppendWire(nil)}, nil)
	}
	c.conn.sendStatus(c.id, st, func(bool) {
		c.mu.Lock()
		c.queueDoneLocked()
		c.mu.Unlock()
	})
}

// queueDoneLocked queues the terminal event. Until the start tag has run
// the reactor may still be posting its first operations, so the event is
// deferred to keep OnDone strictly last.
func (c *ServerCall) queueDoneLocked() {
	if c.doneQueued || c.writePending {
		return
	}
	if !c.startDone {
		c.donePending = true
		return
	}
	c.doneQueued = true
	c.post(&serverDoneTag{call: c}, true)
}

func (c *ServerCall) deliverMessage(payload []byte) {
	c.mu.Lock()
	if c.readPending {
		c.readPending = false
		m := c.readBuf
		c.readBuf = nil
		c.mu.Unlock()
		ok := decodeInto(m, payload, c.mi.name)
		c.post(&serverReadTag{call: c}, ok)
		return
	}
	c.readQ = append(c.readQ, payload)
	c.mu.Unlock()
}

func (c *ServerCall) deliverHalfClose() {
	c.mu.Lock()
	c.halfClosed = true
	if c.readPending {
		c.readPending = false
		c.readBuf = nil
		c.mu.Unlock()
		c.post(&serverReadTag{call: c}, false)
		return
	}
	c.mu.Unlock()
}

// deliverCancel fails any pending read and queues the terminal event.
// Pending writes complete through the writer first so OnWriteDone never
// trails OnDone.
func (c *ServerCall) deliverCancel(st Status) {
	c.mu.Lock()
	if c.doneQueued || c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	c.finalStatus = st
	if c.readPending {
		c.readPending = false
		c.readBuf = nil
		c.post(&serverReadTag{call: c}, false)
	}
	c.queueDoneLocked()
	c.mu.Unlock()
}

func (c *ServerCall) reactorRef() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reactor
}

func decodeInto(m Message, payload []byte, method string) bool {
	if err := m.UnmarshalWire(payload); err != nil {
		slog.Error("decoding message", "method", method, "err", err)
		return false
	}
	return true
}

// --- completion tags ---

// serverStartTag launches the per-call reactor. The strand is held while
// the factory runs, so completions the factory posts cannot dispatch
// before the reactor reference is in place.
type serverStartTag struct {
	call    *ServerCall
	payload []byte
}

func (t *serverStartTag) Complete(ok bool) {
	c := t.call
	if !ok {
		c.mu.Lock()
		c.startDone = true
		c.mu.Unlock()
		c.deliverCancel(NewStatus(CodeUnavailable, "server shutting down"))
		return
	}
	c.strand.Lock()
	defer c.strand.Unlock()

	srv := c.conn.srv
	info := DispatchInfo{
		Method:     c.mi.name,
		MethodType: c.mi.dispatchType(),
		ServiceID:  srv.ServiceName(),
		Peer:       c.conn.peer,
	}
	c.hookCtx, c.hookToken, c.hooked = srv.hookStart(c.ctx, info)

	var r any
	switch c.mi.kind {
	case MethodServerStream:
		req := c.mi.newReq()
		if err := req.UnmarshalWire(t.payload); err != nil {
			c.Finish(NewStatus(CodeInvalidArgument, fmt.Sprintf("decoding request: %v", err)))
		} else {
			r = c.mi.newServerStream(req, c)
		}
	case MethodClientStream:
		r = c.mi.newClientStream(c)
	case MethodBidiStream:
		r = c.mi.newBidiStream(c)
	}
	c.mu.Lock()
	c.reactor = r
	c.startDone = true
	if c.donePending {
		c.queueDoneLocked()
	}
	c.mu.Unlock()
}

type serverReadTag struct{ call *ServerCall }

func (t *serverReadTag) Complete(ok bool) {
	c := t.call
	c.strand.Lock()
	defer c.strand.Unlock()
	if r, is := c.reactorRef().(readDoner); is {
		r.OnReadDone(ok)
	}
}

type serverWriteTag struct{ call *ServerCall }

func (t *serverWriteTag) Complete(ok bool) {
	c := t.call
	c.strand.Lock()
	defer c.strand.Unlock()
	if r, is := c.reactorRef().(writeDoner); is {
		r.OnWriteDone(ok)
	}
}

// serverDoneTag delivers the terminal callback and releases the call.
// This is the only path that destroys a reactor, and it runs exactly once.
type serverDoneTag struct{ call *ServerCall }

func (t *serverDoneTag) Complete(bool) {
	c := t.call
	c.strand.Lock()
	c.mu.Lock()
	r := c.reactor
	c.reactor = nil
	st := c.finalStatus
	c.mu.Unlock()
	if d, is := r.(doner); is {
		d.OnDone()
	}
	c.strand.Unlock()

	c.ctxCancel()
	c.conn.removeCall(c.id)
	srv := c.conn.srv
	if c.hooked {
		info := DispatchInfo{
			Method:     c.mi.name,
			MethodType: c.mi.dispatchType(),
			ServiceID:  srv.ServiceName(),
			Peer:       c.conn.peer,
		}
		srv.hookEnd(c.hookCtx, c.hookToken, info, st.Err())
	}
	srv.notifyRelease(c.mi.name)
}

// unaryTask serves one MethodUnary request on a queue worker.
type unaryTask struct {
	conn    *serverConn
	id      uint64
	mi      *methodInfo
	payload []byte
}

func (t *unaryTask) Complete(ok bool) {
	if !ok {
		return
	}
	srv := t.conn.srv
	info := DispatchInfo{
		Method:     t.mi.name,
		MethodType: t.mi.dispatchType(),
		ServiceID:  srv.ServiceName(),
		Peer:       t.conn.peer,
	}
	ctx, token, hooked := srv.hookStart(t.conn.ctx, info)

	st := StatusOK
	var resp Message
	req := t.mi.newReq()
	if err := req.UnmarshalWire(t.payload); err != nil {
		st = NewStatus(CodeInvalidArgument, fmt.Sprintf("decoding request: %v", err))
	} else {
		var err error
		resp, err = t.mi.unaryHandler(req)
		st = statusFromError(err)
	}
	if st.OK() && resp != nil {
		t.conn.wc.enqueue(frame{kind: frameMessage, callID: t.id, payload: resp.AppendWire(nil)}, nil)
	}
	t.conn.sendStatus(t.id, st, nil)

	if hooked {
		srv.hookEnd(ctx, token, info, st.Err())
	}
	srv.notifyRelease(t.mi.name)
}
