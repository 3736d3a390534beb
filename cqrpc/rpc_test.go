// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpoint-labs/routeguide/cqrpc"
	"github.com/gridpoint-labs/routeguide/routewire"
)

// startServer runs a server on a loopback port and returns its address.
func startServer(t *testing.T, server *cqrpc.Server) string {
	t.Helper()
	require.NoError(t, server.Listen("127.0.0.1:0"))
	go func() {
		if err := server.Serve(); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(server.Stop)
	return server.Addr().String()
}

func dial(t *testing.T, addr string, opts ...cqrpc.ChannelOption) *cqrpc.Channel {
	t.Helper()
	ch, err := cqrpc.Dial(addr, opts...)
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	return ch
}

// TestUnaryEcho exercises the blocking unary round trip.
func TestUnaryEcho(t *testing.T) {
	server := cqrpc.NewServer()
	cqrpc.RegisterUnary(server, "test.Echo/Echo", func(req *routewire.HelloRequest) (*routewire.HelloReply, error) {
		return &routewire.HelloReply{Message: "echo:" + req.Name, Order: 7}, nil
	})
	ch := dial(t, startServer(t, server))

	var reply routewire.HelloReply
	st := ch.Invoke("test.Echo/Echo", &routewire.HelloRequest{Name: "ping"}, &reply)
	require.True(t, st.OK(), "status: %v", st)
	assert.Equal(t, "echo:ping", reply.Message)
	assert.Equal(t, uint32(7), reply.Order)
}

// TestUnaryError verifies a handler status reaches the client intact.
func TestUnaryError(t *testing.T) {
	server := cqrpc.NewServer()
	cqrpc.RegisterUnary(server, "test.Echo/Fail", func(req *routewire.HelloRequest) (*routewire.HelloReply, error) {
		return nil, cqrpc.NewStatus(cqrpc.CodeNotFound, "no such thing").Err()
	})
	ch := dial(t, startServer(t, server))

	var reply routewire.HelloReply
	st := ch.Invoke("test.Echo/Fail", &routewire.HelloRequest{Name: "x"}, &reply)
	assert.Equal(t, cqrpc.CodeNotFound, st.Code())
	assert.Equal(t, "no such thing", st.Message())
}

// TestUnknownMethod verifies calls to unregistered methods fail with
// UNIMPLEMENTED.
func TestUnknownMethod(t *testing.T) {
	server := cqrpc.NewServer()
	ch := dial(t, startServer(t, server))

	var reply routewire.HelloReply
	st := ch.Invoke("test.Echo/Nope", &routewire.HelloRequest{Name: "x"}, &reply)
	assert.Equal(t, cqrpc.CodeUnimplemented, st.Code())
}

// TestAsyncUnaryConcurrent runs many calls against the accept state
// machine at once.
func TestAsyncUnaryConcurrent(t *testing.T) {
	server := cqrpc.NewServer()
	cqrpc.RegisterAsyncUnary(server, "test.Echo/Echo", func(req *routewire.HelloRequest) (*routewire.HelloReply, error) {
		return &routewire.HelloReply{Message: "echo:" + req.Name}, nil
	})
	ch := dial(t, startServer(t, server), cqrpc.WithWorkers(4))

	const calls = 32
	var wg sync.WaitGroup
	results := make([]string, calls)
	for i := 0; i < calls; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			var reply routewire.HelloReply
			st := ch.Invoke("test.Echo/Echo", &routewire.HelloRequest{Name: fmt.Sprint(i)}, &reply)
			require.True(t, st.OK(), "status: %v", st)
			results[i] = reply.Message
		}()
	}
	wg.Wait()
	for i := 0; i < calls; i++ {
		assert.Equal(t, fmt.Sprintf("echo:%d", i), results[i])
	}
}

// countStream writes a fixed number of replies then finishes.
type countStream struct {
	call *cqrpc.ServerCall
	name string
	next uint32
	out  routewire.HelloReply
}

func (r *countStream) writeNext() {
	if r.next >= 5 {
		r.call.Finish(cqrpc.StatusOK)
		return
	}
	r.next++
	r.out = routewire.HelloReply{Message: r.name, Order: r.next}
	r.call.StartWrite(&r.out)
}

func (r *countStream) OnWriteDone(ok bool) {
	if !ok {
		return
	}
	r.writeNext()
}

func (r *countStream) OnDone() {}

// collectReader gathers a whole reply stream and releases a waiter.
type collectReader struct {
	call *cqrpc.ClientCall
	in   routewire.HelloReply
	got  []uint32
	done chan cqrpc.Status
}

func (r *collectReader) OnReadDone(ok bool) {
	if !ok {
		return
	}
	r.got = append(r.got, r.in.Order)
	r.call.StartRead(&r.in)
}

func (r *collectReader) OnDone(s cqrpc.Status) { r.done <- s }

// TestServerStream drives a write reactor against a read reactor.
func TestServerStream(t *testing.T) {
	server := cqrpc.NewServer()
	cqrpc.RegisterServerStream(server, "test.Stream/Count", func(req *routewire.HelloRequest, call *cqrpc.ServerCall) cqrpc.ServerWriteReactor {
		r := &countStream{call: call, name: req.Name}
		r.writeNext()
		return r
	})
	ch := dial(t, startServer(t, server))

	r := &collectReader{done: make(chan cqrpc.Status, 1)}
	r.call = ch.NewServerStreamCall("test.Stream/Count", &routewire.HelloRequest{Name: "n"}, r)
	r.call.StartRead(&r.in)
	r.call.StartCall()

	st := <-r.done
	require.True(t, st.OK(), "status: %v", st)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, r.got)
}

// summingReader counts incoming requests and answers with the total.
type summingReader struct {
	call  *cqrpc.ServerCall
	in    routewire.HelloRequest
	count uint32
	out   routewire.HelloReply
}

func (r *summingReader) OnReadDone(ok bool) {
	if !ok {
		r.out = routewire.HelloReply{Message: "total", Order: r.count}
		r.call.FinishWithResponse(&r.out, cqrpc.StatusOK)
		return
	}
	r.count++
	r.call.StartRead(&r.in)
}

func (r *summingReader) OnDone() {}

// sendingWriter streams a fixed number of requests then half-closes.
type sendingWriter struct {
	call *cqrpc.ClientCall
	next int
	out  routewire.HelloRequest
	resp routewire.HelloReply
	done chan cqrpc.Status
}

func (w *sendingWriter) writeNext() {
	if w.next >= 4 {
		w.call.StartWritesDone()
		return
	}
	w.next++
	w.out = routewire.HelloRequest{Name: fmt.Sprint(w.next)}
	w.call.StartWrite(&w.out)
}

func (w *sendingWriter) OnWriteDone(ok bool) {
	if !ok {
		return
	}
	w.writeNext()
}

func (w *sendingWriter) OnDone(s cqrpc.Status) { w.done <- s }

// TestClientStream drives a client write reactor into a server read
// reactor and checks the single response.
func TestClientStream(t *testing.T) {
	server := cqrpc.NewServer()
	cqrpc.RegisterClientStream(server, "test.Stream/Sum", func(call *cqrpc.ServerCall) cqrpc.ServerReadReactor {
		r := &summingReader{call: call}
		call.StartRead(&r.in)
		return r
	})
	ch := dial(t, startServer(t, server))

	w := &sendingWriter{done: make(chan cqrpc.Status, 1)}
	w.call = ch.NewClientStreamCall("test.Stream/Sum", &w.resp, w)
	w.call.StartCall()
	w.writeNext()

	st := <-w.done
	require.True(t, st.OK(), "status: %v", st)
	assert.Equal(t, uint32(4), w.resp.Order)
}

// echoBidi echoes each incoming request until the peer half-closes.
type echoBidi struct {
	call    *cqrpc.ServerCall
	in      routewire.HelloRequest
	out     routewire.HelloReply
	order   uint32
	writing bool
	closed  bool
}

func (r *echoBidi) OnReadDone(ok bool) {
	if !ok {
		r.closed = true
		if !r.writing {
			r.call.Finish(cqrpc.StatusOK)
		}
		return
	}
	r.order++
	r.out = routewire.HelloReply{Message: "echo:" + r.in.Name, Order: r.order}
	r.writing = true
	r.call.StartWrite(&r.out)
}

func (r *echoBidi) OnWriteDone(ok bool) {
	r.writing = false
	if !ok {
		return
	}
	if r.closed {
		r.call.Finish(cqrpc.StatusOK)
		return
	}
	r.call.StartRead(&r.in)
}

func (r *echoBidi) OnDone() {}

// chattyBidi sends a fixed number of requests while collecting echoes.
type chattyBidi struct {
	call *cqrpc.ClientCall
	next int
	out  routewire.HelloRequest
	in   routewire.HelloReply
	got  []string
	done chan cqrpc.Status
}

func (c *chattyBidi) writeNext() {
	if c.next >= 3 {
		c.call.StartWritesDone()
		return
	}
	c.next++
	c.out = routewire.HelloRequest{Name: fmt.Sprint(c.next)}
	c.call.StartWrite(&c.out)
}

func (c *chattyBidi) OnWriteDone(ok bool) {
	if !ok {
		return
	}
	c.writeNext()
}

func (c *chattyBidi) OnReadDone(ok bool) {
	if !ok {
		return
	}
	c.got = append(c.got, c.in.Message)
	c.call.StartRead(&c.in)
}

func (c *chattyBidi) OnDone(s cqrpc.Status) { c.done <- s }

// TestBidiStream runs independent read and write pipelines end to end.
func TestBidiStream(t *testing.T) {
	server := cqrpc.NewServer()
	cqrpc.RegisterBidiStream(server, "test.Stream/Chat", func(call *cqrpc.ServerCall) cqrpc.ServerBidiReactor {
		r := &echoBidi{call: call}
		call.StartRead(&r.in)
		return r
	})
	ch := dial(t, startServer(t, server))

	c := &chattyBidi{done: make(chan cqrpc.Status, 1)}
	c.call = ch.NewBidiCall("test.Stream/Chat", c)
	c.call.StartRead(&c.in)
	c.call.StartCall()
	c.writeNext()

	st := <-c.done
	require.True(t, st.OK(), "status: %v", st)
	assert.Equal(t, []string{"echo:1", "echo:2", "echo:3"}, c.got)
}

// TestCompression runs the unary round trip with zstd on both ends.
func TestCompression(t *testing.T) {
	server := cqrpc.NewServer(cqrpc.WithServerCompression())
	cqrpc.RegisterUnary(server, "test.Echo/Echo", func(req *routewire.HelloRequest) (*routewire.HelloReply, error) {
		return &routewire.HelloReply{Message: "echo:" + req.Name}, nil
	})
	ch := dial(t, startServer(t, server), cqrpc.WithCompression())

	var reply routewire.HelloReply
	st := ch.Invoke("test.Echo/Echo", &routewire.HelloRequest{Name: "compressed payload"}, &reply)
	require.True(t, st.OK(), "status: %v", st)
	assert.Equal(t, "echo:compressed payload", reply.Message)
}

// drainReader keeps reading until the stream ends, recording terminal
// callbacks for the cancellation test.
type drainReader struct {
	call *cqrpc.ServerCall
	in   routewire.HelloRequest
	ends chan bool
}

func (r *drainReader) OnReadDone(ok bool) {
	if !ok {
		r.ends <- r.call.Cancelled()
		return
	}
	r.call.StartRead(&r.in)
}

func (r *drainReader) OnDone() {}

// TestCancellation cancels a client stream mid-call and verifies the
// server reactor observes the cancel and is released exactly once.
func TestCancellation(t *testing.T) {
	ends := make(chan bool, 1)
	released := make(chan string, 2)

	server := cqrpc.NewServer()
	server.SetCallReleaseFunc(func(method string) { released <- method })
	cqrpc.RegisterClientStream(server, "test.Stream/Drain", func(call *cqrpc.ServerCall) cqrpc.ServerReadReactor {
		r := &drainReader{call: call, ends: ends}
		call.StartRead(&r.in)
		return r
	})
	ch := dial(t, startServer(t, server))

	w := &sendingWriter{done: make(chan cqrpc.Status, 1)}
	w.call = ch.NewClientStreamCall("test.Stream/Drain", &w.resp, w)
	w.call.AddHold()
	w.call.StartCall()
	w.out = routewire.HelloRequest{Name: "one"}
	w.call.StartWrite(&w.out)

	w.call.Cancel()
	st := <-w.done
	assert.Equal(t, cqrpc.CodeCancelled, st.Code())

	select {
	case cancelled := <-ends:
		assert.True(t, cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("server reactor never saw the cancel")
	}
	select {
	case method := <-released:
		assert.Equal(t, "test.Stream/Drain", method)
	case <-time.After(2 * time.Second):
		t.Fatal("server call never released")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, released, "call released more than once")
}
