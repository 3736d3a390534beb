// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// MethodKind identifies how a registered method is dispatched.
type MethodKind int

const (
	// MethodUnary is a request-response method served by a handler.
	MethodUnary MethodKind = iota
	// MethodAsyncUnary is a request-response method served by the
	// CREATE/PROCESS/FINISH accept state machine.
	MethodAsyncUnary
	// MethodServerStream sends a stream of messages for one request.
	MethodServerStream
	// MethodClientStream reads a stream of messages and ends with one
	// response.
	MethodClientStream
	// MethodBidiStream reads and writes independent message streams.
	MethodBidiStream
)

// message constrains a generic parameter to a pointer that implements
// Message, so registration helpers can allocate request buffers.
type message[T any] interface {
	*T
	Message
}

// methodInfo stores the registration details for one RPC method.
type methodInfo struct {
	name string
	kind MethodKind

	newReq       func() Message
	unaryHandler func(Message) (Message, error)

	newServerStream func(req Message, call *ServerCall) ServerWriteReactor
	newClientStream func(call *ServerCall) ServerReadReactor
	newBidiStream   func(call *ServerCall) ServerBidiReactor

	// Async-unary accept state, guarded by Server.mu. waiters are call
	// data objects that posted a "receive next request" intent; backlog
	// holds requests that arrived while no intent was outstanding.
	waiters []*unaryCallData
	backlog []*asyncRequest
}

type asyncRequest struct {
	conn    *serverConn
	id      uint64
	payload []byte
}

func (m *methodInfo) dispatchType() string {
	switch m.kind {
	case MethodUnary:
		return DispatchUnary
	case MethodAsyncUnary:
		return DispatchAsyncUnary
	case MethodServerStream:
		return DispatchServerStream
	case MethodClientStream:
		return DispatchClientStream
	default:
		return DispatchBidiStream
	}
}

// Server accepts connections and drives one reactor per in-flight call.
type Server struct {
	workers  int
	compress bool

	mu          sync.Mutex
	methods     map[string]*methodInfo
	conns       map[*serverConn]struct{}
	lis         net.Listener
	hook        DispatchHook
	serviceName string
	started     bool
	stopped     bool

	ctx    context.Context
	cancel context.CancelFunc

	connWG   sync.WaitGroup
	workerWG sync.WaitGroup
	cq       *completionQueue

	// onCallRelease, if set, fires once per call whose server-side
	// resources have been released. Used by tests to verify that
	// reactors are destroyed exactly once.
	onCallRelease func(method string)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerWorkers sets the number of completion-queue worker
// goroutines. Default 4.
func WithServerWorkers(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithServerCompression enables zstd message compression. Both ends of a
// connection must agree.
func WithServerCompression() ServerOption {
	return func(s *Server) { s.compress = true }
}

// NewServer creates a server with no registered methods.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		workers: 4,
		methods: make(map[string]*methodInfo),
		conns:   make(map[*serverConn]struct{}),
		cq:      newCompletionQueue(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatchHook registers a hook that is called around each RPC dispatch.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

func (s *Server) dispatchHook() DispatchHook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hook
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceName
}

// SetCallReleaseFunc installs an instrumentation callback that fires once
// per released call.
func (s *Server) SetCallReleaseFunc(f func(method string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCallRelease = f
}

func (s *Server) notifyRelease(method string) {
	s.mu.Lock()
	f := s.onCallRelease
	s.mu.Unlock()
	if f != nil {
		f(method)
	}
}

func (s *Server) register(mi *methodInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic(fmt.Sprintf("cqrpc: registering %q after Serve", mi.name))
	}
	if _, dup := s.methods[mi.name]; dup {
		panic(fmt.Sprintf("cqrpc: method %q registered twice", mi.name))
	}
	s.methods[mi.name] = mi
}

// RegisterUnary registers a request-response method served by handler.
// The handler runs on a completion-queue worker; a returned *StatusError
// is sent as-is, any other error maps to CodeUnknown.
func RegisterUnary[Req any, PReq message[Req], Resp Message](s *Server, name string, handler func(PReq) (Resp, error)) {
	s.register(&methodInfo{
		name:   name,
		kind:   MethodUnary,
		newReq: func() Message { return PReq(new(Req)) },
		unaryHandler: func(req Message) (Message, error) {
			resp, err := handler(req.(PReq))
			if err != nil {
				return nil, err
			}
			return resp, nil
		},
	})
}

// RegisterAsyncUnary registers a request-response method served by the
// explicit accept state machine: a per-call object posts a "receive next
// request" intent with itself as the tag, and on that event spawns its
// successor before serving, so the next request is accepted concurrently.
func RegisterAsyncUnary[Req any, PReq message[Req], Resp Message](s *Server, name string, handler func(PReq) (Resp, error)) {
	mi := &methodInfo{
		name:   name,
		kind:   MethodAsyncUnary,
		newReq: func() Message { return PReq(new(Req)) },
		unaryHandler: func(req Message) (Message, error) {
			resp, err := handler(req.(PReq))
			if err != nil {
				return nil, err
			}
			return resp, nil
		},
	}
	s.register(mi)
}

// RegisterServerStream registers a method that answers one request with a
// stream of messages. start is invoked per accepted call and returns the
// write reactor driving the stream; it typically posts the first write
// before returning.
func RegisterServerStream[Req any, PReq message[Req]](s *Server, name string, start func(req PReq, call *ServerCall) ServerWriteReactor) {
	s.register(&methodInfo{
		name:   name,
		kind:   MethodServerStream,
		newReq: func() Message { return PReq(new(Req)) },
		newServerStream: func(req Message, call *ServerCall) ServerWriteReactor {
			return start(req.(PReq), call)
		},
	})
}

// RegisterClientStream registers a method that reads a stream of messages
// and finishes with a single response. start returns the read reactor; it
// typically posts the first read before returning.
func RegisterClientStream(s *Server, name string, start func(call *ServerCall) ServerReadReactor) {
	s.register(&methodInfo{
		name:            name,
		kind:            MethodClientStream,
		newClientStream: start,
	})
}

// RegisterBidiStream registers a bidirectional streaming method.
func RegisterBidiStream(s *Server, name string, start func(call *ServerCall) ServerBidiReactor) {
	s.register(&methodInfo{
		name:          name,
		kind:          MethodBidiStream,
		newBidiStream: start,
	})
}

// Listen binds the server to addr ("host:port").
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cqrpc: listening on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Serve runs the accept loop. It blocks until Stop is called or the
// listener fails, which is where the main server goroutine waits.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.lis == nil {
		s.mu.Unlock()
		return errors.New("cqrpc: Serve called before Listen")
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("cqrpc: Serve called twice")
	}
	s.started = true
	lis := s.lis
	workers := s.workers
	var asyncMethods []*methodInfo
	for _, mi := range s.methods {
		if mi.kind == MethodAsyncUnary {
			asyncMethods = append(asyncMethods, mi)
		}
	}
	s.mu.Unlock()

	for _, mi := range asyncMethods {
		spawnUnaryCallData(s, mi)
	}

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.cq.pump()
		}()
	}

	for {
		conn, err := lis.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return nil
			}
			return fmt.Errorf("cqrpc: accept: %w", err)
		}
		sc, err := newServerConn(s, conn)
		if err != nil {
			slog.Error("rejecting connection", "peer", conn.RemoteAddr(), "err", err)
			_ = conn.Close()
			continue
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			sc.wc.close()
			continue
		}
		s.conns[sc] = struct{}{}
		s.mu.Unlock()
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			sc.readLoop()
		}()
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Stop shuts the server down: the listener closes, open connections are
// torn down (pending reactors see ok=false then OnDone), queued events
// drain, and the worker pool exits.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	lis := s.lis
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	var waiters []*unaryCallData
	for _, mi := range s.methods {
		waiters = append(waiters, mi.waiters...)
		mi.waiters = nil
		mi.backlog = nil
	}
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if lis != nil {
		_ = lis.Close()
	}
	for _, sc := range conns {
		sc.wc.close()
	}
	s.connWG.Wait()
	// Fail outstanding accept intents so their call data can release.
	for _, cd := range waiters {
		s.cq.Post(cd, false)
	}
	s.cq.Shutdown()
	if started {
		s.workerWG.Wait()
	}
}

func (s *Server) removeConn(sc *serverConn) {
	s.mu.Lock()
	delete(s.conns, sc)
	s.mu.Unlock()
}

func (s *Server) lookupMethod(name string) *methodInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.methods[name]
}

// requestUnaryCall posts cd's "receive next request" intent: if a request
// is already waiting it pairs immediately, otherwise cd queues until one
// arrives.
func (s *Server) requestUnaryCall(mi *methodInfo, cd *unaryCallData) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.cq.Post(cd, false)
		return
	}
	if len(mi.backlog) > 0 {
		req := mi.backlog[0]
		mi.backlog = mi.backlog[1:]
		s.mu.Unlock()
		cd.bind(req)
		s.cq.Post(cd, true)
		return
	}
	mi.waiters = append(mi.waiters, cd)
	s.mu.Unlock()
}

// offerAsyncRequest delivers an arrived request to a waiting call data
// object, or queues it until one posts an accept intent.
func (s *Server) offerAsyncRequest(mi *methodInfo, req *asyncRequest) {
	s.mu.Lock()
	if len(mi.waiters) > 0 {
		cd := mi.waiters[0]
		mi.waiters = mi.waiters[1:]
		s.mu.Unlock()
		cd.bind(req)
		s.cq.Post(cd, true)
		return
	}
	mi.backlog = append(mi.backlog, req)
	s.mu.Unlock()
}

// dropAsyncRequest removes a cancelled backlog entry.
func (s *Server) dropAsyncRequest(conn *serverConn, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mi := range s.methods {
		if mi.kind != MethodAsyncUnary {
			continue
		}
		for i, req := range mi.backlog {
			if req.conn == conn && req.id == id {
				mi.backlog = append(mi.backlog[:i], mi.backlog[i+1:]...)
				return
			}
		}
	}
}
