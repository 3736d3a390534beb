// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

// Package greeter implements the hello-world service: a unary greeting
// that stamps each reply with a process-wide monotonic order number.
package greeter

import (
	"sync/atomic"

	"github.com/gridpoint-labs/routeguide/cqrpc"
	"github.com/gridpoint-labs/routeguide/routewire"
)

// MethodSayHello is the full method name of the greeting RPC.
const MethodSayHello = "helloworld.Greeter/SayHello"

// Service greets by name. The order counter is owned by the service
// instance so tests can run isolated servers; every reply on one server
// carries a strictly increasing order starting at 1.
type Service struct {
	order atomic.Uint64
}

// NewService creates a greeter with the order counter at zero.
func NewService() *Service {
	return &Service{}
}

// SayHello builds the reply for one request.
func (svc *Service) SayHello(req *routewire.HelloRequest) (*routewire.HelloReply, error) {
	return &routewire.HelloReply{
		Message: "Hello " + req.Name,
		Order:   uint32(svc.order.Add(1)),
	}, nil
}

// Register registers SayHello as a plain unary method served by a
// handler on a queue worker.
func (svc *Service) Register(s *cqrpc.Server) {
	cqrpc.RegisterUnary(s, MethodSayHello, svc.SayHello)
}

// RegisterAsync registers SayHello behind the explicit accept state
// machine, so requests are accepted concurrently while earlier ones are
// being served.
func (svc *Service) RegisterAsync(s *cqrpc.Server) {
	cqrpc.RegisterAsyncUnary(s, MethodSayHello, svc.SayHello)
}
