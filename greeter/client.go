// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package greeter

import (
	"sync"

	"github.com/gridpoint-labs/routeguide/cqrpc"
	"github.com/gridpoint-labs/routeguide/routewire"
)

// SayHello performs one blocking greeting call.
func SayHello(ch *cqrpc.Channel, name string) (*routewire.HelloReply, error) {
	req := &routewire.HelloRequest{Name: name}
	var reply routewire.HelloReply
	st := ch.Invoke(MethodSayHello, req, &reply)
	if !st.OK() {
		return nil, st.Err()
	}
	return &reply, nil
}

// SayHelloMany launches one call per name concurrently and returns the
// replies in input order. A nil error means every call succeeded.
func SayHelloMany(ch *cqrpc.Channel, names []string) ([]routewire.HelloReply, error) {
	replies := make([]routewire.HelloReply, len(names))
	errs := make([]error, len(names))
	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)
		idx := i
		req := &routewire.HelloRequest{Name: name}
		var call *cqrpc.ClientCall
		call = ch.NewUnaryCall(MethodSayHello, req, &replies[idx], cqrpc.CompletionFunc(func(bool) {
			errs[idx] = call.Status().Err()
			wg.Done()
		}))
		call.StartCall()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return replies, err
		}
	}
	return replies, nil
}
