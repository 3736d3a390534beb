// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"fmt"
)

// callDataState tracks where a unaryCallData is in its lifecycle.
type callDataState int

const (
	// cdProcess: the accept intent is outstanding; the next completion
	// carries a request to serve (or ok=false at shutdown).
	cdProcess callDataState = iota
	// cdFinish: the response and status are queued; the next completion
	// means they reached the transport and the object can release.
	cdFinish
)

// unaryCallData is the per-call accept object for async-unary methods.
// It posts a "receive next request" intent with itself as the tag, and
// when that intent completes it spawns its successor before serving, so
// the method keeps exactly one accept intent outstanding at all times.
type unaryCallData struct {
	srv   *Server
	mi    *methodInfo
	state callDataState
	req   *asyncRequest

	finalStatus Status

	hookCtx   context.Context
	hookToken HookToken
	hooked    bool
	hookInfo  DispatchInfo
}

// spawnUnaryCallData creates a call data object and posts its accept
// intent. Called once per async-unary method at Serve, then once per
// served request by the predecessor.
func spawnUnaryCallData(s *Server, mi *methodInfo) {
	cd := &unaryCallData{srv: s, mi: mi, state: cdProcess}
	s.requestUnaryCall(mi, cd)
}

// bind attaches the paired request before the completion is posted.
func (cd *unaryCallData) bind(req *asyncRequest) {
	cd.req = req
}

func (cd *unaryCallData) Complete(ok bool) {
	switch cd.state {
	case cdProcess:
		if !ok {
			// Shutdown: no request arrived and none ever will.
			return
		}
		cd.serve()
	case cdFinish:
		if cd.hooked {
			cd.srv.hookEnd(cd.hookCtx, cd.hookToken, cd.hookInfo, cd.finalErr())
		}
		cd.srv.notifyRelease(cd.mi.name)
	default:
		panic(fmt.Sprintf("cqrpc: unaryCallData in invalid state %d", cd.state))
	}
}

func (cd *unaryCallData) serve() {
	// Spawn the successor before touching the request so the next call
	// is accepted while this one is being served.
	spawnUnaryCallData(cd.srv, cd.mi)

	req := cd.req
	cd.hookInfo = DispatchInfo{
		Method:     cd.mi.name,
		MethodType: cd.mi.dispatchType(),
		ServiceID:  cd.srv.ServiceName(),
		Peer:       req.conn.peer,
	}
	cd.hookCtx, cd.hookToken, cd.hooked = cd.srv.hookStart(req.conn.ctx, cd.hookInfo)

	st := StatusOK
	var resp Message
	msg := cd.mi.newReq()
	if err := msg.UnmarshalWire(req.payload); err != nil {
		st = NewStatus(CodeInvalidArgument, fmt.Sprintf("decoding request: %v", err))
	} else {
		var err error
		resp, err = cd.mi.unaryHandler(msg)
		st = statusFromError(err)
	}
	cd.finalStatus = st
	cd.state = cdFinish
	if st.OK() && resp != nil {
		req.conn.wc.enqueue(frame{kind: frameMessage, callID: req.id, payload: resp.AppendWire(nil)}, nil)
	}
	req.conn.sendStatus(req.id, st, func(ok bool) {
		cd.srv.cq.Post(cd, ok)
	})
}

func (cd *unaryCallData) finalErr() error {
	return cd.finalStatus.Err()
}
