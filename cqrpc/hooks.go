// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"log/slog"
)

// Method type string constants for DispatchInfo.MethodType.
const (
	DispatchUnary        = "unary"
	DispatchAsyncUnary   = "async_unary"
	DispatchServerStream = "server_stream"
	DispatchClientStream = "client_stream"
	DispatchBidiStream   = "bidi_stream"
)

// DispatchHook provides observability callpoints around RPC dispatch.
// For streaming methods, OnDispatchStart fires when the call is accepted
// and OnDispatchEnd when the server reactor reaches OnDone.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back
// to OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks.
type DispatchInfo struct {
	Method     string // full RPC method name
	MethodType string // one of the Dispatch* constants
	ServiceID  string // logical service name set via Server.SetServiceName
	Peer       string // remote transport address
}

// hookStart invokes the hook panic-safe; a panicking hook never takes the
// dispatch down with it.
func (s *Server) hookStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken, bool) {
	hook := s.dispatchHook()
	if hook == nil {
		return ctx, nil, false
	}
	var token HookToken
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("dispatch hook start panic", "err", rv)
			}
		}()
		hookCtx, t := hook.OnDispatchStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		token = t
	}()
	return ctx, token, true
}

func (s *Server) hookEnd(ctx context.Context, token HookToken, info DispatchInfo, err error) {
	hook := s.dispatchHook()
	if hook == nil {
		return
	}
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("dispatch hook end panic", "err", rv)
			}
		}()
		hook.OnDispatchEnd(ctx, token, info, err)
	}()
}
