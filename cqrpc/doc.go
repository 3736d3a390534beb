// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

// Package cqrpc implements a completion-queue RPC runtime for unary,
// server-streaming, client-streaming, and bidirectional-streaming calls.
//
// The runtime is event-driven: every read, write, or finish posted against
// a call is an intent, and the transport delivers exactly one completion
// event per intent through a FIFO completion queue. An event is a
// (tag, ok) pair; the tag is a [Completion] handle identifying the intent,
// and ok=false is the sole termination signal for streaming operations
// (half-close from the peer, cancellation, or transport failure).
//
// # Reactors
//
// Each side of an in-flight call is driven by a reactor: an object whose
// methods are the callbacks invoked for that call's events. Server reactors
// implement [ServerReadReactor], [ServerWriteReactor], or
// [ServerBidiReactor]; client reactors implement the matching client
// interfaces and additionally control call launch via
// [ClientCall.StartCall] and write pacing via holds.
//
// Callbacks are cooperative. They must not block on I/O; they interact
// with the transport only by posting further intents (StartRead,
// StartWrite, Finish). At most one read and one write may be outstanding
// per reactor; violating this is a caller bug and panics. Reads and writes
// form independent pipelines on bidirectional calls and their completions
// may interleave arbitrarily. Successive events for one reactor may be
// dispatched on different worker goroutines, but never concurrently.
//
// OnDone is the final callback on every terminal path, successful or not,
// and is the only place a reactor's resources are released.
//
// # Unary patterns
//
// [RegisterUnary] dispatches a handler per request. [RegisterAsyncUnary]
// instead drives the explicit accept state machine: a per-call object posts
// a "receive next request" intent using itself as the tag, and on that
// event first spawns its successor (so the next request can be accepted
// concurrently), then serves the request, then finishes and self-releases.
//
// # Transport
//
// Calls are framed over a full-duplex connection; message payloads may be
// zstd-compressed when both ends are constructed with [WithCompression].
// The wire codec for message bodies is supplied by the caller through the
// [Message] interface.
package cqrpc
