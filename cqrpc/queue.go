// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import "sync"

// Completion is the tag contract of the completion queue. A Completion
// uniquely identifies one pending operation; the queue invokes Complete
// exactly once when that operation's event is delivered. The tag must stay
// valid until its event fires.
type Completion interface {
	Complete(ok bool)
}

// CompletionFunc adapts a function to the Completion interface.
type CompletionFunc func(ok bool)

// Complete calls f(ok).
func (f CompletionFunc) Complete(ok bool) { f(ok) }

type event struct {
	tag Completion
	ok  bool
}

// completionQueue is a FIFO of (tag, ok) events. Post never blocks;
// Next blocks until an event is available or the queue is shut down and
// drained.
type completionQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	events   []event
	shutdown bool
}

func newCompletionQueue() *completionQueue {
	q := &completionQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Post enqueues an event. Events posted after Shutdown are dropped.
func (q *completionQueue) Post(tag Completion, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	q.events = append(q.events, event{tag: tag, ok: ok})
	q.cond.Signal()
}

// Next returns the next event in FIFO order. valid=false means the queue
// was shut down and fully drained; no further events will be delivered.
func (q *completionQueue) Next() (tag Completion, ok bool, valid bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 {
		if q.shutdown {
			return nil, false, false
		}
		q.cond.Wait()
	}
	ev := q.events[0]
	q.events[0] = event{}
	q.events = q.events[1:]
	return ev.tag, ev.ok, true
}

// Shutdown stops the queue. Already-queued events are still delivered.
func (q *completionQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	q.cond.Broadcast()
}

// pump dispatches events until shutdown. Run one pump per worker
// goroutine; each event is handed to exactly one worker.
func (q *completionQueue) pump() {
	for {
		tag, ok, valid := q.Next()
		if !valid {
			return
		}
		tag.Complete(ok)
	}
}
