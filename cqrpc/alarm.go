// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"sync"
	"time"
)

// Alarm posts a tag to a completion queue after a delay. It is the timer
// facility for reactors that pace their writes: a callback schedules the
// next operation through an Alarm and returns immediately instead of
// sleeping.
//
// An Alarm holds at most one pending timer. Set while a timer is pending
// replaces it; the replaced tag fires with ok=false.
type Alarm struct {
	q *completionQueue

	mu    sync.Mutex
	timer *time.Timer
	tag   Completion
}

func newAlarm(q *completionQueue) *Alarm {
	return &Alarm{q: q}
}

// Set schedules tag to fire with ok=true after d.
func (a *Alarm) Set(d time.Duration, tag Completion) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelLocked()
	a.tag = tag
	a.timer = time.AfterFunc(d, func() {
		a.mu.Lock()
		fired := a.tag
		a.tag = nil
		a.timer = nil
		a.mu.Unlock()
		if fired != nil {
			a.q.Post(fired, true)
		}
	})
}

// Cancel aborts a pending timer, if any. The pending tag fires with
// ok=false so its owner can release resources.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelLocked()
}

func (a *Alarm) cancelLocked() {
	if a.timer == nil {
		return
	}
	stopped := a.timer.Stop()
	if stopped && a.tag != nil {
		a.q.Post(a.tag, false)
	}
	// If Stop lost the race the timer func already owns delivery.
	a.timer = nil
	a.tag = nil
}
