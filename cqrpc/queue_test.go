// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQueueFIFO verifies events come out in post order with their ok
// values intact.
func TestQueueFIFO(t *testing.T) {
	q := newCompletionQueue()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Post(CompletionFunc(func(ok bool) {
			got = append(got, i)
			assert.Equal(t, i%2 == 0, ok)
		}), i%2 == 0)
	}
	for i := 0; i < 5; i++ {
		tag, ok, valid := q.Next()
		require.True(t, valid)
		tag.Complete(ok)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

// TestQueueShutdownDrains verifies already-queued events survive
// Shutdown and later posts are dropped.
func TestQueueShutdownDrains(t *testing.T) {
	q := newCompletionQueue()
	fired := 0
	q.Post(CompletionFunc(func(bool) { fired++ }), true)
	q.Shutdown()
	q.Post(CompletionFunc(func(bool) { fired++ }), true)

	tag, ok, valid := q.Next()
	require.True(t, valid)
	tag.Complete(ok)
	_, _, valid = q.Next()
	assert.False(t, valid)
	assert.Equal(t, 1, fired)
}

// TestQueueNextBlocks verifies Next waits for a post from another
// goroutine.
func TestQueueNextBlocks(t *testing.T) {
	q := newCompletionQueue()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tag, ok, valid := q.Next()
		require.True(t, valid)
		assert.True(t, ok)
		tag.Complete(ok)
	}()
	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	q.Post(CompletionFunc(func(bool) { close(done) }), true)
	wg.Wait()
	<-done
}

// TestAlarmFires verifies the tag arrives with ok=true after the delay.
func TestAlarmFires(t *testing.T) {
	q := newCompletionQueue()
	a := newAlarm(q)
	fired := make(chan bool, 1)
	a.Set(5*time.Millisecond, CompletionFunc(func(ok bool) { fired <- ok }))

	tag, ok, valid := q.Next()
	require.True(t, valid)
	tag.Complete(ok)
	assert.True(t, <-fired)
}

// TestAlarmCancel verifies a cancelled timer still delivers its tag,
// with ok=false.
func TestAlarmCancel(t *testing.T) {
	q := newCompletionQueue()
	a := newAlarm(q)
	fired := make(chan bool, 1)
	a.Set(time.Hour, CompletionFunc(func(ok bool) { fired <- ok }))
	a.Cancel()

	tag, ok, valid := q.Next()
	require.True(t, valid)
	tag.Complete(ok)
	assert.False(t, <-fired)
}

// TestAlarmReplace verifies Set on a pending alarm fails the replaced
// tag and fires the new one.
func TestAlarmReplace(t *testing.T) {
	q := newCompletionQueue()
	a := newAlarm(q)
	results := make(chan string, 2)
	a.Set(time.Hour, CompletionFunc(func(ok bool) {
		assert.False(t, ok)
		results <- "old"
	}))
	a.Set(5*time.Millisecond, CompletionFunc(func(ok bool) {
		assert.True(t, ok)
		results <- "new"
	}))

	for i := 0; i < 2; i++ {
		tag, ok, valid := q.Next()
		require.True(t, valid)
		tag.Complete(ok)
	}
	assert.Equal(t, "old", <-results)
	assert.Equal(t, "new", <-results)
}

// TestStatusError verifies code mapping from handler errors.
func TestStatusError(t *testing.T) {
	assert.Equal(t, CodeOK, statusFromError(nil).Code())

	st := statusFromError(NewStatus(CodeNotFound, "missing").Err())
	assert.Equal(t, CodeNotFound, st.Code())
	assert.Equal(t, "missing", st.Message())

	st = statusFromError(assert.AnError)
	assert.Equal(t, CodeUnknown, st.Code())
}
