// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routeguide

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpoint-labs/routeguide/routewire"
)

func note(msg string, lat, lon int32) routewire.RouteNote {
	return routewire.RouteNote{
		Message:  msg,
		Location: &routewire.Point{Latitude: lat, Longitude: lon},
	}
}

// TestNoteBoardMatching verifies exact-location matching in append
// order, with the snapshot taken before the append.
func TestNoteBoardMatching(t *testing.T) {
	b := NewNoteBoard()

	assert.Empty(t, b.MatchesAt(&routewire.Point{}))
	b.Append(note("m1", 0, 0))

	matches := b.MatchesAt(&routewire.Point{Latitude: 0, Longitude: 0})
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].Message)
	b.Append(note("m2", 0, 0))

	assert.Empty(t, b.MatchesAt(&routewire.Point{Latitude: 1, Longitude: 1}))
	b.Append(note("m3", 1, 1))

	matches = b.MatchesAt(&routewire.Point{Latitude: 0, Longitude: 0})
	require.Len(t, matches, 2)
	assert.Equal(t, "m1", matches[0].Message)
	assert.Equal(t, "m2", matches[1].Message)
	assert.Equal(t, 3, b.Len())
}

// TestNoteBoardSnapshotIsolated verifies the returned slice is a copy
// that later appends do not grow.
func TestNoteBoardSnapshotIsolated(t *testing.T) {
	b := NewNoteBoard()
	b.Append(note("m1", 0, 0))
	matches := b.MatchesAt(&routewire.Point{})
	b.Append(note("m2", 0, 0))
	assert.Len(t, matches, 1)
}

// TestNoteBoardConcurrentAppends hammers the board from many goroutines
// and checks every append landed.
func TestNoteBoardConcurrentAppends(t *testing.T) {
	b := NewNoteBoard()
	const writers, each = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				b.Append(note(fmt.Sprintf("w%d-%d", w, i), int32(w), 0))
				b.MatchesAt(&routewire.Point{Latitude: int32(w)})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, writers*each, b.Len())
	for w := 0; w < writers; w++ {
		assert.Len(t, b.MatchesAt(&routewire.Point{Latitude: int32(w)}), each)
	}
}
