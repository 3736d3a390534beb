// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routeguide

import (
	"sync"

	"github.com/gridpoint-labs/routeguide/routewire"
)

// NoteBoard is the shared, ordered collection of notes accumulated by
// RouteChat sessions. Appends are linearizable; readers take a snapshot.
//
// Callers that emit matched notes over a call must not hold any board
// state across the emission. The intended sequence is MatchesAt, emit
// the returned copy, then Append, so a note is visible to other sessions
// only after its sender finished receiving the earlier ones.
type NoteBoard struct {
	mu    sync.Mutex
	notes []routewire.RouteNote
}

// NewNoteBoard returns an empty board.
func NewNoteBoard() *NoteBoard {
	return &NoteBoard{}
}

// MatchesAt returns a copy of the notes at exactly loc, in append order.
func (b *NoteBoard) MatchesAt(loc *routewire.Point) []routewire.RouteNote {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matches []routewire.RouteNote
	for i := range b.notes {
		if b.notes[i].Location.Equal(loc) {
			matches = append(matches, b.notes[i])
		}
	}
	return matches
}

// Append adds a note to the board.
func (b *NoteBoard) Append(note routewire.RouteNote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = append(b.notes, note)
}

// Len returns the number of notes on the board.
func (b *NoteBoard) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notes)
}
