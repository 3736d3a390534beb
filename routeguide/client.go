// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routeguide

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gridpoint-labs/routeguide/cqrpc"
	"github.com/gridpoint-labs/routeguide/routewire"
)

// ErrIncompleteFeature reports a GetFeature response without a location.
// The lookup failed; callers log and continue.
var ErrIncompleteFeature = errors.New("routeguide: server returned incomplete feature")

// GetFeature performs a blocking feature lookup at p.
func GetFeature(ch *cqrpc.Channel, p *routewire.Point) (*routewire.Feature, error) {
	var feature routewire.Feature
	st := ch.Invoke(MethodGetFeature, p, &feature)
	if !st.OK() {
		return nil, st.Err()
	}
	if feature.Location == nil {
		return nil, ErrIncompleteFeature
	}
	return &feature, nil
}

// listFeaturesReader collects a feature stream, invoking visit per
// received feature, and releases the waiter from OnDone.
type listFeaturesReader struct {
	call    *cqrpc.ClientCall
	feature routewire.Feature
	visit   func(*routewire.Feature)
	done    chan cqrpc.Status
}

func (r *listFeaturesReader) OnReadDone(ok bool) {
	if !ok {
		return
	}
	if r.visit != nil {
		r.visit(&r.feature)
	}
	r.call.StartRead(&r.feature)
}

func (r *listFeaturesReader) OnDone(s cqrpc.Status) {
	r.done <- s
}

// ListFeatures streams the features inside rect, calling visit for each
// one, and blocks until the stream ends.
func ListFeatures(ch *cqrpc.Channel, rect *routewire.Rectangle, visit func(*routewire.Feature)) error {
	r := &listFeaturesReader{visit: visit, done: make(chan cqrpc.Status, 1)}
	r.call = ch.NewServerStreamCall(MethodListFeatures, rect, r)
	r.call.StartRead(&r.feature)
	r.call.StartCall()
	st := <-r.done
	return st.Err()
}

// recordRouteWriter streams points with a random delay in [500, 1500] ms
// before each write. The delay is scheduled through an alarm, never a
// sleep inside a callback, and a hold keeps the call open while the next
// write is pending on the timer.
type recordRouteWriter struct {
	call  *cqrpc.ClientCall
	alarm *cqrpc.Alarm

	points []routewire.Point
	next   int
	out    routewire.Point

	holdReleased bool
	summary      routewire.RouteSummary
	done         chan cqrpc.Status
}

// recordRouteDelay returns a uniform random delay in [500, 1500] ms.
func recordRouteDelay() time.Duration {
	return time.Duration(500+rand.Intn(1001)) * time.Millisecond
}

func (r *recordRouteWriter) scheduleNext() {
	if r.next >= len(r.points) {
		r.call.StartWritesDone()
		r.releaseHold()
		return
	}
	r.alarm.Set(recordRouteDelay(), cqrpc.CompletionFunc(func(ok bool) {
		if !ok {
			r.releaseHold()
			return
		}
		r.out = r.points[r.next]
		r.next++
		r.call.StartWrite(&r.out)
	}))
}

func (r *recordRouteWriter) releaseHold() {
	if !r.holdReleased {
		r.holdReleased = true
		r.call.RemoveHold()
	}
}

func (r *recordRouteWriter) OnWriteDone(ok bool) {
	if !ok {
		r.alarm.Cancel()
		r.releaseHold()
		return
	}
	r.scheduleNext()
}

func (r *recordRouteWriter) OnDone(s cqrpc.Status) {
	r.done <- s
}

// RecordRoute streams points to the server with paced writes and blocks
// for the route summary.
func RecordRoute(ch *cqrpc.Channel, points []routewire.Point) (*routewire.RouteSummary, error) {
	r := &recordRouteWriter{
		alarm:  ch.NewAlarm(),
		points: points,
		done:   make(chan cqrpc.Status, 1),
	}
	r.call = ch.NewClientStreamCall(MethodRecordRoute, &r.summary, r)
	r.call.AddHold()
	r.call.StartCall()
	r.scheduleNext()
	st := <-r.done
	if !st.OK() {
		return nil, st.Err()
	}
	return &r.summary, nil
}

// RandomRoute picks n catalog features at random as a route. Useful as
// RecordRoute input when demoing against a loaded database.
func RandomRoute(catalog *Catalog, n int) []routewire.Point {
	points := make([]routewire.Point, 0, n)
	if catalog.Len() == 0 {
		return points
	}
	for i := 0; i < n; i++ {
		f := catalog.Feature(rand.Intn(catalog.Len()))
		points = append(points, *f.Location)
	}
	return points
}

// routeChatSession writes its notes one after another, reading echoes
// concurrently, and collects everything received until the stream ends.
type routeChatSession struct {
	call *cqrpc.ClientCall

	notes []routewire.RouteNote
	next  int
	out   routewire.RouteNote
	in    routewire.RouteNote

	received []routewire.RouteNote
	done     chan cqrpc.Status
}

func (s *routeChatSession) writeNext() {
	if s.next >= len(s.notes) {
		s.call.StartWritesDone()
		return
	}
	s.out = s.notes[s.next]
	s.next++
	s.call.StartWrite(&s.out)
}

func (s *routeChatSession) OnWriteDone(ok bool) {
	if !ok {
		return
	}
	s.writeNext()
}

func (s *routeChatSession) OnReadDone(ok bool) {
	if !ok {
		return
	}
	note := routewire.RouteNote{Message: s.in.Message}
	if s.in.Location != nil {
		loc := *s.in.Location
		note.Location = &loc
	}
	s.received = append(s.received, note)
	s.call.StartRead(&s.in)
}

func (s *routeChatSession) OnDone(st cqrpc.Status) {
	s.done <- st
}

// RouteChat runs one chat session: notes go out in order while echoes of
// earlier notes at the same locations come back. It blocks until the
// server closes the stream and returns the received notes in arrival
// order.
func RouteChat(ch *cqrpc.Channel, notes []routewire.RouteNote) ([]routewire.RouteNote, error) {
	s := &routeChatSession{notes: notes, done: make(chan cqrpc.Status, 1)}
	s.call = ch.NewBidiCall(MethodRouteChat, s)
	s.call.StartRead(&s.in)
	s.call.StartCall()
	s.writeNext()
	st := <-s.done
	if !st.OK() {
		return s.received, st.Err()
	}
	return s.received, nil
}

// ChatNotes returns the canonical demo notes.
func ChatNotes() []routewire.RouteNote {
	mk := func(msg string, lat, lon int32) routewire.RouteNote {
		return routewire.RouteNote{
			Message:  msg,
			Location: &routewire.Point{Latitude: lat, Longitude: lon},
		}
	}
	return []routewire.RouteNote{
		mk("First message", 0, 0),
		mk("Second message", 0, 1),
		mk("Third message", 1, 0),
		mk("Fourth message", 0, 0),
	}
}

// FormatPoint renders a point in degrees for logs.
func FormatPoint(p *routewire.Point) string {
	if p == nil {
		return "(nil)"
	}
	return fmt.Sprintf("(%.7f, %.7f)", float64(p.Latitude)/coordScale, float64(p.Longitude)/coordScale)
}
