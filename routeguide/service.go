// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routeguide

import (
	"time"

	"github.com/gridpoint-labs/routeguide/cqrpc"
	"github.com/gridpoint-labs/routeguide/routewire"
)

// Full method names of the RouteGuide service.
const (
	MethodGetFeature   = "routeguide.RouteGuide/GetFeature"
	MethodListFeatures = "routeguide.RouteGuide/ListFeatures"
	MethodRecordRoute  = "routeguide.RouteGuide/RecordRoute"
	MethodRouteChat    = "routeguide.RouteGuide/RouteChat"
)

// Service holds the server-side state shared by all calls: the immutable
// feature catalog and the note board.
type Service struct {
	catalog *Catalog
	board   *NoteBoard
}

// NewService creates a service over catalog with an empty note board.
func NewService(catalog *Catalog) *Service {
	return &Service{catalog: catalog, board: NewNoteBoard()}
}

// Board exposes the note board, mainly for tests.
func (svc *Service) Board() *NoteBoard { return svc.board }

// Register registers the four RouteGuide methods on s.
func (svc *Service) Register(s *cqrpc.Server) {
	cqrpc.RegisterUnary(s, MethodGetFeature, svc.getFeature)
	cqrpc.RegisterServerStream(s, MethodListFeatures, svc.startListFeatures)
	cqrpc.RegisterClientStream(s, MethodRecordRoute, svc.startRecordRoute)
	cqrpc.RegisterBidiStream(s, MethodRouteChat, svc.startRouteChat)
}

// getFeature echoes the request location with the cataloged name, empty
// if no feature is there.
func (svc *Service) getFeature(p *routewire.Point) (*routewire.Feature, error) {
	return &routewire.Feature{
		Name:     svc.catalog.NameAt(p),
		Location: &routewire.Point{Latitude: p.Latitude, Longitude: p.Longitude},
	}, nil
}

// listFeaturesReactor streams the features inside a rectangle, one write
// per OnWriteDone, driven by a catalog cursor.
type listFeaturesReactor struct {
	call   *cqrpc.ServerCall
	cursor *Cursor
}

func (svc *Service) startListFeatures(rect *routewire.Rectangle, call *cqrpc.ServerCall) cqrpc.ServerWriteReactor {
	r := &listFeaturesReactor{call: call, cursor: svc.catalog.Scan(rect)}
	r.writeNext()
	return r
}

func (r *listFeaturesReactor) writeNext() {
	f := r.cursor.Next()
	if f == nil {
		r.call.Finish(cqrpc.StatusOK)
		return
	}
	r.call.StartWrite(f)
}

func (r *listFeaturesReactor) OnWriteDone(ok bool) {
	if !ok {
		return
	}
	r.writeNext()
}

func (r *listFeaturesReactor) OnDone() {}

// recordRouteReactor accumulates a route summary over a stream of points
// and finishes with it on the peer's half-close.
type recordRouteReactor struct {
	call    *cqrpc.ServerCall
	catalog *Catalog

	point routewire.Point

	pointCount   int32
	featureCount int32
	distance     float64
	prev         routewire.Point
	havePrev     bool
	startTime    time.Time
}

func (svc *Service) startRecordRoute(call *cqrpc.ServerCall) cqrpc.ServerReadReactor {
	r := &recordRouteReactor{call: call, catalog: svc.catalog}
	call.StartRead(&r.point)
	return r
}

func (r *recordRouteReactor) OnReadDone(ok bool) {
	if !ok {
		r.finish()
		return
	}
	if r.pointCount == 0 {
		r.startTime = time.Now()
	}
	r.pointCount++
	if r.catalog.NameAt(&r.point) != "" {
		r.featureCount++
	}
	if r.havePrev {
		r.distance += Distance(&r.prev, &r.point)
	}
	r.prev = r.point
	r.havePrev = true
	r.call.StartRead(&r.point)
}

func (r *recordRouteReactor) finish() {
	summary := &routewire.RouteSummary{
		PointCount:   r.pointCount,
		FeatureCount: r.featureCount,
		Distance:     int32(r.distance),
	}
	if r.pointCount > 0 {
		summary.ElapsedTime = int32(time.Since(r.startTime) / time.Second)
	}
	r.call.FinishWithResponse(summary, cqrpc.StatusOK)
}

func (r *recordRouteReactor) OnDone() {}

// routeChatReactor handles one chat session. For each incoming note it
// snapshots the board's matches under the lock, emits them with no lock
// held, appends the incoming note, then posts the next read. Reads and
// writes therefore alternate; the sender never sees its own note.
type routeChatReactor struct {
	call  *cqrpc.ServerCall
	board *NoteBoard

	in  routewire.RouteNote
	out routewire.RouteNote

	echoes     []routewire.RouteNote
	echoIdx    int
	writing    bool
	pending    routewire.RouteNote
	hasPending bool
	halfClosed bool
}

func (svc *Service) startRouteChat(call *cqrpc.ServerCall) cqrpc.ServerBidiReactor {
	r := &routeChatReactor{call: call, board: svc.board}
	call.StartRead(&r.in)
	return r
}

func (r *routeChatReactor) OnReadDone(ok bool) {
	if !ok {
		r.halfClosed = true
		if !r.writing {
			r.call.Finish(cqrpc.StatusOK)
		}
		return
	}
	// The read buffer is reused; keep an owned copy for the board.
	incoming := routewire.RouteNote{Message: r.in.Message}
	if r.in.Location != nil {
		loc := *r.in.Location
		incoming.Location = &loc
	} else {
		incoming.Location = &routewire.Point{}
	}
	r.pending = incoming
	r.hasPending = true

	r.echoes = r.board.MatchesAt(incoming.Location)
	r.echoIdx = 0
	if len(r.echoes) > 0 {
		r.writing = true
		r.out = r.echoes[0]
		r.call.StartWrite(&r.out)
		return
	}
	r.appendAndContinue()
}

func (r *routeChatReactor) OnWriteDone(ok bool) {
	if !ok {
		r.writing = false
		return
	}
	r.echoIdx++
	if r.echoIdx < len(r.echoes) {
		r.out = r.echoes[r.echoIdx]
		r.call.StartWrite(&r.out)
		return
	}
	r.writing = false
	r.echoes = nil
	r.appendAndContinue()
}

func (r *routeChatReactor) appendAndContinue() {
	if r.hasPending {
		r.board.Append(r.pending)
		r.hasPending = false
	}
	if r.halfClosed {
		r.call.Finish(cqrpc.StatusOK)
		return
	}
	r.call.StartRead(&r.in)
}

func (r *routeChatReactor) OnDone() {}
