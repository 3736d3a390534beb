// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routeguide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpoint-labs/routeguide/cqrpc"
	"github.com/gridpoint-labs/routeguide/routewire"
)

// startService serves svc on a loopback port and returns a connected
// channel.
func startService(t *testing.T, svc *Service) *cqrpc.Channel {
	t.Helper()
	server := cqrpc.NewServer()
	svc.Register(server)
	require.NoError(t, server.Listen("127.0.0.1:0"))
	go func() {
		if err := server.Serve(); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(server.Stop)

	ch, err := cqrpc.Dial(server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	return ch
}

func feature(name string, lat, lon int32) routewire.Feature {
	return routewire.Feature{
		Name:     name,
		Location: &routewire.Point{Latitude: lat, Longitude: lon},
	}
}

// TestGetFeature covers a hit, an anonymous location, and the echoed
// coordinates.
func TestGetFeature(t *testing.T) {
	svc := NewService(NewCatalog([]routewire.Feature{feature("A", 10, 10)}))
	ch := startService(t, svc)

	f, err := GetFeature(ch, &routewire.Point{Latitude: 10, Longitude: 10})
	require.NoError(t, err)
	assert.Equal(t, "A", f.Name)
	assert.True(t, f.Location.Equal(&routewire.Point{Latitude: 10, Longitude: 10}))

	f, err = GetFeature(ch, &routewire.Point{Latitude: 99, Longitude: 99})
	require.NoError(t, err)
	assert.Equal(t, "", f.Name)
	assert.True(t, f.Location.Equal(&routewire.Point{Latitude: 99, Longitude: 99}))
}

// TestGetFeatureIncomplete verifies a response without a location is
// reported as a failed lookup.
func TestGetFeatureIncomplete(t *testing.T) {
	server := cqrpc.NewServer()
	cqrpc.RegisterUnary(server, MethodGetFeature, func(p *routewire.Point) (*routewire.Feature, error) {
		return &routewire.Feature{Name: "headless"}, nil
	})
	require.NoError(t, server.Listen("127.0.0.1:0"))
	go func() { _ = server.Serve() }()
	t.Cleanup(server.Stop)
	ch, err := cqrpc.Dial(server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(ch.Close)

	_, err = GetFeature(ch, &routewire.Point{})
	assert.ErrorIs(t, err, ErrIncompleteFeature)
}

// TestListFeatures streams the features inside a box and nothing else.
func TestListFeatures(t *testing.T) {
	svc := NewService(NewCatalog([]routewire.Feature{
		feature("A", 10, 10),
		feature("B", 20, 20),
		feature("", 30, 30),
	}))
	ch := startService(t, svc)

	rect := &routewire.Rectangle{
		Lo: &routewire.Point{Latitude: 5, Longitude: 5},
		Hi: &routewire.Point{Latitude: 25, Longitude: 25},
	}
	var names []string
	require.NoError(t, ListFeatures(ch, rect, func(f *routewire.Feature) {
		names = append(names, f.Name)
	}))
	assert.Equal(t, []string{"A", "B"}, names)
}

// TestListFeaturesEmpty verifies an empty box yields an empty stream
// and an OK status.
func TestListFeaturesEmpty(t *testing.T) {
	svc := NewService(NewCatalog([]routewire.Feature{feature("A", 10, 10)}))
	ch := startService(t, svc)

	rect := &routewire.Rectangle{
		Lo: &routewire.Point{Latitude: 1000, Longitude: 1000},
		Hi: &routewire.Point{Latitude: 2000, Longitude: 2000},
	}
	count := 0
	require.NoError(t, ListFeatures(ch, rect, func(*routewire.Feature) { count++ }))
	assert.Zero(t, count)
}

// TestRecordRoute sends a three-point route over an empty catalog: two
// equator degree-hops of about 111.195 km each, no feature hits.
func TestRecordRoute(t *testing.T) {
	svc := NewService(NewCatalog(nil))
	ch := startService(t, svc)

	points := []routewire.Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 10000000},
		{Latitude: 0, Longitude: 0},
	}
	summary, err := RecordRoute(ch, points)
	require.NoError(t, err)
	assert.Equal(t, int32(3), summary.PointCount)
	assert.Equal(t, int32(0), summary.FeatureCount)
	assert.InDelta(t, 2*111195, summary.Distance, 100)
	assert.GreaterOrEqual(t, summary.ElapsedTime, int32(0))
}

// TestRecordRouteEmpty covers the zero-point stream.
func TestRecordRouteEmpty(t *testing.T) {
	svc := NewService(NewCatalog(nil))
	ch := startService(t, svc)

	summary, err := RecordRoute(ch, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), summary.PointCount)
	assert.Equal(t, int32(0), summary.Distance)
}

// TestRecordRouteFeatureCount counts points that coincide with cataloged
// features.
func TestRecordRouteFeatureCount(t *testing.T) {
	svc := NewService(NewCatalog([]routewire.Feature{feature("A", 10, 10)}))
	ch := startService(t, svc)

	points := []routewire.Point{
		{Latitude: 10, Longitude: 10},
		{Latitude: 20, Longitude: 20},
		{Latitude: 10, Longitude: 10},
	}
	summary, err := RecordRoute(ch, points)
	require.NoError(t, err)
	assert.Equal(t, int32(3), summary.PointCount)
	assert.Equal(t, int32(2), summary.FeatureCount)
}

// TestRouteChat runs three sequential sessions against one board: each
// session receives exactly the earlier notes at its own locations and
// never its own.
func TestRouteChat(t *testing.T) {
	svc := NewService(NewCatalog(nil))
	ch := startService(t, svc)

	received, err := RouteChat(ch, []routewire.RouteNote{note("m1", 0, 0)})
	require.NoError(t, err)
	assert.Empty(t, received)
	assert.Equal(t, 1, svc.Board().Len())

	received, err = RouteChat(ch, []routewire.RouteNote{note("m2", 0, 0)})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "m1", received[0].Message)
	assert.Equal(t, 2, svc.Board().Len())

	received, err = RouteChat(ch, []routewire.RouteNote{note("m3", 1, 1)})
	require.NoError(t, err)
	assert.Empty(t, received)
	assert.Equal(t, 3, svc.Board().Len())
}

// TestRouteChatEchoOrder verifies echoes arrive in board append order
// and a session sees earlier notes from its own stream too.
func TestRouteChatEchoOrder(t *testing.T) {
	svc := NewService(NewCatalog(nil))
	ch := startService(t, svc)

	_, err := RouteChat(ch, []routewire.RouteNote{note("m1", 0, 0), note("m2", 0, 0)})
	require.NoError(t, err)

	received, err := RouteChat(ch, []routewire.RouteNote{note("m3", 0, 0)})
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, "m1", received[0].Message)
	assert.Equal(t, "m2", received[1].Message)
}

// TestRouteChatCanonicalNotes replays the demo note set: only the
// fourth note shares a location with an earlier one.
func TestRouteChatCanonicalNotes(t *testing.T) {
	svc := NewService(NewCatalog(nil))
	ch := startService(t, svc)

	received, err := RouteChat(ch, ChatNotes())
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "First message", received[0].Message)
}
