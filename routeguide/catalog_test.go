// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routeguide

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpoint-labs/routeguide/routewire"
)

const testDB = `[
  {"location": {"latitude": 100000000, "longitude": 100000000}, "name": "A"},
  {"location": {"latitude": 200000000, "longitude": 200000000}, "name": "B"},
  {"location": {"latitude": 300000000, "longitude": 300000000}, "name": ""}
]`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := ParseCatalog([]byte(testDB))
	require.NoError(t, err)
	return c
}

// TestParseCatalog checks record count, order, and coordinates.
func TestParseCatalog(t *testing.T) {
	c := testCatalog(t)
	require.Equal(t, 3, c.Len())
	assert.Equal(t, "A", c.Feature(0).Name)
	assert.Equal(t, int32(200000000), c.Feature(1).Location.Latitude)
	assert.Equal(t, "", c.Feature(2).Name)
}

// TestParseCatalogMalformed verifies bad input yields a CatalogError.
func TestParseCatalogMalformed(t *testing.T) {
	_, err := ParseCatalog([]byte(`{"not": "an array"`))
	var ce *CatalogError
	require.ErrorAs(t, err, &ce)
}

// TestLoadCatalog covers the file path, including a missing file.
func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte(testDB), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	var ce *CatalogError
	require.ErrorAs(t, err, &ce)
}

// TestNameAt verifies the exact-match lookup returns non-empty iff a
// named feature sits exactly at the point.
func TestNameAt(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, "A", c.NameAt(&routewire.Point{Latitude: 100000000, Longitude: 100000000}))
	assert.Equal(t, "B", c.NameAt(&routewire.Point{Latitude: 200000000, Longitude: 200000000}))
	assert.Equal(t, "", c.NameAt(&routewire.Point{Latitude: 300000000, Longitude: 300000000}))
	assert.Equal(t, "", c.NameAt(&routewire.Point{Latitude: 100000001, Longitude: 100000000}))
}

// TestScan verifies bounding-box scans return exactly the contained
// features, in catalog order, with inclusive edges.
func TestScan(t *testing.T) {
	c := testCatalog(t)

	collect := func(r *routewire.Rectangle) []string {
		var names []string
		cur := c.Scan(r)
		for f := cur.Next(); f != nil; f = cur.Next() {
			names = append(names, f.Name)
		}
		return names
	}

	rect := &routewire.Rectangle{
		Lo: &routewire.Point{Latitude: 50000000, Longitude: 50000000},
		Hi: &routewire.Point{Latitude: 250000000, Longitude: 250000000},
	}
	assert.Equal(t, []string{"A", "B"}, collect(rect))

	// Swapped corners normalize to the same box.
	swapped := &routewire.Rectangle{Lo: rect.Hi, Hi: rect.Lo}
	assert.Equal(t, []string{"A", "B"}, collect(swapped))

	// Inclusive edge: a feature exactly on the boundary is inside.
	edge := &routewire.Rectangle{
		Lo: &routewire.Point{Latitude: 100000000, Longitude: 100000000},
		Hi: &routewire.Point{Latitude: 100000000, Longitude: 100000000},
	}
	assert.Equal(t, []string{"A"}, collect(edge))

	// Empty box yields an empty scan.
	empty := &routewire.Rectangle{
		Lo: &routewire.Point{Latitude: 1, Longitude: 1},
		Hi: &routewire.Point{Latitude: 2, Longitude: 2},
	}
	assert.Empty(t, collect(empty))
}

// TestSerializeRoundTrip checks parse(serialize(c)) reproduces the
// catalog.
func TestSerializeRoundTrip(t *testing.T) {
	c := testCatalog(t)
	data, err := c.Serialize()
	require.NoError(t, err)

	again, err := ParseCatalog(data)
	require.NoError(t, err)
	require.Equal(t, c.Len(), again.Len())
	for i := 0; i < c.Len(); i++ {
		assert.Equal(t, c.Feature(i).Name, again.Feature(i).Name)
		assert.True(t, c.Feature(i).Location.Equal(again.Feature(i).Location))
	}
}
