// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

// Package routeguide implements the route guide service: a feature
// catalog with bounding-box queries, haversine route summaries, and a
// shared board of location-tagged notes, served over cqrpc on both the
// server and client side.
package routeguide

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gridpoint-labs/routeguide/routewire"
)

// CatalogError reports a malformed feature database. It is fatal at
// server start.
type CatalogError struct {
	Path string
	Err  error
}

func (e *CatalogError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parsing feature catalog: %v", e.Err)
	}
	return fmt.Sprintf("parsing feature catalog %s: %v", e.Path, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// catalogEntry is the JSON shape of one database record.
type catalogEntry struct {
	Location struct {
		Latitude  int32 `json:"latitude"`
		Longitude int32 `json:"longitude"`
	} `json:"location"`
	Name string `json:"name"`
}

// Catalog is the immutable, ordered feature collection loaded at server
// start. It is safe for concurrent readers.
type Catalog struct {
	features []routewire.Feature
}

// ParseCatalog decodes a JSON feature database: an array of
// {"location": {"latitude", "longitude"}, "name"} records.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &CatalogError{Err: err}
	}
	c := &Catalog{features: make([]routewire.Feature, len(entries))}
	for i, e := range entries {
		c.features[i] = routewire.Feature{
			Name: e.Name,
			Location: &routewire.Point{
				Latitude:  e.Location.Latitude,
				Longitude: e.Location.Longitude,
			},
		}
	}
	return c, nil
}

// LoadCatalog reads and parses the feature database at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CatalogError{Path: path, Err: err}
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, &CatalogError{Path: path, Err: err.(*CatalogError).Err}
	}
	return c, nil
}

// NewCatalog builds a catalog from an in-memory feature list. Intended
// for tests and embedded defaults; the features are copied.
func NewCatalog(features []routewire.Feature) *Catalog {
	c := &Catalog{features: make([]routewire.Feature, len(features))}
	copy(c.features, features)
	return c
}

// Len returns the number of cataloged features.
func (c *Catalog) Len() int { return len(c.features) }

// Feature returns the i'th feature in catalog order.
func (c *Catalog) Feature(i int) *routewire.Feature { return &c.features[i] }

// NameAt returns the name of the first feature located exactly at p, or
// the empty string if no feature is there.
func (c *Catalog) NameAt(p *routewire.Point) string {
	for i := range c.features {
		if c.features[i].Location.Equal(p) {
			return c.features[i].Name
		}
	}
	return ""
}

// Serialize renders the catalog back to its JSON database form.
// ParseCatalog(Serialize()) reproduces the catalog exactly.
func (c *Catalog) Serialize() ([]byte, error) {
	entries := make([]catalogEntry, len(c.features))
	for i, f := range c.features {
		entries[i].Name = f.Name
		entries[i].Location.Latitude = f.Location.Latitude
		entries[i].Location.Longitude = f.Location.Longitude
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, &CatalogError{Err: err}
	}
	return data, nil
}

// box is a normalized inclusive bounding box in 1e-7 degree units.
type box struct {
	left, right, bottom, top int32
}

func normalize(r *routewire.Rectangle) box {
	var lo, hi routewire.Point
	if r.Lo != nil {
		lo = *r.Lo
	}
	if r.Hi != nil {
		hi = *r.Hi
	}
	b := box{
		left:   min(lo.Longitude, hi.Longitude),
		right:  max(lo.Longitude, hi.Longitude),
		bottom: min(lo.Latitude, hi.Latitude),
		top:    max(lo.Latitude, hi.Latitude),
	}
	return b
}

func (b box) contains(p *routewire.Point) bool {
	return p.Longitude >= b.left && p.Longitude <= b.right &&
		p.Latitude >= b.bottom && p.Latitude <= b.top
}

// Cursor yields the features inside a rectangle, in catalog order. Write
// reactors advance it one feature per completed write.
type Cursor struct {
	catalog *Catalog
	bounds  box
	next    int
}

// Scan returns a cursor over the features whose location lies inside the
// normalized inclusive box of r.
func (c *Catalog) Scan(r *routewire.Rectangle) *Cursor {
	return &Cursor{catalog: c, bounds: normalize(r)}
}

// Next returns the next matching feature, or nil when the scan is done.
func (cur *Cursor) Next() *routewire.Feature {
	for cur.next < cur.catalog.Len() {
		f := cur.catalog.Feature(cur.next)
		cur.next++
		if cur.bounds.contains(f.Location) {
			return f
		}
	}
	return nil
}
