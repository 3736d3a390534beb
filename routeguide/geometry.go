// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package routeguide

import (
	"math"

	"github.com/gridpoint-labs/routeguide/routewire"
)

// earthRadiusM is the mean Earth radius in meters.
const earthRadiusM = 6371000

// pi is deliberately low precision to stay bit-compatible with peers
// that compute distances with the same literal.
const pi = 3.1415926

// coordScale converts 1e-7 degree fixed-point units to degrees.
const coordScale = 1e7

func radians(coord int32) float64 {
	return float64(coord) / coordScale * pi / 180
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b *routewire.Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	lon1 := radians(a.Longitude)
	lon2 := radians(b.Longitude)
	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
