// Package geometry holds the polyline primitives used to cut route shapes into
// stop-to-stop segments. Points are orb.Point values in lon/lat order.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
)

const earthRadius = 6371000.0

// dist2 is the squared equirectangular distance in meters between p and q,
// scaled at p's latitude. It only orders candidates; it is not a length.
func dist2(p, q orb.Point, cosLat float64) float64 {
	x := (q[0] - p[0]) * math.Pi / 180 * earthRadius * cosLat
	y := (q[1] - p[1]) * math.Pi / 180 * earthRadius
	return x*x + y*y
}

// NearestIndex returns the index of the vertex of line closest to p, or -1 for
// an empty line. Ties go to the lowest index.
func NearestIndex(line orb.LineString, p orb.Point) int {
	return nearestFrom(line, p, 0)
}

func nearestFrom(line orb.LineString, p orb.Point, from int) int {
	if from >= len(line) {
		return -1
	}
	cosLat := math.Cos(p[1] * math.Pi / 180)
	best := -1
	bestD := math.MaxFloat64
	for i := from; i < len(line); i++ {
		if d := dist2(p, line[i], cosLat); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// ForwardSnapMeters is how far off the shape a stop may sit and still be
// placed ahead of the previous stop rather than at a closer vertex behind it.
const ForwardSnapMeters = 100.0

// Projector snaps the stops of one trip onto its shape, in visiting order.
//
// Stops are placed at the nearest vertex at or after the previous stop's
// index when that vertex is within ForwardSnapMeters. Otherwise the nearest
// vertex on the whole shape wins, so a stop that really lies behind its
// predecessor still moves back. A loop's terminal, which sits on both the
// first and the last vertex, therefore lands on the last one.
//
// Both modes return the same indices. Windowed mode only scans the shape
// from the previous index onward unless the stop is far from that part of
// the shape, which keeps long shapes cheap. Global mode always scans the
// whole shape.
type Projector struct {
	line     orb.LineString
	windowed bool
	from     int
}

func NewProjector(line orb.LineString, windowed bool) *Projector {
	return &Projector{line: line, windowed: windowed}
}

// Project returns the shape index for p, or -1 for an empty shape.
func (pr *Projector) Project(p orb.Point) int {
	if len(pr.line) == 0 {
		return -1
	}
	cosLat := math.Cos(p[1] * math.Pi / 180)
	limit := ForwardSnapMeters * ForwardSnapMeters

	var idx int
	if pr.windowed {
		idx = nearestFrom(pr.line, p, pr.from)
		if d := dist2(p, pr.line[idx], cosLat); d > limit {
			if best := NearestIndex(pr.line, p); dist2(p, pr.line[best], cosLat) < d {
				idx = best
			}
		}
	} else {
		idx = NearestIndex(pr.line, p)
		if idx < pr.from {
			fwd := nearestFrom(pr.line, p, pr.from)
			if d := dist2(p, pr.line[fwd], cosLat); d <= limit || d <= dist2(p, pr.line[idx], cosLat) {
				idx = fwd
			}
		}
	}
	pr.from = idx
	return idx
}
