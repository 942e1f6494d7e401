package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/simplify"
)

// SimplifyTolerance is the Douglas-Peucker threshold, in degrees, used for
// display exports.
const SimplifyTolerance = 0.00001

// Slice returns the vertices of line between indices i and j inclusive, as a
// new line. Indices are clamped to the line. When i > j the vertices are
// returned in reverse so the result still runs from i to j.
func Slice(line orb.LineString, i, j int) orb.LineString {
	if len(line) == 0 {
		return nil
	}
	i = clamp(i, 0, len(line)-1)
	j = clamp(j, 0, len(line)-1)
	if i <= j {
		return line[i : j+1].Clone()
	}
	out := make(orb.LineString, 0, i-j+1)
	for k := i; k >= j; k-- {
		out = append(out, line[k])
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Length is the geodesic length of line in meters.
func Length(line orb.LineString) float64 {
	if len(line) < 2 {
		return 0
	}
	return geo.Length(line)
}

// Densify inserts linearly interpolated vertices so that no edge is longer
// than stepMeters. An edge of length d gets ceil(d/step)-1 new vertices,
// evenly spaced. Original vertices are kept.
func Densify(line orb.LineString, stepMeters float64) orb.LineString {
	if len(line) < 2 || stepMeters <= 0 {
		return line.Clone()
	}
	out := make(orb.LineString, 0, len(line))
	out = append(out, line[0])
	for k := 1; k < len(line); k++ {
		a, b := line[k-1], line[k]
		n := int(math.Ceil(geo.Distance(a, b) / stepMeters))
		for s := 1; s < n; s++ {
			f := float64(s) / float64(n)
			out = append(out, orb.Point{
				a[0] + (b[0]-a[0])*f,
				a[1] + (b[1]-a[1])*f,
			})
		}
		out = append(out, b)
	}
	return out
}

// Simplify returns a Douglas-Peucker simplified copy of line.
func Simplify(line orb.LineString, tolerance float64) orb.LineString {
	if len(line) < 3 {
		return line.Clone()
	}
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(line.Clone()).(orb.LineString)
	if !ok {
		return line.Clone()
	}
	return simplified
}
