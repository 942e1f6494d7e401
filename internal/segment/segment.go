// Package segment cuts trip shapes into stop-to-stop segments and indexes
// them by route and upcoming stops.
package segment

import (
	"github.com/paulmach/orb"
)

// Segment is the path and schedule between two consecutive canonical stops.
type Segment struct {
	// Seconds is end arrival minus start departure. It can be negative when a
	// feed writes post-midnight times without 24+ hours.
	Seconds int          `json:"seconds"`
	Meters  float64      `json:"meters"`
	Shape   [][2]float64 `json:"shape"` // [lon, lat]
}

// Line returns the segment shape as an orb.LineString.
func (s *Segment) Line() orb.LineString {
	line := make(orb.LineString, len(s.Shape))
	for i, p := range s.Shape {
		line[i] = orb.Point(p)
	}
	return line
}

func coords(line orb.LineString) [][2]float64 {
	out := make([][2]float64, len(line))
	for i, p := range line {
		out[i] = [2]float64(p)
	}
	return out
}

// Key is the segment key of a canonical stop pair.
func Key(startID, endID string) string {
	return startID + "_" + endID
}

// Document is the per-feed output: segments by key plus the key resolver
// index. encoding/json writes both maps with sorted keys.
type Document struct {
	Segments       map[string]*Segment `json:"segments"`
	SegmentKeyDict map[string]string   `json:"segmentKeyDict"`
}

func NewDocument() *Document {
	return &Document{
		Segments:       map[string]*Segment{},
		SegmentKeyDict: map[string]string{},
	}
}

// Lookup finds the segment a vehicle on routeID is travelling when it is
// heading to next and will then go to afterNext. afterNext is empty at the
// last segment of a trip.
func (d *Document) Lookup(routeID, next, afterNext string) (string, *Segment, bool) {
	key, ok := d.SegmentKeyDict[DictKey(routeID, next, afterNext)]
	if !ok {
		return "", nil, false
	}
	seg, ok := d.Segments[key]
	return key, seg, ok
}
