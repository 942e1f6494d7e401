package gtfs

import "github.com/paulmach/orb"

// Row types mirror the columns of the feed tables. Values are kept as raw
// strings so a single malformed cell drops one row instead of the whole table.

type RouteRow struct {
	RouteID        string `csv:"route_id"`
	RouteShortName string `csv:"route_short_name"`
}

type ShapeRow struct {
	ShapeID  string `csv:"shape_id"`
	Lat      string `csv:"shape_pt_lat"`
	Lon      string `csv:"shape_pt_lon"`
	Sequence string `csv:"shape_pt_sequence"`
}

type TripRow struct {
	TripID  string `csv:"trip_id"`
	RouteID string `csv:"route_id"`
	ShapeID string `csv:"shape_id"`
}

type StopRow struct {
	StopID        string `csv:"stop_id"`
	Name          string `csv:"stop_name"`
	Lat           string `csv:"stop_lat"`
	Lon           string `csv:"stop_lon"`
	ParentStation string `csv:"parent_station"`
}

type StopTimeRow struct {
	TripID        string `csv:"trip_id"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	StopID        string `csv:"stop_id"`
	StopSequence  string `csv:"stop_sequence"`
}

type Trip struct {
	ID      string
	RouteID string
	ShapeID string // empty when the feed gives no shape

	// StopTimes is filled by LoadStopTimes, ordered by Sequence.
	StopTimes []StopTime
}

type StopTime struct {
	StopID        string // raw, not canonicalized
	ArrivalTime   string
	DepartureTime string
	Sequence      int
}

type Stop struct {
	ID            string
	Name          string
	Lat           float64
	Lon           float64
	ParentStation string
	CanonicalID   string
}

// Point returns the stop location as a lon/lat point.
func (s *Stop) Point() orb.Point { return orb.Point{s.Lon, s.Lat} }

// Dropped counts rows discarded while loading a feed, by reason.
type Dropped struct {
	BadShapePoints int
	UnknownRoute   int
	DuplicateTrips int
	BadStops       int
	UnknownTrip    int
	UnknownStop    int
	BadSequence    int
}

// Reasons returns the non-zero counters keyed by a stable label.
func (d Dropped) Reasons() map[string]int {
	out := map[string]int{}
	add := func(k string, v int) {
		if v > 0 {
			out[k] = v
		}
	}
	add("bad_shape_point", d.BadShapePoints)
	add("unknown_route", d.UnknownRoute)
	add("duplicate_trip", d.DuplicateTrips)
	add("bad_stop", d.BadStops)
	add("unknown_trip", d.UnknownTrip)
	add("unknown_stop", d.UnknownStop)
	add("bad_sequence", d.BadSequence)
	return out
}

// Feed holds every table of one feed for the duration of one extraction run.
type Feed struct {
	Name   string
	Routes *RouteTable
	Shapes map[string]orb.LineString
	// Trips is in trip-file order.
	Trips     []*Trip
	TripsByID map[string]*Trip
	Stops     map[string]*Stop

	Dropped Dropped
}
