package gtfs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// RouteTable is the set of known route ids. A table loaded from no rows
// accepts every route id, since some feeds ship without routes.txt.
type RouteTable struct {
	ids    map[string]struct{}
	rename map[string]string
}

// LoadRoutes builds the route set. With useShortName, route ids are replaced by
// their short names wherever a short name exists.
func LoadRoutes(rows []*RouteRow, useShortName bool) *RouteTable {
	rt := &RouteTable{}
	if len(rows) == 0 {
		return rt
	}
	rt.ids = make(map[string]struct{}, len(rows))
	rt.rename = map[string]string{}
	for _, row := range rows {
		id := row.RouteID
		if useShortName && row.RouteShortName != "" {
			rt.rename[row.RouteID] = row.RouteShortName
			id = row.RouteShortName
		}
		rt.ids[id] = struct{}{}
	}
	return rt
}

// Resolve maps a trip's route id to the id used in output, reporting whether
// the route is known.
func (rt *RouteTable) Resolve(routeID string) (string, bool) {
	if rt == nil || rt.ids == nil {
		return routeID, true
	}
	if renamed, ok := rt.rename[routeID]; ok {
		routeID = renamed
	}
	_, ok := rt.ids[routeID]
	return routeID, ok
}

// Len returns the number of known routes, or zero when unfiltered.
func (rt *RouteTable) Len() int {
	if rt == nil {
		return 0
	}
	return len(rt.ids)
}

// parseFloat reads a numeric cell. Padding is tolerated even when the feed is
// not trimmed.
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// LoadShapes groups shape points by shape id, ordered by point sequence. Rows
// with unparseable coordinates or sequence are dropped and counted.
func LoadShapes(rows []*ShapeRow) (map[string]orb.LineString, int) {
	type seqPoint struct {
		pt  orb.Point
		seq int
	}
	grouped := map[string][]seqPoint{}
	dropped := 0
	for _, row := range rows {
		lat, err1 := parseFloat(row.Lat)
		lon, err2 := parseFloat(row.Lon)
		seq, err3 := strconv.Atoi(strings.TrimSpace(row.Sequence))
		if err1 != nil || err2 != nil || err3 != nil || row.ShapeID == "" {
			dropped++
			continue
		}
		grouped[row.ShapeID] = append(grouped[row.ShapeID], seqPoint{orb.Point{lon, lat}, seq})
	}

	shapes := make(map[string]orb.LineString, len(grouped))
	for id, pts := range grouped {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].seq < pts[j].seq })
		line := make(orb.LineString, len(pts))
		for i, p := range pts {
			line[i] = p.pt
		}
		shapes[id] = line
	}
	return shapes, dropped
}

// LoadTrips returns trips in file order. Trips on routes absent from routes are
// dropped, as are repeated trip ids (first row wins).
func LoadTrips(rows []*TripRow, routes *RouteTable) (trips []*Trip, byID map[string]*Trip, dropped Dropped) {
	byID = make(map[string]*Trip, len(rows))
	for _, row := range rows {
		routeID, ok := routes.Resolve(row.RouteID)
		if !ok {
			dropped.UnknownRoute++
			continue
		}
		if _, dup := byID[row.TripID]; dup {
			dropped.DuplicateTrips++
			continue
		}
		t := &Trip{
			ID:      row.TripID,
			RouteID: routeID,
			ShapeID: row.ShapeID,
		}
		trips = append(trips, t)
		byID[t.ID] = t
	}
	return trips, byID, dropped
}

// CanonicalID returns the parent station id when present, else the stop id.
// Hierarchies are assumed to be one level deep.
func CanonicalID(s *Stop) string {
	if s.ParentStation != "" {
		return s.ParentStation
	}
	return s.ID
}

// LoadStops indexes stops by id and resolves each stop's canonical id once.
func LoadStops(rows []*StopRow) (map[string]*Stop, int) {
	stops := make(map[string]*Stop, len(rows))
	dropped := 0
	for _, row := range rows {
		lat, err1 := parseFloat(row.Lat)
		lon, err2 := parseFloat(row.Lon)
		if err1 != nil || err2 != nil || row.StopID == "" {
			dropped++
			continue
		}
		s := &Stop{
			ID:            row.StopID,
			Name:          row.Name,
			Lat:           lat,
			Lon:           lon,
			ParentStation: row.ParentStation,
		}
		s.CanonicalID = CanonicalID(s)
		stops[s.ID] = s
	}
	return stops, dropped
}

// LoadStopTimes attaches stop times to their trips, sorted by stop sequence.
// Rows naming an unknown trip or stop are dropped.
func LoadStopTimes(rows []*StopTimeRow, trips map[string]*Trip, stops map[string]*Stop) Dropped {
	var dropped Dropped
	touched := map[*Trip]struct{}{}
	for _, row := range rows {
		t, ok := trips[row.TripID]
		if !ok {
			dropped.UnknownTrip++
			continue
		}
		if _, ok := stops[row.StopID]; !ok {
			dropped.UnknownStop++
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSpace(row.StopSequence))
		if err != nil {
			dropped.BadSequence++
			continue
		}
		t.StopTimes = append(t.StopTimes, StopTime{
			StopID:        row.StopID,
			ArrivalTime:   row.ArrivalTime,
			DepartureTime: row.DepartureTime,
			Sequence:      seq,
		})
		touched[t] = struct{}{}
	}
	for t := range touched {
		sts := t.StopTimes
		sort.SliceStable(sts, func(i, j int) bool { return sts[i].Sequence < sts[j].Sequence })
	}
	return dropped
}
