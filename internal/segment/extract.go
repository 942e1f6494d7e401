package segment

import (
	"sort"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"gtfs-segments/internal/geometry"
	"gtfs-segments/internal/gtfs"
	"gtfs-segments/internal/orderedset"
)

// DefaultWindowedThreshold is the shape size from which stop projection
// switches to the windowed search.
const DefaultWindowedThreshold = 10000

type Options struct {
	// WindowedThreshold enables windowed projection for shapes with at least
	// this many points. Zero or less disables it.
	WindowedThreshold int
	// Densify interpolates shape points DensifyStepMeters apart before
	// projection. Meant for sparse shapes such as long-haul rail.
	Densify           bool
	DensifyStepMeters float64
}

// Stats counts what one extraction did.
type Stats struct {
	Trips           int
	ShortTrips      int // fewer than two stop times
	SyntheticShapes int
	Built           int
	Repaired        int
	Reused          int
	Degenerate      int
	NegativeSeconds int
	BadTimes        int
	KeysWritten     int
}

type Result struct {
	Document *Document
	// RouteStations lists, per route, the canonical stops its trips visit,
	// sorted.
	RouteStations map[string][]string
	Stats         Stats
}

type tripShape struct {
	trip   *gtfs.Trip
	line   orb.LineString
	points int // detail used for ordering, -1 when synthesized
}

// Extract builds the segment document for a loaded feed. It runs on a single
// goroutine: trips are visited in descending shape detail and the first
// trip to reach a stop pair or route key owns it.
func Extract(feed *gtfs.Feed, opts Options, logger *zap.Logger) *Result {
	doc := NewDocument()
	keys := &keyResolver{dict: doc.SegmentKeyDict}
	routeStations := map[string]*orderedset.Set[string]{}
	var routeOrder []string
	var stats Stats

	ordered := resolveShapes(feed, opts, &stats, logger)
	for _, ts := range ordered {
		stats.Trips++
		trip := ts.trip

		set, ok := routeStations[trip.RouteID]
		if !ok {
			set = orderedset.New[string]()
			routeStations[trip.RouteID] = set
			routeOrder = append(routeOrder, trip.RouteID)
		}

		sts := trip.StopTimes
		stops := make([]*gtfs.Stop, len(sts))
		for i, st := range sts {
			stops[i] = feed.Stops[st.StopID]
			set.Add(stops[i].CanonicalID)
		}
		if len(sts) < 2 {
			stats.ShortTrips++
			continue
		}

		windowed := opts.WindowedThreshold > 0 && len(ts.line) >= opts.WindowedThreshold
		proj := geometry.NewProjector(ts.line, windowed)
		idx := make([]int, len(sts))
		for i, s := range stops {
			idx[i] = proj.Project(s.Point())
		}

		for i := 0; i < len(sts)-1; i++ {
			start, end := stops[i], stops[i+1]
			key := Key(start.CanonicalID, end.CanonicalID)
			afterNext := ""
			if i+2 < len(sts) {
				afterNext = stops[i+2].CanonicalID
			}
			if keys.record(trip.RouteID, end.CanonicalID, afterNext, key) {
				stats.KeysWritten++
			}

			existing, seen := doc.Segments[key]
			if seen && existing.Meters != 0 {
				stats.Reused++
				continue
			}

			seg := build(ts.line, idx[i], idx[i+1], start, end, &stats)
			seg.Seconds = elapsed(trip, sts[i], sts[i+1], key, &stats, logger)
			if seen {
				stats.Repaired++
			} else {
				stats.Built++
			}
			doc.Segments[key] = seg
		}
	}

	stations := make(map[string][]string, len(routeOrder))
	for _, r := range routeOrder {
		ids := routeStations[r].Values()
		sort.Strings(ids)
		stations[r] = ids
	}

	logger.Info("segments extracted",
		zap.Int("trips", stats.Trips),
		zap.Int("segments", len(doc.Segments)),
		zap.Int("keys", len(doc.SegmentKeyDict)),
		zap.Int("built", stats.Built),
		zap.Int("repaired", stats.Repaired),
		zap.Int("reused", stats.Reused),
		zap.Int("degenerate", stats.Degenerate),
		zap.Int("synthetic_shapes", stats.SyntheticShapes),
	)
	if stats.NegativeSeconds > 0 {
		logger.Warn("segments with negative elapsed time", zap.Int("count", stats.NegativeSeconds))
	}
	if stats.BadTimes > 0 {
		logger.Warn("segments with unparseable times, seconds set to 0", zap.Int("count", stats.BadTimes))
	}

	return &Result{Document: doc, RouteStations: stations, Stats: stats}
}

// resolveShapes picks the polyline for every trip and returns the trips in
// processing order: most shape points first, synthesized shapes last, ties
// in trip-file order.
func resolveShapes(feed *gtfs.Feed, opts Options, stats *Stats, logger *zap.Logger) []tripShape {
	dense := map[string]orb.LineString{}
	out := make([]tripShape, 0, len(feed.Trips))
	unknown := 0

	for _, trip := range feed.Trips {
		shape, ok := feed.Shapes[trip.ShapeID]
		if trip.ShapeID != "" && !ok {
			unknown++
			logger.Debug("trip references unknown shape", zap.String("trip", trip.ID), zap.String("shape", trip.ShapeID))
		}
		if !ok || len(shape) < 2 {
			out = append(out, tripShape{trip: trip, line: synthesize(feed, trip), points: -1})
			stats.SyntheticShapes++
			continue
		}

		line := shape
		if opts.Densify && opts.DensifyStepMeters > 0 {
			d, done := dense[trip.ShapeID]
			if !done {
				d = geometry.Densify(shape, opts.DensifyStepMeters)
				dense[trip.ShapeID] = d
			}
			line = d
		}
		out = append(out, tripShape{trip: trip, line: line, points: len(shape)})
	}

	if unknown > 0 {
		logger.Info("trips with unknown shape use stop coordinates", zap.Int("trips", unknown))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].points > out[j].points })
	return out
}

// synthesize draws a trip's shape through its own stops.
func synthesize(feed *gtfs.Feed, trip *gtfs.Trip) orb.LineString {
	line := make(orb.LineString, 0, len(trip.StopTimes))
	for _, st := range trip.StopTimes {
		line = append(line, feed.Stops[st.StopID].Point())
	}
	return line
}

func build(line orb.LineString, i, j int, start, end *gtfs.Stop, stats *Stats) *Segment {
	slice := geometry.Slice(line, i, j)
	meters := geometry.Length(slice)
	if len(slice) < 2 || meters == 0 {
		stats.Degenerate++
		slice = orb.LineString{start.Point(), end.Point()}
		meters = geometry.Length(slice)
	}
	return &Segment{Meters: meters, Shape: coords(slice)}
}

func elapsed(trip *gtfs.Trip, from, to gtfs.StopTime, key string, stats *Stats, logger *zap.Logger) int {
	secs, err := gtfs.ElapsedSeconds(from, to)
	if err != nil {
		stats.BadTimes++
		logger.Debug("unparseable stop time",
			zap.String("trip", trip.ID), zap.String("segment", key), zap.Error(err))
		return 0
	}
	if secs < 0 {
		stats.NegativeSeconds++
		logger.Debug("negative elapsed time",
			zap.String("trip", trip.ID), zap.String("segment", key), zap.Int("seconds", secs))
	}
	return secs
}
