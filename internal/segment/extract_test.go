package segment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gtfs-segments/internal/gtfs"
)

type stopTime struct {
	stop, arr, dep string
}

type fixture struct {
	shapes    []*gtfs.ShapeRow
	trips     []*gtfs.TripRow
	stops     []*gtfs.StopRow
	stopTimes []*gtfs.StopTimeRow
}

func (f *fixture) shape(id string, pts ...[2]float64) {
	for i, p := range pts {
		f.shapes = append(f.shapes, &gtfs.ShapeRow{
			ShapeID:  id,
			Lon:      ftoa(p[0]),
			Lat:      ftoa(p[1]),
			Sequence: itoa(i + 1),
		})
	}
}

func (f *fixture) stop(id, parent string, lon, lat float64) {
	f.stops = append(f.stops, &gtfs.StopRow{StopID: id, Lon: ftoa(lon), Lat: ftoa(lat), ParentStation: parent})
}

func (f *fixture) trip(id, route, shape string, sts ...stopTime) {
	f.trips = append(f.trips, &gtfs.TripRow{TripID: id, RouteID: route, ShapeID: shape})
	for i, st := range sts {
		f.stopTimes = append(f.stopTimes, &gtfs.StopTimeRow{
			TripID:        id,
			StopID:        st.stop,
			ArrivalTime:   st.arr,
			DepartureTime: st.dep,
			StopSequence:  itoa(i + 1),
		})
	}
}

func (f *fixture) feed() *gtfs.Feed {
	feed := &gtfs.Feed{Name: "test", Routes: gtfs.LoadRoutes(nil, false)}
	feed.Shapes, _ = gtfs.LoadShapes(f.shapes)
	feed.Trips, feed.TripsByID, _ = gtfs.LoadTrips(f.trips, feed.Routes)
	feed.Stops, _ = gtfs.LoadStops(f.stops)
	gtfs.LoadStopTimes(f.stopTimes, feed.TripsByID, feed.Stops)
	return feed
}

func ftoa(v float64) string { b, _ := json.Marshal(v); return string(b) }
func itoa(v int) string     { b, _ := json.Marshal(v); return string(b) }

var s1 = [][2]float64{
	{-71.05, 42.36},
	{-71.045, 42.365},
	{-71.04, 42.37},
	{-71.035, 42.375},
	{-71.03, 42.38},
}

func abcFixture() *fixture {
	f := &fixture{}
	f.shape("S1", s1...)
	f.stop("A", "", -71.05, 42.36)
	f.stop("B", "", -71.04, 42.37)
	f.stop("C", "", -71.03, 42.38)
	f.trip("T1", "R1", "S1",
		stopTime{"A", "", "08:00:00"},
		stopTime{"B", "08:05:00", "08:05:30"},
		stopTime{"C", "08:10:00", ""},
	)
	return f
}

func TestExtractCutsShapeBetweenStops(t *testing.T) {
	res := Extract(abcFixture().feed(), Options{}, zaptest.NewLogger(t))
	doc := res.Document

	require.Len(t, doc.Segments, 2)
	ab := doc.Segments["A_B"]
	bc := doc.Segments["B_C"]
	require.NotNil(t, ab)
	require.NotNil(t, bc)

	assert.Equal(t, 300, ab.Seconds)
	assert.Equal(t, 270, bc.Seconds)
	assert.Equal(t, s1[0:3], ab.Shape)
	assert.Equal(t, s1[2:5], bc.Shape)
	assert.Greater(t, ab.Meters, 1000.0)
	assert.Greater(t, bc.Meters, 1000.0)

	assert.Equal(t, map[string]string{
		"R1_B_C":         "A_B",
		"R1_C_undefined": "B_C",
	}, doc.SegmentKeyDict)

	assert.Equal(t, map[string][]string{"R1": {"A", "B", "C"}}, res.RouteStations)
	assert.Equal(t, 2, res.Stats.Built)
	assert.Equal(t, 2, res.Stats.KeysWritten)

	key, seg, ok := doc.Lookup("R1", "C", "")
	require.True(t, ok)
	assert.Equal(t, "B_C", key)
	assert.Same(t, bc, seg)
}

func TestExtractIsDeterministic(t *testing.T) {
	f := abcFixture()
	f.stop("D", "", -71.045, 42.3651)
	f.trip("T2", "R2", "",
		stopTime{"C", "09:00:00", "09:00:00"},
		stopTime{"D", "09:04:00", "09:04:00"},
		stopTime{"A", "09:09:00", "09:09:00"},
	)

	first, err := json.Marshal(Extract(f.feed(), Options{}, zaptest.NewLogger(t)).Document)
	require.NoError(t, err)
	second, err := json.Marshal(Extract(f.feed(), Options{}, zaptest.NewLogger(t)).Document)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestWindowedProjectionGivesSameDocument(t *testing.T) {
	feed := abcFixture().feed()
	global := Extract(feed, Options{}, zaptest.NewLogger(t))
	windowed := Extract(feed, Options{WindowedThreshold: 3}, zaptest.NewLogger(t))
	assert.Equal(t, global.Document, windowed.Document)
}

func loopFixture() *fixture {
	f := &fixture{}
	f.shape("L",
		[2]float64{0, 0}, [2]float64{0.005, 0}, [2]float64{0.01, 0},
		[2]float64{0.01, 0.005}, [2]float64{0.01, 0.01}, [2]float64{0.005, 0.005},
		[2]float64{0, 0},
	)
	f.stop("A", "", 0, 0)
	f.stop("B", "", 0.01, 0)
	f.stop("C", "", 0.01, 0.01)
	f.trip("T", "R", "L",
		stopTime{"A", "", "08:00:00"},
		stopTime{"B", "08:03:00", "08:03:00"},
		stopTime{"C", "08:06:00", "08:06:00"},
		stopTime{"A", "08:09:00", ""},
	)
	return f
}

func TestLoopClosesForward(t *testing.T) {
	feed := loopFixture().feed()
	global := Extract(feed, Options{}, zaptest.NewLogger(t))
	windowed := Extract(feed, Options{WindowedThreshold: 1}, zaptest.NewLogger(t))
	assert.Equal(t, global.Document, windowed.Document)

	ca := global.Document.Segments["C_A"]
	require.NotNil(t, ca)
	assert.Equal(t, [][2]float64{{0.01, 0.01}, {0.005, 0.005}, {0, 0}}, ca.Shape)
	assert.InDelta(t, 1574, ca.Meters, 2)
	assert.Equal(t, 180, ca.Seconds)
	assert.Equal(t, "C_A", global.Document.SegmentKeyDict["R_A_undefined"])
}

func TestStopBehindPredecessorReversesSlice(t *testing.T) {
	f := &fixture{}
	f.shape("S1", s1...)
	f.stop("A", "", -71.05, 42.36)
	f.stop("B", "", -71.04, 42.37)
	f.stop("C", "", -71.03, 42.38)
	f.trip("T", "R", "S1",
		stopTime{"A", "", "08:00:00"},
		stopTime{"C", "08:10:00", "08:10:00"},
		stopTime{"B", "08:15:00", ""},
	)

	feed := f.feed()
	global := Extract(feed, Options{}, zaptest.NewLogger(t))
	windowed := Extract(feed, Options{WindowedThreshold: 1}, zaptest.NewLogger(t))
	assert.Equal(t, global.Document, windowed.Document)

	assert.Equal(t, s1, global.Document.Segments["A_C"].Shape)
	assert.Equal(t, [][2]float64{s1[4], s1[3], s1[2]}, global.Document.Segments["C_B"].Shape)
	assert.Zero(t, global.Stats.Degenerate)
	assert.Equal(t, map[string][]string{"R": {"A", "B", "C"}}, global.RouteStations, "stations are sorted")
}

func TestMostDetailedShapeWins(t *testing.T) {
	f := abcFixture()
	// A sparser trip over the same stops, earlier in the file.
	f.shape("S0", s1[0], s1[4])
	f.trips = append([]*gtfs.TripRow{{TripID: "T0", RouteID: "R1", ShapeID: "S0"}}, f.trips...)
	for i, st := range []stopTime{{"A", "", "07:00:00"}, {"B", "07:09:00", "07:09:00"}, {"C", "07:20:00", ""}} {
		f.stopTimes = append(f.stopTimes, &gtfs.StopTimeRow{
			TripID: "T0", StopID: st.stop, ArrivalTime: st.arr, DepartureTime: st.dep, StopSequence: itoa(i + 1),
		})
	}

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	ab := res.Document.Segments["A_B"]
	assert.Equal(t, 300, ab.Seconds, "timing comes from the detailed trip")
	assert.Equal(t, s1[0:3], ab.Shape)
	assert.Equal(t, 2, res.Stats.Reused)
	assert.Equal(t, 2, res.Stats.Built)
}

func TestKeysRecordedForMemoizedSegments(t *testing.T) {
	f := abcFixture()
	f.trip("T2", "R2", "S1",
		stopTime{"A", "", "10:00:00"},
		stopTime{"B", "10:06:00", "10:06:00"},
		stopTime{"C", "10:12:00", ""},
	)

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Len(t, res.Document.Segments, 2)
	assert.Equal(t, "A_B", res.Document.SegmentKeyDict["R2_B_C"])
	assert.Equal(t, "B_C", res.Document.SegmentKeyDict["R2_C_undefined"])
	assert.Equal(t, 2, res.Stats.Reused)
	assert.Equal(t, 4, res.Stats.KeysWritten)
}

func TestKeyDictFirstWriterWins(t *testing.T) {
	f := abcFixture()
	f.stop("D", "", -71.06, 42.36)
	// Shorter shape than S1, so T1 is processed first.
	f.shape("S2", [2]float64{-71.06, 42.36}, s1[2], s1[4])
	f.trip("T2", "R1", "S2",
		stopTime{"D", "", "08:00:00"},
		stopTime{"B", "08:07:00", "08:07:00"},
		stopTime{"C", "08:12:00", ""},
	)

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Equal(t, "A_B", res.Document.SegmentKeyDict["R1_B_C"])
	assert.Contains(t, res.Document.Segments, "D_B")
}

func TestDegenerateSliceFallsBackToStraightLine(t *testing.T) {
	f := &fixture{}
	f.shape("S", [2]float64{0, 0}, [2]float64{1, 0})
	f.stop("P", "", 0.001, 0)
	f.stop("Q", "", 0.002, 0)
	f.trip("T", "R", "S",
		stopTime{"P", "", "12:00:00"},
		stopTime{"Q", "12:01:00", ""},
	)

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	seg := res.Document.Segments["P_Q"]
	require.NotNil(t, seg)
	assert.Equal(t, [][2]float64{{0.001, 0}, {0.002, 0}}, seg.Shape)
	assert.InDelta(t, 111, seg.Meters, 1)
	assert.Equal(t, 1, res.Stats.Degenerate)
}

func TestZeroLengthSegmentIsRepaired(t *testing.T) {
	f := &fixture{}
	f.shape("S", [2]float64{0, 0}, [2]float64{0.005, 0}, [2]float64{0.01, 0})
	f.stop("PA", "", 0, 0)
	f.stop("PB", "", 0.01, 0)
	f.stop("a1", "PA", 0, 0)
	f.stop("b1", "PB", 0, 0)
	f.stop("a2", "PA", 0, 0)
	f.stop("b2", "PB", 0.01, 0)
	// Detailed trip first: both platforms sit on vertex 0, giving zero meters.
	f.trip("T1", "R", "S",
		stopTime{"a1", "", "06:00:00"},
		stopTime{"b1", "06:02:00", ""},
	)
	f.trip("T2", "R", "",
		stopTime{"a2", "", "07:00:00"},
		stopTime{"b2", "07:03:00", ""},
	)

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	seg := res.Document.Segments["PA_PB"]
	require.NotNil(t, seg)
	assert.Equal(t, 180, seg.Seconds)
	assert.InDelta(t, 1113, seg.Meters, 2)
	assert.Equal(t, 1, res.Stats.Built)
	assert.Equal(t, 1, res.Stats.Repaired)
}

func TestNegativeSecondsArePreserved(t *testing.T) {
	f := abcFixture()
	f.stopTimes[0].DepartureTime = "23:59:00"
	f.stopTimes[1].ArrivalTime = "00:01:00"

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Equal(t, -86280, res.Document.Segments["A_B"].Seconds)
	assert.Equal(t, 1, res.Stats.NegativeSeconds)
}

func TestMissingTimesFallBack(t *testing.T) {
	f := abcFixture()
	f.stopTimes[0].ArrivalTime = "07:59:00"
	f.stopTimes[0].DepartureTime = ""
	f.stopTimes[2].ArrivalTime = ""
	f.stopTimes[2].DepartureTime = "08:11:00"

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Equal(t, 360, res.Document.Segments["A_B"].Seconds)
	assert.Equal(t, 330, res.Document.Segments["B_C"].Seconds)

	f.stopTimes[1].ArrivalTime = ""
	f.stopTimes[1].DepartureTime = "bogus"
	res = Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Equal(t, 0, res.Document.Segments["A_B"].Seconds)
	assert.Equal(t, 2, res.Stats.BadTimes)
}

func TestShapelessTripUsesStopCoordinates(t *testing.T) {
	f := abcFixture()
	f.trips[0].ShapeID = ""

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Equal(t, [][2]float64{s1[0], s1[2]}, res.Document.Segments["A_B"].Shape)
	assert.Equal(t, [][2]float64{s1[2], s1[4]}, res.Document.Segments["B_C"].Shape)
	assert.Equal(t, 1, res.Stats.SyntheticShapes)

	f.trips[0].ShapeID = "missing"
	res = Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Equal(t, 1, res.Stats.SyntheticShapes)
	assert.Len(t, res.Document.Segments, 2)
}

func TestParentStationsCollapseKeys(t *testing.T) {
	f := abcFixture()
	f.stops[1].ParentStation = "STATION"
	f.stop("STATION", "", -71.04, 42.37)

	res := Extract(f.feed(), Options{}, zaptest.NewLogger(t))
	assert.Contains(t, res.Document.Segments, "A_STATION")
	assert.Contains(t, res.Document.Segments, "STATION_C")
	assert.Equal(t, "A_STATION", res.Document.SegmentKeyDict["R1_STATION_C"])
}

func TestDensifiedShapeKeepsStopVertices(t *testing.T) {
	res := Extract(abcFixture().feed(), Options{Densify: true, DensifyStepMeters: 100}, zaptest.NewLogger(t))
	ab := res.Document.Segments["A_B"]
	require.NotNil(t, ab)
	assert.Greater(t, len(ab.Shape), 3)
	assert.Equal(t, s1[0], ab.Shape[0])
	assert.Equal(t, s1[2], ab.Shape[len(ab.Shape)-1])
}

func TestDocumentJSONShape(t *testing.T) {
	res := Extract(abcFixture().feed(), Options{}, zaptest.NewLogger(t))
	b, err := json.Marshal(res.Document)
	require.NoError(t, err)

	var raw map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Contains(t, raw, "segments")
	assert.Contains(t, raw, "segmentKeyDict")

	var seg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["segments"]["A_B"], &seg))
	assert.JSONEq(t, "300", string(seg["seconds"]))
	assert.Contains(t, seg, "meters")
	assert.Contains(t, seg, "shape")
}
