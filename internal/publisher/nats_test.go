package publisher

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"
	"go.uber.org/zap/zaptest"

	"gtfs-segments/internal/segment"
)

func TestEncodeShape(t *testing.T) {
	// Example from the encoded polyline algorithm documentation.
	shape := [][2]float64{{-120.2, 38.5}, {-120.95, 40.7}, {-126.453, 43.252}}
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", EncodeShape(shape))

	coords, rest, err := polyline.DecodeCoords([]byte(EncodeShape(shape)))
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, coords, 3)
	assert.InDelta(t, 38.5, coords[0][0], 1e-5)
	assert.InDelta(t, -120.2, coords[0][1], 1e-5)
}

func TestNewFeedMessage(t *testing.T) {
	doc := segment.NewDocument()
	doc.Segments["A_B"] = &segment.Segment{Seconds: 60, Meters: 10, Shape: [][2]float64{{-120.2, 38.5}, {-120.95, 40.7}}}
	doc.SegmentKeyDict["R_B_undefined"] = "A_B"
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CDT", -5*3600))

	msg := NewFeedMessage("cta", "run-1", doc, at)
	assert.Equal(t, "cta", msg.Feed)
	assert.Equal(t, 1, msg.Segments)
	assert.Equal(t, 1, msg.Keys)
	assert.Equal(t, time.UTC, msg.GeneratedAt.Location())
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC", msg.Shapes["A_B"])
}

func TestSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "segments", logger: zaptest.NewLogger(t)}
	assert.Equal(t, "segments.cta", p.Subject("cta"))
	assert.Equal(t, "segments.south_shore", p.Subject(" south.shore "))
	assert.Equal(t, "segments._", p.Subject(""))
	assert.Equal(t, "segments.cta.shapes.3", p.ShapesSubject("cta", 3))
}

func TestSplitShapesFitsMaxPayload(t *testing.T) {
	doc := segment.NewDocument()
	for i := 0; i < 500; i++ {
		lon := -87.6 + float64(i)*0.001
		doc.Segments[fmt.Sprintf("S%03d_S%03d", i, i+1)] = &segment.Segment{
			Shape: [][2]float64{{lon, 41.8}, {lon + 0.0005, 41.8005}, {lon + 0.001, 41.801}},
		}
	}
	msg := NewFeedMessage("cta", "run-1", doc, time.Now())
	full, err := json.Marshal(msg)
	require.NoError(t, err)

	const limit = 2048
	require.Greater(t, len(full), limit)

	summary, chunks, err := SplitShapes(msg, limit)
	require.NoError(t, err)
	assert.Nil(t, summary.Shapes)
	assert.Equal(t, len(chunks), summary.ShapeChunks)
	assert.Equal(t, 500, summary.Segments)
	require.Greater(t, len(chunks), 1)

	b, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"shapes"`)

	got := map[string]string{}
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, len(chunks), c.Total)
		assert.Equal(t, "run-1", c.RunID)
		cb, err := json.Marshal(c)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(cb), limit)
		for k, v := range c.Shapes {
			got[k] = v
		}
	}
	assert.Equal(t, msg.Shapes, got)
}

func TestSplitShapesKeepsOversizedShapeAlone(t *testing.T) {
	msg := FeedMessage{Feed: "f", RunID: "r", Shapes: map[string]string{
		"A_B": "short",
		"B_C": fmt.Sprintf("%0300d", 0),
	}}

	_, chunks, err := SplitShapes(msg, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, map[string]string{"A_B": "short"}, chunks[0].Shapes)
	assert.Len(t, chunks[1].Shapes["B_C"], 300)
}
