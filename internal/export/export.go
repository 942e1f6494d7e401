// Package export writes per-feed extraction results under the output directory.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	geojson "github.com/paulmach/go.geojson"

	"gtfs-segments/internal/geometry"
	"gtfs-segments/internal/segment"
)

const (
	SegmentsFile      = "segments.json"
	RouteStationsFile = "routeStations.json"
	GeoJSONFile       = "segments.geojson"
)

// FeedDir returns <outputDir>/<feed>.
func FeedDir(outputDir, feed string) string {
	return filepath.Join(outputDir, feed)
}

// WriteDocument writes the segment document to <outputDir>/<feed>/segments.json.
func WriteDocument(outputDir, feed string, doc *segment.Document) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal segments: %w", err)
	}
	return writeFile(FeedDir(outputDir, feed), SegmentsFile, b)
}

// ReadDocument loads the segment document previously written for feed.
func ReadDocument(outputDir, feed string) (*segment.Document, error) {
	path := filepath.Join(FeedDir(outputDir, feed), SegmentsFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := segment.NewDocument()
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// WriteRouteStations writes the canonical stops of each route.
func WriteRouteStations(outputDir, feed string, stations map[string][]string) (string, error) {
	b, err := json.Marshal(stations)
	if err != nil {
		return "", fmt.Errorf("marshal route stations: %w", err)
	}
	return writeFile(FeedDir(outputDir, feed), RouteStationsFile, b)
}

// WriteGeoJSON writes every segment as a simplified LineString feature for
// inspection in a map viewer. Features are ordered by segment key.
func WriteGeoJSON(outputDir, feed string, doc *segment.Document) (string, error) {
	b, err := FeatureCollection(doc).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal geojson: %w", err)
	}
	return writeFile(FeedDir(outputDir, feed), GeoJSONFile, b)
}

func FeatureCollection(doc *segment.Document) *geojson.FeatureCollection {
	keys := make([]string, 0, len(doc.Segments))
	for k := range doc.Segments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fc := geojson.NewFeatureCollection()
	for _, k := range keys {
		seg := doc.Segments[k]
		line := geometry.Simplify(seg.Line(), geometry.SimplifyTolerance)
		coords := make([][]float64, len(line))
		for i, p := range line {
			coords[i] = []float64{p[0], p[1]}
		}
		f := geojson.NewLineStringFeature(coords)
		f.SetProperty("key", k)
		f.SetProperty("seconds", seg.Seconds)
		f.SetProperty("meters", seg.Meters)
		fc.AddFeature(f)
	}
	return fc
}

// writeFile replaces dir/name atomically so readers never see a partial file.
func writeFile(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
