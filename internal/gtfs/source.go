package gtfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Table names a feed table.
type Table string

const (
	TableRoutes    Table = "routes"
	TableShapes    Table = "shapes"
	TableTrips     Table = "trips"
	TableStops     Table = "stops"
	TableStopTimes Table = "stop_times"
)

// Source supplies the raw rows of a feed. Implementations return a nil slice
// and no error for optional tables (routes, shapes) that do not exist.
type Source interface {
	Routes(ctx context.Context) ([]*RouteRow, error)
	Shapes(ctx context.Context) ([]*ShapeRow, error)
	Trips(ctx context.Context) ([]*TripRow, error)
	Stops(ctx context.Context) ([]*StopRow, error)
	StopTimes(ctx context.Context) ([]*StopTimeRow, error)
}

// DirSource reads <Dir>/<table>.txt files already extracted from a feed archive.
type DirSource struct {
	Dir       string
	Separator rune
	// Overrides replaces Separator for individual tables.
	Overrides map[Table]rune
	Trim      bool
}

func (d *DirSource) options(t Table) TableOptions {
	opts := TableOptions{Separator: d.Separator, Trim: d.Trim}
	if r, ok := d.Overrides[t]; ok && r != 0 {
		opts.Separator = r
	}
	return opts
}

func (d *DirSource) read(t Table, optional bool, out interface{}, required ...string) error {
	path := filepath.Join(d.Dir, string(t)+".txt")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if optional {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrMissingTable, path)
		}
		return err
	}
	defer f.Close()

	if err := ReadTable(f, d.options(t), out, required...); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func (d *DirSource) Routes(ctx context.Context) ([]*RouteRow, error) {
	var rows []*RouteRow
	err := d.read(TableRoutes, true, &rows, "route_id")
	return rows, err
}

func (d *DirSource) Shapes(ctx context.Context) ([]*ShapeRow, error) {
	var rows []*ShapeRow
	err := d.read(TableShapes, true, &rows, "shape_id", "shape_pt_lat", "shape_pt_lon", "shape_pt_sequence")
	return rows, err
}

func (d *DirSource) Trips(ctx context.Context) ([]*TripRow, error) {
	var rows []*TripRow
	err := d.read(TableTrips, false, &rows, "trip_id", "route_id")
	return rows, err
}

func (d *DirSource) Stops(ctx context.Context) ([]*StopRow, error) {
	var rows []*StopRow
	err := d.read(TableStops, false, &rows, "stop_id", "stop_lat", "stop_lon")
	return rows, err
}

func (d *DirSource) StopTimes(ctx context.Context) ([]*StopTimeRow, error) {
	var rows []*StopTimeRow
	err := d.read(TableStopTimes, false, &rows, "trip_id", "stop_id", "stop_sequence")
	return rows, err
}
