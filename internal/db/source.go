package db

import (
	"context"
	"database/sql"
	"fmt"

	"gtfs-segments/internal/gtfs"
)

// Source reads a GTFS import (postgis-gtfs-importer layout) through the same
// row types as the flat-file source. Coordinates come from lat/lon columns
// when present, else from the PostGIS point columns.
type Source struct {
	DB     *sql.DB
	Schema string // default "public"
}

var _ gtfs.Source = (*Source)(nil)

func (s *Source) schema() string {
	if s.Schema == "" {
		return "public"
	}
	return s.Schema
}

func (s *Source) tableExists(ctx context.Context, table, col string) (bool, error) {
	cols, err := hasColumns(ctx, s.DB, s.schema(), table, col)
	if err != nil {
		return false, fmt.Errorf("introspect %s: %w", table, err)
	}
	return cols[col], nil
}

func (s *Source) Routes(ctx context.Context) ([]*gtfs.RouteRow, error) {
	ok, err := s.tableExists(ctx, "routes", "route_id")
	if err != nil || !ok {
		return nil, err
	}
	var out []*gtfs.RouteRow
	q := `SELECT route_id::text, COALESCE(route_short_name::text, '') FROM routes`
	err = queryText(ctx, s.DB, q, 2, func(c []string) {
		out = append(out, &gtfs.RouteRow{RouteID: c[0], RouteShortName: c[1]})
	})
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	return out, nil
}

func (s *Source) Shapes(ctx context.Context) ([]*gtfs.ShapeRow, error) {
	cols, err := hasColumns(ctx, s.DB, s.schema(), "shapes", "shape_id", "shape_pt_lat", "shape_pt_lon", "shape_pt_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	if !cols["shape_id"] {
		return nil, nil
	}
	var q string
	switch {
	case cols["shape_pt_lat"] && cols["shape_pt_lon"]:
		q = `SELECT shape_id::text, shape_pt_lat::text, shape_pt_lon::text, shape_pt_sequence::text
             FROM shapes`
	case cols["shape_pt_loc"]:
		q = `SELECT shape_id::text,
                    ST_Y(shape_pt_loc::geometry)::text,
                    ST_X(shape_pt_loc::geometry)::text,
                    shape_pt_sequence::text
             FROM shapes`
	default:
		return nil, fmt.Errorf("%w: shapes lat/lon or shape_pt_loc", gtfs.ErrMissingColumn)
	}

	var out []*gtfs.ShapeRow
	err = queryText(ctx, s.DB, q, 4, func(c []string) {
		out = append(out, &gtfs.ShapeRow{ShapeID: c[0], Lat: c[1], Lon: c[2], Sequence: c[3]})
	})
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	return out, nil
}

func (s *Source) Trips(ctx context.Context) ([]*gtfs.TripRow, error) {
	ok, err := s.tableExists(ctx, "trips", "trip_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: trips", gtfs.ErrMissingTable)
	}
	var out []*gtfs.TripRow
	// ctid keeps import order, which stands in for trip-file order.
	q := `SELECT trip_id::text, route_id::text, COALESCE(shape_id::text, '') FROM trips ORDER BY ctid`
	err = queryText(ctx, s.DB, q, 3, func(c []string) {
		out = append(out, &gtfs.TripRow{TripID: c[0], RouteID: c[1], ShapeID: c[2]})
	})
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	return out, nil
}

func (s *Source) Stops(ctx context.Context) ([]*gtfs.StopRow, error) {
	cols, err := hasColumns(ctx, s.DB, s.schema(), "stops", "stop_id", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	if !cols["stop_id"] {
		return nil, fmt.Errorf("%w: stops", gtfs.ErrMissingTable)
	}
	var q string
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		q = `SELECT stop_id::text, COALESCE(stop_name::text, ''),
                    COALESCE(stop_lat::text, ''), COALESCE(stop_lon::text, ''),
                    COALESCE(parent_station::text, '')
             FROM stops`
	case cols["stop_loc"]:
		q = `SELECT stop_id::text, COALESCE(stop_name::text, ''),
                    COALESCE(ST_Y(stop_loc::geometry)::text, ''),
                    COALESCE(ST_X(stop_loc::geometry)::text, ''),
                    COALESCE(parent_station::text, '')
             FROM stops`
	default:
		return nil, fmt.Errorf("%w: stops stop_lat/stop_lon or stop_loc", gtfs.ErrMissingColumn)
	}

	var out []*gtfs.StopRow
	err = queryText(ctx, s.DB, q, 5, func(c []string) {
		out = append(out, &gtfs.StopRow{StopID: c[0], Name: c[1], Lat: c[2], Lon: c[3], ParentStation: c[4]})
	})
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	return out, nil
}

func (s *Source) StopTimes(ctx context.Context) ([]*gtfs.StopTimeRow, error) {
	ok, err := s.tableExists(ctx, "stop_times", "trip_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: stop_times", gtfs.ErrMissingTable)
	}
	var out []*gtfs.StopTimeRow
	q := `SELECT trip_id::text,
                 COALESCE(arrival_time::text, ''),
                 COALESCE(departure_time::text, ''),
                 stop_id::text,
                 stop_sequence::text
          FROM stop_times`
	err = queryText(ctx, s.DB, q, 5, func(c []string) {
		out = append(out, &gtfs.StopTimeRow{
			TripID:        c[0],
			ArrivalTime:   c[1],
			DepartureTime: c[2],
			StopID:        c[3],
			StopSequence:  c[4],
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	return out, nil
}
