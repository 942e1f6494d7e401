package gtfs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type LoadOptions struct {
	// UseRouteShortName replaces route ids with route_short_name in output keys.
	UseRouteShortName bool
}

// LoadFeed reads every table from src in dependency order. Each stage
// completes before the next one reads its result: routes, shapes, trips,
// stops, stop_times.
func LoadFeed(ctx context.Context, name string, src Source, opts LoadOptions, logger *zap.Logger) (*Feed, error) {
	feed := &Feed{Name: name}

	routeRows, err := src.Routes(ctx)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	feed.Routes = LoadRoutes(routeRows, opts.UseRouteShortName)
	if feed.Routes.Len() == 0 {
		logger.Info("no routes table, accepting every route id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shapeRows, err := src.Shapes(ctx)
	if err != nil {
		return nil, fmt.Errorf("shapes: %w", err)
	}
	feed.Shapes, feed.Dropped.BadShapePoints = LoadShapes(shapeRows)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tripRows, err := src.Trips(ctx)
	if err != nil {
		return nil, fmt.Errorf("trips: %w", err)
	}
	trips, byID, tripDrops := LoadTrips(tripRows, feed.Routes)
	feed.Trips, feed.TripsByID = trips, byID
	feed.Dropped.UnknownRoute = tripDrops.UnknownRoute
	feed.Dropped.DuplicateTrips = tripDrops.DuplicateTrips
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stopRows, err := src.Stops(ctx)
	if err != nil {
		return nil, fmt.Errorf("stops: %w", err)
	}
	feed.Stops, feed.Dropped.BadStops = LoadStops(stopRows)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stRows, err := src.StopTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("stop_times: %w", err)
	}
	stDrops := LoadStopTimes(stRows, feed.TripsByID, feed.Stops)
	feed.Dropped.UnknownTrip = stDrops.UnknownTrip
	feed.Dropped.UnknownStop = stDrops.UnknownStop
	feed.Dropped.BadSequence = stDrops.BadSequence

	fields := []zap.Field{
		zap.Int("routes", feed.Routes.Len()),
		zap.Int("shapes", len(feed.Shapes)),
		zap.Int("trips", len(feed.Trips)),
		zap.Int("stops", len(feed.Stops)),
		zap.Int("stop_times", len(stRows)-stDrops.UnknownTrip-stDrops.UnknownStop-stDrops.BadSequence),
	}
	if reasons := feed.Dropped.Reasons(); len(reasons) > 0 {
		fields = append(fields, zap.Any("dropped", reasons))
		logger.Warn("feed loaded with dropped rows", fields...)
	} else {
		logger.Info("feed loaded", fields...)
	}
	return feed, nil
}
