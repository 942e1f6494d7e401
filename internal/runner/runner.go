// Package runner drives segment generation for every configured feed.
package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gtfs-segments/internal/config"
	"gtfs-segments/internal/db"
	"gtfs-segments/internal/export"
	"gtfs-segments/internal/gtfs"
	"gtfs-segments/internal/metrics"
	"gtfs-segments/internal/publisher"
	"gtfs-segments/internal/segment"
)

// FeedPublisher announces a finished feed.
type FeedPublisher interface {
	PublishFeed(msg publisher.FeedMessage) error
}

type Options struct {
	OutputDir         string
	Workers           int
	WindowedThreshold int
	GeoJSON           bool
	// DatabaseURL is the cluster DSN used to reach postgres-sourced feeds.
	DatabaseURL string
}

// Runner processes feeds, one goroutine per feed. Feeds share nothing: each
// worker owns its tables from load to write.
type Runner struct {
	opts    Options
	store   *sql.DB
	pub     FeedPublisher
	metrics *metrics.Collector
	logger  *zap.Logger

	running sync.Mutex
	now     func() time.Time
}

// New returns a Runner. store, pub and m may be nil to disable persistence,
// publishing and metrics.
func New(opts Options, store *sql.DB, pub FeedPublisher, m *metrics.Collector, logger *zap.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Runner{
		opts:    opts,
		store:   store,
		pub:     pub,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// RunAll processes every feed and returns the joined errors of the feeds that
// failed. A failing feed never stops the others.
func (r *Runner) RunAll(ctx context.Context, feeds []config.Feed) error {
	runID := uuid.New().String()
	log := r.logger.With(zap.String("run_id", runID))
	log.Info("run started", zap.Int("feeds", len(feeds)), zap.Int("workers", r.opts.Workers))
	start := time.Now()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.opts.Workers)
	for _, f := range feeds {
		g.Go(func() error {
			if err := r.runFeed(ctx, f, runID, log.With(zap.String("feed", f.Name))); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("feed %s: %w", f.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	log.Info("run finished",
		zap.Duration("took", time.Since(start)),
		zap.Int("failed", len(errs)),
	)
	return err
}

// TryRunAll is RunAll unless a run is already in progress, in which case it
// returns false without doing anything.
func (r *Runner) TryRunAll(ctx context.Context, feeds []config.Feed) (bool, error) {
	if !r.running.TryLock() {
		return false, nil
	}
	defer r.running.Unlock()
	return true, r.RunAll(ctx, feeds)
}

func (r *Runner) runFeed(ctx context.Context, f config.Feed, runID string, log *zap.Logger) (err error) {
	if f.NoSegments {
		log.Info("segment generation disabled for feed")
		r.countFeed("skipped")
		return nil
	}
	defer func() {
		if err != nil {
			log.Error("feed failed", zap.Error(err))
			r.countFeed("failed")
			return
		}
		r.countFeed("ok")
		if r.metrics != nil {
			r.metrics.LastSuccess.WithLabelValues(f.Name).Set(float64(r.now().Unix()))
		}
	}()

	src, closeSrc, err := r.source(ctx, f)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer closeSrc()

	t := time.Now()
	feed, err := gtfs.LoadFeed(ctx, f.Name, src, gtfs.LoadOptions{UseRouteShortName: f.UseRouteShortNameAsRouteCode}, log)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	r.observe(f.Name, "load", t)
	r.countDropped(f.Name, feed.Dropped)

	t = time.Now()
	res := segment.Extract(feed, segment.Options{
		WindowedThreshold: r.opts.WindowedThreshold,
		Densify:           f.Densify,
		DensifyStepMeters: f.DensifyStepMeters,
	}, log)
	r.observe(f.Name, "extract", t)
	r.countStats(f.Name, res.Stats)

	t = time.Now()
	path, err := export.WriteDocument(r.opts.OutputDir, f.Name, res.Document)
	if err != nil {
		return fmt.Errorf("write segments: %w", err)
	}
	if _, err := export.WriteRouteStations(r.opts.OutputDir, f.Name, res.RouteStations); err != nil {
		return fmt.Errorf("write route stations: %w", err)
	}
	if r.opts.GeoJSON {
		if _, err := export.WriteGeoJSON(r.opts.OutputDir, f.Name, res.Document); err != nil {
			return fmt.Errorf("write geojson: %w", err)
		}
	}
	r.observe(f.Name, "write", t)
	log.Info("segments written", zap.String("path", path), zap.Int("segments", len(res.Document.Segments)))

	if r.store != nil {
		err := db.SaveDocument(ctx, r.store, f.Name, runID, res.Document)
		if r.metrics != nil {
			result := "ok"
			if err != nil {
				result = "failed"
			}
			r.metrics.DBWrites.WithLabelValues(result).Inc()
		}
		if err != nil {
			return fmt.Errorf("persist: %w", err)
		}
	}

	if r.pub != nil {
		// The files are already in place; a lost announcement is not a feed failure.
		if err := r.pub.PublishFeed(publisher.NewFeedMessage(f.Name, runID, res.Document, r.now())); err != nil {
			log.Warn("publish failed", zap.Error(err))
		}
	}
	return nil
}

func (r *Runner) source(ctx context.Context, f config.Feed) (gtfs.Source, func(), error) {
	switch f.Source {
	case config.SourcePostgres:
		if r.opts.DatabaseURL == "" {
			return nil, nil, errors.New("postgres source needs DATABASE_URL")
		}
		dsn, err := db.FeedDSN(ctx, r.opts.DatabaseURL, f.Database, f.City)
		if err != nil {
			return nil, nil, err
		}
		conn, err := db.OpenAndPing(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return &db.Source{DB: conn}, func() { conn.Close() }, nil
	default:
		overrides := make(map[gtfs.Table]rune, len(f.SeparatorOverrides))
		for table := range f.SeparatorOverrides {
			overrides[gtfs.Table(table)] = f.SeparatorRune(table)
		}
		return &gtfs.DirSource{
			Dir:       f.Dir(),
			Separator: f.SeparatorRune(""),
			Overrides: overrides,
			Trim:      f.Trim,
		}, func() {}, nil
	}
}

func (r *Runner) observe(feed, stage string, since time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveStage(feed, stage, time.Since(since))
	}
}

func (r *Runner) countFeed(result string) {
	if r.metrics != nil {
		r.metrics.FeedsProcessed.WithLabelValues(result).Inc()
	}
}

func (r *Runner) countDropped(feed string, d gtfs.Dropped) {
	if r.metrics == nil {
		return
	}
	for reason, n := range d.Reasons() {
		r.metrics.DroppedRows.WithLabelValues(feed, reason).Add(float64(n))
	}
}

func (r *Runner) countStats(feed string, s segment.Stats) {
	if r.metrics == nil {
		return
	}
	m := r.metrics
	m.TripsProcessed.WithLabelValues(feed).Add(float64(s.Trips))
	m.Segments.WithLabelValues(feed, "built").Add(float64(s.Built))
	m.Segments.WithLabelValues(feed, "repaired").Add(float64(s.Repaired))
	m.Segments.WithLabelValues(feed, "reused").Add(float64(s.Reused))
	m.Segments.WithLabelValues(feed, "degenerate").Add(float64(s.Degenerate))
	m.KeysWritten.WithLabelValues(feed).Add(float64(s.KeysWritten))
	m.NegativeTimes.WithLabelValues(feed).Add(float64(s.NegativeSeconds))
}
