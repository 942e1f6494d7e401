package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	FeedsProcessed *prometheus.CounterVec // result label: ok|failed|skipped
	TripsProcessed *prometheus.CounterVec // feed label
	Segments       *prometheus.CounterVec // feed, outcome: built|repaired|reused|degenerate
	KeysWritten    *prometheus.CounterVec // feed
	DroppedRows    *prometheus.CounterVec // feed, reason
	NegativeTimes  *prometheus.CounterVec // feed

	ExtractDuration *prometheus.HistogramVec // feed, stage: load|extract|write
	LastSuccess     *prometheus.GaugeVec     // feed, unix seconds

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	DBWrites *prometheus.CounterVec // result label: ok|failed

	Workers prometheus.Gauge
}

func NewCollector(workers int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FeedsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_feeds_processed_total",
			Help: "Feeds processed, by result.",
		}, []string{"result"}),
		TripsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_trips_processed_total",
			Help: "Trips walked by the segment extractor.",
		}, []string{"feed"}),
		Segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_segments_total",
			Help: "Stop pairs handled by the extractor, by outcome.",
		}, []string{"feed", "outcome"}),
		KeysWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_keys_written_total",
			Help: "Segment key dictionary entries written.",
		}, []string{"feed"}),
		DroppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_dropped_rows_total",
			Help: "Feed rows discarded while loading, by reason.",
		}, []string{"feed", "reason"}),
		NegativeTimes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_negative_elapsed_total",
			Help: "Segments whose scheduled elapsed time is negative.",
		}, []string{"feed"}),
		ExtractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "segments_stage_duration_seconds",
			Help:    "Duration of each per-feed pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"feed", "stage"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "segments_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per feed.",
		}, []string{"feed"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segments_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segments_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segments_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segments_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		DBWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segments_db_writes_total",
			Help: "Segment document writes to Postgres, by result.",
		}, []string{"result"}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segments_workers",
			Help: "Maximum feeds processed concurrently.",
		}),
	}

	reg.MustRegister(
		c.FeedsProcessed, c.TripsProcessed, c.Segments, c.KeysWritten,
		c.DroppedRows, c.NegativeTimes, c.ExtractDuration, c.LastSuccess,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.DBWrites, c.Workers,
	)
	c.Workers.Set(float64(workers))

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// ObserveStage records how long stage took for feed.
func (c *Collector) ObserveStage(feed, stage string, d time.Duration) {
	c.ExtractDuration.WithLabelValues(feed, stage).Observe(d.Seconds())
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}

// PublisherMetrics adapts the collector to the publisher's metrics interface.
type PublisherMetrics struct{ C *Collector }

func (p PublisherMetrics) NATSPublishedInc()              { p.C.NATSPublished.Inc() }
func (p PublisherMetrics) NATSPublishErrInc()             { p.C.NATSPublishErrs.Inc() }
func (p PublisherMetrics) PublishObserve(d time.Duration) { p.C.PublishDuration.Observe(d.Seconds()) }
func (p PublisherMetrics) NATSSetConnected(b bool) {
	if b {
		p.C.NATSConnected.Set(1)
	} else {
		p.C.NATSConnected.Set(0)
	}
}
