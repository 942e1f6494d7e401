package publisher

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/twpayne/go-polyline"
	"go.uber.org/zap"

	"gtfs-segments/internal/segment"
)

type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	logger  *zap.Logger
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, subjectPrefix string, logger *zap.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gtfs-segments"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: subjectPrefix, logger: logger, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// FeedMessage announces a regenerated segment document. Shapes carries every
// segment as an encoded polyline (precision 5) keyed by segment key. When the
// message would exceed the server's max payload, Shapes is left out and
// ShapeChunks tells how many ShapesChunk messages follow.
type FeedMessage struct {
	Feed        string            `json:"feed"`
	RunID       string            `json:"runId"`
	Segments    int               `json:"segments"`
	Keys        int               `json:"keys"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Shapes      map[string]string `json:"shapes,omitempty"`
	ShapeChunks int               `json:"shapeChunks,omitempty"`
}

// ShapesChunk is one part of a feed's shapes, published on
// <prefix>.<feed>.shapes.<index>.
type ShapesChunk struct {
	Feed   string            `json:"feed"`
	RunID  string            `json:"runId"`
	Index  int               `json:"index"`
	Total  int               `json:"total"`
	Shapes map[string]string `json:"shapes"`
}

// NewFeedMessage summarises doc for publishing.
func NewFeedMessage(feed, runID string, doc *segment.Document, at time.Time) FeedMessage {
	msg := FeedMessage{
		Feed:        feed,
		RunID:       runID,
		Segments:    len(doc.Segments),
		Keys:        len(doc.SegmentKeyDict),
		GeneratedAt: at.UTC(),
		Shapes:      make(map[string]string, len(doc.Segments)),
	}
	for k, seg := range doc.Segments {
		msg.Shapes[k] = EncodeShape(seg.Shape)
	}
	return msg
}

// EncodeShape encodes [lon, lat] pairs as a Google encoded polyline, which is
// ordered lat, lon.
func EncodeShape(shape [][2]float64) string {
	coords := make([][]float64, len(shape))
	for i, p := range shape {
		coords[i] = []float64{p[1], p[0]}
	}
	return string(polyline.EncodeCoords(coords))
}

// Subject returns <prefix>.<feed>.
func (p *NATSPublisher) Subject(feed string) string {
	return fmt.Sprintf("%s.%s", p.prefix, subjectToken(feed))
}

// ShapesSubject returns <prefix>.<feed>.shapes.<index>.
func (p *NATSPublisher) ShapesSubject(feed string, index int) string {
	return fmt.Sprintf("%s.shapes.%d", p.Subject(feed), index)
}

// PublishFeed announces msg. A message larger than the server's max payload
// is sent as a summary followed by shape chunks that each fit.
func (p *NATSPublisher) PublishFeed(msg FeedMessage) error {
	subject := p.Subject(msg.Feed)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	limit := p.nc.MaxPayload()
	if limit <= 0 || int64(len(b)) <= limit {
		if err := p.publish(subject, b); err != nil {
			return err
		}
		p.logger.Debug("published feed", zap.String("subject", subject), zap.Int("bytes", len(b)),
			zap.Strings("keys", firstKeys(msg.Shapes, 3)))
		return nil
	}

	summary, chunks, err := SplitShapes(msg, limit)
	if err != nil {
		return err
	}
	if b, err = json.Marshal(summary); err != nil {
		return err
	}
	if err := p.publish(subject, b); err != nil {
		return err
	}
	for _, c := range chunks {
		cb, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := p.publish(p.ShapesSubject(msg.Feed, c.Index), cb); err != nil {
			return err
		}
	}
	p.logger.Info("published feed in chunks", zap.String("subject", subject),
		zap.Int("chunks", len(chunks)), zap.Int64("max_payload", limit))
	return nil
}

func (p *NATSPublisher) publish(subject string, data []byte) error {
	start := time.Now()
	err := p.nc.Publish(subject, data)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// SplitShapes moves msg's shapes into chunks whose JSON encoding is at most
// maxPayload bytes, in segment key order. The returned summary carries no
// shapes. A single shape too large for any chunk is returned in its own chunk.
func SplitShapes(msg FeedMessage, maxPayload int64) (FeedMessage, []ShapesChunk, error) {
	keys := make([]string, 0, len(msg.Shapes))
	for k := range msg.Shapes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Envelope size with the widest index and total a chunk can carry.
	empty, err := json.Marshal(ShapesChunk{
		Feed: msg.Feed, RunID: msg.RunID, Index: len(keys), Total: len(keys), Shapes: map[string]string{},
	})
	if err != nil {
		return FeedMessage{}, nil, err
	}
	budget := maxPayload - int64(len(empty))

	var chunks []ShapesChunk
	cur := map[string]string{}
	var used int64
	for _, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return FeedMessage{}, nil, err
		}
		vb, err := json.Marshal(msg.Shapes[k])
		if err != nil {
			return FeedMessage{}, nil, err
		}
		size := int64(len(kb)+len(vb)) + 2 // colon and comma
		if len(cur) > 0 && used+size > budget {
			chunks = append(chunks, ShapesChunk{Shapes: cur})
			cur, used = map[string]string{}, 0
		}
		cur[k] = msg.Shapes[k]
		used += size
	}
	if len(cur) > 0 {
		chunks = append(chunks, ShapesChunk{Shapes: cur})
	}

	for i := range chunks {
		chunks[i].Feed = msg.Feed
		chunks[i].RunID = msg.RunID
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	summary := msg
	summary.Shapes = nil
	summary.ShapeChunks = len(chunks)
	return summary, chunks, nil
}

func firstKeys(m map[string]string, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
