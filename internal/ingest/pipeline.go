// Package ingest handles one webhook delivery end to end.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/traffic-bridge/internal/detect"
	"github.com/yourorg/traffic-bridge/internal/imagestore"
	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
	"github.com/yourorg/traffic-bridge/internal/latest"
	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/metrics"
	"github.com/yourorg/traffic-bridge/internal/model"
)

var (
	// ErrMalformedPayload is the only error Ingest returns.
	ErrMalformedPayload = errors.New("malformed JSON payload")

	ErrPersistence         = errors.New("snapshot not persisted")
	ErrPersistenceDisabled = fmt.Errorf("%w: no database configured", ErrPersistence)
	ErrImage               = errors.New("image not stored")
	ErrPublish             = errors.New("event not published")
)

type Materializer interface {
	Materialize(ctx context.Context, payload, mimeHint string) (imagestore.Ref, error)
}

// Persister accepts a snapshot for asynchronous saving.
type Persister interface {
	Submit(s model.Snapshot) error
}

// Broadcaster receives the re-encoded latest payload.
type Broadcaster interface {
	Broadcast(message []byte)
}

type EventSink interface {
	PublishEvent(e model.Event) error
}

// Result reports what happened to one delivery. Issues are failures that
// were contained; the delivery is still acknowledged.
type Result struct {
	Generation latest.Generation
	Snapshot   model.Snapshot
	Queued     bool
	Image      *imagestore.Ref
	Issues     []error
}

type Pipeline struct {
	slot    *latest.Slot
	images  Materializer
	persist Persister
	live    Broadcaster
	events  EventSink
	now     func() time.Time
	logger  *logger.Logger
}

type Option func(*Pipeline)

// WithPersister enables saving summaries. Without it every delivery reports
// ErrPersistenceDisabled.
func WithPersister(p Persister) Option { return func(pl *Pipeline) { pl.persist = p } }

func WithBroadcaster(b Broadcaster) Option { return func(pl *Pipeline) { pl.live = b } }

func WithEventSink(e EventSink) Option { return func(pl *Pipeline) { pl.events = e } }

func WithClock(now func() time.Time) Option { return func(pl *Pipeline) { pl.now = now } }

func New(slot *latest.Slot, images Materializer, log *logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		slot:   slot,
		images: images,
		now:    time.Now,
		logger: log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest parses body, makes it the latest payload, queues its summary and
// stores its embedded image if there is one.
func (p *Pipeline) Ingest(ctx context.Context, body []byte) (Result, error) {
	doc, err := jsonvalue.Parse(body)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if jsonvalue.IsEmpty(doc) {
		doc = jsonvalue.Object{}
	}
	receivedAt := p.now()

	var res Result
	res.Generation = p.slot.Replace(doc)
	res.Snapshot = model.Summarize(doc)

	if p.persist == nil {
		res.Issues = append(res.Issues, ErrPersistenceDisabled)
	} else if err := p.persist.Submit(res.Snapshot); err != nil {
		res.Issues = append(res.Issues, fmt.Errorf("%w: %v", ErrPersistence, err))
	} else {
		res.Queued = true
	}

	if found, ok := detect.Find(doc); ok {
		ref, err := p.images.Materialize(ctx, found.Payload, found.MIMEHint)
		if err != nil {
			metrics.ImageDecodeFailuresTotal.Inc()
			res.Issues = append(res.Issues, fmt.Errorf("%w: field %s: %v", ErrImage, found.SourcePath, err))
		} else {
			metrics.ImagesStoredTotal.Inc()
			ref.SourcePath = found.SourcePath
			res.Image = &ref
			if !p.slot.Annotate(res.Generation, ref.URLPath, ref.SourcePath) {
				p.logger.Debug("Image stored but payload not annotated", "url", ref.URLPath, "field", ref.SourcePath)
			}
			p.logger.Info("Image saved", "filename", ref.Filename, "field", ref.SourcePath)
		}
	}

	p.notify(&res, receivedAt)
	metrics.WebhooksTotal.WithLabelValues("accepted").Inc()
	return res, nil
}

func (p *Pipeline) notify(res *Result, receivedAt time.Time) {
	if p.live != nil && p.slot.Generation() == res.Generation {
		if b, err := jsonvalue.Marshal(p.slot.Get()); err == nil {
			p.live.Broadcast(b)
		}
	}
	if p.events != nil {
		var imageURL string
		if res.Image != nil {
			imageURL = res.Image.URLPath
		}
		if err := p.events.PublishEvent(model.NewEvent(res.Snapshot, receivedAt, imageURL)); err != nil {
			res.Issues = append(res.Issues, fmt.Errorf("%w: %v", ErrPublish, err))
		}
	}
}
