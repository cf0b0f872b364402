package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/odontocare/odontocare/libs/kafkax"
	otelx "github.com/odontocare/odontocare/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Source yields pending events. The Postgres repository and the in-memory
// store both implement it.
type Source interface {
	Relay(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error)
}

// Sink is satisfied by *kafka.Writer.
type Sink interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

type Publisher struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(source Source, sink Sink, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		sink:      sink,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run relays batches until ctx is done. A full batch is followed immediately
// by the next one.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for ctx.Err() == nil {
		n, err := p.PublishOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("outbox publish failed", "err", err)
		}
		if n == p.batchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	n, err := p.source.Relay(ctx, p.batchSize, p.send)
	if n > 0 {
		p.logger.Debug("outbox events published", "count", n)
	}
	return n, err
}

func (p *Publisher) send(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
		headers := kafkax.EventMeta{EventID: r.ID, EventType: r.EventType}.Headers()
		msgs = append(msgs, kafka.Message{
			Topic:   r.EventType,
			Key:     []byte(r.AggregateID),
			Value:   r.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, headers),
			Time:    r.OccurredAt,
		})
	}
	return p.sink.WriteMessages(ctx, msgs...)
}
