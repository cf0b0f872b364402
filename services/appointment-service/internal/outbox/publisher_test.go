package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/odontocare/odontocare/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type sliceSource struct {
	pending   []Record
	published []Record
}

func (s *sliceSource) Relay(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error) {
	n := min(limit, len(s.pending))
	batch := s.pending[:n]
	if n == 0 {
		return 0, nil
	}
	if err := send(ctx, batch); err != nil {
		return 0, err
	}
	s.published = append(s.published, batch...)
	s.pending = s.pending[n:]
	return n, nil
}

type recordingSink struct {
	msgs []kafka.Message
	err  error
}

func (s *recordingSink) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishOnceWritesHeadersAndMarks(t *testing.T) {
	evt, err := NewEvent("appointment", "appt-1", "appointment.scheduled.v1", map[string]string{"id": "appt-1"}, time.Now())
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	src := &sliceSource{pending: []Record{{Seq: 1, Event: evt}}}
	sink := &recordingSink{}
	p := NewPublisher(src, sink, discardLogger(), PublisherConfig{BatchSize: 10})

	n, err := p.PublishOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 published, got %d err=%v", n, err)
	}
	if len(sink.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sink.msgs))
	}
	msg := sink.msgs[0]
	if msg.Topic != "appointment.scheduled.v1" || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected topic/key: %s %s", msg.Topic, msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != evt.ID || meta.EventType != evt.EventType {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if len(src.pending) != 0 || len(src.published) != 1 {
		t.Fatalf("expected record marked published, got pending=%d", len(src.pending))
	}
}

func TestPublishOnceKeepsRecordsOnSinkFailure(t *testing.T) {
	evt, _ := NewEvent("appointment", "appt-1", "appointment.cancelled.v1", struct{}{}, time.Now())
	src := &sliceSource{pending: []Record{{Seq: 1, Event: evt}}}
	p := NewPublisher(src, &recordingSink{err: errors.New("broker down")}, discardLogger(), PublisherConfig{})

	if _, err := p.PublishOnce(context.Background()); err == nil {
		t.Fatal("expected sink error")
	}
	if len(src.pending) != 1 {
		t.Fatalf("expected record to stay pending, got %d", len(src.pending))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p := NewPublisher(&sliceSource{}, &recordingSink{}, discardLogger(), PublisherConfig{PollEvery: time.Millisecond})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after cancel")
	}
}
