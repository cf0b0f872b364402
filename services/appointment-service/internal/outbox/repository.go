package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/odontocare/odontocare/libs/db"
	otelx "github.com/odontocare/odontocare/libs/otel"
)

// Repository stores events in outbox_events.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes evt inside tx, capturing the caller's trace context.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	if evt.Traceparent == "" {
		evt.Traceparent, evt.Tracestate = otelx.TraceContextStrings(ctx)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, evt.Traceparent, evt.Tracestate, evt.OccurredAt)
	return err
}

// Relay locks up to limit unpublished rows, hands them to send and marks them
// published when send succeeds. Concurrent relays skip each other's rows.
func (r *Repository) Relay(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.fetchUnpublished(ctx, tx, limit)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}
	if err := send(ctx, records); err != nil {
		return 0, err
	}

	seqs := make([]int64, 0, len(records))
	for _, rec := range records {
		seqs = append(seqs, rec.Seq)
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, seqs); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (r *Repository) fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
			COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.Seq, &rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload,
			&rec.Traceparent, &rec.Tracestate, &rec.OccurredAt)
		return rec, err
	})
}
