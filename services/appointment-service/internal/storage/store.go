package storage

import (
	"context"
	"errors"
	"time"

	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
	"github.com/odontocare/odontocare/services/appointment-service/internal/outbox"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrOverlap           = errors.New("overlapping scheduled appointment")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateID       = errors.New("appointment id already exists")
)

// Tx is the view of the store inside Book and Mutate. Writes become visible
// to other callers only when the surrounding call returns nil.
type Tx interface {
	ListScheduled(ctx context.Context, q model.SlotQuery) ([]model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) error
	// SetStatus rejects cancelled -> scheduled with ErrInvalidTransition.
	SetStatus(ctx context.Context, id string, status model.Status, at time.Time, reason string) (model.Appointment, error)
	Emit(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	// Book holds every key in keys, then runs fn. Callers passing overlapping
	// keys are serialized. Waiting honours ctx.
	Book(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error
	// Mutate loads id under a row lock and runs fn with it.
	Mutate(ctx context.Context, id string, fn func(ctx context.Context, tx Tx, current model.Appointment) error) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	// Query returns matches ordered by start time then id.
	Query(ctx context.Context, f model.Filter) ([]model.Appointment, error)
	// ListScheduled reads without holding any scope lock.
	ListScheduled(ctx context.Context, q model.SlotQuery) ([]model.Appointment, error)
	Ready(ctx context.Context) error
}
