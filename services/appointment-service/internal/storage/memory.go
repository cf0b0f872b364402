package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
	"github.com/odontocare/odontocare/services/appointment-service/internal/outbox"
)

// Memory is a process-local Store with the same locking and visibility rules
// as the Postgres store. It also acts as an outbox.Source.
type Memory struct {
	locks *keyLocks

	mu       sync.RWMutex
	rows     map[string]model.Appointment
	byDoctor scopeIndex
	byCenter scopeIndex
	events   []outbox.Record
	relayed  int

	relayMu sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		locks:    newKeyLocks(),
		rows:     map[string]model.Appointment{},
		byDoctor: scopeIndex{},
		byCenter: scopeIndex{},
	}
}

func (m *Memory) Book(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	release, err := m.locks.acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	return m.run(ctx, fn)
}

func (m *Memory) Mutate(ctx context.Context, id string, fn func(ctx context.Context, tx Tx, current model.Appointment) error) error {
	release, err := m.locks.acquire(ctx, []string{"appointment:" + id})
	if err != nil {
		return err
	}
	defer release()

	current, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	return m.run(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, tx, current)
	})
}

func (m *Memory) run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{m: m, updates: map[string]model.Appointment{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, appt := range tx.inserts {
		if _, exists := m.rows[appt.ID]; exists {
			return ErrDuplicateID
		}
		if appt.Status == model.StatusScheduled && m.overlapsLocked(appt) {
			return ErrOverlap
		}
	}
	for _, appt := range tx.inserts {
		m.rows[appt.ID] = appt
		m.byDoctor.add(appt.DoctorID, appt.ID)
		m.byCenter.add(appt.CenterID, appt.ID)
	}
	for id, appt := range tx.updates {
		m.rows[id] = appt
	}
	for _, evt := range tx.events {
		m.events = append(m.events, outbox.Record{Seq: int64(len(m.events) + 1), Event: evt})
	}
	return nil
}

// overlapsLocked mirrors the per-doctor exclusion constraint.
func (m *Memory) overlapsLocked(appt model.Appointment) bool {
	for id := range m.byDoctor[appt.DoctorID] {
		other := m.rows[id]
		if other.Status == model.StatusScheduled && other.Overlaps(appt.Start, appt.End) {
			return true
		}
	}
	return false
}

func (m *Memory) Get(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	appt, ok := m.rows[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return clone(appt), nil
}

func (m *Memory) Query(_ context.Context, f model.Filter) ([]model.Appointment, error) {
	m.mu.RLock()
	out := make([]model.Appointment, 0)
	visit := func(appt model.Appointment) {
		if f.Matches(appt) {
			out = append(out, clone(appt))
		}
	}
	switch {
	case f.DoctorID != "":
		for id := range m.byDoctor[f.DoctorID] {
			visit(m.rows[id])
		}
	case f.CenterID != "":
		for id := range m.byCenter[f.CenterID] {
			visit(m.rows[id])
		}
	default:
		for _, appt := range m.rows {
			visit(appt)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return model.Less(out[i], out[j]) })
	return paginate(out, f.Limit, f.Offset), nil
}

func (m *Memory) ListScheduled(_ context.Context, q model.SlotQuery) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return scheduledMatching(m.candidatesLocked(q), nil, q), nil
}

// candidatesLocked returns the committed rows sharing q's doctor or center.
func (m *Memory) candidatesLocked(q model.SlotQuery) []model.Appointment {
	out := make([]model.Appointment, 0, len(m.byDoctor[q.DoctorID]))
	for id := range m.byDoctor[q.DoctorID] {
		out = append(out, m.rows[id])
	}
	if q.CenterID == "" {
		return out
	}
	for id := range m.byCenter[q.CenterID] {
		if appt := m.rows[id]; appt.DoctorID != q.DoctorID {
			out = append(out, appt)
		}
	}
	return out
}

func (m *Memory) Ready(context.Context) error { return nil }

// Events returns every event emitted so far, relayed or not.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]outbox.Event, 0, len(m.events))
	for _, r := range m.events {
		out = append(out, r.Event)
	}
	return out
}

// Relay implements outbox.Source.
func (m *Memory) Relay(ctx context.Context, limit int, send func(context.Context, []outbox.Record) error) (int, error) {
	m.relayMu.Lock()
	defer m.relayMu.Unlock()

	m.mu.RLock()
	end := min(m.relayed+limit, len(m.events))
	batch := append([]outbox.Record(nil), m.events[m.relayed:end]...)
	m.mu.RUnlock()
	if len(batch) == 0 {
		return 0, nil
	}
	if err := send(ctx, batch); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.relayed += len(batch)
	m.mu.Unlock()
	return len(batch), nil
}

type memTx struct {
	m       *Memory
	inserts []model.Appointment
	updates map[string]model.Appointment
	events  []outbox.Event
}

func (tx *memTx) ListScheduled(_ context.Context, q model.SlotQuery) ([]model.Appointment, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	staged := append([]model.Appointment(nil), tx.inserts...)
	for _, u := range tx.updates {
		staged = append(staged, u)
	}
	return scheduledMatching(tx.m.candidatesLocked(q), staged, q), nil
}

func (tx *memTx) Insert(_ context.Context, appt model.Appointment) error {
	if !appt.Start.Before(appt.End) {
		return fmt.Errorf("insert %s: start must be before end", appt.ID)
	}
	if _, err := tx.lookup(appt.ID); err == nil {
		return ErrDuplicateID
	}
	tx.inserts = append(tx.inserts, clone(appt))
	return nil
}

func (tx *memTx) SetStatus(_ context.Context, id string, status model.Status, at time.Time, reason string) (model.Appointment, error) {
	current, err := tx.lookup(id)
	if err != nil {
		return model.Appointment{}, err
	}
	if current.Status == status {
		return current, nil
	}
	if current.Status == model.StatusCancelled {
		return model.Appointment{}, ErrInvalidTransition
	}

	updated := clone(current)
	updated.Status = status
	updated.UpdatedAt = at
	if status == model.StatusCancelled {
		cancelledAt := at
		updated.CancelledAt = &cancelledAt
		updated.CancelReason = reason
	}
	for i := range tx.inserts {
		if tx.inserts[i].ID == id {
			tx.inserts[i] = updated
			return clone(updated), nil
		}
	}
	tx.updates[id] = updated
	return clone(updated), nil
}

func (tx *memTx) Emit(_ context.Context, evt outbox.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	tx.events = append(tx.events, evt)
	return nil
}

func (tx *memTx) lookup(id string) (model.Appointment, error) {
	for _, appt := range tx.inserts {
		if appt.ID == id {
			return appt, nil
		}
	}
	if appt, ok := tx.updates[id]; ok {
		return appt, nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	if appt, ok := tx.m.rows[id]; ok {
		return clone(appt), nil
	}
	return model.Appointment{}, ErrNotFound
}

// scheduledMatching overlays staged rows on committed candidates and keeps
// the scheduled appointments that intersect q.
func scheduledMatching(candidates, staged []model.Appointment, q model.SlotQuery) []model.Appointment {
	view := make(map[string]model.Appointment, len(candidates)+len(staged))
	for _, appt := range candidates {
		view[appt.ID] = appt
	}
	for _, appt := range staged {
		view[appt.ID] = appt
	}

	out := make([]model.Appointment, 0)
	for _, appt := range view {
		if appt.Status != model.StatusScheduled || appt.ID == q.ExcludeID {
			continue
		}
		if appt.DoctorID != q.DoctorID && (q.CenterID == "" || appt.CenterID != q.CenterID) {
			continue
		}
		if appt.Overlaps(q.Start, q.End) {
			out = append(out, clone(appt))
		}
	}
	sort.Slice(out, func(i, j int) bool { return model.Less(out[i], out[j]) })
	return out
}

// scopeIndex maps a doctor or center id to the ids of its appointments. Rows
// never change doctor or center, so entries are only ever added.
type scopeIndex map[string]map[string]struct{}

func (ix scopeIndex) add(key, id string) {
	ids, ok := ix[key]
	if !ok {
		ids = map[string]struct{}{}
		ix[key] = ids
	}
	ids[id] = struct{}{}
}

func paginate(items []model.Appointment, limit, offset int) []model.Appointment {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func clone(a model.Appointment) model.Appointment {
	if a.CancelledAt != nil {
		at := *a.CancelledAt
		a.CancelledAt = &at
	}
	return a
}
