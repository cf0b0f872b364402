package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/odontocare/odontocare/libs/db"
	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
	"github.com/odontocare/odontocare/services/appointment-service/internal/outbox"
)

const appointmentColumns = `id::text, patient_id, doctor_id, center_id, start_time, end_time, status,
	COALESCE(reason, ''), COALESCE(created_by, ''), COALESCE(cancel_reason, ''), cancelled_at, created_at, updated_at`

// Postgres keeps appointments in PostgreSQL. Scope keys map to transaction
// scoped advisory locks; the exclusion constraint on appointments is the backstop.
type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, outbox: outbox.NewRepository(pool)}
}

// Outbox exposes the relay source backed by the same pool.
func (p *Postgres) Outbox() *outbox.Repository { return p.outbox }

func (p *Postgres) Book(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		for _, key := range dedupe(sorted) {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
				return fmt.Errorf("lock %s: %w", key, err)
			}
		}
		return fn(ctx, &pgTx{tx: tx, outbox: p.outbox})
	})
}

func (p *Postgres) Mutate(ctx context.Context, id string, fn func(ctx context.Context, tx Tx, current model.Appointment) error) error {
	if !validID(id) {
		return ErrNotFound
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		current, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		return fn(ctx, &pgTx{tx: tx, outbox: p.outbox}, current)
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

func (p *Postgres) Get(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, ErrNotFound
	}
	appt, err := scanAppointment(p.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	return appt, translate(err)
}

func (p *Postgres) Query(ctx context.Context, f model.Filter) ([]model.Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DateFrom != nil {
		add("start_time >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("start_time <= $%d", *f.DateTo)
	}
	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.CenterID != "" {
		add("center_id = $%d", f.CenterID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY start_time ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return collect(p.pool.Query(ctx, sql, args...))
}

func (p *Postgres) ListScheduled(ctx context.Context, q model.SlotQuery) ([]model.Appointment, error) {
	return listScheduled(ctx, p.pool, q)
}

func (p *Postgres) Ready(ctx context.Context) error { return p.pool.Ping(ctx) }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listScheduled(ctx context.Context, q querier, sq model.SlotQuery) ([]model.Appointment, error) {
	sql := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE status = 'scheduled'
			AND start_time < $3
			AND end_time > $2
			AND (doctor_id = $1 OR ($4 <> '' AND center_id = $4))
			AND ($5 = '' OR id::text <> $5)
		ORDER BY start_time ASC, id ASC`
	return collect(q.Query(ctx, sql, sq.DoctorID, sq.Start, sq.End, sq.CenterID, sq.ExcludeID))
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ListScheduled(ctx context.Context, q model.SlotQuery) ([]model.Appointment, error) {
	return listScheduled(ctx, t.tx, q)
}

func (t *pgTx) Insert(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, center_id, start_time, end_time, status, reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.CenterID, appt.Start, appt.End, string(appt.Status),
		appt.Reason, appt.CreatedBy, appt.CreatedAt, appt.UpdatedAt)
	return translate(err)
}

func (t *pgTx) SetStatus(ctx context.Context, id string, status model.Status, at time.Time, reason string) (model.Appointment, error) {
	current, err := scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	if current.Status == status {
		return current, nil
	}
	if current.Status == model.StatusCancelled {
		return model.Appointment{}, ErrInvalidTransition
	}

	updated, err := scanAppointment(t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			updated_at = $3,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $2 = 'cancelled' THEN NULLIF($4, '') ELSE cancel_reason END
		WHERE id = $1
		RETURNING `+appointmentColumns, id, string(status), at, reason))
	return updated, translate(err)
}

func (t *pgTx) Emit(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.CenterID, &a.Start, &a.End, &status,
		&a.Reason, &a.CreatedBy, &a.CancelReason, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	a.Status = model.Status(status)
	a.Start, a.End = a.Start.UTC(), a.End.UTC()
	return a, nil
}

func collect(rows pgx.Rows, err error) ([]model.Appointment, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// translate maps driver errors onto the storage sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01":
			return fmt.Errorf("%w: %s", ErrOverlap, pgErr.ConstraintName)
		case "23505":
			return ErrDuplicateID
		case "P0001":
			if strings.Contains(pgErr.Message, "transition") {
				return ErrInvalidTransition
			}
		}
	}
	return err
}

// validID filters ids the uuid column would reject with a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
