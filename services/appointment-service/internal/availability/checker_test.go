package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
)

type fakeReader struct {
	rows []model.Appointment
	last model.SlotQuery
	err  error
}

func (f *fakeReader) ListScheduled(_ context.Context, q model.SlotQuery) ([]model.Appointment, error) {
	f.last = q
	return f.rows, f.err
}

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func TestIsAvailableHalfOpen(t *testing.T) {
	r := &fakeReader{rows: []model.Appointment{
		{ID: "a1", DoctorID: "d1", CenterID: "c1", Status: model.StatusScheduled, Start: at(9, 0), End: at(9, 30)},
	}}
	c := NewChecker(ScopeDoctor)
	ctx := context.Background()

	ok, err := c.IsAvailable(ctx, r, "d1", "c1", at(9, 15), at(9, 45), "")
	if err != nil || ok {
		t.Fatalf("expected 09:15 overlap to be unavailable, got ok=%v err=%v", ok, err)
	}
	ok, err = c.IsAvailable(ctx, r, "d1", "c1", at(9, 30), at(10, 0), "")
	if err != nil || !ok {
		t.Fatalf("expected touching 09:30 slot to be available, got ok=%v err=%v", ok, err)
	}
	ok, err = c.IsAvailable(ctx, r, "d1", "c1", at(9, 0), at(9, 30), "a1")
	if err != nil || !ok {
		t.Fatalf("expected excluded appointment to be ignored, got ok=%v err=%v", ok, err)
	}
}

func TestConflictsIgnoresCancelledAndOtherDoctors(t *testing.T) {
	r := &fakeReader{rows: []model.Appointment{
		{ID: "a1", DoctorID: "d1", CenterID: "c1", Status: model.StatusCancelled, Start: at(9, 0), End: at(9, 30)},
		{ID: "a2", DoctorID: "d2", CenterID: "c1", Status: model.StatusScheduled, Start: at(9, 0), End: at(9, 30)},
	}}
	conflicts, err := NewChecker(ScopeDoctor).Conflicts(context.Background(), r, "d1", "c1", at(9, 0), at(9, 30), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
	if r.last.CenterID != "" {
		t.Fatalf("expected doctor scope not to query by center, got %+v", r.last)
	}
}

func TestDoctorCenterScopeRejectsSameCenter(t *testing.T) {
	r := &fakeReader{rows: []model.Appointment{
		{ID: "a2", DoctorID: "d2", CenterID: "c1", Status: model.StatusScheduled, Start: at(9, 0), End: at(9, 30)},
	}}
	c := NewChecker(ScopeDoctorCenter)
	ok, err := c.IsAvailable(context.Background(), r, "d1", "c1", at(9, 10), at(9, 20), "")
	if err != nil || ok {
		t.Fatalf("expected center conflict, got ok=%v err=%v", ok, err)
	}
	if r.last.CenterID != "c1" {
		t.Fatalf("expected center in query, got %+v", r.last)
	}
}

func TestCheckerPropagatesReaderError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewChecker(ScopeDoctor).IsAvailable(context.Background(), &fakeReader{err: boom}, "d1", "c1", at(9, 0), at(9, 30), "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected reader error, got %v", err)
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope(""); err != nil || s != ScopeDoctor {
		t.Fatalf("expected default doctor scope, got %q %v", s, err)
	}
	if s, err := ParseScope("DOCTOR_CENTER"); err != nil || s != ScopeDoctorCenter {
		t.Fatalf("expected doctor_center, got %q %v", s, err)
	}
	if _, err := ParseScope("center"); err == nil {
		t.Fatal("expected center-only scope to be refused")
	}
}

func TestLockKeysSorted(t *testing.T) {
	keys := ScopeDoctorCenter.LockKeys("d9", "c1")
	if len(keys) != 2 || keys[0] != "center:c1" || keys[1] != "doctor:d9" {
		t.Fatalf("expected sorted center+doctor keys, got %v", keys)
	}
	if keys := ScopeDoctor.LockKeys("d9", "c1"); len(keys) != 1 || keys[0] != "doctor:d9" {
		t.Fatalf("expected doctor key only, got %v", keys)
	}
}
