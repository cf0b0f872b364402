package availability

import (
	"context"
	"time"

	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
)

// Reader lists scheduled appointments that may intersect a slot. It may return
// extra rows; the checker re-applies the overlap predicate.
type Reader interface {
	ListScheduled(ctx context.Context, q model.SlotQuery) ([]model.Appointment, error)
}

type Checker struct {
	scope Scope
}

func NewChecker(scope Scope) *Checker {
	if scope == "" {
		scope = ScopeDoctor
	}
	return &Checker{scope: scope}
}

func (c *Checker) Scope() Scope { return c.scope }

// Conflicts returns the scheduled appointments in scope that overlap
// [start, end). Touching intervals do not conflict.
func (c *Checker) Conflicts(ctx context.Context, r Reader, doctorID, centerID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	q := model.SlotQuery{DoctorID: doctorID, Start: start, End: end, ExcludeID: excludeID}
	if c.scope.IncludesCenter() {
		q.CenterID = centerID
	}
	candidates, err := r.ListScheduled(ctx, q)
	if err != nil {
		return nil, err
	}

	var out []model.Appointment
	for _, a := range candidates {
		if a.Status != model.StatusScheduled || a.ID == excludeID {
			continue
		}
		if a.DoctorID != doctorID && (q.CenterID == "" || a.CenterID != q.CenterID) {
			continue
		}
		if a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *Checker) IsAvailable(ctx context.Context, r Reader, doctorID, centerID string, start, end time.Time, excludeID string) (bool, error) {
	conflicts, err := c.Conflicts(ctx, r, doctorID, centerID, start, end, excludeID)
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}
