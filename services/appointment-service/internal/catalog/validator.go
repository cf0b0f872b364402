package catalog

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Validator struct {
	lookup Lookup
}

func NewValidator(lookup Lookup) *Validator {
	return &Validator{lookup: lookup}
}

// Validate checks the three references concurrently. The first failure cancels
// the remaining lookups and is returned: a *ReferenceError when the registry
// rejected a reference, an *UpstreamError when it could not answer.
func (v *Validator) Validate(ctx context.Context, patientID, doctorID, centerID string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range []struct {
		kind Kind
		id   string
	}{
		{KindPatient, patientID},
		{KindDoctor, doctorID},
		{KindCenter, centerID},
	} {
		g.Go(func() error {
			return v.check(gctx, ref.kind, ref.id)
		})
	}
	return g.Wait()
}

func (v *Validator) check(ctx context.Context, kind Kind, id string) error {
	status, err := v.lookup.EntityExists(ctx, kind, id)
	if err != nil {
		if IsUpstream(err) {
			return err
		}
		return &UpstreamError{Which: kind, ID: id, Err: err}
	}
	switch status {
	case StatusActive:
		return nil
	case StatusInactive:
		return &ReferenceError{Which: kind, ID: id, Reason: ReasonInactive}
	default:
		return &ReferenceError{Which: kind, ID: id, Reason: ReasonNotFound}
	}
}
