// Package catalog checks that the patients, doctors and centers an appointment
// refers to exist and are active in the external registry.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindPatient Kind = "patient"
	KindDoctor  Kind = "doctor"
	KindCenter  Kind = "center"
)

type Status int

const (
	StatusNotFound Status = iota
	StatusActive
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	default:
		return "not_found"
	}
}

// Lookup resolves one reference. A nil error with StatusNotFound means the
// registry answered and the entity does not exist.
type Lookup interface {
	EntityExists(ctx context.Context, kind Kind, id string) (Status, error)
}

const (
	ReasonNotFound = "not_found"
	ReasonInactive = "inactive"
)

// ReferenceError names the first reference that failed validation.
type ReferenceError struct {
	Which  Kind
	ID     string
	Reason string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q is %s", e.Which, e.ID, e.Reason)
}

// UpstreamError means the registry could not give an answer.
type UpstreamError struct {
	Which Kind
	ID    string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("catalog lookup %s %q: %v", e.Which, e.ID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
