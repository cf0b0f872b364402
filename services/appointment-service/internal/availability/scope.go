package availability

import (
	"fmt"
	"sort"
	"strings"
)

// Scope decides which scheduled appointments compete with a new booking.
type Scope string

const (
	// ScopeDoctor rejects overlaps with the same doctor only.
	ScopeDoctor Scope = "doctor"
	// ScopeDoctorCenter also rejects any overlap at the same center.
	ScopeDoctorCenter Scope = "doctor_center"
)

func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ScopeDoctor):
		return ScopeDoctor, nil
	case string(ScopeDoctorCenter), "doctor+center":
		return ScopeDoctorCenter, nil
	case "center":
		return "", fmt.Errorf("conflict scope %q would allow a doctor to be double-booked across centers; use %q", raw, ScopeDoctorCenter)
	default:
		return "", fmt.Errorf("unknown conflict scope %q", raw)
	}
}

func (s Scope) IncludesCenter() bool { return s == ScopeDoctorCenter }

// LockKeys names the serialization keys a booking for doctorID at centerID
// must hold, sorted so every caller acquires them in the same order.
func (s Scope) LockKeys(doctorID, centerID string) []string {
	keys := []string{DoctorKey(doctorID)}
	if s.IncludesCenter() && centerID != "" {
		keys = append(keys, CenterKey(centerID))
	}
	sort.Strings(keys)
	return keys
}

func DoctorKey(doctorID string) string { return "doctor:" + doctorID }
func CenterKey(centerID string) string { return "center:" + centerID }
