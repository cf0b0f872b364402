// Package authz maps caller roles to the scheduling operations they may run.
package authz

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleReceptionist Role = "receptionist"
	RoleDoctor       Role = "doctor"
	RolePatient      Role = "patient"
)

var roleAliases = map[string]Role{
	"admin":         RoleAdmin,
	"receptionist":  RoleReceptionist,
	"secretaria":    RoleReceptionist,
	"recepcionista": RoleReceptionist,
	"doctor":        RoleDoctor,
	"medico":        RoleDoctor,
	"médico":        RoleDoctor,
	"patient":       RolePatient,
	"paciente":      RolePatient,
}

// ParseRole normalizes a role name. Unknown or blank names report false.
func ParseRole(raw string) (Role, bool) {
	r, ok := roleAliases[strings.ToLower(strings.TrimSpace(raw))]
	return r, ok
}

type Operation string

const (
	OpCreate Operation = "create"
	OpCancel Operation = "cancel"
	OpRead   Operation = "read"
)

var operations = []Operation{OpCreate, OpCancel, OpRead}

type Policy struct {
	allowed map[Operation]map[Role]bool
}

func DefaultPolicy() Policy {
	return Policy{allowed: map[Operation]map[Role]bool{
		OpCreate: set(RoleAdmin, RoleReceptionist, RolePatient),
		OpCancel: set(RoleAdmin, RoleReceptionist, RolePatient),
		OpRead:   set(RoleAdmin, RoleReceptionist, RoleDoctor, RolePatient),
	}}
}

// ParsePolicy overrides the default matrix per operation, for example
// "create=admin|receptionist;cancel=admin". Operations not named keep their
// default roles. An operation with an empty role list is denied to everyone.
func ParsePolicy(raw string) (Policy, error) {
	p := DefaultPolicy()
	for _, clause := range strings.Split(raw, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name, roles, ok := strings.Cut(clause, "=")
		if !ok {
			return Policy{}, fmt.Errorf("role policy clause %q: expected op=role|role", clause)
		}
		op := Operation(strings.ToLower(strings.TrimSpace(name)))
		if !knownOperation(op) {
			return Policy{}, fmt.Errorf("role policy clause %q: unknown operation %q", clause, op)
		}
		allowed := map[Role]bool{}
		for _, r := range strings.Split(roles, "|") {
			if strings.TrimSpace(r) == "" {
				continue
			}
			role, ok := ParseRole(r)
			if !ok {
				return Policy{}, fmt.Errorf("role policy clause %q: unknown role %q", clause, r)
			}
			allowed[role] = true
		}
		p.allowed[op] = allowed
	}
	return p, nil
}

func (p Policy) Allows(role Role, op Operation) bool {
	return p.allowed[op][role]
}

// String renders the matrix in the ParsePolicy syntax.
func (p Policy) String() string {
	clauses := make([]string, 0, len(operations))
	for _, op := range operations {
		roles := make([]string, 0, len(p.allowed[op]))
		for r, ok := range p.allowed[op] {
			if ok {
				roles = append(roles, string(r))
			}
		}
		sort.Strings(roles)
		clauses = append(clauses, string(op)+"="+strings.Join(roles, "|"))
	}
	return strings.Join(clauses, ";")
}

func knownOperation(op Operation) bool {
	for _, o := range operations {
		if o == op {
			return true
		}
	}
	return false
}

func set(roles ...Role) map[Role]bool {
	m := make(map[Role]bool, len(roles))
	for _, r := range roles {
		m[r] = true
	}
	return m
}

// IsZero reports whether p is the zero Policy, which denies everything.
func (p Policy) IsZero() bool { return p.allowed == nil }
