package authz

import "testing"

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if !p.Allows(RoleReceptionist, OpCreate) || !p.Allows(RolePatient, OpCancel) {
		t.Fatal("expected receptionist create and patient cancel")
	}
	if p.Allows(RoleDoctor, OpCreate) {
		t.Fatal("expected doctor create to be denied by default")
	}
	if !p.Allows(RoleDoctor, OpRead) {
		t.Fatal("expected doctor read")
	}
	if p.Allows(Role(""), OpRead) {
		t.Fatal("expected empty role to be denied")
	}
}

func TestParsePolicyOverridesNamedOperations(t *testing.T) {
	p, err := ParsePolicy("create=admin|secretaria; cancel=admin")
	if err != nil {
		t.Fatalf("ParsePolicy failed: %v", err)
	}
	if !p.Allows(RoleReceptionist, OpCreate) || p.Allows(RolePatient, OpCreate) {
		t.Fatalf("unexpected create roles: %s", p)
	}
	if p.Allows(RoleReceptionist, OpCancel) {
		t.Fatalf("expected cancel restricted to admin: %s", p)
	}
	if !p.Allows(RoleDoctor, OpRead) {
		t.Fatal("expected read to keep its default")
	}
	if got := p.String(); got != "create=admin|receptionist;cancel=admin;read=admin|doctor|patient|receptionist" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestParsePolicyRejectsUnknowns(t *testing.T) {
	for _, raw := range []string{"delete=admin", "create=janitor", "create"} {
		if _, err := ParsePolicy(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseRoleAliases(t *testing.T) {
	for raw, want := range map[string]Role{"Medico": RoleDoctor, " PACIENTE ": RolePatient, "admin": RoleAdmin} {
		if got, ok := ParseRole(raw); !ok || got != want {
			t.Fatalf("ParseRole(%q) = %q %v, want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseRole(""); ok {
		t.Fatal("expected blank role to be unknown")
	}
}
