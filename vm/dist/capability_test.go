package dist

import (
	"strings"
	"testing"
)

func TestPermissivePolicy_AllowsEverything(t *testing.T) {
	p := NewPermissivePolicy()
	m := &CapabilityManifest{Required: []string{"print", "math", "io"}}

	if err := p.Check(m); err != nil {
		t.Errorf("permissive policy should allow all: %v", err)
	}
}

func TestPermissivePolicy_NilManifest(t *testing.T) {
	p := NewPermissivePolicy()
	if err := p.Check(nil); err != nil {
		t.Errorf("nil manifest should be allowed: %v", err)
	}
}

func TestRestrictedPolicy_AllowsListed(t *testing.T) {
	p := NewRestrictedPolicy([]string{"print", "math"})
	m := &CapabilityManifest{Required: []string{"math"}}

	if err := p.Check(m); err != nil {
		t.Errorf("should allow listed global: %v", err)
	}
}

func TestRestrictedPolicy_DeniesUnlisted(t *testing.T) {
	p := NewRestrictedPolicy([]string{"print"})
	m := &CapabilityManifest{Required: []string{"io"}}

	if err := p.Check(m); err == nil {
		t.Error("should deny unlisted global")
	}
}

func TestCapabilityPolicy_ExplicitDeny(t *testing.T) {
	p := NewPermissivePolicy()
	p.Deny("io")

	m := &CapabilityManifest{Required: []string{"io"}}
	if err := p.Check(m); err == nil {
		t.Error("should deny explicitly denied global")
	}
}

func TestCapabilityPolicy_DenyOverridesAllow(t *testing.T) {
	p := NewRestrictedPolicy([]string{"print", "io"})
	p.Deny("io")

	m := &CapabilityManifest{Required: []string{"io"}}
	if err := p.Check(m); err == nil {
		t.Error("deny should override allow")
	}
}

func TestRestrictedPolicy_EmptyManifest(t *testing.T) {
	p := NewRestrictedPolicy([]string{"print"})
	m := &CapabilityManifest{}

	if err := p.Check(m); err != nil {
		t.Errorf("empty manifest should pass: %v", err)
	}
}

func TestCheckImage_UsesProgramRequirements(t *testing.T) {
	img := compileImage(t, "demo", `print(math.sqrt(2));`)

	if err := NewRestrictedPolicy([]string{"print", "math"}).CheckImage(img); err != nil {
		t.Errorf("should allow: %v", err)
	}
	err := NewRestrictedPolicy([]string{"print"}).CheckImage(img)
	if err == nil {
		t.Fatal("should deny math")
	}
	if !strings.Contains(err.Error(), `"math"`) || !strings.Contains(err.Error(), `image "demo"`) {
		t.Errorf("error = %v", err)
	}
}

func TestCheck_NamesEveryRefusedGlobal(t *testing.T) {
	p := NewRestrictedPolicy([]string{"print", "io"})
	p.Deny("io")

	err := p.Check(&CapabilityManifest{Required: []string{"io", "math", "print"}})
	if err == nil {
		t.Fatal("expected io and math to be refused")
	}
	if got, want := err.Error(), `dist: globals "io", "math" are not allowed`; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestAllows(t *testing.T) {
	p := NewRestrictedPolicy([]string{"print", "io"})
	p.Deny("io")

	tests := []struct {
		name string
		want bool
	}{
		{"print", true},
		{"io", false},
		{"math", false},
	}
	for _, tt := range tests {
		if got := p.Allows(tt.name); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	open := NewPermissivePolicy()
	open.Deny("io")
	if !open.Allows("anything") || open.Allows("io") {
		t.Error("permissive policy should admit everything except denied globals")
	}
}
