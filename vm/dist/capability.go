package dist

import (
	"fmt"
	"strconv"
	"strings"
)

// CapabilityPolicy decides which host globals a program image may read
// before it is run. A nil Allowed admits every global not in Denied.
type CapabilityPolicy struct {
	Allowed map[string]bool
	Denied  map[string]bool
}

// NewPermissivePolicy admits every global.
func NewPermissivePolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// NewRestrictedPolicy admits only the listed globals. Listing a library
// such as "math" admits all of its members.
func NewRestrictedPolicy(allowed []string) *CapabilityPolicy {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &CapabilityPolicy{Allowed: set}
}

// Allows reports whether a program may read the global name. Denial wins
// over an allow list entry.
func (p *CapabilityPolicy) Allows(name string) bool {
	if p.Denied[name] {
		return false
	}
	return p.Allowed == nil || p.Allowed[name]
}

// Check returns an error naming every required global the policy refuses.
func (p *CapabilityPolicy) Check(manifest *CapabilityManifest) error {
	if manifest == nil {
		return nil
	}
	var refused []string
	for _, name := range manifest.Required {
		if !p.Allows(name) {
			refused = append(refused, strconv.Quote(name))
		}
	}
	switch len(refused) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("dist: global %s is not allowed", refused[0])
	}
	return fmt.Errorf("dist: globals %s are not allowed", strings.Join(refused, ", "))
}

// CheckImage applies Check to the requirements of an image.
func (p *CapabilityPolicy) CheckImage(img *Image) error {
	if err := p.Check(img.Manifest()); err != nil {
		return fmt.Errorf("%w (image %q)", err, img.Name)
	}
	return nil
}

// Deny refuses a global regardless of the allow list.
func (p *CapabilityPolicy) Deny(name string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[name] = true
}
