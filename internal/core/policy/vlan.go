package policy

import (
	"fmt"

	"firestige.xyz/ingress/internal/core"
)

// TagPolicy is the admission rule for one 802.1Q tag.
type TagPolicy struct {
	// HonourDropEligible drops frames whose DEI bit is set.
	HonourDropEligible bool
	// AllowedPriorities has bit n set when PCP n is admitted.
	AllowedPriorities uint8
}

// AllowsPriority reports whether the class of service is on the allow-list.
func (p TagPolicy) AllowsPriority(pcp uint8) bool {
	return p.AllowedPriorities&(1<<(pcp&0x7)) != 0
}

// AllPriorities admits every class of service.
const AllPriorities uint8 = 0xFF

// QinQPolicy holds the rules for the outer (service) and inner (customer) tags.
type QinQPolicy struct {
	Outer TagPolicy
	Inner TagPolicy
}

// VlanTable resolves the policy for a frame's tag structure.
type VlanTable struct {
	allowUntagged bool
	single        map[uint16]TagPolicy
	double        map[[2]uint16]QinQPolicy
}

// NewVlanTable creates an empty table.
func NewVlanTable(allowUntagged bool) *VlanTable {
	return &VlanTable{
		allowUntagged: allowUntagged,
		single:        make(map[uint16]TagPolicy),
		double:        make(map[[2]uint16]QinQPolicy),
	}
}

// AddVlan registers a policy for a single 802.1Q id.
func (t *VlanTable) AddVlan(id uint16, p TagPolicy) error {
	if _, dup := t.single[id]; dup {
		return fmt.Errorf("%w: vlan %d", core.ErrVlanPolicyConflict, id)
	}
	t.single[id] = p
	return nil
}

// AddQinQ registers a policy for an (outer, inner) id pair.
func (t *VlanTable) AddQinQ(outer, inner uint16, p QinQPolicy) error {
	key := [2]uint16{outer, inner}
	if _, dup := t.double[key]; dup {
		return fmt.Errorf("%w: qinq %d/%d", core.ErrVlanPolicyConflict, outer, inner)
	}
	t.double[key] = p
	return nil
}

// Untagged reports whether frames without a tag are admitted.
func (t *VlanTable) Untagged() bool { return t.allowUntagged }

// Vlan looks up a single-tag policy.
func (t *VlanTable) Vlan(id uint16) (TagPolicy, bool) {
	p, ok := t.single[id]
	return p, ok
}

// QinQ looks up a double-tag policy.
func (t *VlanTable) QinQ(outer, inner uint16) (QinQPolicy, bool) {
	p, ok := t.double[[2]uint16{outer, inner}]
	return p, ok
}

// Len returns the number of configured tag policies.
func (t *VlanTable) Len() int { return len(t.single) + len(t.double) }
