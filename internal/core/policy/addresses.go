// Package policy holds the read-only tables consulted on the packet path:
// which addresses are ours, which groups are joined, deny-lists and the VLAN
// policy table. Tables are built once and never mutated afterwards, so a
// single instance may be shared by every worker without locking.
package policy

import (
	"net/netip"

	"firestige.xyz/ingress/internal/core"
)

// Addresses answers ownership, membership and deny-list queries.
type Addresses struct {
	mac        core.MacAddress
	ours       map[netip.Addr]struct{}
	groups     map[netip.Addr]struct{}
	deniedMacs map[core.MacAddress]struct{}
	denied     *PrefixList
}

// AddressesConfig is the uncompiled form of Addresses.
type AddressesConfig struct {
	Mac           core.MacAddress
	Unicast       []netip.Addr // IPv4 and IPv6 host addresses assigned to us
	Groups        []netip.Addr // joined IPv4/IPv6 multicast groups
	DeniedMacs    []core.MacAddress
	DeniedSources *PrefixList
}

// NewAddresses compiles cfg.
func NewAddresses(cfg AddressesConfig) *Addresses {
	a := &Addresses{
		mac:        cfg.Mac,
		ours:       make(map[netip.Addr]struct{}, len(cfg.Unicast)),
		groups:     make(map[netip.Addr]struct{}, len(cfg.Groups)),
		deniedMacs: make(map[core.MacAddress]struct{}, len(cfg.DeniedMacs)),
		denied:     cfg.DeniedSources,
	}
	for _, ip := range cfg.Unicast {
		a.ours[ip.Unmap()] = struct{}{}
	}
	for _, g := range cfg.Groups {
		a.groups[g.Unmap()] = struct{}{}
	}
	for _, m := range cfg.DeniedMacs {
		a.deniedMacs[m] = struct{}{}
	}
	if a.denied == nil {
		a.denied = &PrefixList{}
	}
	return a
}

// OurMac returns the hardware address of the receiving interface.
func (a *Addresses) OurMac() core.MacAddress { return a.mac }

// IsOneOfOurs reports whether ip is assigned to us.
func (a *Addresses) IsOneOfOurs(ip netip.Addr) bool {
	_, ok := a.ours[ip]
	return ok
}

// HasJoined reports whether we are a member of the multicast group.
func (a *Addresses) HasJoined(group netip.Addr) bool {
	_, ok := a.groups[group]
	return ok
}

// IsDeniedMac reports whether frames from mac must be dropped.
func (a *Addresses) IsDeniedMac(mac core.MacAddress) bool {
	_, ok := a.deniedMacs[mac]
	return ok
}

// IsDeniedSource reports whether the longest matching deny-list entry for ip denies it.
func (a *Addresses) IsDeniedSource(ip netip.Addr) bool {
	return a.denied.Denied(ip)
}

// Unicast returns our host addresses. Intended for logging, not the packet path.
func (a *Addresses) Unicast() []netip.Addr {
	out := make([]netip.Addr, 0, len(a.ours))
	for ip := range a.ours {
		out = append(out, ip)
	}
	return out
}

// Groups returns the joined multicast groups.
func (a *Addresses) Groups() []netip.Addr {
	out := make([]netip.Addr, 0, len(a.groups))
	for g := range a.groups {
		out = append(out, g)
	}
	return out
}
