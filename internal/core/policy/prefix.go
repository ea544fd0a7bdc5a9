package policy

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// PrefixList is a longest-prefix-match table of deny and allow entries.
// The most specific matching entry decides; no match means allowed.
type PrefixList struct {
	v4 lpmTable
	v6 lpmTable
}

type lpmTable struct {
	lengths []int // distinct prefix lengths, longest first
	entries map[netip.Prefix]bool
}

// ParsePrefixList parses entries such as "10.0.0.0/8" (deny) or "!10.1.0.0/16"
// (allow). A bare address is a host route.
func ParsePrefixList(entries []string) (*PrefixList, error) {
	pl := &PrefixList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		deny := true
		if strings.HasPrefix(e, "!") {
			deny = false
			e = strings.TrimSpace(e[1:])
		}
		var p netip.Prefix
		var err error
		if strings.Contains(e, "/") {
			p, err = netip.ParsePrefix(e)
		} else {
			var a netip.Addr
			a, err = netip.ParseAddr(e)
			if err == nil {
				p = netip.PrefixFrom(a, a.BitLen())
			}
		}
		if err != nil {
			return nil, fmt.Errorf("invalid deny-list entry %q: %w", e, err)
		}
		pl.Insert(p, deny)
	}
	return pl, nil
}

// Insert adds or replaces an entry.
func (pl *PrefixList) Insert(p netip.Prefix, deny bool) {
	p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()).Masked()
	if p.Addr().Is4() {
		pl.v4.insert(p, deny)
	} else {
		pl.v6.insert(p, deny)
	}
}

// Denied reports whether ip is denied.
func (pl *PrefixList) Denied(ip netip.Addr) bool {
	if ip.Is4() {
		return pl.v4.lookup(ip)
	}
	return pl.v6.lookup(ip)
}

// Len returns the number of entries.
func (pl *PrefixList) Len() int {
	return len(pl.v4.entries) + len(pl.v6.entries)
}

func (t *lpmTable) insert(p netip.Prefix, deny bool) {
	if t.entries == nil {
		t.entries = make(map[netip.Prefix]bool)
	}
	t.entries[p] = deny
	if !slices.Contains(t.lengths, p.Bits()) {
		t.lengths = append(t.lengths, p.Bits())
		slices.SortFunc(t.lengths, func(a, b int) int { return b - a })
	}
}

func (t *lpmTable) lookup(ip netip.Addr) bool {
	for _, bits := range t.lengths {
		p, err := ip.Prefix(bits)
		if err != nil {
			continue
		}
		if deny, ok := t.entries[p]; ok {
			return deny
		}
	}
	return false
}
