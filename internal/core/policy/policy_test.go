package policy

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ingress/internal/core"
)

func TestPrefixListLongestMatchWins(t *testing.T) {
	pl, err := ParsePrefixList([]string{"10.0.0.0/8", "!10.1.0.0/16", "10.1.2.3", "2001:db8::/32"})
	require.NoError(t, err)

	assert.True(t, pl.Denied(netip.MustParseAddr("10.9.9.9")))
	assert.False(t, pl.Denied(netip.MustParseAddr("10.1.9.9")))
	assert.True(t, pl.Denied(netip.MustParseAddr("10.1.2.3")))
	assert.False(t, pl.Denied(netip.MustParseAddr("192.168.0.1")))
	assert.True(t, pl.Denied(netip.MustParseAddr("2001:db8::1")))
	assert.False(t, pl.Denied(netip.MustParseAddr("2001:db9::1")))
	assert.Equal(t, 4, pl.Len())
}

func TestPrefixListRejectsGarbage(t *testing.T) {
	_, err := ParsePrefixList([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParsePrefixList([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestPrefixListEmptyAllowsAll(t *testing.T) {
	var pl PrefixList
	assert.False(t, pl.Denied(netip.MustParseAddr("1.2.3.4")))
	assert.False(t, pl.Denied(netip.MustParseAddr("::2")))
}

func TestAddresses(t *testing.T) {
	mac := core.MacAddress{0x02, 0, 0, 0, 0, 1}
	bad := core.MacAddress{0x02, 0, 0, 0, 0, 9}
	deny, err := ParsePrefixList([]string{"203.0.113.0/24"})
	require.NoError(t, err)

	a := NewAddresses(AddressesConfig{
		Mac:           mac,
		Unicast:       []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("fe80::1")},
		Groups:        []netip.Addr{netip.MustParseAddr("239.1.1.1")},
		DeniedMacs:    []core.MacAddress{bad},
		DeniedSources: deny,
	})

	assert.Equal(t, mac, a.OurMac())
	assert.True(t, a.IsOneOfOurs(netip.MustParseAddr("192.0.2.1")))
	assert.True(t, a.IsOneOfOurs(netip.MustParseAddr("fe80::1")))
	assert.False(t, a.IsOneOfOurs(netip.MustParseAddr("192.0.2.2")))
	assert.True(t, a.HasJoined(netip.MustParseAddr("239.1.1.1")))
	assert.False(t, a.HasJoined(netip.MustParseAddr("239.1.1.2")))
	assert.True(t, a.IsDeniedMac(bad))
	assert.False(t, a.IsDeniedMac(mac))
	assert.True(t, a.IsDeniedSource(netip.MustParseAddr("203.0.113.7")))
	assert.Len(t, a.Unicast(), 2)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("239.1.1.1")}, a.Groups())
}

func TestVlanTable(t *testing.T) {
	tbl := NewVlanTable(false)
	require.NoError(t, tbl.AddVlan(10, TagPolicy{AllowedPriorities: AllPriorities}))
	require.NoError(t, tbl.AddQinQ(100, 10, QinQPolicy{Outer: TagPolicy{HonourDropEligible: true}}))

	err := tbl.AddVlan(10, TagPolicy{})
	assert.ErrorIs(t, err, core.ErrVlanPolicyConflict)

	_, ok := tbl.Vlan(10)
	assert.True(t, ok)
	_, ok = tbl.Vlan(42)
	assert.False(t, ok)
	p, ok := tbl.QinQ(100, 10)
	assert.True(t, ok)
	assert.True(t, p.Outer.HonourDropEligible)
	_, ok = tbl.QinQ(10, 100)
	assert.False(t, ok)
	assert.False(t, tbl.Untagged())
	assert.Equal(t, 2, tbl.Len())
}

func TestTagPolicyPriorities(t *testing.T) {
	p := TagPolicy{AllowedPriorities: 1<<0 | 1<<5}
	assert.True(t, p.AllowsPriority(0))
	assert.True(t, p.AllowsPriority(5))
	assert.False(t, p.AllowsPriority(7))
}
