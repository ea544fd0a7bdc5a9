// Package core defines host address helpers.
package core

import "net/netip"

var (
	ipv4Broadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

	ipv6Documentation  = netip.MustParsePrefix("2001:db8::/32")
	ipv6InterfaceLocal = netip.MustParsePrefix("ff01::/16")
	ipv6V4Mapped       = netip.MustParsePrefix("::ffff:0:0/96")
)

// IPv4FromSlice builds an IPv4 address from the first 4 bytes of b.
func IPv4FromSlice(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte(b[:4]))
}

// IPv6FromSlice builds an IPv6 address from the first 16 bytes of b.
func IPv6FromSlice(b []byte) netip.Addr {
	return netip.AddrFrom16([16]byte(b[:16]))
}

// IsIPv4Broadcast reports whether a is the limited broadcast 255.255.255.255.
func IsIPv4Broadcast(a netip.Addr) bool { return a == ipv4Broadcast }

// IsValidUnicastIPv4 reports whether a may appear as a host address on the wire:
// not in 0.0.0.0/8, loopback, multicast, reserved class E or broadcast.
func IsValidUnicastIPv4(a netip.Addr) bool {
	if !a.Is4() {
		return false
	}
	b := a.As4()
	switch {
	case b[0] == 0:
		return false
	case b[0] == 127:
		return false
	case b[0] >= 224:
		return false
	}
	return true
}

// IsValidUnicastIPv6 reports whether a may appear as a host address on the wire:
// not unspecified, loopback, multicast or IPv4-mapped.
func IsValidUnicastIPv6(a netip.Addr) bool {
	if !a.Is6() || ipv6V4Mapped.Contains(a) {
		return false
	}
	return !a.IsUnspecified() && !a.IsLoopback() && !a.IsMulticast()
}

// IsIPv6Documentation reports whether a is in 2001:db8::/32 (RFC 3849).
func IsIPv6Documentation(a netip.Addr) bool { return ipv6Documentation.Contains(a) }

// IsIPv6InterfaceLocal reports whether a is an interface-local multicast address (ff01::/16).
func IsIPv6InterfaceLocal(a netip.Addr) bool { return ipv6InterfaceLocal.Contains(a) }

// MulticastMacForIPv4 maps an IPv4 group to 01:00:5e + low 23 bits (RFC 1112 §6.4).
func MulticastMacForIPv4(a netip.Addr) MacAddress {
	b := a.As4()
	return MacAddress{0x01, 0x00, 0x5e, b[1] & 0x7f, b[2], b[3]}
}

// MulticastMacForIPv6 maps an IPv6 group to 33:33 + low 32 bits (RFC 2464 §7).
func MulticastMacForIPv6(a netip.Addr) MacAddress {
	b := a.As16()
	return MacAddress{0x33, 0x33, b[12], b[13], b[14], b[15]}
}
