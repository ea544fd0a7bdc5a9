// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Ethernet header layout.
const (
	EthernetHeaderLen = 14 // dst(6) + src(6) + EtherType(2)
	VlanTagLen        = 4  // TCI(2) + inner EtherType(2)
)

// MacAddress is a 48-bit IEEE 802 hardware address.
type MacAddress [6]byte

var (
	// ZeroMac is the all-zero address.
	ZeroMac = MacAddress{}
	// BroadcastMac is ff:ff:ff:ff:ff:ff.
	BroadcastMac = MacAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// MacFromSlice copies the first 6 bytes of b. b must hold at least 6 bytes.
func MacFromSlice(b []byte) MacAddress {
	return MacAddress(b[:6])
}

// ParseMacAddress parses colon or dash separated hex octets.
func ParseMacAddress(s string) (MacAddress, error) {
	var mac MacAddress
	s = strings.ReplaceAll(s, "-", ":")
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return mac, fmt.Errorf("%w: %q", ErrInvalidMacAddress, s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return mac, fmt.Errorf("%w: %q", ErrInvalidMacAddress, s)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return mac, fmt.Errorf("%w: %q", ErrInvalidMacAddress, s)
		}
		mac[i] = b[0]
	}
	return mac, nil
}

// IsGroup reports whether the I/G bit is set (multicast or broadcast).
func (m MacAddress) IsGroup() bool { return m[0]&0x01 != 0 }

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MacAddress) IsBroadcast() bool { return m == BroadcastMac }

// IsMulticast reports whether m is a group address other than broadcast.
func (m MacAddress) IsMulticast() bool { return m.IsGroup() && !m.IsBroadcast() }

// IsUnicast reports whether the I/G bit is clear.
func (m MacAddress) IsUnicast() bool { return !m.IsGroup() }

// IsZero reports whether m is 00:00:00:00:00:00.
func (m MacAddress) IsZero() bool { return m == ZeroMac }

// IsLocallyAdministered reports whether the U/L bit is set.
func (m MacAddress) IsLocallyAdministered() bool { return m[0]&0x02 != 0 }

// IsValidUnicast reports whether m is unicast and not all-zero.
func (m MacAddress) IsValidUnicast() bool { return m.IsUnicast() && !m.IsZero() }

func (m MacAddress) String() string {
	const hexDigits = "0123456789abcdef"
	var buf [17]byte
	for i, b := range m {
		if i > 0 {
			buf[i*3-1] = ':'
		}
		buf[i*3] = hexDigits[b>>4]
		buf[i*3+1] = hexDigits[b&0x0f]
	}
	return string(buf[:])
}

// EthernetAddresses is the {source, destination} pair of a frame. It is carried
// through every layer for the address guards and for dispatch context.
type EthernetAddresses struct {
	Source      MacAddress
	Destination MacAddress
}

// EtherType is the Ethernet II type field, or an 802.3 frame size when below 0x0600.
type EtherType uint16

// EtherType values
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeVLAN EtherType = 0x8100 // IEEE 802.1Q
	EtherTypeQinQ EtherType = 0x88A8 // IEEE 802.1ad service tag
	EtherTypeIPv6 EtherType = 0x86DD

	// Values at or above this are EtherTypes; below it the field is an 802.3 length.
	etherTypeMinimum EtherType = 0x0600
)

// IsLegacyFrameSize reports whether the field holds an IEEE 802.3 payload size.
func (e EtherType) IsLegacyFrameSize() bool { return e < etherTypeMinimum }

func (e EtherType) String() string {
	switch e {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeVLAN:
		return "802.1Q"
	case EtherTypeQinQ:
		return "802.1ad"
	case EtherTypeIPv6:
		return "IPv6"
	}
	return fmt.Sprintf("0x%04x", uint16(e))
}

// TagControlInformation is the 16-bit 802.1Q TCI: PCP(3) | DEI(1) | VID(12).
type TagControlInformation uint16

// VLAN identifiers with special meaning.
const (
	VlanIDNone     uint16 = 0x000 // priority-tagged frame, no VLAN membership
	VlanIDReserved uint16 = 0xFFF
)

// Priority returns the 3-bit class of service (PCP).
func (t TagControlInformation) Priority() uint8 { return uint8(t >> 13) }

// DropEligible returns the DEI bit.
func (t TagControlInformation) DropEligible() bool { return t&0x1000 != 0 }

// VlanID returns the 12-bit VLAN identifier.
func (t TagControlInformation) VlanID() uint16 { return uint16(t) & 0x0FFF }

// HasReservedVlanID reports whether the identifier is the reserved value 0xFFF.
func (t TagControlInformation) HasReservedVlanID() bool { return t.VlanID() == VlanIDReserved }

// NewTagControlInformation packs the three TCI fields.
func NewTagControlInformation(priority uint8, dropEligible bool, vlanID uint16) TagControlInformation {
	tci := TagControlInformation(priority&0x7)<<13 | TagControlInformation(vlanID&0x0FFF)
	if dropEligible {
		tci |= 0x1000
	}
	return tci
}
