package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

func TestMacAddressClassification(t *testing.T) {
	tests := []struct {
		mac                                               MacAddress
		group, broadcast, multicast, validUnicast, isZero bool
	}{
		{MacAddress{0x02, 0, 0, 0, 0, 1}, false, false, false, true, false},
		{ZeroMac, false, false, false, false, true},
		{BroadcastMac, true, true, false, false, false},
		{MacAddress{0x01, 0x00, 0x5e, 0x01, 0x02, 0x03}, true, false, true, false, false},
		{MacAddress{0x33, 0x33, 0, 0, 0, 1}, true, false, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mac.String(), func(t *testing.T) {
			if got := tt.mac.IsGroup(); got != tt.group {
				t.Errorf("IsGroup() = %v, want %v", got, tt.group)
			}
			if got := tt.mac.IsBroadcast(); got != tt.broadcast {
				t.Errorf("IsBroadcast() = %v, want %v", got, tt.broadcast)
			}
			if got := tt.mac.IsMulticast(); got != tt.multicast {
				t.Errorf("IsMulticast() = %v, want %v", got, tt.multicast)
			}
			if got := tt.mac.IsValidUnicast(); got != tt.validUnicast {
				t.Errorf("IsValidUnicast() = %v, want %v", got, tt.validUnicast)
			}
			if got := tt.mac.IsZero(); got != tt.isZero {
				t.Errorf("IsZero() = %v, want %v", got, tt.isZero)
			}
		})
	}

	if !(MacAddress{0x02, 0, 0, 0, 0, 1}).IsLocallyAdministered() {
		t.Error("expected locally administered bit")
	}
}

func TestParseMacAddress(t *testing.T) {
	mac, err := ParseMacAddress("aa:bb:cc:00:00:01")
	if err != nil {
		t.Fatalf("ParseMacAddress failed: %v", err)
	}
	if mac != (MacAddress{0xaa, 0xbb, 0xcc, 0, 0, 1}) {
		t.Errorf("unexpected MAC %v", mac)
	}
	if mac.String() != "aa:bb:cc:00:00:01" {
		t.Errorf("String() = %q", mac.String())
	}

	for _, bad := range []string{"", "aa:bb:cc", "00:00:00:00:00:00:00:00", "zz:bb:cc:00:00:01"} {
		if _, err := ParseMacAddress(bad); !errors.Is(err, ErrInvalidMacAddress) {
			t.Errorf("ParseMacAddress(%q) error = %v, want ErrInvalidMacAddress", bad, err)
		}
	}
}

func TestEtherType(t *testing.T) {
	if !EtherType(0x05DC).IsLegacyFrameSize() {
		t.Error("1500 should be a legacy frame size")
	}
	if EtherTypeIPv4.IsLegacyFrameSize() {
		t.Error("IPv4 is not a frame size")
	}
	if EtherTypeVLAN.String() != "802.1Q" || EtherType(0x88cc).String() != "0x88cc" {
		t.Errorf("unexpected names %s %s", EtherTypeVLAN, EtherType(0x88cc))
	}
}

func TestTagControlInformation(t *testing.T) {
	tci := NewTagControlInformation(5, true, 42)
	if tci.Priority() != 5 {
		t.Errorf("Priority() = %d, want 5", tci.Priority())
	}
	if !tci.DropEligible() {
		t.Error("DropEligible() = false")
	}
	if tci.VlanID() != 42 {
		t.Errorf("VlanID() = %d, want 42", tci.VlanID())
	}
	if uint16(tci) != 0xB02A {
		t.Errorf("raw TCI = %#04x, want 0xb02a", uint16(tci))
	}
	if !NewTagControlInformation(0, false, VlanIDReserved).HasReservedVlanID() {
		t.Error("0xFFF must be reserved")
	}
}

func TestUnicastAddresses(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.0.0.1", true},
		{"192.0.2.1", true},
		{"0.0.0.0", false},
		{"0.1.2.3", false},
		{"127.0.0.1", false},
		{"224.0.0.1", false},
		{"240.0.0.1", false},
		{"255.255.255.255", false},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::", false},
		{"::1", false},
		{"ff02::1", false},
		{"::ffff:10.0.0.1", false},
	}
	for _, tt := range tests {
		a := netip.MustParseAddr(tt.addr)
		got := IsValidUnicastIPv4(a)
		if a.Is6() {
			got = IsValidUnicastIPv6(a)
		}
		if got != tt.want {
			t.Errorf("%s: valid unicast = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestMulticastMacMapping(t *testing.T) {
	if got := MulticastMacForIPv4(netip.MustParseAddr("239.129.2.3")); got != (MacAddress{0x01, 0x00, 0x5e, 0x01, 0x02, 0x03}) {
		t.Errorf("IPv4 mapping = %v", got)
	}
	if got := MulticastMacForIPv6(netip.MustParseAddr("ff02::1:ff00:1234")); got != (MacAddress{0x33, 0x33, 0xff, 0x00, 0x12, 0x34}) {
		t.Errorf("IPv6 mapping = %v", got)
	}
	if !IsIPv6Documentation(netip.MustParseAddr("2001:db8::1")) || !IsIPv6InterfaceLocal(netip.MustParseAddr("ff01::2")) {
		t.Error("special prefixes not recognised")
	}
}

func TestBufferPool(t *testing.T) {
	bp := NewBufferPool(128)

	b := bp.Get()
	if err := b.Fill(make([]byte, 60)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if b.Len() != 60 || len(b.Bytes()) != 60 {
		t.Errorf("Len() = %d, want 60", b.Len())
	}
	if err := b.Fill(make([]byte, 129)); !errors.Is(err, ErrBufferTooLarge) {
		t.Errorf("Fill oversize error = %v", err)
	}
	b.Free()
	b.Free() // second free is a no-op
	bp.Wait()

	if NewBuffer([]byte{1, 2, 3}).Len() != 3 {
		t.Error("NewBuffer length mismatch")
	}
}

func TestTimestampFrequency(t *testing.T) {
	f := TimestampFrequency()
	if f == 0 {
		t.Fatal("frequency must be positive")
	}
	if TimestampFrequency() != f {
		t.Error("frequency must be measured once")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrPipelineStopped, "ingress: pipeline stopped"},
		{ErrConfigInvalid, "ingress: invalid configuration"},
		{ErrInvalidMacAddress, "ingress: invalid MAC address"},
		{ErrVlanPolicyConflict, "ingress: duplicate VLAN policy"},
	}
	for _, tt := range tests {
		if tt.err.Error() != tt.message {
			t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
		}
		wrapped := fmt.Errorf("context: %w", tt.err)
		if !errors.Is(wrapped, tt.err) {
			t.Errorf("errors.Is failed for wrapped %v", tt.err)
		}
	}
}
