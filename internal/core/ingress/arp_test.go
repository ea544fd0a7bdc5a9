package ingress

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"

	"firestige.xyz/ingress/internal/core"
)

type arpFrame struct {
	dst, src           core.MacAddress
	op                 uint16
	senderMac          core.MacAddress
	senderIP, targetIP netip.Addr
	targetMac          core.MacAddress
}

// build serializes the frame through gopacket, which pads it to 60 bytes.
func (f arpFrame) build(t *testing.T) []byte {
	t.Helper()
	return serialize(t,
		&layers.Ethernet{SrcMAC: hw(f.src), DstMAC: hw(f.dst), EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         f.op,
			SourceHwAddress:   f.senderMac[:],
			SourceProtAddress: f.senderIP.AsSlice(),
			DstHwAddress:      f.targetMac[:],
			DstProtAddress:    f.targetIP.AsSlice(),
		})
}

func request(sender, target netip.Addr) arpFrame {
	return arpFrame{dst: core.BroadcastMac, src: peerMac, op: layers.ARPRequest, senderMac: peerMac, senderIP: sender, targetIP: target}
}

func TestArpProbeForUs(t *testing.T) {
	h := newHarness(t)
	h.process(request(netip.IPv4Unspecified(), ourIPv4).build(t), nil)

	assert.Len(t, h.probes, 1)
	assert.Empty(t, h.requests)
	assert.Empty(t, h.cached)
	for _, d := range h.drops {
		assert.False(t, d.Reason.IsFailure(), "unexpected failure %s", d.Reason)
	}
	assert.Equal(t, ourIPv4, h.probes[0].TargetIP)
	assert.True(t, h.probes[0].IsProbe())
}

func TestArpProbeNotForUs(t *testing.T) {
	h := newHarness(t)
	h.process(request(netip.IPv4Unspecified(), peerIPv4).build(t), nil)
	h.requireDrop(ProbeIsNotForUs)
	assert.Empty(t, h.probes)
}

func TestArpProbeTargetHardwareAddress(t *testing.T) {
	probe := request(netip.IPv4Unspecified(), ourIPv4)
	probe.targetMac = peerMac

	h := newHarness(t)
	h.process(probe.build(t), nil)
	assert.Len(t, h.probes, 1)

	h = newHarness(t, withConfig(func(c *Config) { c.RejectArpProbeWithNonZeroTargetHardwareAddress = true }))
	h.process(probe.build(t), nil)
	h.requireDrop(ProbeTargetHardwareAddressNotZero)
	assert.Empty(t, h.probes)
}

func TestArpAnnouncement(t *testing.T) {
	announced := netip.MustParseAddr("10.0.0.9")
	h := newHarness(t)
	h.process(request(announced, announced).build(t), nil)

	assert.Empty(t, h.drops)
	assert.Empty(t, h.probes)
	assert.Empty(t, h.requests)
	assert.Equal(t, []netip.Addr{announced}, h.cached)
	assert.Equal(t, []core.MacAddress{peerMac}, h.cachedMac)
}

func TestArpRequestForUs(t *testing.T) {
	h := newHarness(t)
	h.process(request(peerIPv4, ourIPv4).build(t), nil)

	d := h.requireDrop(ReuseInReply)
	assert.False(t, d.Reason.IsFailure())
	want := ArpMessage{
		Operation: ArpRequest,
		SenderMac: peerMac,
		SenderIP:  peerIPv4,
		TargetIP:  ourIPv4,
		Ethernet:  core.EthernetAddresses{Source: peerMac, Destination: core.BroadcastMac},
	}
	if diff := cmp.Diff(want, h.requests[0], cmp.Comparer(func(a, b netip.Addr) bool { return a == b }), cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Raw"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestArpRequestClassification(t *testing.T) {
	multicast := core.MacAddress{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	tests := []struct {
		name  string
		frame arpFrame
		want  Reason
	}{
		{"spoofed sender hardware address", arpFrame{dst: core.BroadcastMac, src: core.MacAddress{0xAA, 0xBB, 0xCC, 0, 0, 1}, op: layers.ARPRequest,
			senderMac: core.MacAddress{0xAA, 0xBB, 0xCC, 0, 0, 2}, senderIP: peerIPv4, targetIP: ourIPv4}, HardwareAndPacketSourceEthernetAddressMismatch},
		{"multicast destination", arpFrame{dst: multicast, src: peerMac, op: layers.ARPRequest, senderMac: peerMac, senderIP: peerIPv4, targetIP: ourIPv4},
			ArpRequestDestinationIsMulticast},
		{"unicast destination", arpFrame{dst: ourMac, src: peerMac, op: layers.ARPRequest, senderMac: peerMac, senderIP: peerIPv4, targetIP: ourIPv4},
			ArpRequestDestinationNotBroadcast},
		{"sender loopback", request(netip.MustParseAddr("127.0.0.1"), ourIPv4), ArpRequestSenderProtocolAddressNotValidUnicast},
		{"sender is us", request(ourIPv4, peerIPv4), ReuseInReply},
		{"not for us", request(peerIPv4, netip.MustParseAddr("10.0.0.3")), BroadcastIsNotForUs},
		{"unsupported operation", arpFrame{dst: core.BroadcastMac, src: peerMac, op: 3, senderMac: peerMac, senderIP: peerIPv4, targetIP: ourIPv4},
			ArpOperationUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.process(tt.frame.build(t), nil)
			d := h.requireDrop(tt.want)
			assert.Equal(t, LayerArp, d.Layer)
		})
	}
}

func TestArpSenderIsUsDefends(t *testing.T) {
	h := newHarness(t)
	h.process(request(ourIPv4, peerIPv4).build(t), nil)
	assert.Len(t, h.defends, 1)

	reply := arpFrame{dst: ourMac, src: peerMac, op: layers.ARPReply, senderMac: peerMac, senderIP: ourIPv4, targetMac: ourMac, targetIP: peerIPv4}
	h.process(reply.build(t), nil)
	assert.Len(t, h.defends, 2)
	assert.Empty(t, h.cached)
}

func TestArpReply(t *testing.T) {
	valid := arpFrame{dst: ourMac, src: peerMac, op: layers.ARPReply, senderMac: peerMac, senderIP: peerIPv4, targetMac: ourMac, targetIP: ourIPv4}

	h := newHarness(t)
	h.process(valid.build(t), nil)
	assert.Empty(t, h.drops)
	assert.Equal(t, []netip.Addr{peerIPv4}, h.cached)

	gratuitous := arpFrame{dst: core.BroadcastMac, src: peerMac, op: layers.ARPReply, senderMac: peerMac, senderIP: peerIPv4, targetMac: core.BroadcastMac, targetIP: peerIPv4}
	h.process(gratuitous.build(t), nil)
	assert.Len(t, h.cached, 2)

	badGratuitous := gratuitous
	badGratuitous.senderIP, badGratuitous.targetIP = netip.MustParseAddr("224.0.0.1"), netip.MustParseAddr("224.0.0.1")
	h.process(badGratuitous.build(t), nil)
	h.requireDrop(GratuitousReplySenderNotValidUnicast)

	tests := []struct {
		name   string
		mutate func(*arpFrame)
		want   Reason
	}{
		{"destination differs from target", func(f *arpFrame) { f.targetMac = core.MacAddress{0x02, 0, 0, 0, 0, 9} }, ReplyDestinationAndTargetHardwareAddressMismatch},
		{"broadcast target", func(f *arpFrame) { f.dst, f.targetMac = core.BroadcastMac, core.BroadcastMac }, ReplyTargetHardwareAddressNotValidUnicast},
		{"same protocol addresses", func(f *arpFrame) { f.targetIP = f.senderIP }, ReplySenderAndTargetProtocolAddressSame},
		{"sender loopback", func(f *arpFrame) { f.senderIP = netip.MustParseAddr("127.0.0.5") }, ReplySenderProtocolAddressNotValidUnicast},
		{"target zero", func(f *arpFrame) { f.targetIP = netip.IPv4Unspecified() }, ReplyTargetProtocolAddressNotValidUnicast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			h := newHarness(t)
			h.process(f.build(t), nil)
			h.requireDrop(tt.want)
			assert.Empty(t, h.cached)
		})
	}
}

func TestArpHeaderValidation(t *testing.T) {
	good := request(peerIPv4, ourIPv4).build(t)
	arp := func(mutate func(b []byte)) []byte {
		f := append([]byte(nil), good...)
		mutate(f[core.EthernetHeaderLen:])
		return f
	}
	tests := []struct {
		name  string
		frame []byte
		want  Reason
	}{
		{"too short", ethernet(core.BroadcastMac, peerMac, core.EtherTypeARP, good[14:30]), ArpPacketTooShort},
		{"hardware type", arp(func(b []byte) { b[1] = 6 }), ArpHardwareTypeUnsupported},
		{"protocol type", arp(func(b []byte) { b[2], b[3] = 0x86, 0xDD }), ArpProtocolTypeUnsupported},
		{"hardware length", arp(func(b []byte) { b[4] = 8 }), ArpHardwareAddressLengthInvalid},
		{"protocol length", arp(func(b []byte) { b[5] = 16 }), ArpProtocolAddressLengthInvalid},
		{"trailing bytes", ethernet(core.BroadcastMac, peerMac, core.EtherTypeARP, append(append([]byte(nil), good[14:42]...), make([]byte, 20)...)), ArpPacketLengthInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.process(tt.frame, nil)
			h.requireDrop(tt.want)
		})
	}

	// Unpadded 42-byte frame.
	h := newHarness(t)
	h.process(good[:42], nil)
	assert.Len(t, h.requests, 1)

	h = newHarness(t, withConfig(func(c *Config) { c.AcceptEthernetPadding = false }))
	h.process(good, nil)
	h.requireDrop(ArpPacketLengthInvalid)
}
