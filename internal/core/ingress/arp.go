package ingress

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/ingress/internal/core"
)

// ARP wire constants (RFC 826), IPv4 over Ethernet only.
const (
	arpHeaderLen     = 8
	arpPacketLen     = 28
	arpHardwareEther = 1
	arpHardwareLen   = 6
	arpProtocolLen   = 4
)

// ARP operations.
const (
	ArpRequest uint16 = 1
	ArpReply   uint16 = 2
)

// ArpMessage is a validated ARP packet.
type ArpMessage struct {
	Operation uint16
	SenderMac core.MacAddress
	SenderIP  netip.Addr
	TargetMac core.MacAddress
	TargetIP  netip.Addr
	Ethernet  core.EthernetAddresses
	// Raw aliases the ARP bytes in the packet buffer.
	Raw []byte
}

// IsProbe reports an RFC 5227 probe: a request with an unspecified sender.
func (m *ArpMessage) IsProbe() bool {
	return m.Operation == ArpRequest && m.SenderIP == netip.IPv4Unspecified()
}

// ArpProcessor classifies requests, replies, probes and announcements.
// It keeps no state between packets.
type ArpProcessor struct {
	*env
}

// Process validates the ARP packet in l3.
func (p *ArpProcessor) Process(pkt core.PacketBuffer, l3 []byte, addrs core.EthernetAddresses) {
	if len(l3) < arpPacketLen {
		p.reject(pkt, LayerArp, ArpPacketTooShort, l3, uint32(len(l3)), addrs)
		return
	}
	hdr := l3[:arpHeaderLen]
	if v := binary.BigEndian.Uint16(l3[0:2]); v != arpHardwareEther {
		p.reject(pkt, LayerArp, ArpHardwareTypeUnsupported, hdr, uint32(v), addrs)
		return
	}
	if v := core.EtherType(binary.BigEndian.Uint16(l3[2:4])); v != core.EtherTypeIPv4 {
		p.reject(pkt, LayerArp, ArpProtocolTypeUnsupported, hdr, uint32(v), addrs)
		return
	}
	if l3[4] != arpHardwareLen {
		p.reject(pkt, LayerArp, ArpHardwareAddressLengthInvalid, hdr, uint32(l3[4]), addrs)
		return
	}
	if l3[5] != arpProtocolLen {
		p.reject(pkt, LayerArp, ArpProtocolAddressLengthInvalid, hdr, uint32(l3[5]), addrs)
		return
	}
	if len(l3) != arpPacketLen && !p.paddedFrame(pkt, l3) {
		p.reject(pkt, LayerArp, ArpPacketLengthInvalid, hdr, uint32(len(l3)), addrs)
		return
	}

	msg := &p.arpMsg
	*msg = ArpMessage{
		Operation: binary.BigEndian.Uint16(l3[6:8]),
		SenderMac: core.MacFromSlice(l3[8:14]),
		SenderIP:  core.IPv4FromSlice(l3[14:18]),
		TargetMac: core.MacFromSlice(l3[18:24]),
		TargetIP:  core.IPv4FromSlice(l3[24:28]),
		Ethernet:  addrs,
		Raw:       l3[:arpPacketLen],
	}
	defer func() { *msg = ArpMessage{} }()

	if msg.Operation != ArpRequest && msg.Operation != ArpReply {
		p.reject(pkt, LayerArp, ArpOperationUnsupported, hdr, uint32(msg.Operation), addrs)
		return
	}
	if msg.SenderMac != addrs.Source {
		p.reject(pkt, LayerArp, HardwareAndPacketSourceEthernetAddressMismatch, msg.Raw, 0, addrs)
		return
	}

	if msg.Operation == ArpRequest {
		p.request(pkt, msg)
		return
	}
	p.reply(pkt, msg)
}

func (p *ArpProcessor) request(pkt core.PacketBuffer, msg *ArpMessage) {
	addrs := msg.Ethernet
	if addrs.Destination.IsMulticast() {
		p.reject(pkt, LayerArp, ArpRequestDestinationIsMulticast, msg.Raw, 0, addrs)
		return
	}

	if msg.IsProbe() {
		if p.cfg.RejectArpProbeWithNonZeroTargetHardwareAddress && !msg.TargetMac.IsZero() {
			p.reject(pkt, LayerArp, ProbeTargetHardwareAddressNotZero, msg.Raw, 0, addrs)
			return
		}
		if !p.Addresses.IsOneOfOurs(msg.TargetIP) {
			p.reject(pkt, LayerArp, ProbeIsNotForUs, msg.Raw, 0, addrs)
			return
		}
		p.ArpResponder.ReplyToProbe(msg)
		p.reject(pkt, LayerArp, ReuseInReply, msg.Raw, 0, addrs)
		return
	}

	if !addrs.Destination.IsBroadcast() {
		p.reject(pkt, LayerArp, ArpRequestDestinationNotBroadcast, msg.Raw, 0, addrs)
		return
	}
	if !core.IsValidUnicastIPv4(msg.SenderIP) {
		p.reject(pkt, LayerArp, ArpRequestSenderProtocolAddressNotValidUnicast, msg.Raw, 0, addrs)
		return
	}
	if p.Addresses.IsOneOfOurs(msg.SenderIP) {
		p.ArpResponder.DefendAddress(msg)
		p.reject(pkt, LayerArp, ReuseInReply, msg.Raw, 0, addrs)
		return
	}
	if msg.SenderIP == msg.TargetIP {
		// Announcement.
		p.ArpCache.Record(msg.SenderMac, msg.SenderIP)
		pkt.Free()
		return
	}
	if p.Addresses.IsOneOfOurs(msg.TargetIP) {
		p.ArpResponder.ReplyToRequest(msg)
		p.reject(pkt, LayerArp, ReuseInReply, msg.Raw, 0, addrs)
		return
	}
	p.reject(pkt, LayerArp, BroadcastIsNotForUs, msg.Raw, 0, addrs)
}

func (p *ArpProcessor) reply(pkt core.PacketBuffer, msg *ArpMessage) {
	addrs := msg.Ethernet
	if p.Addresses.IsOneOfOurs(msg.SenderIP) {
		p.ArpResponder.DefendAddress(msg)
		p.reject(pkt, LayerArp, ReuseInReply, msg.Raw, 0, addrs)
		return
	}

	gratuitous := msg.SenderIP == msg.TargetIP && (msg.TargetMac.IsBroadcast() || msg.TargetMac.IsZero())
	if gratuitous {
		if !core.IsValidUnicastIPv4(msg.SenderIP) {
			p.reject(pkt, LayerArp, GratuitousReplySenderNotValidUnicast, msg.Raw, 0, addrs)
			return
		}
		p.ArpCache.Record(msg.SenderMac, msg.SenderIP)
		pkt.Free()
		return
	}

	var r Reason
	switch {
	case addrs.Destination != msg.TargetMac:
		r = ReplyDestinationAndTargetHardwareAddressMismatch
	case !msg.TargetMac.IsValidUnicast():
		r = ReplyTargetHardwareAddressNotValidUnicast
	case msg.SenderIP == msg.TargetIP:
		r = ReplySenderAndTargetProtocolAddressSame
	case !core.IsValidUnicastIPv4(msg.SenderIP):
		r = ReplySenderProtocolAddressNotValidUnicast
	case !core.IsValidUnicastIPv4(msg.TargetIP):
		r = ReplyTargetProtocolAddressNotValidUnicast
	default:
		p.ArpCache.Record(msg.SenderMac, msg.SenderIP)
		pkt.Free()
		return
	}
	p.reject(pkt, LayerArp, r, msg.Raw, 0, addrs)
}
