package ingress

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/ingress/internal/core"
)

const (
	ipv6HeaderLen  = 40
	ipv6MinimumMTU = 1280
	udpHeaderLen   = 8
)

// ipv6Header is a checked view of the fixed IPv6 header.
type ipv6Header struct {
	raw      []byte
	length   int // fixed header plus payload
	src, dst netip.Addr
	kind     DestinationKind
	addrs    core.EthernetAddresses
}

// IPv6Processor validates the IPv6 header and extension chain and dispatches
// ICMPv6, TCP and UDP.
type IPv6Processor struct {
	*env
	frags *reassembler
}

// Process validates the IPv6 packet in l3.
func (p *IPv6Processor) Process(pkt core.PacketBuffer, l3 []byte, addrs core.EthernetAddresses, hw hardwareChecksums) {
	if len(l3) < ipv6HeaderLen {
		p.reject(pkt, LayerIPv6, IPv6PacketTooShort, l3, uint32(len(l3)), addrs)
		return
	}
	fixed := l3[:ipv6HeaderLen]
	if v := l3[0] >> 4; v != 6 {
		p.reject(pkt, LayerIPv6, IPv6VersionInvalid, fixed, uint32(v), addrs)
		return
	}
	payloadLen := int(binary.BigEndian.Uint16(l3[4:6]))
	if total := ipv6HeaderLen + payloadLen; total != len(l3) {
		if !p.paddedFrame(pkt, l3) || total > len(l3) {
			p.reject(pkt, LayerIPv6, IPv6PayloadLengthInvalid, fixed, uint32(payloadLen), addrs)
			return
		}
		l3 = l3[:total]
	}

	h := ipv6Header{
		raw:    fixed,
		length: len(l3),
		src:    core.IPv6FromSlice(l3[8:24]),
		dst:    core.IPv6FromSlice(l3[24:40]),
		addrs:  addrs,
	}
	if !p.checkAddresses(pkt, &h) {
		return
	}
	p.walk(pkt, &h, l3[6], l3[ipv6HeaderLen:], chainState{first: true}, hw)
}

// checkAddresses applies the source and destination rules and records the
// destination kind.
func (p *IPv6Processor) checkAddresses(pkt core.PacketBuffer, h *ipv6Header) bool {
	var r Reason
	switch {
	case !core.IsValidUnicastIPv6(h.src):
		r = SourceAddressNotValidUnicast
	case p.DenyList.IsDeniedSource(h.src):
		r = SourceAddressDenied
	case h.dst.IsLoopback():
		r = DestinationAddressLoopback
	case core.IsIPv6Documentation(h.dst):
		r = DestinationAddressDocumentation
	case core.IsIPv6InterfaceLocal(h.dst):
		r = DestinationAddressInterfaceLocal
	case h.dst.IsMulticast():
		h.kind = DestinationMulticast
		if h.addrs.Destination != core.MulticastMacForIPv6(h.dst) {
			r = MulticastEthernetAddressMismatch
		} else if !p.Addresses.HasJoined(h.dst) {
			r = MulticastGroupNotJoined
		}
	case !p.Addresses.IsOneOfOurs(h.dst):
		r = DestinationAddressNotOurs
	}
	if r != 0 {
		p.reject(pkt, LayerIPv6, r, h.raw, 0, h.addrs)
		return false
	}
	return true
}

// dispatch applies the per-protocol rules and hands the payload over.
func (p *IPv6Processor) dispatch(pkt core.PacketBuffer, h *ipv6Header, next uint8, payload []byte, l4Validated, fragmented bool) {
	var r Reason
	switch next {
	case nextICMPv6:
		if fragmented {
			r = IcmpIsFragmented
		}
	case nextTCP:
		if h.kind != DestinationUnicast {
			r = TcpDestinationNotUnicast
		}
	case nextUDP:
		if len(payload) < udpHeaderLen {
			r = UdpPacketTooShort
		} else if binary.BigEndian.Uint16(payload[6:8]) == 0 {
			r = UdpChecksumMissing
		}
	}
	if r != 0 {
		p.reject(pkt, LayerIPv6, r, h.raw, uint32(next), h.addrs)
		return
	}
	p.deliver(pkt, Delivery{
		Protocol:          Layer4Protocol(next),
		Version:           6,
		Payload:           payload,
		Length:            len(payload),
		Source:            h.src,
		Destination:       h.dst,
		Ethernet:          h.addrs,
		Kind:              h.kind,
		ChecksumValidated: l4Validated,
		Reassembled:       fragmented,
	})
}
