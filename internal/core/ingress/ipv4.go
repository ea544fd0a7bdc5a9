package ingress

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/ingress/internal/core"
)

const (
	ipv4HeaderLen = 20

	ipv4FlagReserved      = 0x8000
	ipv4FlagDontFragment  = 0x4000
	ipv4FlagMoreFragments = 0x2000
	ipv4FragmentOffset    = 0x1FFF
)

// ipv4Header is a checked view of the fixed IPv4 header.
type ipv4Header struct {
	raw         []byte // header including options
	totalLength int
	id          uint16
	flags       uint16 // flags and fragment offset
	protocol    uint8
	src, dst    netip.Addr
}

func (h *ipv4Header) moreFragments() bool    { return h.flags&ipv4FlagMoreFragments != 0 }
func (h *ipv4Header) fragmentOffset() uint16 { return h.flags & ipv4FragmentOffset }
func (h *ipv4Header) isFragment() bool       { return h.moreFragments() || h.fragmentOffset() != 0 }

// IPv4Processor validates IPv4 headers and options and dispatches ICMP, TCP
// and UDP.
type IPv4Processor struct {
	*env
	frags *reassembler
}

// Process validates the IPv4 datagram in l3.
func (p *IPv4Processor) Process(pkt core.PacketBuffer, l3 []byte, addrs core.EthernetAddresses, hw hardwareChecksums) {
	if len(l3) < ipv4HeaderLen {
		p.reject(pkt, LayerIPv4, IPv4PacketTooShort, l3, uint32(len(l3)), addrs)
		return
	}
	fixed := l3[:ipv4HeaderLen]
	if v := l3[0] >> 4; v != 4 {
		p.reject(pkt, LayerIPv4, IPv4VersionInvalid, fixed, uint32(v), addrs)
		return
	}

	h := ipv4Header{
		totalLength: int(binary.BigEndian.Uint16(l3[2:4])),
		id:          binary.BigEndian.Uint16(l3[4:6]),
		flags:       binary.BigEndian.Uint16(l3[6:8]),
		protocol:    l3[9],
		src:         core.IPv4FromSlice(l3[12:16]),
		dst:         core.IPv4FromSlice(l3[16:20]),
	}
	if h.totalLength != len(l3) {
		if !p.paddedFrame(pkt, l3) || h.totalLength < ipv4HeaderLen || h.totalLength > len(l3) {
			p.reject(pkt, LayerIPv4, TotalLengthInvalid, fixed, uint32(h.totalLength), addrs)
			return
		}
		l3 = l3[:h.totalLength]
	}

	if !p.validFragmentation(&h) {
		p.reject(pkt, LayerIPv4, InvalidFragmentationFlagsOrIdentification, fixed, uint32(h.flags), addrs)
		return
	}

	ihl := int(l3[0]&0x0F) * 4
	if ihl < ipv4HeaderLen || ihl > h.totalLength {
		p.reject(pkt, LayerIPv4, HeaderLengthInvalid, fixed, uint32(ihl), addrs)
		return
	}
	h.raw = l3[:ihl]

	if ihl > ipv4HeaderLen {
		if p.cfg.RejectIPv4Options {
			p.reject(pkt, LayerIPv4, IPv4OptionsRejected, h.raw, uint32(ihl-ipv4HeaderLen), addrs)
			return
		}
		if !p.walkOptions(pkt, h.raw, h.raw[ipv4HeaderLen:], h.fragmentOffset(), addrs) {
			return
		}
	}

	if !hw.ipHeader && !p.Checksum.Verify(h.raw) {
		p.reject(pkt, LayerIPv4, IPv4HeaderChecksumInvalid, h.raw, uint32(binary.BigEndian.Uint16(l3[10:12])), addrs)
		return
	}

	if h.src == h.dst {
		p.reject(pkt, LayerIPv4, SourceAndDestinationAddressSame, h.raw, 0, addrs)
		return
	}

	payload := l3[ihl:]
	if h.isFragment() {
		p.reassemble(pkt, &h, payload, addrs)
		return
	}
	p.dispatch(pkt, &h, payload, addrs, hw.layer4, false)
}

// validFragmentation implements the RFC 6864 §4 states: atomic (DF, no MF,
// offset 0), last or unfragmented (no MF), and more-fragments (MF).
func (p *IPv4Processor) validFragmentation(h *ipv4Header) bool {
	if h.flags&ipv4FlagReserved != 0 {
		return false
	}
	if h.flags&ipv4FlagDontFragment == 0 {
		return true
	}
	if h.isFragment() {
		return false
	}
	return !p.cfg.RejectDontFragmentWithNonZeroIdentification || h.id == 0
}

// reassemble feeds a fragment to the reassembler. Fragments it stores are
// consumed: the payload is copied and the buffer freed.
func (p *IPv4Processor) reassemble(pkt core.PacketBuffer, h *ipv4Header, payload []byte, addrs core.EthernetAddresses) {
	if p.frags == nil {
		p.reject(pkt, LayerIPv4, FragmentReassemblyDisabled, h.raw, uint32(h.flags), addrs)
		return
	}
	if p.DenyList.IsDeniedSource(h.src) {
		p.reject(pkt, LayerIPv4, SourceAddressDenied, h.raw, 0, addrs)
		return
	}
	if h.moreFragments() && len(payload)%8 != 0 {
		p.reject(pkt, LayerIPv4, FragmentLengthNotMultipleOfEight, h.raw, uint32(len(payload)), addrs)
		return
	}

	key := fragmentKey{src: h.src, dst: h.dst, protocol: h.protocol, id: uint32(h.id)}
	datagram, r := p.frags.add(key, int(h.fragmentOffset())*8, payload, h.moreFragments(), p.Clock())
	switch {
	case r != 0:
		p.reject(pkt, LayerIPv4, r, h.raw, uint32(h.id), addrs)
	case datagram == nil:
		pkt.Free()
	default:
		p.dispatch(&reassembledPacket{carrier: pkt, data: datagram}, h, datagram, addrs, false, true)
	}
}

// dispatch runs the per-protocol address checks and hands the payload over.
func (p *IPv4Processor) dispatch(pkt core.PacketBuffer, h *ipv4Header, payload []byte, addrs core.EthernetAddresses, l4Validated, reassembled bool) {
	d := Delivery{
		Version:           4,
		Payload:           payload,
		Length:            len(payload),
		Source:            h.src,
		Destination:       h.dst,
		Ethernet:          addrs,
		ChecksumValidated: l4Validated,
		Reassembled:       reassembled,
	}

	var r Reason
	switch Layer4Protocol(h.protocol) {
	case ProtocolICMPv4:
		d.Protocol = ProtocolICMPv4
		switch {
		case reassembled:
			r = IcmpIsFragmented
		case !core.IsValidUnicastIPv4(h.src):
			r = IcmpSourceAddressNotValidUnicast
		case !p.Addresses.IsOneOfOurs(h.dst):
			r = IcmpDestinationAddressNotOurs
		case !addrs.Destination.IsValidUnicast():
			r = IcmpDestinationEthernetAddressNotValidUnicast
		}
	case ProtocolTCP:
		d.Protocol = ProtocolTCP
		switch {
		case !core.IsValidUnicastIPv4(h.src):
			r = TcpSourceAddressNotValidUnicast
		case !addrs.Destination.IsValidUnicast():
			r = TcpDestinationEthernetAddressNotValidUnicast
		case !p.Addresses.IsOneOfOurs(h.dst):
			r = TcpDestinationAddressNotOurs
		}
	case ProtocolUDP:
		d.Protocol = ProtocolUDP
		if !h.src.IsUnspecified() && !core.IsValidUnicastIPv4(h.src) {
			r = UdpSourceAddressInvalid
			break
		}
		d.Kind, r = p.classifyUDPDestination(h.dst, addrs)
	default:
		p.reject(pkt, LayerIPv4, UnsupportedLayer4Protocol, h.raw, uint32(h.protocol), addrs)
		return
	}

	if r == 0 && p.DenyList.IsDeniedSource(h.src) {
		r = SourceAddressDenied
	}
	if r != 0 {
		p.reject(pkt, LayerIPv4, r, h.raw, 0, addrs)
		return
	}
	p.deliver(pkt, d)
}

func (p *IPv4Processor) classifyUDPDestination(dst netip.Addr, addrs core.EthernetAddresses) (DestinationKind, Reason) {
	switch {
	case p.Addresses.IsOneOfOurs(dst):
		return DestinationUnicast, 0
	case core.IsIPv4Broadcast(dst):
		return DestinationBroadcast, 0
	case dst.IsMulticast():
		if addrs.Destination != core.MulticastMacForIPv4(dst) {
			return DestinationMulticast, UdpMulticastEthernetAddressMismatch
		}
		if !p.Addresses.HasJoined(dst) {
			return DestinationMulticast, UdpMulticastGroupNotJoined
		}
		return DestinationMulticast, 0
	}
	return DestinationUnicast, UdpDestinationAddressInvalid
}
