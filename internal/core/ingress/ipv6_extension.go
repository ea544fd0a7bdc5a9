package ingress

import (
	"encoding/binary"

	"firestige.xyz/ingress/internal/core"
)

// IPv6 next-header values.
const (
	nextHopByHop           = 0
	nextTCP                = 6
	nextUDP                = 17
	nextRouting            = 43
	nextFragment           = 44
	nextESP                = 50
	nextAuthentication     = 51
	nextICMPv6             = 58
	nextNone               = 59
	nextDestinationOptions = 60
	nextMobility           = 135
	nextHostIdentity       = 139
	nextShim6              = 140
	nextExperimental1      = 253
	nextExperimental2      = 254
)

const (
	extensionHeaderMinLen = 8
	fragmentHeaderLen     = 8
	maxDestinationOptions = 2

	optionPad1       = 0
	optionPadN       = 1
	optionActionSkip = 0 // high two bits of the option type

	fragmentReservedBits  = 0x0006
	fragmentMoreFragments = 0x0001
	fragmentOffsetShift   = 3

	routingTypeSourceRoute = 0 // RFC 5095
	routingTypeNimrod      = 1
	routingTypeExperiment1 = 253
	routingTypeExperiment2 = 254
	routingTypeReserved    = 255
)

// unsupportedExtensionHeaders maps headers we never process to their reason.
var unsupportedExtensionHeaders = map[uint8]Reason{
	nextESP:            EspUnsupported,
	nextAuthentication: AuthenticationHeaderUnsupported,
	nextMobility:       MobilityHeaderUnsupported,
	nextHostIdentity:   HostIdentityProtocolUnsupported,
	nextShim6:          Shim6Unsupported,
	nextExperimental1:  ExperimentalExtensionHeaderUnsupported,
	nextExperimental2:  ExperimentalExtensionHeaderUnsupported,
}

// chainState is what the walk remembers about headers already seen.
type chainState struct {
	first              bool
	routing            bool
	fragment           bool
	destinationOptions int
}

// extensionHeader slices one length-prefixed extension header off data.
// ok is false when data is too short for it.
func extensionHeader(data []byte) (hdr []byte, ok bool) {
	if len(data) < extensionHeaderMinLen {
		return nil, false
	}
	n := (int(data[1]) + 1) * 8
	if len(data) < n {
		return nil, false
	}
	return data[:n], true
}

// optionsReason walks the TLV options of a hop-by-hop or destination
// options header. Only padding is understood; any other option whose action
// bits demand it is discarded.
func optionsReason(hdr []byte) (Reason, uint32) {
	opts := hdr[2:]
	for i := 0; i < len(opts); {
		t := opts[i]
		if t == optionPad1 {
			i++
			continue
		}
		if i+1 >= len(opts) {
			return ExtensionHeaderOptionLengthInvalid, uint32(t)
		}
		next := i + 2 + int(opts[i+1])
		if next > len(opts) {
			return ExtensionHeaderOptionLengthInvalid, uint32(opts[i+1])
		}
		if t != optionPadN && t>>6 != optionActionSkip {
			return ExtensionHeaderOptionMustBeDiscarded, uint32(t)
		}
		i = next
	}
	return 0, 0
}

// routingReason checks a routing header: deprecated, experimental and
// reserved types are refused outright, and we are never an intermediate hop.
func routingReason(hdr []byte) (Reason, uint32) {
	switch t := hdr[2]; t {
	case routingTypeSourceRoute, routingTypeNimrod:
		return RoutingHeaderTypeDeprecated, uint32(t)
	case routingTypeExperiment1, routingTypeExperiment2:
		return RoutingHeaderTypeExperimental, uint32(t)
	case routingTypeReserved:
		return RoutingHeaderTypeReserved, uint32(t)
	}
	if left := hdr[3]; left != 0 {
		return RoutingHeaderSegmentsLeftNonZero, uint32(left)
	}
	return 0, 0
}

// ipv6Fragment is a parsed fragment header.
type ipv6Fragment struct {
	next   uint8
	offset int // bytes
	more   bool
	id     uint32
}

// fragmentReason validates a fragment header and the fragment it carries.
// packetLen is the length of the whole IPv6 packet.
func (p *IPv6Processor) fragmentReason(hdr, rest []byte, packetLen int) (ipv6Fragment, Reason, uint32) {
	field := binary.BigEndian.Uint16(hdr[2:4])
	f := ipv6Fragment{
		next:   hdr[0],
		offset: int(field>>fragmentOffsetShift) * 8,
		more:   field&fragmentMoreFragments != 0,
		id:     binary.BigEndian.Uint32(hdr[4:8]),
	}
	if p.cfg.StrictIPv6FragmentReservedFields && (hdr[1] != 0 || field&fragmentReservedBits != 0) {
		return f, FragmentHeaderReservedFieldsNotZero, uint32(field)
	}
	if f.offset == 0 && !f.more {
		return f, FragmentHeaderIsAtomic, f.id
	}
	if f.more && len(rest)%8 != 0 {
		return f, FragmentLengthNotMultipleOfEight, uint32(len(rest))
	}
	if f.offset+len(rest) > maxDatagramSize {
		return f, FragmentReassembledSizeTooLarge, uint32(f.offset + len(rest))
	}
	if f.more && packetLen < p.cfg.MinimumNonFinalFragmentLength {
		return f, FragmentTooSmall, uint32(packetLen)
	}
	return f, 0, 0
}

// walk follows the extension header chain starting at next and dispatches
// the layer-4 payload. It runs again over a reassembled datagram.
func (p *IPv6Processor) walk(pkt core.PacketBuffer, h *ipv6Header, next uint8, data []byte, st chainState, hw hardwareChecksums) {
	reject := func(r Reason, hdr []byte, v uint32) {
		p.reject(pkt, LayerIPv6, r, hdr, v, h.addrs)
	}
	for ; ; st.first = false {
		if r, ok := unsupportedExtensionHeaders[next]; ok {
			reject(r, h.raw, uint32(next))
			return
		}
		switch next {
		case nextHopByHop, nextDestinationOptions:
			if next == nextHopByHop && !st.first {
				reject(HopByHopOptionsNotFirst, h.raw, uint32(next))
				return
			}
			if next == nextDestinationOptions {
				if st.destinationOptions++; st.destinationOptions > maxDestinationOptions {
					reject(DestinationOptionsHeaderTooMany, h.raw, uint32(st.destinationOptions))
					return
				}
			}
			hdr, ok := extensionHeader(data)
			if !ok {
				reject(ExtensionHeaderTooShort, h.raw, uint32(next))
				return
			}
			if r, v := optionsReason(hdr); r != 0 {
				reject(r, hdr, v)
				return
			}
			next, data = hdr[0], data[len(hdr):]

		case nextRouting:
			if st.routing {
				reject(RoutingHeaderDuplicated, h.raw, uint32(next))
				return
			}
			st.routing = true
			hdr, ok := extensionHeader(data)
			if !ok {
				reject(ExtensionHeaderTooShort, h.raw, uint32(next))
				return
			}
			if r, v := routingReason(hdr); r != 0 {
				reject(r, hdr, v)
				return
			}
			next, data = hdr[0], data[len(hdr):]

		case nextFragment:
			if st.fragment {
				reject(FragmentHeaderDuplicated, h.raw, uint32(next))
				return
			}
			st.fragment = true
			if len(data) < fragmentHeaderLen {
				reject(ExtensionHeaderTooShort, h.raw, uint32(next))
				return
			}
			hdr, rest := data[:fragmentHeaderLen], data[fragmentHeaderLen:]
			f, r, v := p.fragmentReason(hdr, rest, h.length)
			if r != 0 {
				reject(r, hdr, v)
				return
			}
			datagram, ok := p.reassemble(pkt, h, hdr, f, rest)
			if !ok {
				return
			}
			pkt = &reassembledPacket{carrier: pkt, data: datagram}
			next, data = f.next, datagram

		case nextNone:
			reject(NoNextHeader, h.raw, uint32(next))
			return

		case nextICMPv6, nextTCP, nextUDP:
			p.dispatch(pkt, h, next, data, hw.layer4 && !st.fragment, st.fragment)
			return

		default:
			reject(UnrecognisedExtensionHeaderOrLayer4Protocol, h.raw, uint32(next))
			return
		}
	}
}

// reassemble stores the fragment. It returns the datagram once complete;
// otherwise ok is false and pkt has been consumed.
func (p *IPv6Processor) reassemble(pkt core.PacketBuffer, h *ipv6Header, hdr []byte, f ipv6Fragment, rest []byte) ([]byte, bool) {
	if p.frags == nil {
		p.reject(pkt, LayerIPv6, FragmentReassemblyDisabled, hdr, f.id, h.addrs)
		return nil, false
	}
	key := fragmentKey{src: h.src, dst: h.dst, protocol: f.next, id: f.id}
	datagram, r := p.frags.add(key, f.offset, rest, f.more, p.Clock())
	switch {
	case r != 0:
		p.reject(pkt, LayerIPv6, r, hdr, f.id, h.addrs)
		return nil, false
	case datagram == nil:
		pkt.Free()
		return nil, false
	}
	return datagram, true
}
