package ingress

import (
	"net/netip"

	"firestige.xyz/ingress/internal/core"
)

// Layer4Protocol is the IANA protocol number of a dispatched payload.
type Layer4Protocol uint8

// Layer-4 protocols handed to Layer4Dispatch.
const (
	ProtocolICMPv4 Layer4Protocol = 1
	ProtocolTCP    Layer4Protocol = 6
	ProtocolUDP    Layer4Protocol = 17
	ProtocolICMPv6 Layer4Protocol = 58
)

func (p Layer4Protocol) String() string {
	switch p {
	case ProtocolICMPv4:
		return "icmp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMPv6:
		return "icmpv6"
	}
	return "unknown"
}

// DestinationKind classifies the destination the payload was accepted for.
type DestinationKind uint8

// Destination kinds.
const (
	DestinationUnicast DestinationKind = iota
	DestinationBroadcast
	DestinationMulticast
)

func (k DestinationKind) String() string {
	switch k {
	case DestinationBroadcast:
		return "broadcast"
	case DestinationMulticast:
		return "multicast"
	}
	return "unicast"
}

// Delivery describes a validated layer-4 payload.
type Delivery struct {
	Protocol Layer4Protocol
	Version  uint8 // 4 or 6
	// Payload is the layer-4 segment; it aliases the packet buffer.
	Payload     []byte
	Length      int
	Source      netip.Addr
	Destination netip.Addr
	Ethernet    core.EthernetAddresses
	Kind        DestinationKind
	// ChecksumValidated is set when the NIC already verified the layer-4 checksum.
	ChecksumValidated bool
	// Reassembled is set when Payload was rebuilt from fragments.
	Reassembled bool
}

// deliver hands pkt to the layer-4 handler.
func (e *env) deliver(pkt core.PacketBuffer, d Delivery) {
	e.delivery = d
	e.Layer4.Handle(pkt, &e.delivery)
	e.delivery = Delivery{}
}
