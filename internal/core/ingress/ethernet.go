package ingress

import (
	"time"

	"firestige.xyz/ingress/internal/core"
)

// Dispatcher is the entry point of the validator. Create one per worker.
type Dispatcher struct {
	env
	arp  *ArpProcessor
	ipv4 *IPv4Processor
	ipv6 *IPv6Processor

	frags *reassembler // nil unless reassembly is enabled
}

// NewDispatcher wires the processors to the collaborators.
func NewDispatcher(cfg Config, c Collaborators) (*Dispatcher, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if cfg.MinimumNonFinalFragmentLength <= 0 {
		cfg.MinimumNonFinalFragmentLength = ipv6MinimumMTU
	}
	d := &Dispatcher{env: env{cfg: cfg, Collaborators: c}}
	if cfg.Reassembly.Enabled {
		d.frags = newReassembler(cfg.Reassembly)
	}
	d.arp = &ArpProcessor{env: &d.env}
	d.ipv4 = &IPv4Processor{env: &d.env, frags: d.frags}
	d.ipv6 = &IPv6Processor{env: &d.env, frags: d.frags}
	return d, nil
}

// hardwareChecksums is the translated NIC checksum status.
type hardwareChecksums struct {
	ipHeader bool
	layer4   bool
}

// Process validates one frame. Ownership of pkt passes to the dispatcher:
// it is either forwarded or reported and freed before Process returns.
func (d *Dispatcher) Process(pkt core.PacketBuffer, off *core.Offload) {
	if off == nil {
		off = &core.Offload{}
	}
	frame := pkt.Bytes()
	if len(frame) < core.EthernetHeaderLen {
		d.reject(pkt, LayerEthernet, EthernetFrameTooShort, frame, uint32(len(frame)), core.EthernetAddresses{})
		return
	}
	addrs := core.EthernetAddresses{
		Destination: core.MacFromSlice(frame[0:6]),
		Source:      core.MacFromSlice(frame[6:12]),
	}
	header := frame[:core.EthernetHeaderLen]

	if off.Tunnel {
		d.reject(pkt, LayerEthernet, TunnelPacketUnsupported, header, 0, addrs)
		return
	}
	if off.Unwanted {
		d.reject(pkt, LayerEthernet, HardwareMarkedUnwanted, header, 0, addrs)
		return
	}

	t, ok := d.resolveTags(pkt, frame, off, addrs)
	if !ok {
		return
	}
	if !d.enforceTags(pkt, t, addrs) {
		return
	}
	if !d.guardAddresses(pkt, header, addrs) {
		return
	}

	l3 := frame[t.l3Offset:]
	switch t.etherType {
	case core.EtherTypeARP:
		d.arp.Process(pkt, l3, addrs)
	case core.EtherTypeIPv4:
		hw, ok := d.translateChecksums(pkt, off, true, header, addrs)
		if !ok {
			return
		}
		d.ipv4.Process(pkt, l3, addrs, hw)
	case core.EtherTypeIPv6:
		hw, ok := d.translateChecksums(pkt, off, false, header, addrs)
		if !ok {
			return
		}
		d.ipv6.Process(pkt, l3, addrs, hw)
	default:
		if t.etherType.IsLegacyFrameSize() {
			d.reject(pkt, LayerEthernet, LegacyFrameSizeUnsupported, t.headerView, uint32(t.etherType), addrs)
			return
		}
		d.reject(pkt, LayerEthernet, UnsupportedEtherType, t.headerView, uint32(t.etherType), addrs)
	}
}

// guardAddresses is the address check shared by every EtherType. Group
// destinations are left to the protocol layer.
func (e *env) guardAddresses(pkt core.PacketBuffer, header []byte, addrs core.EthernetAddresses) bool {
	ours := e.Addresses.OurMac()
	var r Reason
	switch {
	case !addrs.Source.IsValidUnicast():
		r = SourceEthernetAddressNotValidUnicast
	case addrs.Source == ours:
		r = SourceEthernetAddressIsOurs
	case e.DenyList.IsDeniedMac(addrs.Source):
		r = SourceEthernetAddressDenied
	case addrs.Destination.IsZero():
		r = DestinationEthernetAddressZero
	case addrs.Destination.IsUnicast() && addrs.Destination != ours:
		r = DestinationEthernetAddressNotOurs
	default:
		return true
	}
	e.reject(pkt, LayerEthernet, r, header, 0, addrs)
	return false
}

// translateChecksums turns the NIC verdict into "already validated" flags.
// IPv6 has no header checksum, so only the layer-4 status is consulted.
func (e *env) translateChecksums(pkt core.PacketBuffer, off *core.Offload, ipv4 bool, header []byte, addrs core.EthernetAddresses) (hardwareChecksums, bool) {
	var hw hardwareChecksums
	if ipv4 {
		switch off.IPChecksum {
		case core.ChecksumBad:
			e.reject(pkt, LayerEthernet, HardwareIPv4HeaderChecksumBad, header, 0, addrs)
			return hw, false
		case core.ChecksumGood:
			hw.ipHeader = true
		}
	}
	switch off.L4Checksum {
	case core.ChecksumBad:
		e.reject(pkt, LayerEthernet, HardwareLayer4ChecksumBad, header, 0, addrs)
		return hw, false
	case core.ChecksumGood:
		hw.layer4 = true
	}
	return hw, true
}

// Expire discards partial datagrams that have waited longer than the
// reassembly timeout and returns how many were dropped.
func (d *Dispatcher) Expire(now time.Time) int {
	if d.frags == nil {
		return 0
	}
	return d.frags.expire(now)
}

// ReassemblyStats reports the fragment state of this dispatcher.
type ReassemblyStats struct {
	Pending     int
	RateLimited uint64
	Sources     int
}

// Reassembly returns the current fragment state.
func (d *Dispatcher) Reassembly() ReassemblyStats {
	var s ReassemblyStats
	if d.frags == nil {
		return s
	}
	s.Pending = d.frags.pending()
	if d.frags.limiter != nil {
		s.RateLimited = d.frags.limiter.rejected
		s.Sources = d.frags.limiter.activeSources()
	}
	return s
}
