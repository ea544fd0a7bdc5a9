// Package ingress validates received Ethernet frames layer by layer and
// dispatches the survivors to the ARP collaborators or to a Layer-4 handler.
//
// Every frame handed to Dispatcher.Process ends in exactly one of two ways:
// it is forwarded (ownership moves to the collaborator that received it), or
// a single Drop is reported to the DropObserver and the buffer is freed.
// Processing is synchronous and run-to-completion; a Dispatcher is owned by
// one worker and must not be shared between goroutines.
package ingress

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/policy"
)

// DropObserver receives exactly one event per dropped frame. The *Drop and
// every slice it references are only valid for the duration of the call.
type DropObserver interface {
	Observe(d *Drop)
}

// ChecksumVerifier is the RFC 1071 arithmetic.
type ChecksumVerifier interface {
	Verify(b []byte) bool
	Compute(b []byte) uint16
}

// AddressOwnership answers "is this one of ours" for the receiving interface.
type AddressOwnership interface {
	OurMac() core.MacAddress
	IsOneOfOurs(ip netip.Addr) bool
	HasJoined(group netip.Addr) bool
}

// DenyList rejects configured sources.
type DenyList interface {
	IsDeniedMac(mac core.MacAddress) bool
	IsDeniedSource(ip netip.Addr) bool
}

// VlanPolicies resolves per-tag admission rules.
type VlanPolicies interface {
	Untagged() bool
	Vlan(id uint16) (policy.TagPolicy, bool)
	QinQ(outer, inner uint16) (policy.QinQPolicy, bool)
}

// ArpCache learns sender bindings from announcements and replies.
type ArpCache interface {
	Record(mac core.MacAddress, ip netip.Addr)
}

// ArpResponder builds and transmits ARP replies. msg is borrowed for the
// duration of the call; the request buffer is released once it returns.
type ArpResponder interface {
	ReplyToProbe(msg *ArpMessage)
	ReplyToRequest(msg *ArpMessage)
	// DefendAddress is invoked when another host claims one of our addresses.
	DefendAddress(msg *ArpMessage)
}

// Layer4Dispatch receives validated ICMP, TCP and UDP payloads. Ownership of
// pkt moves to the handler; d is borrowed for the duration of the call.
type Layer4Dispatch interface {
	Handle(pkt core.PacketBuffer, d *Delivery)
}

// TagStripping selects how the driver delivers 802.1Q/802.1ad tags.
type TagStripping uint8

// Tag stripping modes, matching driver capability.
const (
	// StripNone parses every tag inline from the frame.
	StripNone TagStripping = iota
	// StripVlan reads at most one tag from the side channel; a second tag may follow inline.
	StripVlan
	// StripVlanAndQinQ reads all tags from the side channel.
	StripVlanAndQinQ
)

func (t TagStripping) String() string {
	switch t {
	case StripVlan:
		return "vlan"
	case StripVlanAndQinQ:
		return "vlan+qinq"
	}
	return "none"
}

// ParseTagStripping parses the configuration spelling of a mode.
func ParseTagStripping(s string) (TagStripping, error) {
	switch s {
	case "", "none":
		return StripNone, nil
	case "vlan":
		return StripVlan, nil
	case "vlan+qinq", "qinq":
		return StripVlanAndQinQ, nil
	}
	return StripNone, fmt.Errorf("%w: tag stripping %q", core.ErrConfigInvalid, s)
}

// Config holds the strictness switches. It is read-only once a Dispatcher exists.
type Config struct {
	TagStripping TagStripping

	// AcceptEthernetPadding tolerates trailing bytes after the L3 datagram when
	// the frame is exactly the 60-byte Ethernet minimum.
	AcceptEthernetPadding bool

	RejectArpProbeWithNonZeroTargetHardwareAddress bool

	RejectIPv4Options                           bool
	RequireZeroPaddingAfterEndOfList            bool
	RejectDontFragmentWithNonZeroIdentification bool

	StrictIPv6FragmentReservedFields bool
	// MinimumNonFinalFragmentLength is the smallest IPv6 packet that may carry
	// a non-final fragment.
	MinimumNonFinalFragmentLength int

	Reassembly ReassemblyConfig
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		AcceptEthernetPadding:            true,
		RequireZeroPaddingAfterEndOfList: true,
		StrictIPv6FragmentReservedFields: true,
		MinimumNonFinalFragmentLength:    ipv6MinimumMTU,
	}
}

// Collaborators are the external parties the pipeline talks to.
type Collaborators struct {
	Addresses    AddressOwnership
	DenyList     DenyList
	Vlans        VlanPolicies
	Checksum     ChecksumVerifier
	Observer     DropObserver
	ArpCache     ArpCache
	ArpResponder ArpResponder
	Layer4       Layer4Dispatch
	// Clock stamps fragments for reassembly timeouts; defaults to time.Now.
	Clock func() time.Time
}

func (c *Collaborators) validate() error {
	switch {
	case c.Addresses == nil:
		return fmt.Errorf("%w: address ownership is required", core.ErrConfigInvalid)
	case c.DenyList == nil:
		return fmt.Errorf("%w: deny-list is required", core.ErrConfigInvalid)
	case c.Vlans == nil:
		return fmt.Errorf("%w: VLAN policies are required", core.ErrConfigInvalid)
	case c.Checksum == nil:
		return fmt.Errorf("%w: checksum verifier is required", core.ErrConfigInvalid)
	case c.Observer == nil:
		return fmt.Errorf("%w: drop observer is required", core.ErrConfigInvalid)
	case c.ArpCache == nil || c.ArpResponder == nil:
		return fmt.Errorf("%w: ARP cache and responder are required", core.ErrConfigInvalid)
	case c.Layer4 == nil:
		return fmt.Errorf("%w: layer-4 dispatch is required", core.ErrConfigInvalid)
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// env is the state shared by the processors of one Dispatcher.
type env struct {
	cfg Config
	Collaborators

	// Scratch values handed to collaborators by pointer; reused per frame.
	drop     Drop
	delivery Delivery
	arpMsg   ArpMessage
}

// reject reports a single drop and frees the buffer.
func (e *env) reject(pkt core.PacketBuffer, layer Layer, r Reason, hdr []byte, value uint32, addrs core.EthernetAddresses) {
	e.drop = Drop{
		Reason:    r,
		Layer:     layer,
		Header:    hdr,
		Value:     value,
		Addresses: addrs,
	}
	e.Observer.Observe(&e.drop)
	e.drop = Drop{}
	pkt.Free()
}

// paddedFrame reports whether the frame is an Ethernet minimum-size frame
// whose L3 content may be followed by padding. A tagged frame may be padded
// to 60 bytes or to 60 plus its inline tags; l3 must start right after the
// last tag.
func (e *env) paddedFrame(pkt core.PacketBuffer, l3 []byte) bool {
	n := pkt.Len()
	tagBytes := n - len(l3) - core.EthernetHeaderLen
	return e.cfg.AcceptEthernetPadding && n >= minimumEthernetFrameLen && n <= minimumEthernetFrameLen+tagBytes
}

const minimumEthernetFrameLen = 60 // without FCS
