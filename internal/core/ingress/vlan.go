package ingress

import (
	"encoding/binary"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/policy"
)

// tagReasons are the per-tag enforcement reasons; outer, inner and single
// tags each report their own.
type tagReasons struct {
	dropEligible   Reason
	classOfService Reason
}

var (
	singleTagReasons = tagReasons{DropEligible8021QVirtualLan, ClassOfServiceNotAllowed8021QVirtualLan}
	outerTagReasons  = tagReasons{DropEligibleQinQOuterVirtualLan, ClassOfServiceNotAllowedQinQOuterVirtualLan}
	innerTagReasons  = tagReasons{DropEligibleQinQInnerVirtualLan, ClassOfServiceNotAllowedQinQInnerVirtualLan}
)

// tags is the resolved tag structure of a frame.
type tags struct {
	count      int // 0, 1 or 2
	outer      core.TagControlInformation
	inner      core.TagControlInformation
	etherType  core.EtherType
	l3Offset   int
	headerView []byte // Ethernet header plus inline tags
}

func isTagType(t core.EtherType) bool {
	return t == core.EtherTypeVLAN || t == core.EtherTypeQinQ
}

// resolveTags reads the tag structure via the configured stripping path. It
// reports false after rejecting the frame.
func (e *env) resolveTags(pkt core.PacketBuffer, frame []byte, off *core.Offload, addrs core.EthernetAddresses) (tags, bool) {
	switch e.cfg.TagStripping {
	case StripVlanAndQinQ:
		return e.tagsFromSideChannel(pkt, frame, off, addrs)
	case StripVlan:
		if off.StrippedTags == 0 {
			return e.tagsInline(pkt, frame, addrs)
		}
		return e.tagsAfterStrippedVlan(pkt, frame, off, addrs)
	}
	if off.StrippedTags > 0 {
		e.reject(pkt, LayerVlan, StrippedTagWithoutTagStripping, frame[:core.EthernetHeaderLen], uint32(off.OuterTCI), addrs)
		return tags{}, false
	}
	return e.tagsInline(pkt, frame, addrs)
}

func (e *env) tagsInline(pkt core.PacketBuffer, frame []byte, addrs core.EthernetAddresses) (tags, bool) {
	t := tags{etherType: readEtherType(frame, 12), l3Offset: core.EthernetHeaderLen}
	switch t.etherType {
	case core.EtherTypeVLAN:
		if len(frame) < core.EthernetHeaderLen+core.VlanTagLen {
			e.reject(pkt, LayerVlan, TooShortFor8021QTag, frame, uint32(len(frame)), addrs)
			return t, false
		}
		t.count = 1
		t.outer = readTCI(frame, 14)
		t.etherType = readEtherType(frame, 16)
		t.l3Offset = 18
	case core.EtherTypeQinQ:
		if len(frame) < core.EthernetHeaderLen+2*core.VlanTagLen {
			e.reject(pkt, LayerVlan, TooShortForQinQTags, frame, uint32(len(frame)), addrs)
			return t, false
		}
		if inner := readEtherType(frame, 16); inner != core.EtherTypeVLAN {
			e.reject(pkt, LayerVlan, QinQInnerTagMissing, frame[:18], uint32(inner), addrs)
			return t, false
		}
		t.count = 2
		t.outer = readTCI(frame, 14)
		t.inner = readTCI(frame, 18)
		t.etherType = readEtherType(frame, 20)
		t.l3Offset = 22
	}
	t.headerView = frame[:t.l3Offset]
	return t, e.rejectNestedTag(pkt, t, addrs)
}

func (e *env) tagsAfterStrippedVlan(pkt core.PacketBuffer, frame []byte, off *core.Offload, addrs core.EthernetAddresses) (tags, bool) {
	t := tags{count: 1, outer: off.OuterTCI, etherType: readEtherType(frame, 12), l3Offset: core.EthernetHeaderLen}
	if t.etherType == core.EtherTypeVLAN {
		// Hardware removed the service tag; the customer tag is still inline.
		if len(frame) < core.EthernetHeaderLen+core.VlanTagLen {
			e.reject(pkt, LayerVlan, TooShortForQinQTags, frame, uint32(len(frame)), addrs)
			return t, false
		}
		t.count = 2
		t.inner = readTCI(frame, 14)
		t.etherType = readEtherType(frame, 16)
		t.l3Offset = 18
	}
	t.headerView = frame[:t.l3Offset]
	return t, e.rejectNestedTag(pkt, t, addrs)
}

func (e *env) tagsFromSideChannel(pkt core.PacketBuffer, frame []byte, off *core.Offload, addrs core.EthernetAddresses) (tags, bool) {
	t := tags{
		count:      int(min(off.StrippedTags, 2)),
		outer:      off.OuterTCI,
		inner:      off.InnerTCI,
		etherType:  readEtherType(frame, 12),
		l3Offset:   core.EthernetHeaderLen,
		headerView: frame[:core.EthernetHeaderLen],
	}
	return t, e.rejectNestedTag(pkt, t, addrs)
}

// rejectNestedTag drops frames carrying more tags than the resolved structure allows.
func (e *env) rejectNestedTag(pkt core.PacketBuffer, t tags, addrs core.EthernetAddresses) bool {
	if isTagType(t.etherType) {
		e.reject(pkt, LayerVlan, UnexpectedNestedVirtualLanTag, t.headerView, uint32(t.etherType), addrs)
		return false
	}
	return true
}

// enforceTags applies the VLAN policy table to the resolved tags.
func (e *env) enforceTags(pkt core.PacketBuffer, t tags, addrs core.EthernetAddresses) bool {
	switch t.count {
	case 0:
		if !e.Vlans.Untagged() {
			e.reject(pkt, LayerVlan, NoConfigurationForUntagged, t.headerView, 0, addrs)
			return false
		}
		return true
	case 1:
		if t.outer.HasReservedVlanID() {
			e.reject(pkt, LayerVlan, VirtualLanIdReserved, t.headerView, uint32(t.outer.VlanID()), addrs)
			return false
		}
		p, ok := e.Vlans.Vlan(t.outer.VlanID())
		if !ok {
			e.reject(pkt, LayerVlan, NoConfigurationFor8011QVirtualLan, t.headerView, uint32(t.outer.VlanID()), addrs)
			return false
		}
		return e.enforceTag(pkt, p, t.outer, singleTagReasons, t.headerView, addrs)
	}

	for _, tci := range [2]core.TagControlInformation{t.outer, t.inner} {
		if tci.HasReservedVlanID() {
			e.reject(pkt, LayerVlan, VirtualLanIdReserved, t.headerView, uint32(tci.VlanID()), addrs)
			return false
		}
	}
	p, ok := e.Vlans.QinQ(t.outer.VlanID(), t.inner.VlanID())
	if !ok {
		e.reject(pkt, LayerVlan, NoConfigurationForQinQVirtualLan, t.headerView,
			uint32(t.outer.VlanID())<<16|uint32(t.inner.VlanID()), addrs)
		return false
	}
	return e.enforceTag(pkt, p.Outer, t.outer, outerTagReasons, t.headerView, addrs) &&
		e.enforceTag(pkt, p.Inner, t.inner, innerTagReasons, t.headerView, addrs)
}

func (e *env) enforceTag(pkt core.PacketBuffer, p policy.TagPolicy, tci core.TagControlInformation, r tagReasons, hdr []byte, addrs core.EthernetAddresses) bool {
	if p.HonourDropEligible && tci.DropEligible() {
		e.reject(pkt, LayerVlan, r.dropEligible, hdr, uint32(tci), addrs)
		return false
	}
	if !p.AllowsPriority(tci.Priority()) {
		e.reject(pkt, LayerVlan, r.classOfService, hdr, uint32(tci.Priority()), addrs)
		return false
	}
	return true
}

func readEtherType(b []byte, at int) core.EtherType {
	return core.EtherType(binary.BigEndian.Uint16(b[at:]))
}

func readTCI(b []byte, at int) core.TagControlInformation {
	return core.TagControlInformation(binary.BigEndian.Uint16(b[at:]))
}
