package ingress

import (
	"fmt"

	"firestige.xyz/ingress/internal/core"
)

// Layer identifies the processor that rejected a frame.
type Layer uint8

// Protocol layers.
const (
	LayerEthernet Layer = iota + 1
	LayerVlan
	LayerArp
	LayerIPv4
	LayerIPv6
)

func (l Layer) String() string {
	switch l {
	case LayerEthernet:
		return "ethernet"
	case LayerVlan:
		return "vlan"
	case LayerArp:
		return "arp"
	case LayerIPv4:
		return "ipv4"
	case LayerIPv6:
		return "ipv6"
	}
	return "unknown"
}

// Reason is the closed set of rejection causes.
type Reason uint8

// Ethernet and tag reasons.
const (
	_ Reason = iota
	EthernetFrameTooShort
	TunnelPacketUnsupported
	HardwareMarkedUnwanted
	TooShortFor8021QTag
	TooShortForQinQTags
	QinQInnerTagMissing
	UnexpectedNestedVirtualLanTag
	VirtualLanIdReserved
	NoConfigurationForUntagged
	NoConfigurationFor8011QVirtualLan
	NoConfigurationForQinQVirtualLan
	DropEligible8021QVirtualLan
	DropEligibleQinQOuterVirtualLan
	DropEligibleQinQInnerVirtualLan
	ClassOfServiceNotAllowed8021QVirtualLan
	ClassOfServiceNotAllowedQinQOuterVirtualLan
	ClassOfServiceNotAllowedQinQInnerVirtualLan
	SourceEthernetAddressNotValidUnicast
	SourceEthernetAddressIsOurs
	SourceEthernetAddressDenied
	DestinationEthernetAddressZero
	DestinationEthernetAddressNotOurs
	HardwareIPv4HeaderChecksumBad
	HardwareLayer4ChecksumBad
	LegacyFrameSizeUnsupported
	UnsupportedEtherType
)

// ARP reasons.
const (
	ArpPacketTooShort Reason = iota + UnsupportedEtherType + 1
	ArpHardwareTypeUnsupported
	ArpProtocolTypeUnsupported
	ArpHardwareAddressLengthInvalid
	ArpProtocolAddressLengthInvalid
	ArpPacketLengthInvalid
	ArpOperationUnsupported
	ArpRequestDestinationIsMulticast
	HardwareAndPacketSourceEthernetAddressMismatch
	ProbeTargetHardwareAddressNotZero
	ProbeIsNotForUs
	ArpRequestDestinationNotBroadcast
	ArpRequestSenderProtocolAddressNotValidUnicast
	ReuseInReply
	BroadcastIsNotForUs
	GratuitousReplySenderNotValidUnicast
	ReplyDestinationAndTargetHardwareAddressMismatch
	ReplyTargetHardwareAddressNotValidUnicast
	ReplySenderAndTargetProtocolAddressSame
	ReplySenderProtocolAddressNotValidUnicast
	ReplyTargetProtocolAddressNotValidUnicast
)

// IPv4 reasons.
const (
	IPv4PacketTooShort Reason = iota + ReplyTargetProtocolAddressNotValidUnicast + 1
	IPv4VersionInvalid
	TotalLengthInvalid
	InvalidFragmentationFlagsOrIdentification
	HeaderLengthInvalid
	IPv4OptionsRejected
	OptionPaddingNotZero
	OptionIsObsolete
	OptionIsThreatAsOfRfc7126
	OptionIsExperimental
	OptionIsSecurity
	OptionIsRarelyUsed
	OptionClassReserved
	OptionNotCopiedInFragment
	OptionDuplicated
	OptionLengthInvalid
	IPv4HeaderChecksumInvalid
	SourceAndDestinationAddressSame
	IcmpSourceAddressNotValidUnicast
	IcmpDestinationAddressNotOurs
	IcmpDestinationEthernetAddressNotValidUnicast
	TcpSourceAddressNotValidUnicast
	TcpDestinationEthernetAddressNotValidUnicast
	TcpDestinationAddressNotOurs
	UdpSourceAddressInvalid
	UdpDestinationAddressInvalid
	UdpMulticastEthernetAddressMismatch
	UdpMulticastGroupNotJoined
	UnsupportedLayer4Protocol
)

// IPv6 reasons.
const (
	IPv6PacketTooShort Reason = iota + UnsupportedLayer4Protocol + 1
	IPv6VersionInvalid
	IPv6PayloadLengthInvalid
	ExtensionHeaderTooShort
	HopByHopOptionsNotFirst
	ExtensionHeaderOptionLengthInvalid
	ExtensionHeaderOptionMustBeDiscarded
	RoutingHeaderDuplicated
	RoutingHeaderTypeDeprecated
	RoutingHeaderTypeExperimental
	RoutingHeaderTypeReserved
	RoutingHeaderSegmentsLeftNonZero
	FragmentHeaderDuplicated
	FragmentHeaderReservedFieldsNotZero
	FragmentHeaderIsAtomic
	EspUnsupported
	AuthenticationHeaderUnsupported
	MobilityHeaderUnsupported
	HostIdentityProtocolUnsupported
	Shim6Unsupported
	ExperimentalExtensionHeaderUnsupported
	DestinationOptionsHeaderTooMany
	NoNextHeader
	UnrecognisedExtensionHeaderOrLayer4Protocol
	SourceAddressNotValidUnicast
	DestinationAddressLoopback
	DestinationAddressDocumentation
	DestinationAddressInterfaceLocal
	DestinationAddressNotOurs
	MulticastEthernetAddressMismatch
	MulticastGroupNotJoined
	TcpDestinationNotUnicast
	UdpPacketTooShort
	UdpChecksumMissing
)

// Reasons shared by IPv4 and IPv6; Drop.Layer tells them apart.
const (
	SourceAddressDenied Reason = iota + UdpChecksumMissing + 1
	IcmpIsFragmented
	FragmentReassemblyDisabled
	FragmentRejected
	FragmentRateLimited
	FragmentLengthNotMultipleOfEight
	FragmentReassembledSizeTooLarge
	FragmentTooSmall
)

// Side-channel reasons.
const (
	// StrippedTagWithoutTagStripping is reported when the driver removed a
	// tag but the dispatcher expects every tag inline.
	StrippedTagWithoutTagStripping Reason = iota + FragmentTooSmall + 1

	reasonCount
)

var reasonNames = [reasonCount]string{
	EthernetFrameTooShort:                       "EthernetFrameTooShort",
	TunnelPacketUnsupported:                     "TunnelPacketUnsupported",
	HardwareMarkedUnwanted:                      "HardwareMarkedUnwanted",
	TooShortFor8021QTag:                         "TooShortFor8021QTag",
	TooShortForQinQTags:                         "TooShortForQinQTags",
	QinQInnerTagMissing:                         "QinQInnerTagMissing",
	UnexpectedNestedVirtualLanTag:               "UnexpectedNestedVirtualLanTag",
	VirtualLanIdReserved:                        "VirtualLanIdReserved",
	NoConfigurationForUntagged:                  "NoConfigurationForUntagged",
	NoConfigurationFor8011QVirtualLan:           "NoConfigurationFor8011QVirtualLan",
	NoConfigurationForQinQVirtualLan:            "NoConfigurationForQinQVirtualLan",
	DropEligible8021QVirtualLan:                 "DropEligible8021QVirtualLan",
	DropEligibleQinQOuterVirtualLan:             "DropEligibleQinQOuterVirtualLan",
	DropEligibleQinQInnerVirtualLan:             "DropEligibleQinQInnerVirtualLan",
	ClassOfServiceNotAllowed8021QVirtualLan:     "ClassOfServiceNotAllowed8021QVirtualLan",
	ClassOfServiceNotAllowedQinQOuterVirtualLan: "ClassOfServiceNotAllowedQinQOuterVirtualLan",
	ClassOfServiceNotAllowedQinQInnerVirtualLan: "ClassOfServiceNotAllowedQinQInnerVirtualLan",
	SourceEthernetAddressNotValidUnicast:        "SourceEthernetAddressNotValidUnicast",
	SourceEthernetAddressIsOurs:                 "SourceEthernetAddressIsOurs",
	SourceEthernetAddressDenied:                 "SourceEthernetAddressDenied",
	DestinationEthernetAddressZero:              "DestinationEthernetAddressZero",
	DestinationEthernetAddressNotOurs:           "DestinationEthernetAddressNotOurs",
	HardwareIPv4HeaderChecksumBad:               "HardwareIPv4HeaderChecksumBad",
	HardwareLayer4ChecksumBad:                   "HardwareLayer4ChecksumBad",
	LegacyFrameSizeUnsupported:                  "LegacyFrameSizeUnsupported",
	UnsupportedEtherType:                        "UnsupportedEtherType",

	ArpPacketTooShort:                                "ArpPacketTooShort",
	ArpHardwareTypeUnsupported:                       "ArpHardwareTypeUnsupported",
	ArpProtocolTypeUnsupported:                       "ArpProtocolTypeUnsupported",
	ArpHardwareAddressLengthInvalid:                  "ArpHardwareAddressLengthInvalid",
	ArpProtocolAddressLengthInvalid:                  "ArpProtocolAddressLengthInvalid",
	ArpPacketLengthInvalid:                           "ArpPacketLengthInvalid",
	ArpOperationUnsupported:                          "ArpOperationUnsupported",
	ArpRequestDestinationIsMulticast:                 "ArpRequestDestinationIsMulticast",
	HardwareAndPacketSourceEthernetAddressMismatch:   "HardwareAndPacketSourceEthernetAddressMismatch",
	ProbeTargetHardwareAddressNotZero:                "ProbeTargetHardwareAddressNotZero",
	ProbeIsNotForUs:                                  "ProbeIsNotForUs",
	ArpRequestDestinationNotBroadcast:                "ArpRequestDestinationNotBroadcast",
	ArpRequestSenderProtocolAddressNotValidUnicast:   "ArpRequestSenderProtocolAddressNotValidUnicast",
	ReuseInReply:                                     "ReuseInReply",
	BroadcastIsNotForUs:                              "BroadcastIsNotForUs",
	GratuitousReplySenderNotValidUnicast:             "GratuitousReplySenderNotValidUnicast",
	ReplyDestinationAndTargetHardwareAddressMismatch: "ReplyDestinationAndTargetHardwareAddressMismatch",
	ReplyTargetHardwareAddressNotValidUnicast:        "ReplyTargetHardwareAddressNotValidUnicast",
	ReplySenderAndTargetProtocolAddressSame:          "ReplySenderAndTargetProtocolAddressSame",
	ReplySenderProtocolAddressNotValidUnicast:        "ReplySenderProtocolAddressNotValidUnicast",
	ReplyTargetProtocolAddressNotValidUnicast:        "ReplyTargetProtocolAddressNotValidUnicast",

	IPv4PacketTooShort:                            "IPv4PacketTooShort",
	IPv4VersionInvalid:                            "IPv4VersionInvalid",
	TotalLengthInvalid:                            "TotalLengthInvalid",
	InvalidFragmentationFlagsOrIdentification:     "InvalidFragmentationFlagsOrIdentification",
	HeaderLengthInvalid:                           "HeaderLengthInvalid",
	IPv4OptionsRejected:                           "IPv4OptionsRejected",
	OptionPaddingNotZero:                          "OptionPaddingNotZero",
	OptionIsObsolete:                              "OptionIsObsolete",
	OptionIsThreatAsOfRfc7126:                     "OptionIsThreatAsOfRfc7126",
	OptionIsExperimental:                          "OptionIsExperimental",
	OptionIsSecurity:                              "OptionIsSecurity",
	OptionIsRarelyUsed:                            "OptionIsRarelyUsed",
	OptionClassReserved:                           "OptionClassReserved",
	OptionNotCopiedInFragment:                     "OptionNotCopiedInFragment",
	OptionDuplicated:                              "OptionDuplicated",
	OptionLengthInvalid:                           "OptionLengthInvalid",
	IPv4HeaderChecksumInvalid:                     "IPv4HeaderChecksumInvalid",
	SourceAndDestinationAddressSame:               "SourceAndDestinationAddressSame",
	IcmpSourceAddressNotValidUnicast:              "IcmpSourceAddressNotValidUnicast",
	IcmpDestinationAddressNotOurs:                 "IcmpDestinationAddressNotOurs",
	IcmpDestinationEthernetAddressNotValidUnicast: "IcmpDestinationEthernetAddressNotValidUnicast",
	TcpSourceAddressNotValidUnicast:               "TcpSourceAddressNotValidUnicast",
	TcpDestinationEthernetAddressNotValidUnicast:  "TcpDestinationEthernetAddressNotValidUnicast",
	TcpDestinationAddressNotOurs:                  "TcpDestinationAddressNotOurs",
	UdpSourceAddressInvalid:                       "UdpSourceAddressInvalid",
	UdpDestinationAddressInvalid:                  "UdpDestinationAddressInvalid",
	UdpMulticastEthernetAddressMismatch:           "UdpMulticastEthernetAddressMismatch",
	UdpMulticastGroupNotJoined:                    "UdpMulticastGroupNotJoined",
	UnsupportedLayer4Protocol:                     "UnsupportedLayer4Protocol",

	IPv6PacketTooShort:                          "IPv6PacketTooShort",
	IPv6VersionInvalid:                          "IPv6VersionInvalid",
	IPv6PayloadLengthInvalid:                    "IPv6PayloadLengthInvalid",
	ExtensionHeaderTooShort:                     "ExtensionHeaderTooShort",
	HopByHopOptionsNotFirst:                     "HopByHopOptionsNotFirst",
	ExtensionHeaderOptionLengthInvalid:          "ExtensionHeaderOptionLengthInvalid",
	ExtensionHeaderOptionMustBeDiscarded:        "ExtensionHeaderOptionMustBeDiscarded",
	RoutingHeaderDuplicated:                     "RoutingHeaderDuplicated",
	RoutingHeaderTypeDeprecated:                 "RoutingHeaderTypeDeprecated",
	RoutingHeaderTypeExperimental:               "RoutingHeaderTypeExperimental",
	RoutingHeaderTypeReserved:                   "RoutingHeaderTypeReserved",
	RoutingHeaderSegmentsLeftNonZero:            "RoutingHeaderSegmentsLeftNonZero",
	FragmentHeaderDuplicated:                    "FragmentHeaderDuplicated",
	FragmentHeaderReservedFieldsNotZero:         "FragmentHeaderReservedFieldsNotZero",
	FragmentHeaderIsAtomic:                      "FragmentHeaderIsAtomic",
	FragmentLengthNotMultipleOfEight:            "FragmentLengthNotMultipleOfEight",
	FragmentReassembledSizeTooLarge:             "FragmentReassembledSizeTooLarge",
	FragmentTooSmall:                            "FragmentTooSmall",
	EspUnsupported:                              "EspUnsupported",
	AuthenticationHeaderUnsupported:             "AuthenticationHeaderUnsupported",
	MobilityHeaderUnsupported:                   "MobilityHeaderUnsupported",
	HostIdentityProtocolUnsupported:             "HostIdentityProtocolUnsupported",
	Shim6Unsupported:                            "Shim6Unsupported",
	ExperimentalExtensionHeaderUnsupported:      "ExperimentalExtensionHeaderUnsupported",
	DestinationOptionsHeaderTooMany:             "DestinationOptionsHeaderTooMany",
	NoNextHeader:                                "NoNextHeader",
	UnrecognisedExtensionHeaderOrLayer4Protocol: "UnrecognisedExtensionHeaderOrLayer4Protocol",
	SourceAddressNotValidUnicast:                "SourceAddressNotValidUnicast",
	DestinationAddressLoopback:                  "DestinationAddressLoopback",
	DestinationAddressDocumentation:             "DestinationAddressDocumentation",
	DestinationAddressInterfaceLocal:            "DestinationAddressInterfaceLocal",
	DestinationAddressNotOurs:                   "DestinationAddressNotOurs",
	MulticastEthernetAddressMismatch:            "MulticastEthernetAddressMismatch",
	MulticastGroupNotJoined:                     "MulticastGroupNotJoined",
	TcpDestinationNotUnicast:                    "TcpDestinationNotUnicast",
	UdpPacketTooShort:                           "UdpPacketTooShort",
	UdpChecksumMissing:                          "UdpChecksumMissing",

	SourceAddressDenied:        "SourceAddressDenied",
	IcmpIsFragmented:           "IcmpIsFragmented",
	FragmentReassemblyDisabled: "FragmentReassemblyDisabled",
	FragmentRejected:           "FragmentRejected",
	FragmentRateLimited:        "FragmentRateLimited",

	StrippedTagWithoutTagStripping: "StrippedTagWithoutTagStripping",
}

func (r Reason) String() string {
	if r > 0 && r < reasonCount {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// IsFailure reports whether the reason marks a rejected frame. ReuseInReply
// records a request that was answered and then released.
func (r Reason) IsFailure() bool { return r != ReuseInReply }

// Reasons returns every defined reason in declaration order.
func Reasons() []Reason {
	out := make([]Reason, 0, reasonCount-1)
	for r := Reason(1); r < reasonCount; r++ {
		out = append(out, r)
	}
	return out
}

// Drop is the single event reported for a rejected frame.
type Drop struct {
	Reason Reason
	Layer  Layer
	// Header is a borrowed view of the offending header. It aliases the packet
	// buffer and becomes invalid when Observe returns.
	Header []byte
	// Value carries the offending raw field: an EtherType, VLAN id, option
	// kind, protocol number or length, depending on Reason.
	Value     uint32
	Addresses core.EthernetAddresses
}
