package ingress

import "firestige.xyz/ingress/internal/core"

const (
	optionEndOfList   = 0
	optionNoOperation = 1
)

// ipv4OptionCategories rejects every registered option kind we never
// accept. Kinds absent from the table go through the generic checks.
var ipv4OptionCategories = [256]Reason{
	// Obsolete (RFC 6814 and predecessors).
	10: OptionIsObsolete, 11: OptionIsObsolete, 12: OptionIsObsolete, 15: OptionIsObsolete,
	82: OptionIsObsolete, 136: OptionIsObsolete, 142: OptionIsObsolete, 144: OptionIsObsolete,
	145: OptionIsObsolete, 147: OptionIsObsolete, 149: OptionIsObsolete, 150: OptionIsObsolete,
	151: OptionIsObsolete, 152: OptionIsObsolete, 205: OptionIsObsolete,

	// RFC 7126 recommends dropping these.
	7: OptionIsThreatAsOfRfc7126, 68: OptionIsThreatAsOfRfc7126, 131: OptionIsThreatAsOfRfc7126,
	137: OptionIsThreatAsOfRfc7126, 148: OptionIsThreatAsOfRfc7126,

	// RFC 4727 experiments.
	30: OptionIsExperimental, 94: OptionIsExperimental, 158: OptionIsExperimental, 222: OptionIsExperimental,

	// RIPSO, CIPSO and extended security.
	130: OptionIsSecurity, 133: OptionIsSecurity, 134: OptionIsSecurity,

	// Quick-Start.
	25: OptionIsRarelyUsed,
}

// optionSet is a 256-bit set of option kinds.
type optionSet [4]uint64

func (s *optionSet) testAndSet(kind uint8) bool {
	word, bit := kind>>6, uint64(1)<<(kind&63)
	seen := s[word]&bit != 0
	s[word] |= bit
	return seen
}

// walkOptions validates the options region. fragmentOffset is in 8-byte
// units. It reports false after rejecting the packet.
func (p *IPv4Processor) walkOptions(pkt core.PacketBuffer, header, opts []byte, fragmentOffset uint16, addrs core.EthernetAddresses) bool {
	var seen optionSet
	for i := 0; i < len(opts); {
		kind := opts[i]
		switch kind {
		case optionEndOfList:
			if p.cfg.RequireZeroPaddingAfterEndOfList {
				for _, b := range opts[i+1:] {
					if b != 0 {
						p.reject(pkt, LayerIPv4, OptionPaddingNotZero, header, uint32(b), addrs)
						return false
					}
				}
			}
			return true
		case optionNoOperation:
			i++
			continue
		}

		if r := ipv4OptionCategories[kind]; r != 0 {
			p.reject(pkt, LayerIPv4, r, header, uint32(kind), addrs)
			return false
		}
		if class := (kind >> 5) & 0x3; class == 1 || class == 3 {
			p.reject(pkt, LayerIPv4, OptionClassReserved, header, uint32(kind), addrs)
			return false
		}
		if kind&0x80 == 0 && fragmentOffset != 0 {
			p.reject(pkt, LayerIPv4, OptionNotCopiedInFragment, header, uint32(kind), addrs)
			return false
		}
		if seen.testAndSet(kind) {
			p.reject(pkt, LayerIPv4, OptionDuplicated, header, uint32(kind), addrs)
			return false
		}
		if i+1 >= len(opts) {
			p.reject(pkt, LayerIPv4, OptionLengthInvalid, header, uint32(kind), addrs)
			return false
		}
		length := int(opts[i+1])
		if length < 2 || i+length > len(opts) {
			p.reject(pkt, LayerIPv4, OptionLengthInvalid, header, uint32(length), addrs)
			return false
		}
		i += length
	}
	return true
}
