package config

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/core/ingress"
	"firestige.xyz/ingress/internal/core/policy"
)

// Compiled is the read-only form of the configuration shared by every worker.
type Compiled struct {
	Ingress   ingress.Config
	Addresses *policy.Addresses
	Vlans     *policy.VlanTable
	// InterfaceIndex is the kernel index when the interface was discovered.
	InterfaceIndex int
	ExpireInterval time.Duration
}

// Compile turns the validated configuration into lookup tables. discover is
// called when interface.discover is set; pass DiscoverInterface in production.
func (cfg *GlobalConfig) Compile(discover func(string) (*Discovered, error)) (*Compiled, error) {
	ic, err := cfg.ingressConfig()
	if err != nil {
		return nil, err
	}

	addrs, index, err := cfg.addresses(discover)
	if err != nil {
		return nil, err
	}

	vc := cfg.Vlans
	if vc.PolicyFile != "" {
		if err := LoadVlanPolicyFile(vc.PolicyFile, &vc); err != nil {
			return nil, err
		}
	}
	vlans, err := BuildVlanTable(vc)
	if err != nil {
		return nil, err
	}

	return &Compiled{
		Ingress:        ic,
		Addresses:      addrs,
		Vlans:          vlans,
		InterfaceIndex: index,
		ExpireInterval: duration(cfg.Pipeline.ExpireInterval, 10*time.Second),
	}, nil
}

func (cfg *GlobalConfig) ingressConfig() (ingress.Config, error) {
	v := cfg.Validation
	strip, err := ingress.ParseTagStripping(v.TagStripping)
	if err != nil {
		return ingress.Config{}, err
	}

	ic := ingress.DefaultConfig()
	ic.TagStripping = strip
	ic.AcceptEthernetPadding = v.AcceptEthernetPadding
	ic.RejectArpProbeWithNonZeroTargetHardwareAddress = v.RejectArpProbeWithNonZeroTargetHardwareAddress
	ic.RejectIPv4Options = v.RejectIPv4Options
	ic.RequireZeroPaddingAfterEndOfList = v.RequireZeroPaddingAfterEndOfList
	ic.RejectDontFragmentWithNonZeroIdentification = v.RejectDontFragmentWithNonZeroIdentification
	ic.StrictIPv6FragmentReservedFields = v.StrictIPv6FragmentReservedFields
	if v.MinimumNonFinalFragmentLength > 0 {
		ic.MinimumNonFinalFragmentLength = v.MinimumNonFinalFragmentLength
	}

	r := cfg.Reassembly
	ic.Reassembly = ingress.ReassemblyConfig{
		Enabled:           r.Enabled,
		MaxFragments:      r.MaxFragments,
		MaxReassembleSize: r.MaxReassembleSize,
		Timeout:           duration(r.Timeout, 60*time.Second),
		MaxFragsPerSource: r.MaxFragsPerSource,
		RateLimitWindow:   duration(r.RateLimitWindow, 10*time.Second),
	}
	return ic, nil
}

func (cfg *GlobalConfig) addresses(discover func(string) (*Discovered, error)) (*policy.Addresses, int, error) {
	ifc := cfg.Interface
	var ac policy.AddressesConfig
	index := 0

	if ifc.Discover {
		if discover == nil {
			discover = DiscoverInterface
		}
		d, err := discover(ifc.Name)
		if err != nil {
			return nil, 0, err
		}
		ac.Mac = d.Mac
		ac.Unicast = append(ac.Unicast, d.Addresses...)
		index = d.Index
	}

	// An explicit MAC wins over the discovered one.
	if ifc.Mac != "" {
		mac, err := core.ParseMacAddress(ifc.Mac)
		if err != nil {
			return nil, 0, err
		}
		ac.Mac = mac
	}
	if !ac.Mac.IsValidUnicast() {
		return nil, 0, fmt.Errorf("%w: interface MAC %s is not a valid unicast address", core.ErrConfigInvalid, ac.Mac)
	}

	for _, s := range ifc.Addresses {
		ip, err := netip.ParseAddr(s)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: address %q: %v", core.ErrConfigInvalid, s, err)
		}
		ip = ip.Unmap()
		if !core.IsValidUnicastIPv4(ip) && !core.IsValidUnicastIPv6(ip) {
			return nil, 0, fmt.Errorf("%w: address %s is not a unicast host address", core.ErrConfigInvalid, ip)
		}
		ac.Unicast = append(ac.Unicast, ip)
	}
	for _, s := range ifc.Groups {
		g, err := netip.ParseAddr(s)
		if err != nil || !g.IsMulticast() {
			return nil, 0, fmt.Errorf("%w: group %q is not a multicast address", core.ErrConfigInvalid, s)
		}
		ac.Groups = append(ac.Groups, g)
	}
	for _, s := range ifc.DeniedMacs {
		mac, err := core.ParseMacAddress(s)
		if err != nil {
			return nil, 0, err
		}
		ac.DeniedMacs = append(ac.DeniedMacs, mac)
	}
	denied, err := policy.ParsePrefixList(ifc.DeniedSources)
	if err != nil {
		return nil, 0, err
	}
	ac.DeniedSources = denied

	return policy.NewAddresses(ac), index, nil
}
