package config

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"

	"firestige.xyz/ingress/internal/core"
)

// Discovered is what the kernel reports for an interface.
type Discovered struct {
	Index     int
	Mac       core.MacAddress
	Addresses []netip.Addr
}

// DiscoverInterface reads the hardware address and the unicast host
// addresses of the named link over netlink. Loopback, unspecified and
// multicast addresses are skipped.
func DiscoverInterface(name string) (*Discovered, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var nf netlink.LinkNotFoundError
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, name)
		}
		return nil, fmt.Errorf("failed to look up interface %s: %w", name, err)
	}

	attrs := link.Attrs()
	d := &Discovered{Index: attrs.Index}
	if len(attrs.HardwareAddr) == 6 {
		d.Mac = core.MacFromSlice(attrs.HardwareAddr)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %s: %w", name, err)
	}
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if core.IsValidUnicastIPv4(ip) || core.IsValidUnicastIPv6(ip) {
			d.Addresses = append(d.Addresses, ip)
		}
	}
	return d, nil
}
