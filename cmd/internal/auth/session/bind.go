package session

import "net/netip"

// Bind masks a caller address to the configured binding granularity.
//
// The prefix length actually bound is the smaller of p's and the configured
// one, so callers that already know only a network keep that coarseness.
// IPv4-mapped IPv6 addresses bind as IPv4; zones are dropped.
func (c Config) Bind(p netip.Prefix) (netip.Prefix, error) {
	if !p.IsValid() {
		return netip.Prefix{}, ValidationError{Field: "client_ip", Reason: "missing or invalid address"}
	}

	raw := p.Addr()
	bits := p.Bits()
	if raw.Is4In6() {
		bits -= 96
	}
	if bits <= 0 {
		return netip.Prefix{}, ValidationError{Field: "client_ip", Reason: "prefix too wide"}
	}

	addr := raw.Unmap().WithZone("")
	limit := c.BindIPv6Bits
	if addr.Is4() {
		limit = c.BindIPv4Bits
	}
	if bits > limit {
		bits = limit
	}

	out, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, ValidationError{Field: "client_ip", Reason: "invalid prefix length"}
	}
	return out, nil
}

// HostPrefix returns the single-address prefix for addr.
func HostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, addr.BitLen())
}
