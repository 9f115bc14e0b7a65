package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"gatekeep/cmd/internal/auth/session"
)

var (
	ErrForwardedMissing    = errors.New("forwarded header is missing")
	ErrForwardedMalformed  = errors.New("forwarded header is malformed")
	ErrForwardedObfuscated = errors.New("forwarded for= is not an ip address")
	ErrForwardedUntrusted  = errors.New("forwarded header from untrusted peer")
)

// ForwardedClient returns the client address recorded in an RFC 7239
// Forwarded header value. Proxies append, so the header is read right to
// left: the first for= address outside trusted is the client. Elements left
// of it are caller-controlled and never read. If every element is trusted
// the leftmost one is returned.
func ForwardedClient(h string, trusted []netip.Prefix) (netip.Addr, error) {
	if strings.TrimSpace(h) == "" {
		return netip.Addr{}, ErrForwardedMissing
	}
	elems, err := parseForwarded(h)
	if err != nil {
		return netip.Addr{}, err
	}

	var addr netip.Addr
	for i := len(elems) - 1; i >= 0; i-- {
		node, ok := elems[i]["for"]
		if !ok {
			return netip.Addr{}, fmt.Errorf("%w: element %d has no for=", ErrForwardedMalformed, i)
		}
		addr, err = parseNode(node)
		if err != nil {
			return netip.Addr{}, err
		}
		if !containsAddr(trusted, addr) {
			return addr, nil
		}
	}
	return addr, nil
}

// ParseTrustedProxies parses a comma-separated list of CIDRs or bare
// addresses. Blank input yields nil.
func ParseTrustedProxies(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !strings.Contains(f, "/") {
			a, err := netip.ParseAddr(f)
			if err != nil || a.Zone() != "" {
				return nil, fmt.Errorf("%w: trusted proxy %q", ErrConfig, f)
			}
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(f)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted proxy %q", ErrConfig, f)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func containsAddr(set []netip.Prefix, a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range set {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// clientPrefix resolves the caller's address for binding. Only a peer in
// TrustedProxies may name the client through Forwarded; any other peer is
// the client itself and must not send the header.
func (h *Handler) clientPrefix(r *http.Request) (netip.Prefix, error) {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: remote address %q", ErrForwardedMalformed, r.RemoteAddr)
	}
	peer := ap.Addr().Unmap()

	vals := r.Header.Values("Forwarded")
	if !containsAddr(h.cfg.TrustedProxies, peer) {
		if len(vals) > 0 {
			return netip.Prefix{}, ErrForwardedUntrusted
		}
		return session.HostPrefix(peer), nil
	}

	if len(vals) == 0 {
		return netip.Prefix{}, ErrForwardedMissing
	}
	addr, err := ForwardedClient(strings.Join(vals, ","), h.cfg.TrustedProxies)
	if err != nil {
		return netip.Prefix{}, err
	}
	return session.HostPrefix(addr), nil
}

// parseForwarded splits a header into elements of lower-cased parameter
// names to raw (unquoted) values.
func parseForwarded(h string) ([]map[string]string, error) {
	var out []map[string]string
	cur := map[string]string{}
	i := 0
	for {
		i = skipOWS(h, i)

		name, n := scanToken(h, i)
		if n == i {
			return nil, fmt.Errorf("%w: expected parameter name at %d", ErrForwardedMalformed, i)
		}
		i = n
		if i >= len(h) || h[i] != '=' {
			return nil, fmt.Errorf("%w: expected '=' after %q", ErrForwardedMalformed, name)
		}
		i++

		var val string
		if i < len(h) && h[i] == '"' {
			v, n, err := scanQuoted(h, i)
			if err != nil {
				return nil, err
			}
			val, i = v, n
		} else {
			v, n := scanToken(h, i)
			if n == i {
				return nil, fmt.Errorf("%w: empty value for %q", ErrForwardedMalformed, name)
			}
			val, i = v, n
		}

		key := strings.ToLower(name)
		if _, dup := cur[key]; dup {
			return nil, fmt.Errorf("%w: duplicate %q", ErrForwardedMalformed, key)
		}
		cur[key] = val

		i = skipOWS(h, i)
		if i >= len(h) {
			out = append(out, cur)
			return out, nil
		}
		switch h[i] {
		case ';':
			i++
		case ',':
			out = append(out, cur)
			cur = map[string]string{}
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrForwardedMalformed, h[i], i)
		}
	}
}

// parseNode accepts IPv4[:port] and "[IPv6]"[:port].
func parseNode(v string) (netip.Addr, error) {
	if strings.EqualFold(v, "unknown") || strings.HasPrefix(v, "_") {
		return netip.Addr{}, ErrForwardedObfuscated
	}

	if strings.HasPrefix(v, "[") {
		end := strings.IndexByte(v, ']')
		if end < 0 {
			return netip.Addr{}, fmt.Errorf("%w: unterminated ipv6 literal", ErrForwardedMalformed)
		}
		addr, err := netip.ParseAddr(v[1:end])
		if err != nil || !addr.Is6() {
			return netip.Addr{}, fmt.Errorf("%w: bad ipv6 literal", ErrForwardedMalformed)
		}
		if err := checkPort(v[end+1:]); err != nil {
			return netip.Addr{}, err
		}
		return addr, nil
	}

	host, rest := v, ""
	if i := strings.IndexByte(v, ':'); i >= 0 {
		host, rest = v[:i], v[i:]
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: bad ipv4 literal", ErrForwardedMalformed)
	}
	if err := checkPort(rest); err != nil {
		return netip.Addr{}, err
	}
	return addr, nil
}

// checkPort validates an optional ":port" suffix; obfuscated ports are fine.
func checkPort(s string) error {
	if s == "" {
		return nil
	}
	if s[0] != ':' || len(s) == 1 {
		return fmt.Errorf("%w: bad port", ErrForwardedMalformed)
	}
	p := s[1:]
	if p[0] == '_' {
		for i := 1; i < len(p); i++ {
			if !isAlnum(p[i]) && p[i] != '.' && p[i] != '_' && p[i] != '-' {
				return fmt.Errorf("%w: bad obfuscated port", ErrForwardedMalformed)
			}
		}
		return nil
	}
	if len(p) > 5 {
		return fmt.Errorf("%w: bad port", ErrForwardedMalformed)
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return fmt.Errorf("%w: bad port", ErrForwardedMalformed)
		}
	}
	return nil
}

func skipOWS(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func scanToken(s string, i int) (string, int) {
	start := i
	for i < len(s) && isTChar(s[i]) {
		i++
	}
	return s[start:i], i
}

func scanQuoted(s string, i int) (string, int, error) {
	var b strings.Builder
	for i++; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			return b.String(), i + 1, nil
		case c == '\\':
			i++
			if i >= len(s) {
				return "", 0, fmt.Errorf("%w: dangling escape", ErrForwardedMalformed)
			}
			b.WriteByte(s[i])
		case c < 0x20 && c != '\t', c == 0x7f:
			return "", 0, fmt.Errorf("%w: control character in quoted string", ErrForwardedMalformed)
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated quoted string", ErrForwardedMalformed)
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isTChar(c byte) bool {
	if isAlnum(c) {
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
