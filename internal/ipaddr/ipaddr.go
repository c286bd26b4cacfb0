// Package ipaddr decides whether a raw string is an address worth sending to
// the lookup providers.
package ipaddr

import "net/netip"

// Validator classifies candidate address strings.
// The zero value accepts dotted-quad IPv4 only.
type Validator struct {
	AllowIPv6 bool
}

// IsValid reports whether candidate is a dotted-quad IPv4 address with every
// octet in [0,255]. No surrounding whitespace or trailing data is tolerated.
func IsValid(candidate string) bool {
	return isDottedQuad(candidate)
}

// IsValid reports whether candidate is acceptable under v's policy.
// Unrecognized formats are invalid; it never panics.
func (v Validator) IsValid(candidate string) bool {
	if isDottedQuad(candidate) {
		return true
	}
	if !v.AllowIPv6 {
		return false
	}
	addr, err := netip.ParseAddr(candidate)
	if err != nil {
		return false
	}
	// Zoned addresses are link-local and carry no public enrichment data.
	return addr.Is6() && !addr.Is4In6() && addr.Zone() == ""
}

func isDottedQuad(s string) bool {
	octets := 0
	digits := 0
	value := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
			if digits > 3 {
				return false
			}
			value = value*10 + int(c-'0')
			if value > 255 {
				return false
			}
		case c == '.':
			if digits == 0 {
				return false
			}
			octets++
			if octets > 3 {
				return false
			}
			digits, value = 0, 0
		default:
			return false
		}
	}
	return octets == 3 && digits > 0
}
