// Package ioc scans extracted text files for configured indicators of
// compromise: watched domain names, email addresses on watched domains,
// and IPv4 addresses inside watched CIDR blocks.
package ioc

import (
	"fmt"
	"net/netip"
	"strings"
)

// Policy is the compiled watch configuration. Any empty set disables the
// corresponding scanner.
type Policy struct {
	// Domains are watched domain substrings, lowercase.
	Domains []string
	// EmailDomains are watched email domains, lowercase, without the
	// leading "@".
	EmailDomains []string
	// Networks are watched IPv4 CIDR blocks.
	Networks []netip.Prefix
}

// ParsePolicy builds a Policy from raw comma-separated configuration
// values. Leading "@" on email domains is tolerated and stripped.
func ParsePolicy(domains, emails, cidrs []string) (Policy, error) {
	p := Policy{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			p.Domains = append(p.Domains, d)
		}
	}
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		e = strings.TrimPrefix(e, "@")
		if e != "" {
			p.EmailDomains = append(p.EmailDomains, e)
		}
	}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			return Policy{}, fmt.Errorf("parse CIDR %q: %w", c, err)
		}
		if !prefix.Addr().Is4() {
			return Policy{}, fmt.Errorf("CIDR %q is not IPv4", c)
		}
		p.Networks = append(p.Networks, prefix)
	}
	return p, nil
}

// Empty reports whether no scanner is enabled.
func (p Policy) Empty() bool {
	return len(p.Domains) == 0 && len(p.EmailDomains) == 0 && len(p.Networks) == 0
}

// containsAddr reports whether ip lies within any watched network.
func (p Policy) containsAddr(ip netip.Addr) bool {
	for _, n := range p.Networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
