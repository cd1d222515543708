// Package geo maps client IP addresses to coarse region labels used to
// enrich audit entries. Lookups are static and deterministic; precise
// geolocation belongs to an external collaborator.
package geo

import (
	"net/netip"
	"strings"
)

const (
	regionInternal = "Internal Network"
	regionUnknown  = "Unknown Location"
)

type regionBlock struct {
	prefix netip.Prefix
	region string
}

// Locator resolves IPs against a fixed prefix table.
type Locator struct {
	blocks []regionBlock
}

// NewLocator builds a locator with the default prefix table.
func NewLocator() *Locator {
	mustPrefix := func(s string) netip.Prefix {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			panic(err)
		}
		return p
	}
	return &Locator{
		blocks: []regionBlock{
			{mustPrefix("10.0.0.0/8"), regionInternal},
			{mustPrefix("172.16.0.0/12"), regionInternal},
			{mustPrefix("192.168.0.0/16"), regionInternal},
			{mustPrefix("127.0.0.0/8"), regionInternal},
			{mustPrefix("::1/128"), regionInternal},
			{mustPrefix("fc00::/7"), regionInternal},
		},
	}
}

// Lookup returns the region label for the given address. Unparseable or
// unlisted addresses resolve to "Unknown Location".
func (l *Locator) Lookup(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return regionUnknown
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return regionUnknown
	}
	for _, b := range l.blocks {
		if b.prefix.Contains(addr) {
			return b.region
		}
	}
	return regionUnknown
}
