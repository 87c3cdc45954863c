// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package geoip

import (
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// LookupCountry returns the ISO country code for an address, or an
// empty string on miss or when no country database is loaded.
func (c *Component) LookupCountry(ip netip.Addr) string {
	countryDB := c.db.country.Load()
	if countryDB == nil {
		return ""
	}
	ip16 := ip.As16()
	country, err := countryDB.(*geoip2.Reader).Country(net.IP(ip16[:]))
	if err == nil && country.Country.IsoCode != "" {
		c.metrics.databaseHit.WithLabelValues("country").Inc()
		return country.Country.IsoCode
	}
	c.metrics.databaseMiss.WithLabelValues("country").Inc()
	return ""
}

// LookupASN returns the AS number and organization for an address, or
// zero values on miss or when no ASN database is loaded.
func (c *Component) LookupASN(ip netip.Addr) (uint32, string) {
	asnDB := c.db.asn.Load()
	if asnDB == nil {
		return 0, ""
	}
	ip16 := ip.As16()
	asn, err := asnDB.(*geoip2.Reader).ASN(net.IP(ip16[:]))
	if err == nil && asn.AutonomousSystemNumber != 0 {
		c.metrics.databaseHit.WithLabelValues("asn").Inc()
		return uint32(asn.AutonomousSystemNumber), asn.AutonomousSystemOrganization
	}
	c.metrics.databaseMiss.WithLabelValues("asn").Inc()
	return 0, ""
}
