// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package core

import (
	"encoding/binary"
	"net/netip"
)

// addrClass is the provenance of an address.
type addrClass int

const (
	classPublic addrClass = iota
	classPrivate
	classMulticast
	classBroadcast
)

var privateV4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// classify determines the provenance of an address. Only public
// addresses are queried against the geolocation collaborator.
func classify(ip netip.Addr) addrClass {
	if ip.Is4() {
		first := ip.As4()[0]
		switch {
		case first == 0xff:
			return classBroadcast
		case first&0xe0 == 0xe0:
			return classMulticast
		}
		for _, prefix := range privateV4 {
			if prefix.Contains(ip) {
				return classPrivate
			}
		}
		return classPublic
	}
	switch {
	case ip.IsMulticast():
		return classMulticast
	case ip.IsLinkLocalUnicast(), ip.IsPrivate():
		return classPrivate
	}
	return classPublic
}

// syntheticASN derives a deterministic pseudo-ASN in the IANA private
// range [64512, 65534] for a private address, so internal hosts can be
// grouped in ASN-based analytics without a real assignment.
func syntheticASN(ip netip.Addr) uint32 {
	var addr uint32
	if ip.Is4() {
		v4 := ip.As4()
		addr = binary.BigEndian.Uint32(v4[:])
	} else {
		v16 := ip.As16()
		addr = binary.BigEndian.Uint32(v16[12:])
	}
	return 64512 + ((addr >> 8) % 1024)
}

// orientChar renders one endpoint of the orientation tag: i for an
// internal (private) address, o for anything else.
func orientChar(class addrClass) byte {
	if class == classPrivate {
		return 'i'
	}
	return 'o'
}
