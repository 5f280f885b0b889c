// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package geolocation

import (
	"net"
	"strings"
)

// NormalizeIP strips a port and IPv6 brackets from an address.
//
//	203.0.113.7:25565   -> 203.0.113.7
//	[2001:db8::1]:25565 -> 2001:db8::1
//	2001:db8::1         -> 2001:db8::1
func NormalizeIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]:"); idx != -1 {
			return addr[1:idx]
		}
		return strings.Trim(addr, "[]")
	}
	// A bare IPv6 address has several colons; only host:port has exactly one.
	if strings.Count(addr, ":") == 1 {
		return addr[:strings.LastIndex(addr, ":")]
	}
	return addr
}

// IsPrivateIP reports whether ip is a private, loopback, link-local or
// unspecified address. Such addresses cannot be geolocated.
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
