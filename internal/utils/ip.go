package utils

import (
	"net"
	"strings"
)

// IsAllowedIP reports whether ip falls inside one of the allowed networks.
// An empty list allows every address.
func IsAllowedIP(ip string, allowedCIDRs []string) bool {
	if len(allowedCIDRs) == 0 {
		return true
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}

	for _, cidr := range allowedCIDRs {
		_, netblock, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if netblock.Contains(parsed) {
			return true
		}
	}
	return false
}

// RemoteIP strips the port from an http.Request RemoteAddr.
func RemoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
