// Package privacy holds helpers for keeping raw identifiers out of logs.
package privacy

import "strings"

// AnonymizeIP truncates an IP for logging: IPv4 keeps the first two octets,
// IPv6 keeps the first two groups. Log lines never carry a full address.
func AnonymizeIP(ip string) string {
	if ip == "" {
		return ""
	}
	if strings.Contains(ip, ":") && !strings.Contains(ip, ".") {
		groups := strings.Split(ip, ":")
		if len(groups) > 2 {
			return groups[0] + ":" + groups[1] + "::/32"
		}
		return ip
	}
	octets := strings.Split(ip, ".")
	if len(octets) == 4 {
		return octets[0] + "." + octets[1] + ".x.x"
	}
	return ip
}
