// Package hostutil implements the host-list semantics shared by targets,
// scan tasks and the SQL-level helper functions. A host list is a string of
// comma-separated tokens; each token is trimmed before comparison, and
// equality is whole-token equality, never substring match.
package hostutil

import (
	"net"
	"strconv"
	"strings"
)

// Contains reports whether the trimmed host appears as a token of hosts.
func Contains(hosts, host string) bool {
	want := strings.TrimSpace(host)
	for _, token := range strings.Split(hosts, ",") {
		if strings.TrimSpace(token) == want {
			return true
		}
	}
	return false
}

// Clean canonicalizes a host list: tokens are trimmed, empty tokens are
// dropped, duplicates are removed keeping first occurrence, and the result
// is joined with ", ".
func Clean(hosts string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, token := range strings.Split(hosts, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return strings.Join(out, ", ")
}

// Max estimates the number of addresses a host list expands to. A plain
// token counts as one host, an IPv4 CIDR counts as its usable addresses,
// and a short trailing range like "192.168.0.1-9" counts as its span.
// The empty list estimates to zero.
func Max(hosts string) int {
	total := 0
	for _, token := range strings.Split(hosts, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		total += tokenSize(token)
	}
	return total
}

func tokenSize(token string) int {
	if _, network, err := net.ParseCIDR(token); err == nil {
		if network.IP.To4() == nil {
			return 1
		}
		ones, bits := network.Mask.Size()
		switch {
		case ones >= bits:
			return 1
		case ones == bits-1:
			return 2
		default:
			// Network and broadcast addresses are not scanned.
			return 1<<(bits-ones) - 2
		}
	}
	if size, ok := rangeSize(token); ok {
		return size
	}
	return 1
}

// rangeSize handles the "a.b.c.d-e" short-range form.
func rangeSize(token string) (int, bool) {
	dash := strings.LastIndexByte(token, '-')
	if dash <= 0 || dash == len(token)-1 {
		return 0, false
	}
	base, tail := token[:dash], token[dash+1:]
	ip := net.ParseIP(base)
	if ip == nil || ip.To4() == nil {
		return 0, false
	}
	last := ip.To4()[3]
	end, err := strconv.Atoi(tail)
	if err != nil || end < int(last) || end > 255 {
		return 0, false
	}
	return end - int(last) + 1, true
}
