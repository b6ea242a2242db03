package configgen

import (
	"strconv"
	"strings"
)

// expandPorts turns a port specification into a list of concrete port
// strings. "any" stays a single "any". A comma-separated list may mix single
// ports and inclusive ranges ("22,80-88"); the result is the ordered union
// of its members. Tokens outside 0-65535 and malformed ranges are dropped,
// never rejected; validation happens before synthesis.
func expandPorts(spec string) []string {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "any") {
		return []string{"any"}
	}

	var ports []string
	seen := make(map[int]bool)
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if lo, hi, ok := parseRange(token); ok {
			for p := lo; p <= hi; p++ {
				if !seen[p] {
					seen[p] = true
					ports = append(ports, strconv.Itoa(p))
				}
			}
			continue
		}

		if p, ok := parsePort(token); ok && !seen[p] {
			seen[p] = true
			ports = append(ports, strconv.Itoa(p))
		}
	}
	return ports
}

func parsePort(s string) (int, bool) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 65535 {
		return 0, false
	}
	return p, true
}

func parseRange(s string) (lo, hi int, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, okLo := parsePort(strings.TrimSpace(parts[0]))
	hi, okHi := parsePort(strings.TrimSpace(parts[1]))
	if !okLo || !okHi || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
