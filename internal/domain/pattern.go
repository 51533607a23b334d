package domain

import "strings"

// Match reports whether routingKey matches a binding pattern.
//
// The pattern is a literal string in which each '*' matches any, possibly
// empty, substring; every other character matches itself. Matching is greedy
// and anchored at both ends, the same as SQL LIKE with '*' in place of '%'.
// An empty pattern matches only the empty key; a pattern of just "*" matches
// every key.
func Match(routingKey, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return routingKey == pattern
	}

	parts := strings.Split(pattern, "*")

	rest, ok := strings.CutPrefix(routingKey, parts[0])
	if !ok {
		return false
	}

	// Middle segments float: consume each at its earliest occurrence.
	for _, p := range parts[1 : len(parts)-1] {
		if p == "" {
			continue
		}
		i := strings.Index(rest, p)
		if i < 0 {
			return false
		}
		rest = rest[i+len(p):]
	}

	return strings.HasSuffix(rest, parts[len(parts)-1])
}
