// Package pathglob implements the glob semantics used by reservation
// conflict detection: `*` matches exactly one path segment, `**` matches any
// run of segments (including none), and every other segment matches
// literally. Patterns and paths use forward slashes.
package pathglob

import "strings"

// Match reports whether path is covered by pattern. Exact string equality
// always matches, so plain paths work as patterns for themselves.
func Match(pattern, path string) bool {
	if pattern == path {
		return true
	}
	return matchSegments(splitClean(pattern), splitClean(path))
}

// Overlaps reports whether two patterns can refer to the same file. Either
// side may be a glob; a reservation on "src/**" overlaps a request for
// "src/file.ts" and vice versa.
func Overlaps(a, b string) bool {
	return Match(a, b) || Match(b, a)
}

// IsPattern reports whether p contains glob metacharacters.
func IsPattern(p string) bool {
	return strings.ContainsAny(p, "*?")
}

func splitClean(p string) []string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "**":
			// Collapse runs of ** and try every possible consumption length.
			rest := pattern[1:]
			for len(rest) > 0 && rest[0] == "**" {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(path); i++ {
				if matchSegments(rest, path[i:]) {
					return true
				}
			}
			return false
		default:
			if len(path) == 0 || !matchSegment(pattern[0], path[0]) {
				return false
			}
			pattern = pattern[1:]
			path = path[1:]
		}
	}
	return len(path) == 0
}

// matchSegment matches a single segment, supporting `*` and `?` within it.
func matchSegment(pattern, seg string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == seg
	}
	return wildcardMatch(pattern, seg)
}

// wildcardMatch is a small iterative matcher for `*` (any run of characters
// within a segment) and `?` (one character).
func wildcardMatch(pattern, s string) bool {
	var pi, si int
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
