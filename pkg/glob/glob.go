// Package glob implements the pattern syntax shared by the cache layer.
//
// The same primitive backs both the Redis SCAN MATCH path and the local
// fallback sweep, so the two deletion paths cannot drift apart.
// Supported syntax is the subset of Redis glob the cache uses:
// "*" matches any run of characters, "?" matches exactly one character.
package glob

// Match reports whether s matches the pattern.
func Match(pattern, s string) bool {
	// Iterative matcher with single-star backtracking.
	var pi, si int
	star := -1
	mark := 0
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

// HasMeta reports whether the pattern contains glob metacharacters.
// A pattern without metacharacters is an exact key.
func HasMeta(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' || pattern[i] == '?' {
			return true
		}
	}
	return false
}
