package registry

import "strings"

// MatchPattern reports whether key matches a glob pattern supporting:
//   - `*`  any run of characters except `/`
//   - `**` any run of characters including `/`
//   - `?`  exactly one character
//
// Implemented as a straightforward recursive-descent matcher rather than
// compiling to regexp, since the alphabet of special characters is fixed
// and small (no teacher equivalent; grounded directly on spec.md §4.3).
func MatchPattern(pattern, key string) bool {
	return matchFrom(pattern, key)
}

func matchFrom(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			if len(pattern) > 1 && pattern[1] == '*' {
				rest := pattern[2:]
				if rest == "" {
					return true
				}
				for i := 0; i <= len(s); i++ {
					if matchFrom(rest, s[i:]) {
						return true
					}
				}
				return false
			}
			rest := pattern[1:]
			if rest == "" {
				return !strings.Contains(s, "/")
			}
			for i := 0; i <= len(s); i++ {
				if i > 0 && s[i-1] == '/' {
					break
				}
				if matchFrom(rest, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		}
	}
	return len(s) == 0
}
