package auth

import (
	"fmt"
	"regexp"
	"strings"
)

// claimFilter matches one dot-separated claim path against a pattern. The
// pattern matches when it is a substring of, or a regular expression
// matching, any value at the path.
type claimFilter struct {
	path    []string
	pattern string
	re      *regexp.Regexp
}

// compileClaimFilters parses the config's path -> pattern map. Patterns that
// fail to compile as regular expressions fall back to substring matching.
func compileClaimFilters(filters map[string]string) []claimFilter {
	out := make([]claimFilter, 0, len(filters))
	for path, pattern := range filters {
		cf := claimFilter{path: strings.Split(path, "."), pattern: pattern}
		if re, err := regexp.Compile(pattern); err == nil {
			cf.re = re
		}
		out = append(out, cf)
	}
	return out
}

// lookupClaim descends the claims document along the path. The result may be
// a scalar or an array.
func lookupClaim(claims map[string]interface{}, path []string) (interface{}, bool) {
	var current interface{} = claims
	for _, segment := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// matches reports whether any value at the filter's path satisfies the
// pattern. Arrays match when any element does.
func (f claimFilter) matches(claims map[string]interface{}) bool {
	value, ok := lookupClaim(claims, f.path)
	if !ok {
		return false
	}
	return f.matchValue(value)
}

func (f claimFilter) matchValue(value interface{}) bool {
	switch v := value.(type) {
	case []interface{}:
		for _, e := range v {
			if f.matchValue(e) {
				return true
			}
		}
		return false
	case string:
		return f.matchString(v)
	default:
		return f.matchString(fmt.Sprintf("%v", v))
	}
}

func (f claimFilter) matchString(s string) bool {
	if strings.Contains(s, f.pattern) {
		return true
	}
	return f.re != nil && f.re.MatchString(s)
}
