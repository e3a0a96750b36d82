package tracker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/patrickmn/go-cache"
)

// WildcardToken is the character in a force's callsign filter that
// stands for any single alphanumeric run. "VFA-1X" matches "VFA-101"
// and "VFA-1A" but not "VFA-2".
const WildcardToken = 'X'

// FilterMatcher compiles callsign filters to regexps and caches the
// compiled form; force filters rarely change but are checked on every
// online/offline transition.
type FilterMatcher struct {
	compiled *cache.Cache
}

func NewFilterMatcher() *FilterMatcher {
	return &FilterMatcher{compiled: cache.New(cache.NoExpiration, 0)}
}

// Matches reports whether a callsign matches a filter, using
// case-insensitive substring semantics with the wildcard token
// expanded.
func (m *FilterMatcher) Matches(filter, callsign string) bool {
	re, err := m.compile(filter)
	if err != nil {
		return false
	}
	return re.MatchString(callsign)
}

func (m *FilterMatcher) compile(filter string) (*regexp.Regexp, error) {
	if v, found := m.compiled.Get(filter); found {
		if re, ok := v.(*regexp.Regexp); ok {
			return re, nil
		}
	}

	var pattern strings.Builder
	pattern.WriteString("(?i)")
	literal := filter
	for {
		idx := strings.IndexByte(literal, WildcardToken)
		if idx < 0 {
			pattern.WriteString(regexp.QuoteMeta(literal))
			break
		}
		pattern.WriteString(regexp.QuoteMeta(literal[:idx]))
		pattern.WriteString("[a-z0-9]+")
		literal = literal[idx+1:]
	}

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("bad callsign filter %q: %w", filter, err)
	}
	m.compiled.Set(filter, re, cache.NoExpiration)
	return re, nil
}
