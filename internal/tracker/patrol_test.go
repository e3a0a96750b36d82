package tracker

import "testing"

func TestFilterMatcher_Wildcard(t *testing.T) {
	m := NewFilterMatcher()

	cases := []struct {
		filter   string
		callsign string
		want     bool
	}{
		{"VFA-1X", "VFA-101", true},
		{"VFA-1X", "VFA-1A", true},
		{"VFA-1X", "VFA-2", false},
		{"VFA-1X", "vfa-103", true},
		{"RAF", "RAF01", true},
		{"RAF", "raf-tanker", true},
		{"RAF", "USN01", false},
	}

	for _, tc := range cases {
		got := m.Matches(tc.filter, tc.callsign)
		if got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.filter, tc.callsign, got, tc.want)
		}
	}
}

func TestFilterMatcher_SubstringSemantics(t *testing.T) {
	m := NewFilterMatcher()

	// The filter matches anywhere in the callsign, not just a prefix
	if !m.Matches("VFA-1X", "USS VFA-101 Lead") {
		t.Error("Expected substring match inside a longer callsign")
	}
}

func TestFilterMatcher_CachesCompiledFilters(t *testing.T) {
	m := NewFilterMatcher()

	if !m.Matches("VFA-1X", "VFA-101") {
		t.Fatal("Expected first match to succeed")
	}
	if _, found := m.compiled.Get("VFA-1X"); !found {
		t.Error("Expected compiled filter to be cached")
	}
	// Second call goes through the cache path
	if !m.Matches("VFA-1X", "VFA-102") {
		t.Error("Expected cached filter to keep matching")
	}
}
