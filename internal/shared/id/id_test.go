package id

import (
	"strings"
	"testing"
)

func TestPrefixedIDs(t *testing.T) {
	cases := []struct {
		name   string
		got    string
		prefix string
	}{
		{"fiddle", NewFiddleID().String(), "fdl_"},
		{"share", NewShareID().String(), "shr_"},
		{"conn", NewConnID().String(), "conn_"},
		{"sandbox", NewSandboxID().String(), "sbx_"},
	}

	for _, tc := range cases {
		if !strings.HasPrefix(tc.got, tc.prefix) {
			t.Errorf("%s: expected prefix %q, got %q", tc.name, tc.prefix, tc.got)
		}
		if !IsValid(tc.got) {
			t.Errorf("%s: %q should be valid", tc.name, tc.got)
		}
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[FiddleID]bool)
	for i := 0; i < 1000; i++ {
		id := NewFiddleID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIsValidRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "fdl_", "fdl_notaulid", "plainstring"} {
		if IsValid(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}
