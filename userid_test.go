package goSession

import (
	"errors"
	"testing"
)

func TestUserIDCanonicalRoundTrip(t *testing.T) {
	tests := []struct {
		id        UserID
		canonical string
	}{
		{StringUserID("alice"), "alice"},
		{StringUserID("42"), "42"},
		{StringUserID(`{"j":1}`), `{"j":1}`},
		{NumericUserID(42), `{"i":42}`},
		{NumericUserID(-9), `{"i":-9}`},
		{NumericUserID(0), `{"i":0}`},
	}
	for _, tc := range tests {
		got, err := tc.id.Canonical()
		if err != nil {
			t.Fatalf("Canonical(%v): %v", tc.id, err)
		}
		if got != tc.canonical {
			t.Fatalf("Canonical(%v) = %q, want %q", tc.id, got, tc.canonical)
		}
		back, err := ParseUserID(got)
		if err != nil {
			t.Fatalf("ParseUserID(%q): %v", got, err)
		}
		if back != tc.id {
			t.Fatalf("round trip of %q: got %+v, want %+v", got, back, tc.id)
		}
	}
}

func TestUserIDRejectsAmbiguousStrings(t *testing.T) {
	for _, s := range []string{"", `{"i":5}`, ` {"i": 5} `} {
		if _, err := StringUserID(s).Canonical(); !errors.Is(err, ErrInvalidUserID) {
			t.Fatalf("expected ErrInvalidUserID for %q, got %v", s, err)
		}
	}
	if _, err := ParseUserID(""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID for empty canonical form, got %v", err)
	}
}

func TestParseUserIDNonNumericObjects(t *testing.T) {
	for _, s := range []string{`{"i":1.5}`, `{"i":5,"x":1}`, `{"i":5}{}`, `{`} {
		id, err := ParseUserID(s)
		if err != nil {
			t.Fatalf("ParseUserID(%q): %v", s, err)
		}
		if id.Kind() != UserIDString || id.String() != s {
			t.Fatalf("expected %q to stay a string id, got %+v", s, id)
		}
	}
}

func TestUserIDAccessors(t *testing.T) {
	n := NumericUserID(7)
	if v, ok := n.Int64(); !ok || v != 7 || n.String() != "7" || n.Kind() != UserIDNumeric {
		t.Fatalf("unexpected numeric accessors: %+v", n)
	}
	s := StringUserID("bob")
	if _, ok := s.Int64(); ok || s.String() != "bob" || s.Kind() != UserIDString {
		t.Fatalf("unexpected string accessors: %+v", s)
	}
}
