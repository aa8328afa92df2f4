package entity

import (
	"errors"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Prof. Smith", "prof-smith"},
		{"  Market Entry 101 ", "market-entry-101"},
		{"Émile", "émile"},
		{"---", ""},
		{"A  B", "a-b"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.name); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDeriveIDRejectsReserved(t *testing.T) {
	if _, err := DeriveID("New"); !errors.Is(err, ErrReservedID) {
		t.Fatalf("expected ErrReservedID, got %v", err)
	}
	if _, err := DeriveID("!!!"); err == nil {
		t.Fatalf("expected error for empty slug")
	}
	id, err := DeriveID("Prof. Smith")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if id != "prof-smith" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestWithIdentity(t *testing.T) {
	a := Avatar{Name: "Prof. Smith"}
	b := a.WithIdentity("prof-smith")
	if a.ID != "" {
		t.Fatalf("WithIdentity mutated the receiver")
	}
	if b.ID != "prof-smith" || b.Name != "Prof. Smith" {
		t.Fatalf("unexpected copy: %+v", b)
	}
}
