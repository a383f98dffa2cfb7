package keyset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIntersects(t *testing.T) {
	cases := []struct {
		name string
		a, b Set
		want bool
	}{
		{"subset", New("K1"), New("K1", "K2"), true},
		{"disjoint", New("K1"), New("K2"), false},
		{"empty left", New(), New("K2"), false},
		{"nil right", New("K1"), nil, false},
		{"larger left", New("a", "b", "c", "d"), New("d"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Intersects(tc.a, tc.b); got != tc.want {
				t.Fatalf("Intersects = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUnionAndSorted(t *testing.T) {
	got := Union(New("b", "a"), nil, New("c", "a")).Sorted()
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Fatalf("union mismatch (-want +got):\n%s", diff)
	}
}
