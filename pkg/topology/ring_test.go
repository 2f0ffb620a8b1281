package topology

import (
	"slices"
	"testing"
)

func TestRingOrderIgnoresInsertOrder(t *testing.T) {
	a := NewRing(nil, "n1", "n2", "n3", "n4", "n5")
	b := NewRing(nil, "n5", "n3", "n1", "n4", "n2")

	if !slices.Equal(a.Nodes(), b.Nodes()) {
		t.Fatalf("ring order depends on insert order: %v vs %v", a.Nodes(), b.Nodes())
	}
}

func TestRingAdjacentWraps(t *testing.T) {
	// identity-ish hasher so the order is predictable
	h := func(b []byte) uint32 { return uint32(b[len(b)-1]) }
	r := NewRing(h, "n3", "n1", "n2")

	if got := r.Nodes(); !slices.Equal(got, []string{"n1", "n2", "n3"}) {
		t.Fatalf("Nodes() = %v", got)
	}

	cases := map[string][2]string{
		"n1": {"n3", "n2"},
		"n2": {"n1", "n3"},
		"n3": {"n2", "n1"},
	}
	for id, want := range cases {
		pred, succ, ok := r.Adjacent(id)
		if !ok || pred != want[0] || succ != want[1] {
			t.Fatalf("Adjacent(%s) = (%s,%s,%v), want (%s,%s,true)", id, pred, succ, ok, want[0], want[1])
		}
	}
}

func TestRingAdjacentMissing(t *testing.T) {
	r := NewRing(nil, "n1")
	if _, _, ok := r.Adjacent("n9"); ok {
		t.Fatal("Adjacent of a missing id reported ok")
	}
	pred, succ, ok := r.Adjacent("n1")
	if !ok || pred != "n1" || succ != "n1" {
		t.Fatalf("single-node ring Adjacent = (%s,%s,%v)", pred, succ, ok)
	}
}

func TestRingCollisionTieBreak(t *testing.T) {
	same := func([]byte) uint32 { return 1 }
	r := NewRing(same, "b", "a", "c")
	if got := r.Nodes(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("Nodes() = %v, want ids ordered on collision", got)
	}
}

func TestRingIdempotentAdd(t *testing.T) {
	r := NewRing(nil, "n1", "n2")
	r.Add("n1")
	if r.Len() != 2 {
		t.Fatalf("Len after duplicate Add = %d, want 2", r.Len())
	}
	if got := r.Nodes(); len(got) != 2 || got[0] == got[1] {
		t.Fatalf("Nodes() = %v, want n1 and n2 once each", got)
	}
}
