package store

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
)

func TestAddLocalIdempotent(t *testing.T) {
	s := New()

	if !s.AddLocal(5) {
		t.Fatalf("AddLocal(5) = false on first insert, want true")
	}
	once := s.All()

	if s.AddLocal(5) {
		t.Fatalf("AddLocal(5) = true on duplicate, want false")
	}
	if twice := s.All(); !slices.Equal(once, twice) {
		t.Fatalf("All() after duplicate = %v, want %v", twice, once)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestAddFromPeerRecordsReceived(t *testing.T) {
	s := New()
	s.AddLocal(1)

	if got := s.AddFromPeer("n2", []uint64{1, 2, 3, 3}); got != 2 {
		t.Fatalf("AddFromPeer new count = %d, want 2", got)
	}
	if got := s.All(); !slices.Equal(got, []uint64{1, 2, 3}) {
		t.Fatalf("All() = %v, want [1 2 3]", got)
	}

	sent, received := s.Ledger("n2")
	if len(sent) != 0 {
		t.Fatalf("sent = %v, want empty", sent)
	}
	if !slices.Equal(received, []uint64{1, 2, 3}) {
		t.Fatalf("received = %v, want [1 2 3]", received)
	}
}

func TestOutstandingExcludesLedger(t *testing.T) {
	s := New()
	for _, v := range []uint64{1, 2, 3, 4, 5} {
		s.AddLocal(v)
	}

	if got := s.Outstanding("n2"); !slices.Equal(got, []uint64{1, 2, 3, 4, 5}) {
		t.Fatalf("Outstanding(n2) with no ledger = %v", got)
	}

	s.MarkSent("n2", []uint64{1, 2})
	s.AddFromPeer("n2", []uint64{5})

	if got := s.Outstanding("n2"); !slices.Equal(got, []uint64{3, 4}) {
		t.Fatalf("Outstanding(n2) = %v, want [3 4]", got)
	}
	// other neighbors are unaffected
	if got := s.Outstanding("n3"); len(got) != 5 {
		t.Fatalf("Outstanding(n3) = %v, want all five", got)
	}
}

func TestMarkSentIgnoresUnknownValues(t *testing.T) {
	s := New()
	s.AddLocal(7)

	s.MarkSent("n2", []uint64{7, 8})

	sent, _ := s.Ledger("n2")
	if !slices.Equal(sent, []uint64{7}) {
		t.Fatalf("sent = %v, want [7]", sent)
	}
}

// An acknowledgment alone is enough to stop resending.
func TestAckSuppressesResend(t *testing.T) {
	s := New()
	s.AddLocal(7)
	s.AddLocal(8)

	s.MarkSent("n2", []uint64{7, 8})

	if got := s.Outstanding("n2"); len(got) != 0 {
		t.Fatalf("Outstanding(n2) after ack = %v, want empty", got)
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	batches := [][]uint64{{1, 2}, {2, 3}, {9}, {1, 1, 4}, {}}

	ref := New()
	for _, b := range batches {
		ref.AddFromPeer("p", b)
	}
	want := ref.All()

	r := rand.New(rand.NewPCG(7, 11))
	for i := range 20 {
		order := slices.Clone(batches)
		r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		s := New()
		for _, b := range order {
			s.AddFromPeer(fmt.Sprintf("p%d", r.IntN(3)), b)
			if r.IntN(2) == 0 {
				s.AddFromPeer("dup", b) // duplicated delivery
			}
		}
		if got := s.All(); !slices.Equal(got, want) {
			t.Fatalf("round %d: All() = %v, want %v", i, got, want)
		}
	}
}

func TestLedgerNeverShrinks(t *testing.T) {
	s := New()
	var lastSent, lastRecv int

	for i := range uint64(50) {
		s.AddLocal(i)
		if i%3 == 0 {
			s.MarkSent("n2", []uint64{i, i / 2})
		}
		if i%5 == 0 {
			s.AddFromPeer("n2", []uint64{i + 100})
		}

		sent, received := s.Ledger("n2")
		if len(sent) < lastSent || len(received) < lastRecv {
			t.Fatalf("ledger shrank at %d: sent %d->%d received %d->%d", i, lastSent, len(sent), lastRecv, len(received))
		}
		lastSent, lastRecv = len(sent), len(received)

		for _, v := range append(sent, received...) {
			if _, ok := slices.BinarySearch(s.All(), v); !ok {
				t.Fatalf("ledger value %d not in set", v)
			}
		}
	}
}

func TestThrottle(t *testing.T) {
	s := New()

	if s.Throttle("n2", 0) {
		t.Fatalf("Throttle with limit 0 held a send")
	}

	// limit 2: hold, hold, release, then the cycle starts over
	want := []bool{true, true, false, true, true, false}
	for i, w := range want {
		if got := s.Throttle("n2", 2); got != w {
			t.Fatalf("call %d: Throttle = %v, want %v", i, got, w)
		}
	}

	// counters are per neighbor
	if !s.Throttle("n3", 1) {
		t.Fatalf("n3 first call should be held")
	}
}

func TestPeers(t *testing.T) {
	s := New()
	s.AddLocal(1)
	s.MarkSent("n3", []uint64{1})
	s.AddFromPeer("n2", nil)

	if got := s.Peers(); !slices.Equal(got, []string{"n2", "n3"}) {
		t.Fatalf("Peers() = %v", got)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	s := New()
	s.AddLocal(1)

	vals := s.All()
	vals[0] = 42
	if got := s.All(); got[0] != 1 {
		t.Fatalf("All() returned a reference, not a copy")
	}
}

func TestConcurrentAccess_NoRaces(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	const G = 16
	const N = 500

	for gid := range G {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			peer := fmt.Sprintf("n%d", gid%4)
			for i := range N {
				v := uint64(gid*N + i)
				switch i % 4 {
				case 0:
					s.AddLocal(v)
				case 1:
					s.AddFromPeer(peer, []uint64{v, v + 1})
				case 2:
					s.MarkSent(peer, s.Outstanding(peer))
				default:
					s.Throttle(peer, 3)
					_ = s.All()
				}
			}
		}(gid)
	}
	wg.Wait()

	for _, p := range s.Peers() {
		sent, received := s.Ledger(p)
		all := s.All()
		for _, v := range append(sent, received...) {
			if _, ok := slices.BinarySearch(all, v); !ok {
				t.Fatalf("peer %s ledger holds %d outside the set", p, v)
			}
		}
	}
}
