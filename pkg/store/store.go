package store

import (
	"maps"
	"slices"
	"sync"
)

type set map[uint64]struct{}

// ledger records what a single neighbor has been shown to hold.
type ledger struct {
	sent     set
	received set
	idle     int // consecutive held ticks, see Throttle
}

// Store is the grow-only set of broadcast values plus a per-neighbor ledger.
// Every method is atomic; the lock is never held by callers across I/O.
type Store struct {
	mu      sync.RWMutex
	values  set
	ledgers map[string]*ledger
}

func New() *Store {
	return &Store{
		values:  make(set),
		ledgers: make(map[string]*ledger),
	}
}

// AddLocal inserts a value accepted from a client. It reports whether the
// value was new.
func (s *Store) AddLocal(v uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(v)
}

// AddFromPeer merges values gossiped by peer and records them as received
// from it. It returns how many values were new to this node.
func (s *Store) AddFromPeer(peer string, values []uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ledgerFor(peer)
	added := 0
	for _, v := range values {
		if s.insert(v) {
			added++
		}
		l.received[v] = struct{}{}
	}
	return added
}

// MarkSent records values as held by peer. Values this node does not hold
// are dropped so a ledger never names a value outside the set.
func (s *Store) MarkSent(peer string, values []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ledgerFor(peer)
	for _, v := range values {
		if _, ok := s.values[v]; ok {
			l.sent[v] = struct{}{}
		}
	}
}

// All returns a sorted snapshot of every value held.
func (s *Store) All() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.values)
}

// Outstanding returns, sorted, the values peer has not been shown to have.
func (s *Store) Outstanding(peer string) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[peer]
	if !ok {
		return sorted(s.values)
	}
	out := make([]uint64, 0, len(s.values))
	for v := range s.values {
		if _, ok := l.sent[v]; ok {
			continue
		}
		if _, ok := l.received[v]; ok {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Throttle is the back-off primitive. It reports whether a send to peer
// should be held this tick: a peer is held for limit consecutive calls, then
// released and its counter reset. limit <= 0 never holds.
func (s *Store) Throttle(peer string, limit int) bool {
	if limit <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ledgerFor(peer)
	if l.idle < limit {
		l.idle++
		return true
	}
	l.idle = 0
	return false
}

// Ledger returns sorted copies of what has been sent to and received from peer.
func (s *Store) Ledger(peer string) (sent, received []uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[peer]
	if !ok {
		return []uint64{}, []uint64{}
	}
	return sorted(l.sent), sorted(l.received)
}

// Peers lists the neighbors that have a ledger.
func (s *Store) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.ledgers))
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *Store) insert(v uint64) bool {
	if _, ok := s.values[v]; ok {
		return false
	}
	s.values[v] = struct{}{}
	return true
}

// ledgerFor must be called with the write lock held.
func (s *Store) ledgerFor(peer string) *ledger {
	l, ok := s.ledgers[peer]
	if !ok {
		l = &ledger{sent: make(set), received: make(set)}
		s.ledgers[peer] = l
	}
	return l
}

func sorted(s set) []uint64 {
	out := make([]uint64, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
