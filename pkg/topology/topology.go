package topology

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// Identity is this node's id and the full cluster roster, fixed at init.
type Identity struct {
	ID     string
	Roster []string
}

// ConfigError reports a roster this node cannot build a topology from.
type ConfigError struct {
	Self   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("topology: node %q: %s", e.Self, e.Reason)
}

// Policy picks the neighbors a node gossips with.
type Policy interface {
	Name() string
	Neighbors(self string, roster []string) []string
}

// Initialize validates the roster and computes this node's neighbors.
func Initialize(self string, roster []string, p Policy) (Identity, []string, error) {
	seen := make(map[string]struct{}, len(roster))
	for _, id := range roster {
		if id == "" {
			return Identity{}, nil, &ConfigError{Self: self, Reason: "roster contains an empty id"}
		}
		if _, dup := seen[id]; dup {
			return Identity{}, nil, &ConfigError{Self: self, Reason: fmt.Sprintf("roster lists %q twice", id)}
		}
		seen[id] = struct{}{}
	}
	if _, ok := seen[self]; !ok {
		return Identity{}, nil, &ConfigError{Self: self, Reason: "not in roster"}
	}

	neighbors := p.Neighbors(self, roster)
	slices.Sort(neighbors)
	return Identity{ID: self, Roster: slices.Clone(roster)}, neighbors, nil
}

// Mesh connects a node to every other roster member.
type Mesh struct{}

func (Mesh) Name() string { return "mesh" }

func (Mesh) Neighbors(self string, roster []string) []string {
	return others(self, roster)
}

// RingSample links a node to its ring predecessor and successor plus Extra
// randomly sampled other members.
type RingSample struct {
	Extra int
	Rand  *Source
}

func (RingSample) Name() string { return "ring" }

func (p RingSample) Neighbors(self string, roster []string) []string {
	r := NewRing(nil, roster...)
	pred, succ, ok := r.Adjacent(self)
	if !ok {
		return nil
	}

	picked := make(map[string]struct{})
	for _, id := range []string{pred, succ} {
		if id != self {
			picked[id] = struct{}{}
		}
	}

	rest := make([]string, 0, r.Len())
	for _, id := range r.Nodes() {
		if _, ok := picked[id]; !ok && id != self {
			rest = append(rest, id)
		}
	}
	for _, id := range orClock(p.Rand).Sample(rest, p.Extra) {
		picked[id] = struct{}{}
	}

	out := make([]string, 0, len(picked))
	for id := range picked {
		out = append(out, id)
	}
	return out
}

// RandomSubset samples Size members uniformly, with no forced ring links.
type RandomSubset struct {
	Size int
	Rand *Source
}

func (RandomSubset) Name() string { return "random" }

func (p RandomSubset) Neighbors(self string, roster []string) []string {
	return orClock(p.Rand).Sample(others(self, roster), p.Size)
}

// NewPolicy resolves a policy by name. size is the ring's extra sample or
// the random subset's size; it is ignored by mesh. A nil src is seeded from
// the clock.
func NewPolicy(name string, size int, src *Source) (Policy, error) {
	src = orClock(src)
	switch name {
	case "", "mesh":
		return Mesh{}, nil
	case "ring":
		return RingSample{Extra: size, Rand: src}, nil
	case "random":
		return RandomSubset{Size: size, Rand: src}, nil
	default:
		return nil, fmt.Errorf("topology: unknown policy %q (want mesh, ring or random)", name)
	}
}

// Source is a goroutine-safe wrapper around a seeded rand.Rand so tests can
// supply a deterministic sequence.
type Source struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewSource(seed uint64) *Source {
	return &Source{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func orClock(s *Source) *Source {
	if s != nil {
		return s
	}
	return NewSource(uint64(time.Now().UnixNano()))
}

// IntN returns a uniform int in [0, n). n must be positive.
func (s *Source) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// Float64 returns a uniform float in [0, 1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Sample returns up to k distinct elements of ids chosen uniformly, without
// replacement. ids is not modified.
func (s *Source) Sample(ids []string, k int) []string {
	if k <= 0 || len(ids) == 0 {
		return []string{}
	}
	pool := slices.Clone(ids)
	k = min(k, len(pool))

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range k {
		j := i + s.r.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

func others(self string, roster []string) []string {
	out := make([]string, 0, len(roster))
	for _, id := range roster {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
