package topology

import (
	"hash/fnv"
	"slices"
)

type Hasher func([]byte) uint32

// Ring places node ids on a hash circle. Every node hashing the same roster
// gets the same order, whatever order the roster arrived in.
type Ring struct {
	hash   Hasher
	points []point // sorted by hash, then id
}

type point struct {
	hash uint32
	id   string
}

func NewRing(h Hasher, ids ...string) *Ring {
	if h == nil {
		h = fnv32a
	}
	r := &Ring{hash: h}
	for _, id := range ids {
		r.Add(id)
	}
	return r
}

func (r *Ring) Add(id string) {
	if r.index(id) >= 0 {
		return
	}
	r.points = append(r.points, point{hash: r.hash([]byte(id)), id: id})
	slices.SortFunc(r.points, comparePoints)
}

// Nodes returns ids in ring order.
func (r *Ring) Nodes() []string {
	out := make([]string, len(r.points))
	for i, p := range r.points {
		out[i] = p.id
	}
	return out
}

func (r *Ring) Len() int { return len(r.points) }

// Adjacent returns the predecessor and successor of id, wrapping around.
// On a ring of one both are id itself.
func (r *Ring) Adjacent(id string) (pred, succ string, ok bool) {
	i := r.index(id)
	if i < 0 {
		return "", "", false
	}
	n := len(r.points)
	return r.points[(i+n-1)%n].id, r.points[(i+1)%n].id, true
}

func (r *Ring) index(id string) int {
	for i, p := range r.points {
		if p.id == id {
			return i
		}
	}
	return -1
}

func comparePoints(a, b point) int {
	switch {
	case a.hash < b.hash:
		return -1
	case a.hash > b.hash:
		return 1
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}

func fnv32a(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}
