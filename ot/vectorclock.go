// Package ot implements the operational-transform algebra and the
// per-session operation buffer built on top of it.
package ot

import "sort"

// Relation is the result of comparing two vector clocks under the
// standard partial order.
type Relation int

const (
	Equal Relation = iota
	Before
	After
	Concurrent
)

// VectorClock maps a client id to its monotonically increasing counter.
type VectorClock map[string]int64

// NewVectorClock returns an empty clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Increment raises the counter for client by one.
func (vc VectorClock) Increment(client string) {
	vc[client]++
}

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Merge returns the pairwise max (least upper bound) of vc and other.
// vc itself is left unmodified.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for client, v := range other {
		if v > out[client] {
			out[client] = v
		}
	}
	return out
}

// Cmp compares vc against other. Unseen entries are treated as 0, so the
// comparison is total over the union of both clocks' keys.
func (vc VectorClock) Cmp(other VectorClock) Relation {
	selfLess := false
	otherLess := false

	seen := make(map[string]struct{}, len(vc)+len(other))
	for k := range vc {
		seen[k] = struct{}{}
	}
	for k := range other {
		seen[k] = struct{}{}
	}

	for client := range seen {
		a := vc[client]
		b := other[client]
		switch {
		case a < b:
			otherLess = true
		case a > b:
			selfLess = true
		}
	}

	switch {
	case selfLess && otherLess:
		return Concurrent
	case selfLess:
		return After
	case otherLess:
		return Before
	default:
		return Equal
	}
}

// sortedKeys is a small helper used by the buffer's state hash to get a
// deterministic ordering over clock entries.
func (vc VectorClock) sortedKeys() []string {
	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
