// Package forwarding implements the forwarding table (spec.md §4.3): a
// session id -> routing-decision map guarded by a reader-writer lock, with
// each entry pointer itself updated via atomic exchange so a concurrent
// reader always observes a complete entry, never a torn one.
/*
 * Grounded on
 * original_source/datapath/siphon/controller/forwarding_table_entry.{hpp,cpp}
 * and forwarding_table.{hpp,cpp}. The original's three entry subclasses
 * (Simple/Splitter/Generic) map directly onto three exported Go types
 * behind the Entry interface; the raw back-pointer each C++ entry keeps to
 * its ForwardingTable and timer is replaced per spec.md §9 with a
 * session-id-keyed hk registration that looks the entry up again on fire,
 * never capturing a pointer.
 */
package forwarding

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NextHopSet is the routing decision an Entry resolves to: the set of node
// ids a packet should be forwarded to next.
type NextHopSet map[uint32]struct{}

func (s NextHopSet) add(id uint32) { s[id] = struct{}{} }

// Entry is the routing decision attached to one session id.
type Entry interface {
	// NextHop computes the current routing decision. Splitter/Generic
	// entries draw randomly on every call, so results vary across calls.
	NextHop() NextHopSet
}

// SimpleEntry forwards to a fixed, constant set of next hops. Constructed
// from a JSON array of integers: `[dst0, dst1, ...]`.
type SimpleEntry struct {
	hops NextHopSet
}

func (e *SimpleEntry) NextHop() NextHopSet { return e.hops }

// weightedHop is one (next hop, weight) pair of a probabilistic entry.
type weightedHop struct {
	hop    uint32
	weight float64
}

// SplitterEntry draws one next hop at random, weighted by each candidate's
// share of the total weight. Constructed from a JSON array of
// `{"NextHop": n, "Weight": w}` objects.
type SplitterEntry struct {
	hops  []weightedHop // sorted by descending weight
	total float64

	rngMu sync.Mutex // *rand.Rand is not safe for concurrent use; package-level rand is
	rng   *rand.Rand
}

func (e *SplitterEntry) NextHop() NextHopSet {
	e.rngMu.Lock()
	draw := e.rng.Float64()
	e.rngMu.Unlock()
	r := draw * e.total
	for _, wh := range e.hops {
		if r < wh.weight {
			return NextHopSet{wh.hop: {}}
		}
		r -= wh.weight
	}
	// Floating-point rounding at the boundary: fall back to the last entry.
	if len(e.hops) > 0 {
		return NextHopSet{e.hops[len(e.hops)-1].hop: {}}
	}
	return NextHopSet{}
}

// GenericEntry performs one independent weighted draw per sub-array,
// unioning the picks -- a multicast-per-replica routing decision.
// Constructed from a JSON array of arrays of `{"NextHop", "Weight"}`.
//
// The crossbar dispatches only the first next hop of the union (spec.md
// §9 Open Questions: multicast via Generic entries is accepted on ingest
// but treated as deprecated at dispatch time; behavior is mirrored here
// rather than "fixed").
type GenericEntry struct {
	groups []*SplitterEntry
}

func (e *GenericEntry) NextHop() NextHopSet {
	result := NextHopSet{}
	for _, g := range e.groups {
		for hop := range g.NextHop() {
			result.add(hop)
		}
	}
	return result
}

type weightedHopJSON struct {
	NextHop uint32  `json:"NextHop"`
	Weight  float64 `json:"Weight"`
}

func newSplitter(raw []weightedHopJSON) (*SplitterEntry, error) {
	if len(raw) == 0 {
		return nil, errors.New("forwarding: splitter entry has no candidates")
	}
	hops := make([]weightedHop, 0, len(raw))
	var total float64
	for _, w := range raw {
		if w.Weight <= 0 {
			return nil, errors.Errorf("forwarding: non-positive weight %v for next hop %d", w.Weight, w.NextHop)
		}
		hops = append(hops, weightedHop{hop: w.NextHop, weight: w.Weight})
		total += w.Weight
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i].weight > hops[j].weight })
	return &SplitterEntry{hops: hops, total: total, rng: rand.New(rand.NewSource(rand.Int63()))}, nil
}

// NewEntry constructs the right Entry variant for the shape of raw,
// mirroring the original's shape-sniffing rapidjson construction (spec.md
// §4.3): a flat array of integers is Simple, a flat array of weighted-hop
// objects is Splitter, and an array of arrays is Generic.
func NewEntry(raw []byte) (Entry, error) {
	var probe []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.Wrap(err, "forwarding: entry payload is not a JSON array")
	}
	if len(probe) == 0 {
		return &SimpleEntry{hops: NextHopSet{}}, nil
	}

	var asInt uint32
	if err := json.Unmarshal(probe[0], &asInt); err == nil {
		hops := make(NextHopSet, len(probe))
		for _, item := range probe {
			var id uint32
			if err := json.Unmarshal(item, &id); err != nil {
				return nil, errors.Wrap(err, "forwarding: malformed simple entry element")
			}
			hops.add(id)
		}
		return &SimpleEntry{hops: hops}, nil
	}

	var asArray []jsoniter.RawMessage
	if err := json.Unmarshal(probe[0], &asArray); err == nil {
		groups := make([]*SplitterEntry, 0, len(probe))
		for _, sub := range probe {
			var weighted []weightedHopJSON
			if err := json.Unmarshal(sub, &weighted); err != nil {
				return nil, errors.Wrap(err, "forwarding: malformed generic entry group")
			}
			splitter, err := newSplitter(weighted)
			if err != nil {
				return nil, err
			}
			groups = append(groups, splitter)
		}
		return &GenericEntry{groups: groups}, nil
	}

	var weighted []weightedHopJSON
	if err := json.Unmarshal(raw, &weighted); err == nil {
		return newSplitter(weighted)
	}

	return nil, fmt.Errorf("forwarding: unrecognized entry shape")
}
