// Package timestamp defines the logical clock of the dataflow engine: an
// outer round counter, plus the two-valued alt/neu refinement that delta
// branches use to order concurrent updates across relations.
package timestamp

import "fmt"

// Time is the outer logical timestamp. The worker advances it by one
// between input rounds; every change staged in the same round commits at
// the same Time.
type Time uint64

// Join returns the least upper bound of two outer timestamps.
func (t Time) Join(other Time) Time {
	if other > t {
		return other
	}
	return t
}

// AltNeu refines an outer timestamp into two consecutive instants,
// Alt(t) strictly before Neu(t), both strictly before any refinement of
// a later round:
//
//	Alt(0) < Neu(0) < Alt(1) < Neu(1) < ...
//
// A delta branch imports the arrangements it probes at one of the two
// instants. Probing at Alt(t) then accumulates alt-tagged updates up to
// and including round t, but neu-tagged updates only up to round t-1,
// which is how a pair of same-round updates in two relations is credited
// to exactly one branch.
type AltNeu struct {
	Outer Time `json:"outer"`
	Neu   bool `json:"neu,omitempty"`
}

// Alt returns the earlier refinement of t.
func Alt(t Time) AltNeu { return AltNeu{Outer: t} }

// Neu returns the later refinement of t.
func Neu(t Time) AltNeu { return AltNeu{Outer: t, Neu: true} }

// Less reports whether ts is strictly before other.
func (ts AltNeu) Less(other AltNeu) bool {
	if ts.Outer != other.Outer {
		return ts.Outer < other.Outer
	}
	return !ts.Neu && other.Neu
}

// LessEqual reports whether ts is at or before other.
func (ts AltNeu) LessEqual(other AltNeu) bool {
	return !other.Less(ts)
}

// Join returns the least upper bound of two refined timestamps.
func (ts AltNeu) Join(other AltNeu) AltNeu {
	if ts.Less(other) {
		return other
	}
	return ts
}

func (ts AltNeu) String() string {
	if ts.Neu {
		return fmt.Sprintf("neu(%d)", ts.Outer)
	}
	return fmt.Sprintf("alt(%d)", ts.Outer)
}
