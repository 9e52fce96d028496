// Package trace implements shared arrangements: incrementally appended,
// queryable indexes over the history of a keyed collection, and the
// cache that lets every consumer of an equal sub-plan share one index.
//
// An arrangement is written by exactly one operator, the one that built
// it, and read by any number of join steps. Readers accumulate the net
// weight of each value under a caller-supplied time bound, which is how
// delta branches see the same index at either the alt or the neu instant
// of a round.
package trace

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/igxactly/differential-dataflow/pkg/timestamp"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// Update is one committed change of a keyed collection: at Time, the
// multiplicity of Val under Key changed by Weight.
type Update struct {
	Key    zset.Tuple
	Val    zset.Tuple
	Time   timestamp.Time
	Weight int64
}

type keyHistory struct {
	key     zset.Tuple
	updates []Update
}

// Arrangement is a shared index over a collection's history, ordered by
// key. Appends come from a single writer in round order; lookups
// accumulate per-value net weights under a time bound.
type Arrangement struct {
	mu    sync.RWMutex
	name  string
	index *btree.BTreeG[*keyHistory]
	log   []Update
}

// NewArrangement creates an empty arrangement. The name only serves
// logging and visualization.
func NewArrangement(name string) *Arrangement {
	return &Arrangement{
		name: name,
		index: btree.NewG(16, func(a, b *keyHistory) bool {
			return zset.CompareTuples(a.key, b.key) < 0
		}),
	}
}

// Name returns the arrangement's display name.
func (a *Arrangement) Name() string { return a.name }

// Append commits a batch of updates. Batches must arrive in
// nondecreasing time order; only the operator that built the
// arrangement appends.
func (a *Arrangement) Append(batch []Update) error {
	if len(batch) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if last := len(a.log) - 1; last >= 0 && batch[0].Time < a.log[last].Time {
		return fmt.Errorf("out of order append to arrangement %q: %d after %d",
			a.name, batch[0].Time, a.log[last].Time)
	}

	for _, u := range batch {
		if u.Weight == 0 {
			continue
		}
		a.log = append(a.log, u)
		probe := &keyHistory{key: u.Key}
		hist, ok := a.index.Get(probe)
		if !ok {
			hist = probe
			a.index.ReplaceOrInsert(hist)
		}
		hist.updates = append(hist.updates, u)
	}
	return nil
}

// Lookup accumulates the values recorded under key across every update
// whose time satisfies include, and returns their net weights. Values
// whose weights cancel are absent from the result.
func (a *Arrangement) Lookup(key zset.Tuple, include func(timestamp.Time) bool) (*zset.ZSet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := zset.New()
	hist, ok := a.index.Get(&keyHistory{key: key})
	if !ok {
		return result, nil
	}
	for _, u := range hist.updates {
		if !include(u.Time) {
			continue
		}
		if err := result.AddTupleMutate(u.Val, u.Weight); err != nil {
			return nil, fmt.Errorf("failed to accumulate arrangement %q: %w", a.name, err)
		}
	}
	return result, nil
}

// LogLen returns the number of updates committed so far. Importers
// remember it as their replay offset.
func (a *Arrangement) LogLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.log)
}

// LogSince returns the updates committed at or after the given offset.
// The returned slice is shared and must not be modified.
func (a *Arrangement) LogSince(offset int) []Update {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if offset >= len(a.log) {
		return nil
	}
	return a.log[offset:]
}

// Keys returns the number of distinct keys in the index.
func (a *Arrangement) Keys() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.Len()
}

// Ascend walks the keys in ascending order, accumulating each key's
// values under the time bound, until fn returns false.
func (a *Arrangement) Ascend(include func(timestamp.Time) bool, fn func(key zset.Tuple, vals *zset.ZSet) bool) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var walkErr error
	a.index.Ascend(func(hist *keyHistory) bool {
		vals := zset.New()
		for _, u := range hist.updates {
			if !include(u.Time) {
				continue
			}
			if err := vals.AddTupleMutate(u.Val, u.Weight); err != nil {
				walkErr = fmt.Errorf("failed to accumulate arrangement %q: %w", a.name, err)
				return false
			}
		}
		if vals.IsZero() {
			return true
		}
		return fn(hist.key, vals)
	})
	return walkErr
}
