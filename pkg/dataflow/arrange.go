package dataflow

import (
	"fmt"

	"github.com/igxactly/differential-dataflow/pkg/timestamp"
	"github.com/igxactly/differential-dataflow/pkg/trace"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// arrangeSelfNode appends each round's changes to an arrangement keyed
// by the whole tuple, and passes the stream through unchanged.
type arrangeSelfNode struct {
	baseNode
	arr *trace.Arrangement
}

func (n *arrangeSelfNode) Process(round timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	entries := inputs[0].Entries()
	batch := make([]trace.Update, 0, len(entries))
	for _, e := range entries {
		batch = append(batch, trace.Update{
			Key:    e.Tuple,
			Val:    zset.Tuple{},
			Time:   round,
			Weight: e.Weight,
		})
	}
	if err := n.arr.Append(batch); err != nil {
		return nil, fmt.Errorf("arrange %s failed: %w", n.id, err)
	}
	return inputs[0], nil
}

// arrangeKeyNode appends each round's changes to an arrangement keyed
// by the first keyLen columns, with the remaining columns as the value,
// and passes the stream through unchanged.
type arrangeKeyNode struct {
	baseNode
	arr    *trace.Arrangement
	keyLen int
}

func (n *arrangeKeyNode) Process(round timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	entries := inputs[0].Entries()
	batch := make([]trace.Update, 0, len(entries))
	for _, e := range entries {
		if len(e.Tuple) < n.keyLen {
			return nil, fmt.Errorf("arrange %s: tuple arity %d below key arity %d",
				n.id, len(e.Tuple), n.keyLen)
		}
		batch = append(batch, trace.Update{
			Key:    e.Tuple[:n.keyLen],
			Val:    e.Tuple[n.keyLen:],
			Time:   round,
			Weight: e.Weight,
		})
	}
	if err := n.arr.Append(batch); err != nil {
		return nil, fmt.Errorf("arrange %s failed: %w", n.id, err)
	}
	return inputs[0], nil
}

// importNode re-exposes an arrangement's committed updates as a change
// stream. The first round after installation replays the whole history,
// which brings a query installed mid-stream up to the shared
// arrangement's accumulated state; afterwards each round drains the
// fresh tail. Updates surface as full tuples, key columns first.
type importNode struct {
	baseNode
	arr    *trace.Arrangement
	offset int
}

func (n *importNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	tail := n.arr.LogSince(n.offset)
	for _, u := range tail {
		full := make(zset.Tuple, 0, len(u.Key)+len(u.Val))
		full = append(full, u.Key...)
		full = append(full, u.Val...)
		if err := out.AddTupleMutate(full, u.Weight); err != nil {
			return nil, fmt.Errorf("import %s failed: %w", n.id, err)
		}
	}
	n.offset += len(tail)
	return out, nil
}

// lookupExtendNode is the worst-case-optimal join step. For each prefix
// change it probes the arrangement at the branch's alt instant and
// emits the prefix extended by each matching value, weighted by the
// product of the weights. The neu flag decides whether the probed view
// includes the current round: an alt view does, a neu view sees only
// strictly earlier rounds.
//
// Updates committed before the node was installed read as changes of
// the installation round, the same round the branch's own import
// replays its history at.
type lookupExtendNode struct {
	baseNode
	arr     *trace.Arrangement
	neu     bool
	since   timestamp.Time
	keyFrom KeyFunc
}

func (n *lookupExtendNode) Process(round timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	probe := timestamp.Alt(round)
	include := func(u timestamp.Time) bool {
		u = u.Join(n.since)
		if n.neu {
			return timestamp.Neu(u).LessEqual(probe)
		}
		return timestamp.Alt(u).LessEqual(probe)
	}

	out := zset.New()
	for _, e := range inputs[0].Entries() {
		key, err := n.keyFrom(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("lookup %s key extraction failed: %w", n.id, err)
		}
		vals, err := n.arr.Lookup(key, include)
		if err != nil {
			return nil, fmt.Errorf("lookup %s failed: %w", n.id, err)
		}
		for _, v := range vals.Entries() {
			extended := make(zset.Tuple, 0, len(e.Tuple)+len(v.Tuple))
			extended = append(extended, e.Tuple...)
			extended = append(extended, v.Tuple...)
			if err := out.AddTupleMutate(extended, e.Weight*v.Weight); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// joinNode is the incremental binary equijoin. Both sides arrive
// projected to key columns first; the output is the key followed by the
// left then the right value columns. Per round it emits
//
//	ΔL ⋈ R(≤t)  +  L(<t) ⋈ ΔR
//
// so a pair of same-round changes is counted exactly once. As with
// lookup-extend, updates committed before the node was installed read
// as changes of the installation round.
type joinNode struct {
	baseNode
	left   *trace.Arrangement
	right  *trace.Arrangement
	keyLen int
	since  timestamp.Time
}

func (n *joinNode) Process(round timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	deltaLeft, deltaRight := inputs[0], inputs[1]

	upToNow := func(u timestamp.Time) bool { return u.Join(n.since) <= round }
	before := func(u timestamp.Time) bool { return u.Join(n.since) < round }

	out := zset.New()
	emit := func(key, leftVals, rightVals zset.Tuple, weight int64) error {
		result := make(zset.Tuple, 0, len(key)+len(leftVals)+len(rightVals))
		result = append(result, key...)
		result = append(result, leftVals...)
		result = append(result, rightVals...)
		return out.AddTupleMutate(result, weight)
	}

	for _, e := range deltaLeft.Entries() {
		key, lvals := e.Tuple[:n.keyLen], e.Tuple[n.keyLen:]
		matches, err := n.right.Lookup(key, upToNow)
		if err != nil {
			return nil, fmt.Errorf("join %s right lookup failed: %w", n.id, err)
		}
		for _, m := range matches.Entries() {
			if err := emit(key, lvals, m.Tuple, e.Weight*m.Weight); err != nil {
				return nil, err
			}
		}
	}

	for _, e := range deltaRight.Entries() {
		key, rvals := e.Tuple[:n.keyLen], e.Tuple[n.keyLen:]
		matches, err := n.left.Lookup(key, before)
		if err != nil {
			return nil, fmt.Errorf("join %s left lookup failed: %w", n.id, err)
		}
		for _, m := range matches.Entries() {
			if err := emit(key, m.Tuple, rvals, e.Weight*m.Weight); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}
