package dataflow

import (
	"fmt"

	"github.com/igxactly/differential-dataflow/pkg/timestamp"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// MapFunc transforms one tuple into another.
type MapFunc func(zset.Tuple) (zset.Tuple, error)

// FilterFunc decides whether a tuple passes.
type FilterFunc func(zset.Tuple) (bool, error)

// KeyFunc extracts the probe key from a running tuple.
type KeyFunc func(zset.Tuple) (zset.Tuple, error)

// Node is one dataflow operator: per round it consumes its inputs'
// change sets and produces its own. Implementations must not mutate
// their inputs.
type Node interface {
	// Process the input change sets for one round.
	Process(round timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error)
	// Node identifier, unique within a worker.
	ID() string
	// Upstream node identifiers, in input order.
	Inputs() []string
	// Operator kind for logging and visualization.
	Kind() string
}

// Base implementation for validation.
type baseNode struct {
	id     string
	kind   string
	inputs []string
}

func (n *baseNode) ID() string       { return n.id }
func (n *baseNode) Inputs() []string { return n.inputs }
func (n *baseNode) Kind() string     { return n.kind }

func (n *baseNode) validateInputs(inputs []*zset.ZSet) error {
	if len(inputs) != len(n.inputs) {
		return fmt.Errorf("node %s expects %d inputs, got %d", n.id, len(n.inputs), len(inputs))
	}
	return nil
}

// inputNode holds changes staged from outside the graph and releases
// them when the round fires.
type inputNode struct {
	baseNode
	name   string
	arity  int
	staged *zset.ZSet
}

func (n *inputNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := n.staged
	n.staged = zset.New()
	return out, nil
}

func (n *inputNode) stage(t zset.Tuple, weight int64) error {
	if len(t) != n.arity {
		return fmt.Errorf("input %q expects arity %d, got %d", n.name, n.arity, len(t))
	}
	normalized, err := zset.NewTuple(t...)
	if err != nil {
		return fmt.Errorf("input %q rejected tuple: %w", n.name, err)
	}
	return n.staged.AddTupleMutate(normalized, weight)
}

type mapNode struct {
	baseNode
	fn MapFunc
}

func (n *mapNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, e := range inputs[0].Entries() {
		mapped, err := n.fn(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("map %s failed: %w", n.id, err)
		}
		if err := out.AddTupleMutate(mapped, e.Weight); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type filterNode struct {
	baseNode
	pred FilterFunc
}

func (n *filterNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, e := range inputs[0].Entries() {
		keep, err := n.pred(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("filter %s failed: %w", n.id, err)
		}
		if !keep {
			continue
		}
		if err := out.AddTupleMutate(e.Tuple, e.Weight); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type concatNode struct {
	baseNode
}

func (n *concatNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	out := zset.New()
	for _, in := range inputs {
		var err error
		out, err = out.Add(in)
		if err != nil {
			return nil, fmt.Errorf("concat %s failed: %w", n.id, err)
		}
	}
	return out, nil
}

type negateNode struct {
	baseNode
}

func (n *negateNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Negate(), nil
}

// enterNode and leaveNode move a stream between a region and its
// parent. Stream changes inside a delta region ride the alt instant of
// the round, so both are identities on the payload; the refinement only
// matters at the arrangement probes.
type enterNode struct {
	baseNode
}

func (n *enterNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0], nil
}

type leaveNode struct {
	baseNode
}

func (n *leaveNode) Process(_ timestamp.Time, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0], nil
}
