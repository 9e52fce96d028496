package plan

import (
	"fmt"
	"slices"

	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// Validate checks the plan for structural and planning errors without
// touching any data. Multiway joins are dry-run through the per-branch
// planner, so every plan-level error the renderer could raise surfaces
// here first.
func (p Plan) Validate() error {
	variants := 0
	for _, set := range []bool{
		p.Source != nil, p.Project != nil, p.Filter != nil,
		p.Join != nil, p.MultiwayJoin != nil,
	} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return fmt.Errorf("plan must set exactly one variant, has %d", variants)
	}

	switch {
	case p.Source != nil:
		if p.Source.Name == "" {
			return fmt.Errorf("source needs a name")
		}
		if p.Source.Arity < 1 {
			return fmt.Errorf("source %q needs a positive arity", p.Source.Name)
		}

	case p.Project != nil:
		if err := p.Project.Input.Validate(); err != nil {
			return err
		}
		arity := p.Project.Input.Arity()
		for _, col := range p.Project.Columns {
			if col < 0 || col >= arity {
				return fmt.Errorf("projection column %d out of range [0,%d)", col, arity)
			}
		}

	case p.Filter != nil:
		if err := p.Filter.Input.Validate(); err != nil {
			return err
		}
		arity := p.Filter.Input.Arity()
		if col := p.Filter.Column; col < 0 || col >= arity {
			return fmt.Errorf("filter column %d out of range [0,%d)", col, arity)
		}
		if _, err := zset.NormalizeValue(p.Filter.Value); err != nil {
			return fmt.Errorf("filter value: %w", err)
		}

	case p.Join != nil:
		return p.Join.validate()

	case p.MultiwayJoin != nil:
		return p.MultiwayJoin.validate()
	}
	return nil
}

func (j *JoinPlan) validate() error {
	if err := j.Left.Validate(); err != nil {
		return err
	}
	if err := j.Right.Validate(); err != nil {
		return err
	}
	if len(j.LeftKeys) != len(j.RightKeys) {
		return fmt.Errorf("join keys differ in length: %d left, %d right",
			len(j.LeftKeys), len(j.RightKeys))
	}
	if len(j.LeftKeys) == 0 {
		return NewZeroKeyStepError("join of %s and %s has no key columns", j.Left, j.Right)
	}
	check := func(side string, keys []int, arity int) error {
		seen := make(map[int]bool, len(keys))
		for _, key := range keys {
			if key < 0 || key >= arity {
				return fmt.Errorf("%s join key %d out of range [0,%d)", side, key, arity)
			}
			if seen[key] {
				return fmt.Errorf("duplicate %s join key %d", side, key)
			}
			seen[key] = true
		}
		return nil
	}
	if err := check("left", j.LeftKeys, j.Left.Arity()); err != nil {
		return err
	}
	return check("right", j.RightKeys, j.Right.Arity())
}

func (mw *MultiwayJoinPlan) validate() error {
	if len(mw.Sources) == 0 {
		return fmt.Errorf("multiway join needs at least one source")
	}
	for i, source := range mw.Sources {
		if err := source.Validate(); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}

	if err := mw.validateEqualities(); err != nil {
		return err
	}
	for _, res := range mw.Results {
		if err := mw.checkRange(res); err != nil {
			return NewUnresolvedResultError("result %v: %v", res, err)
		}
	}

	// Every source the results or the equalities mention must be
	// reachable from every branch seed, or some branch would compute a
	// less constrained join than the others.
	neededSet := map[int]bool{}
	for _, res := range mw.Results {
		neededSet[res.Source] = true
	}
	for _, constraint := range mw.Equalities {
		for _, ref := range constraint {
			neededSet[ref.Source] = true
		}
	}
	needed := make([]int, 0, len(neededSet))
	for source := range neededSet {
		needed = append(needed, source)
	}
	slices.Sort(needed)
	for seed := range mw.Sources {
		order := planJoinOrder(seed, mw.Equalities)
		for _, source := range needed {
			if !slices.Contains(order, source) {
				return NewDisconnectedPlanError(
					"branch %d never reaches source %d", seed, source)
			}
		}
	}

	for seed := range mw.Sources {
		if _, err := planBranch(seed, mw); err != nil {
			return err
		}
	}
	return nil
}

func (mw *MultiwayJoinPlan) validateEqualities() error {
	seen := map[AttrRef]bool{}
	for i, constraint := range mw.Equalities {
		if len(constraint) < 2 {
			return NewMalformedEqualitiesError(
				"constraint %d relates %d attributes, need at least 2", i, len(constraint))
		}
		for _, ref := range constraint {
			if err := mw.checkRange(ref); err != nil {
				return NewMalformedEqualitiesError("constraint %d: %v", i, err)
			}
			if seen[ref] {
				return NewMalformedEqualitiesError(
					"%v appears in more than one place, merge transitive equalities into one constraint", ref)
			}
			seen[ref] = true
		}
	}
	return nil
}

func (mw *MultiwayJoinPlan) checkRange(ref AttrRef) error {
	if ref.Source < 0 || ref.Source >= len(mw.Sources) {
		return fmt.Errorf("source %d out of range [0,%d)", ref.Source, len(mw.Sources))
	}
	if arity := mw.Sources[ref.Source].Arity(); ref.Attr < 0 || ref.Attr >= arity {
		return fmt.Errorf("attribute %d out of range [0,%d) of source %d",
			ref.Attr, arity, ref.Source)
	}
	return nil
}
