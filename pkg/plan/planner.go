package plan

import (
	"slices"
)

// relevantAttributes collects every attribute the query must carry:
// the declared results plus all attributes referenced by equality
// constraints, deduplicated and deterministically ordered.
func relevantAttributes(results []AttrRef, equalities [][]AttrRef) []AttrRef {
	refs := slices.Clone(results)
	for _, constraint := range equalities {
		refs = append(refs, constraint...)
	}
	slices.SortFunc(refs, func(a, b AttrRef) int {
		if a.Source != b.Source {
			return a.Source - b.Source
		}
		return a.Attr - b.Attr
	})
	return slices.Compact(refs)
}

// sourceAttributes restricts refs to those belonging to one source.
func sourceAttributes(refs []AttrRef, source int) []AttrRef {
	var out []AttrRef
	for _, ref := range refs {
		if ref.Source == source {
			out = append(out, ref)
		}
	}
	return out
}

// planJoinOrder schedules the relations of one delta branch. Starting
// from the seed it repeatedly appends every relation that shares an
// equality constraint with an already scheduled one, until no
// constraint adds anything new. Relations the walk never reaches are
// absent from the result.
func planJoinOrder(seed int, equalities [][]AttrRef) []int {
	order := []int{seed}
	for active := true; active; {
		active = false
		for _, constraint := range equalities {
			if !touchesAny(constraint, order) {
				continue
			}
			for _, ref := range constraint {
				if !slices.Contains(order, ref.Source) {
					order = append(order, ref.Source)
					active = true
				}
			}
		}
	}
	return order
}

func touchesAny(constraint []AttrRef, sources []int) bool {
	for _, ref := range constraint {
		if slices.Contains(sources, ref.Source) {
			return true
		}
	}
	return false
}

// determineKeysPriors picks the key columns for folding relation next
// into a branch that has already accumulated the given attributes.
// Every equality constraint mentioning an accumulated attribute
// contributes next's attributes in that constraint as keys; the prior
// is the position of the first accumulated attribute the constraint
// mentions, which is the column of the running tuple the key must
// match.
func determineKeysPriors(next int, equalities [][]AttrRef, accumulated []AttrRef) (keys, priors []int) {
	for _, constraint := range equalities {
		prior := -1
		for pos, attr := range accumulated {
			if slices.Contains(constraint, attr) {
				prior = pos
				break
			}
		}
		if prior < 0 {
			continue
		}
		for _, ref := range constraint {
			if ref.Source == next {
				keys = append(keys, ref.Attr)
				priors = append(priors, prior)
			}
		}
	}
	return keys, priors
}

// joinStep is one lookup-extend stage of a delta branch: fold relation
// Relation, arranged by its Keys columns, matching the running tuple
// at the Priors positions and appending the Vals columns.
type joinStep struct {
	Relation int
	Keys     []int
	Priors   []int
	Vals     []AttrRef
}

// projection lays out the folded relation for its arrangement: key
// columns first, value columns after.
func (s joinStep) projection() []int {
	columns := slices.Clone(s.Keys)
	for _, val := range s.Vals {
		columns = append(columns, val.Attr)
	}
	return columns
}

// branchPlan is the static shape of one delta branch: the seed's own
// attributes, the ordered join steps, and the positions in the final
// running tuple holding each declared result.
type branchPlan struct {
	Seed    int
	Init    []AttrRef
	Steps   []joinStep
	Extract []int
	Width   int
}

// planBranch lays out the delta branch rooted at seed. It fails when a
// step would have no keys or a result attribute never becomes
// available, both of which are properties of the plan alone.
func planBranch(seed int, mw *MultiwayJoinPlan) (branchPlan, error) {
	relevant := relevantAttributes(mw.Results, mw.Equalities)
	attributes := sourceAttributes(relevant, seed)

	bp := branchPlan{Seed: seed, Init: slices.Clone(attributes)}

	// Position in the running tuple where each attribute's value can
	// be read. An attribute folded in as a join key resolves to its
	// prior position: the join condition makes the two values equal.
	resolved := make(map[AttrRef]int, len(relevant))
	for pos, attr := range attributes {
		resolved[attr] = pos
	}

	for _, relation := range planJoinOrder(seed, mw.Equalities)[1:] {
		keys, priors := determineKeysPriors(relation, mw.Equalities, attributes)
		if len(keys) == 0 {
			return branchPlan{}, NewZeroKeyStepError(
				"branch %d cannot key relation %d against %v", seed, relation, attributes)
		}
		var vals []AttrRef
		for _, ref := range relevant {
			if ref.Source == relation && !slices.Contains(keys, ref.Attr) {
				vals = append(vals, ref)
			}
		}
		for i, key := range keys {
			resolved[AttrRef{Attr: key, Source: relation}] = priors[i]
		}
		for i, val := range vals {
			resolved[val] = len(attributes) + i
		}
		attributes = append(attributes, vals...)
		bp.Steps = append(bp.Steps, joinStep{
			Relation: relation,
			Keys:     keys,
			Priors:   priors,
			Vals:     vals,
		})
	}

	bp.Extract = make([]int, len(mw.Results))
	for i, res := range mw.Results {
		pos, ok := resolved[res]
		if !ok {
			return branchPlan{}, NewUnresolvedResultError(
				"branch %d never accumulates %v", seed, res)
		}
		bp.Extract[i] = pos
	}
	bp.Width = len(attributes)
	return bp, nil
}
