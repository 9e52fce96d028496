package plan

import (
	"fmt"
	"slices"

	"github.com/igxactly/differential-dataflow/pkg/dataflow"
	"github.com/igxactly/differential-dataflow/pkg/trace"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// RegisterSource creates the named base relation on the scope's worker
// and installs its shared self-arranged index, so queries installed at
// any later round can replay the relation's full history.
func RegisterSource(scope *dataflow.Scope, cache *trace.Manager, name string, arity int) (*dataflow.InputHandle, error) {
	handle, _, err := scope.Worker().NewInput(name, arity)
	if err != nil {
		return nil, err
	}
	sp := &SourcePlan{Name: name, Arity: arity}
	if _, err := sp.arrangement(scope, cache); err != nil {
		return nil, err
	}
	return handle, nil
}

// Render lowers the plan onto the scope's worker as a collection of
// changes, building or reusing shared arrangements through the cache.
func (p Plan) Render(scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	if err := p.Validate(); err != nil {
		return dataflow.Collection{}, err
	}
	return p.render(scope, cache)
}

func (p Plan) render(scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	switch {
	case p.Source != nil:
		return p.Source.render(scope, cache)
	case p.Project != nil:
		return p.Project.render(scope, cache)
	case p.Filter != nil:
		return p.Filter.render(scope, cache)
	case p.Join != nil:
		return p.Join.render(scope, cache)
	case p.MultiwayJoin != nil:
		return p.MultiwayJoin.render(scope, cache)
	}
	return dataflow.Collection{}, fmt.Errorf("empty plan")
}

// arrangement returns the relation's shared self-arranged index,
// installing it on first use. Every read of a base relation goes
// through this index so that consumers built later replay the
// relation's full history instead of seeing only future changes.
func (sp *SourcePlan) arrangement(scope *dataflow.Scope, cache *trace.Manager) (*trace.Arrangement, error) {
	handle, ok := scope.Worker().Input(sp.Name)
	if !ok {
		return nil, fmt.Errorf("unknown source relation %q", sp.Name)
	}
	if got := handle.Arity(); got != sp.Arity {
		return nil, fmt.Errorf("source %q has arity %d, plan expects %d",
			sp.Name, got, sp.Arity)
	}
	fp := Plan{Source: sp}.Fingerprint()
	if arr, ok := cache.GetUnkeyed(fp); ok {
		return arr, nil
	}
	_, arr := scope.ArrangeBySelf(handle.Collection(), fmt.Sprintf("self(%s)", sp.Name))
	cache.SetUnkeyed(fp, arr)
	return arr, nil
}

func (sp *SourcePlan) render(scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	arr, err := sp.arrangement(scope, cache)
	if err != nil {
		return dataflow.Collection{}, err
	}
	return scope.ImportChanges(arr), nil
}

func (pp *ProjectPlan) render(scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	in, err := pp.Input.render(scope, cache)
	if err != nil {
		return dataflow.Collection{}, err
	}
	columns := slices.Clone(pp.Columns)
	return scope.Map(in, func(t zset.Tuple) (zset.Tuple, error) {
		return projectTuple(t, columns)
	}), nil
}

func (fp *FilterPlan) render(scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	in, err := fp.Input.render(scope, cache)
	if err != nil {
		return dataflow.Collection{}, err
	}
	want, err := zset.NormalizeValue(fp.Value)
	if err != nil {
		return dataflow.Collection{}, fmt.Errorf("filter value: %w", err)
	}
	column := fp.Column
	return scope.Filter(in, func(t zset.Tuple) (bool, error) {
		if column >= len(t) {
			return false, fmt.Errorf("filter column %d out of range for tuple of arity %d",
				column, len(t))
		}
		return zset.EqualValues(t[column], want), nil
	}), nil
}

// render of a binary join arranges both inputs key-first through the
// cache and joins their update streams incrementally.
func (j *JoinPlan) render(scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	leftArr, err := ensureKeyed(
		NewProject(j.Left, keyedLayout(j.Left.Arity(), j.LeftKeys)), j.LeftKeys, scope, cache)
	if err != nil {
		return dataflow.Collection{}, err
	}
	rightArr, err := ensureKeyed(
		NewProject(j.Right, keyedLayout(j.Right.Arity(), j.RightKeys)), j.RightKeys, scope, cache)
	if err != nil {
		return dataflow.Collection{}, err
	}
	deltaLeft := scope.ImportChanges(leftArr)
	deltaRight := scope.ImportChanges(rightArr)
	return scope.Join(deltaLeft, deltaRight, leftArr, rightArr, len(j.LeftKeys)), nil
}

func (mw *MultiwayJoinPlan) render(scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	branches := make([]dataflow.Collection, 0, len(mw.Sources))
	for index := range mw.Sources {
		branch, err := mw.renderBranch(index, scope, cache)
		if err != nil {
			return dataflow.Collection{}, err
		}
		branches = append(branches, branch)
	}
	return scope.Concat(branches...), nil
}

// renderBranch builds the delta branch reacting to changes of one
// source: the source's changes stream in, and one lookup-extend step
// per remaining relation folds the shared arrangements in. Steps
// against relations before the seed in source order probe the alt view
// of the round, later ones the neu view, so coincident changes of two
// sources are counted by exactly one of their branches.
func (mw *MultiwayJoinPlan) renderBranch(index int, scope *dataflow.Scope, cache *trace.Manager) (dataflow.Collection, error) {
	bp, err := planBranch(index, mw)
	if err != nil {
		return dataflow.Collection{}, err
	}

	source := mw.Sources[index]
	sourceArr, err := ensureUnkeyed(source, scope, cache)
	if err != nil {
		return dataflow.Collection{}, err
	}

	// Seed the branch with the source's changes restricted to the
	// attributes the query carries.
	init := slices.Clone(bp.Init)
	changes := scope.Map(scope.ImportChanges(sourceArr), func(t zset.Tuple) (zset.Tuple, error) {
		out := make(zset.Tuple, 0, len(init))
		for _, ref := range init {
			if ref.Attr >= len(t) {
				return nil, fmt.Errorf("source %d tuple has arity %d, need attribute %d",
					index, len(t), ref.Attr)
			}
			out = append(out, t[ref.Attr])
		}
		return out, nil
	})

	type stage struct {
		arr     *trace.Arrangement
		neu     bool
		keyFrom dataflow.KeyFunc
	}
	stages := make([]stage, 0, len(bp.Steps))
	for _, step := range bp.Steps {
		projected := NewProject(mw.Sources[step.Relation], step.projection())
		arr, err := ensureKeyed(projected, step.Keys, scope, cache)
		if err != nil {
			return dataflow.Collection{}, err
		}
		priors := slices.Clone(step.Priors)
		stages = append(stages, stage{
			arr: arr,
			neu: step.Relation > index,
			keyFrom: func(t zset.Tuple) (zset.Tuple, error) {
				key := make(zset.Tuple, 0, len(priors))
				for _, prior := range priors {
					if prior >= len(t) {
						return nil, fmt.Errorf("prefix has arity %d, need position %d",
							len(t), prior)
					}
					key = append(key, t[prior])
				}
				return key, nil
			},
		})
	}

	region := scope.Child(fmt.Sprintf("delta-%d/%d", index, len(mw.Sources)))
	delta := region.Enter(changes)
	for _, st := range stages {
		delta = region.LookupExtend(delta, st.arr, st.neu, st.keyFrom)
	}

	extract := slices.Clone(bp.Extract)
	projected := region.Map(delta, func(t zset.Tuple) (zset.Tuple, error) {
		return projectTuple(t, extract)
	})
	return region.Leave(projected), nil
}

// ensureUnkeyed renders the plan if its self-arranged index is not
// cached yet and returns the shared index. Base relations delegate to
// their own arrangement so the raw input stream is indexed exactly
// once.
func ensureUnkeyed(p Plan, scope *dataflow.Scope, cache *trace.Manager) (*trace.Arrangement, error) {
	if p.Source != nil {
		return p.Source.arrangement(scope, cache)
	}
	fp := p.Fingerprint()
	if arr, ok := cache.GetUnkeyed(fp); ok {
		return arr, nil
	}
	collection, err := p.render(scope, cache)
	if err != nil {
		return nil, err
	}
	_, arr := scope.ArrangeBySelf(collection, fmt.Sprintf("self(%s)", p))
	cache.SetUnkeyed(fp, arr)
	return arr, nil
}

// ensureKeyed renders the key-first projected plan if its index is not
// cached yet and returns the shared index arranged by the first
// len(keys) columns. The cache key pairs the projected plan with the
// original key columns, so consumers agreeing on both share one index.
func ensureKeyed(p Plan, keys []int, scope *dataflow.Scope, cache *trace.Manager) (*trace.Arrangement, error) {
	fp := p.Fingerprint()
	if arr, ok := cache.GetKeyed(fp, keys); ok {
		return arr, nil
	}
	collection, err := p.render(scope, cache)
	if err != nil {
		return nil, err
	}
	_, arr := scope.ArrangeByKey(collection, len(keys), fmt.Sprintf("keyed(%s; %v)", p, keys))
	cache.SetKeyed(fp, keys, arr)
	return arr, nil
}

// keyedLayout orders a relation's columns key-first for arrangement.
func keyedLayout(arity int, keys []int) []int {
	columns := slices.Clone(keys)
	for col := 0; col < arity; col++ {
		if !slices.Contains(keys, col) {
			columns = append(columns, col)
		}
	}
	return columns
}

func projectTuple(t zset.Tuple, columns []int) (zset.Tuple, error) {
	out := make(zset.Tuple, 0, len(columns))
	for _, col := range columns {
		if col < 0 || col >= len(t) {
			return nil, fmt.Errorf("column %d out of range for tuple of arity %d", col, len(t))
		}
		out = append(out, t[col])
	}
	return out, nil
}
