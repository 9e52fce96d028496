// Package plan describes relational query plans and lowers them onto a
// dataflow worker as incrementally maintained collections.
//
// A Plan is a tagged union: exactly one of its members is set. Plans
// serialize to JSON and YAML, so queries can be loaded from
// configuration as well as built programmatically. The interesting
// variant is the multiway equijoin, which is rendered as one delta
// branch per source so that no intermediate join result is ever
// materialized.
package plan

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// AttrRef names one attribute of one source relation by position:
// Source indexes into the surrounding multiway join's source list and
// Attr is a column of that source.
type AttrRef struct {
	Attr   int `json:"attr"`
	Source int `json:"source"`
}

func (r AttrRef) String() string {
	return fmt.Sprintf("%d.%d", r.Source, r.Attr)
}

// Plan is a relational query plan. Exactly one member must be non-nil.
type Plan struct {
	Source       *SourcePlan       `json:"source,omitempty"`
	Project      *ProjectPlan      `json:"project,omitempty"`
	Filter       *FilterPlan       `json:"filter,omitempty"`
	Join         *JoinPlan         `json:"join,omitempty"`
	MultiwayJoin *MultiwayJoinPlan `json:"multiwayJoin,omitempty"`
}

// SourcePlan reads a named input relation of fixed arity.
type SourcePlan struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

// ProjectPlan permutes, duplicates or drops columns of its input.
type ProjectPlan struct {
	Input   Plan  `json:"input"`
	Columns []int `json:"columns"`
}

// FilterPlan retains tuples whose Column equals Value. Numeric values
// compare across integer and float representations.
type FilterPlan struct {
	Input  Plan       `json:"input"`
	Column int        `json:"column"`
	Value  zset.Value `json:"value,omitempty"`
}

// JoinPlan equijoins two inputs on positional key columns. The output
// lays out the key columns first, then the remaining left columns,
// then the remaining right columns.
type JoinPlan struct {
	Left      Plan  `json:"left"`
	Right     Plan  `json:"right"`
	LeftKeys  []int `json:"leftKeys"`
	RightKeys []int `json:"rightKeys"`
}

// MultiwayJoinPlan equijoins any number of sources under a set of
// equality constraints, producing the declared result attributes.
//
// Equalities is a set of constraints, each a list of at least two
// attribute references that must all carry equal values. A reference
// may appear in at most one constraint, and at most once there:
// transitively equal attributes belong in one merged list.
type MultiwayJoinPlan struct {
	Sources    []Plan      `json:"sources"`
	Equalities [][]AttrRef `json:"equalities,omitempty"`
	Results    []AttrRef   `json:"results,omitempty"`
}

// NewSource builds a plan reading the named input relation.
func NewSource(name string, arity int) Plan {
	return Plan{Source: &SourcePlan{Name: name, Arity: arity}}
}

// NewProject builds a projection of input onto the given columns.
func NewProject(input Plan, columns []int) Plan {
	return Plan{Project: &ProjectPlan{Input: input, Columns: columns}}
}

// NewFilter builds a filter retaining tuples whose column equals value.
func NewFilter(input Plan, column int, value zset.Value) Plan {
	return Plan{Filter: &FilterPlan{Input: input, Column: column, Value: value}}
}

// NewJoin builds a binary equijoin of left and right on the given key
// columns, which must have equal nonzero length.
func NewJoin(left, right Plan, leftKeys, rightKeys []int) Plan {
	return Plan{Join: &JoinPlan{
		Left:      left,
		Right:     right,
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
	}}
}

// NewMultiwayJoin builds a multiway equijoin over sources.
func NewMultiwayJoin(sources []Plan, equalities [][]AttrRef, results []AttrRef) Plan {
	return Plan{MultiwayJoin: &MultiwayJoinPlan{
		Sources:    sources,
		Equalities: equalities,
		Results:    results,
	}}
}

// Parse decodes a plan from YAML or JSON and validates it.
func Parse(data []byte) (Plan, error) {
	var p Plan
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return Plan{}, fmt.Errorf("cannot parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Arity returns the width of the tuples the plan produces.
func (p Plan) Arity() int {
	switch {
	case p.Source != nil:
		return p.Source.Arity
	case p.Project != nil:
		return len(p.Project.Columns)
	case p.Filter != nil:
		return p.Filter.Input.Arity()
	case p.Join != nil:
		j := p.Join
		return len(j.LeftKeys) +
			(j.Left.Arity() - len(j.LeftKeys)) +
			(j.Right.Arity() - len(j.RightKeys))
	case p.MultiwayJoin != nil:
		return len(p.MultiwayJoin.Results)
	}
	return 0
}

// Sources lists the distinct base relations the plan reads, sorted by
// name. A relation referenced with two different arities is an error.
func (p Plan) Sources() ([]SourcePlan, error) {
	arities := map[string]int{}
	if err := p.collectSources(arities); err != nil {
		return nil, err
	}
	sources := make([]SourcePlan, 0, len(arities))
	for name, arity := range arities {
		sources = append(sources, SourcePlan{Name: name, Arity: arity})
	}
	slices.SortFunc(sources, func(a, b SourcePlan) int {
		return strings.Compare(a.Name, b.Name)
	})
	return sources, nil
}

func (p Plan) collectSources(arities map[string]int) error {
	switch {
	case p.Source != nil:
		if arity, ok := arities[p.Source.Name]; ok && arity != p.Source.Arity {
			return fmt.Errorf("source %q referenced with arity %d and %d",
				p.Source.Name, arity, p.Source.Arity)
		}
		arities[p.Source.Name] = p.Source.Arity
	case p.Project != nil:
		return p.Project.Input.collectSources(arities)
	case p.Filter != nil:
		return p.Filter.Input.collectSources(arities)
	case p.Join != nil:
		if err := p.Join.Left.collectSources(arities); err != nil {
			return err
		}
		return p.Join.Right.collectSources(arities)
	case p.MultiwayJoin != nil:
		for _, source := range p.MultiwayJoin.Sources {
			if err := source.collectSources(arities); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fingerprint returns a canonical textual form of the plan. Two plans
// with equal fingerprints describe the same computation, which is what
// the arrangement cache keys on.
func (p Plan) Fingerprint() string {
	// Field order of the marshaled structs is fixed, so the JSON
	// encoding is canonical.
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("unfingerprintable:%v", err)
	}
	return string(data)
}

func (p Plan) String() string {
	switch {
	case p.Source != nil:
		return p.Source.Name
	case p.Project != nil:
		return fmt.Sprintf("project(%s; %v)", p.Project.Input, p.Project.Columns)
	case p.Filter != nil:
		return fmt.Sprintf("filter(%s; %d=%v)", p.Filter.Input, p.Filter.Column, p.Filter.Value)
	case p.Join != nil:
		return fmt.Sprintf("join(%s, %s)", p.Join.Left, p.Join.Right)
	case p.MultiwayJoin != nil:
		return fmt.Sprintf("multiway(%d sources)", len(p.MultiwayJoin.Sources))
	}
	return "empty"
}
