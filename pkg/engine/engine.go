// Package engine hosts base relations and incrementally maintained
// queries over them. It owns the dataflow worker and the shared
// arrangement cache, installs declarative plans, and commits the
// computation one round at a time.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/igxactly/differential-dataflow/pkg/dataflow"
	"github.com/igxactly/differential-dataflow/pkg/plan"
	"github.com/igxactly/differential-dataflow/pkg/timestamp"
	"github.com/igxactly/differential-dataflow/pkg/trace"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// Options configure an Engine.
type Options struct {
	Logger logr.Logger
	// Registerer receives the engine's metrics. Left nil, metrics stay
	// unregistered.
	Registerer prometheus.Registerer
}

// Engine is the top level handle of one incremental computation. All
// methods are safe for concurrent use; rounds commit one at a time.
type Engine struct {
	mu        sync.Mutex
	worker    *dataflow.Worker
	cache     *trace.Manager
	inputs    map[string]*dataflow.InputHandle
	queries   map[string]*Query
	installed []*Query
	metrics   *metrics

	logger, log logr.Logger
}

// New creates a new engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	e := &Engine{
		worker:  dataflow.NewWorker(dataflow.WorkerOptions{Logger: logger}),
		cache:   trace.NewManager(trace.ManagerOptions{Logger: logger}),
		inputs:  make(map[string]*dataflow.InputHandle),
		queries: make(map[string]*Query),
		logger:  logger,
		log:     logger.WithName("engine"),
	}
	e.metrics = newMetrics(opts.Registerer, e)
	return e
}

// AddInput registers a named base relation of the given arity. Its
// shared index starts recording immediately, so queries installed at
// any later round observe the relation's full history.
func (e *Engine) AddInput(name string, arity int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	handle, err := plan.RegisterSource(e.worker.Root(), e.cache, name, arity)
	if err != nil {
		return err
	}
	e.inputs[name] = handle
	e.log.V(1).Info("added input", "name", name, "arity", arity)
	return nil
}

// InputNames returns the registered relation names in sorted order.
func (e *Engine) InputNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.inputs))
	for name := range e.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Insert stages one insertion into a base relation for the next round.
func (e *Engine) Insert(relation string, t zset.Tuple) error {
	return e.stage(relation, t, 1)
}

// Remove stages one deletion from a base relation for the next round.
func (e *Engine) Remove(relation string, t zset.Tuple) error {
	return e.stage(relation, t, -1)
}

// Update stages a change with an explicit weight.
func (e *Engine) Update(relation string, t zset.Tuple, weight int64) error {
	return e.stage(relation, t, weight)
}

func (e *Engine) stage(relation string, t zset.Tuple, weight int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.inputs[relation]
	if !ok {
		return fmt.Errorf("unknown relation %q", relation)
	}
	return in.Update(t, weight)
}

// Install validates the plan and builds its dataflow, reusing shared
// arrangements wherever fingerprints agree. Installing a plan that is
// already maintained returns the existing query.
func (e *Engine) Install(p plan.Plan) (*Query, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fp := p.Fingerprint()
	if q, ok := e.queries[fp]; ok {
		e.log.V(1).Info("query already installed", "plan", p.String())
		return q, nil
	}

	out, err := p.Render(e.worker.Root(), e.cache)
	if err != nil {
		return nil, fmt.Errorf("cannot install %s: %w", p, err)
	}
	q := &Query{
		engine: e,
		plan:   p,
		output: out,
		delta:  zset.New(),
		state:  zset.New(),
	}
	e.queries[fp] = q
	e.installed = append(e.installed, q)
	e.log.Info("installed query", "plan", p.String(), "queries", len(e.installed))
	return q, nil
}

// Step commits one round: all staged changes take effect at the same
// logical time and every query's delta and accumulated state advance.
func (e *Engine) Step() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	round := e.worker.Time()
	if err := e.worker.Step(); err != nil {
		return err
	}
	changed := 0
	for _, q := range e.installed {
		delta := e.worker.Changes(q.output)
		state, err := q.state.Add(delta)
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		q.delta = delta
		q.state = state
		changed += delta.Size()
	}
	e.metrics.rounds.Inc()
	e.metrics.changes.Add(float64(changed))
	e.metrics.stepDuration.Observe(time.Since(start).Seconds())
	e.log.V(2).Info("round committed", "round", round, "queries", len(e.installed))
	return nil
}

// Time returns the round the next Step will commit.
func (e *Engine) Time() timestamp.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.worker.Time()
}

// CacheStats reports the arrangement cache counters.
func (e *Engine) CacheStats() trace.Stats {
	return e.cache.Stats()
}

// Describe returns the static structure of the installed dataflow.
func (e *Engine) Describe() dataflow.Description {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.worker.Describe()
}

func (e *Engine) queryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.installed)
}

// Query is one installed plan and its maintained result.
type Query struct {
	engine *Engine
	plan   plan.Plan
	output dataflow.Collection
	delta  *zset.ZSet
	state  *zset.ZSet
}

// Plan returns the installed plan.
func (q *Query) Plan() plan.Plan { return q.plan }

// Changes returns the output changes of the last committed round.
func (q *Query) Changes() *zset.ZSet {
	q.engine.mu.Lock()
	defer q.engine.mu.Unlock()
	return q.delta
}

// State returns the accumulated query result.
func (q *Query) State() *zset.ZSet {
	q.engine.mu.Lock()
	defer q.engine.mu.Unlock()
	return q.state
}
