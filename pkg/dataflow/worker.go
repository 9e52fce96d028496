package dataflow

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/igxactly/differential-dataflow/internal/dag"
	"github.com/igxactly/differential-dataflow/pkg/timestamp"
	"github.com/igxactly/differential-dataflow/pkg/trace"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

// Collection is a handle to one node's output stream of changes.
type Collection struct {
	id string
}

// ID returns the underlying node identifier.
func (c Collection) ID() string { return c.id }

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Logger logr.Logger
}

// Worker owns a dataflow graph and drives it one round at a time. All
// changes staged before a Step commit at the same logical timestamp, so
// the output of a round does not depend on the order the changes were
// staged in. The worker is not safe for concurrent use.
type Worker struct {
	log     logr.Logger
	graph   *dag.Graph
	nodes   map[string]Node
	regions map[string]string
	writers map[*trace.Arrangement]string
	inputs  map[string]*inputNode
	counter int
	clock   timestamp.Time
	order   []string
	dirty   bool
	changes map[string]*zset.ZSet
}

// NewWorker creates an empty worker at round zero.
func NewWorker(opts WorkerOptions) *Worker {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Worker{
		log:     log.WithName("worker"),
		graph:   dag.New(),
		nodes:   make(map[string]Node),
		regions: make(map[string]string),
		writers: make(map[*trace.Arrangement]string),
		inputs:  make(map[string]*inputNode),
		changes: make(map[string]*zset.ZSet),
	}
}

// Root returns the outer scope of the worker's dataflow.
func (w *Worker) Root() *Scope {
	return &Scope{worker: w}
}

// Time returns the round the next Step will commit.
func (w *Worker) Time() timestamp.Time { return w.clock }

// NewInput registers a named base relation of the given arity and
// returns its staging handle and its change collection.
func (w *Worker) NewInput(name string, arity int) (*InputHandle, Collection, error) {
	if _, exists := w.inputs[name]; exists {
		return nil, Collection{}, fmt.Errorf("input %q already exists", name)
	}
	if arity <= 0 {
		return nil, Collection{}, fmt.Errorf("input %q needs a positive arity", name)
	}
	node := &inputNode{
		baseNode: baseNode{id: w.nextID("input"), kind: "input"},
		name:     name,
		arity:    arity,
		staged:   zset.New(),
	}
	c := w.addNode(node, "")
	w.inputs[name] = node
	return &InputHandle{name: name, node: node, collection: c}, c, nil
}

// Input returns the handle of a previously registered input.
func (w *Worker) Input(name string) (*InputHandle, bool) {
	node, ok := w.inputs[name]
	if !ok {
		return nil, false
	}
	return &InputHandle{name: name, node: node, collection: Collection{id: node.ID()}}, true
}

// Step commits one round: staged input changes enter the graph at the
// current timestamp, every operator fires once in dependency order, and
// the clock advances.
func (w *Worker) Step() error {
	if w.dirty {
		order, err := w.graph.Topo()
		if err != nil {
			return fmt.Errorf("invalid dataflow graph: %w", err)
		}
		w.order = order
		w.dirty = false
	}

	round := w.clock
	changes := make(map[string]*zset.ZSet, len(w.order))
	for _, id := range w.order {
		node := w.nodes[id]
		inputIDs := node.Inputs()
		inputs := make([]*zset.ZSet, 0, len(inputIDs))
		for _, in := range inputIDs {
			c, ok := changes[in]
			if !ok {
				c = zset.New()
			}
			inputs = append(inputs, c)
		}
		out, err := node.Process(round, inputs...)
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		changes[id] = out
	}

	w.changes = changes
	w.clock++
	w.log.V(2).Info("round committed", "round", round, "nodes", len(w.order))
	return nil
}

// Changes returns the given collection's net changes from the last
// committed round.
func (w *Worker) Changes(c Collection) *zset.ZSet {
	if z, ok := w.changes[c.id]; ok {
		return z
	}
	return zset.New()
}

func (w *Worker) nextID(kind string) string {
	w.counter++
	return fmt.Sprintf("%s-%d", kind, w.counter)
}

func (w *Worker) addNode(n Node, region string) Collection {
	w.nodes[n.ID()] = n
	w.graph.AddNode(n.ID())
	for _, in := range n.Inputs() {
		w.graph.AddEdge(in, n.ID())
	}
	if region != "" {
		w.regions[n.ID()] = region
	}
	w.dirty = true
	return Collection{id: n.ID()}
}

func (w *Worker) addDependency(from, to string) {
	w.graph.AddEdge(from, to)
	w.dirty = true
}

// InputHandle stages changes of one base relation for the next round.
type InputHandle struct {
	name       string
	node       *inputNode
	collection Collection
}

// Name returns the relation name.
func (h *InputHandle) Name() string { return h.name }

// Arity returns the relation's tuple width.
func (h *InputHandle) Arity() int { return h.node.arity }

// Collection returns the input's change collection.
func (h *InputHandle) Collection() Collection { return h.collection }

// Insert stages one insertion.
func (h *InputHandle) Insert(t zset.Tuple) error { return h.node.stage(t, 1) }

// Remove stages one deletion.
func (h *InputHandle) Remove(t zset.Tuple) error { return h.node.stage(t, -1) }

// Update stages a change with an explicit weight.
func (h *InputHandle) Update(t zset.Tuple, weight int64) error { return h.node.stage(t, weight) }

// Scope names a region of the dataflow and builds operators into it.
// Child regions model the nested timestamp refinement of delta
// branches.
type Scope struct {
	worker *Worker
	parent *Scope
	region string
}

// Worker returns the owning worker.
func (s *Scope) Worker() *Worker { return s.worker }

// Region returns the scope's region path, empty at the root.
func (s *Scope) Region() string { return s.region }

// Child creates a nested scope.
func (s *Scope) Child(name string) *Scope {
	region := name
	if s.region != "" {
		region = s.region + "/" + name
	}
	return &Scope{worker: s.worker, parent: s, region: region}
}

// Map builds a tuple-transforming operator.
func (s *Scope) Map(in Collection, fn MapFunc) Collection {
	w := s.worker
	n := &mapNode{
		baseNode: baseNode{id: w.nextID("map"), kind: "map", inputs: []string{in.id}},
		fn:       fn,
	}
	return w.addNode(n, s.region)
}

// Filter builds a tuple-dropping operator.
func (s *Scope) Filter(in Collection, pred FilterFunc) Collection {
	w := s.worker
	n := &filterNode{
		baseNode: baseNode{id: w.nextID("filter"), kind: "filter", inputs: []string{in.id}},
		pred:     pred,
	}
	return w.addNode(n, s.region)
}

// Concat builds the weighted union of the given collections.
func (s *Scope) Concat(ins ...Collection) Collection {
	w := s.worker
	inputs := make([]string, 0, len(ins))
	for _, in := range ins {
		inputs = append(inputs, in.id)
	}
	n := &concatNode{baseNode: baseNode{id: w.nextID("concat"), kind: "concat", inputs: inputs}}
	return w.addNode(n, s.region)
}

// Negate flips the weights of a collection.
func (s *Scope) Negate(in Collection) Collection {
	w := s.worker
	n := &negateNode{baseNode: baseNode{id: w.nextID("negate"), kind: "negate", inputs: []string{in.id}}}
	return w.addNode(n, s.region)
}

// Enter lifts an outer collection into this scope. Its changes ride
// the alt instant of every round.
func (s *Scope) Enter(outer Collection) Collection {
	w := s.worker
	n := &enterNode{baseNode: baseNode{id: w.nextID("enter"), kind: "enter", inputs: []string{outer.id}}}
	return w.addNode(n, s.region)
}

// Leave returns a collection of this scope to the parent, stripping the
// timestamp refinement.
func (s *Scope) Leave(inner Collection) Collection {
	w := s.worker
	parentRegion := ""
	if s.parent != nil {
		parentRegion = s.parent.region
	}
	n := &leaveNode{baseNode: baseNode{id: w.nextID("leave"), kind: "leave", inputs: []string{inner.id}}}
	return w.addNode(n, parentRegion)
}

// ArrangeBySelf indexes a collection by its whole tuples and returns
// the pass-through collection and the new arrangement.
func (s *Scope) ArrangeBySelf(in Collection, name string) (Collection, *trace.Arrangement) {
	w := s.worker
	arr := trace.NewArrangement(name)
	n := &arrangeSelfNode{
		baseNode: baseNode{id: w.nextID("arrange-self"), kind: "arrange-self", inputs: []string{in.id}},
		arr:      arr,
	}
	c := w.addNode(n, s.region)
	w.writers[arr] = n.ID()
	return c, arr
}

// ArrangeByKey indexes a collection by its first keyLen columns and
// returns the pass-through collection and the new arrangement.
func (s *Scope) ArrangeByKey(in Collection, keyLen int, name string) (Collection, *trace.Arrangement) {
	w := s.worker
	arr := trace.NewArrangement(name)
	n := &arrangeKeyNode{
		baseNode: baseNode{id: w.nextID("arrange-key"), kind: "arrange-key", inputs: []string{in.id}},
		arr:      arr,
		keyLen:   keyLen,
	}
	c := w.addNode(n, s.region)
	w.writers[arr] = n.ID()
	return c, arr
}

// ImportChanges re-exposes a shared arrangement's updates as a change
// stream in this scope.
func (s *Scope) ImportChanges(arr *trace.Arrangement) Collection {
	w := s.worker
	n := &importNode{
		baseNode: baseNode{id: w.nextID("import"), kind: "import"},
		arr:      arr,
	}
	c := w.addNode(n, s.region)
	if writer, ok := w.writers[arr]; ok {
		w.addDependency(writer, n.ID())
	}
	return c
}

// LookupExtend builds the lookup-extend join step: each prefix change
// probes the arrangement with the extracted key and is extended by the
// matching value columns. With neu set the probed view excludes the
// current round. Arrangement history older than the current round reads
// as changes of this round.
func (s *Scope) LookupExtend(prefixes Collection, arr *trace.Arrangement, neu bool, keyFrom KeyFunc) Collection {
	w := s.worker
	n := &lookupExtendNode{
		baseNode: baseNode{id: w.nextID("lookup"), kind: "lookup-extend", inputs: []string{prefixes.id}},
		arr:      arr,
		neu:      neu,
		since:    w.clock,
		keyFrom:  keyFrom,
	}
	c := w.addNode(n, s.region)
	if writer, ok := w.writers[arr]; ok {
		w.addDependency(writer, n.ID())
	}
	return c
}

// Join builds the incremental binary equijoin of two key-projected
// collections over their arrangements.
func (s *Scope) Join(left, right Collection, leftArr, rightArr *trace.Arrangement, keyLen int) Collection {
	w := s.worker
	n := &joinNode{
		baseNode: baseNode{id: w.nextID("join"), kind: "join", inputs: []string{left.id, right.id}},
		left:     leftArr,
		right:    rightArr,
		keyLen:   keyLen,
		since:    w.clock,
	}
	c := w.addNode(n, s.region)
	if writer, ok := w.writers[leftArr]; ok {
		w.addDependency(writer, n.ID())
	}
	if writer, ok := w.writers[rightArr]; ok {
		w.addDependency(writer, n.ID())
	}
	return c
}

// NodeInfo describes one operator for visualization.
type NodeInfo struct {
	ID     string
	Kind   string
	Label  string
	Region string
}

// Edge is one dataflow connection.
type Edge struct {
	From string
	To   string
}

// Description is a static view of the worker's graph.
type Description struct {
	Nodes []NodeInfo
	Edges []Edge
}

// Describe returns the graph structure in deterministic order.
func (w *Worker) Describe() Description {
	var d Description
	for _, id := range w.graph.Nodes {
		node := w.nodes[id]
		info := NodeInfo{ID: id, Kind: node.Kind(), Region: w.regions[id]}
		switch n := node.(type) {
		case *inputNode:
			info.Label = n.name
		case *arrangeSelfNode:
			info.Label = n.arr.Name()
		case *arrangeKeyNode:
			info.Label = n.arr.Name()
		case *importNode:
			info.Label = n.arr.Name()
		}
		d.Nodes = append(d.Nodes, info)
	}
	for _, from := range w.graph.Nodes {
		for _, to := range w.graph.Edges(from) {
			d.Edges = append(d.Edges, Edge{From: from, To: to})
		}
	}
	return d
}
