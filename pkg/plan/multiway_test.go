package plan

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/igxactly/differential-dataflow/pkg/dataflow"
	"github.com/igxactly/differential-dataflow/pkg/trace"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

func tup(vals ...any) zset.Tuple {
	t, err := zset.NewTuple(vals...)
	Expect(err).NotTo(HaveOccurred())
	return t
}

func weightOf(z *zset.ZSet, t zset.Tuple) int64 {
	w, err := z.Weight(t)
	Expect(err).NotTo(HaveOccurred())
	return w
}

// harness wires a worker with the three triangle relations, their
// shared base arrangements installed up front the way a server
// registers inputs at creation.
type harness struct {
	worker  *dataflow.Worker
	cache   *trace.Manager
	r, s, t *dataflow.InputHandle
	out     dataflow.Collection
	total   *zset.ZSet
}

func newTriangleHarness() *harness {
	h := &harness{
		worker: dataflow.NewWorker(dataflow.WorkerOptions{Logger: logger}),
		cache:  trace.NewManager(trace.ManagerOptions{Logger: logger}),
		total:  zset.New(),
	}
	var err error
	h.r, err = RegisterSource(h.worker.Root(), h.cache, "r", 2)
	Expect(err).NotTo(HaveOccurred())
	h.s, err = RegisterSource(h.worker.Root(), h.cache, "s", 2)
	Expect(err).NotTo(HaveOccurred())
	h.t, err = RegisterSource(h.worker.Root(), h.cache, "t", 2)
	Expect(err).NotTo(HaveOccurred())
	return h
}

func (h *harness) install(p Plan) dataflow.Collection {
	out, err := p.Render(h.worker.Root(), h.cache)
	Expect(err).NotTo(HaveOccurred())
	h.out = out
	return out
}

// step commits one round and returns the query's net output changes,
// accumulating them into the running total.
func (h *harness) step() *zset.ZSet {
	Expect(h.worker.Step()).To(Succeed())
	delta := h.worker.Changes(h.out)
	total, err := h.total.Add(delta)
	Expect(err).NotTo(HaveOccurred())
	h.total = total
	return delta
}

// bruteTriangles enumerates r ⋈ s ⋈ t from scratch, weighting each
// result by the product of the edge multiplicities.
func bruteTriangles(rs, ss, ts map[[2]int64]int64) *zset.ZSet {
	out := zset.New()
	for re, rw := range rs {
		for se, sw := range ss {
			if re[1] != se[0] {
				continue
			}
			for te, tw := range ts {
				if se[1] != te[0] || te[1] != re[0] {
					continue
				}
				Expect(out.AddTupleMutate(tup(re[0], se[1]), rw*sw*tw)).To(Succeed())
			}
		}
	}
	return out
}

var _ = Describe("Triangle query", func() {
	var h *harness

	BeforeEach(func() {
		h = newTriangleHarness()
		h.install(triangle())
	})

	It("finds a triangle inserted in one round", func() {
		Expect(h.r.Insert(tup(1, 2))).To(Succeed())
		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		Expect(h.t.Insert(tup(3, 1))).To(Succeed())

		delta := h.step()
		Expect(delta.Size()).To(Equal(1))
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(1))

		Expect(h.step().IsZero()).To(BeTrue())
	})

	It("finds a triangle assembled over rounds", func() {
		Expect(h.r.Insert(tup(1, 2))).To(Succeed())
		Expect(h.step().IsZero()).To(BeTrue())

		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		Expect(h.step().IsZero()).To(BeTrue())

		Expect(h.t.Insert(tup(3, 1))).To(Succeed())
		delta := h.step()
		Expect(delta.Size()).To(Equal(1))
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(1))
	})

	It("counts a coincident pair of changes exactly once", func() {
		Expect(h.t.Insert(tup(3, 1))).To(Succeed())
		Expect(h.step().IsZero()).To(BeTrue())

		Expect(h.r.Insert(tup(1, 2))).To(Succeed())
		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		delta := h.step()
		Expect(delta.Size()).To(Equal(1))
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(1))
	})

	It("retracts when an edge disappears", func() {
		Expect(h.r.Insert(tup(1, 2))).To(Succeed())
		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		Expect(h.t.Insert(tup(3, 1))).To(Succeed())
		h.step()

		Expect(h.r.Remove(tup(1, 2))).To(Succeed())
		delta := h.step()
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(-1))
		Expect(h.total.IsZero()).To(BeTrue())

		Expect(h.s.Remove(tup(2, 3))).To(Succeed())
		Expect(h.step().IsZero()).To(BeTrue())
	})

	It("weights results by edge multiplicity", func() {
		Expect(h.r.Update(tup(1, 2), 2)).To(Succeed())
		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		Expect(h.t.Insert(tup(3, 1))).To(Succeed())
		delta := h.step()
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(2))

		Expect(h.r.Remove(tup(1, 2))).To(Succeed())
		delta = h.step()
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(-1))
	})

	It("is insensitive to staging order within a round", func() {
		other := newTriangleHarness()
		other.install(triangle())

		Expect(h.r.Insert(tup(1, 2))).To(Succeed())
		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		Expect(h.t.Insert(tup(3, 1))).To(Succeed())

		Expect(other.t.Insert(tup(3, 1))).To(Succeed())
		Expect(other.r.Insert(tup(1, 2))).To(Succeed())
		Expect(other.s.Insert(tup(2, 3))).To(Succeed())

		Expect(h.step().Equal(other.step())).To(BeTrue())
	})

	It("maintains the join under a mixed change script", func() {
		rs := map[[2]int64]int64{}
		ss := map[[2]int64]int64{}
		ts := map[[2]int64]int64{}
		apply := func(state map[[2]int64]int64, in *dataflow.InputHandle, a, b, w int64) {
			Expect(in.Update(tup(a, b), w)).To(Succeed())
			state[[2]int64{a, b}] += w
			if state[[2]int64{a, b}] == 0 {
				delete(state, [2]int64{a, b})
			}
		}

		apply(rs, h.r, 1, 2, 1)
		apply(ss, h.s, 5, 6, 1)
		Expect(h.step().IsZero()).To(BeTrue())

		apply(ts, h.t, 3, 1, 1)
		apply(ss, h.s, 2, 3, 1)
		delta := h.step()
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(1))
		Expect(delta.Size()).To(Equal(1))

		apply(rs, h.r, 4, 5, 1)
		apply(ts, h.t, 6, 4, 1)
		delta = h.step()
		Expect(weightOf(delta, tup(4, 6))).To(BeEquivalentTo(1))
		Expect(delta.Size()).To(Equal(1))

		apply(rs, h.r, 1, 9, 1)
		apply(ss, h.s, 9, 3, 1)
		delta = h.step()
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(1))
		Expect(delta.Size()).To(Equal(1))

		apply(rs, h.r, 1, 2, -1)
		delta = h.step()
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(-1))
		Expect(delta.Size()).To(Equal(1))

		Expect(h.total.Equal(bruteTriangles(rs, ss, ts))).To(BeTrue())
	})

	It("matches from-scratch recomputation under a randomized script", func() {
		rng := rand.New(rand.NewSource(7))
		inputs := []*dataflow.InputHandle{h.r, h.s, h.t}
		states := []map[[2]int64]int64{{}, {}, {}}

		for round := 0; round < 24; round++ {
			for c := 0; c < 3; c++ {
				i := rng.Intn(3)
				edge := [2]int64{rng.Int63n(3) + 1, rng.Int63n(3) + 1}
				w := int64(1)
				if states[i][edge] > 0 && rng.Intn(2) == 1 {
					w = -1
				}
				Expect(inputs[i].Update(tup(edge[0], edge[1]), w)).To(Succeed())
				states[i][edge] += w
				if states[i][edge] == 0 {
					delete(states[i], edge)
				}
			}
			h.step()
			Expect(h.total.Equal(bruteTriangles(states[0], states[1], states[2]))).
				To(BeTrue(), "round %d diverged from recomputation", round)
		}
	})

	It("replays history for queries installed late", func() {
		late := newTriangleHarness()
		Expect(late.r.Insert(tup(1, 2))).To(Succeed())
		Expect(late.worker.Step()).To(Succeed())
		Expect(late.s.Insert(tup(2, 3))).To(Succeed())
		Expect(late.worker.Step()).To(Succeed())
		Expect(late.t.Insert(tup(3, 1))).To(Succeed())
		Expect(late.worker.Step()).To(Succeed())

		late.install(triangle())
		delta := late.step()
		Expect(delta.Size()).To(Equal(1))
		Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(1))
	})
})

var _ = Describe("Arrangement sharing", func() {
	var h *harness

	BeforeEach(func() {
		h = newTriangleHarness()
	})

	It("builds each arrangement once", func() {
		h.install(triangle())

		// Three base relations, five keyed layouts: both branches
		// folding t agree on its projection and keys and share one
		// index.
		stats := h.cache.Stats()
		Expect(stats.Entries).To(Equal(8))
		Expect(stats.Misses).To(BeEquivalentTo(8))
		Expect(stats.Hits).To(BeEquivalentTo(9))
	})

	It("reuses every arrangement for a second installation", func() {
		first := h.install(triangle())
		second, err := triangle().Render(h.worker.Root(), h.cache)
		Expect(err).NotTo(HaveOccurred())

		stats := h.cache.Stats()
		Expect(stats.Entries).To(Equal(8))
		Expect(stats.Misses).To(BeEquivalentTo(8))

		Expect(h.r.Insert(tup(1, 2))).To(Succeed())
		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		Expect(h.t.Insert(tup(3, 1))).To(Succeed())
		Expect(h.worker.Step()).To(Succeed())

		for _, out := range []dataflow.Collection{first, second} {
			delta := h.worker.Changes(out)
			Expect(weightOf(delta, tup(1, 3))).To(BeEquivalentTo(1))
		}
	})

	It("brings a late installation over shared arrangements up to date exactly once", func() {
		first := h.install(triangle())
		Expect(h.r.Insert(tup(1, 2))).To(Succeed())
		Expect(h.s.Insert(tup(2, 3))).To(Succeed())
		Expect(h.t.Insert(tup(3, 1))).To(Succeed())
		h.step()

		// The second installation finds every arrangement in the cache,
		// so its branches replay history other queries already indexed.
		second, err := triangle().Render(h.worker.Root(), h.cache)
		Expect(err).NotTo(HaveOccurred())
		stats := h.cache.Stats()
		Expect(stats.Entries).To(Equal(8))
		Expect(stats.Misses).To(BeEquivalentTo(8))

		Expect(h.worker.Step()).To(Succeed())
		catchup := h.worker.Changes(second)
		Expect(catchup.Size()).To(Equal(1))
		Expect(weightOf(catchup, tup(1, 3))).To(BeEquivalentTo(1))
		Expect(h.worker.Changes(first).IsZero()).To(BeTrue())

		Expect(h.r.Remove(tup(1, 2))).To(Succeed())
		Expect(h.worker.Step()).To(Succeed())
		Expect(weightOf(h.worker.Changes(second), tup(1, 3))).To(BeEquivalentTo(-1))
		Expect(weightOf(h.worker.Changes(first), tup(1, 3))).To(BeEquivalentTo(-1))
	})
})

var _ = Describe("Rendered graph", func() {
	It("places the delta branches in nested regions", func() {
		h := newTriangleHarness()
		h.install(triangle())

		d := h.worker.Describe()
		kinds := map[string]int{}
		regions := map[string]bool{}
		for _, n := range d.Nodes {
			kinds[n.Kind]++
			regions[n.Region] = true
		}

		Expect(kinds["lookup-extend"]).To(Equal(6))
		Expect(kinds["enter"]).To(Equal(3))
		Expect(kinds["leave"]).To(Equal(3))
		Expect(kinds["concat"]).To(Equal(1))
		Expect(kinds["arrange-self"]).To(Equal(3))
		Expect(kinds["arrange-key"]).To(Equal(5))

		Expect(regions).To(HaveKey("delta-0/3"))
		Expect(regions).To(HaveKey("delta-1/3"))
		Expect(regions).To(HaveKey("delta-2/3"))
	})
})

var _ = Describe("Other plan shapes", func() {
	var (
		w     *dataflow.Worker
		cache *trace.Manager
		r, s  *dataflow.InputHandle
	)

	BeforeEach(func() {
		w = dataflow.NewWorker(dataflow.WorkerOptions{Logger: logger})
		cache = trace.NewManager(trace.ManagerOptions{Logger: logger})
		var err error
		r, _, err = w.NewInput("r", 2)
		Expect(err).NotTo(HaveOccurred())
		s, _, err = w.NewInput("s", 2)
		Expect(err).NotTo(HaveOccurred())
	})

	step := func(out dataflow.Collection) *zset.ZSet {
		Expect(w.Step()).To(Succeed())
		return w.Changes(out)
	}

	It("joins two relations incrementally", func() {
		out, err := NewJoin(NewSource("r", 2), NewSource("s", 2), []int{1}, []int{0}).
			Render(w.Root(), cache)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Insert(tup(1, 2))).To(Succeed())
		Expect(step(out).IsZero()).To(BeTrue())

		Expect(s.Insert(tup(2, 3))).To(Succeed())
		delta := step(out)
		Expect(weightOf(delta, tup(2, 1, 3))).To(BeEquivalentTo(1))

		Expect(r.Remove(tup(1, 2))).To(Succeed())
		delta = step(out)
		Expect(weightOf(delta, tup(2, 1, 3))).To(BeEquivalentTo(-1))
	})

	It("pairs coincident binary changes once", func() {
		out, err := NewJoin(NewSource("r", 2), NewSource("s", 2), []int{1}, []int{0}).
			Render(w.Root(), cache)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Insert(tup(1, 2))).To(Succeed())
		Expect(s.Insert(tup(2, 3))).To(Succeed())
		delta := step(out)
		Expect(delta.Size()).To(Equal(1))
		Expect(weightOf(delta, tup(2, 1, 3))).To(BeEquivalentTo(1))
	})

	It("filters with numeric equivalence", func() {
		out, err := NewFilter(NewSource("r", 2), 1, 2.0).Render(w.Root(), cache)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Insert(tup(1, 2))).To(Succeed())
		Expect(r.Insert(tup(1, 3))).To(Succeed())
		delta := step(out)
		Expect(delta.Size()).To(Equal(1))
		Expect(weightOf(delta, tup(1, 2))).To(BeEquivalentTo(1))
	})

	It("projects columns", func() {
		out, err := NewProject(NewSource("r", 2), []int{1, 0}).Render(w.Root(), cache)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Insert(tup(1, 2))).To(Succeed())
		delta := step(out)
		Expect(weightOf(delta, tup(2, 1))).To(BeEquivalentTo(1))
	})

	It("chains filters and projections", func() {
		plan := NewProject(NewFilter(NewSource("r", 2), 0, int64(1)), []int{1})
		out, err := plan.Render(w.Root(), cache)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Insert(tup(1, 2))).To(Succeed())
		Expect(r.Insert(tup(4, 5))).To(Succeed())
		delta := step(out)
		Expect(delta.Size()).To(Equal(1))
		Expect(weightOf(delta, tup(2))).To(BeEquivalentTo(1))
	})

	It("reports unknown sources at render time", func() {
		_, err := NewSource("nope", 2).Render(w.Root(), cache)
		Expect(err).To(HaveOccurred())
	})

	It("reports arity mismatches at render time", func() {
		_, err := NewSource("r", 3).Render(w.Root(), cache)
		Expect(err).To(HaveOccurred())
	})
})
