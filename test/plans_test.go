/*
Copyright 2024 The differential-dataflow authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package integration

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/igxactly/differential-dataflow/pkg/engine"
	"github.com/igxactly/differential-dataflow/pkg/plan"
	"github.com/igxactly/differential-dataflow/pkg/visualize"
)

var _ = Describe("Example plans:", func() {
	Context("triangle.yaml", Ordered, func() {
		var eng *engine.Engine
		var query *engine.Query

		BeforeAll(func() {
			eng, query = newEngine(loadExample("triangle.yaml"))
		})

		It("stays quiet while the triangle is open", func() {
			Expect(eng.Insert("r", tup(1, 2))).To(Succeed())
			step(eng)
			Expect(query.Changes().IsZero()).To(BeTrue())

			Expect(eng.Insert("s", tup(2, 3))).To(Succeed())
			step(eng)
			Expect(query.Changes().IsZero()).To(BeTrue())
		})

		It("reports the triangle once the closing edge arrives", func() {
			Expect(eng.Insert("t", tup(3, 1))).To(Succeed())
			step(eng)
			Expect(query.Changes().Size()).To(Equal(1))
			Expect(weightOf(query.Changes(), tup(1, 2, 3))).To(BeEquivalentTo(1))
		})

		It("retracts the triangle when an edge disappears", func() {
			Expect(eng.Remove("r", tup(1, 2))).To(Succeed())
			step(eng)
			Expect(weightOf(query.Changes(), tup(1, 2, 3))).To(BeEquivalentTo(-1))
			Expect(query.State().IsZero()).To(BeTrue())
		})
	})

	Context("two-hop.yaml", Ordered, func() {
		var eng *engine.Engine
		var query *engine.Query

		BeforeAll(func() {
			eng, query = newEngine(loadExample("two-hop.yaml"))
		})

		It("finds both continuations of an edge", func() {
			Expect(eng.Insert("edges", tup(1, 2))).To(Succeed())
			Expect(eng.Insert("edges", tup(2, 3))).To(Succeed())
			Expect(eng.Insert("edges", tup(2, 4))).To(Succeed())
			step(eng)

			Expect(query.Changes().Size()).To(Equal(2))
			Expect(weightOf(query.Changes(), tup(2, 1, 3))).To(BeEquivalentTo(1))
			Expect(weightOf(query.Changes(), tup(2, 1, 4))).To(BeEquivalentTo(1))
		})

		It("extends new paths incrementally", func() {
			Expect(eng.Insert("edges", tup(3, 5))).To(Succeed())
			step(eng)
			Expect(query.Changes().Size()).To(Equal(1))
			Expect(weightOf(query.Changes(), tup(3, 2, 5))).To(BeEquivalentTo(1))
		})
	})

	Context("star.yaml", Ordered, func() {
		var eng *engine.Engine
		var query *engine.Query

		BeforeAll(func() {
			eng, query = newEngine(loadExample("star.yaml"))
		})

		It("joins a fact against both dimensions in one round", func() {
			Expect(eng.Insert("orders", tup(10, 20))).To(Succeed())
			Expect(eng.Insert("customers", tup(10, 7))).To(Succeed())
			Expect(eng.Insert("products", tup(20, 9))).To(Succeed())
			step(eng)

			Expect(query.Changes().Size()).To(Equal(1))
			Expect(weightOf(query.Changes(), tup(7, 9))).To(BeEquivalentTo(1))
		})

		It("withdraws the row with its dimension", func() {
			Expect(eng.Remove("customers", tup(10, 7))).To(Succeed())
			step(eng)
			Expect(weightOf(query.Changes(), tup(7, 9))).To(BeEquivalentTo(-1))
		})
	})

	Context("filtered.yaml", func() {
		It("keeps endpoints of edges leaving node seven", func() {
			eng, query := newEngine(loadExample("filtered.yaml"))
			Expect(query.Plan().Arity()).To(Equal(1))

			Expect(eng.Insert("edges", tup(7, 3))).To(Succeed())
			Expect(eng.Insert("edges", tup(7, 5))).To(Succeed())
			Expect(eng.Insert("edges", tup(2, 9))).To(Succeed())
			step(eng)

			Expect(query.Changes().Size()).To(Equal(2))
			Expect(weightOf(query.Changes(), tup(3))).To(BeEquivalentTo(1))
			Expect(weightOf(query.Changes(), tup(5))).To(BeEquivalentTo(1))
		})
	})
})

var _ = Describe("Whole stack:", func() {
	It("deduplicates a query installed from a file and from code", func() {
		eng, query := newEngine(loadExample("triangle.yaml"))

		handBuilt := plan.NewMultiwayJoin(
			[]plan.Plan{plan.NewSource("r", 2), plan.NewSource("s", 2), plan.NewSource("t", 2)},
			[][]plan.AttrRef{
				{{Source: 0, Attr: 1}, {Source: 1, Attr: 0}},
				{{Source: 1, Attr: 1}, {Source: 2, Attr: 0}},
				{{Source: 2, Attr: 1}, {Source: 0, Attr: 0}},
			},
			[]plan.AttrRef{{Source: 0, Attr: 0}, {Source: 0, Attr: 1}, {Source: 1, Attr: 1}},
		)
		Expect(handBuilt.Fingerprint()).To(Equal(query.Plan().Fingerprint()))

		second, err := eng.Install(handBuilt)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(query))
		Expect(eng.CacheStats().Entries).To(Equal(8))
	})

	It("exposes the run through the metrics registry", func() {
		reg := prometheus.NewRegistry()
		eng := engine.New(engine.Options{Logger: logger, Registerer: reg})
		p := loadExample("triangle.yaml")
		sources, err := p.Sources()
		Expect(err).NotTo(HaveOccurred())
		for _, source := range sources {
			Expect(eng.AddInput(source.Name, source.Arity)).To(Succeed())
		}
		_, err = eng.Install(p)
		Expect(err).NotTo(HaveOccurred())

		Expect(eng.Insert("r", tup(1, 2))).To(Succeed())
		step(eng)
		step(eng)

		Expect(gatherValue(reg, "dataflow_rounds_total")).To(BeEquivalentTo(2))
		Expect(gatherValue(reg, "dataflow_queries")).To(BeEquivalentTo(1))
		Expect(gatherValue(reg, "dataflow_arrangements")).To(BeEquivalentTo(8))
	})

	It("renders the installed dataflow", func() {
		eng, _ := newEngine(loadExample("triangle.yaml"))

		dotOut := (&visualize.DotGenerator{}).Generate(eng.Describe())
		Expect(dotOut).To(ContainSubstring("digraph"))
		Expect(dotOut).To(ContainSubstring("delta-2/3"))

		mermaid := (&visualize.MermaidGenerator{}).Generate(eng.Describe())
		Expect(mermaid).To(HavePrefix("```mermaid"))
	})
})
