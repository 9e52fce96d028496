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
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/igxactly/differential-dataflow/internal/testutils"
	"github.com/igxactly/differential-dataflow/pkg/engine"
	"github.com/igxactly/differential-dataflow/pkg/plan"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

var logger = testutils.NewLogger(GinkgoWriter)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration")
}

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

// loadExample parses one of the plan files shipped under examples/.
func loadExample(name string) plan.Plan {
	data, err := os.ReadFile(filepath.Join("..", "examples", name))
	Expect(err).NotTo(HaveOccurred())
	p, err := plan.Parse(data)
	Expect(err).NotTo(HaveOccurred())
	return p
}

// newEngine builds an engine with the plan's base relations registered
// and the plan installed, the way the driver binary wires one up.
func newEngine(p plan.Plan) (*engine.Engine, *engine.Query) {
	eng := engine.New(engine.Options{Logger: logger})
	sources, err := p.Sources()
	Expect(err).NotTo(HaveOccurred())
	for _, source := range sources {
		Expect(eng.AddInput(source.Name, source.Arity)).To(Succeed())
	}
	query, err := eng.Install(p)
	Expect(err).NotTo(HaveOccurred())
	return eng, query
}

func step(eng *engine.Engine) {
	Expect(eng.Step()).To(Succeed())
}

// gatherValue reads a gauge or counter off the registry by name.
func gatherValue(reg *prometheus.Registry, name string) float64 {
	mfs, err := reg.Gather()
	Expect(err).NotTo(HaveOccurred())
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()
		Expect(m).To(HaveLen(1))
		if m[0].GetGauge() != nil {
			return m[0].GetGauge().GetValue()
		}
		return m[0].GetCounter().GetValue()
	}
	Fail("metric " + name + " not found")
	return 0
}
