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

package main

import (
	"flag"
	"fmt"
	"io"
	"math/bits"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/igxactly/differential-dataflow/internal/buildinfo"
	"github.com/igxactly/differential-dataflow/pkg/engine"
	"github.com/igxactly/differential-dataflow/pkg/plan"
	"github.com/igxactly/differential-dataflow/pkg/util"
	"github.com/igxactly/differential-dataflow/pkg/visualize"
	"github.com/igxactly/differential-dataflow/pkg/zset"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

// tableLimit caps the number of rows the -table flag prints.
const tableLimit = 50

func main() {
	var rounds, batch, verbosity int
	var keyspace, seed int64
	var metricsAddr, planFile string
	var graph, table bool

	flag.IntVar(&rounds, "rounds", 100, "Number of change rounds to drive.")
	flag.IntVar(&batch, "batch", 10, "Changes staged per round.")
	flag.Int64Var(&keyspace, "keyspace", 100, "Attribute values are drawn from [0, keyspace).")
	flag.Int64Var(&seed, "seed", 1, "Random seed for the workload.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "",
		"The address the metric endpoint binds to. Empty disables the endpoint.")
	flag.StringVar(&planFile, "plan", "",
		"Load the query plan from a YAML or JSON file instead of the built-in triangle query.")
	flag.BoolVar(&graph, "graph", false, "Print the rendered dataflow as DOT and exit.")
	flag.BoolVar(&table, "table", false, "Print the maintained query result as a table after the run.")
	flag.IntVar(&verbosity, "v", 0, "Log verbosity.")
	flag.Parse()

	logger := newLogger(verbosity)
	setupLog := logger.WithName("setup")

	info := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	setupLog.Info(fmt.Sprintf("starting the dataflow driver %s", info.String()))

	query, err := loadPlan(planFile)
	if err != nil {
		setupLog.Error(err, "unable to load the query plan", "file", planFile)
		os.Exit(1)
	}
	setupLog.V(1).Info("query plan loaded", "plan", util.Stringify(query))

	reg := prometheus.NewRegistry()
	eng := engine.New(engine.Options{Logger: logger, Registerer: reg})

	sources, err := query.Sources()
	if err != nil {
		setupLog.Error(err, "unable to list the base relations of the query")
		os.Exit(1)
	}
	for _, source := range sources {
		if err := eng.AddInput(source.Name, source.Arity); err != nil {
			setupLog.Error(err, "unable to register base relation", "name", source.Name)
			os.Exit(1)
		}
	}

	result, err := eng.Install(query)
	if err != nil {
		setupLog.Error(err, "unable to install the query")
		os.Exit(1)
	}

	if graph {
		gen := visualize.DotGenerator{}
		fmt.Print(gen.Generate(eng.Describe()))
		return
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			setupLog.Info("serving metrics", "address", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				setupLog.Error(err, "metrics endpoint failed")
				os.Exit(1)
			}
		}()
	}

	driverLog := logger.WithName("driver")
	load := newWorkload(seed, keyspace, sources)
	hist := &latencyHistogram{}
	staged := 0
	start := time.Now()

	for round := 0; round < rounds; round++ {
		n, err := load.stageRound(eng, batch)
		staged += n
		if err != nil {
			driverLog.Error(err, "unable to stage changes", "round", round)
			os.Exit(1)
		}

		stepStart := time.Now()
		if err := eng.Step(); err != nil {
			driverLog.Error(err, "round failed", "round", round)
			os.Exit(1)
		}
		hist.observe(time.Since(stepStart))

		driverLog.V(1).Info("round committed", "round", round,
			"delta", result.Changes().Size(), "maintained", result.State().Size())
	}
	elapsed := time.Since(start)

	printSummary(os.Stdout, eng, result, rounds, staged, elapsed)
	hist.print(os.Stdout)
	if table {
		printTable(os.Stdout, result)
	}
}

// newLogger builds a development style zap logger and hands it to the
// rest of the process through the logr API.
func newLogger(verbosity int) logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zlog, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to set up logging: %v\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(zlog)
}

// loadPlan reads a plan file, falling back to the triangle query.
func loadPlan(path string) (plan.Plan, error) {
	if path == "" {
		return trianglePlan(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return plan.Plan{}, err
	}
	return plan.Parse(data)
}

// trianglePlan joins the edge relations r(a,b), s(b,c) and t(c,a) into
// the triangles they close, reported as (a,b,c).
func trianglePlan() plan.Plan {
	ref := func(source, attr int) plan.AttrRef {
		return plan.AttrRef{Source: source, Attr: attr}
	}
	return plan.NewMultiwayJoin(
		[]plan.Plan{plan.NewSource("r", 2), plan.NewSource("s", 2), plan.NewSource("t", 2)},
		[][]plan.AttrRef{
			{ref(0, 1), ref(1, 0)},
			{ref(1, 1), ref(2, 0)},
			{ref(2, 1), ref(0, 0)},
		},
		[]plan.AttrRef{ref(0, 0), ref(0, 1), ref(1, 1)},
	)
}

// workload generates a random change stream over the base relations.
// Most changes insert fresh tuples, the rest retract live ones, so the
// maintained state both grows and churns.
type workload struct {
	rng      *rand.Rand
	keyspace int64
	names    []string
	arities  map[string]int
	live     map[string][]zset.Tuple
}

func newWorkload(seed, keyspace int64, sources []plan.SourcePlan) *workload {
	w := &workload{
		rng:      rand.New(rand.NewSource(seed)),
		keyspace: keyspace,
		arities:  map[string]int{},
		live:     map[string][]zset.Tuple{},
	}
	for _, source := range sources {
		w.names = append(w.names, source.Name)
		w.arities[source.Name] = source.Arity
	}
	return w
}

// stageRound stages batch changes and reports how many were staged.
func (w *workload) stageRound(eng *engine.Engine, batch int) (int, error) {
	staged := 0
	for i := 0; i < batch; i++ {
		name := w.names[w.rng.Intn(len(w.names))]
		if tuples := w.live[name]; len(tuples) > 0 && w.rng.Intn(4) == 0 {
			j := w.rng.Intn(len(tuples))
			if err := eng.Remove(name, tuples[j]); err != nil {
				return staged, err
			}
			w.live[name] = append(tuples[:j], tuples[j+1:]...)
		} else {
			tuple := w.randomTuple(w.arities[name])
			if err := eng.Insert(name, tuple); err != nil {
				return staged, err
			}
			w.live[name] = append(w.live[name], tuple)
		}
		staged++
	}
	return staged, nil
}

func (w *workload) randomTuple(arity int) zset.Tuple {
	tuple := make(zset.Tuple, arity)
	for i := range tuple {
		tuple[i] = w.rng.Int63n(w.keyspace)
	}
	return tuple
}

// latencyHistogram counts step durations in power of two nanosecond
// buckets.
type latencyHistogram struct {
	counts [64]int64
	total  int64
}

func (h *latencyHistogram) observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	h.counts[bits.Len64(uint64(d.Nanoseconds()))]++
	h.total++
}

func (h *latencyHistogram) print(w io.Writer) {
	if h.total == 0 {
		return
	}
	fmt.Fprintln(w, "step latency:")
	var cumulative int64
	for i, count := range h.counts {
		if count == 0 {
			continue
		}
		cumulative += count
		fmt.Fprintf(w, "  < %-10v %7d %6.1f%%\n",
			time.Duration(1)<<uint(i), count, 100*float64(cumulative)/float64(h.total))
	}
}

func printSummary(w io.Writer, eng *engine.Engine, result *engine.Query, rounds, staged int, elapsed time.Duration) {
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(staged) / elapsed.Seconds()
	}
	stats := eng.CacheStats()
	fmt.Fprintf(w, "\n%s %d rounds, %d changes in %v (%s changes/s)\n",
		color.GreenString("processed"), rounds, staged, elapsed.Round(time.Millisecond),
		color.CyanString("%.0f", throughput))
	fmt.Fprintf(w, "%s %d tuples maintained over %d shared arrangements (%d hits, %d misses)\n",
		color.GreenString("state"), result.State().Size(), stats.Entries, stats.Hits, stats.Misses)
}

// printTable renders the maintained query result as a Markdown table.
func printTable(w io.Writer, result *engine.Query) {
	entries := result.State().Entries()
	arity := result.Plan().Arity()

	truncated := 0
	if len(entries) > tableLimit {
		truncated = len(entries) - tableLimit
		entries = entries[:tableLimit]
	}

	alignment := make([]tw.Align, arity+1)
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	tbl := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	headers := make([]string, 0, arity+1)
	for i := 0; i < arity; i++ {
		headers = append(headers, fmt.Sprintf("col%d", i))
	}
	headers = append(headers, "weight")
	tbl.Header(headers)

	for _, entry := range entries {
		row := util.Map(formatValue, entry.Tuple)
		row = append(row, fmt.Sprintf("%+d", entry.Weight))
		tbl.Append(row)
	}
	tbl.Render()

	if truncated > 0 {
		fmt.Fprintf(w, "%s %d more rows\n", color.YellowString("..."), truncated)
	}
}

func formatValue(v zset.Value) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%t", v)
	}
	return fmt.Sprintf("%v", v)
}
