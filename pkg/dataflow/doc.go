// Package dataflow implements the round-synchronous runtime the query
// plans render into: a directed acyclic graph of operators over signed
// change sets, advanced one logical round at a time.
//
// All changes staged before a step commit at the same timestamp, and
// every operator fires once per round in dependency order, so outputs
// never depend on the interleaving in which concurrent changes arrived.
// Nested scopes model the alt/neu timestamp refinement used by delta
// branches: streams inside a branch ride the alt instant of the round,
// while the arrangements a branch probes are viewed either inclusively
// (alt) or exclusively (neu) of the current round.
//
// Key components:
//   - Worker: Owns the graph, stages input changes, and commits rounds.
//   - Scope: Builds operators into a region; Child scopes model nested
//     timestamp refinements.
//   - Collection: Handle to one operator's per-round change set.
//   - Node: Interface for operators (map, filter, concat, negate,
//     arrange, import, lookup-extend, join).
//
// The lookup-extend operator is the worst-case optimal join step: it
// extends prefix tuples only with values already matching on the probe
// key, and never materializes an intermediate product.
//
// Example usage:
//
//	w := dataflow.NewWorker(dataflow.WorkerOptions{})
//	in, c, _ := w.NewInput("edges", 2)
//	_, arr := w.Root().ArrangeBySelf(c, "edges")
//	_ = in.Insert(zset.Tuple{int64(1), int64(2)})
//	_ = w.Step()
package dataflow
