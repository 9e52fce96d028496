// Package visualize renders installed dataflows as diagrams.
package visualize

import (
	"sort"

	"github.com/emicklei/dot"

	"github.com/igxactly/differential-dataflow/pkg/dataflow"
)

// BuildDotGraph creates a dot.Graph from a dataflow description. The
// unified graph can then be rendered in different formats (DOT,
// Mermaid, etc.). Scope regions become clusters, so the per-source
// delta branches of a multiway join stay visually separate.
func BuildDotGraph(d dataflow.Description) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")    // Left to right layout.
	graph.Attr("compound", "true") // Allow edges between clusters.
	graph.Attr("newrank", "true")  // Better ranking algorithm.
	graph.Attr("fontname", "helvetica")

	// One cluster per region, created in sorted order so the output is
	// deterministic.
	regions := map[string]bool{}
	for _, n := range d.Nodes {
		if n.Region != "" {
			regions[n.Region] = true
		}
	}
	names := make([]string, 0, len(regions))
	for region := range regions {
		names = append(names, region)
	}
	sort.Strings(names)

	clusters := map[string]*dot.Graph{"": graph}
	for _, region := range names {
		sub := graph.Subgraph(region, dot.ClusterOption{})
		sub.Attr("style", "rounded")
		sub.Attr("color", "gray")
		clusters[region] = sub
	}

	nodes := make(map[string]dot.Node, len(d.Nodes))
	for _, n := range d.Nodes {
		owner, ok := clusters[n.Region]
		if !ok {
			owner = graph
		}
		nodes[n.ID] = styleNode(owner.Node(n.ID), n)
	}

	for _, e := range d.Edges {
		from, okFrom := nodes[e.From]
		to, okTo := nodes[e.To]
		if okFrom && okTo {
			graph.Edge(from, to)
		}
	}

	return graph
}

// styleNode applies a per-kind look: relations green, arrangement
// writers yellow cylinders, join steps blue, plumbing gray.
func styleNode(node dot.Node, info dataflow.NodeInfo) dot.Node {
	label := info.Kind
	if info.Label != "" {
		label = info.Label
	}
	node = node.Attr("label", label).Attr("fontname", "helvetica")

	switch info.Kind {
	case "input":
		return node.
			Attr("shape", "ellipse").
			Attr("style", "filled").
			Attr("fillcolor", "lightgreen")
	case "arrange-self", "arrange-key":
		return node.
			Attr("shape", "cylinder").
			Attr("style", "filled").
			Attr("fillcolor", "lightyellow")
	case "import":
		return node.
			Attr("shape", "cds").
			Attr("style", "filled").
			Attr("fillcolor", "lightcyan")
	case "lookup-extend", "join":
		return node.
			Attr("shape", "box").
			Attr("style", "filled,rounded").
			Attr("fillcolor", "lightblue").
			Attr("color", "darkblue").
			Attr("penwidth", "2")
	case "concat":
		return node.
			Attr("shape", "box").
			Attr("style", "filled,rounded").
			Attr("fillcolor", "lightpink")
	default:
		return node.
			Attr("shape", "box").
			Attr("style", "rounded").
			Attr("color", "gray40")
	}
}
