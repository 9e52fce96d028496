package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/igxactly/differential-dataflow/pkg/dataflow"
)

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct{}

// Generate creates a Mermaid flowchart from the dataflow using the dot
// library.
func (m *MermaidGenerator) Generate(desc dataflow.Description) string {
	graph := BuildDotGraph(desc)
	mermaid := dot.MermaidFlowchart(graph, dot.MermaidLeftToRight)

	// Wrap in markdown code block.
	return fmt.Sprintf("```mermaid\n%s\n```\n", mermaid)
}
