package visualize

import (
	"github.com/igxactly/differential-dataflow/pkg/dataflow"
)

// DotGenerator generates Graphviz DOT diagrams.
type DotGenerator struct{}

// Generate creates a Graphviz DOT diagram from the dataflow.
func (d *DotGenerator) Generate(desc dataflow.Description) string {
	return BuildDotGraph(desc).String()
}
