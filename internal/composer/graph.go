package composer

import (
	"fmt"
	"io"
	"strings"

	"github.com/hcpipe/hcprep/internal/dag"
	"github.com/hcpipe/hcprep/internal/stage"
)

// Graph is the snapshot handed to the execution engine: every stage plus
// the full wired edge set. It is only obtainable from a fully wired
// composer.
type Graph struct {
	Stages map[string]*stage.Stage
	Edges  []Edge
	order  []string
}

// Stage returns a stage by identity, or nil.
func (g *Graph) Stage(name string) *stage.Stage {
	return g.Stages[name]
}

// Inputs returns the edges feeding the named stage, in declaration order.
func (g *Graph) Inputs(name string) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.To == name {
			in = append(in, e)
		}
	}
	return in
}

// TopoOrder returns the stage names in dependency order, stable across
// calls.
func (g *Graph) TopoOrder() ([]string, error) {
	d := dag.New()
	for _, name := range g.order {
		d.AddNode(name)
	}
	seen := make(map[[2]string]bool)
	for _, e := range g.Edges {
		key := [2]string{e.From, e.To}
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := d.AddEdge(e.From, e.To); err != nil {
			return nil, err
		}
	}
	return d.TopoSort()
}

// WriteDOT renders the topology in Graphviz DOT form. The rendering is
// deterministic: stages in registration order, edges in declaration order.
// Verbose mode labels each edge with its slot pair and annotates fan-out
// stages with their key sets.
func (g *Graph) WriteDOT(w io.Writer, verbose bool) error {
	var b strings.Builder
	b.WriteString("digraph pipeline {\n")
	b.WriteString("  rankdir=TB;\n")

	for _, name := range g.order {
		s := g.Stages[name]
		if s == nil {
			continue
		}
		if keys := s.FanOut(); verbose && len(keys) > 0 {
			fmt.Fprintf(&b, "  %q [shape=box3d, label=\"%s\\nfan-out: %s\"];\n",
				name, name, strings.Join(keys, ", "))
		} else if len(s.FanOut()) > 0 {
			fmt.Fprintf(&b, "  %q [shape=box3d];\n", name)
		} else {
			fmt.Fprintf(&b, "  %q [shape=box];\n", name)
		}
	}

	for _, e := range g.Edges {
		if verbose {
			fmt.Fprintf(&b, "  %q -> %q [label=\"%s to %s\"];\n", e.From, e.To, e.FromSlot, e.ToSlot)
		} else {
			fmt.Fprintf(&b, "  %q -> %q;\n", e.From, e.To)
		}
	}

	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
