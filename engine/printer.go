package engine

import (
	"fmt"
	"io"
	"strings"
)

// GraphNode describes one agent for external renderers.
type GraphNode struct {
	UUID  string `json:"uuid"`
	Kind  string `json:"kind"`
	Index int    `json:"index"`
}

// GraphEdge describes one connection for external renderers.
type GraphEdge struct {
	From       string `json:"from"`
	To         string `json:"to"`
	ToPort     string `json:"to_port,omitempty"`
	Transforms bool   `json:"transforms,omitempty"`
	Filters    bool   `json:"filters,omitempty"`
}

// Graph is the structured wiring description handed to external rendering
// tools.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// BuildGraph produces the wiring graph for agents in the given order. Every
// agent appears, sinks included; edges follow declaration order.
func BuildGraph(agents []Agent) *Graph {
	g := &Graph{}
	for i, a := range agents {
		g.Nodes = append(g.Nodes, GraphNode{UUID: a.UUID(), Kind: a.Kind(), Index: i})
	}
	for _, a := range agents {
		for _, c := range a.Output().Connections() {
			edge := GraphEdge{
				From:       a.UUID(),
				Transforms: c.transform != nil,
				Filters:    c.cond != nil,
			}
			if dest := c.Dest(); dest != nil {
				edge.To = dest.UUID()
				if c.Target().Name() != DefaultInput {
					edge.ToPort = c.Target().Name()
				}
			}
			g.Edges = append(g.Edges, edge)
		}
	}
	return g
}

// Fprint renders the wiring as an ASCII tree, one block per agent in
// registration order. Connections are listed in declaration order; targets
// on named input ports carry an @<port> suffix.
func Fprint(w io.Writer, agents []Agent) {
	label := agentLabels(agents)
	for _, a := range agents {
		fmt.Fprintln(w, label[a.UUID()])
		conns := a.Output().Connections()
		for i, c := range conns {
			branch := "├─▶"
			if i == len(conns)-1 {
				branch = "└─▶"
			}
			target := "?"
			if dest := c.Dest(); dest != nil {
				target = label[dest.UUID()]
				if target == "" {
					target = fmt.Sprintf("%s#?", dest.Kind())
				}
			}
			suffix := ""
			if c.Target().Name() != DefaultInput {
				suffix = "@" + c.Target().Name()
			}
			fmt.Fprintf(w, "  %s %s%s\n", branch, target, suffix)
		}
	}
}

// Sprint is Fprint into a string.
func Sprint(agents []Agent) string {
	var b strings.Builder
	Fprint(&b, agents)
	return b.String()
}

func agentLabels(agents []Agent) map[string]string {
	label := make(map[string]string, len(agents))
	for i, a := range agents {
		label[a.UUID()] = fmt.Sprintf("%s#%d", a.Kind(), i)
	}
	return label
}

// Fprint renders this scheduler's pipeline.
func (s *Scheduler) Fprint(w io.Writer) {
	Fprint(w, s.agents)
}

// Graph returns the structured wiring description for this scheduler.
func (s *Scheduler) Graph() *Graph {
	return BuildGraph(s.agents)
}
