package domain

// Step is one unit of work in a graph, bound to an agent method
type Step struct {
	ID     string         `json:"id" yaml:"id"`
	Agent  string         `json:"agent" yaml:"agent"`
	Method string         `json:"method" yaml:"method"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Next is a single successor link, kept for graphs authored as chains
	Next string `json:"next,omitempty" yaml:"next,omitempty"`
}

// Ref returns the "agent.method" reference of the step
func (s Step) Ref() string {
	return s.Agent + "." + s.Method
}

// Edge orders From before To
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Graph is a set of steps plus the edges between them
type Graph struct {
	Steps []Step `json:"steps" yaml:"steps"`
	Edges []Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// AllEdges returns the declared edges followed by the edges implied by Step.Next
func (g *Graph) AllEdges() []Edge {
	edges := make([]Edge, 0, len(g.Edges)+len(g.Steps))
	edges = append(edges, g.Edges...)
	for _, s := range g.Steps {
		if s.Next != "" {
			edges = append(edges, Edge{From: s.ID, To: s.Next})
		}
	}
	return edges
}

// Step looks up a step by id
func (g *Graph) Step(id string) (Step, bool) {
	for _, s := range g.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
