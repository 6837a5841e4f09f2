package orchestrator

import (
	"videoTriage/core"
)

// dependency is one node of the modality dependency graph.
type dependency struct {
	Modality core.Modality
	Requires []core.Modality
	// Hard marks a modality whose permanent failure fails the whole
	// request. Soft modalities degrade to a disclosed caveat instead.
	Hard bool
}

// DependencyGraph is the declarative soft/hard policy: three nodes, one
// edge. Keeping it data instead of nested conditionals makes the
// partial-failure behavior testable on its own.
type DependencyGraph struct {
	order []core.Modality
	nodes map[core.Modality]dependency
}

// DefaultGraph wires Visual (soft), Speech (hard) and Sentiment (soft,
// gated on Speech).
func DefaultGraph() DependencyGraph {
	return NewGraph(
		dependency{Modality: core.ModalityVisual},
		dependency{Modality: core.ModalitySpeech, Hard: true},
		dependency{Modality: core.ModalitySentiment, Requires: []core.Modality{core.ModalitySpeech}},
	)
}

func NewGraph(deps ...dependency) DependencyGraph {
	g := DependencyGraph{nodes: map[core.Modality]dependency{}}
	for _, d := range deps {
		g.order = append(g.order, d.Modality)
		g.nodes[d.Modality] = d
	}
	return g
}

// Modalities returns the nodes in declaration order.
func (g DependencyGraph) Modalities() []core.Modality { return g.order }

func (g DependencyGraph) IsHard(m core.Modality) bool { return g.nodes[m].Hard }

// Ready reports whether every prerequisite of m has succeeded.
func (g DependencyGraph) Ready(m core.Modality, jobs map[core.Modality]*core.ModalityJob) bool {
	for _, r := range g.nodes[m].Requires {
		j := jobs[r]
		if j == nil || j.State != core.JobSucceeded {
			return false
		}
	}
	return true
}

// Unreachable reports whether m can never run because a prerequisite
// permanently failed.
func (g DependencyGraph) Unreachable(m core.Modality, jobs map[core.Modality]*core.ModalityJob) bool {
	for _, r := range g.nodes[m].Requires {
		j := jobs[r]
		if j != nil && (j.State == core.JobFailed || j.State == core.JobTimedOut) {
			return true
		}
	}
	return false
}
