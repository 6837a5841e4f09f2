package core

import (
	"testing"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		from, to RequestState
		want     bool
	}{
		{StateReceived, StateExtracting, true},
		{StateExtracting, StateAnalyzingModalities, true},
		{StateAnalyzingModalities, StateAggregating, true},
		{StateAggregating, StateFusing, true},
		{StateFusing, StateSelectingEvidence, true},
		{StateSelectingEvidence, StateCompleted, true},

		// No skipping and no going back.
		{StateReceived, StateAggregating, false},
		{StateFusing, StateExtracting, false},
		{StateAggregating, StateAggregating, false},

		// Failed/Cancelled reachable from any non-terminal state.
		{StateReceived, StateFailed, true},
		{StateFusing, StateCancelled, true},
		{StateSelectingEvidence, StateFailed, true},

		// Terminal states admit nothing.
		{StateCompleted, StateFailed, false},
		{StateFailed, StateExtracting, false},
		{StateCancelled, StateCancelled, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestClassifyScoreBands(t *testing.T) {
	cases := []struct {
		score int
		want  Classification
	}{
		{0, RiskLow},
		{33, RiskLow},
		{34, RiskMedium},
		{66, RiskMedium},
		{67, RiskHigh},
		{100, RiskHigh},
	}
	for _, c := range cases {
		if got := ClassifyScore(c.score); got != c.want {
			t.Errorf("ClassifyScore(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestWindowOverlaps(t *testing.T) {
	a := Window{Start: 10, End: 20}
	if !a.Overlaps(Window{Start: 15, End: 25}, 0) {
		t.Error("overlapping windows reported disjoint")
	}
	if !a.Overlaps(Window{Start: 20.5, End: 30}, 1.0) {
		t.Error("windows within the gap should merge")
	}
	if a.Overlaps(Window{Start: 22, End: 30}, 1.0) {
		t.Error("windows beyond the gap should not merge")
	}
}
