package transition

import (
	"sort"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
)

// NodeTransition captures a node state change between two runs.
type NodeTransition struct {
	Name          string           `json:"name"`
	PreviousState report.NodeState `json:"previous_state,omitempty"`
	CurrentState  report.NodeState `json:"current_state"`
	FailedStage   string           `json:"failed_stage,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	// Applied lists actions that changed the service in the current run.
	Applied []string `json:"applied,omitempty"`
}

// Recovered reports whether the node reached success after not having it.
func (t NodeTransition) Recovered() bool {
	return t.CurrentState == report.StateSucceeded && t.PreviousState != "" && t.PreviousState != report.StateSucceeded
}

// DetectNodeTransitions compares the previous report with the current one.
// On the first run only unsuccessful nodes are reported.
func DetectNodeTransitions(prev *report.Report, current report.Report) []NodeTransition {
	prevNodes := map[string]report.ExecutionResult{}
	if prev != nil {
		for _, node := range prev.Nodes {
			prevNodes[node.Identity] = node
		}
	}
	firstRun := len(prevNodes) == 0

	transitions := make([]NodeTransition, 0)
	for _, node := range current.Nodes {
		prevNode, hadPrev := prevNodes[node.Identity]

		switch {
		case firstRun || !hadPrev:
			if node.State == report.StateSucceeded {
				continue
			}
		case prevNode.State == node.State:
			continue
		}

		transitions = append(transitions, NodeTransition{
			Name:          node.Identity,
			PreviousState: prevNode.State,
			CurrentState:  node.State,
			FailedStage:   node.FailedStage,
			Reason:        node.Reason,
			Applied:       appliedActions(node),
		})
	}

	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].Name < transitions[j].Name
	})

	return transitions
}

func appliedActions(node report.ExecutionResult) []string {
	var applied []string
	for _, a := range node.Actions {
		if a.Status == report.ActionApplied {
			applied = append(applied, a.Name)
		}
	}
	return applied
}
