package graph

import (
	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/probe"
	"github.com/nholik/lakehouse-bootstrap/internal/retry"
)

// ServiceNode is one service in the startup graph.
type ServiceNode struct {
	Identity  string
	Probe     probe.Prober
	Retry     retry.Policy
	DependsOn []string
	Actions   []action.Action
}
