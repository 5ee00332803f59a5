package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyIdentity is returned for a node declared without a name.
var ErrEmptyIdentity = errors.New("service node has empty identity")

// CycleError reports a dependency cycle. Path starts and ends with the
// same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// UnknownDependencyError reports a dependency on a node that was never declared.
type UnknownDependencyError struct {
	Node       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %s depends on unknown service %s", e.Node, e.Dependency)
}

// DuplicateNodeError reports two nodes sharing an identity.
type DuplicateNodeError struct {
	Identity string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate service %s", e.Identity)
}
