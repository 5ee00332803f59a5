package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/fault"
)

// Nessie talks to the Nessie REST API v2.
type Nessie struct {
	api *apiClient
}

// NewNessie constructs a Nessie client for the server at baseURL.
func NewNessie(baseURL string, opts ...Option) (*Nessie, error) {
	api, err := newAPIClient("nessie", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Nessie{api: api}, nil
}

// Reference is a named Nessie branch or tag.
type Reference struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Hash string `json:"hash,omitempty"`
}

type referenceResponse struct {
	Reference Reference `json:"reference"`
}

// GetReference fetches a reference by name. The boolean is false when the
// reference does not exist.
func (n *Nessie) GetReference(ctx context.Context, name string) (Reference, bool, error) {
	const op = "nessie get reference"
	resp, err := n.api.do(ctx, http.MethodGet, "/api/v2/trees/"+url.PathEscape(name), nil, nil, nil)
	if err != nil {
		return Reference{}, false, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Reference{}, false, nil
	default:
		return Reference{}, false, n.api.rejected(op, resp)
	}

	var payload referenceResponse
	if err := n.api.decode(op, resp, &payload); err != nil {
		return Reference{}, false, err
	}
	if payload.Reference.Name == "" {
		return Reference{}, false, fault.Malformed(op, errors.New("nessie response has no reference"))
	}
	return payload.Reference, true, nil
}

// CreateBranch creates branch at the current head of from. A branch that
// already exists is left alone.
func (n *Nessie) CreateBranch(ctx context.Context, branch, from string) error {
	const op = "nessie create branch"
	source, found, err := n.GetReference(ctx, from)
	if err != nil {
		return err
	}
	if !found {
		return fault.Rejected(op, fmt.Errorf("source reference %q does not exist", from))
	}

	query := url.Values{}
	query.Set("name", branch)
	query.Set("type", "BRANCH")
	resp, err := n.api.do(ctx, http.MethodPost, "/api/v2/trees", query, nil, Reference{
		Type: source.Type,
		Name: source.Name,
		Hash: source.Hash,
	})
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return n.api.rejected(op, resp)
	}
}

// BranchAction ensures branch exists, forking it from the given reference.
func (n *Nessie) BranchAction(name, branch, from string) action.Action {
	if from == "" {
		from = "main"
	}
	check := func(ctx context.Context) (action.State, error) {
		_, found, err := n.GetReference(ctx, branch)
		if err != nil {
			return "", err
		}
		if found {
			return action.StateSatisfied, nil
		}
		return action.StateNeedsApply, nil
	}

	return action.Funcs{
		ActionName: name,
		CheckFn:    check,
		ApplyFn: func(ctx context.Context) error {
			return n.CreateBranch(ctx, branch, from)
		},
	}
}
