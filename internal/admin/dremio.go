package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/fault"
)

// DremioConfig describes the query engine's REST API and its first
// administrator account.
type DremioConfig struct {
	URL       string
	Username  string
	Password  string
	FirstName string
	LastName  string
	Email     string
}

// Dremio talks to the Dremio REST API.
type Dremio struct {
	api    *apiClient
	cfg    DremioConfig
	tokens tokenCache
	now    func() time.Time
}

// NewDremio constructs a Dremio client.
func NewDremio(cfg DremioConfig, opts ...Option) (*Dremio, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("dremio username and password are required")
	}
	api, err := newAPIClient("dremio", cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.FirstName == "" {
		cfg.FirstName = cfg.Username
	}
	if cfg.LastName == "" {
		cfg.LastName = "Admin"
	}
	if cfg.Email == "" {
		cfg.Email = cfg.Username + "@example.com"
	}
	return &Dremio{api: api, cfg: cfg, now: time.Now}, nil
}

type dremioLoginResponse struct {
	Token string `json:"token"`
}

// Login authenticates with the configured credentials and returns a
// session token. It returns errUnauthorized when the credentials are
// refused.
func (d *Dremio) Login(ctx context.Context) (string, error) {
	const op = "dremio login"
	resp, err := d.api.do(ctx, http.MethodPost, "/apiv2/login", nil, nil, map[string]string{
		"userName": d.cfg.Username,
		"password": d.cfg.Password,
	})
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("%s: %w", op, errUnauthorized)
	default:
		return "", d.api.rejected(op, resp)
	}

	var payload dremioLoginResponse
	if err := d.api.decode(op, resp, &payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", fault.Malformed(op, errors.New("dremio login response has no token"))
	}
	return payload.Token, nil
}

// AdminAction creates the first administrator account when the configured
// credentials cannot log in yet.
func (d *Dremio) AdminAction(name string) action.Action {
	check := func(ctx context.Context) (action.State, error) {
		_, err := d.Login(ctx)
		if errors.Is(err, errUnauthorized) {
			return action.StateNeedsApply, nil
		}
		if err != nil {
			return "", err
		}
		return action.StateSatisfied, nil
	}

	return action.Funcs{
		ActionName: name,
		CheckFn:    check,
		ApplyFn:    d.createFirstUser,
		VerifyFn: func(ctx context.Context) error {
			_, err := d.Login(ctx)
			return err
		},
	}
}

func (d *Dremio) createFirstUser(ctx context.Context) error {
	const op = "dremio create first user"
	header := http.Header{}
	header.Set("Authorization", "_dremionull")

	resp, err := d.api.do(ctx, http.MethodPut, "/apiv2/bootstrap/firstuser", nil, header, map[string]any{
		"userName":  d.cfg.Username,
		"firstName": d.cfg.FirstName,
		"lastName":  d.cfg.LastName,
		"email":     d.cfg.Email,
		"password":  d.cfg.Password,
		"createdAt": d.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return d.api.rejected(op, resp)
	}
	d.tokens.reset()
	return nil
}

// NessieSourceConfig describes a Nessie catalog source backed by an
// S3-compatible warehouse.
type NessieSourceConfig struct {
	Name           string
	NessieEndpoint string
	S3Endpoint     string
	AccessKey      string
	SecretKey      string
	RootPath       string
}

type catalogEntity struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
	Type       string `json:"type"`
}

type sourceProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NessieSourceAction registers a Nessie catalog source in Dremio.
func (d *Dremio) NessieSourceAction(name string, src NessieSourceConfig) action.Action {
	return action.Funcs{
		ActionName: name,
		CheckFn: func(ctx context.Context) (action.State, error) {
			entity, found, err := d.lookupSource(ctx, src.Name)
			if err != nil {
				return "", err
			}
			if !found {
				return action.StateNeedsApply, nil
			}
			if entity.Type != "NESSIE" {
				return "", fault.Rejected("dremio source check", fmt.Errorf("source %q exists with type %q", src.Name, entity.Type))
			}
			return action.StateSatisfied, nil
		},
		ApplyFn: func(ctx context.Context) error {
			return d.createNessieSource(ctx, src)
		},
		VerifyFn: func(ctx context.Context) error {
			entity, found, err := d.lookupSource(ctx, src.Name)
			if err != nil {
				return err
			}
			if !found {
				return fault.VerifyMismatch("dremio source verify", fmt.Errorf("source %q not found after create", src.Name))
			}
			if entity.Type != "NESSIE" {
				return fault.VerifyMismatch("dremio source verify", fmt.Errorf("source %q has type %q, want NESSIE", src.Name, entity.Type))
			}
			return nil
		},
	}
}

func (d *Dremio) lookupSource(ctx context.Context, name string) (catalogEntity, bool, error) {
	const op = "dremio source lookup"
	resp, err := d.authorized(ctx, http.MethodGet, "/api/v3/catalog/by-path/"+url.PathEscape(name), nil)
	if err != nil {
		return catalogEntity{}, false, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return catalogEntity{}, false, nil
	default:
		return catalogEntity{}, false, d.api.rejected(op, resp)
	}

	var entity catalogEntity
	if err := d.api.decode(op, resp, &entity); err != nil {
		return catalogEntity{}, false, err
	}
	return entity, true, nil
}

func (d *Dremio) createNessieSource(ctx context.Context, src NessieSourceConfig) error {
	const op = "dremio source create"
	body := map[string]any{
		"entityType": "source",
		"name":       src.Name,
		"type":       "NESSIE",
		"config": map[string]any{
			"nessieEndpoint":  src.NessieEndpoint,
			"nessieAuthType":  "NONE",
			"credentialType":  "ACCESS_KEY",
			"awsAccessKey":    src.AccessKey,
			"awsAccessSecret": src.SecretKey,
			"awsRootPath":     src.RootPath,
			"secure":          false,
			"propertyList": []sourceProperty{
				{Name: "fs.s3a.path.style.access", Value: "true"},
				{Name: "fs.s3a.endpoint", Value: src.S3Endpoint},
				{Name: "dremio.s3.compat", Value: "true"},
			},
		},
	}

	resp, err := d.authorized(ctx, http.MethodPost, "/api/v3/catalog", body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return d.api.rejected(op, resp)
	}
	return nil
}

// authorized sends a request with the cached session token and logs in
// again once if the token was refused.
func (d *Dremio) authorized(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	for attempt := 0; ; attempt++ {
		token, err := d.tokens.get(ctx, d.Login)
		if err != nil {
			if errors.Is(err, errUnauthorized) {
				return nil, fault.Rejected("dremio login", err)
			}
			return nil, err
		}

		header := http.Header{}
		header.Set("Authorization", "_dremio"+token)
		resp, err := d.api.do(ctx, method, path, nil, header, body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			d.tokens.reset()
			continue
		}
		return resp, nil
	}
}
