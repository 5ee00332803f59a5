package bootstrap

import (
	"fmt"

	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/admin"
	"github.com/nholik/lakehouse-bootstrap/internal/definition"
)

// clientSet shares admin clients between actions that target the same
// endpoint, so a Dremio session token is reused within a run.
type clientSet struct {
	opts    []admin.Option
	dremio  map[string]*admin.Dremio
	nessie  map[string]*admin.Nessie
	buckets map[admin.BucketConfig]*admin.Buckets
}

func newClientSet(opts []admin.Option) *clientSet {
	return &clientSet{
		opts:    opts,
		dremio:  map[string]*admin.Dremio{},
		nessie:  map[string]*admin.Nessie{},
		buckets: map[admin.BucketConfig]*admin.Buckets{},
	}
}

func (c *clientSet) action(decl definition.Action) (action.Action, error) {
	switch decl.Kind {
	case definition.ActionS3Bucket:
		b := decl.S3Bucket
		buckets, err := c.bucketClient(admin.BucketConfig{
			Endpoint:  b.Endpoint,
			AccessKey: b.AccessKey,
			SecretKey: b.SecretKey,
			Region:    b.Region,
			Secure:    b.Secure,
		})
		if err != nil {
			return nil, err
		}
		return buckets.BucketAction(decl.Name, b.Bucket), nil

	case definition.ActionDremioAdmin:
		a := decl.DremioAdmin
		dremio, err := c.dremioClient(admin.DremioConfig{
			URL:       a.URL,
			Username:  a.Username,
			Password:  a.Password,
			FirstName: a.FirstName,
			LastName:  a.LastName,
			Email:     a.Email,
		})
		if err != nil {
			return nil, err
		}
		return dremio.AdminAction(decl.Name), nil

	case definition.ActionDremioNessieSource:
		s := decl.DremioNessieSource
		dremio, err := c.dremioClient(admin.DremioConfig{
			URL:      s.URL,
			Username: s.Username,
			Password: s.Password,
		})
		if err != nil {
			return nil, err
		}
		return dremio.NessieSourceAction(decl.Name, admin.NessieSourceConfig{
			Name:           s.Source,
			NessieEndpoint: s.NessieEndpoint,
			S3Endpoint:     s.S3Endpoint,
			AccessKey:      s.AccessKey,
			SecretKey:      s.SecretKey,
			RootPath:       s.RootPath,
		}), nil

	case definition.ActionNessieBranch:
		b := decl.NessieBranch
		nessie, err := c.nessieClient(b.URL)
		if err != nil {
			return nil, err
		}
		return nessie.BranchAction(decl.Name, b.Branch, b.From), nil
	}

	return nil, fmt.Errorf("unknown action kind %q", decl.Kind)
}

func (c *clientSet) dremioClient(cfg admin.DremioConfig) (*admin.Dremio, error) {
	key := cfg.URL + "|" + cfg.Username
	if existing, ok := c.dremio[key]; ok {
		return existing, nil
	}
	client, err := admin.NewDremio(cfg, c.opts...)
	if err != nil {
		return nil, err
	}
	c.dremio[key] = client
	return client, nil
}

func (c *clientSet) nessieClient(url string) (*admin.Nessie, error) {
	if existing, ok := c.nessie[url]; ok {
		return existing, nil
	}
	client, err := admin.NewNessie(url, c.opts...)
	if err != nil {
		return nil, err
	}
	c.nessie[url] = client
	return client, nil
}

func (c *clientSet) bucketClient(cfg admin.BucketConfig) (*admin.Buckets, error) {
	if existing, ok := c.buckets[cfg]; ok {
		return existing, nil
	}
	client, err := admin.NewBuckets(cfg, nil)
	if err != nil {
		return nil, err
	}
	c.buckets[cfg] = client
	return client, nil
}
