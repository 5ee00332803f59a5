package definition

import (
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/retry"
)

// DefaultPolicyName is used by services that do not name a retry policy.
const DefaultPolicyName = "default"

// Action kinds.
const (
	ActionS3Bucket           = "s3_bucket"
	ActionDremioAdmin        = "dremio_admin"
	ActionDremioNessieSource = "dremio_nessie_source"
	ActionNessieBranch       = "nessie_branch"
)

// File is the parsed services definition:
// retry_policies: {name: policy}, services: [{name, probe, retry, depends_on, actions}]
type File struct {
	RetryPolicies map[string]RetryPolicy `yaml:"retry_policies"`
	Services      []Service              `yaml:"services" validate:"required,min=1,dive"`
}

// RetryPolicy is the YAML form of retry.Policy.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	OverallDeadline time.Duration `yaml:"overall_deadline"`
	Jitter          bool          `yaml:"jitter"`
}

// Policy converts to a retry.Policy.
func (p RetryPolicy) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     p.MaxAttempts,
		BaseDelay:       p.BaseDelay,
		Multiplier:      p.Multiplier,
		MaxDelay:        p.MaxDelay,
		OverallDeadline: p.OverallDeadline,
		Jitter:          p.Jitter,
	}
}

// Service declares one node of the startup graph.
type Service struct {
	Name           string   `yaml:"name" validate:"required,max=63"`
	ComposeService string   `yaml:"compose_service"`
	Container      string   `yaml:"container"`
	Probe          Probe    `yaml:"probe"`
	Retry          string   `yaml:"retry"`
	DependsOn      []string `yaml:"depends_on" validate:"dive,required"`
	Actions        []Action `yaml:"actions" validate:"dive"`
}

// Probe declares how readiness is determined.
type Probe struct {
	Kind         string        `yaml:"kind" validate:"required,oneof=http_status http_body tcp container"`
	Target       string        `yaml:"target"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	ExpectStatus []int         `yaml:"expect_status" validate:"dive,min=100,max=599"`
	Field        string        `yaml:"field"`
	Equals       string        `yaml:"equals"`
}

// Action declares one configuration step. Exactly one kind block is set,
// matching Kind.
type Action struct {
	Kind               string                    `yaml:"kind" validate:"required,oneof=s3_bucket dremio_admin dremio_nessie_source nessie_branch"`
	Name               string                    `yaml:"name" validate:"required"`
	S3Bucket           *S3BucketAction           `yaml:"s3_bucket"`
	DremioAdmin        *DremioAdminAction        `yaml:"dremio_admin"`
	DremioNessieSource *DremioNessieSourceAction `yaml:"dremio_nessie_source"`
	NessieBranch       *NessieBranchAction       `yaml:"nessie_branch"`
}

// S3BucketAction ensures a bucket exists on an S3-compatible store.
type S3BucketAction struct {
	Endpoint  string `yaml:"endpoint" validate:"required"`
	AccessKey string `yaml:"access_key" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	Bucket    string `yaml:"bucket" validate:"required,min=3,max=63"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// DremioAdminAction creates the first Dremio administrator.
type DremioAdminAction struct {
	URL       string `yaml:"url" validate:"required,url"`
	Username  string `yaml:"username" validate:"required"`
	Password  string `yaml:"password" validate:"required"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email" validate:"omitempty,email"`
}

// DremioNessieSourceAction registers a Nessie catalog source in Dremio.
type DremioNessieSourceAction struct {
	URL            string `yaml:"url" validate:"required,url"`
	Username       string `yaml:"username" validate:"required"`
	Password       string `yaml:"password" validate:"required"`
	Source         string `yaml:"source" validate:"required"`
	NessieEndpoint string `yaml:"nessie_endpoint" validate:"required,url"`
	S3Endpoint     string `yaml:"s3_endpoint" validate:"required"`
	AccessKey      string `yaml:"access_key" validate:"required"`
	SecretKey      string `yaml:"secret_key" validate:"required"`
	RootPath       string `yaml:"root_path" validate:"required"`
}

// NessieBranchAction ensures a Nessie branch exists.
type NessieBranchAction struct {
	URL    string `yaml:"url" validate:"required,url"`
	Branch string `yaml:"branch" validate:"required"`
	From   string `yaml:"from"`
}

// Policy resolves the retry policy a service uses.
func (f *File) Policy(name string) (retry.Policy, bool) {
	if name == "" {
		name = DefaultPolicyName
	}
	if p, ok := f.RetryPolicies[name]; ok {
		return p.Policy(), true
	}
	if name == DefaultPolicyName {
		return retry.Default(), true
	}
	return retry.Policy{}, false
}
