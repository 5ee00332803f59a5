package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nholik/lakehouse-bootstrap/internal/probe"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError lists every problem found in a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid services definition: " + strings.Join(e.Problems, "; ")
}

// Parse expands ${VAR} references using lookup, decodes body and
// validates the result. A nil lookup reads the process environment.
func Parse(body []byte, lookup func(string) (string, bool)) (*File, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("services definition is empty")
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var missing []string
	expanded := os.Expand(string(body), func(name string) string {
		value, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
		}
		return value
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("services definition references unset variables: %s", strings.Join(dedupe(missing), ", "))
	}

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)

	var file File
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("services definition is empty")
		}
		return nil, fmt.Errorf("parse services definition: %w", err)
	}

	if err := Validate(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks field constraints and the relations between services,
// policies and action blocks. It does not check the dependency graph for
// cycles; graph.Build does that.
func Validate(file *File) error {
	var problems []string

	if err := validate.Struct(file); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate services definition: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
	}

	for name, policy := range file.RetryPolicies {
		if err := policy.Policy().Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("retry_policies.%s: %v", name, err))
		}
	}

	seen := make(map[string]bool, len(file.Services))
	for i, svc := range file.Services {
		label := fmt.Sprintf("services[%d]", i)
		if svc.Name != "" {
			label = fmt.Sprintf("service %q", svc.Name)
			if seen[svc.Name] {
				problems = append(problems, label+": duplicate name")
			}
			seen[svc.Name] = true
		}

		if _, ok := file.Policy(svc.Retry); !ok {
			problems = append(problems, fmt.Sprintf("%s: unknown retry policy %q", label, svc.Retry))
		}
		if svc.ComposeService != "" && svc.Container != "" {
			problems = append(problems, label+": set only one of compose_service and container")
		}
		if err := validateProbe(svc); err != nil {
			problems = append(problems, fmt.Sprintf("%s: probe: %v", label, err))
		}

		actionNames := make(map[string]bool, len(svc.Actions))
		for _, a := range svc.Actions {
			if actionNames[a.Name] {
				problems = append(problems, fmt.Sprintf("%s: duplicate action %q", label, a.Name))
			}
			actionNames[a.Name] = true
			if err := validateActionBlock(a); err != nil {
				problems = append(problems, fmt.Sprintf("%s: action %q: %v", label, a.Name, err))
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateProbe(svc Service) error {
	p := svc.Probe
	switch probe.Kind(p.Kind) {
	case probe.KindHTTPStatus, probe.KindHTTPBody:
		if err := validateHTTPURL(p.Target); err != nil {
			return err
		}
		if probe.Kind(p.Kind) == probe.KindHTTPBody && p.Field == "" {
			return errors.New("http_body probe requires field")
		}
	case probe.KindTCP:
		if _, _, err := net.SplitHostPort(p.Target); err != nil {
			return fmt.Errorf("tcp target must be host:port: %w", err)
		}
	case probe.KindContainer:
		if p.Target == "" && svc.Container == "" && svc.ComposeService == "" {
			return errors.New("container probe requires target, container or compose_service")
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("target is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("target must use http or https: %q", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("target must include host: %q", raw)
	}
	return nil
}

func validateActionBlock(a Action) error {
	blocks := map[string]bool{
		ActionS3Bucket:           a.S3Bucket != nil,
		ActionDremioAdmin:        a.DremioAdmin != nil,
		ActionDremioNessieSource: a.DremioNessieSource != nil,
		ActionNessieBranch:       a.NessieBranch != nil,
	}
	set := 0
	for _, present := range blocks {
		if present {
			set++
		}
	}
	if !blocks[a.Kind] {
		return fmt.Errorf("kind %s requires a %s block", a.Kind, a.Kind)
	}
	if set > 1 {
		return fmt.Errorf("kind %s must not carry other action blocks", a.Kind)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "File.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", field, fe.Value())
	case "email":
		return fmt.Sprintf("%s must be an email address", field)
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
