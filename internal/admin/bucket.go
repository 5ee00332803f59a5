package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/fault"
)

const defaultRegion = "us-east-1"

// BucketConfig describes an S3 bucket on an S3-compatible object store.
type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
}

// bucketAPI is the subset of *minio.Client used for bucket provisioning.
type bucketAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Buckets provisions S3 buckets.
type Buckets struct {
	client bucketAPI
	region string
}

// NewBuckets constructs a MinIO client for cfg. Endpoint may be given
// as host:port or as an http(s) URL.
func NewBuckets(cfg BucketConfig, httpClient *http.Client) (*Buckets, error) {
	endpoint, secure, err := splitEndpoint(cfg.Endpoint, cfg.Secure)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: region,
	}
	if httpClient != nil {
		opts.Transport = httpClient.Transport
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Buckets{client: client, region: region}, nil
}

func splitEndpoint(raw string, secure bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, secure, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint must include host: %q", raw)
	}
	return parsed.Host, parsed.Scheme == "https", nil
}

// BucketAction ensures bucket exists.
func (b *Buckets) BucketAction(name, bucket string) action.Action {
	check := func(ctx context.Context) (action.State, error) {
		exists, err := b.client.BucketExists(ctx, bucket)
		if err != nil {
			return "", classifyS3("s3 bucket exists", err)
		}
		if exists {
			return action.StateSatisfied, nil
		}
		return action.StateNeedsApply, nil
	}

	return action.Funcs{
		ActionName: name,
		CheckFn:    check,
		ApplyFn: func(ctx context.Context) error {
			err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.region})
			if err == nil {
				return nil
			}
			if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
				return nil
			}
			return classifyS3("s3 make bucket", err)
		},
	}
}

// classifyS3 separates service responses from transport failures.
func classifyS3(op string, err error) error {
	response := minio.ToErrorResponse(err)
	switch {
	case response.StatusCode >= http.StatusInternalServerError:
		return fault.Unreachable(op, err)
	case response.StatusCode != 0:
		return fault.Rejected(op, err)
	default:
		return fault.FromTransport(op, err)
	}
}
