package definition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const defaultMaxBytes int64 = 1 << 20

// Source retrieves the raw services definition.
type Source interface {
	Fetch(ctx context.Context, previousETag string) (FetchResult, error)
}

// FetchResult contains the fetched definition bytes and response metadata.
type FetchResult struct {
	Body        []byte
	ETag        string
	NotModified bool
}

// NewSource returns an HTTP source for http(s) locations and a file
// source otherwise.
func NewSource(location string, timeout time.Duration) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("services location must not be empty")
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPFetcher(location, timeout, 0)
	}
	return FileSource{Path: location}, nil
}

// FileSource reads the definition from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context, _ string) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}
	file, err := os.Open(s.Path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read services file: %w", err)
	}
	defer file.Close()

	body, err := readWithLimit(file, defaultMaxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Body: body}, nil
}

// HTTPFetcher retrieves the definition over HTTP.
type HTTPFetcher struct {
	url      string
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher constructs an HTTPFetcher with the given URL and timeout.
func NewHTTPFetcher(url string, timeout time.Duration, maxBytes int64) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("services url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	client := cleanhttp.DefaultClient()
	client.Timeout = timeout
	return &HTTPFetcher{
		url:      url,
		client:   client,
		maxBytes: maxBytes,
	}, nil
}

// Fetch downloads the definition, optionally using ETag caching.
func (f *HTTPFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	if previousETag != "" {
		req.Header.Set("If-None-Match", previousETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch services definition: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{ETag: resp.Header.Get("ETag"), NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Body: body, ETag: resp.Header.Get("ETag")}, nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read services definition: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("services definition exceeds %d bytes", maxBytes)
	}
	if len(body) == 0 {
		return nil, errors.New("services definition is empty")
	}
	return body, nil
}

// Loaded is a parsed definition with the metadata needed to detect change.
type Loaded struct {
	File        *File
	Fingerprint string
	ETag        string
}

// Load fetches, parses and fingerprints a definition.
func Load(ctx context.Context, source Source, lookup func(string) (string, bool)) (Loaded, error) {
	loaded, _, err := Refresh(ctx, source, Loaded{}, lookup)
	return loaded, err
}

// Refresh re-fetches the definition. When the source reports it unchanged,
// either through ETag or fingerprint, previous is returned with changed
// set to false.
func Refresh(ctx context.Context, source Source, previous Loaded, lookup func(string) (string, bool)) (Loaded, bool, error) {
	result, err := source.Fetch(ctx, previous.ETag)
	if err != nil {
		return Loaded{}, false, err
	}
	if result.NotModified && previous.File != nil {
		return previous, false, nil
	}
	if result.NotModified {
		return Loaded{}, false, errors.New("source reported not modified without a previous definition")
	}

	fingerprint, err := Fingerprint(result.Body)
	if err != nil {
		return Loaded{}, false, err
	}
	if previous.File != nil && fingerprint == previous.Fingerprint {
		previous.ETag = result.ETag
		return previous, false, nil
	}

	file, err := Parse(result.Body, lookup)
	if err != nil {
		return Loaded{}, false, err
	}
	return Loaded{File: file, Fingerprint: fingerprint, ETag: result.ETag}, true, nil
}
