package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

const maxBodyBytes = 1 << 20

func (p *Probe) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Target, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return p.http.Do(req)
}

func (p *Probe) statusAccepted(code int) bool {
	if len(p.cfg.ExpectStatus) == 0 {
		return code >= 200 && code < 300
	}
	return slices.Contains(p.cfg.ExpectStatus, code)
}

func (p *Probe) evaluateHTTPStatus(ctx context.Context) Outcome {
	resp, err := p.get(ctx)
	if err != nil {
		return notReady("request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if !p.statusAccepted(resp.StatusCode) {
		return notReady(fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}
	return ready(resp.Status)
}

func (p *Probe) evaluateHTTPBody(ctx context.Context) Outcome {
	resp, err := p.get(ctx)
	if err != nil {
		return notReady("request failed", err)
	}
	defer resp.Body.Close()

	if !p.statusAccepted(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return notReady(fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return notReady("read body failed", err)
	}

	var document any
	if err := json.Unmarshal(body, &document); err != nil {
		return malformed("response body is not JSON", err)
	}

	value, found, err := lookupField(document, p.cfg.Field)
	if err != nil {
		return malformed(fmt.Sprintf("field %q", p.cfg.Field), err)
	}
	if !found {
		return notReady(fmt.Sprintf("field %q missing", p.cfg.Field), nil)
	}
	if value != p.cfg.Equals {
		return notReady(fmt.Sprintf("field %q is %q, want %q", p.cfg.Field, value, p.cfg.Equals), nil)
	}
	return ready(fmt.Sprintf("%s=%s", p.cfg.Field, value))
}

// lookupField walks a dotted path through decoded JSON objects and returns
// the string form of a scalar leaf.
func lookupField(document any, path string) (string, bool, error) {
	current := document
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return "", false, fmt.Errorf("segment %q is not inside an object", segment)
		}
		next, ok := object[segment]
		if !ok {
			return "", false, nil
		}
		current = next
	}

	switch value := current.(type) {
	case string:
		return value, true, nil
	case bool:
		return strconv.FormatBool(value), true, nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true, nil
	case nil:
		return "", false, nil
	default:
		return "", false, errors.New("value is not a scalar")
	}
}
