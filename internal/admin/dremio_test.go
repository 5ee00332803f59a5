package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/fault"
	"github.com/nholik/lakehouse-bootstrap/internal/report"
)

// fakeDremio models the pieces of the Dremio REST API used for bootstrap.
type fakeDremio struct {
	mu          sync.Mutex
	users       map[string]string
	sources     map[string]map[string]any
	firstUsers  int
	sourcePosts int
}

func newFakeDremio() *fakeDremio {
	return &fakeDremio{users: map[string]string{}, sources: map[string]map[string]any{}}
}

func (f *fakeDremio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/apiv2/login":
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if pw, ok := f.users[creds["userName"]]; !ok || pw != creds["password"] {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errorMessage":"Login was unsuccessful"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + creds["userName"]})
	case r.Method == http.MethodPut && r.URL.Path == "/apiv2/bootstrap/firstuser":
		if len(f.users) > 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorMessage":"First user can only be created when no user is already registered"}`))
			return
		}
		var user map[string]any
		_ = json.NewDecoder(r.Body).Decode(&user)
		if _, ok := user["createdAt"]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.firstUsers++
		f.users[user["userName"].(string)] = user["password"].(string)
		w.WriteHeader(http.StatusOK)
	case strings.HasPrefix(r.URL.Path, "/api/v3/"):
		if !strings.HasPrefix(r.Header.Get("Authorization"), "_dremiotok-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.serveCatalog(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDremio) serveCatalog(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v3/catalog/by-path/"):
		name := strings.TrimPrefix(r.URL.Path, "/api/v3/catalog/by-path/")
		source, ok := f.sources[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "entityType": "source", "type": source["type"]})
	case r.Method == http.MethodPost && r.URL.Path == "/api/v3/catalog":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.sourcePosts++
		f.sources[body["name"].(string)] = body
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "entityType": "source", "type": body["type"]})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestDremio(t *testing.T, url string) *Dremio {
	t.Helper()
	d, err := NewDremio(DremioConfig{URL: url, Username: "admin", Password: "password1"}, WithRateLimit(0, 0))
	if err != nil {
		t.Fatalf("new dremio: %v", err)
	}
	return d
}

func runActions(t *testing.T, actions ...action.Action) []report.ActionOutcome {
	t.Helper()
	outcomes, err := action.NewExecutor(zerolog.Nop()).Run(context.Background(), actions)
	if err != nil {
		t.Fatalf("run actions: %v", err)
	}
	return outcomes
}

func TestDremio_AdminAndSourceAreIdempotent(t *testing.T) {
	fake := newFakeDremio()
	server := httptest.NewServer(fake)
	defer server.Close()

	d := newTestDremio(t, server.URL)
	src := NessieSourceConfig{
		Name:           "nessie",
		NessieEndpoint: "http://nessie:19120/api/v2",
		S3Endpoint:     "minio:9000",
		AccessKey:      "admin",
		SecretKey:      "password1",
		RootPath:       "warehouse",
	}
	actions := []action.Action{d.AdminAction("create-admin"), d.NessieSourceAction("register-nessie", src)}

	for _, outcome := range runActions(t, actions...) {
		if outcome.Status != report.ActionApplied {
			t.Fatalf("first run %s = %s", outcome.Name, outcome.Status)
		}
	}
	for _, outcome := range runActions(t, actions...) {
		if outcome.Status != report.ActionAlreadySatisfied {
			t.Fatalf("second run %s = %s", outcome.Name, outcome.Status)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.firstUsers != 1 || fake.sourcePosts != 1 {
		t.Fatalf("first users = %d, source posts = %d", fake.firstUsers, fake.sourcePosts)
	}
	config := fake.sources["nessie"]["config"].(map[string]any)
	if config["nessieEndpoint"] != src.NessieEndpoint || config["awsRootPath"] != "warehouse" || config["credentialType"] != "ACCESS_KEY" {
		t.Fatalf("unexpected source config: %v", config)
	}
	props := config["propertyList"].([]any)
	if len(props) != 3 {
		t.Fatalf("expected 3 properties, got %v", props)
	}
}

func TestDremio_FirstUserRejectionIsVerbatim(t *testing.T) {
	fake := newFakeDremio()
	fake.users["someone"] = "else"
	server := httptest.NewServer(fake)
	defer server.Close()

	d := newTestDremio(t, server.URL)
	_, err := action.NewExecutor(zerolog.Nop()).Run(context.Background(), []action.Action{d.AdminAction("create-admin")})

	var failure *action.Failure
	if !errors.As(err, &failure) || failure.Stage != report.StageApply {
		t.Fatalf("expected apply failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "First user can only be created when no user is already registered") {
		t.Fatalf("service message lost: %v", err)
	}
	if fault.Classify(err) != fault.KindRejected {
		t.Fatalf("kind = %s", fault.Classify(err))
	}
}

func TestDremio_SourceWithWrongTypeIsRejected(t *testing.T) {
	fake := newFakeDremio()
	fake.users["admin"] = "password1"
	fake.sources["nessie"] = map[string]any{"type": "S3"}
	server := httptest.NewServer(fake)
	defer server.Close()

	state, err := newTestDremio(t, server.URL).NessieSourceAction("register", NessieSourceConfig{Name: "nessie"}).Check(context.Background())
	if err == nil || fault.Classify(err) != fault.KindRejected {
		t.Fatalf("expected rejected error, got %v (state %s)", err, state)
	}
}

func TestDremio_LoginMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer server.Close()

	_, err := newTestDremio(t, server.URL).Login(context.Background())
	if fault.Classify(err) != fault.KindMalformed {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestNewDremio_RequiresCredentials(t *testing.T) {
	if _, err := NewDremio(DremioConfig{URL: "http://localhost:9047"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
}
