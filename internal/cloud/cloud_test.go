package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ai-dynamo/dynamo-cli/internal/graph"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "secret", WithUserAgent("dynamo/test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.pollInterval = time.Millisecond
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(" ", "secret"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("err = %v, want ErrNotLoggedIn", err)
	}
}

func TestNewDeploymentRequest(t *testing.T) {
	cfg := graph.Config{"Frontend": {"model": "qwentastic"}}

	got, err := NewDeploymentRequest("hello", "hello_world:v1", cfg)
	if err != nil {
		t.Fatalf("NewDeploymentRequest: %v", err)
	}

	want := DeploymentRequest{
		Name:  "hello",
		Bento: "hello_world:v1",
		Envs:  []EnvVar{{Name: "DYN_DEPLOYMENT_CONFIG", Value: `{"Frontend":{"model":"qwentastic"}}`}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}

	got, err = NewDeploymentRequest("hello", "hello_world:v1", nil)
	if err != nil {
		t.Fatalf("NewDeploymentRequest: %v", err)
	}
	if len(got.Envs) != 0 {
		t.Fatalf("Envs = %v, want none", got.Envs)
	}
}

func TestCreate(t *testing.T) {
	var got DeploymentRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/deployments" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		if ua := r.Header.Get("User-Agent"); ua != "dynamo/test" {
			t.Errorf("User-Agent = %q", ua)
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, Deployment{Name: "hello", Cluster: "default", Bento: got.Bento, Status: "deploying"})
	})

	req := DeploymentRequest{Name: "hello", Bento: "hello_world:v1", Labels: map[string]string{"team": "infra"}}
	d, err := c.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if diff := cmp.Diff(req, got); diff != "" {
		t.Fatalf("request body mismatch (-want +got):\n%s", diff)
	}
	if d.Name != "hello" || d.Cluster != "default" {
		t.Fatalf("deployment = %+v", d)
	}
}

func TestCreateRequiresBuild(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	if _, err := c.Create(context.Background(), DeploymentRequest{Name: "hello"}); !errors.Is(err, ErrCloud) {
		t.Fatalf("err = %v, want ErrCloud", err)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"conflict", http.StatusConflict, ErrAlreadyExists},
		{"bad request", http.StatusBadRequest, ErrCloud},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, apiError{Message: "nope"})
			})

			_, err := c.Create(context.Background(), DeploymentRequest{Name: "hello", Bento: "hello_world:v1"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGet(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/deployments/hello" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if cluster := r.URL.Query().Get("cluster"); cluster != "gpu" {
			t.Errorf("cluster = %q", cluster)
		}
		writeJSON(w, http.StatusOK, Deployment{Name: "hello", Cluster: "gpu", Status: StatusRunning})
	})

	d, err := c.Get(context.Background(), "hello", "gpu")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Status != StatusRunning {
		t.Fatalf("Status = %q", d.Status)
	}
}

func TestList(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("q"); got != "status:running label:app=hello label:team=infra" {
			t.Errorf("q = %q", got)
		}
		if got := q.Get("search"); got != "hel" {
			t.Errorf("search = %q", got)
		}
		if got := q.Get("dev"); got != "true" {
			t.Errorf("dev = %q", got)
		}
		writeJSON(w, http.StatusOK, deploymentList{Items: []Deployment{{Name: "hello"}, {Name: "hello-2"}}, Total: 2})
	})

	got, err := c.List(context.Background(), ListOptions{
		Search: "hel",
		Query:  "status:running",
		Labels: map[string]string{"team": "infra", "app": "hello"},
		Dev:    true,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[1].Name != "hello-2" {
		t.Fatalf("List = %+v", got)
	}
}

func TestDelete(t *testing.T) {
	var called bool
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = r.Method == http.MethodDelete && r.URL.Path == "/api/v2/deployments/hello"
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Delete(context.Background(), "hello", ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !called {
		t.Fatal("delete request not received")
	}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		q      string
		labels map[string]string
		want   string
	}{
		{"", nil, ""},
		{"status:running", nil, "status:running"},
		{"", map[string]string{"b": "2", "a": "1"}, "label:a=1 label:b=2"},
		{" x ", map[string]string{"a": "1"}, "x label:a=1"},
	}

	for _, tt := range tests {
		if got := Query(tt.q, tt.labels); got != tt.want {
			t.Errorf("Query(%q, %v) = %q, want %q", tt.q, tt.labels, got, tt.want)
		}
	}
}

func TestWaitUntilReady(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		status := "deploying"
		if calls.Add(1) >= 3 {
			status = StatusRunning
		}
		writeJSON(w, http.StatusOK, Deployment{Name: "hello", Cluster: "default", Status: status})
	})

	d, err := c.WaitUntilReady(context.Background(), "hello", "", time.Minute)
	if err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}
	if d.Status != StatusRunning || calls.Load() != 3 {
		t.Fatalf("status = %q after %d calls", d.Status, calls.Load())
	}
}

func TestWaitUntilReadyFailure(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, Deployment{Name: "hello", Status: StatusImageBuildFailed})
	})

	_, err := c.WaitUntilReady(context.Background(), "hello", "", time.Minute)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("err = %v, want ErrFailed", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("polled %d times after failure", calls.Load())
	}
}

func TestWaitUntilReadyTimeout(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Deployment{Name: "hello", Status: "deploying"})
	})

	_, err := c.WaitUntilReady(context.Background(), "hello", "", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitUntilReadyTimeoutAfterServerError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, apiError{Message: "upstream unavailable"})
	})

	_, err := c.WaitUntilReady(context.Background(), "hello", "", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitUntilReadyNotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, apiError{Message: "not found"})
	})

	_, err := c.WaitUntilReady(context.Background(), "hello", "", time.Minute)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
