package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/a2aflow/internal/application/orchestrator"
	"github.com/aescanero/a2aflow/internal/application/workers"
	"github.com/aescanero/a2aflow/internal/engine"
	"github.com/aescanero/a2aflow/internal/rpc"
	compositesmemory "github.com/aescanero/a2aflow/pkg/adapters/composites/memory"
	promcollector "github.com/aescanero/a2aflow/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/a2aflow/pkg/adapters/storage/memory"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

type stubCapabilities struct {
	descriptors []domain.Descriptor
	err         error
	invalidated []string
}

func (s *stubCapabilities) Lookup(_ context.Context, name string) (*domain.Descriptor, error) {
	for i := range s.descriptors {
		if s.descriptors[i].Name == name {
			return &s.descriptors[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ports.ErrNotFound)
}

func (s *stubCapabilities) ListAll(context.Context) ([]domain.Descriptor, error) {
	return s.descriptors, s.err
}

func (s *stubCapabilities) Refresh(context.Context) (int, error) {
	return len(s.descriptors), s.err
}

func (s *stubCapabilities) Invalidate(name string) {
	s.invalidated = append(s.invalidated, name)
}

type stubOrchestrator struct {
	Orchestrator
	submitErr error
	cancelErr error
	getErr    error
}

func (o *stubOrchestrator) Submit(context.Context, *domain.Graph, map[string]any) (string, error) {
	return "exec-1", o.submitErr
}

func (o *stubOrchestrator) Cancel(context.Context, string) error { return o.cancelErr }

func (o *stubOrchestrator) Get(_ context.Context, id string) (*domain.Execution, error) {
	if o.getErr != nil {
		return nil, o.getErr
	}
	return &domain.Execution{ID: id, Status: domain.ExecutionStatusRunning}, nil
}

type staticHealth struct{ healthy bool }

func (h staticHealth) GetStatus() *workers.HealthStatus {
	return &workers.HealthStatus{TotalWorkers: 1, Healthy: h.healthy}
}

type invokerFunc func(ctx context.Context, call rpc.Call) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, call rpc.Call) (any, error) { return f(ctx, call) }

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// newRealServer wires a manager and engine over stubbed capabilities
func newRealServer(t *testing.T, caps *stubCapabilities) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := promcollector.NewCollector(reg)

	inv := invokerFunc(func(_ context.Context, c rpc.Call) (any, error) {
		if c.Method == "make" {
			return map[string]any{"x": 1}, nil
		}
		return map[string]any{"doubled": c.Params["x"].(int64) * 2}, nil
	})
	eng := engine.New(engine.Config{}, caps, inv, metrics, nil)
	manager := orchestrator.NewManager(orchestrator.Options{
		Executor:  eng,
		Store:     storagememory.NewExecutionStore(),
		Metrics:   metrics,
		Validator: orchestrator.NewValidator(caps),
	})

	return NewServer(&Config{
		Orchestrator: manager,
		Capabilities: caps,
		Composites:   compositesmemory.NewStore(),
		Gatherer:     reg,
	}), reg
}

var mathCaps = &stubCapabilities{descriptors: []domain.Descriptor{
	{Name: "source", URL: "http://source", Methods: []domain.Method{{Name: "make"}}},
	{Name: "math", URL: "http://math", Methods: []domain.Method{{
		Name:   "double",
		Params: []domain.Param{{Name: "x", Type: "integer", Required: true}},
	}}},
}}

const chainBody = `{"graph":{"steps":[{"id":"a","agent":"source","method":"make","next":"b"},{"id":"b","agent":"math","method":"double"}]}}`

func TestServer_RunWorkflow(t *testing.T) {
	s, _ := newRealServer(t, mathCaps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/run", bytes.NewBufferString(chainBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, domain.VerdictCompleted, out.Verdict)
	assert.NotEmpty(t, out.ExecutionID)
	require.Len(t, out.Logs, 2)
	assert.Equal(t, map[string]any{"x": 1.0, "doubled": 2.0}, out.FinalState)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	get := do(t, s.Handler(), http.MethodGet, "/api/v1/executions/"+out.ExecutionID, nil)
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "completed", decode(t, get)["status"])
}

func TestServer_RunAndValidateRejectCycles(t *testing.T) {
	s, _ := newRealServer(t, mathCaps)
	cyclic := map[string]any{"graph": map[string]any{
		"steps": []any{
			map[string]any{"id": "a", "agent": "source", "method": "make", "next": "b"},
			map[string]any{"id": "b", "agent": "math", "method": "double", "next": "a"},
		},
	}}

	run := do(t, s.Handler(), http.MethodPost, "/api/v1/workflows/run", cyclic)
	require.Equal(t, http.StatusOK, run.Code)
	body := decode(t, run)
	assert.Equal(t, "failed", body["verdict"])
	assert.Equal(t, "cycle", body["error"].(map[string]any)["kind"])

	val := do(t, s.Handler(), http.MethodPost, "/api/v1/workflows/validate", cyclic)
	require.Equal(t, http.StatusUnprocessableEntity, val.Code)
	errBody := decode(t, val)["error"].(map[string]any)
	assert.Equal(t, "CYCLE_DETECTED", errBody["code"])
	assert.ElementsMatch(t, []any{"a", "b"}, errBody["details"].(map[string]any)["steps"])
}

func TestServer_Validate(t *testing.T) {
	s, _ := newRealServer(t, mathCaps)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/workflows/validate", map[string]any{"graph": map[string]any{
		"steps": []any{
			map[string]any{"id": "a", "agent": "source", "method": "make"},
			map[string]any{"id": "b", "agent": "ghost", "method": "boo"},
		},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, []any{"a", "b"}, body["validation"].(map[string]any)["order"])

	bad := do(t, s.Handler(), http.MethodPost, "/api/v1/workflows/validate", map[string]any{"inputs": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestServer_SubmitErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"invalid", fmt.Errorf("%w: nope", orchestrator.ErrInvalidGraph), http.StatusUnprocessableEntity},
		{"queue full", fmt.Errorf("queue: %w", workers.ErrQueueFull), http.StatusServiceUnavailable},
		{"store down", errors.New("store down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&Config{Orchestrator: &stubOrchestrator{submitErr: tt.err}})
			rec := do(t, s.Handler(), http.MethodPost, "/api/v1/executions", map[string]any{"graph": map[string]any{"steps": []any{}}})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_ExecutionLookupAndCancel(t *testing.T) {
	notFound := fmt.Errorf("x: %w", ports.ErrNotFound)

	s := NewServer(&Config{Orchestrator: &stubOrchestrator{getErr: notFound, cancelErr: notFound}})
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/api/v1/executions/x", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodPost, "/api/v1/executions/x/cancel", nil).Code)

	s = NewServer(&Config{Orchestrator: &stubOrchestrator{cancelErr: orchestrator.ErrAlreadyFinished}})
	assert.Equal(t, http.StatusConflict, do(t, s.Handler(), http.MethodPost, "/api/v1/executions/x/cancel", nil).Code)

	s = NewServer(&Config{Orchestrator: &stubOrchestrator{}})
	assert.Equal(t, http.StatusAccepted, do(t, s.Handler(), http.MethodPost, "/api/v1/executions/x/cancel", nil).Code)
	get := do(t, s.Handler(), http.MethodGet, "/api/v1/executions/x", nil)
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "running", decode(t, get)["status"])
}

func TestServer_Capabilities(t *testing.T) {
	caps := &stubCapabilities{descriptors: mathCaps.descriptors}
	s := NewServer(&Config{Capabilities: caps})

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/capabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["total"])

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/capabilities/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["refreshed"])

	caps.err = errors.New("registry down")
	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/capabilities", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_Composites(t *testing.T) {
	caps := &stubCapabilities{}
	s := NewServer(&Config{Capabilities: caps, Composites: compositesmemory.NewStore()})

	def := domain.CompositeDefinition{
		Method: "run",
		Graph:  domain.Graph{Steps: []domain.Step{{ID: "a", Agent: "source", Method: "make"}}},
	}
	rec := do(t, s.Handler(), http.MethodPut, "/api/v1/composites/pipeline", def)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pipeline", decode(t, rec)["name"])
	assert.Equal(t, []string{"pipeline"}, caps.invalidated)

	noMethod := domain.CompositeDefinition{Graph: def.Graph}
	rec = do(t, s.Handler(), http.MethodPut, "/api/v1/composites/broken", noMethod)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_COMPOSITE", decode(t, rec)["error"].(map[string]any)["code"])

	cyclic := domain.CompositeDefinition{Method: "run", Graph: domain.Graph{
		Steps: []domain.Step{{ID: "a", Agent: "x", Method: "y", Next: "b"}, {ID: "b", Agent: "x", Method: "y", Next: "a"}},
	}}
	rec = do(t, s.Handler(), http.MethodPut, "/api/v1/composites/loop", cyclic)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "CYCLE_DETECTED", decode(t, rec)["error"].(map[string]any)["code"])

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/composites", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["total"])
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s, _ := newRealServer(t, mathCaps)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, s.Handler(), http.MethodPost, "/api/v1/workflows/run", map[string]any{"graph": map[string]any{"steps": []any{}}})
	metrics := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `a2aflow_executions_total{verdict="completed"} 1`)

	unhealthy := NewServer(&Config{Health: staticHealth{healthy: false}})
	rec = do(t, unhealthy.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode(t, rec)["status"])
}

func TestServer_CORSPreflight(t *testing.T) {
	s := NewServer(&Config{})
	rec := do(t, s.Handler(), http.MethodOptions, "/api/v1/executions", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
