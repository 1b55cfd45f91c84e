package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gridfit/internal/config"
	apierrors "github.com/copyleftdev/gridfit/internal/errors"
	"github.com/copyleftdev/gridfit/internal/logging"
	"github.com/copyleftdev/gridfit/internal/metrics"
	"github.com/copyleftdev/gridfit/internal/optimization"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	// Set up HTTP config
	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	// Set up logging
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stdout"

	// Set up the fit engine
	cfg.Fit.Backend = "pool"
	cfg.Fit.BlockSize = 4096
	cfg.Fit.DispatchSlots = 2
	cfg.Fit.MaxCandidates = 1 << 25
	cfg.Fit.DispatchTimeout = time.Minute
	cfg.Fit.Refinement = "none"
	cfg.Fit.HalfWidth = 1
	cfg.Fit.FineResolution = 64
	cfg.Fit.MaxIterations = 64
	cfg.Fit.Threshold = 1e-9
	cfg.Fit.Shrink = 0.5

	// No rate limit unless a test sets one
	cfg.Server.SubmitRate = 0
	cfg.Server.SubmitBurst = 10

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "error",
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, chi.Router) {
	t.Helper()
	srv, err := NewServer(cfg, testLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func doubling() FitRequest {
	return FitRequest{
		Family: "proportional",
		Axes:   []optimization.AxisSpec{{Name: "a", Min: 0, Max: 4, Resolution: 4}},
		X:      []float32{1, 2, 3},
		Y:      []float32{2, 4, 6},
	}
}

// slowRequest is large enough that it is still running when a test cancels it.
func slowRequest() FitRequest {
	const n = 200
	req := FitRequest{
		Family: "power",
		Axes: []optimization.AxisSpec{
			{Name: "a", Min: 0, Max: 8, Resolution: 512},
			{Name: "n", Min: 0, Max: 8, Resolution: 512},
		},
		X: make([]float32, n),
		Y: make([]float32, n),
	}
	for i := range req.X {
		x := 0.5 + float64(i)/40
		req.X[i] = float32(x)
		req.Y[i] = float32(2 * math.Pow(x, 1.5))
	}
	return req
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func submit(t *testing.T, r http.Handler, req FitRequest) string {
	t.Helper()
	rr := doRequest(t, r, http.MethodPost, "/api/v1/fit", req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, StatusPending, resp["status"])
	require.NotEmpty(t, resp["fit_id"])
	return resp["fit_id"]
}

func waitForStatus(t *testing.T, srv *Server, id string, want ...string) *JobStatus {
	t.Helper()
	var st *JobStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = srv.jobStatus(id)
		if err != nil {
			return false
		}
		for _, w := range want {
			if st.Status == w {
				return true
			}
		}
		return false
	}, 30*time.Second, 5*time.Millisecond)
	return st
}

func TestNewServer(t *testing.T) {
	// Create a test logger and config
	logger := testLogger(t)
	cfg := testConfig(t)

	// Test server creation
	srv, err := NewServer(cfg, logger)
	require.NoError(t, err)
	assert.NotNil(t, srv, "Server should be created")
	assert.Equal(t, "pool", srv.exec.Name())

	cfg.Fit.Backend = "quantum"
	_, err = NewServer(cfg, logger)
	assert.Error(t, err, "unknown backends are rejected")
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	// Test if routes are registered
	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/fit", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/fit/123", true},
		{"GET", "/api/v1/backends", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},     // Not registered by server package
		{"GET", "/nonexistent", false}, // Should not exist
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			// Unknown routes return chi's plain 404; known routes that find
			// no job return a JSON body.
			isJSON := rr.Header().Get("Content-Type") == "application/json"
			if tt.shouldExist {
				assert.True(t, rr.Code != http.StatusNotFound || isJSON,
					"Route %s %s should exist", tt.method, tt.path)
			} else {
				assert.Equal(t, http.StatusNotFound, rr.Code)
				assert.False(t, isJSON)
			}
		})
	}
}

func TestFitLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, r := newTestServer(t, testConfig(t), WithMetrics(metrics.New(reg)))

	id := submit(t, r, doubling())
	waitForStatus(t, srv, id, StatusCompleted, StatusFailed)

	rr := doRequest(t, r, http.MethodGet, "/api/v1/status/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var st JobStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&st))
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 1.0, st.Progress)
	require.NotNil(t, st.Result)
	assert.Equal(t, []float32{2}, st.Result.Parameters)
	assert.Equal(t, float32(0), st.Result.MinError)
	assert.Equal(t, uint64(2), st.Result.CandidateIndex)
	assert.Equal(t, "pool", st.Result.Backend)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 0.0, st.Summary.MSE)
	assert.NotNil(t, st.EndTime)
	require.Len(t, st.Stages, 1)

	// Completed jobs cannot be cancelled.
	rr = doRequest(t, r, http.MethodDelete, "/api/v1/fit/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "gridfit_fits_total")
	assert.Contains(t, names, "gridfit_jobs")
}

func TestFitWithRefinement(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	req := doubling()
	req.Refinement = "grid"
	id := submit(t, r, req)
	st := waitForStatus(t, srv, id, StatusCompleted, StatusFailed)

	require.Equal(t, StatusCompleted, st.Status, st.Error)
	assert.Equal(t, "grid", st.Result.Refinement)
	assert.Len(t, st.Stages, 2)
	assert.Equal(t, float32(0), st.Result.MinError)
}

func TestFitRejected(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	huge := doubling()
	huge.Family = "power"
	huge.Axes = []optimization.AxisSpec{
		{Min: 0, Max: 1, Resolution: 100_000},
		{Min: 0, Max: 1, Resolution: 100_000},
	}

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantKind   string
	}{
		{"malformed body", "{not json", http.StatusBadRequest, ""},
		{"no samples", FitRequest{Family: "proportional", Axes: doubling().Axes}, http.StatusBadRequest, "invalid_input"},
		{"unknown family", func() FitRequest { f := doubling(); f.Family = "cubic"; return f }(), http.StatusBadRequest, "invalid_input"},
		{"unknown refinement", func() FitRequest { f := doubling(); f.Refinement = "anneal"; return f }(), http.StatusBadRequest, "invalid_input"},
		{"mismatched columns", func() FitRequest { f := doubling(); f.Y = f.Y[:2]; return f }(), http.StatusBadRequest, "invalid_input"},
		{"grid too large", huge, http.StatusRequestEntityTooLarge, "search_space_too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, r, http.MethodPost, "/api/v1/fit", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())

			var body apierrors.Body
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.wantKind, body.Kind)
		})
	}
}

func TestFitUnavailableBackendFallsBack(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	req := doubling()
	req.Backend = "opencl"
	id := submit(t, r, req)
	st := waitForStatus(t, srv, id, StatusCompleted, StatusFailed)

	require.Equal(t, StatusCompleted, st.Status, st.Error)
	assert.True(t, st.Result.FellBack)
	assert.Equal(t, "sequential", st.Result.Backend)
}

func TestFitUnavailableBackendWithoutFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fit.DisableFallback = true
	srv, r := newTestServer(t, cfg)

	req := doubling()
	req.Backend = "opencl"
	id := submit(t, r, req)
	st := waitForStatus(t, srv, id, StatusCompleted, StatusFailed)

	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "executor_unavailable", st.Kind)
	assert.Nil(t, st.Result)
}

func TestStatusNotFound(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := doRequest(t, r, http.MethodGet, "/api/v1/status/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, r, http.MethodDelete, "/api/v1/fit/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelFit(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	id := submit(t, r, slowRequest())
	rr := doRequest(t, r, http.MethodDelete, "/api/v1/fit/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	st, err := srv.jobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
	assert.NotNil(t, st.EndTime)

	// A second cancel conflicts.
	rr = doRequest(t, r, http.MethodDelete, "/api/v1/fit/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSubmitRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.SubmitRate = 0.001
	cfg.Server.SubmitBurst = 1
	_, r := newTestServer(t, cfg)

	submit(t, r, doubling())

	rr := doRequest(t, r, http.MethodPost, "/api/v1/fit", doubling())
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = doRequest(t, r, http.MethodPost, "/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "fit.start",
		"params":  []interface{}{doubling()},
	})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestBackends(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := doRequest(t, r, http.MethodGet, "/api/v1/backends", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Backends []string `json:"backends"`
		Default  string   `json:"default"`
		Families []string `json:"families"`
		Host     struct {
			CPUs int `json:"cpus"`
		} `json:"host"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, []string{"pool", "sequential", "opencl"}, resp.Backends)
	assert.Equal(t, "pool", resp.Default)
	assert.Contains(t, resp.Families, "power")
	assert.Positive(t, resp.Host.CPUs)
}

func rpc(t *testing.T, r http.Handler, method string, params ...interface{}) map[string]interface{} {
	t.Helper()
	rr := doRequest(t, r, http.MethodPost, "/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "req-1",
		"method":  method,
		"params":  params,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.Equal(t, "req-1", resp["id"])
	return resp
}

func TestJSONRPC(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	resp := rpc(t, r, "fit.start", doubling())
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok, "fit.start should return a result: %v", resp)
	id, _ := result["fit_id"].(string)
	require.NotEmpty(t, id)

	waitForStatus(t, srv, id, StatusCompleted, StatusFailed)

	resp = rpc(t, r, "fit.status", map[string]string{"fit_id": id})
	status, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status["status"])

	resp = rpc(t, r, "fit.cancel", map[string]string{"fit_id": id})
	rpcErr, ok := resp["error"].(map[string]interface{})
	require.True(t, ok)
	data := rpcErr["data"].(map[string]interface{})
	assert.Equal(t, float64(http.StatusConflict), data["status"])
}

func TestJSONRPCErrors(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{"parse error", "{", apierrors.CodeParseError},
		{"wrong version", map[string]interface{}{"jsonrpc": "1.0", "method": "fit.status"}, apierrors.CodeInvalidRequest},
		{"unknown method", map[string]interface{}{"jsonrpc": "2.0", "method": "fit.explode"}, apierrors.CodeMethodNotFound},
		{"missing params", map[string]interface{}{"jsonrpc": "2.0", "method": "fit.status"}, apierrors.CodeInvalidParams},
		{"bad params", map[string]interface{}{"jsonrpc": "2.0", "method": "fit.status", "params": []interface{}{42}}, apierrors.CodeInvalidParams},
		{"invalid fit", map[string]interface{}{"jsonrpc": "2.0", "method": "fit.start", "params": []interface{}{FitRequest{Family: "power"}}}, apierrors.CodeInvalidParams},
		{"unknown job", map[string]interface{}{"jsonrpc": "2.0", "method": "fit.status", "params": []interface{}{map[string]string{"fit_id": "nope"}}}, apierrors.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, r, http.MethodPost, "/rpc", tt.body)
			assert.Equal(t, http.StatusOK, rr.Code)

			var resp map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			rpcErr, ok := resp["error"].(map[string]interface{})
			require.True(t, ok, "expected an error object: %v", resp)
			assert.Equal(t, float64(tt.wantCode), rpcErr["code"])
		})
	}
}

func TestClose(t *testing.T) {
	// Create a test logger and config
	logger := testLogger(t)
	cfg := testConfig(t)

	// Test server close
	srv, err := NewServer(cfg, logger)
	require.NoError(t, err)
	err = srv.Close()
	assert.NoError(t, err, "Close should not return an error")
}

func TestRespondWithError(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	tests := []struct {
		name       string
		status     int
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{
			name:       "valid error response",
			status:     http.StatusOK,
			code:       apierrors.CodeInvalidParams,
			message:    "invalid input",
			id:         "123",
			expectedID: "123",
		},
		{
			name:       "nil id",
			status:     http.StatusTooManyRequests,
			code:       apierrors.CodeServerError,
			message:    "rate limit exceeded",
			id:         nil,
			expectedID: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.status, tt.code, tt.message, tt.id, nil)

			assert.Equal(t, tt.status, rr.Code, "status code should match")

			// Parse response body to verify error structure
			var response map[string]interface{}
			err := json.NewDecoder(rr.Body).Decode(&response)
			assert.NoError(t, err, "should decode response body")

			// Check error object
			errObj, ok := response["error"].(map[string]interface{})
			assert.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"], "error code should match")
			assert.Equal(t, tt.message, errObj["message"], "error message should match")
			assert.NotContains(t, errObj, "data")

			// Check ID
			assert.Equal(t, tt.expectedID, response["id"], "response ID should match")
		})
	}
}

func TestFinishedJobsAreCapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxFinishedJobs = 1
	srv, r := newTestServer(t, cfg)

	first := submit(t, r, doubling())
	waitForStatus(t, srv, first, StatusCompleted, StatusFailed)
	second := submit(t, r, doubling())
	waitForStatus(t, srv, second, StatusCompleted, StatusFailed)

	// The third submission leaves room for one finished job, the newest.
	third := submit(t, r, doubling())

	rr := doRequest(t, r, http.MethodGet, "/api/v1/status/"+first, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = doRequest(t, r, http.MethodGet, "/api/v1/status/"+second, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	waitForStatus(t, srv, third, StatusCompleted, StatusFailed)
}

func TestFinishedJobsExpire(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.JobTTL = 10 * time.Millisecond
	srv, r := newTestServer(t, cfg)

	old := submit(t, r, doubling())
	waitForStatus(t, srv, old, StatusCompleted, StatusFailed)
	time.Sleep(30 * time.Millisecond)

	fresh := submit(t, r, doubling())
	_, err := srv.jobStatus(old)
	assert.Equal(t, http.StatusNotFound, apierrors.StatusOf(err))

	// The job just submitted is retained.
	_, err = srv.jobStatus(fresh)
	assert.NoError(t, err)
}
