package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/QNEWT/internal/config"
	"github.com/copyleftdev/QNEWT/internal/logging"
)

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "test"}
	cfg.Solver.MaxIterations = 1000
	cfg.Solver.History = 10
	cfg.Solver.MaxJobs = 8
	return cfg
}

func testServer(t *testing.T) (*Server, chi.Router, *Metrics) {
	t.Helper()
	logger := logging.New(logging.ErrorLevel, io.Discard)
	metrics := NewMetrics(prometheus.NewRegistry())
	srv := NewServer(testConfig(), logger, metrics)
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r, metrics
}

func postMinimize(t *testing.T, r chi.Router, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/minimize",
		bytes.NewReader([]byte(body)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

// waitForJob polls the status endpoint until the job leaves the pending and
// running states.
func waitForJob(t *testing.T, r chi.Router, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status/"+id, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var job Job
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&job))
		if job.State != StatePending && job.State != StateRunning {
			return &job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return nil
}

func TestMinimizeEndToEnd(t *testing.T) {
	_, r, metrics := testServer(t)

	rr := postMinimize(t, r, `{
		"function": "sphere",
		"method": "bfgs",
		"x0": [3, -4]
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))
	require.NotEmpty(t, accepted["job_id"])
	assert.Equal(t, StatePending, accepted["state"])

	job := waitForJob(t, r, accepted["job_id"])
	assert.Equal(t, StateDone, job.State)
	require.NotNil(t, job.Result)
	assert.True(t, job.Result.Converged)
	assert.InDelta(t, 0, job.Result.X[0], 1e-6)
	assert.InDelta(t, 0, job.Result.X[1], 1e-6)
	assert.NotNil(t, job.Finished)

	assert.Equal(t, 1.0,
		testutil.ToFloat64(metrics.Runs.WithLabelValues("bfgs", "converged")))
}

func TestMinimizeBoundedJob(t *testing.T) {
	_, r, _ := testServer(t)

	rr := postMinimize(t, r, `{
		"function": "booth",
		"method": "lbfgsb",
		"x0": [0, 0],
		"bounds": [[-10, 0.5], [null, null]],
		"options": {"g_tol": 1e-6, "names": ["x", "y"]}
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))

	job := waitForJob(t, r, accepted["job_id"])
	assert.Equal(t, StateDone, job.State)
	require.NotNil(t, job.Result)
	assert.InDelta(t, 0.5, job.Result.X[0], 1e-3, "x must sit on its upper bound")
	assert.True(t, job.Result.AtBounds[0])
	assert.Equal(t, []string{"x", "y"}, job.Result.Names)
}

func TestMinimizeNelderMead(t *testing.T) {
	_, r, _ := testServer(t)

	rr := postMinimize(t, r, `{
		"function": "himmelblau",
		"method": "neldermead",
		"x0": [2.5, 2.5],
		"options": {"f_tol": 1e-10}
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))

	job := waitForJob(t, r, accepted["job_id"])
	assert.Equal(t, StateDone, job.State)
	require.NotNil(t, job.Result)
	assert.InDelta(t, 0, job.Result.Fx, 1e-6)
}

func TestMinimizeValidation(t *testing.T) {
	_, r, _ := testServer(t)

	tests := []struct {
		name   string
		body   string
		substr string
	}{
		{"unknown function", `{"function":"ackley","method":"bfgs","x0":[0]}`, "unknown function"},
		{"unknown method", `{"function":"sphere","method":"newton","x0":[0]}`, "unknown method"},
		{"missing x0", `{"function":"sphere","method":"bfgs"}`, "x0 is required"},
		{"wrong dimension", `{"function":"booth","method":"bfgs","x0":[0]}`, "expects 2 parameters"},
		{"bounds on bfgs", `{"function":"sphere","method":"bfgs","x0":[0],"bounds":[[0,1]]}`,
			"does not support bounds"},
		{"bounds mismatch", `{"function":"sphere","method":"lbfgsb","x0":[0,0],"bounds":[[0,1]]}`,
			"1 bounds for 2 parameters"},
		{"inverted bound", `{"function":"sphere","method":"lbfgsb","x0":[0],"bounds":[[1,0]]}`,
			"exceeds upper"},
		{"infeasible x0", `{"function":"sphere","method":"lbfgsb","x0":[5],"bounds":[[0,1]]}`,
			"violates bounds"},
		{"malformed body", `{"function":`, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postMinimize(t, r, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Contains(t, resp["error"], tt.substr)
		})
	}
}

func TestStatusUnknownJob(t *testing.T) {
	_, r, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/job_999", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelSemantics(t *testing.T) {
	_, r, _ := testServer(t)

	// Unknown job.
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/job/job_999", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// A finished job cannot be cancelled.
	rr = postMinimize(t, r, `{"function":"sphere","method":"lbfgs","x0":[1]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var accepted map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))
	waitForJob(t, r, accepted["job_id"])

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/job/"+accepted["job_id"], nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestJobRegistryFull(t *testing.T) {
	_, r, _ := testServer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i <= 8; i++ {
		last = postMinimize(t, r, `{"function":"sphere","method":"bfgs","x0":[1]}`)
	}
	assert.Equal(t, http.StatusServiceUnavailable, last.Code)
}

func TestFunctionsEndpoint(t *testing.T) {
	_, r, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/functions", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string][]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Contains(t, resp["functions"], "rosenbrock")
	assert.Contains(t, resp["methods"], "lbfgsb")
}
