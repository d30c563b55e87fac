// Package server exposes the minimization toolkit as an asynchronous HTTP
// job service.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/QNEWT/internal/config"
	errs "github.com/copyleftdev/QNEWT/internal/errors"
	"github.com/copyleftdev/QNEWT/internal/logging"
	"github.com/copyleftdev/QNEWT/internal/optimization"
	"github.com/copyleftdev/QNEWT/internal/optimization/gradfree"
	"github.com/copyleftdev/QNEWT/internal/optimization/quasinewton"
	"github.com/copyleftdev/QNEWT/internal/optimization/testfunctions"
)

// Job states, in lifecycle order.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateDone      = "done"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Job is one asynchronous minimization run. Fields are guarded by the
// server's mutex; the abort signal is safe to trip from any goroutine.
type Job struct {
	ID       string               `json:"job_id"`
	State    string               `json:"state"`
	Method   string               `json:"method"`
	Function string               `json:"function"`
	Created  time.Time            `json:"created"`
	Finished *time.Time           `json:"finished,omitempty"`
	Result   *optimization.Status `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`

	abort *optimization.AtomicAbortSignal
}

// Server owns the job registry and the HTTP handlers around it.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *Metrics

	mu   sync.RWMutex
	jobs map[string]*Job

	seq int64
	wg  sync.WaitGroup
}

// NewServer creates a Server. Metrics may be nil when no registry is wired,
// e.g. in tests.
func NewServer(cfg *config.Config, logger *logging.Logger, metrics *Metrics) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		jobs:    make(map[string]*Job),
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/minimize", s.handleMinimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/job/{id}", s.handleCancel)
		r.Get("/functions", s.handleFunctions)
	})
}

// Close trips every live job's abort signal and waits for the runners.
func (s *Server) Close() error {
	s.mu.Lock()
	for _, job := range s.jobs {
		job.abort.Set()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// minimizeRequest is the POST /minimize body. Bounds pairs use null for an
// unbounded side, since JSON has no infinity literal.
type minimizeRequest struct {
	Function string       `json:"function"`
	Method   string       `json:"method"`
	X0       []float64    `json:"x0"`
	Bounds   [][]*float64 `json:"bounds,omitempty"`
	Options  struct {
		MaxIterations int      `json:"max_iterations,omitempty"`
		FTol          float64  `json:"f_tol,omitempty"`
		GTol          float64  `json:"g_tol,omitempty"`
		History       int      `json:"history,omitempty"`
		Names         []string `json:"names,omitempty"`
	} `json:"options"`
}

func (s *Server) handleMinimize(w http.ResponseWriter, r *http.Request) {
	var req minimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errs.Wrap(err, "malformed request body"))
		return
	}

	obj, bounds, err := s.validate(&req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	if len(s.jobs) >= s.cfg.Solver.MaxJobs {
		s.mu.Unlock()
		s.respondError(w, http.StatusServiceUnavailable,
			errs.New("job registry full").WithComponent("server"))
		return
	}
	job := &Job{
		ID:       s.nextID(),
		State:    StatePending,
		Method:   req.Method,
		Function: req.Function,
		Created:  time.Now().UTC(),
		abort:    optimization.NewAtomicAbortSignal(),
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(job, &req, obj, bounds)

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"state":  StatePending,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	job, ok := s.jobs[id]
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.RUnlock()

	if !ok {
		s.respondError(w, http.StatusNotFound, errs.Errorf("job %s not found", id))
		return
	}
	s.respondJSON(w, http.StatusOK, &snapshot)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok && (job.State == StatePending || job.State == StateRunning) {
		job.abort.Set()
	}
	var state string
	if ok {
		state = job.State
	}
	s.mu.Unlock()

	switch {
	case !ok:
		s.respondError(w, http.StatusNotFound, errs.Errorf("job %s not found", id))
	case state == StateDone || state == StateFailed || state == StateCancelled:
		s.respondError(w, http.StatusConflict,
			errs.Errorf("job %s already finished with state %s", id, state))
	default:
		s.logger.WithJob(id).Info("cancellation requested")
		s.respondJSON(w, http.StatusOK, map[string]string{
			"job_id": id,
			"state":  "cancellation requested",
		})
	}
}

func (s *Server) handleFunctions(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string][]string{
		"functions": {"sphere", "rosenbrock", "himmelblau", "booth"},
		"methods":   {"bfgs", "lbfgs", "lbfgsb", "neldermead"},
	})
}

// validate resolves the objective and bounds from the request, rejecting
// anything the chosen solver cannot run.
func (s *Server) validate(req *minimizeRequest) (optimization.Objective, optimization.Bounds, error) {
	obj, dim, ok := testfunctions.ByName(req.Function)
	if !ok {
		return nil, nil, errs.Errorf("unknown function %q", req.Function).WithComponent("server")
	}
	if len(req.X0) == 0 {
		return nil, nil, errs.New("x0 is required").WithComponent("server")
	}
	if dim > 0 && len(req.X0) != dim {
		return nil, nil, errs.Errorf("%s expects %d parameters, got %d",
			req.Function, dim, len(req.X0)).WithComponent("server")
	}

	switch req.Method {
	case "bfgs", "lbfgs", "lbfgsb", "neldermead":
	default:
		return nil, nil, errs.Errorf("unknown method %q", req.Method).WithComponent("server")
	}

	var bounds optimization.Bounds
	if len(req.Bounds) > 0 {
		if req.Method == "bfgs" || req.Method == "lbfgs" {
			return nil, nil, errs.Errorf("method %q does not support bounds; use lbfgsb or neldermead",
				req.Method).WithComponent("server")
		}
		if len(req.Bounds) != len(req.X0) {
			return nil, nil, errs.Errorf("%d bounds for %d parameters",
				len(req.Bounds), len(req.X0)).WithComponent("server")
		}
		bounds = make(optimization.Bounds, len(req.Bounds))
		for i, pair := range req.Bounds {
			if len(pair) != 2 {
				return nil, nil, errs.Errorf("bound %d must be a [lower, upper] pair", i).
					WithComponent("server")
			}
			bounds[i] = optimization.NoBound
			if pair[0] != nil {
				bounds[i].Lower = *pair[0]
			}
			if pair[1] != nil {
				bounds[i].Upper = *pair[1]
			}
		}
		if err := bounds.Validate(); err != nil {
			return nil, nil, err
		}
		if !bounds.Contains(req.X0) {
			return nil, nil, errs.New("x0 violates bounds").WithComponent("server")
		}
	}

	return obj, bounds, nil
}

// run executes one job to completion on its own goroutine.
func (s *Server) run(job *Job, req *minimizeRequest, obj optimization.Objective, bounds optimization.Bounds) {
	defer s.wg.Done()

	s.setState(job, StateRunning)
	if s.metrics != nil {
		s.metrics.Running.Inc()
	}
	start := time.Now()

	st, err := s.minimize(job, req, obj, bounds)

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.Running.Dec()
		s.metrics.Duration.Observe(elapsed.Seconds())
	}

	now := time.Now().UTC()
	s.mu.Lock()
	job.Finished = &now
	job.Result = st
	switch {
	case err != nil:
		job.State = StateFailed
		job.Error = err.Error()
	case st.Verdict == optimization.VerdictAborted:
		job.State = StateCancelled
	default:
		job.State = StateDone
	}
	verdict := "error"
	if st != nil {
		verdict = st.Verdict.String()
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Runs.WithLabelValues(req.Method, verdict).Inc()
	}
	s.logger.WithJob(job.ID).Info("job finished", map[string]interface{}{
		"method":     req.Method,
		"function":   req.Function,
		"verdict":    verdict,
		"elapsed_ms": float64(elapsed.Microseconds()) / 1000.0,
	})
}

func (s *Server) minimize(job *Job, req *minimizeRequest, obj optimization.Objective, bounds optimization.Bounds) (*optimization.Status, error) {
	term := s.terminator(req)

	if req.Method == "neldermead" {
		nm := gradfree.NewNelderMead()
		nm.Terminator = term
		nm.Names = req.Options.Names
		return nm.Minimize(obj, req.X0, bounds, job.abort)
	}

	history := req.Options.History
	if history <= 0 {
		history = s.cfg.Solver.History
	}

	var alg optimization.Algorithm
	switch req.Method {
	case "bfgs":
		alg = quasinewton.NewBFGS()
	case "lbfgs":
		l := quasinewton.NewLBFGS()
		l.History = history
		alg = l
	case "lbfgsb":
		l := quasinewton.NewLBFGSB()
		l.History = history
		alg = l
	}

	m := optimization.NewMinimizer(alg)
	m.Terminator = term
	m.FD = optimization.FiniteDifferences{Concurrent: s.cfg.Solver.ConcurrentFD}
	m.Names = req.Options.Names
	m.Logger = s.logger.WithJob(job.ID)
	return m.Minimize(obj, req.X0, bounds, job.abort)
}

func (s *Server) terminator(req *minimizeRequest) optimization.Terminator {
	term := optimization.NewTerminator()
	if s.cfg.Solver.MaxIterations > 0 {
		term.MaxIterations = s.cfg.Solver.MaxIterations
	}
	if s.cfg.Solver.FTol > 0 {
		term.FTol = s.cfg.Solver.FTol
	}
	if s.cfg.Solver.GTol > 0 {
		term.GTol = s.cfg.Solver.GTol
	}
	if req.Options.MaxIterations > 0 {
		term.MaxIterations = req.Options.MaxIterations
	}
	if req.Options.FTol > 0 {
		term.FTol = req.Options.FTol
	}
	if req.Options.GTol > 0 {
		term.GTol = req.Options.GTol
	}
	return term
}

func (s *Server) setState(job *Job, state string) {
	s.mu.Lock()
	job.State = state
	s.mu.Unlock()
}

func (s *Server) nextID() string {
	return "job_" + strconv.FormatInt(atomic.AddInt64(&s.seq, 1), 10)
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("response encoding failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, err error) {
	s.logger.WithError(err).Warn("request rejected", map[string]interface{}{"status": code})
	s.respondJSON(w, code, map[string]string{"error": err.Error()})
}
