package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/copyleftdev/gridfit/internal/config"
	apierrors "github.com/copyleftdev/gridfit/internal/errors"
	"github.com/copyleftdev/gridfit/internal/logging"
	"github.com/copyleftdev/gridfit/internal/metrics"
	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/curves"
	"github.com/copyleftdev/gridfit/internal/optimization/executor"
	"github.com/copyleftdev/gridfit/internal/optimization/grid"
	"github.com/copyleftdev/gridfit/internal/optimization/gridsearch"
	"github.com/copyleftdev/gridfit/internal/optimization/report"
)

// maxBodyBytes bounds fit request bodies.
const maxBodyBytes = 32 << 20

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// FitRequest is the body of POST /api/v1/fit and the fit.start params.
type FitRequest struct {
	Family string                  `json:"family"`
	Axes   []optimization.AxisSpec `json:"axes"`
	X      []float32               `json:"x"`
	Y      []float32               `json:"y"`
	// Refinement and Backend override the server defaults when set.
	Refinement string `json:"refinement,omitempty"`
	Backend    string `json:"backend,omitempty"`
}

// FitJob represents the state of a fit job.
// It tracks the progress, status, and results of one fit.
// Fields are guarded by the server's job mutex.
type FitJob struct {
	ID          string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	Request     FitRequest
	Samples     *optimization.Samples
	Result      *optimization.FitResult
	Summary     *report.Summary
	Err         error
	Optimizer   *gridsearch.Optimizer
	CancelFunc  context.CancelFunc
	LastUpdated time.Time

	stages int
}

// JobStatus is the JSON view of a FitJob.
type JobStatus struct {
	ID          string                  `json:"id"`
	Status      string                  `json:"status"`
	Progress    float64                 `json:"progress"`
	StartTime   time.Time               `json:"start_time"`
	LastUpdate  time.Time               `json:"last_update"`
	EndTime     *time.Time              `json:"end_time,omitempty"`
	Result      *optimization.FitResult `json:"result,omitempty"`
	CurrentBest *optimization.FitResult `json:"current_best,omitempty"`
	Summary     *report.Summary         `json:"summary,omitempty"`
	Stages      []optimization.Stage    `json:"stages,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Kind        string                  `json:"kind,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exports engine and job metrics through obs.
func WithMetrics(obs *metrics.Observer) Option {
	return func(s *Server) { s.metrics = obs }
}

// WithExecutor replaces the shared executor.
func WithExecutor(e executor.Executor) Option {
	return func(s *Server) { s.exec = e }
}

// Server implements the HTTP and JSON-RPC server for the fit service.
// It manages fit jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	runCfg  gridsearch.RunConfig
	exec    executor.Executor
	buffers *executor.BufferPool
	limiter *rate.Limiter
	metrics *metrics.Observer
	seq     atomic.Uint64

	jobs   map[string]*FitJob
	jobsMu sync.RWMutex
}

// NewServer creates a new server instance with the given config and logger.
// All jobs share one executor, so the pool's dispatch slots bound the
// number of concurrent dispatches across the server.
func NewServer(cfg *config.Config, logger Logger, opts ...Option) (*Server, error) {
	runCfg := cfg.RunConfig()
	limit := rate.Inf
	if cfg.Server.SubmitRate > 0 {
		limit = rate.Limit(cfg.Server.SubmitRate)
	}
	burst := cfg.Server.SubmitBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		runCfg:  runCfg,
		buffers: executor.NewBufferPool(gridsearch.DefaultPooledBuffers),
		limiter: rate.NewLimiter(limit, burst),
		jobs:    make(map[string]*FitJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil {
		execOpts := runCfg.ExecutorOptions()
		execOpts.Logger = logger.WithFields(map[string]interface{}{"component": "executor"}).Zap()
		e, err := executor.New(runCfg.Backend, execOpts)
		if err != nil {
			return nil, err
		}
		s.exec = e
	}
	return s, nil
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fit", s.handleFit)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/fit/{id}", s.handleCancel)
		r.Get("/backends", s.handleBackends)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// rpcRequest is a JSON-RPC 2.0 request. Params follow the positional form
// with a single object.
type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type jobRef struct {
	FitID string `json:"fit_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, http.StatusOK, apierrors.CodeParseError, "Parse error", nil, nil)
		return
	}

	if request.JSONRPC != "2.0" {
		s.respondWithError(w, http.StatusOK, apierrors.CodeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "fit.start":
		if !s.allowSubmit() {
			s.respondWithError(w, http.StatusTooManyRequests, apierrors.CodeServerError, "rate limit exceeded", request.ID, nil)
			return
		}
		var req FitRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.startFit(req)
		}
	case "fit.status":
		var ref jobRef
		if err = decodeParams(request.Params, &ref); err == nil {
			result, err = s.jobStatus(ref.FitID)
		}
	case "fit.cancel":
		var ref jobRef
		if err = decodeParams(request.Params, &ref); err == nil {
			err = s.cancelFit(ref.FitID)
			result = map[string]string{"status": "cancellation requested"}
		}
	default:
		s.respondWithError(w, http.StatusOK, apierrors.CodeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		e := apierrors.FromFit(err)
		s.respondWithError(w, http.StatusOK, e.Code, e.Error(), request.ID, map[string]interface{}{
			"status": e.Status,
			"kind":   string(e.Kind),
		})
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func decodeParams(params []json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return apierrors.New(http.StatusBadRequest, "missing required parameters")
	}
	if err := json.Unmarshal(params[0], dst); err != nil {
		return apierrors.Errorf(http.StatusBadRequest, "invalid parameter format: %v", err)
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, status, code int, message string, id interface{}, data interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	rpcErr := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		rpcErr["data"] = data
	}
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) allowSubmit() bool {
	if s.limiter.Allow() {
		return true
	}
	if s.metrics != nil {
		s.metrics.Rejected()
	}
	return false
}

// startFit validates req and starts a fit job. Invalid input and oversized
// grids are rejected here, before a job exists.
func (s *Server) startFit(req FitRequest) (map[string]interface{}, error) {
	runCfg := s.runCfg
	if req.Refinement != "" {
		refinement, err := gridsearch.ParseRefinement(req.Refinement)
		if err != nil {
			return nil, optimization.WrapError(err, optimization.KindInvalidInput, "invalid refinement")
		}
		runCfg.Refinement = refinement
	}

	samples, err := optimization.NewSamples(req.X, req.Y)
	if err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	opts := []gridsearch.Option{
		gridsearch.WithLogger(s.logger.WithFields(map[string]interface{}{"component": "fit"}).Zap()),
		gridsearch.WithBufferPool(s.buffers),
	}
	if req.Backend == "" || executor.NormalizeBackend(req.Backend) == executor.NormalizeBackend(runCfg.Backend) {
		opts = append(opts, gridsearch.WithExecutor(s.exec))
	} else {
		runCfg.Backend = req.Backend
	}
	if s.metrics != nil {
		opts = append(opts, gridsearch.WithObserver(s.metrics))
	}
	optimizer, err := gridsearch.NewOptimizer(runCfg, opts...)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("fit_%d_%d", time.Now().UnixNano(), s.seq.Add(1))
	ctx, cancel := context.WithCancel(context.Background())

	now := time.Now()
	job := &FitJob{
		ID:          id,
		Status:      StatusPending,
		StartTime:   now,
		Request:     req,
		Samples:     samples,
		Optimizer:   optimizer,
		CancelFunc:  cancel,
		LastUpdated: now,
		stages:      expectedStages(runCfg.Refinement),
	}

	s.jobsMu.Lock()
	s.evictLocked(now)
	s.jobs[id] = job
	s.jobsMu.Unlock()
	s.transition("", StatusPending)

	go s.runFit(ctx, job)

	return map[string]interface{}{
		"fit_id": id,
		"status": StatusPending,
	}, nil
}

func (s *Server) validate(req FitRequest) error {
	c, err := curves.Lookup(req.Family)
	if err != nil {
		return optimization.WrapError(err, optimization.KindInvalidInput, "cannot resolve curve family")
	}
	if err := curves.CheckArity(c, len(req.Axes)); err != nil {
		return optimization.WrapError(err, optimization.KindInvalidInput, "axis count does not match curve family")
	}
	axes := make([]grid.Axis, len(req.Axes))
	for i, a := range req.Axes {
		axes[i] = grid.FromSpec(a)
	}
	_, err = grid.NewSpace(s.runCfg.MaxCandidates, axes...)
	return err
}

func expectedStages(r gridsearch.Refinement) int {
	if r == gridsearch.RefineNone || r == "" {
		return 1
	}
	return 2
}

// runFit executes the fit in a goroutine
func (s *Server) runFit(ctx context.Context, job *FitJob) {
	s.jobsMu.Lock()
	if job.Status != StatusPending {
		s.jobsMu.Unlock()
		return
	}
	job.Status = StatusRunning
	job.LastUpdated = time.Now()
	s.jobsMu.Unlock()
	s.transition(StatusPending, StatusRunning)

	problem := optimization.Problem{Family: job.Request.Family, Axes: job.Request.Axes}
	result, err := job.Optimizer.Fit(ctx, job.Samples, problem)

	var summary *report.Summary
	if err == nil {
		if c, lerr := curves.Lookup(result.Family); lerr == nil {
			sum := report.Summarize(c, result.Parameters, job.Samples)
			summary = &sum
		}
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	now := time.Now()
	job.LastUpdated = now
	if job.Status == StatusCancelled {
		return
	}
	job.EndTime = &now
	if err != nil {
		s.logger.Error("Fit failed", map[string]interface{}{
			"fit_id": job.ID,
			"error":  err,
		})
		job.Status = StatusFailed
		job.Err = err
		s.transition(StatusRunning, StatusFailed)
		return
	}
	job.Status = StatusCompleted
	job.Result = result
	job.Summary = summary
	s.transition(StatusRunning, StatusCompleted)
	s.logger.Info("Fit completed", map[string]interface{}{
		"fit_id":     job.ID,
		"family":     result.Family,
		"parameters": result.Parameters,
		"min_error":  result.MinError,
	})
}

// evictLocked drops finished jobs older than the retention TTL and then the
// oldest finished jobs beyond the retention cap. Pending and running jobs are
// never evicted. The caller holds jobsMu.
func (s *Server) evictLocked(now time.Time) {
	ttl, limit := s.cfg.Server.JobTTL, s.cfg.Server.MaxFinishedJobs

	var finished []*FitJob
	evicted := 0
	for id, job := range s.jobs {
		if job.EndTime == nil {
			continue
		}
		if ttl > 0 && now.Sub(*job.EndTime) > ttl {
			delete(s.jobs, id)
			evicted++
			continue
		}
		finished = append(finished, job)
	}

	if limit > 0 && len(finished) > limit {
		sort.Slice(finished, func(i, j int) bool {
			return finished[i].EndTime.Before(*finished[j].EndTime)
		})
		for _, job := range finished[:len(finished)-limit] {
			delete(s.jobs, job.ID)
			evicted++
		}
	}

	if evicted > 0 {
		s.logger.Debug("Evicted finished jobs", map[string]interface{}{
			"evicted":  evicted,
			"retained": len(s.jobs),
		})
	}
}

func (s *Server) transition(from, to string) {
	if s.metrics != nil {
		s.metrics.JobTransition(from, to)
	}
}

// jobStatus returns the current status and results of a fit job.
func (s *Server) jobStatus(id string) (*JobStatus, error) {
	if id == "" {
		return nil, apierrors.New(http.StatusBadRequest, "fit_id is required")
	}

	s.jobsMu.RLock()
	job, exists := s.jobs[id]
	if !exists {
		s.jobsMu.RUnlock()
		return nil, apierrors.Errorf(http.StatusNotFound, "fit %s not found", id)
	}
	st := &JobStatus{
		ID:         job.ID,
		Status:     job.Status,
		StartTime:  job.StartTime,
		LastUpdate: job.LastUpdated,
		EndTime:    job.EndTime,
		Result:     job.Result,
		Summary:    job.Summary,
	}
	if job.Err != nil {
		e := apierrors.FromFit(job.Err)
		st.Error = e.Error()
		st.Kind = string(e.Kind)
	}
	optimizer, stages := job.Optimizer, job.stages
	s.jobsMu.RUnlock()

	if optimizer != nil {
		st.Stages = optimizer.History()
		if st.Result == nil {
			st.CurrentBest = optimizer.Best()
		}
	}
	switch st.Status {
	case StatusCompleted:
		st.Progress = 1
	default:
		st.Progress = float64(min(len(st.Stages), stages)) / float64(stages)
	}
	return st, nil
}

// cancelFit cancels a pending or running fit job. The fit stops at its next
// stage boundary.
func (s *Server) cancelFit(id string) error {
	if id == "" {
		return apierrors.New(http.StatusBadRequest, "fit_id is required")
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return apierrors.Errorf(http.StatusNotFound, "fit %s not found", id)
	}

	switch job.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return apierrors.Errorf(http.StatusConflict, "cannot cancel fit with status: %s", job.Status)
	}

	if job.CancelFunc != nil {
		job.CancelFunc()
	}
	if job.Optimizer != nil {
		job.Optimizer.Stop()
	}

	prev := job.Status
	job.Status = StatusCancelled
	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now
	s.transition(prev, StatusCancelled)

	s.logger.Info("Fit cancelled", map[string]interface{}{
		"fit_id": id,
	})

	return nil
}

// Close cancels every running job.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	for _, job := range s.jobs {
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
	}
	return nil
}

// handleFit handles POST /api/v1/fit.
func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmit() {
		apierrors.WriteJSON(w, apierrors.New(http.StatusTooManyRequests, "rate limit exceeded"))
		return
	}

	var req FitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		apierrors.WriteJSON(w, apierrors.Errorf(http.StatusBadRequest, "Invalid request body: %v", err))
		return
	}

	result, err := s.startFit(req)
	if err != nil {
		logging.FromContext(r.Context()).Warn("Fit rejected", map[string]interface{}{"error": err})
		apierrors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.jobStatus(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/fit/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelFit(chi.URLParam(r, "id")); err != nil {
		apierrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handleBackends handles GET /api/v1/backends.
func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends": executor.SupportedBackends(),
		"default":  s.exec.Name(),
		"families": curves.Families(),
		"host":     executor.HostInfo(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
