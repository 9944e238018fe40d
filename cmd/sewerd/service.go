package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/sewernet/engine/config"
	"github.com/WessleyAI/sewernet/engine/design"
	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/job"
	"github.com/WessleyAI/sewernet/engine/network"
	"github.com/WessleyAI/sewernet/engine/run"
	"github.com/WessleyAI/sewernet/pkg/metrics"
	"github.com/WessleyAI/sewernet/pkg/mid"
	"github.com/WessleyAI/sewernet/pkg/natsutil"
)

const maxBody = 32 << 20

var (
	errNoNetwork = errors.New("network is required")
	errNoStore   = errors.New("no feature store configured")
	errJobExists = errors.New("job already running")
)

// jobs tracks the cancel funcs of running jobs.
type jobs struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func newJobs() *jobs { return &jobs{running: make(map[string]context.CancelFunc)} }

func (j *jobs) start(ctx context.Context, id string) (context.Context, func(), error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.running[id]; ok {
		return nil, nil, fmt.Errorf("%w: %s", errJobExists, id)
	}
	ctx, cancel := context.WithCancel(ctx)
	j.running[id] = cancel
	return ctx, func() {
		j.mu.Lock()
		delete(j.running, id)
		j.mu.Unlock()
		cancel()
	}, nil
}

func (j *jobs) cancel(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	cancel, ok := j.running[id]
	if ok {
		cancel()
	}
	return ok
}

type service struct {
	store network.Store
	// storeMu serializes runs against the store so commits never interleave.
	storeMu sync.Mutex

	cfg           config.Config
	nc            *nats.Conn
	progressEvery time.Duration
	jobs          *jobs
	log           *slog.Logger
}

func newService(store network.Store, cfg config.Config, log *slog.Logger) *service {
	return &service{
		store:         store,
		cfg:           cfg,
		progressEvery: 500 * time.Millisecond,
		jobs:          newJobs(),
		log:           log,
	}
}

func (s *service) options(ctx context.Context, req job.Request) design.Options {
	opt := design.Options{
		Config:      s.cfg.Design,
		Demand:      s.cfg.Demand,
		AutoReorder: s.cfg.AutoReorder || req.AutoReorder,
		Logger:      s.log.With("job", req.JobID),
	}
	if s.nc != nil {
		opt.Reporter = run.Throttle(run.Func(func(stage string, pct float64) {
			p := job.Progress{JobID: req.JobID, Stage: stage, Pct: pct}
			if err := natsutil.Publish(ctx, s.nc, job.SubjectProgress, p); err != nil {
				s.log.Warn("progress publish failed", "job", req.JobID, "err", err)
			}
		}), s.progressEvery)
	}
	return opt
}

// Design runs one job to completion. The response is filled as far as the
// run got, also when an error is returned.
func (s *service) Design(ctx context.Context, req job.Request) (job.Response, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	resp := job.Response{JobID: req.JobID}
	if req.Network == nil && s.store == nil {
		return resp, errNoStore
	}
	ctx, done, err := s.jobs.start(ctx, req.JobID)
	if err != nil {
		return resp, err
	}
	defer done()
	defer metrics.JobStarted()()

	opt := s.options(ctx, req)
	var out design.Outcome
	if req.Network != nil {
		out, err = design.Run(ctx, *req.Network, opt)
		resp.Network = &out.Network
	} else {
		s.storeMu.Lock()
		out, err = network.Design(ctx, s.store, opt)
		s.storeMu.Unlock()
		resp.Committed = err == nil
	}
	resp.Report = out.Report
	if out.Report.ID != "" {
		recordRun(out.Report)
	}
	s.log.Info("design job finished", "job", req.JobID, "run", out.Report.ID,
		"status", out.Report.Status, "committed", resp.Committed)
	return resp, err
}

func recordRun(rep run.Report) {
	flags := make(map[string]int)
	for _, w := range rep.Warnings {
		for _, code := range w.Remarks.Codes() {
			flags[code]++
		}
	}
	metrics.RecordRun(metrics.Run{
		Status:   string(rep.Status),
		Sized:    rep.Sized,
		Duration: rep.Duration(),
		Flags:    flags,
	})
}

// subscribe serves design jobs and cancellations over NATS.
func (s *service) subscribe(nc *nats.Conn) error {
	if _, err := natsutil.Serve(nc, job.SubjectRun, job.QueueGroup, s.log, s.Design); err != nil {
		return fmt.Errorf("subscribe %s: %w", job.SubjectRun, err)
	}
	_, err := natsutil.Subscribe(nc, job.SubjectCancel, s.log, func(_ context.Context, c job.Cancel) {
		if s.jobs.cancel(c.JobID) {
			s.log.Info("job cancelled", "job", c.JobID)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", job.SubjectCancel, err)
	}
	return nil
}

func (s *service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/design", s.handleDesign)
	mux.HandleFunc("POST /api/design/store", s.handleDesignStore)
	mux.HandleFunc("POST /api/design/{job}/cancel", s.handleCancel)

	return mid.Chain(mid.Observe(metrics.ObserveHTTP)(mux),
		mid.Recover(s.log),
		mid.RequestID(),
		mid.Logger(s.log),
		mid.OTel("sewerd"),
		mid.MaxBody(maxBody),
	)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *service) handleDesign(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Network == nil || len(req.Network.Segments) == 0 {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, errNoNetwork.Error()), http.StatusBadRequest)
		return
	}
	s.respond(w, r, req)
}

func (s *service) handleDesignStore(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
	}
	req.Network = nil
	s.respond(w, r, req)
}

func (s *service) respond(w http.ResponseWriter, r *http.Request, req job.Request) {
	resp, err := s.Design(r.Context(), req)
	if err != nil {
		resp.Error = err.Error()
		s.log.Warn("design job failed", "job", resp.JobID, "request_id", mid.GetRequestID(r.Context()), "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(resp)
}

func (s *service) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job")
	if !s.jobs.cancel(id) {
		http.Error(w, `{"error":"no such job"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job.Cancel{JobID: id})
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errNoStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, errJobExists), errors.Is(err, domain.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOrder), errors.Is(err, domain.ErrInvalidTopology),
		errors.Is(err, domain.ErrIncompleteUpstreamFlow),
		errors.Is(err, domain.ErrMissingRequiredField), errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrUnknownSegment):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
