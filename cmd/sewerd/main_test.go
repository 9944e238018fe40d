package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/sewernet/engine/config"
	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/job"
	"github.com/WessleyAI/sewernet/engine/network"
	"github.com/WessleyAI/sewernet/engine/run"
	"github.com/WessleyAI/sewernet/pkg/mid"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func segment(id string, runNo, seq int, up, down string, gUp, gDown float64) domain.PipeSegment {
	return domain.PipeSegment{
		ID: id, RunNo: runNo, SeqNo: seq, UpstreamNode: up, DownstreamNode: down,
		Length: 50, DesignStage: domain.StageOne, LocalFlowFinal: 1,
		GroundElevUp: domain.Ptr(gUp), GroundElevDown: domain.Ptr(gDown),
	}
}

func testNetwork() domain.Network {
	return domain.Network{Segments: []domain.PipeSegment{
		segment("a", 1, 1, "PV1", "PV2", 104, 103.4),
		segment("b", 1, 2, "PV2", "PV3", 103.4, 102.8),
	}}
}

func newTestService(store network.Store) *service {
	return newService(store, config.Default(), quiet)
}

func post(t *testing.T, h http.Handler, path string, body any) (*httptest.ResponseRecorder, job.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", path, &buf))
	var resp job.Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/health", nil)
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestDesignInline(t *testing.T) {
	h := newTestService(nil).routes()
	net := testNetwork()
	rec, resp := post(t, h, "/api/design", job.Request{JobID: "job-1", Network: &net})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(mid.RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	if resp.JobID != "job-1" || resp.Committed {
		t.Fatalf("resp = %+v", resp)
	}
	if !resp.Report.Persist || resp.Report.Sized != 2 {
		t.Fatalf("report = %+v", resp.Report)
	}
	if resp.Network == nil || resp.Network.Segments[1].Diameter == nil {
		t.Fatal("inline response should carry the sized network")
	}
	if net.Segments[1].Diameter != nil {
		t.Fatal("request network must not be modified")
	}
}

func TestDesignInline_BadRequests(t *testing.T) {
	h := newTestService(nil).routes()
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "not json"},
		{"no network", `{"job_id":"x"}`},
		{"empty network", `{"network":{"segments":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/design", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestDesignInline_OrderError(t *testing.T) {
	h := newTestService(nil).routes()
	net := testNetwork()
	net.Segments[0], net.Segments[1] = net.Segments[1], net.Segments[0]

	rec, resp := post(t, h, "/api/design", job.Request{Network: &net})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if resp.Report.Status != run.StatusFailed || resp.Error == "" || resp.JobID == "" {
		t.Fatalf("resp = %+v", resp)
	}

	rec, resp = post(t, h, "/api/design", job.Request{Network: &net, AutoReorder: true})
	if rec.Code != http.StatusOK || !resp.Report.Reordered {
		t.Fatalf("auto reorder: %d %+v", rec.Code, resp.Report)
	}
}

func TestDesignStore(t *testing.T) {
	mem := network.NewMemory(testNetwork())
	h := newTestService(mem).routes()

	rec, resp := post(t, h, "/api/design/store", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !resp.Committed || resp.Network != nil {
		t.Fatalf("resp = %+v", resp)
	}
	if mem.Updates() != 2 {
		t.Fatalf("store updates = %d, want 2", mem.Updates())
	}
	net, _ := mem.Load(context.Background())
	if net.Segments[0].Diameter == nil {
		t.Fatal("store not updated")
	}
}

func TestDesignStore_NoStore(t *testing.T) {
	h := newTestService(nil).routes()
	rec, resp := post(t, h, "/api/design/store", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(resp.Error, "no feature store") {
		t.Fatalf("got %d %+v", rec.Code, resp)
	}
}

func TestDesign_CancelledContext(t *testing.T) {
	mem := network.NewMemory(testNetwork())
	svc := newTestService(mem)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := svc.Design(ctx, job.Request{JobID: "c"})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if resp.Committed || resp.Report.Status != run.StatusCancelled {
		t.Fatalf("resp = %+v", resp)
	}
	if mem.Updates() != 0 {
		t.Fatal("cancelled run must not reach the store")
	}
	if statusFor(err) != http.StatusConflict {
		t.Fatalf("status = %d", statusFor(err))
	}
}

func TestCancelEndpoint(t *testing.T) {
	svc := newTestService(nil)
	h := svc.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/design/nope/cancel", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	ctx, done, err := svc.jobs.start(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	defer done()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/design/j1/cancel", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if ctx.Err() == nil {
		t.Fatal("job context should be cancelled")
	}
}

func TestJobs(t *testing.T) {
	j := newJobs()
	_, done, err := j.start(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := j.start(context.Background(), "a"); !errors.Is(err, errJobExists) {
		t.Fatalf("expected errJobExists, got %v", err)
	}
	done()
	if j.cancel("a") {
		t.Fatal("finished job should be gone")
	}
	if _, done, err := j.start(context.Background(), "a"); err != nil {
		t.Fatalf("id should be reusable: %v", err)
	} else {
		done()
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errNoStore, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: x", errJobExists), http.StatusConflict},
		{domain.MissingField("a", "ground_elev_up"), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", domain.ErrInvalidConfig), http.StatusUnprocessableEntity},
		{domain.ErrUnknownSegment, http.StatusUnprocessableEntity},
		{fmt.Errorf("segment c: %w", domain.ErrIncompleteUpstreamFlow), http.StatusUnprocessableEntity},
		{errors.New("neo4j down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestService(nil).routes()
	net := testNetwork()
	post(t, h, "/api/design", job.Request{Network: &net})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"sewer_design_runs_total", `route="POST /api/design"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Store != "none" || cfg.NATSURL != "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ProgressEvery.Milliseconds() != 500 {
		t.Fatalf("progress interval = %v", cfg.ProgressEvery)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
	t.Setenv("PROGRESS_INTERVAL", "2s")
	if d := durationOr("PROGRESS_INTERVAL", 0); d.Seconds() != 2 {
		t.Fatalf("duration = %v", d)
	}
	t.Setenv("PROGRESS_INTERVAL", "soon")
	if d := durationOr("PROGRESS_INTERVAL", 7); d != 7 {
		t.Fatalf("bad duration should fall back, got %v", d)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	st, closeStore, err := openStore(ctx, Config{Store: "none"}, domain.Descending, quiet)
	if err != nil || st != nil {
		t.Fatalf("none: %v %v", st, err)
	}
	closeStore()

	path := filepath.Join(t.TempDir(), "net.json")
	if err := os.WriteFile(path, []byte(`{"segments":[{"id":"a","run_no":1,"seq_no":1}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, _, err = openStore(ctx, Config{Store: "file", NetworkFile: path}, domain.Descending, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if net, _ := st.Load(ctx); len(net.Segments) != 1 {
		t.Fatalf("file store loaded %d segments", len(net.Segments))
	}

	if _, _, err := openStore(ctx, Config{Store: "cassandra"}, domain.Descending, quiet); err == nil {
		t.Fatal("unknown store should fail")
	}
}
