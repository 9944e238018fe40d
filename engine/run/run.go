// Package run holds the state owned by one design run: its id, cooperative
// cancellation, progress reporting and the warnings raised per segment.
package run

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/flow"
)

// Reporter receives progress and is polled for cancellation once per segment.
type Reporter interface {
	Report(stage string, pct float64)
	Cancelled() bool
}

// Nop ignores progress and never cancels.
type Nop struct{}

func (Nop) Report(string, float64) {}
func (Nop) Cancelled() bool        { return false }

// Func adapts a progress callback to a Reporter that never cancels.
type Func func(stage string, pct float64)

func (f Func) Report(stage string, pct float64) { f(stage, pct) }
func (Func) Cancelled() bool                    { return false }

type throttled struct {
	next    Reporter
	limiter *rate.Limiter
}

// Throttle forwards at most every-interval progress events to next, plus
// every event at 100%. Cancellation checks are never throttled.
func Throttle(next Reporter, every time.Duration) Reporter {
	return &throttled{next: next, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

func (t *throttled) Report(stage string, pct float64) {
	if pct >= 100 || t.limiter.Allow() {
		t.next.Report(stage, pct)
	}
}

func (t *throttled) Cancelled() bool { return t.next.Cancelled() }

// Status is the overall outcome of a run.
type Status string

const (
	StatusCompleted             Status = "completed"
	StatusCompletedWithWarnings Status = "completed_with_warnings"
	StatusCancelled             Status = "cancelled"
	StatusFailed                Status = "failed"
)

// Warning is a non-fatal condition raised on one segment.
type Warning struct {
	SegmentID string         `json:"segment_id"`
	Remarks   domain.Remarks `json:"remarks"`
}

// Report summarizes a finished run.
type Report struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Persist    bool        `json:"persist"`
	Error      string      `json:"error,omitempty"`
	FailedAt   string      `json:"failed_at,omitempty"`
	Segments   int         `json:"segments"`
	Sized      int         `json:"sized"`
	Reordered  bool        `json:"reordered,omitempty"`
	Flagged    []string    `json:"flagged,omitempty"`
	Warnings   []Warning   `json:"warnings,omitempty"`
	Totals     flow.Totals `json:"totals"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Context is passed through every stage of one run.
type Context struct {
	ID  string
	Log *slog.Logger

	ctx      context.Context
	reporter Reporter
	started  time.Time

	mu       sync.Mutex
	warnings map[string]domain.Remarks
	order    []string
}

// New starts a run. A nil reporter or logger gets a default.
func New(ctx context.Context, reporter Reporter, log *slog.Logger) *Context {
	if reporter == nil {
		reporter = Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Context{
		ID:       id,
		Log:      log.With("run", id),
		ctx:      ctx,
		reporter: reporter,
		started:  time.Now(),
		warnings: make(map[string]domain.Remarks),
	}
}

// Context returns the context.Context the run was started with.
func (c *Context) Context() context.Context { return c.ctx }

// Cancelled reports whether the caller's context is done or the reporter
// asked to stop.
func (c *Context) Cancelled() bool {
	return c.ctx.Err() != nil || c.reporter.Cancelled()
}

// Progress reports done of total for a stage.
func (c *Context) Progress(stage string, done, total int) {
	pct := 100.0
	if total > 0 {
		pct = 100 * float64(done) / float64(total)
	}
	c.reporter.Report(stage, pct)
}

// Warn records the remarks raised on a segment, replacing earlier ones.
// An empty set clears the segment.
func (c *Context) Warn(segmentID string, remarks domain.Remarks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remarks == 0 {
		delete(c.warnings, segmentID)
		return
	}
	if !slices.Contains(c.order, segmentID) {
		c.order = append(c.order, segmentID)
	}
	c.warnings[segmentID] = remarks
	c.Log.Warn("segment warning", "segment", segmentID, "remarks", remarks.String())
}

// Warnings returns the recorded warnings in the order first raised.
func (c *Context) Warnings() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Warning
	for _, id := range c.order {
		if r, ok := c.warnings[id]; ok {
			out = append(out, Warning{SegmentID: id, Remarks: r})
		}
	}
	return out
}

// Finish builds the report. err is the fatal error that stopped the run, if
// any; a cancelled run is never marked for persistence.
func (c *Context) Finish(segments, sized int, totals flow.Totals, err error) Report {
	r := Report{
		ID:         c.ID,
		Segments:   segments,
		Sized:      sized,
		Totals:     totals,
		Warnings:   c.Warnings(),
		StartedAt:  c.started,
		FinishedAt: time.Now(),
	}
	for _, w := range r.Warnings {
		r.Flagged = append(r.Flagged, w.SegmentID)
	}
	switch {
	case err != nil && (errors.Is(err, domain.ErrCancelled) || c.Cancelled()):
		r.Status = StatusCancelled
		r.Error = err.Error()
	case err != nil:
		r.Status = StatusFailed
		r.Error = err.Error()
		r.FailedAt, _ = domain.FailedSegment(err)
	case len(r.Warnings) > 0:
		r.Status, r.Persist = StatusCompletedWithWarnings, true
	default:
		r.Status, r.Persist = StatusCompleted, true
	}
	c.Log.Info("design run finished", "status", r.Status, "segments", segments, "sized", sized,
		"flagged", len(r.Flagged), "duration", r.Duration())
	return r
}
