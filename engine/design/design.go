// Package design runs the whole sizing procedure over one network: order
// and topology checks, flow accumulation, per-segment sizing and the drop
// pass, each stage traced and reported through a run.Context.
package design

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/drop"
	"github.com/WessleyAI/sewernet/engine/flow"
	"github.com/WessleyAI/sewernet/engine/run"
	"github.com/WessleyAI/sewernet/engine/sizing"
	"github.com/WessleyAI/sewernet/engine/topology"
	"github.com/WessleyAI/sewernet/pkg/fn"
)

// Progress stage names.
const (
	StageSizing = "sizing"
	StageDrops  = "drops"
)

// Options configures a run.
type Options struct {
	Config domain.DesignConfig
	Demand domain.DemandModel
	// AutoReorder sorts the table by run and sequence when numbering
	// verification fails, then verifies again.
	AutoReorder bool
	Reporter    run.Reporter
	Logger      *slog.Logger
}

// Outcome is the sized network and the run report. On failure or
// cancellation the network holds whatever was computed before the stop.
type Outcome struct {
	Network domain.Network  `json:"network"`
	Report  run.Report      `json:"report"`
	Results []sizing.Result `json:"results,omitempty"`
}

// state flows through the stage pipeline.
type state struct {
	rc   *run.Context
	opt  Options
	segs []domain.PipeSegment
	idx  *topology.Index

	interferences map[string][]domain.Interference
	totals        flow.Totals
	results       []sizing.Result
	sized         int
	reordered     bool
}

// Run sizes a copy of net. The input is not modified.
func Run(ctx context.Context, net domain.Network, opt Options) (Outcome, error) {
	rc := run.New(ctx, opt.Reporter, opt.Logger)
	net = net.Clone()
	st := &state{
		rc:            rc,
		opt:           opt,
		segs:          net.Segments,
		interferences: net.InterferencesBySegment(),
	}
	rc.Log.Info("design run started", "segments", len(st.segs), "interferences", len(net.Interferences))

	pipeline := fn.Pipeline(
		fn.TracedStage("design.config", validateConfig),
		fn.TracedStage("design.order", verifyOrder),
		fn.TracedStage("design.topology", buildTopology),
		fn.TracedStage("design.preconditions", checkPreconditions),
		fn.TracedStage("design.flow", accumulateFlows),
		fn.TracedStage("design.sizing", sizeSegments),
		fn.TracedStage("design.drops", classifyDrops),
	)
	_, err := pipeline(ctx, st).Unwrap()

	report := rc.Finish(len(st.segs), st.sized, st.totals, err)
	report.Reordered = st.reordered
	out := Outcome{
		Network: domain.Network{Segments: st.segs, Interferences: net.Interferences, Manholes: net.Manholes},
		Report:  report,
		Results: st.results,
	}
	return out, err
}

func validateConfig(_ context.Context, st *state) fn.Result[*state] {
	if err := st.opt.Config.Validate(); err != nil {
		return fn.Err[*state](err)
	}
	return fn.Ok(st)
}

func verifyOrder(_ context.Context, st *state) fn.Result[*state] {
	err := topology.VerifyOrder(st.segs, st.opt.Config.Direction)
	if err == nil {
		return fn.Ok(st)
	}
	if !st.opt.AutoReorder || !errors.Is(err, domain.ErrOrder) {
		return fn.Err[*state](err)
	}
	st.rc.Log.Warn("numbering out of order, reordering", "err", err)
	st.segs = topology.Reorder(st.segs, st.opt.Config.Direction)
	st.reordered = true
	if err := topology.VerifyOrder(st.segs, st.opt.Config.Direction); err != nil {
		return fn.Err[*state](fmt.Errorf("after reorder: %w", err))
	}
	return fn.Ok(st)
}

func buildTopology(_ context.Context, st *state) fn.Result[*state] {
	idx, err := topology.Build(st.segs)
	if err != nil {
		return fn.Err[*state](err)
	}
	if err := idx.ValidateOutlets(); err != nil {
		return fn.Err[*state](err)
	}
	if err := idx.VerifyUpstreamOrder(); err != nil {
		return fn.Err[*state](err)
	}
	for id := range st.interferences {
		if _, ok := idx.Lookup(id); !ok {
			return fn.Err[*state](fmt.Errorf("%w: interference references %s", domain.ErrUnknownSegment, id))
		}
	}
	st.idx = idx
	st.rc.Log.Info("topology built", "nodes", len(idx.Nodes()))
	return fn.Ok(st)
}

func checkPreconditions(_ context.Context, st *state) fn.Result[*state] {
	for _, s := range st.segs {
		if err := domain.ValidateForSizing(s, st.opt.Config); err != nil {
			return fn.Err[*state](err)
		}
	}
	return fn.Ok(st)
}

func accumulateFlows(_ context.Context, st *state) fn.Result[*state] {
	totals, err := flow.Accumulate(st.segs, st.idx, st.opt.Demand)
	st.totals = totals
	if err != nil {
		return fn.Err[*state](err)
	}
	st.rc.Log.Info("flows accumulated", "system_final", totals.SystemFinal, "unit_final", totals.UnitFinal)
	return fn.Ok(st)
}

func sizeSegments(_ context.Context, st *state) fn.Result[*state] {
	eng := sizing.New(st.opt.Config, st.idx, st.interferences, st.rc.Log)
	n := len(st.segs)
	for i := range st.segs {
		if st.rc.Cancelled() {
			return fn.Err[*state](fmt.Errorf("%w before %s", domain.ErrCancelled, st.segs[i].ID))
		}
		res, err := eng.Size(st.segs, i)
		if err != nil {
			return fn.Err[*state](err)
		}
		st.results = append(st.results, res)
		st.sized++
		st.rc.Warn(st.segs[i].ID, st.segs[i].Remarks)
		st.rc.Progress(StageSizing, i+1, n)
	}
	return fn.Ok(st)
}

func classifyDrops(_ context.Context, st *state) fn.Result[*state] {
	n := len(st.segs)
	for i := range st.segs {
		if st.rc.Cancelled() {
			return fn.Err[*state](fmt.Errorf("%w during drop classification", domain.ErrCancelled))
		}
		drop.Apply(st.segs, st.idx, i, st.opt.Config.MaxStep)
		st.rc.Warn(st.segs[i].ID, st.segs[i].Remarks)
		st.rc.Progress(StageDrops, i+1, n)
	}
	return fn.Ok(st)
}
