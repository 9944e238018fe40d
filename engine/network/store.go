// Package network connects design runs to the feature stores that hold the
// pipe and interference records.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/sewernet/engine/design"
	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/run"
)

var (
	ErrNotFound     = errors.New("segment not found in store")
	ErrNotPersisted = errors.New("run not marked for persistence")
)

// Store reads every record of a network and writes back individual segments.
type Store interface {
	Load(ctx context.Context) (domain.Network, error)
	UpdateSegment(ctx context.Context, s domain.PipeSegment) error
}

// Flusher is implemented by stores that buffer updates until Flush.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Commit writes segs back to st. Reports of cancelled or failed runs are
// refused so a partial run never reaches the store.
func Commit(ctx context.Context, st Store, rep run.Report, segs []domain.PipeSegment) error {
	if !rep.Persist {
		return fmt.Errorf("%w: run %s is %s", ErrNotPersisted, rep.ID, rep.Status)
	}
	for _, s := range segs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := st.UpdateSegment(ctx, s); err != nil {
			return fmt.Errorf("update %s: %w", s.ID, err)
		}
	}
	if f, ok := st.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// Design loads the network from st, sizes it and commits the result when the
// run may be persisted. The outcome is returned even when the run fails.
func Design(ctx context.Context, st Store, opt design.Options) (design.Outcome, error) {
	net, err := st.Load(ctx)
	if err != nil {
		return design.Outcome{}, fmt.Errorf("load network: %w", err)
	}
	out, err := design.Run(ctx, net, opt)
	if err != nil {
		return out, err
	}
	if err := Commit(ctx, st, out.Report, out.Network.Segments); err != nil {
		return out, fmt.Errorf("commit run %s: %w", out.Report.ID, err)
	}
	return out, nil
}
