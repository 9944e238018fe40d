package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/network"
	"github.com/WessleyAI/sewernet/pkg/fn"
	"github.com/WessleyAI/sewernet/pkg/repo"
)

// DefaultRetry is used for segment writes unless WithRetry overrides it.
var DefaultRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

// Store is a network.Store over a Neo4j database.
type Store struct {
	pipes         repo.Repository[domain.PipeSegment, string]
	interferences repo.Repository[domain.Interference, string]
	retry         fn.RetryOpts
	workers       int
	log           *slog.Logger
}

var _ network.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithRetry sets the retry policy for writes.
func WithRetry(opts fn.RetryOpts) Option { return func(s *Store) { s.retry = opts } }

// WithWorkers bounds the concurrent writes made by SaveNetwork.
func WithWorkers(n int) Option { return func(s *Store) { s.workers = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// New returns a Store that loads pipes in sizing order for dir.
func New(driver neo4j.DriverWithContext, dir domain.Direction, opts ...Option) *Store {
	order := "n.run_no, n.seq_no"
	if dir == domain.Descending {
		order = "n.run_no DESC, n.seq_no"
	}
	pipes := repo.NewNeo4jRepo[domain.PipeSegment, string](
		driver, RelPipe, pipeToMap, pipeFromRecord,
		repo.WithPattern[domain.PipeSegment, string](fmt.Sprintf("(:%s)-[n:%s]->(:%s)", LabelManhole, RelPipe, LabelManhole)),
		repo.WithMerge[domain.PipeSegment, string](fmt.Sprintf(
			"MERGE (a:%[1]s {id: $props.upstream_node}) MERGE (b:%[1]s {id: $props.downstream_node}) MERGE (a)-[n:%[2]s {id: $id}]->(b)",
			LabelManhole, RelPipe)),
		repo.WithOrder[domain.PipeSegment, string](order),
	)
	interferences := repo.NewNeo4jRepo[domain.Interference, string](
		driver, LabelInterference, interferenceToMap, interferenceFromRecord,
	)
	return newStore(pipes, interferences, opts...)
}

func newStore(pipes repo.Repository[domain.PipeSegment, string], interferences repo.Repository[domain.Interference, string], opts ...Option) *Store {
	s := &Store{
		pipes:         pipes,
		interferences: interferences,
		retry:         DefaultRetry,
		workers:       4,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads every pipe and interference.
func (s *Store) Load(ctx context.Context) (domain.Network, error) {
	pipes, err := s.pipes.All(ctx)
	if err != nil {
		return domain.Network{}, fmt.Errorf("load pipes: %w", err)
	}
	items, err := s.interferences.All(ctx)
	if err != nil {
		return domain.Network{}, fmt.Errorf("load interferences: %w", err)
	}
	s.log.Info("network loaded from neo4j", "pipes", len(pipes), "interferences", len(items))
	return domain.Network{Segments: pipes, Interferences: items}, nil
}

// UpdateSegment overwrites the stored properties of one pipe.
func (s *Store) UpdateSegment(ctx context.Context, seg domain.PipeSegment) error {
	r := fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[domain.PipeSegment] {
		v, err := s.pipes.Update(ctx, seg)
		if errors.Is(err, repo.ErrNotFound) {
			err = fn.Permanent(err)
		}
		return fn.FromPair(v, err)
	})
	if _, err := r.Unwrap(); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %v", network.ErrNotFound, err)
		}
		return err
	}
	return nil
}

// SaveNetwork writes every record of net, creating manholes as needed.
func (s *Store) SaveNetwork(ctx context.Context, net domain.Network) error {
	savePipe := fn.RetryStage(s.retry, func(ctx context.Context, p domain.PipeSegment) fn.Result[string] {
		if err := s.pipes.Upsert(ctx, p); err != nil {
			return fn.Err[string](fmt.Errorf("pipe %s: %w", p.ID, err))
		}
		return fn.Ok(p.ID)
	})
	saveItem := fn.RetryStage(s.retry, func(ctx context.Context, it domain.Interference) fn.Result[string] {
		if err := s.interferences.Upsert(ctx, it); err != nil {
			return fn.Err[string](fmt.Errorf("interference %s: %w", it.ID, err))
		}
		return fn.Ok(it.ID)
	})

	if _, err := fn.BatchStage(s.workers, savePipe)(ctx, net.Segments).Unwrap(); err != nil {
		return err
	}
	if _, err := fn.BatchStage(s.workers, saveItem)(ctx, net.Interferences).Unwrap(); err != nil {
		return err
	}
	s.log.Info("network saved to neo4j", "pipes", len(net.Segments), "interferences", len(net.Interferences))
	return nil
}
