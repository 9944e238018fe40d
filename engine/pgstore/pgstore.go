// Package pgstore keeps sewer networks in PostgreSQL tables.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/network"
)

// Schema creates the tables the store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS pipe_segments (
	id                 TEXT PRIMARY KEY,
	run_no             INTEGER NOT NULL,
	seq_no             INTEGER NOT NULL,
	upstream_node      TEXT NOT NULL,
	downstream_node    TEXT NOT NULL,
	is_dry_end         BOOLEAN NOT NULL DEFAULT FALSE,
	sides_contributing INTEGER NOT NULL DEFAULT 0,
	length             DOUBLE PRECISION NOT NULL,
	ground_elev_up     DOUBLE PRECISION,
	ground_elev_down   DOUBLE PRECISION,
	local_flow_initial DOUBLE PRECISION NOT NULL DEFAULT 0,
	local_flow_final   DOUBLE PRECISION NOT NULL DEFAULT 0,
	design_stage       INTEGER NOT NULL DEFAULT 1,
	min_cover          DOUBLE PRECISION,
	max_fill_ratio     DOUBLE PRECISION,
	min_slope_override DOUBLE PRECISION,
	diameter           DOUBLE PRECISION,
	manning_n          DOUBLE PRECISION,
	invert_up          DOUBLE PRECISION,
	invert_down        DOUBLE PRECISION,
	flow_initial       DOUBLE PRECISION NOT NULL DEFAULT 0,
	flow_final         DOUBLE PRECISION NOT NULL DEFAULT 0,
	slope              DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_slope          DOUBLE PRECISION NOT NULL DEFAULT 0,
	water_surface_up   DOUBLE PRECISION NOT NULL DEFAULT 0,
	water_surface_down DOUBLE PRECISION NOT NULL DEFAULT 0,
	cover_up           DOUBLE PRECISION NOT NULL DEFAULT 0,
	cover_down         DOUBLE PRECISION NOT NULL DEFAULT 0,
	velocity_initial   DOUBLE PRECISION NOT NULL DEFAULT 0,
	velocity_final     DOUBLE PRECISION NOT NULL DEFAULT 0,
	critical_velocity  DOUBLE PRECISION NOT NULL DEFAULT 0,
	tractive_stress    DOUBLE PRECISION NOT NULL DEFAULT 0,
	fill_ratio_initial DOUBLE PRECISION NOT NULL DEFAULT 0,
	fill_ratio_final   DOUBLE PRECISION NOT NULL DEFAULT 0,
	drop_height        DOUBLE PRECISION NOT NULL DEFAULT 0,
	drop_kind          TEXT NOT NULL DEFAULT '',
	remarks            TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS interferences (
	id                     TEXT PRIMARY KEY,
	segment_id             TEXT NOT NULL REFERENCES pipe_segments(id) ON DELETE CASCADE,
	kind                   TEXT NOT NULL,
	distance_from_upstream DOUBLE PRECISION NOT NULL,
	top_elevation          DOUBLE PRECISION NOT NULL,
	bottom_elevation       DOUBLE PRECISION NOT NULL,
	object_diameter        DOUBLE PRECISION,
	object_invert          DOUBLE PRECISION
);`

// querier is the part of *pgxpool.Pool the store uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var _ querier = (*pgxpool.Pool)(nil)

// Input columns are written only by SaveNetwork; computed columns are
// rewritten by every UpdateSegment.
var (
	inputColumns = []string{
		"id", "run_no", "seq_no", "upstream_node", "downstream_node", "is_dry_end", "sides_contributing",
		"length", "ground_elev_up", "ground_elev_down", "local_flow_initial", "local_flow_final",
		"design_stage", "min_cover", "max_fill_ratio", "min_slope_override",
	}
	computedColumns = []string{
		"diameter", "manning_n", "invert_up", "invert_down",
		"flow_initial", "flow_final", "slope", "min_slope", "water_surface_up", "water_surface_down",
		"cover_up", "cover_down", "velocity_initial", "velocity_final", "critical_velocity",
		"tractive_stress", "fill_ratio_initial", "fill_ratio_final", "drop_height", "drop_kind", "remarks",
	}
	interferenceColumns = []string{
		"id", "segment_id", "kind", "distance_from_upstream", "top_elevation", "bottom_elevation",
		"object_diameter", "object_invert",
	}
)

// Store is a network.Store over PostgreSQL.
type Store struct {
	db  querier
	dir domain.Direction
	log *slog.Logger
}

var _ network.Store = (*Store)(nil)

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string, dir domain.Direction, log *slog.Logger) (*Store, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, dir, log), pool, nil
}

// New wraps an existing pool.
func New(db querier, dir domain.Direction, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, dir: dir, log: log}
}

// Migrate creates the tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (domain.Network, error) {
	order := "run_no, seq_no"
	if s.dir == domain.Descending {
		order = "run_no DESC, seq_no"
	}
	cols := append(append([]string{}, inputColumns...), computedColumns...)
	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT %s FROM pipe_segments ORDER BY %s", strings.Join(cols, ", "), order))
	if err != nil {
		return domain.Network{}, fmt.Errorf("query pipe_segments: %w", err)
	}
	var net domain.Network
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			rows.Close()
			return domain.Network{}, err
		}
		net.Segments = append(net.Segments, seg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Network{}, fmt.Errorf("read pipe_segments: %w", err)
	}

	rows, err = s.db.Query(ctx, fmt.Sprintf("SELECT %s FROM interferences ORDER BY segment_id, distance_from_upstream", strings.Join(interferenceColumns, ", ")))
	if err != nil {
		return domain.Network{}, fmt.Errorf("query interferences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.Interference
		if err := rows.Scan(
			&it.ID, &it.SegmentID, (*string)(&it.Kind), &it.DistanceFromUpstream,
			&it.TopElevation, &it.BottomElevation, &it.ObjectDiameter, &it.ObjectInvert,
		); err != nil {
			return domain.Network{}, fmt.Errorf("scan interference: %w", err)
		}
		net.Interferences = append(net.Interferences, it)
	}
	if err := rows.Err(); err != nil {
		return domain.Network{}, fmt.Errorf("read interferences: %w", err)
	}
	s.log.Info("network loaded from postgres", "pipes", len(net.Segments), "interferences", len(net.Interferences))
	return net, nil
}

func scanSegment(rows pgx.Rows) (domain.PipeSegment, error) {
	var s domain.PipeSegment
	var remarks string
	err := rows.Scan(
		&s.ID, &s.RunNo, &s.SeqNo, &s.UpstreamNode, &s.DownstreamNode, &s.IsDryEnd, &s.SidesContributing,
		&s.Length, &s.GroundElevUp, &s.GroundElevDown, &s.LocalFlowInitial, &s.LocalFlowFinal,
		(*int)(&s.DesignStage), &s.MinCover, &s.MaxFillRatio, &s.MinSlopeOverride,
		&s.Diameter, &s.ManningN, &s.InvertUp, &s.InvertDown,
		&s.FlowInitial, &s.FlowFinal, &s.Slope, &s.MinSlope, &s.WaterSurfaceUp, &s.WaterSurfaceDown,
		&s.CoverUp, &s.CoverDown, &s.VelocityInitial, &s.VelocityFinal, &s.CriticalVelocity,
		&s.TractiveStress, &s.FillRatioInitial, &s.FillRatioFinal, &s.Drop, (*string)(&s.DropKind), &remarks,
	)
	if err != nil {
		return s, fmt.Errorf("scan pipe segment: %w", err)
	}
	if s.Remarks, err = domain.ParseRemarks(remarks); err != nil {
		return s, fmt.Errorf("pipe segment %s: %w", s.ID, err)
	}
	return s, nil
}

func computedValues(s domain.PipeSegment) []any {
	return []any{
		s.Diameter, s.ManningN, s.InvertUp, s.InvertDown,
		s.FlowInitial, s.FlowFinal, s.Slope, s.MinSlope, s.WaterSurfaceUp, s.WaterSurfaceDown,
		s.CoverUp, s.CoverDown, s.VelocityInitial, s.VelocityFinal, s.CriticalVelocity,
		s.TractiveStress, s.FillRatioInitial, s.FillRatioFinal, s.Drop, string(s.DropKind), s.Remarks.String(),
	}
}

func inputValues(s domain.PipeSegment) []any {
	return []any{
		s.ID, s.RunNo, s.SeqNo, s.UpstreamNode, s.DownstreamNode, s.IsDryEnd, s.SidesContributing,
		s.Length, s.GroundElevUp, s.GroundElevDown, s.LocalFlowInitial, s.LocalFlowFinal,
		int(s.DesignStage), s.MinCover, s.MaxFillRatio, s.MinSlopeOverride,
	}
}

var updateSQL = func() string {
	sets := make([]string, len(computedColumns))
	for i, c := range computedColumns {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+2)
	}
	return fmt.Sprintf("UPDATE pipe_segments SET %s WHERE id = $1", strings.Join(sets, ", "))
}()

// UpdateSegment rewrites the computed columns of one segment.
func (s *Store) UpdateSegment(ctx context.Context, seg domain.PipeSegment) error {
	args := append([]any{seg.ID}, computedValues(seg)...)
	tag, err := s.db.Exec(ctx, updateSQL, args...)
	if err != nil {
		return fmt.Errorf("update pipe segment %s: %w", seg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", network.ErrNotFound, seg.ID)
	}
	return nil
}

func upsertSQL(table string, cols []string) string {
	ph := make([]string, len(cols))
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
		if c != "id" {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(ph, ", "), strings.Join(sets, ", "))
}

var (
	upsertSegmentSQL      = upsertSQL("pipe_segments", append(append([]string{}, inputColumns...), computedColumns...))
	upsertInterferenceSQL = upsertSQL("interferences", interferenceColumns)
)

// SaveNetwork upserts every record of net in one batch.
func (s *Store) SaveNetwork(ctx context.Context, net domain.Network) error {
	b := &pgx.Batch{}
	for _, seg := range net.Segments {
		b.Queue(upsertSegmentSQL, append(inputValues(seg), computedValues(seg)...)...)
	}
	for _, it := range net.Interferences {
		b.Queue(upsertInterferenceSQL, it.ID, it.SegmentID, string(it.Kind), it.DistanceFromUpstream,
			it.TopElevation, it.BottomElevation, it.ObjectDiameter, it.ObjectInvert)
	}
	res := s.db.SendBatch(ctx, b)
	defer res.Close()
	for i := 0; i < b.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("save network (statement %d): %w", i, err)
		}
	}
	s.log.Info("network saved to postgres", "pipes", len(net.Segments), "interferences", len(net.Interferences))
	return nil
}
