package repo

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DefaultPageSize bounds List when no limit is given and sizes the pages read by All.
const DefaultPageSize = 500

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo is a generic Neo4j-backed repository. The entity is bound to the
// variable n of a MATCH pattern, so it may be a node or a relationship.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	label      string
	idKey      string
	pattern    string
	merge      string
	orderBy    string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// WithPattern replaces the default "(n:Label)" MATCH pattern, e.g.
// "(:Manhole)-[n:PIPE]->(:Manhole)".
func WithPattern[T any, ID comparable](pattern string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.pattern = pattern }
}

// WithMerge replaces the MERGE clause used by Upsert. It must bind n and may
// use the $id and $props parameters.
func WithMerge[T any, ID comparable](clause string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.merge = clause }
}

// WithOrder sets the ORDER BY expression used by List and All.
func WithOrder[T any, ID comparable](expr string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.orderBy = expr }
}

// NewNeo4jRepo creates a new Neo4j-backed repository.
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	if r.pattern == "" {
		r.pattern = fmt.Sprintf("(n:%s)", label)
	}
	if r.merge == "" {
		r.merge = fmt.Sprintf("MERGE (n:%s {%s: $id})", label, r.idKey)
	}
	if r.orderBy == "" {
		r.orderBy = "n." + r.idKey
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH %s WHERE n.%s = $id RETURN n", r.pattern, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(result.Record())
}

var propName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	params := map[string]any{"offset": opts.Offset, "limit": limit}

	var where []string
	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !propName.MatchString(k) {
			return nil, fmt.Errorf("invalid filter property %q", k)
		}
		where = append(where, fmt.Sprintf("n.%s = $f_%s", k, k))
		params["f_"+k] = opts.Filter[k]
	}
	cypher := "MATCH " + r.pattern
	if len(where) > 0 {
		cypher += " WHERE " + strings.Join(where, " AND ")
	}
	cypher += fmt.Sprintf(" RETURN n ORDER BY %s SKIP $offset LIMIT $limit", r.orderBy)

	sess := r.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var items []T
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// All reads every entity in pages of DefaultPageSize.
func (r *Neo4jRepo[T, ID]) All(ctx context.Context) ([]T, error) {
	var out []T
	for {
		page, err := r.List(ctx, ListOpts{Offset: len(out), Limit: DefaultPageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < DefaultPageSize {
			return out, nil
		}
	}
}

// Upsert creates the entity or overwrites the properties it carries.
func (r *Neo4jRepo[T, ID]) Upsert(ctx context.Context, entity T) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	cypher := r.merge + " SET n += $props"
	_, err := sess.Run(ctx, cypher, map[string]any{"id": props[r.idKey], "props": props})
	return err
}

func (r *Neo4jRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	cypher := fmt.Sprintf("MATCH %s WHERE n.%s = $id SET n += $props RETURN n", r.pattern, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": props[r.idKey], "props": props})
	if err != nil {
		return zero, err
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("%s %v: %w", r.label, props[r.idKey], ErrNotFound)
	}
	return r.fromRecord(result.Record())
}

func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH %s WHERE n.%s = $id DELETE n", r.pattern, r.idKey)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	return err
}
