package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/paulmach/orb"

	"github.com/WessleyAI/sewernet/engine/config"
	"github.com/WessleyAI/sewernet/engine/design"
	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/geo"
	"github.com/WessleyAI/sewernet/engine/graph"
	"github.com/WessleyAI/sewernet/engine/network"
	"github.com/WessleyAI/sewernet/engine/pgstore"
	"github.com/WessleyAI/sewernet/engine/run"
	"github.com/WessleyAI/sewernet/engine/topology"
	"github.com/WessleyAI/sewernet/engine/trace"
)

type common struct {
	net    string
	config string
	out    string
}

func newFlags(name string, withOut bool) (*flag.FlagSet, *common) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c := &common{}
	fs.StringVar(&c.net, "net", "", "network file (.yaml, .yml or .json)")
	fs.StringVar(&c.config, "config", "", "design parameter file (defaults when empty)")
	if withOut {
		fs.StringVar(&c.out, "out", "", "write the result here instead of over -net")
	}
	return fs, c
}

func parse(fs *flag.FlagSet, c *common, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.net == "" {
		return fmt.Errorf("%w: -net is required", errUsage)
	}
	return nil
}

func (c *common) load() (config.Config, *network.File, error) {
	cfg, err := config.Load(c.config)
	if err != nil {
		return cfg, nil, err
	}
	f, err := network.OpenFile(c.net)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, f, nil
}

func (c *common) target() string {
	if c.out != "" {
		return c.out
	}
	return c.net
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ignoreHelp(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func cmdSize(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	fs, c := newFlags("size", true)
	reorder := fs.Bool("auto-reorder", false, "sort out-of-order numbering instead of failing")
	progress := fs.Duration("progress", 0, "log progress at most this often (0 disables)")
	if err := parse(fs, c, args); err != nil {
		return ignoreHelp(err)
	}
	cfg, f, err := c.load()
	if err != nil {
		return err
	}
	opt := design.Options{
		Config:      cfg.Design,
		Demand:      cfg.Demand,
		AutoReorder: cfg.AutoReorder || *reorder,
		Logger:      log,
	}
	if *progress > 0 {
		opt.Reporter = run.Throttle(run.Func(func(stage string, pct float64) {
			log.Info("progress", "stage", stage, "pct", fmt.Sprintf("%.0f", pct))
		}), *progress)
	}

	var out design.Outcome
	if c.out == "" {
		out, err = network.Design(ctx, f, opt)
	} else {
		var net domain.Network
		if net, err = f.Load(ctx); err != nil {
			return err
		}
		out, err = design.Run(ctx, net, opt)
		if err == nil {
			err = network.WriteFile(c.out, out.Network)
		}
	}
	if perr := printJSON(stdout, out.Report); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func cmdVerify(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	fs, c := newFlags("verify", false)
	lengthTol := fs.Float64("length-tolerance", 0.05, "flag recorded lengths off by more than this fraction of the manhole distance")
	if err := parse(fs, c, args); err != nil {
		return ignoreHelp(err)
	}
	cfg, f, err := c.load()
	if err != nil {
		return err
	}
	net, err := f.Load(ctx)
	if err != nil {
		return err
	}
	problems := verify(net, cfg)

	if len(net.Manholes) > 0 {
		x := geo.NewIndex(net.Manholes, cfg.Trace.Geographic)
		b := x.Bound()
		log.Info("manholes located", "count", x.Len(), "min", b.Min, "max", b.Max)
		for _, m := range x.CheckLengths(net.Segments, *lengthTol) {
			log.Warn("recorded length disagrees with manhole positions",
				"segment", m.SegmentID, "recorded", m.Recorded, "measured", m.Measured)
		}
	}
	for _, p := range problems {
		fmt.Fprintln(stdout, p)
	}
	if len(problems) == 0 {
		fmt.Fprintf(stdout, "ok: %d segments\n", len(net.Segments))
		return nil
	}
	return fmt.Errorf("%d problems found", len(problems))
}

// verify runs every precondition of a design run and reports all failures.
func verify(net domain.Network, cfg config.Config) []error {
	var problems []error
	if err := topology.VerifyOrder(net.Segments, cfg.Design.Direction); err != nil {
		problems = append(problems, err)
	}
	x, err := topology.Build(net.Segments)
	if err != nil {
		problems = append(problems, err)
	} else {
		if err := x.ValidateOutlets(); err != nil {
			problems = append(problems, err)
		}
		if err := x.VerifyUpstreamOrder(); err != nil {
			problems = append(problems, err)
		}
		for _, it := range net.Interferences {
			if _, ok := x.Lookup(it.SegmentID); !ok {
				problems = append(problems, fmt.Errorf("%w: interference %s references %s", domain.ErrUnknownSegment, it.ID, it.SegmentID))
			}
		}
	}
	for _, s := range net.Segments {
		if err := domain.ValidateForSizing(s, cfg.Design); err != nil {
			problems = append(problems, err)
		}
	}
	return problems
}

func cmdReorder(ctx context.Context, args []string, stdout io.Writer, _ *slog.Logger) error {
	fs, c := newFlags("reorder", true)
	if err := parse(fs, c, args); err != nil {
		return ignoreHelp(err)
	}
	cfg, f, err := c.load()
	if err != nil {
		return err
	}
	net, err := f.Load(ctx)
	if err != nil {
		return err
	}
	sorted := topology.Reorder(net.Segments, cfg.Design.Direction)
	moved := 0
	for i := range sorted {
		if sorted[i].ID != net.Segments[i].ID {
			moved++
		}
	}
	net.Segments = sorted
	if err := network.WriteFile(c.target(), net); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d of %d segments moved\n", moved, len(sorted))
	return topology.VerifyOrder(sorted, cfg.Design.Direction)
}

type traceFlags struct {
	tolerance float64
	explore   bool
}

func addTraceFlags(fs *flag.FlagSet) *traceFlags {
	t := &traceFlags{}
	fs.Float64Var(&t.tolerance, "tolerance", 0, "join endpoints closer than this (0 uses the configured tolerance)")
	fs.BoolVar(&t.explore, "explore", false, "follow every branch at a bifurcation instead of stopping")
	return t
}

func (t *traceFlags) options(net domain.Network, cfg config.Config) trace.Options {
	tol := t.tolerance
	if tol <= 0 {
		tol = cfg.Trace.Tolerance
	}
	if len(net.Manholes) > 0 {
		return geo.NewIndex(net.Manholes, cfg.Trace.Geographic).TraceOptions(tol, !t.explore)
	}
	return trace.Options{Tolerance: tol, StopAtBifurcation: !t.explore}
}

func cmdTrace(ctx context.Context, args []string, stdout io.Writer, _ *slog.Logger) error {
	fs, c := newFlags("trace", false)
	tf := addTraceFlags(fs)
	start := fs.String("start", "", "segment id the run starts at")
	at := fs.String("at", "", "start at the segment leaving the manhole nearest x,y (needs manhole coordinates)")
	radius := fs.Float64("radius", 10, "how far from -at the manhole may be")
	if err := parse(fs, c, args); err != nil {
		return ignoreHelp(err)
	}
	if *start == "" && *at == "" {
		return fmt.Errorf("%w: -start or -at is required", errUsage)
	}
	cfg, f, err := c.load()
	if err != nil {
		return err
	}
	net, err := f.Load(ctx)
	if err != nil {
		return err
	}
	if *start == "" {
		if *start, err = segmentNear(net, cfg, *at, *radius); err != nil {
			return err
		}
	}
	res, err := trace.Trace(net.Segments, *start, tf.options(net, cfg))
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

// segmentNear resolves "x,y" to the live segment leaving the nearest manhole.
func segmentNear(net domain.Network, cfg config.Config, at string, radius float64) (string, error) {
	xs, ys, ok := strings.Cut(at, ",")
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if !ok || errX != nil || errY != nil {
		return "", fmt.Errorf("%w: -at wants x,y, got %q", errUsage, at)
	}
	idx := geo.NewIndex(net.Manholes, cfg.Trace.Geographic)
	node, found := idx.Nearest(orb.Point{x, y}, radius)
	if !found {
		return "", fmt.Errorf("no manhole within %g of %s", radius, at)
	}
	for _, s := range net.Segments {
		if s.UpstreamNode == node && !s.IsDryEnd {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("%w: no segment leaves manhole %s", domain.ErrUnknownSegment, node)
}

func cmdRenumber(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	fs, c := newFlags("renumber", true)
	tf := addTraceFlags(fs)
	starts := fs.String("starts", "", "comma-separated start segments, one run each, in run order")
	if err := parse(fs, c, args); err != nil {
		return ignoreHelp(err)
	}
	if *starts == "" {
		return fmt.Errorf("%w: -starts is required", errUsage)
	}
	cfg, f, err := c.load()
	if err != nil {
		return err
	}
	net, err := f.Load(ctx)
	if err != nil {
		return err
	}
	num, err := trace.Renumber(net.Segments, strings.Split(*starts, ","), tf.options(net, cfg))
	if err != nil {
		return err
	}
	for _, id := range num.Unreached {
		log.Warn("segment not reached by any run", "segment", id)
	}
	net.Segments = topology.Reorder(num.Segments, cfg.Design.Direction)
	if err := network.WriteFile(c.target(), net); err != nil {
		return err
	}
	return printJSON(stdout, struct {
		Runs         int                 `json:"runs"`
		Unreached    []string            `json:"unreached,omitempty"`
		Bifurcations []trace.Bifurcation `json:"bifurcations,omitempty"`
	}{countRuns(net.Segments), num.Unreached, num.Bifurcations})
}

func countRuns(segs []domain.PipeSegment) int {
	runs := map[int]bool{}
	for _, s := range segs {
		if s.RunNo > 0 {
			runs[s.RunNo] = true
		}
	}
	return len(runs)
}

func cmdImport(ctx context.Context, args []string, stdout io.Writer, log *slog.Logger) error {
	fs, c := newFlags("import", false)
	store := fs.String("store", "neo4j", "target store: neo4j or postgres")
	neo4jURL := fs.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
	neo4jUser := fs.String("neo4j-user", "neo4j", "Neo4j username")
	neo4jPass := fs.String("neo4j-pass", "", "Neo4j password")
	pgDSN := fs.String("pg", "postgres://localhost:5432/sewer", "PostgreSQL DSN")
	migrate := fs.Bool("migrate", true, "create postgres tables when missing")
	if err := parse(fs, c, args); err != nil {
		return ignoreHelp(err)
	}
	cfg, f, err := c.load()
	if err != nil {
		return err
	}
	net, err := f.Load(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	switch *store {
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j connect: %w", err)
		}
		defer driver.Close(ctx)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j verify: %w", err)
		}
		if err := graph.EnsureSchema(ctx, driver); err != nil {
			return err
		}
		err = graph.New(driver, cfg.Design.Direction, graph.WithLogger(log)).SaveNetwork(ctx, net)
		if err != nil {
			return err
		}
	case "postgres":
		st, pool, err := pgstore.Open(ctx, *pgDSN, cfg.Design.Direction, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if *migrate {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}
		if err := st.SaveNetwork(ctx, net); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown store %q", errUsage, *store)
	}
	fmt.Fprintf(stdout, "imported %d segments and %d interferences into %s\n", len(net.Segments), len(net.Interferences), *store)
	return nil
}
