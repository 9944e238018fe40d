// Package main implements the sewer design service: an HTTP API and a NATS
// job subscriber that size networks inline or in the configured feature store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/sewernet/engine/config"
	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/graph"
	"github.com/WessleyAI/sewernet/engine/job"
	"github.com/WessleyAI/sewernet/engine/network"
	"github.com/WessleyAI/sewernet/engine/pgstore"
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	Store         string
	NetworkFile   string
	Neo4jURL      string
	Neo4jUser     string
	Neo4jPass     string
	PGDSN         string
	NATSURL       string
	DesignConfig  string
	ProgressEvery time.Duration
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8080"),
		Store:         envOr("STORE", "none"),
		NetworkFile:   envOr("NETWORK_FILE", "network.yaml"),
		Neo4jURL:      envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:     envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:     envOr("NEO4J_PASS", "password"),
		PGDSN:         envOr("PG_DSN", "postgres://localhost:5432/sewer"),
		NATSURL:       os.Getenv("NATS_URL"),
		DesignConfig:  os.Getenv("DESIGN_CONFIG"),
		ProgressEvery: durationOr("PROGRESS_INTERVAL", 500*time.Millisecond),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := serve(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func serve(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params, err := config.Load(cfg.DesignConfig)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, params.Design.Direction, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := newService(store, params, logger)
	svc.progressEvery = cfg.ProgressEvery

	// --- Connect to NATS (optional) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("sewerd"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		svc.nc = nc
		if err := svc.subscribe(nc); err != nil {
			return err
		}
		logger.Info("serving design jobs", "subject", job.SubjectRun, "queue", job.QueueGroup)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      svc.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("sewerd starting", "port", cfg.Port, "store", cfg.Store)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	if nc != nil {
		g.Go(func() error {
			<-gctx.Done()
			return nc.Drain()
		})
	}
	return g.Wait()
}

// openStore connects the feature store named by cfg.Store. "none" serves
// inline networks only.
func openStore(ctx context.Context, cfg Config, dir domain.Direction, logger *slog.Logger) (network.Store, func(), error) {
	nop := func() {}
	switch cfg.Store {
	case "none":
		return nil, nop, nil
	case "memory":
		return network.NewMemory(domain.Network{}), nop, nil
	case "file":
		f, err := network.OpenFile(cfg.NetworkFile)
		if err != nil {
			return nil, nop, err
		}
		return f, nop, nil
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, nop, fmt.Errorf("neo4j driver: %w", err)
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			driver.Close(ctx)
			return nil, nop, fmt.Errorf("neo4j verify: %w", err)
		}
		if err := graph.EnsureSchema(ctx, driver); err != nil {
			driver.Close(ctx)
			return nil, nop, err
		}
		return graph.New(driver, dir, graph.WithLogger(logger)), func() { driver.Close(context.Background()) }, nil
	case "postgres":
		st, pool, err := pgstore.Open(ctx, cfg.PGDSN, dir, logger)
		if err != nil {
			return nil, nop, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nop, err
		}
		return st, pool.Close, nil
	default:
		return nil, nop, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
}
