// Package engine wires every component (C1-C7 plus the external interface
// clients) into one process lifecycle. It replaces cmd/factory/main.go's
// inline construction of an *Orchestrator with a single Engine type that
// cmd/enginectl's "serve" subcommand constructs and runs, mirroring
// infrastructure/service/runner.go's shared-dependencies-then-Start pattern
// from the broader retrieved corpus (the teacher itself has no multi-process
// supervisor to generalize from — orchestrator.go's Run is a single ticker
// loop in one goroutine).
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forgelabs/engine/internal/audit"
	"github.com/forgelabs/engine/internal/cascade"
	"github.com/forgelabs/engine/internal/config"
	"github.com/forgelabs/engine/internal/dispatcher"
	"github.com/forgelabs/engine/internal/eventbus"
	"github.com/forgelabs/engine/internal/executor"
	"github.com/forgelabs/engine/internal/generator"
	"github.com/forgelabs/engine/internal/gitops"
	"github.com/forgelabs/engine/internal/heartbeat"
	"github.com/forgelabs/engine/internal/metrics"
	"github.com/forgelabs/engine/internal/rag"
	"github.com/forgelabs/engine/internal/ratelimit"
	"github.com/forgelabs/engine/internal/sentinel"
	"github.com/forgelabs/engine/internal/store/postgres"
	"github.com/forgelabs/engine/internal/ticket"
	"github.com/forgelabs/engine/internal/vcs"
	"github.com/forgelabs/engine/internal/verify"
)

// Engine owns every long-running component and the one HTTP listener that
// serves /metrics and the event bus's /events WebSocket endpoint.
type Engine struct {
	cfg   config.Config
	log   *zap.Logger
	store *postgres.Store
	redis *redis.Client

	bus        *eventbus.Broadcaster
	dispatcher *dispatcher.Runner
	heartbeat  *heartbeat.Runner
	sentinel   *sentinel.Runner

	httpServer *http.Server
}

// New constructs every component from cfg but starts nothing; call Start to
// begin processing.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Engine, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("engine: connect to database: %w", err)
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: parse redis_url: %w", err)
	}
	rdb := redis.NewClient(redisOpt)
	limiter := ratelimit.New(rdb, time.Minute)

	bus := eventbus.New(log)
	inFlight := heartbeat.NewInFlightTracker()

	vcsToken, err := readToken(cfg.VCSTokenPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: read vcs_token_path: %w", err)
	}
	host := vcs.NewGitHubHost(vcsToken)

	rateLimited := &rateLimitedGenerator{
		Generator: generator.NewHTTPGenerator("default", cfg.GeneratorEndpoint, cfg.GeneratorAPIKey),
		limiter:   limiter,
		key:       "generator",
		max:       cfg.GeneratorRateLimitPerMinute,
	}
	gen := audit.NewAuditingGenerator(rateLimited, store, log)
	verifier := audit.NewAuditingVerifier(verify.NewHTTPVerifier(cfg.VerifierEndpoint, cfg.VerifierAPIKey), store, log)
	worktrees := gitops.New(cfg.RepoRoot, "worktrees", cfg.DefaultBaseBranch)

	verifyParams := verify.Params{
		MaxRetries:     cfg.VerifyMaxRetries,
		BaseDelay:      cfg.VerifyBaseDelay,
		Cap:            cfg.VerifyDelayCap,
		Multiplier:     cfg.VerifyBackoffMultiplier,
		JitterFraction: cfg.VerifyJitterFraction,
	}
	retriever := rag.NewRetriever(postgres.NewRAGStore(store), cfg.RAGMaxChunks)
	exec := executor.New(store, worktrees, gen, verifier, host, bus, log, m, verifyParams, cfg.DefaultBaseBranch, retriever)

	disp := dispatcher.New(store, log, m, exec, inFlight, ticket.RoleForgeAgent, cfg.MaxConcurrent)

	cascadeRunner := cascade.New(store, log, m)
	hb := heartbeat.New(store, log, m, inFlight, cfg.HeartbeatInterval, cfg.ReaperInterval, cfg.StaleThreshold,
		heartbeat.WithCascadeHook(func(ctx context.Context, ticketID string, reclaimedTo ticket.State) {
			tk, err := store.GetTicket(ctx, ticketID)
			if err != nil {
				log.Warn("engine: reap cascade hook could not load ticket", zap.String("ticket_id", ticketID), zap.Error(err))
				return
			}
			if _, err := cascadeRunner.OnTicketDone(ctx, tk.DesignSession, ticketID, reclaimedTo); err != nil {
				log.Warn("engine: reap cascade pass failed", zap.String("ticket_id", ticketID), zap.Error(err))
			}
		}),
	)

	sent := sentinel.New(store, verifier, host, bus, cascadeRunner, log, m, ticket.RoleSentinelAgent, "sentinel-worker", cfg.SentinelBatchLimit)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Mount("/", bus.Router())

	return &Engine{
		cfg: cfg, log: log, store: store, redis: rdb,
		bus: bus, dispatcher: disp, heartbeat: hb, sentinel: sent,
		httpServer: &http.Server{Addr: cfg.HTTPAddr, Handler: mux},
	}, nil
}

// Start brings up every component and blocks until ctx is cancelled or a
// component fails fatally.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.dispatcher.Start(ctx, e.cfg.PollInterval.String()); err != nil {
		return fmt.Errorf("engine: start dispatcher: %w", err)
	}
	if err := e.heartbeat.Start(ctx); err != nil {
		return fmt.Errorf("engine: start heartbeat: %w", err)
	}
	if err := e.sentinel.Start(ctx, e.cfg.PollInterval.String()); err != nil {
		return fmt.Errorf("engine: start sentinel: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.log.Info("engine: http listener starting", zap.String("addr", e.cfg.HTTPAddr))
		if err := e.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("engine: http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Stop tears down every component in the same order Start brought them up.
func (e *Engine) Stop(ctx context.Context) {
	e.dispatcher.Stop(ctx)
	e.heartbeat.Stop(ctx)
	e.sentinel.Stop(ctx)
	if err := e.redis.Close(); err != nil {
		e.log.Warn("engine: redis close failed", zap.Error(err))
	}
	if err := e.store.Close(); err != nil {
		e.log.Warn("engine: database close failed", zap.Error(err))
	}
}

// rateLimitedGenerator wraps a Generator with a fleet-wide rate budget so
// many Engine replicas sharing one generation service stay under its quota
// (SPEC_FULL.md §11); Name/Available/GetUsage pass straight through via the
// embedded interface.
type rateLimitedGenerator struct {
	generator.Generator
	limiter *ratelimit.Limiter
	key     string
	max     int
}

func (g *rateLimitedGenerator) Generate(ctx context.Context, req generator.Request) (generator.Response, error) {
	if err := g.limiter.Wait(ctx, g.key, g.max, 250*time.Millisecond); err != nil {
		return generator.Response{}, fmt.Errorf("engine: generator rate limit: %w", err)
	}
	return g.Generator.Generate(ctx, req)
}

// readToken loads a VCS access token from a file (mounted secret, not an
// environment variable) and trims the trailing newline editors/echo add.
func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
