package main

import (
	"context"
	"errors"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/answer-engagement/internal/platform/analytics"
	"github.com/example/answer-engagement/internal/platform/auth"
	"github.com/example/answer-engagement/internal/platform/config"
	"github.com/example/answer-engagement/internal/platform/httpserver"
	"github.com/example/answer-engagement/internal/platform/logging"
	"github.com/example/answer-engagement/internal/platform/natsconn"
	"github.com/example/answer-engagement/internal/platform/run"
	"github.com/example/answer-engagement/services/engagement/internal/admission"
	"github.com/example/answer-engagement/services/engagement/internal/cache"
	"github.com/example/answer-engagement/services/engagement/internal/comments"
	engconfig "github.com/example/answer-engagement/services/engagement/internal/config"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/favorites"
	"github.com/example/answer-engagement/services/engagement/internal/grpcapi"
	"github.com/example/answer-engagement/services/engagement/internal/handlers"
	"github.com/example/answer-engagement/services/engagement/internal/metrics"
	"github.com/example/answer-engagement/services/engagement/internal/store"
	"github.com/example/answer-engagement/services/engagement/internal/userdata"
	"github.com/example/answer-engagement/services/engagement/internal/votes"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	engCfg, err := engconfig.Load()
	if err != nil {
		log.Error("load engagement config", zap.Error(err))
		run.Exit(1)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{
		DatabaseURL: engCfg.DatabaseURL,
		SQLitePath:  engCfg.SQLitePath,
		Production:  cfg.IsProduction(),
		Logger:      log,
	})
	if err != nil {
		log.Error("open store", zap.Error(err))
		run.Exit(1)
	}
	if engCfg.SeedDemo && !cfg.IsProduction() {
		seedDemo(ctx, st, log)
	}

	nc, js := connectNATS(engCfg, cfg.ServiceName, log)
	events := analytics.New(js, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	answers := cache.New[domain.Answer](engCfg.AnswerCacheTTL, nc, engCfg.CacheInvalidateSubject, log)

	janitorCtx, stopJanitors := context.WithCancel(ctx)
	guard, rdb := newGuard(janitorCtx, engCfg, log)

	h := handlers.New(handlers.Deps{
		Store:     st,
		Votes:     votes.NewService(st, votes.Options{Cache: answers, Events: events, Logger: log}),
		Favorites: favorites.NewService(st, events, log),
		Comments:  comments.NewService(st, answers, events, log),
		UserData:  userdata.NewService(st),
		Guard:     guard,
		Cache:     answers,
		Metrics:   m,
		Logger:    log,
	})

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(pctx)
		},
	})
	h.Register(r, handlers.RouteOptions{
		Verifier:    auth.JWTVerifier{Secret: engCfg.JWTSecret},
		RequireAuth: engCfg.RequireAuth,
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTPAddr, ServiceName: cfg.ServiceName, Logger: log, Router: r})
	grpcSrv := grpcapi.New(st, log)

	runner := run.New(log)
	code := runner.WithSignals(
		func(context.Context) error { return srv.Start() },
		func(ctx context.Context) error {
			go grpcSrv.WatchReadiness(ctx, 10*time.Second)
			return grpcSrv.Serve(ctx, engCfg.GRPCAddr)
		},
	)

	steps := []run.Step{
		{Name: "http", Fn: srv.Shutdown},
		run.Closer("grpc", grpcSrv.GRPC.GracefulStop),
		run.Closer("janitors", stopJanitors),
		run.Closer("answer cache", answers.Close),
	}
	if nc != nil {
		steps = append(steps, run.Step{Name: "nats", Fn: func(context.Context) error { return nc.Drain() }})
	}
	if rdb != nil {
		steps = append(steps, run.Step{Name: "redis", Fn: func(context.Context) error { return rdb.Close() }})
	}
	steps = append(steps, run.Step{Name: "store", Fn: func(context.Context) error { return st.Close() }})
	runner.Graceful(steps...)

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// connectNATS is best effort: without NATS the service runs with local-only
// cache invalidation and no analytics.
func connectNATS(cfg engconfig.Config, name string, log *zap.Logger) (*nats.Conn, analytics.Sink) {
	if cfg.NATSURL == "" {
		log.Info("NATS_URL not set, analytics and cache fan-out disabled")
		return nil, nil
	}
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: name, Logger: log})
	if err != nil {
		log.Warn("nats unavailable, analytics and cache fan-out disabled", zap.Error(err))
		return nil, nil
	}
	js, err := nc.JetStream()
	if err != nil {
		log.Warn("jetstream unavailable, analytics disabled", zap.Error(err))
		return nc, nil
	}
	if err := natsconn.EnsureStream(js, analytics.StreamName, []string{analytics.SubjectWildcard}, 30*24*time.Hour); err != nil {
		log.Warn("ensure analytics stream", zap.Error(err))
	}
	return nc, js
}

// newGuard uses Redis when configured so limits hold across instances.
// Otherwise it falls back to process-local state swept by janitors.
func newGuard(ctx context.Context, cfg engconfig.Config, log *zap.Logger) (*admission.Guard, *redis.Client) {
	if cfg.RedisURL != "" {
		rdb, err := admission.NewRedisClient(ctx, cfg.RedisURL)
		if err == nil {
			log.Info("admission backend selected", zap.String("backend", "redis"))
			return admission.NewGuard(
				admission.NewRedisLimiter(rdb, cfg.RateLimitRPS, cfg.RateLimitBurst),
				admission.NewRedisDeduper(rdb, cfg.DedupWindow),
				log,
			), rdb
		}
		log.Warn("redis unavailable, using in-memory admission", zap.Error(err))
	}

	bucket := admission.NewTokenBucket(cfg.RateLimitRPS, cfg.RateLimitBurst)
	dedup := admission.NewMemoryDeduper(cfg.DedupWindow)
	go bucket.RunJanitor(ctx, time.Minute)
	go dedup.RunJanitor(ctx, 10*time.Second)
	log.Info("admission backend selected", zap.String("backend", "memory"))
	return admission.NewGuard(bucket, dedup, log), nil
}

var demoAnswers = []string{
	"Restart the router, then check the DNS settings.",
	"Use a context with a deadline for every outbound call.",
	"Prefer composition over inheritance here.",
	"The index is missing; add one on (answer_id, voter_id).",
	"Cache the rendered view, not the raw rows.",
}

func seedDemo(ctx context.Context, s store.Seeder, log *zap.Logger) {
	for i, body := range demoAnswers {
		id := int64(i + 1)
		if _, err := s.SeedAnswer(ctx, domain.Answer{ID: id, Body: body, CreatedAt: time.Now().UTC()}); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			log.Warn("seed demo answer", zap.Int64("answer_id", id), zap.Error(err))
		}
	}
	log.Info("demo answers seeded", zap.Int("count", len(demoAnswers)))
}
