package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/knowara/ai-gateway/config"
	"github.com/knowara/ai-gateway/internal/auth"
	"github.com/knowara/ai-gateway/internal/catalog"
	"github.com/knowara/ai-gateway/internal/embedding"
	"github.com/knowara/ai-gateway/internal/gatewayapi"
	"github.com/knowara/ai-gateway/internal/inference"
	"github.com/knowara/ai-gateway/internal/jobs"
	"github.com/knowara/ai-gateway/internal/ledger"
	"github.com/knowara/ai-gateway/internal/orchestrator"
	"github.com/knowara/ai-gateway/internal/seeder"
	"github.com/knowara/ai-gateway/internal/telemetry"
	"github.com/knowara/ai-gateway/internal/tenant"
	"github.com/knowara/ai-gateway/internal/usage"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("ai-gateway", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init tenant budgets and usage audit
	tenants := tenant.NewPostgresStore(pool, tenant.Defaults(cfg.DefaultMonthlyLimitCents, cfg.BaseDailyLimitCents), cfg.BaseDailyLimitCents)
	audit := usage.NewPostgresStore(pool)

	// 7. Init budget limiter
	alert := func(a ledger.Alert) {
		log.Printf("budget alert: tenant=%s window=%s used=%d limit=%d", a.TenantID, a.Window, a.UsedCents, a.LimitCents)
	}
	limiter := ledger.NewLimiter(ledger.NewRedisStore(rdb), tenants, audit, alert, nil)

	// 8. Init model catalog and inference client
	cat := catalog.Default()
	client := inference.NewHTTPClient(cfg.InferenceBaseURL, cfg.InferenceAPIKey)

	// 9. Init orchestrator
	tracer := otel.GetTracerProvider().Tracer("ai-gateway")
	orch := orchestrator.New(cat, limiter, client, tracer, cfg.ResponseTokenBuffer)

	// 10. Init embedding store
	embProvider := embedding.NewHTTPProvider(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	embedder := embedding.NewEmbedder(embProvider, cfg.EmbeddingDimension)
	vectors := embedding.NewStore(cfg.EmbeddingDimension)

	// 11. Init job queue, dispatcher and worker
	queue := jobs.NewRedisQueue(rdb)
	dispatcher := jobs.NewDispatcher(queue)
	sink := jobs.NewPostgresSummarySink(pool)
	handlers := map[jobs.Type]jobs.Handler{
		jobs.TypeEmbedding:    jobs.NewEmbeddingHandler(embedder, vectors),
		jobs.TypeSummary:      jobs.NewSummaryHandler(orch, sink),
		jobs.TypeBatchSummary: jobs.NewBatchSummaryHandler(orch, sink),
	}
	worker := jobs.NewWorker(queue, handlers, cfg.WorkerConcurrency, cfg.WorkerPollInterval)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Run(workerCtx)

	// 12. Init handler
	handler := gatewayapi.NewHandler(orch, limiter, audit, dispatcher, embedder, vectors, tracer)

	// 13. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore, pool)
	}

	// 14. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ai-gateway"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/requests", handler.HandleProcess)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/budget", handler.HandleBudget)
		r.Post("/v1/jobs", handler.HandleEnqueueJob)
		r.Get("/v1/jobs/counts", handler.HandleJobCounts)
		r.Post("/v1/search", handler.HandleSearch)
	})

	// 15. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("AI Gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
