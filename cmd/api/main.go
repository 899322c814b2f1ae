package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/dioara/care-compliance-system-sub001/internal/application"
	appaudits "github.com/dioara/care-compliance-system-sub001/internal/application/audits"
	"github.com/dioara/care-compliance-system-sub001/internal/application/worker"
	"github.com/dioara/care-compliance-system-sub001/internal/config"
	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
	openaiClient "github.com/dioara/care-compliance-system-sub001/internal/infra/ai/openai"
	mysqlp "github.com/dioara/care-compliance-system-sub001/internal/infra/db/mysql"
	postgresp "github.com/dioara/care-compliance-system-sub001/internal/infra/db/postgres"
	"github.com/dioara/care-compliance-system-sub001/internal/infra/httpserver"
	"github.com/dioara/care-compliance-system-sub001/internal/infra/render"
	minioStore "github.com/dioara/care-compliance-system-sub001/internal/infra/storage"
	"github.com/dioara/care-compliance-system-sub001/internal/middleware"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect database (mysql or postgres)
	var db *sql.DB
	var repo domain.Repository
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		repo = postgresp.NewAuditRepository(db)
	default:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		repo = mysqlp.NewAuditRepository(db)
	}
	defer db.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init service
	svc := &appaudits.Service{
		Repo:      repo,
		Documents: store,
		Clock:     application.SystemClock{},
	}

	// init background worker
	wkr := &worker.Worker{
		Repo:            repo,
		Documents:       store,
		Scorer:          openaiClient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model),
		Renderer:        render.NewHTMLRenderer(),
		Clock:           application.SystemClock{},
		PollInterval:    time.Duration(cfg.Worker.PollSeconds) * time.Second,
		CleanupInterval: time.Duration(cfg.Worker.CleanupHours) * time.Hour,
	}
	workerCtx, stopWorker := context.WithCancel(ctx)
	go wkr.Run(workerCtx)

	// init router
	mux := chi.NewRouter()
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate))

	mux.Get("/health", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database":     &middleware.DatabaseHealthChecker{DB: db},
		"object_store": &middleware.ObjectStoreHealthChecker{Store: store},
	}))
	mux.Get("/metrics", middleware.MetricsHandler(wkr.Snapshot))
	mux.Mount("/", httpserver.NewRouter(svc))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	stopWorker()

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
