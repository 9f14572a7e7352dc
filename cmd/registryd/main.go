// Command registryd runs the provenance-registry gatekeeper node: the rate
// gate, reputation ledger, anomaly log, and human-effort digest engine
// behind an HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/anomaly"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/config"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/effort"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/handlers"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/middleware"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/monitoring"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/pipeline"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/prover"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/storage"
	"github.com/gdnshnk/pohw-registry-node-sub003/pb"
)

// gatekeeperStore is the union of the three narrow capability interfaces
// the components need; every storage backend satisfies it.
type gatekeeperStore interface {
	reputation.Store
	ratelimit.Store
	anomaly.Store
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	// Local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	ctx := context.Background()
	store, cleanup, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Storage.Backend, err)
	}
	defer cleanup()
	slog.Info("Durable store ready", "backend", cfg.Storage.Backend)

	var zk effort.Prover
	if cfg.Prover.Mode == "mock" {
		zk = prover.NewClient(&pb.MockProverClient{}, cfg.Prover.Timeout())
		slog.Info("Prover: in-process mock")
	} else {
		slog.Info("Prover: off, digests degrade to commitment-only")
	}

	metrics := monitoring.NewMetrics()
	anomalies := anomaly.NewLog(store)
	feed := handlers.NewAnomalyFeed()
	anomalies.SetNotify(feed.Broadcast)

	ledger := reputation.NewLedger(cfg.Reputation, store, anomalies)
	tracker := ratelimit.NewTracker(cfg.RateLimit, store, anomalies, ledger)
	generator := effort.NewGenerator(cfg.Effort.Thresholds(), zk, cfg.Prover.Timeout())
	verifier := effort.NewVerifier(zk, cfg.Prover.Timeout())
	gatekeeper := pipeline.New(tracker, ledger, anomalies, generator, verifier, metrics)

	router := mux.NewRouter()
	router.Use(middleware.Recover, middleware.RequestLogger)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": "pohw-registryd",
			"storage": cfg.Storage.Backend,
		})
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/ws/anomalies", feed.HandleWS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.ContentType("application/json"))
	api.HandleFunc("/submissions", handlers.HandleSubmit(gatekeeper)).Methods("POST")
	api.HandleFunc("/identities/{id}/reputation", handlers.HandleReputation(gatekeeper)).Methods("GET")
	api.HandleFunc("/identities/{id}/anomalies", handlers.HandleAnomalyLog(gatekeeper)).Methods("GET")
	api.HandleFunc("/identities/{id}/events", handlers.HandleReportEvent(gatekeeper)).Methods("POST")
	api.HandleFunc("/digests/verify", handlers.HandleVerifyDigest(gatekeeper)).Methods("POST")

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Gatekeeper node listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}

// openStore builds the configured durable store. The returned cleanup is
// always safe to call.
func openStore(ctx context.Context, cfg config.StorageConfig) (gatekeeperStore, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		return storage.NewMemory(), func() {}, nil
	case "postgres":
		pg, err := storage.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, func() {}, err
		}
		return pg, func() { pg.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, func() {}, err
		}
		return storage.NewRedis(client, cfg.RedisKeyPrefix), func() { client.Close() }, nil
	default:
		return nil, func() {}, &unknownBackendError{cfg.Backend}
	}
}

type unknownBackendError struct{ backend string }

func (e *unknownBackendError) Error() string {
	return "unknown storage backend: " + e.backend
}
