package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/nuance-network/nuance-validator/internal/api"
	"github.com/nuance-network/nuance-validator/internal/config"
	"github.com/nuance-network/nuance-validator/internal/ledger"
	"github.com/nuance-network/nuance-validator/internal/notifications"
	"github.com/nuance-network/nuance-validator/internal/oracle"
	"github.com/nuance-network/nuance-validator/internal/sources"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/nuance-network/nuance-validator/internal/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Infof("Starting Nuance validator on netuid %d", cfg.Netuid)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize the store
	db, err := storage.OpenDatabase(cfg.DatabaseURL, cfg.Debug)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	store, err := storage.NewGormStore(db)
	if err != nil {
		logrus.Fatalf("Failed to initialize store: %v", err)
	}

	// Weight snapshots go to Azure when configured
	var archive *storage.WeightArchive
	if cfg.StorageAccount != "" {
		blobs, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize weight archive: %v", err)
		}
		archive = storage.NewWeightArchive(blobs)
	}

	deps := validator.Dependencies{
		Store:  store,
		Ledger: ledger.NewClient(cfg.LedgerURL, cfg.Netuid, cfg.CallTimeout),
		Sources: sources.NewRegistry(
			sources.NewTwitterSource(cfg.TwitterAPIURL, cfg.TwitterAPIKey, cfg.AnnouncementPostID, cfg.CallTimeout),
		),
		Oracle:  oracle.NewCachingOracle(oracle.NewClient(cfg.OracleURL, cfg.OracleAPIKey, cfg.CallTimeout), cfg.OracleMemoSize, cfg.OracleMemoTTL),
		Prompts: oracle.NewPromptStore(cfg.ConstitutionURL, cfg.Topics, cfg.PromptRefresh),
		Archive: archive,
	}

	// Initialize notification services
	if notificationService := notifications.NewService(cfg); notificationService.Enabled() {
		deps.Notifier = notificationService
	}

	validatorService := validator.NewService(cfg, deps)
	if err := validatorService.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start validator: %v", err)
	}

	// Set up HTTP server for health checks and operations
	router := mux.NewRouter()

	router.HandleFunc("/health", healthCheckHandler(validatorService)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/trigger/{job}", triggerHandler(validatorService)).Methods("POST")

	api.NewServer(store, validatorService.Aggregator(), validatorService.ContentChecker(), api.Options{
		Netuid:        cfg.Netuid,
		Window:        cfg.ScoringWindow(),
		ChecksPerMin:  cfg.ContentChecksPerMinute,
		StatsCacheTTL: cfg.StatsCacheTTL,
		CheckTimeout:  cfg.CallTimeout,
		StatsTimeout:  cfg.CallTimeout,
	}).Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CallTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down validator...")

	// In-flight calls get their own timeout, so allow at least that long
	grace := 30 * time.Second
	if cfg.CallTimeout+5*time.Second > grace {
		grace = cfg.CallTimeout + 5*time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	if err := validatorService.Stop(shutdownCtx); err != nil {
		logrus.Errorf("Validator forced to shutdown: %v", err)
	}
	stop()

	logrus.Info("Validator exited")
}

func healthCheckHandler(v *validator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := v.Status()
		code := http.StatusOK
		health := "healthy"
		if !status.Running {
			code = http.StatusServiceUnavailable
			health = "stopped"
		}
		api.WriteJSON(w, code, map[string]any{
			"status":    health,
			"timestamp": time.Now().Format(time.RFC3339),
			"validator": status,
		})
	}
}

func triggerHandler(v *validator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := mux.Vars(r)["job"]
		if job != validator.JobDiscovery && job != validator.JobAggregation {
			api.WriteJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown job %q", job)})
			return
		}
		if err := v.Trigger(job); err != nil {
			api.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		api.WriteJSON(w, http.StatusAccepted, map[string]string{"message": fmt.Sprintf("%s triggered successfully", job)})
	}
}
