package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"melodex/cache"
	"melodex/config"
	"melodex/core/audio"
	"melodex/core/auth"
	"melodex/core/catalog"
	"melodex/core/fetch"
	"melodex/core/match"
	"melodex/core/pipeline"
	"melodex/core/quota"
	"melodex/db"
	"melodex/logger"
	"melodex/repository"
	"melodex/storage"
)

// Start wires the pipeline together and runs the HTTP server until a
// shutdown signal arrives.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/melodex.log",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	auth.Init(cfg.JWTSecret)

	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()
	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database schema", logger.ErrorField(err))
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect GORM", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
	}
	defer cache.CloseRedis()

	store, err := storage.NewStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize object storage", logger.ErrorField(err))
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		logger.Fatal("Failed to create temp directory", logger.ErrorField(err))
	}

	// resolution
	resolver := catalog.NewResolver(
		catalog.NewClient(cfg.CatalogAPIURL, cfg.CatalogAPIToken),
		cfg.CatalogRetries, cfg.CatalogBackoff)

	// source matching
	matcher := match.NewMatcher(
		match.NewSearchClient(cfg.SearchAPIURL, cfg.SearchMaxHits),
		match.Weights{
			Duration: cfg.MatchDurWeight,
			Title:    cfg.MatchTextWeight,
			MaxGap:   cfg.MatchMaxDurGap,
		})

	// fetch and transcode
	perSecond := 1.0
	if cfg.RequestSpacing > 0 {
		perSecond = 1.0 / cfg.RequestSpacing.Seconds()
	}
	limiter := fetch.NewLimiter(cfg.WorkerSlots, perSecond)
	proxies := fetch.NewProxyPool(cfg.ProxyFile, cfg.ProxyCooldown)
	defer proxies.Close()
	transcoder := audio.NewTranscoder(cfg.FFmpegPath)
	worker := fetch.NewWorker(limiter, proxies, transcoder, store, cfg)

	// quotas and records
	userRepo := repository.NewMySQLUserRepository(db.DB)
	deliveryRepo := repository.NewGormDeliveryRepository(db.GormDB)
	ledger := quota.NewLedger(userRepo, cache.NewQuotaCounter(), cfg.FreeDailyLimit)

	hub := NewProgressHub()
	coordinator := pipeline.NewCoordinator(
		resolver, matcher, worker,
		cache.NewArtifactCache(), ledger, deliveryRepo, hub.Notify,
		pipeline.Options{
			WaitTimeout:    cfg.WaitTimeout,
			ProduceTimeout: cfg.ProduceTimeout,
			BulkWorkers:    cfg.WorkerSlots,
		})

	apiHandler := NewAPIHandler(coordinator, ledger, userRepo, deliveryRepo, store, cfg)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	router.HandleFunc("/api/tracks/request", apiHandler.AuthMiddleware(apiHandler.RequestTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/collections/request", apiHandler.AuthMiddleware(apiHandler.RequestCollectionHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/status", apiHandler.AuthMiddleware(apiHandler.StatusHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/deliveries", apiHandler.AuthMiddleware(apiHandler.DeliveriesHandler)).Methods(http.MethodGet)

	router.HandleFunc("/api/admin/premium", apiHandler.AuthMiddleware(apiHandler.AdminMiddleware(apiHandler.GrantPremiumHandler))).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/premium", apiHandler.AuthMiddleware(apiHandler.AdminMiddleware(apiHandler.RevokePremiumHandler))).Methods(http.MethodDelete)

	router.HandleFunc("/ws/progress", apiHandler.ProgressHandler(hub)).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // bulk requests can take a while
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", logger.ErrorField(err))
	}
	logger.Info("Server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
