package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/atlaspay/ledger/internal/config"
	"github.com/atlaspay/ledger/internal/database"
	"github.com/atlaspay/ledger/internal/handlers"
	"github.com/atlaspay/ledger/internal/messaging"
	"github.com/atlaspay/ledger/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("mongo.uri", "MONGO_URI")
	viper.BindEnv("mongo.database", "MONGO_DB")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Stores
	db := database.InitDatabase()
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate ledger schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// The read model is optional at startup; services fall back to defaults
	// when it is absent.
	var (
		activeCounter services.ActiveAccountCounter
		readModel     services.AccountReadModel
		balanceSummer services.BalanceSummer
	)
	if mongoDB := database.InitMongo(); mongoDB != nil {
		store := database.NewAccountStore(mongoDB)
		activeCounter, readModel, balanceSummer = store, store, store
	}

	// Messaging
	amqpConfig := config.LoadAMQPConfig()

	var publisher services.LedgerWrittenPublisher
	amqpPublisher, err := messaging.NewPublisher(amqpConfig)
	if err != nil {
		log.Printf("Ledger-written publisher unavailable, continuing without it: %v", err)
	} else {
		publisher = amqpPublisher
		defer amqpPublisher.Close()
	}

	// Services
	metricsService := services.NewMetricsService(db, redisClient, activeCounter)
	readModelService := services.NewReadModelSyncService(readModel, redisClient)
	ledgerService := services.NewLedgerService(db, publisher, metricsService, readModelService)
	reconService := services.NewReconciliationService(db, balanceSummer, redisClient)
	reportsHandler := handlers.NewReportsHandler(db, redisClient, reconService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Publish a snapshot before consuming so dashboards have data immediately.
	if err := metricsService.PublishStartup(ctx); err != nil {
		log.Printf("Startup metrics snapshot failed: %v", err)
	}

	consumer, err := messaging.NewConsumer(amqpConfig, ledgerService)
	if err != nil {
		log.Fatalf("Failed to initialize payments consumer: %v", err)
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Fatalf("Payments consumer stopped: %v", err)
		}
	}()

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reconciliation/run", reportsHandler.RunReconciliation)
		r.Get("/reports/reconciliation.json", reportsHandler.ReconciliationJSON)
		r.Get("/reports/reconciliation.csv", reportsHandler.ReconciliationCSV)
		r.Get("/reports/transactions.csv", reportsHandler.TransactionsCSV)
		r.Get("/reports/monthly.csv", reportsHandler.MonthlyCSV)
		r.Get("/reports/complaints.csv", reportsHandler.ComplaintsCSV)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
