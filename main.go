package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/muroyamasusumu-Git/cscs-sync-api/db"
	"github.com/muroyamasusumu-Git/cscs-sync-api/handlers"
	"github.com/muroyamasusumu-Git/cscs-sync-api/jobs"
	syncengine "github.com/muroyamasusumu-Git/cscs-sync-api/sync"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

func main() {
	// Set up logging with timestamps
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	utils.LogStartup("CSCS sync API starting...")

	if err := godotenv.Load(); err != nil {
		utils.LogInfo("No .env file found, using environment variables")
	}

	port := utils.GetEnvOrDefault("PORT", "8044")
	dbPath := utils.GetEnvOrDefault("DB_PATH", "./cscs_sync.db")
	redisURL := os.Getenv("REDIS_URL")
	adminTokenHash := os.Getenv("ADMIN_TOKEN_HASH")

	utils.LogInfo("Using port: %s", port)
	utils.LogInfo("Using database path: %s", dbPath)

	// Initialize database
	utils.LogStartup("Initializing database connection...")
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize database: %v", err)
	}

	engine := syncengine.NewEngine(database)

	// The archival worker is optional; without Redis, rolled-over day
	// aggregates are dropped and merges still work.
	var jobManager *jobs.JobManager
	if redisURL != "" {
		utils.LogStartup("Initializing job queue (redis=%s)...", redisURL)
		jobManager = jobs.NewJobManager(redisURL)
		jobManager.RegisterHandlers(database)
		engine.SetArchiver(jobManager)

		go func() {
			if err := jobManager.Start(); err != nil {
				log.Fatalf("[FATAL] Job queue worker failed: %v", err)
			}
		}()
	} else {
		utils.LogInfo("REDIS_URL not set, day-aggregate archival disabled")
	}

	// Set up graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		utils.LogShutdown("Received shutdown signal...")
		if jobManager != nil {
			jobManager.Stop()
		}
		if err := database.Close(); err != nil {
			utils.LogError("Error closing database: %v", err)
		} else {
			utils.LogShutdown("Database connection closed successfully")
		}
		os.Exit(0)
	}()

	// Setup API routes
	utils.LogStartup("Setting up API routes...")
	router := handlers.NewRouter(engine, database, handlers.Config{
		AdminTokenHash: adminTokenHash,
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	utils.LogStartup("Starting HTTP server on port %s...", port)
	utils.LogStartup("Server ready to accept connections at http://localhost:%s", port)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[FATAL] Server failed to start: %v", err)
	}
}
