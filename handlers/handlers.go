package handlers

import (
	"net/http"

	"github.com/muroyamasusumu-Git/cscs-sync-api/db"
	syncengine "github.com/muroyamasusumu-Git/cscs-sync-api/sync"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

// API wrapper to hold all handlers
type API struct {
	syncHandlers *SyncHandlers
}

// Config carries the knobs the router needs beyond its collaborators.
type Config struct {
	// AdminTokenHash, when non-empty, is a bcrypt hash that reset
	// endpoints require a matching bearer token for.
	AdminTokenHash string
}

func NewAPI(engine *syncengine.Engine, database *db.DB) *API {
	return &API{
		syncHandlers: NewSyncHandlers(engine, database),
	}
}

func NewRouter(engine *syncengine.Engine, database *db.DB, cfg Config) http.Handler {
	api := NewAPI(engine, database)

	mux := http.NewServeMux()

	// Health check (no auth required)
	mux.HandleFunc("/health", healthCheck)

	// Sync protocol
	mux.HandleFunc("/state", loggingMiddleware(api.syncHandlers.GetState))
	mux.HandleFunc("/merge", loggingMiddleware(api.syncHandlers.Merge))
	mux.HandleFunc("/history", loggingMiddleware(api.syncHandlers.GetHistory))

	// Administrative resets, optionally guarded by the admin token
	admin := adminMiddleware(cfg.AdminTokenHash)
	mux.HandleFunc("/reset_qid", loggingMiddleware(admin(api.syncHandlers.ResetQID)))
	mux.HandleFunc("/reset_streak3_qid", loggingMiddleware(admin(api.syncHandlers.ResetStreak3QID)))
	mux.HandleFunc("/reset_streak3_today", loggingMiddleware(admin(api.syncHandlers.ResetStreak3Today)))
	mux.HandleFunc("/reset_once_per_day_today", loggingMiddleware(admin(api.syncHandlers.ResetOncePerDayToday)))
	mux.HandleFunc("/reset_all_qid", loggingMiddleware(admin(api.syncHandlers.ResetAllQIDs)))

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Sync-User")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	utils.LogHTTP("Health check requested")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}
