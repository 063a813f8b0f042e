package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/muroyamasusumu-Git/cscs-sync-api/db"
	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
	syncengine "github.com/muroyamasusumu-Git/cscs-sync-api/sync"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

type SyncHandlers struct {
	engine *syncengine.Engine
	db     *db.DB
}

func NewSyncHandlers(engine *syncengine.Engine, database *db.DB) *SyncHandlers {
	return &SyncHandlers{
		engine: engine,
		db:     database,
	}
}

// GetState returns the full authoritative snapshot for the caller's key.
func (sh *SyncHandlers) GetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userKey := userKeyFromRequest(r)
	snap, err := sh.engine.State(userKey)
	if err != nil {
		utils.LogError("Failed to load state for key %q: %v", userKey, err)
		http.Error(w, "Failed to load state", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Merge folds a client delta into the authoritative snapshot and returns
// the complete updated snapshot.
func (sh *SyncHandlers) Merge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var delta models.MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&delta); err != nil {
		utils.LogHTTP("Invalid JSON in merge request: %v", err)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	userKey := userKeyFromRequest(r)
	snap, err := sh.engine.Merge(userKey, &delta)
	if err != nil {
		var verr *syncengine.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		utils.LogError("Merge failed for key %q: %v", userKey, err)
		http.Error(w, "Merge failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// GetHistory returns archived day aggregates, newest first.
func (sh *SyncHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 30
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 365 {
			limit = n
		}
	}

	userKey := userKeyFromRequest(r)
	archives, err := sh.db.DayArchives(userKey, limit)
	if err != nil {
		utils.LogError("Failed to load day archives for key %q: %v", userKey, err)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if archives == nil {
		archives = []models.DayArchive{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  archives,
		"count": len(archives),
	})
}

func (sh *SyncHandlers) ResetQID(w http.ResponseWriter, r *http.Request) {
	sh.resetWithQID(w, r, sh.engine.ResetQID)
}

func (sh *SyncHandlers) ResetStreak3QID(w http.ResponseWriter, r *http.Request) {
	sh.resetWithQID(w, r, sh.engine.ResetStreak3QID)
}

func (sh *SyncHandlers) ResetStreak3Today(w http.ResponseWriter, r *http.Request) {
	sh.resetWhole(w, r, sh.engine.ResetStreak3Today)
}

func (sh *SyncHandlers) ResetOncePerDayToday(w http.ResponseWriter, r *http.Request) {
	sh.resetWhole(w, r, sh.engine.ResetOncePerDayToday)
}

func (sh *SyncHandlers) ResetAllQIDs(w http.ResponseWriter, r *http.Request) {
	sh.resetWhole(w, r, sh.engine.ResetAllQIDs)
}

func (sh *SyncHandlers) resetWithQID(w http.ResponseWriter, r *http.Request, reset func(string, string) (*models.Snapshot, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.QID == "" {
		http.Error(w, "qid is required", http.StatusBadRequest)
		return
	}

	userKey := userKeyFromRequest(r)
	snap, err := reset(userKey, req.QID)
	if err != nil {
		utils.LogError("Reset for qid %s (key %q) failed: %v", req.QID, userKey, err)
		http.Error(w, "Reset failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"cleared_qid": req.QID,
		"data":        snap,
	})
}

func (sh *SyncHandlers) resetWhole(w http.ResponseWriter, r *http.Request, reset func(string) (*models.Snapshot, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userKey := userKeyFromRequest(r)
	snap, err := reset(userKey)
	if err != nil {
		utils.LogError("Reset (key %q) failed: %v", userKey, err)
		http.Error(w, "Reset failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"data": snap,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("Failed to encode response: %v", err)
	}
}
