package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

// LoadSnapshot returns the stored snapshot for a learner key, or a fresh
// empty snapshot if the key has never been written.
func (db *DB) LoadSnapshot(userKey string) (*models.Snapshot, error) {
	var raw string
	err := db.QueryRow(`SELECT state FROM sync_state WHERE user_key = ?`, userKey).Scan(&raw)
	if err == sql.ErrNoRows {
		utils.LogDB("No snapshot for key %q, starting empty", userKey)
		return models.NewSnapshot(), nil
	}
	if err != nil {
		utils.LogError("LoadSnapshot(%q) failed: %v", userKey, err)
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		// A corrupt row must not brick the learner; keep the row for
		// forensics but hand the engine a clean slate.
		utils.LogError("Snapshot for key %q is not valid JSON (%v), starting empty", userKey, err)
		return models.NewSnapshot(), nil
	}
	snap.Normalize()
	return &snap, nil
}

// SaveSnapshot upserts the snapshot row for a learner key.
func (db *DB) SaveSnapshot(userKey string, snap *models.Snapshot) error {
	start := time.Now()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = db.Exec(`
        INSERT INTO sync_state (user_key, state, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(user_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
    `, userKey, string(raw), snap.UpdatedAt)
	if err != nil {
		utils.LogError("SaveSnapshot(%q) failed: %v (%v)", userKey, err, time.Since(start))
		return err
	}

	utils.LogDB("Snapshot saved for key %q in %v", userKey, time.Since(start))
	return nil
}

// InsertDayArchive stores a rolled-over day's aggregates.
func (db *DB) InsertDayArchive(archive models.DayArchive) error {
	raw, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("failed to marshal day archive: %w", err)
	}

	_, err = db.Exec(`
        INSERT INTO day_aggregate_history (user_key, day, aggregates) VALUES (?, ?, ?)
    `, archive.UserKey, archive.Day, string(raw))
	if err != nil {
		utils.LogError("InsertDayArchive(%q, %d) failed: %v", archive.UserKey, archive.Day, err)
		return err
	}

	utils.LogDB("Archived day %d aggregates for key %q", archive.Day, archive.UserKey)
	return nil
}

// DayArchives returns the archived aggregates for a learner key, most
// recent day first.
func (db *DB) DayArchives(userKey string, limit int) ([]models.DayArchive, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := db.Query(`
        SELECT aggregates FROM day_aggregate_history
        WHERE user_key = ? ORDER BY day DESC, id DESC LIMIT ?
    `, userKey, limit)
	if err != nil {
		utils.LogError("DayArchives(%q) failed: %v", userKey, err)
		return nil, err
	}
	defer rows.Close()

	var archives []models.DayArchive
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.DayArchive
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			utils.LogError("Skipping unreadable day archive for key %q: %v", userKey, err)
			continue
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}
