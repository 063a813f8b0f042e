package db

import (
	"database/sql"
	"fmt"

	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func InitDB(dbPath string) (*DB, error) {
	utils.LogStartup("Initializing database at: %s", dbPath)

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		utils.LogError("Failed to open database: %v", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		utils.LogError("Failed to ping database: %v", err)
		return nil, err
	}

	utils.LogStartup("Database connection established")

	if err := createTables(db); err != nil {
		utils.LogError("Failed to create tables: %v", err)
		return nil, err
	}

	utils.LogStartup("Database tables initialized successfully")
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// One authoritative snapshot per learner key, stored as JSON.
		// Mirrors the KV layout the merge engine works against.
		`CREATE TABLE IF NOT EXISTS sync_state (
			user_key TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,

		// Day-scoped aggregates archived when a merge rolls the day over.
		`CREATE TABLE IF NOT EXISTS day_aggregate_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_key TEXT NOT NULL,
			day INTEGER NOT NULL,
			aggregates TEXT NOT NULL,
			archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, query := range queries {
		utils.LogDB("Creating table %d/%d", i+1, len(queries))
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_day_aggregate_history_user_day ON day_aggregate_history(user_key, day)",
	}

	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			utils.LogDB("Failed to create index (non-fatal): %v", err)
		}
	}

	return nil
}
