package client

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
	_ "github.com/mattn/go-sqlite3"
)

// Counter field names as they appear on the wire. The local store keys
// its rows by these, so cache rows line up with snapshot fields 1:1.
const (
	FieldCorrect        = "correct"
	FieldIncorrect      = "incorrect"
	FieldStreak3        = "streak3"
	FieldStreakLen      = "streakLen"
	FieldStreak3Wrong   = "streak3Wrong"
	FieldStreakWrongLen = "streakWrongLen"
	FieldLastSeenDay    = "lastSeenDay"
	FieldLastCorrectDay = "lastCorrectDay"
	FieldLastWrongDay   = "lastWrongDay"
)

// CounterFields lists every per-qid numeric field, in wire order.
var CounterFields = []string{
	FieldCorrect, FieldIncorrect,
	FieldStreak3, FieldStreakLen,
	FieldStreak3Wrong, FieldStreakWrongLen,
	FieldLastSeenDay, FieldLastCorrectDay, FieldLastWrongDay,
}

// Meta keys for the non-counter parts of the snapshot.
const (
	MetaStreak3Today      = "streak3Today"
	MetaStreak3WrongToday = "streak3WrongToday"
	MetaOncePerDayToday   = "oncePerDayToday"
	MetaGlobal            = "global"
	MetaFav               = "fav"
	MetaOdoaMode          = "odoa_mode"
	MetaExamDate          = "exam_date"
)

// LocalStore is the per-device persistent cache of the learner's latest
// known counters and day aggregates. It is written by the answer recorder
// and by the sync client after a validated pull or merge response.
type LocalStore struct {
	db *sql.DB
}

func OpenLocalStore(path string) (*LocalStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping local store: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS local_counters (
			field TEXT NOT NULL,
			qid TEXT NOT NULL,
			value INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (field, qid)
		)`,
		`CREATE TABLE IF NOT EXISTS local_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("create local store tables: %w", err)
		}
	}

	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Counter returns the cached value for one field/qid; absent means 0.
func (s *LocalStore) Counter(field, qid string) (int, error) {
	var v int
	err := s.db.QueryRow(
		`SELECT value FROM local_counters WHERE field = ? AND qid = ?`, field, qid,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Counters returns all cached values for one field.
func (s *LocalStore) Counters(field string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT qid, value FROM local_counters WHERE field = ?`, field)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var qid string
		var v int
		if err := rows.Scan(&qid, &v); err != nil {
			return nil, err
		}
		out[qid] = v
	}
	return out, rows.Err()
}

// SetCounter writes a single value; used by the answer recorder.
func (s *LocalStore) SetCounter(field, qid string, value int) error {
	_, err := s.db.Exec(`
        INSERT INTO local_counters (field, qid, value) VALUES (?, ?, ?)
        ON CONFLICT(field, qid) DO UPDATE SET value = excluded.value
    `, field, qid, value)
	return err
}

// ReplaceCounters overwrites the whole cached field with a validated
// server snapshot. The replacement is transactional so a crash mid-apply
// never leaves a field half old, half new.
func (s *LocalStore) ReplaceCounters(field string, values map[string]int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM local_counters WHERE field = ?`, field); err != nil {
		return err
	}
	for qid, v := range values {
		if _, err := tx.Exec(
			`INSERT INTO local_counters (field, qid, value) VALUES (?, ?, ?)`, field, qid, v,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetMeta stores a JSON-encoded non-counter snapshot part.
func (s *LocalStore) SetMeta(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal meta %q: %w", key, err)
	}
	_, err = s.db.Exec(`
        INSERT INTO local_meta (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `, key, string(raw))
	return err
}

// Meta loads a JSON-encoded meta entry into out. Returns false when the
// key has never been stored.
func (s *LocalStore) Meta(key string, out interface{}) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM local_meta WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		utils.LogError("Local meta %q is unreadable: %v", key, err)
		return false, err
	}
	return true, nil
}
