package sync

import (
	"fmt"
	"time"

	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

// Administrative resets. Destructive, idempotent and unconditional: no
// merge logic applies, the named keys are simply removed. Each returns
// the resulting snapshot so callers can resynchronize in one trip.

func (e *Engine) ResetQID(userKey, qid string) (*models.Snapshot, error) {
	if qid == "" {
		return nil, invalid("qid", "must not be empty")
	}
	return e.mutate(userKey, func(snap *models.Snapshot) {
		utils.LogMerge("Resetting all counters for qid %s (key %q)", qid, userKey)
		delete(snap.Correct, qid)
		delete(snap.Incorrect, qid)
		delete(snap.Streak3, qid)
		delete(snap.StreakLen, qid)
		delete(snap.Streak3Wrong, qid)
		delete(snap.StreakWrongLen, qid)
		delete(snap.LastSeenDay, qid)
		delete(snap.LastCorrectDay, qid)
		delete(snap.LastWrongDay, qid)
		delete(snap.ConsistencyStatus, qid)
		delete(snap.Fav, qid)
	})
}

// ResetStreak3QID clears only the correct-streak achievement state for
// one qid (the "star" data): lifetime streak3 count and current run length.
func (e *Engine) ResetStreak3QID(userKey, qid string) (*models.Snapshot, error) {
	if qid == "" {
		return nil, invalid("qid", "must not be empty")
	}
	return e.mutate(userKey, func(snap *models.Snapshot) {
		utils.LogMerge("Resetting streak3 state for qid %s (key %q)", qid, userKey)
		delete(snap.Streak3, qid)
		delete(snap.StreakLen, qid)
	})
}

func (e *Engine) ResetStreak3Today(userKey string) (*models.Snapshot, error) {
	return e.mutate(userKey, func(snap *models.Snapshot) {
		utils.LogMerge("Resetting streak3Today aggregate (key %q)", userKey)
		snap.Streak3Today = models.DayUnique{Qids: []string{}}
	})
}

func (e *Engine) ResetOncePerDayToday(userKey string) (*models.Snapshot, error) {
	return e.mutate(userKey, func(snap *models.Snapshot) {
		utils.LogMerge("Resetting oncePerDayToday gate (key %q)", userKey)
		snap.OncePerDayToday = models.OncePerDay{Results: make(map[string]string)}
	})
}

// ResetAllQIDs zeroes every per-qid field and clears the day aggregates.
// Global aggregates, odoa_mode and exam_date survive.
func (e *Engine) ResetAllQIDs(userKey string) (*models.Snapshot, error) {
	return e.mutate(userKey, func(snap *models.Snapshot) {
		utils.LogMerge("Resetting all per-qid state (key %q)", userKey)
		snap.Correct = make(map[string]int)
		snap.Incorrect = make(map[string]int)
		snap.Streak3 = make(map[string]int)
		snap.StreakLen = make(map[string]int)
		snap.Streak3Wrong = make(map[string]int)
		snap.StreakWrongLen = make(map[string]int)
		snap.LastSeenDay = make(map[string]int)
		snap.LastCorrectDay = make(map[string]int)
		snap.LastWrongDay = make(map[string]int)
		snap.ConsistencyStatus = nil
		snap.Fav = make(map[string]string)
		snap.Streak3Today = models.DayUnique{Qids: []string{}}
		snap.Streak3WrongToday = models.DayUnique{Qids: []string{}}
		snap.OncePerDayToday = models.OncePerDay{Results: make(map[string]string)}
		snap.Normalize()
	})
}

func (e *Engine) mutate(userKey string, fn func(*models.Snapshot)) (*models.Snapshot, error) {
	l := e.keyLock(userKey)
	l.Lock()
	defer l.Unlock()

	snap, err := e.store.LoadSnapshot(userKey)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	fn(snap)
	snap.UpdatedAt = time.Now().UnixMilli()

	if err := e.store.SaveSnapshot(userKey, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return snap, nil
}
