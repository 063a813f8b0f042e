package sync

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
)

// memStore keeps snapshots in memory so engine tests run without a
// database file.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]*models.Snapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*models.Snapshot)}
}

func (s *memStore) LoadSnapshot(userKey string) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[userKey]
	if !ok {
		return models.NewSnapshot(), nil
	}
	return snap, nil
}

func (s *memStore) SaveSnapshot(userKey string, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[userKey] = snap
	return nil
}

type memArchiver struct {
	mu       sync.Mutex
	archives []models.DayArchive
}

func (a *memArchiver) ArchiveDayAggregates(archive models.DayArchive) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archives = append(a.archives, archive)
	return nil
}

func newTestEngine() (*Engine, *memStore) {
	store := newMemStore()
	return NewEngine(store), store
}

func intPtr(v int) *int { return &v }

func TestMergeAdditiveCounters(t *testing.T) {
	engine, _ := newTestEngine()

	delta := &models.MergeRequest{
		CorrectDelta:   map[string]int{"20240101-001": 2},
		IncorrectDelta: map[string]int{"20240101-001": 1},
	}

	snap, err := engine.Merge("u1", delta)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Correct["20240101-001"])
	assert.Equal(t, 1, snap.Incorrect["20240101-001"])

	// A duplicate delivery of an additive delta double-applies. That is
	// the documented hazard the client's clear-after-ack discipline
	// exists to prevent; the engine itself stays simple and adds again.
	snap, err = engine.Merge("u1", delta)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Correct["20240101-001"])
	assert.Equal(t, 2, snap.Incorrect["20240101-001"])
}

func TestMergeAdditiveIgnoresNonPositive(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		CorrectDelta: map[string]int{"20240101-001": 0, "20240101-002": -3, "20240101-003": 1},
	})
	require.NoError(t, err)
	assert.NotContains(t, snap.Correct, "20240101-001")
	assert.NotContains(t, snap.Correct, "20240101-002")
	assert.Equal(t, 1, snap.Correct["20240101-003"])
}

func TestMergeLatestValueIdempotent(t *testing.T) {
	engine, _ := newTestEngine()

	delta := &models.MergeRequest{
		StreakLenDelta: map[string]int{"20240101-001": 5},
	}

	snap, err := engine.Merge("u1", delta)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.StreakLen["20240101-001"])

	// Resending the same latest-value delta changes nothing, which makes
	// a blind retry after a dropped response safe for these fields.
	snap, err = engine.Merge("u1", delta)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.StreakLen["20240101-001"])

	// Zero is a legitimate value (a broken streak), not an absence.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		StreakLenDelta: map[string]int{"20240101-001": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.StreakLen["20240101-001"])
}

func TestMergeDayStampsNeverRollBackwards(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		LastSeenDayDelta:    map[string]int{"20240101-001": 20240215},
		LastCorrectDayDelta: map[string]int{"20240101-001": 20240215},
	})
	require.NoError(t, err)
	assert.Equal(t, 20240215, snap.LastSeenDay["20240101-001"])

	// A stale device reconnecting with an older day must not win.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		LastSeenDayDelta:    map[string]int{"20240101-001": 20240210},
		LastCorrectDayDelta: map[string]int{"20240101-001": 20240217},
	})
	require.NoError(t, err)
	assert.Equal(t, 20240215, snap.LastSeenDay["20240101-001"])
	assert.Equal(t, 20240217, snap.LastCorrectDay["20240101-001"])
}

func TestMergeDayStampRejectsMalformedStamp(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		LastSeenDayDelta: map[string]int{"20240101-001": 1234},
	})
	require.NoError(t, err)
	assert.NotContains(t, snap.LastSeenDay, "20240101-001")
}

func TestMergeDayUniqueSameDayUnion(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		Streak3TodayDelta: &models.DayUniqueDelta{
			Day:  20240301,
			Qids: []string{"20240101-001", "20240101-002"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Streak3Today.UniqueCount)

	// A second device reporting an overlapping set on the same day
	// unions in, never replaces; the overlap is counted once.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		Streak3TodayDelta: &models.DayUniqueDelta{
			Day:  20240301,
			Qids: []string{"20240101-002", "20240101-003"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 20240301, snap.Streak3Today.Day)
	assert.Equal(t, 3, snap.Streak3Today.UniqueCount)
	assert.ElementsMatch(t, []string{"20240101-001", "20240101-002", "20240101-003"}, snap.Streak3Today.Qids)
}

func TestMergeDayUniqueRolloverResets(t *testing.T) {
	engine, store := newTestEngine()
	archiver := &memArchiver{}
	engine.SetArchiver(archiver)

	_, err := engine.Merge("u1", &models.MergeRequest{
		Streak3TodayDelta: &models.DayUniqueDelta{
			Day:  20240301,
			Qids: []string{"20240101-001", "20240101-002"},
		},
	})
	require.NoError(t, err)

	snap, err := engine.Merge("u1", &models.MergeRequest{
		Streak3TodayDelta: &models.DayUniqueDelta{
			Day:  20240302,
			Qids: []string{"20240101-003"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 20240302, snap.Streak3Today.Day)
	assert.Equal(t, []string{"20240101-003"}, snap.Streak3Today.Qids)
	assert.Equal(t, 1, snap.Streak3Today.UniqueCount)

	// The displaced day went to the archiver, after the save.
	require.Len(t, archiver.archives, 1)
	archived := archiver.archives[0]
	assert.Equal(t, "u1", archived.UserKey)
	assert.Equal(t, 20240301, archived.Day)
	require.NotNil(t, archived.Streak3Today)
	assert.ElementsMatch(t, []string{"20240101-001", "20240101-002"}, archived.Streak3Today.Qids)

	stored, err := store.LoadSnapshot("u1")
	require.NoError(t, err)
	assert.Equal(t, 20240302, stored.Streak3Today.Day)
}

func TestMergeOncePerDayFirstWriteWins(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		OncePerDayTodayDelta: &models.OncePerDayDelta{
			Day:     20240301,
			Results: map[string]string{"20240101-001": models.OutcomeCorrect},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCorrect, snap.OncePerDayToday.Results["20240101-001"])

	// A later report for the same qid on the same day loses the race.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		OncePerDayTodayDelta: &models.OncePerDayDelta{
			Day:     20240301,
			Results: map[string]string{"20240101-001": models.OutcomeWrong, "20240101-002": models.OutcomeWrong},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCorrect, snap.OncePerDayToday.Results["20240101-001"])
	assert.Equal(t, models.OutcomeWrong, snap.OncePerDayToday.Results["20240101-002"])
}

func TestMergeOncePerDayRollover(t *testing.T) {
	engine, _ := newTestEngine()
	archiver := &memArchiver{}
	engine.SetArchiver(archiver)

	_, err := engine.Merge("u1", &models.MergeRequest{
		OncePerDayTodayDelta: &models.OncePerDayDelta{
			Day:     20240301,
			Results: map[string]string{"20240101-001": models.OutcomeWrong},
		},
	})
	require.NoError(t, err)

	snap, err := engine.Merge("u1", &models.MergeRequest{
		OncePerDayTodayDelta: &models.OncePerDayDelta{
			Day:     20240302,
			Results: map[string]string{"20240101-001": models.OutcomeCorrect},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 20240302, snap.OncePerDayToday.Day)
	assert.Equal(t, models.OutcomeCorrect, snap.OncePerDayToday.Results["20240101-001"])

	require.Len(t, archiver.archives, 1)
	require.NotNil(t, archiver.archives[0].OncePerDayToday)
	assert.Equal(t, models.OutcomeWrong, archiver.archives[0].OncePerDayToday.Results["20240101-001"])
}

func TestMergeConcurrentOncePerDayGate(t *testing.T) {
	engine, _ := newTestEngine()

	// Two devices race to report the first outcome of the same qid on
	// the same day. Exactly one result survives, and it is one of the
	// two submitted values, never a blend.
	var wg sync.WaitGroup
	outcomes := []string{models.OutcomeCorrect, models.OutcomeWrong}
	for _, outcome := range outcomes {
		wg.Add(1)
		go func(result string) {
			defer wg.Done()
			_, err := engine.Merge("u1", &models.MergeRequest{
				OncePerDayTodayDelta: &models.OncePerDayDelta{
					Day:     20240301,
					Results: map[string]string{"20240101-001": result},
				},
			})
			assert.NoError(t, err)
		}(outcome)
	}
	wg.Wait()

	snap, err := engine.State("u1")
	require.NoError(t, err)
	got := snap.OncePerDayToday.Results["20240101-001"]
	assert.Contains(t, outcomes, got)
	assert.Len(t, snap.OncePerDayToday.Results, 1)
}

func TestMergeConcurrentAdditiveNoLostUpdates(t *testing.T) {
	engine, _ := newTestEngine()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := engine.Merge("u1", &models.MergeRequest{
					CorrectDelta: map[string]int{"20240101-001": 1},
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	snap, err := engine.State("u1")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, snap.Correct["20240101-001"])
}

func TestMergeGlobalMaxes(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		Global:                   &models.GlobalDelta{TotalQuestions: 1200},
		CorrectStreakMaxDelta:    intPtr(14),
		CorrectStreakMaxDayDelta: intPtr(20240301),
	})
	require.NoError(t, err)
	assert.Equal(t, 1200, snap.Global.TotalQuestions)
	assert.Equal(t, 14, snap.Global.CorrectStreakMax)
	assert.Equal(t, 20240301, snap.Global.CorrectStreakMaxDay)

	// Lower maxes from a stale device never regress the record.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		CorrectStreakMaxDelta:    intPtr(9),
		CorrectStreakMaxDayDelta: intPtr(20240210),
		WrongStreakMaxDelta:      intPtr(4),
	})
	require.NoError(t, err)
	assert.Equal(t, 14, snap.Global.CorrectStreakMax)
	assert.Equal(t, 20240301, snap.Global.CorrectStreakMaxDay)
	assert.Equal(t, 4, snap.Global.WrongStreakMax)
}

func TestMergeFavAndModeAndExamDate(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		Fav:         map[string]string{"20240101-001": models.Fav1},
		OdoaMode:    models.OdoaOn,
		ExamDateISO: "2026-11-15",
	})
	require.NoError(t, err)
	assert.Equal(t, models.Fav1, snap.Fav["20240101-001"])
	assert.Equal(t, models.OdoaOn, snap.OdoaMode)
	assert.Equal(t, "2026-11-15", snap.ExamDate)

	// Unset is an explicit state, not a deletion.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		Fav: map[string]string{"20240101-001": models.FavUnset},
	})
	require.NoError(t, err)
	assert.Equal(t, models.FavUnset, snap.Fav["20240101-001"])

	// Malformed mode and date are logged and skipped, not fatal.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		OdoaMode:    "sometimes",
		ExamDateISO: "15/11/2026",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OdoaOn, snap.OdoaMode)
	assert.Equal(t, "2026-11-15", snap.ExamDate)
}

func TestMergeConsistencyStatus(t *testing.T) {
	engine, _ := newTestEngine()

	snap, err := engine.Merge("u1", &models.MergeRequest{
		ConsistencyStatusDelta: map[string]json.RawMessage{
			"20240101-001": json.RawMessage(`{"state":"stable","runs":3}`),
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"stable","runs":3}`, string(snap.ConsistencyStatus["20240101-001"]))

	// Explicit null deletes the entry.
	snap, err = engine.Merge("u1", &models.MergeRequest{
		ConsistencyStatusDelta: map[string]json.RawMessage{
			"20240101-001": json.RawMessage(`null`),
		},
	})
	require.NoError(t, err)
	assert.NotContains(t, snap.ConsistencyStatus, "20240101-001")
}

func TestMergeValidationFailsFast(t *testing.T) {
	engine, store := newTestEngine()

	cases := []struct {
		name  string
		delta *models.MergeRequest
	}{
		{
			name: "bad day stamp in day aggregate",
			delta: &models.MergeRequest{
				Streak3TodayDelta: &models.DayUniqueDelta{Day: 99, Qids: []string{"20240101-001"}},
			},
		},
		{
			name: "unique_count mismatch",
			delta: &models.MergeRequest{
				Streak3TodayDelta: &models.DayUniqueDelta{
					Day: 20240301, Qids: []string{"20240101-001"}, UniqueCount: intPtr(5),
				},
			},
		},
		{
			name: "bad outcome in once-per-day results",
			delta: &models.MergeRequest{
				OncePerDayTodayDelta: &models.OncePerDayDelta{
					Day: 20240301, Results: map[string]string{"20240101-001": "maybe"},
				},
			},
		},
		{
			name: "bad fav value",
			delta: &models.MergeRequest{
				Fav: map[string]string{"20240101-001": "fav999"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// A counter change rides along with the invalid part; the
			// whole request must be rejected with nothing applied.
			tc.delta.CorrectDelta = map[string]int{"20240101-050": 1}

			_, err := engine.Merge("u1", tc.delta)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)

			snap, err := store.LoadSnapshot("u1")
			require.NoError(t, err)
			assert.NotContains(t, snap.Correct, "20240101-050")
		})
	}
}

func TestMergeEndToEndStreakScenario(t *testing.T) {
	engine, _ := newTestEngine()
	qid := "20240101-007"

	// Consecutive correct answers on one qid, as a client reports them:
	// each answer bumps the additive counter and overwrites the running
	// streak length; the third also lands a streak3 event.
	for i := 1; i <= 3; i++ {
		delta := &models.MergeRequest{
			CorrectDelta:        map[string]int{qid: 1},
			StreakLenDelta:      map[string]int{qid: i},
			LastSeenDayDelta:    map[string]int{qid: 20240301},
			LastCorrectDayDelta: map[string]int{qid: 20240301},
		}
		if i == 3 {
			delta.Streak3Delta = map[string]int{qid: 1}
			delta.Streak3TodayDelta = &models.DayUniqueDelta{Day: 20240301, Qids: []string{qid}}
		}
		_, err := engine.Merge("u1", delta)
		require.NoError(t, err)
	}

	snap, err := engine.State("u1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Correct[qid])
	assert.Equal(t, 1, snap.Streak3[qid])
	assert.Equal(t, 3, snap.StreakLen[qid])
	assert.Equal(t, []string{qid}, snap.Streak3Today.Qids)
	assert.Equal(t, 1, snap.Streak3Today.UniqueCount)
	assert.Equal(t, 20240301, snap.LastCorrectDay[qid])

	// A fourth correct answer extends the run without landing another
	// streak3 event.
	_, err = engine.Merge("u1", &models.MergeRequest{
		CorrectDelta:   map[string]int{qid: 1},
		StreakLenDelta: map[string]int{qid: 4},
	})
	require.NoError(t, err)

	snap, err = engine.State("u1")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Correct[qid])
	assert.Equal(t, 4, snap.StreakLen[qid])
	assert.Equal(t, 1, snap.Streak3[qid])
}

func TestEngineStateIsolatesUsers(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Merge("alice", &models.MergeRequest{
		CorrectDelta: map[string]int{"20240101-001": 3},
	})
	require.NoError(t, err)

	snap, err := engine.State("bob")
	require.NoError(t, err)
	assert.Empty(t, snap.Correct)
}

func TestResetQID(t *testing.T) {
	engine, _ := newTestEngine()
	qid := "20240101-001"

	_, err := engine.Merge("u1", &models.MergeRequest{
		CorrectDelta:     map[string]int{qid: 3, "20240101-002": 1},
		StreakLenDelta:   map[string]int{qid: 2},
		LastSeenDayDelta: map[string]int{qid: 20240301},
		Fav:              map[string]string{qid: models.Fav2},
	})
	require.NoError(t, err)

	snap, err := engine.ResetQID("u1", qid)
	require.NoError(t, err)
	assert.NotContains(t, snap.Correct, qid)
	assert.NotContains(t, snap.StreakLen, qid)
	assert.NotContains(t, snap.LastSeenDay, qid)
	assert.NotContains(t, snap.Fav, qid)
	assert.Equal(t, 1, snap.Correct["20240101-002"])
}

func TestResetStreak3QID(t *testing.T) {
	engine, _ := newTestEngine()
	qid := "20240101-001"

	_, err := engine.Merge("u1", &models.MergeRequest{
		CorrectDelta:   map[string]int{qid: 3},
		Streak3Delta:   map[string]int{qid: 2},
		StreakLenDelta: map[string]int{qid: 1},
	})
	require.NoError(t, err)

	snap, err := engine.ResetStreak3QID("u1", qid)
	require.NoError(t, err)
	assert.NotContains(t, snap.Streak3, qid)
	assert.NotContains(t, snap.StreakLen, qid)
	assert.Equal(t, 3, snap.Correct[qid])
}

func TestResetDayAggregates(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Merge("u1", &models.MergeRequest{
		Streak3TodayDelta: &models.DayUniqueDelta{Day: 20240301, Qids: []string{"20240101-001"}},
		OncePerDayTodayDelta: &models.OncePerDayDelta{
			Day:     20240301,
			Results: map[string]string{"20240101-001": models.OutcomeCorrect},
		},
	})
	require.NoError(t, err)

	snap, err := engine.ResetStreak3Today("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Streak3Today.Day)
	assert.Empty(t, snap.Streak3Today.Qids)

	snap, err = engine.ResetOncePerDayToday("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.OncePerDayToday.Day)
	assert.Empty(t, snap.OncePerDayToday.Results)
}

func TestResetAllQIDs(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Merge("u1", &models.MergeRequest{
		CorrectDelta:          map[string]int{"20240101-001": 3},
		Streak3TodayDelta:     &models.DayUniqueDelta{Day: 20240301, Qids: []string{"20240101-001"}},
		Global:                &models.GlobalDelta{TotalQuestions: 1200},
		CorrectStreakMaxDelta: intPtr(7),
		OdoaMode:              models.OdoaOn,
		ExamDateISO:           "2026-11-15",
	})
	require.NoError(t, err)

	snap, err := engine.ResetAllQIDs("u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Correct)
	assert.Empty(t, snap.Streak3Today.Qids)

	// Global records and preferences survive a per-qid wipe.
	assert.Equal(t, 1200, snap.Global.TotalQuestions)
	assert.Equal(t, 7, snap.Global.CorrectStreakMax)
	assert.Equal(t, models.OdoaOn, snap.OdoaMode)
	assert.Equal(t, "2026-11-15", snap.ExamDate)
}

func TestArchiverFailureDoesNotFailMerge(t *testing.T) {
	engine, _ := newTestEngine()
	engine.SetArchiver(failingArchiver{})

	_, err := engine.Merge("u1", &models.MergeRequest{
		Streak3TodayDelta: &models.DayUniqueDelta{Day: 20240301, Qids: []string{"20240101-001"}},
	})
	require.NoError(t, err)

	snap, err := engine.Merge("u1", &models.MergeRequest{
		Streak3TodayDelta: &models.DayUniqueDelta{Day: 20240302, Qids: []string{"20240101-002"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 20240302, snap.Streak3Today.Day)
}

type failingArchiver struct{}

func (failingArchiver) ArchiveDayAggregates(models.DayArchive) error {
	return fmt.Errorf("queue unavailable")
}
