package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

// Store is where authoritative snapshots live. db.DB implements it.
type Store interface {
	LoadSnapshot(userKey string) (*models.Snapshot, error)
	SaveSnapshot(userKey string, snap *models.Snapshot) error
}

// Archiver receives a day's aggregates when a merge rolls the day over.
// Implementations must not block the merge path for long; the job manager
// just enqueues.
type Archiver interface {
	ArchiveDayAggregates(archive models.DayArchive) error
}

// Engine is the single authoritative reconciliation point. All mutation
// of a learner's snapshot goes through it, serialized per user key, so
// concurrent merges from multiple devices never lose updates.
type Engine struct {
	store    Store
	archiver Archiver

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetArchiver enables day-aggregate archival. Optional; without it
// rolled-over aggregates are simply dropped, as the wire protocol allows.
func (e *Engine) SetArchiver(a Archiver) {
	e.archiver = a
}

func (e *Engine) keyLock(userKey string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userKey]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userKey] = l
	}
	return l
}

// State returns the full authoritative snapshot without applying any delta.
func (e *Engine) State(userKey string) (*models.Snapshot, error) {
	l := e.keyLock(userKey)
	l.Lock()
	defer l.Unlock()
	return e.store.LoadSnapshot(userKey)
}

// Merge folds a client delta into the authoritative snapshot and returns
// the complete updated snapshot. Structural validation happens before any
// state is loaded or touched; a *ValidationError means nothing changed.
func (e *Engine) Merge(userKey string, delta *models.MergeRequest) (*models.Snapshot, error) {
	if err := validateDelta(delta); err != nil {
		utils.LogMerge("Rejecting delta for key %q: %v", userKey, err)
		return nil, err
	}

	l := e.keyLock(userKey)
	l.Lock()
	defer l.Unlock()

	snap, err := e.store.LoadSnapshot(userKey)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	rolled := e.apply(snap, delta)
	snap.UpdatedAt = time.Now().UnixMilli()

	if err := e.store.SaveSnapshot(userKey, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	// Archive only after the new state is durable, so a failed save never
	// archives a rollover that did not happen.
	e.archive(userKey, rolled)

	return snap, nil
}

// apply mutates snap in place and returns any day aggregates displaced by
// a rollover, keyed by their outgoing day.
func (e *Engine) apply(snap *models.Snapshot, delta *models.MergeRequest) map[int]*models.DayArchive {
	applyAdditive(snap.Correct, delta.CorrectDelta)
	applyAdditive(snap.Incorrect, delta.IncorrectDelta)
	applyAdditive(snap.Streak3, delta.Streak3Delta)
	applyAdditive(snap.Streak3Wrong, delta.Streak3WrongDelta)

	applyLatest(snap.StreakLen, delta.StreakLenDelta)
	applyLatest(snap.StreakWrongLen, delta.StreakWrongLenDelta)

	// Day stamps merge as max: a stale device that reconnects late must
	// not roll an already-newer day backwards.
	applyMaxDay(snap.LastSeenDay, delta.LastSeenDayDelta)
	applyMaxDay(snap.LastCorrectDay, delta.LastCorrectDayDelta)
	applyMaxDay(snap.LastWrongDay, delta.LastWrongDayDelta)

	rolled := make(map[int]*models.DayArchive)

	if d := delta.Streak3TodayDelta; d != nil {
		if old := mergeDayUnique(&snap.Streak3Today, d); old != nil {
			archiveFor(rolled, old.Day).Streak3Today = old
		}
	}
	if d := delta.Streak3WrongTodayDelta; d != nil {
		if old := mergeDayUnique(&snap.Streak3WrongToday, d); old != nil {
			archiveFor(rolled, old.Day).Streak3WrongToday = old
		}
	}
	if d := delta.OncePerDayTodayDelta; d != nil {
		if old := mergeOncePerDay(&snap.OncePerDayToday, d); old != nil {
			archiveFor(rolled, old.Day).OncePerDayToday = old
		}
	}

	for qid, payload := range delta.ConsistencyStatusDelta {
		if string(payload) == "null" {
			delete(snap.ConsistencyStatus, qid)
			continue
		}
		snap.ConsistencyStatus[qid] = payload
	}

	for qid, v := range delta.Fav {
		snap.Fav[qid] = v
	}

	if g := delta.Global; g != nil && g.TotalQuestions > 0 {
		snap.Global.TotalQuestions = g.TotalQuestions
	}
	applyMaxGlobal(&snap.Global.CorrectStreakMax, delta.CorrectStreakMaxDelta, false)
	applyMaxGlobal(&snap.Global.CorrectStreakMaxDay, delta.CorrectStreakMaxDayDelta, true)
	applyMaxGlobal(&snap.Global.WrongStreakMax, delta.WrongStreakMaxDelta, false)
	applyMaxGlobal(&snap.Global.WrongStreakMaxDay, delta.WrongStreakMaxDayDelta, true)

	if delta.OdoaMode != "" {
		if delta.OdoaMode == models.OdoaOn || delta.OdoaMode == models.OdoaOff {
			snap.OdoaMode = delta.OdoaMode
		} else {
			utils.LogMerge("Ignoring invalid odoa_mode %q", delta.OdoaMode)
		}
	}

	if delta.ExamDateISO != "" {
		if utils.ValidExamDate(delta.ExamDateISO) {
			snap.ExamDate = delta.ExamDateISO
		} else {
			utils.LogMerge("Ignoring invalid exam_date_iso %q", delta.ExamDateISO)
		}
	}

	return rolled
}

func (e *Engine) archive(userKey string, rolled map[int]*models.DayArchive) {
	if e.archiver == nil || len(rolled) == 0 {
		return
	}
	for day, a := range rolled {
		a.UserKey = userKey
		a.Day = day
		if err := e.archiver.ArchiveDayAggregates(*a); err != nil {
			// Archival is best-effort history retention; a failure must
			// never fail the merge that triggered it.
			utils.LogError("Day %d archive for key %q failed: %v", day, userKey, err)
		}
	}
}

func archiveFor(rolled map[int]*models.DayArchive, day int) *models.DayArchive {
	a, ok := rolled[day]
	if !ok {
		a = &models.DayArchive{}
		rolled[day] = a
	}
	return a
}

// applyAdditive adds positive increments into dst. Zero and negative
// values are ignored; additive counters never decrease via merge.
func applyAdditive(dst, delta map[string]int) {
	for qid, v := range delta {
		if v <= 0 {
			continue
		}
		dst[qid] += v
	}
}

// applyLatest overwrites dst with the client's best-known current value.
// Resending the same value is harmless, which is what makes a retry after
// a dropped response safe for these fields.
func applyLatest(dst, delta map[string]int) {
	for qid, v := range delta {
		if v < 0 {
			continue
		}
		dst[qid] = v
	}
}

func applyMaxDay(dst, delta map[string]int) {
	for qid, v := range delta {
		if !utils.ValidDayStamp(v) {
			continue
		}
		if v > dst[qid] {
			dst[qid] = v
		}
	}
}

func applyMaxGlobal(dst *int, delta *int, dayStamp bool) {
	if delta == nil {
		return
	}
	v := *delta
	if v < 0 {
		return
	}
	if dayStamp && !utils.ValidDayStamp(v) {
		utils.LogMerge("Ignoring invalid day stamp %d in global max delta", v)
		return
	}
	if v > *dst {
		*dst = v
	}
}

// mergeDayUnique applies a day-scoped unique-set delta. When the incoming
// day differs from the stored day the stored aggregate is reset first and
// the displaced aggregate returned for archival. Within the same day the
// incoming qids are unioned into the stored set, never replacing it, so
// the operation is idempotent and order-independent across devices.
func mergeDayUnique(cur *models.DayUnique, d *models.DayUniqueDelta) *models.DayUnique {
	var displaced *models.DayUnique
	if cur.Day != d.Day {
		if cur.Day != 0 && len(cur.Qids) > 0 {
			old := *cur
			old.Qids = append([]string(nil), cur.Qids...)
			displaced = &old
		}
		cur.Day = d.Day
		cur.Qids = []string{}
	}

	seen := make(map[string]bool, len(cur.Qids))
	for _, qid := range cur.Qids {
		seen[qid] = true
	}
	for _, qid := range d.Qids {
		if seen[qid] {
			continue
		}
		seen[qid] = true
		cur.Qids = append(cur.Qids, qid)
	}
	cur.UniqueCount = len(cur.Qids)
	return displaced
}

// mergeOncePerDay applies the once-per-day gate delta. Rollover resets the
// gate; within a day each qid's result is first-write-wins. The server is
// the authority on "already recorded today" because two devices can race
// to report the same qid's first answer.
func mergeOncePerDay(cur *models.OncePerDay, d *models.OncePerDayDelta) *models.OncePerDay {
	var displaced *models.OncePerDay
	if cur.Day != d.Day {
		if cur.Day != 0 && len(cur.Results) > 0 {
			old := models.OncePerDay{Day: cur.Day, Results: make(map[string]string, len(cur.Results))}
			for qid, v := range cur.Results {
				old.Results[qid] = v
			}
			displaced = &old
		}
		cur.Day = d.Day
		cur.Results = make(map[string]string)
	}

	for qid, v := range d.Results {
		if _, exists := cur.Results[qid]; exists {
			continue
		}
		cur.Results[qid] = v
	}
	return displaced
}
