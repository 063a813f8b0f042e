package client

import (
	"sync"

	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
)

// DeltaQueue buffers locally-observed changes until they are durably
// reflected on the server. Enqueue operations are pure, synchronous and
// never block; they only touch in-memory state, so answer handlers can
// keep recording while a flush's network request is in flight.
type DeltaQueue struct {
	mu sync.Mutex

	correct        map[string]int
	incorrect      map[string]int
	streak3        map[string]int
	streak3Wrong   map[string]int
	streakLen      map[string]int
	streakWrongLen map[string]int
	lastSeenDay    map[string]int
	lastCorrectDay map[string]int
	lastWrongDay   map[string]int

	streak3Today      *models.DayUniqueDelta
	streak3WrongToday *models.DayUniqueDelta
	oncePerDayToday   *models.OncePerDayDelta
}

func NewDeltaQueue() *DeltaQueue {
	q := &DeltaQueue{}
	q.reset()
	return q
}

// caller must hold q.mu
func (q *DeltaQueue) reset() {
	q.correct = make(map[string]int)
	q.incorrect = make(map[string]int)
	q.streak3 = make(map[string]int)
	q.streak3Wrong = make(map[string]int)
	q.streakLen = make(map[string]int)
	q.streakWrongLen = make(map[string]int)
	q.lastSeenDay = make(map[string]int)
	q.lastCorrectDay = make(map[string]int)
	q.lastWrongDay = make(map[string]int)
	q.streak3Today = nil
	q.streak3WrongToday = nil
	q.oncePerDayToday = nil
}

// Additive fields: safe to accumulate several increments between flushes.

func (q *DeltaQueue) AddCorrect(qid string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.correct[qid]++
}

func (q *DeltaQueue) AddIncorrect(qid string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.incorrect[qid]++
}

// AddStreak3 records one completed 3-correct run. Callers invoke it
// exactly once per completed run; the queue just accumulates.
func (q *DeltaQueue) AddStreak3(qid string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streak3[qid]++
}

func (q *DeltaQueue) AddStreak3Wrong(qid string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streak3Wrong[qid]++
}

// Latest-value fields: repeated enqueues before a flush replace the
// prior value, they do not accumulate.

func (q *DeltaQueue) SetStreakLen(qid string, length int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streakLen[qid] = length
}

func (q *DeltaQueue) SetStreakWrongLen(qid string, length int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streakWrongLen[qid] = length
}

func (q *DeltaQueue) SetLastSeenDay(qid string, day int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastSeenDay[qid] = day
}

func (q *DeltaQueue) SetLastCorrectDay(qid string, day int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastCorrectDay[qid] = day
}

func (q *DeltaQueue) SetLastWrongDay(qid string, day int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastWrongDay[qid] = day
}

// Day-scoped objects: the client always ships its full locally-known
// list for the day; the server unions, so resending everything is safe.

func (q *DeltaQueue) SetStreak3Today(day int, qids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streak3Today = &models.DayUniqueDelta{Day: day, Qids: append([]string(nil), qids...)}
}

func (q *DeltaQueue) SetStreak3WrongToday(day int, qids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streak3WrongToday = &models.DayUniqueDelta{Day: day, Qids: append([]string(nil), qids...)}
}

func (q *DeltaQueue) SetOncePerDayToday(day int, results map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := make(map[string]string, len(results))
	for qid, v := range results {
		copied[qid] = v
	}
	q.oncePerDayToday = &models.OncePerDayDelta{Day: day, Results: copied}
}

// HasPending reports whether any field holds unsent data.
func (q *DeltaQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.correct) > 0 || len(q.incorrect) > 0 ||
		len(q.streak3) > 0 || len(q.streak3Wrong) > 0 ||
		len(q.streakLen) > 0 || len(q.streakWrongLen) > 0 ||
		len(q.lastSeenDay) > 0 || len(q.lastCorrectDay) > 0 || len(q.lastWrongDay) > 0 ||
		q.streak3Today != nil || q.streak3WrongToday != nil || q.oncePerDayToday != nil
}

// Drain atomically snapshots and clears all fields. Enqueues racing with
// an in-flight flush land after the snapshot and stay queued for the
// next one; nothing is ever lost between the two.
func (q *DeltaQueue) Drain() *models.MergeRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := &models.MergeRequest{
		CorrectDelta:           q.correct,
		IncorrectDelta:         q.incorrect,
		Streak3Delta:           q.streak3,
		Streak3WrongDelta:      q.streak3Wrong,
		StreakLenDelta:         q.streakLen,
		StreakWrongLenDelta:    q.streakWrongLen,
		LastSeenDayDelta:       q.lastSeenDay,
		LastCorrectDayDelta:    q.lastCorrectDay,
		LastWrongDayDelta:      q.lastWrongDay,
		Streak3TodayDelta:      q.streak3Today,
		Streak3WrongTodayDelta: q.streak3WrongToday,
		OncePerDayTodayDelta:   q.oncePerDayToday,
	}
	q.reset()
	return req
}

// Requeue folds a failed drain back into the queue so a later flush can
// retry it. Additive deltas re-accumulate; latest-value and day-scoped
// fields keep whatever was enqueued after the drain, since that value is
// newer than the one that failed to send.
func (q *DeltaQueue) Requeue(req *models.MergeRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	requeueAdditive(q.correct, req.CorrectDelta)
	requeueAdditive(q.incorrect, req.IncorrectDelta)
	requeueAdditive(q.streak3, req.Streak3Delta)
	requeueAdditive(q.streak3Wrong, req.Streak3WrongDelta)

	requeueLatest(q.streakLen, req.StreakLenDelta)
	requeueLatest(q.streakWrongLen, req.StreakWrongLenDelta)
	requeueLatest(q.lastSeenDay, req.LastSeenDayDelta)
	requeueLatest(q.lastCorrectDay, req.LastCorrectDayDelta)
	requeueLatest(q.lastWrongDay, req.LastWrongDayDelta)

	if q.streak3Today == nil {
		q.streak3Today = req.Streak3TodayDelta
	}
	if q.streak3WrongToday == nil {
		q.streak3WrongToday = req.Streak3WrongTodayDelta
	}
	if q.oncePerDayToday == nil {
		q.oncePerDayToday = req.OncePerDayTodayDelta
	}
}

func requeueAdditive(dst, drained map[string]int) {
	for qid, v := range drained {
		dst[qid] += v
	}
}

func requeueLatest(dst, drained map[string]int) {
	for qid, v := range drained {
		if _, newer := dst[qid]; !newer {
			dst[qid] = v
		}
	}
}
