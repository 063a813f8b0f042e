package client

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueAdditiveAccumulates(t *testing.T) {
	q := NewDeltaQueue()
	q.AddCorrect("20240101-001")
	q.AddCorrect("20240101-001")
	q.AddIncorrect("20240101-002")
	q.AddStreak3("20240101-001")

	req := q.Drain()
	assert.Equal(t, 2, req.CorrectDelta["20240101-001"])
	assert.Equal(t, 1, req.IncorrectDelta["20240101-002"])
	assert.Equal(t, 1, req.Streak3Delta["20240101-001"])
}

func TestQueueLatestValueReplaces(t *testing.T) {
	q := NewDeltaQueue()
	q.SetStreakLen("20240101-001", 1)
	q.SetStreakLen("20240101-001", 2)
	q.SetStreakLen("20240101-001", 0)
	q.SetLastSeenDay("20240101-001", 20240301)

	req := q.Drain()
	assert.Equal(t, 0, req.StreakLenDelta["20240101-001"])
	assert.Equal(t, 20240301, req.LastSeenDayDelta["20240101-001"])
}

func TestQueueDayObjectsReplaceWholesale(t *testing.T) {
	q := NewDeltaQueue()
	q.SetStreak3Today(20240301, []string{"20240101-001"})
	q.SetStreak3Today(20240301, []string{"20240101-001", "20240101-002"})

	req := q.Drain()
	require.NotNil(t, req.Streak3TodayDelta)
	assert.Equal(t, 20240301, req.Streak3TodayDelta.Day)
	assert.Equal(t, []string{"20240101-001", "20240101-002"}, req.Streak3TodayDelta.Qids)
}

func TestQueueDayObjectsCopyInput(t *testing.T) {
	q := NewDeltaQueue()

	qids := []string{"20240101-001"}
	results := map[string]string{"20240101-001": "correct"}
	q.SetStreak3Today(20240301, qids)
	q.SetOncePerDayToday(20240301, results)

	// Mutating the caller's slices and maps after enqueue must not leak
	// into the queued delta.
	qids[0] = "mutated"
	results["20240101-001"] = "wrong"

	req := q.Drain()
	assert.Equal(t, []string{"20240101-001"}, req.Streak3TodayDelta.Qids)
	assert.Equal(t, "correct", req.OncePerDayTodayDelta.Results["20240101-001"])
}

func TestQueueDrainClearsEverything(t *testing.T) {
	q := NewDeltaQueue()
	q.AddCorrect("20240101-001")
	q.SetStreakLen("20240101-001", 3)
	q.SetStreak3Today(20240301, []string{"20240101-001"})

	assert.True(t, q.HasPending())

	first := q.Drain()
	assert.False(t, first.Empty())
	assert.False(t, q.HasPending())

	second := q.Drain()
	assert.True(t, second.Empty())
}

func TestQueueDrainIsAtomicUnderConcurrentEnqueue(t *testing.T) {
	q := NewDeltaQueue()

	const total = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.AddCorrect("20240101-001")
		}
	}()

	// Drain repeatedly while the writer runs; every increment must land
	// in exactly one drain.
	sum := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		sum += q.Drain().CorrectDelta["20240101-001"]
		select {
		case <-done:
			sum += q.Drain().CorrectDelta["20240101-001"]
			assert.Equal(t, total, sum)
			return
		default:
		}
	}
}

func TestQueueRequeueAdditiveReaccumulates(t *testing.T) {
	q := NewDeltaQueue()
	q.AddCorrect("20240101-001")
	q.AddCorrect("20240101-001")

	drained := q.Drain()

	// An answer recorded while the failed flush was in flight.
	q.AddCorrect("20240101-001")

	q.Requeue(drained)

	req := q.Drain()
	assert.Equal(t, 3, req.CorrectDelta["20240101-001"])
}

func TestQueueRequeueLatestKeepsNewerValue(t *testing.T) {
	q := NewDeltaQueue()
	q.SetStreakLen("20240101-001", 2)

	drained := q.Drain()

	// A newer streak length enqueued during the failed flush wins over
	// the stale drained one.
	q.SetStreakLen("20240101-001", 3)
	q.Requeue(drained)

	req := q.Drain()
	assert.Equal(t, 3, req.StreakLenDelta["20240101-001"])
}

func TestQueueRequeueLatestRestoresWhenAbsent(t *testing.T) {
	q := NewDeltaQueue()
	q.SetStreakLen("20240101-001", 2)
	q.SetLastCorrectDay("20240101-001", 20240301)

	drained := q.Drain()
	q.Requeue(drained)

	req := q.Drain()
	assert.Equal(t, 2, req.StreakLenDelta["20240101-001"])
	assert.Equal(t, 20240301, req.LastCorrectDayDelta["20240101-001"])
}

func TestQueueRequeueDayObjectOnlyWhenEmpty(t *testing.T) {
	q := NewDeltaQueue()
	q.SetStreak3Today(20240301, []string{"20240101-001"})
	drained := q.Drain()

	// Day object enqueued after the drain carries the fuller list; the
	// stale drained one must not clobber it.
	q.SetStreak3Today(20240301, []string{"20240101-001", "20240101-002"})
	q.Requeue(drained)

	req := q.Drain()
	assert.Equal(t, []string{"20240101-001", "20240101-002"}, req.Streak3TodayDelta.Qids)

	// With nothing newer queued, the drained object comes back.
	q.Requeue(req)
	again := q.Drain()
	assert.Equal(t, []string{"20240101-001", "20240101-002"}, again.Streak3TodayDelta.Qids)
}
