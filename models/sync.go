package models

import "encoding/json"

// Outcome values stored in the once-per-day gate.
const (
	OutcomeCorrect = "correct"
	OutcomeWrong   = "wrong"
)

// Favorite mark values; anything else is rejected at merge time.
const (
	FavUnset = "unset"
	Fav1     = "fav001"
	Fav2     = "fav002"
	Fav3     = "fav003"
)

func ValidFav(v string) bool {
	return v == FavUnset || v == Fav1 || v == Fav2 || v == Fav3
}

func ValidOutcome(v string) bool {
	return v == OutcomeCorrect || v == OutcomeWrong
}

// O.D.O.A mode values.
const (
	OdoaOn  = "on"
	OdoaOff = "off"
)

// DayUnique is a day-scoped unique qid set ("today's stars" or "today's bombs").
// UniqueCount always equals len(Qids) after a merge.
type DayUnique struct {
	Day         int      `json:"day"`
	UniqueCount int      `json:"unique_count"`
	Qids        []string `json:"qids"`
}

// OncePerDay records the first measured outcome per qid for the current day.
// Entries are write-once within a day; the whole object is replaced on rollover.
type OncePerDay struct {
	Day     int               `json:"day"`
	Results map[string]string `json:"results"`
}

// GlobalStats holds per-learner aggregates that are not keyed by qid.
// The max-streak fields never decrease.
type GlobalStats struct {
	TotalQuestions      int `json:"totalQuestions"`
	CorrectStreakMax    int `json:"correctStreakMax"`
	CorrectStreakMaxDay int `json:"correctStreakMaxDay"`
	WrongStreakMax      int `json:"wrongStreakMax"`
	WrongStreakMaxDay   int `json:"wrongStreakMaxDay"`
}

// Snapshot is the complete authoritative state for one learner key.
// Every merge and reset returns one of these so a client can fully
// resynchronize its local cache in a single round trip.
type Snapshot struct {
	Correct        map[string]int `json:"correct"`
	Incorrect      map[string]int `json:"incorrect"`
	Streak3        map[string]int `json:"streak3"`
	StreakLen      map[string]int `json:"streakLen"`
	Streak3Wrong   map[string]int `json:"streak3Wrong"`
	StreakWrongLen map[string]int `json:"streakWrongLen"`
	LastSeenDay    map[string]int `json:"lastSeenDay"`
	LastCorrectDay map[string]int `json:"lastCorrectDay"`
	LastWrongDay   map[string]int `json:"lastWrongDay"`

	Streak3Today      DayUnique  `json:"streak3Today"`
	Streak3WrongToday DayUnique  `json:"streak3WrongToday"`
	OncePerDayToday   OncePerDay `json:"oncePerDayToday"`

	ConsistencyStatus map[string]json.RawMessage `json:"consistency_status"`
	Fav               map[string]string          `json:"fav"`
	Global            GlobalStats                `json:"global"`
	OdoaMode          string                     `json:"odoa_mode"`
	ExamDate          string                     `json:"exam_date,omitempty"`

	UpdatedAt int64 `json:"updatedAt"`
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.Normalize()
	return s
}

// Normalize fills in any nil maps and repairs day-aggregate counts.
// Called after loading stored state so older rows that predate a field
// never surface as nil to the merge engine.
func (s *Snapshot) Normalize() {
	if s.Correct == nil {
		s.Correct = make(map[string]int)
	}
	if s.Incorrect == nil {
		s.Incorrect = make(map[string]int)
	}
	if s.Streak3 == nil {
		s.Streak3 = make(map[string]int)
	}
	if s.StreakLen == nil {
		s.StreakLen = make(map[string]int)
	}
	if s.Streak3Wrong == nil {
		s.Streak3Wrong = make(map[string]int)
	}
	if s.StreakWrongLen == nil {
		s.StreakWrongLen = make(map[string]int)
	}
	if s.LastSeenDay == nil {
		s.LastSeenDay = make(map[string]int)
	}
	if s.LastCorrectDay == nil {
		s.LastCorrectDay = make(map[string]int)
	}
	if s.LastWrongDay == nil {
		s.LastWrongDay = make(map[string]int)
	}
	if s.ConsistencyStatus == nil {
		s.ConsistencyStatus = make(map[string]json.RawMessage)
	}
	if s.Fav == nil {
		s.Fav = make(map[string]string)
	}
	if s.Streak3Today.Qids == nil {
		s.Streak3Today.Qids = []string{}
	}
	if s.Streak3WrongToday.Qids == nil {
		s.Streak3WrongToday.Qids = []string{}
	}
	if s.OncePerDayToday.Results == nil {
		s.OncePerDayToday.Results = make(map[string]string)
	}
	if s.OdoaMode != OdoaOn && s.OdoaMode != OdoaOff {
		s.OdoaMode = OdoaOff
	}
	s.Streak3Today.UniqueCount = len(s.Streak3Today.Qids)
	s.Streak3WrongToday.UniqueCount = len(s.Streak3WrongToday.Qids)
}
