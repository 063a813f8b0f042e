package models

import "encoding/json"

// DayUniqueDelta carries a client's full locally-known qid list for one day.
// The client resends the whole list each flush; the server unions it into
// the stored set, so resends and reordered arrivals are harmless.
// UniqueCount is optional; when present it must equal len(Qids).
type DayUniqueDelta struct {
	Day         int      `json:"day"`
	Qids        []string `json:"qids"`
	UniqueCount *int     `json:"unique_count,omitempty"`
}

// OncePerDayDelta carries the client's accumulated first-outcome map for one day.
type OncePerDayDelta struct {
	Day     int               `json:"day"`
	Results map[string]string `json:"results"`
}

// GlobalDelta carries global-field overwrites. TotalQuestions is only
// applied when positive.
type GlobalDelta struct {
	TotalQuestions int `json:"totalQuestions"`
}

// MergeRequest is the delta payload accepted by POST /merge. Every field
// is optional; absence means "no change requested" for that field, never
// "set to zero".
type MergeRequest struct {
	CorrectDelta        map[string]int `json:"correctDelta,omitempty"`
	IncorrectDelta      map[string]int `json:"incorrectDelta,omitempty"`
	Streak3Delta        map[string]int `json:"streak3Delta,omitempty"`
	StreakLenDelta      map[string]int `json:"streakLenDelta,omitempty"`
	Streak3WrongDelta   map[string]int `json:"streak3WrongDelta,omitempty"`
	StreakWrongLenDelta map[string]int `json:"streakWrongLenDelta,omitempty"`
	LastSeenDayDelta    map[string]int `json:"lastSeenDayDelta,omitempty"`
	LastCorrectDayDelta map[string]int `json:"lastCorrectDayDelta,omitempty"`
	LastWrongDayDelta   map[string]int `json:"lastWrongDayDelta,omitempty"`

	Streak3TodayDelta      *DayUniqueDelta  `json:"streak3TodayDelta,omitempty"`
	Streak3WrongTodayDelta *DayUniqueDelta  `json:"streak3WrongTodayDelta,omitempty"`
	OncePerDayTodayDelta   *OncePerDayDelta `json:"oncePerDayTodayDelta,omitempty"`

	// Raw values so that explicit JSON null (= delete this key) survives decoding.
	ConsistencyStatusDelta map[string]json.RawMessage `json:"consistencyStatusDelta,omitempty"`
	Fav                    map[string]string          `json:"fav,omitempty"`

	Global                   *GlobalDelta `json:"global,omitempty"`
	CorrectStreakMaxDelta    *int         `json:"correctStreakMaxDelta,omitempty"`
	CorrectStreakMaxDayDelta *int         `json:"correctStreakMaxDayDelta,omitempty"`
	WrongStreakMaxDelta      *int         `json:"wrongStreakMaxDelta,omitempty"`
	WrongStreakMaxDayDelta   *int         `json:"wrongStreakMaxDayDelta,omitempty"`

	OdoaMode    string `json:"odoa_mode,omitempty"`
	ExamDateISO string `json:"exam_date_iso,omitempty"`

	UpdatedAt int64 `json:"updatedAt"`
}

// Empty reports whether the request carries no change at all. A forced
// flush still sends an empty request as a heartbeat.
func (m *MergeRequest) Empty() bool {
	return len(m.CorrectDelta) == 0 &&
		len(m.IncorrectDelta) == 0 &&
		len(m.Streak3Delta) == 0 &&
		len(m.StreakLenDelta) == 0 &&
		len(m.Streak3WrongDelta) == 0 &&
		len(m.StreakWrongLenDelta) == 0 &&
		len(m.LastSeenDayDelta) == 0 &&
		len(m.LastCorrectDayDelta) == 0 &&
		len(m.LastWrongDayDelta) == 0 &&
		m.Streak3TodayDelta == nil &&
		m.Streak3WrongTodayDelta == nil &&
		m.OncePerDayTodayDelta == nil &&
		len(m.ConsistencyStatusDelta) == 0 &&
		len(m.Fav) == 0 &&
		m.Global == nil &&
		m.CorrectStreakMaxDelta == nil &&
		m.CorrectStreakMaxDayDelta == nil &&
		m.WrongStreakMaxDelta == nil &&
		m.WrongStreakMaxDayDelta == nil &&
		m.OdoaMode == "" &&
		m.ExamDateISO == ""
}

// ResetRequest is the body for the per-qid administrative resets.
type ResetRequest struct {
	QID string `json:"qid"`
}

// DayArchive is the rolled-over day handed to the archival job when a
// merge advances a day-scoped aggregate.
type DayArchive struct {
	UserKey           string      `json:"user_key"`
	Day               int         `json:"day"`
	Streak3Today      *DayUnique  `json:"streak3Today,omitempty"`
	Streak3WrongToday *DayUnique  `json:"streak3WrongToday,omitempty"`
	OncePerDayToday   *OncePerDay `json:"oncePerDayToday,omitempty"`
}
