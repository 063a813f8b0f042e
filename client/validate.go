package client

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
)

// Strict, field-granular snapshot validation. A server omission must
// never be misread as "value is now zero": a field that is missing or
// malformed is skipped (and reported) while every other well-formed
// field in the same response still applies.

// snapshotFields is a snapshot decoded only far enough to tell which
// top-level fields are actually present.
type snapshotFields map[string]json.RawMessage

func decodeSnapshotFields(data []byte) (snapshotFields, error) {
	var raw snapshotFields
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("snapshot is not a JSON object: %w", err)
	}
	return raw, nil
}

// counterMap extracts one per-qid numeric field. It fails if the field
// is absent, not a map, or holds any value that is not a finite
// non-negative number — partial trust in a counter map is worse than
// keeping the cached values.
func (f snapshotFields) counterMap(field string) (map[string]int, error) {
	raw, ok := f[field]
	if !ok {
		return nil, fmt.Errorf("field %q missing from snapshot", field)
	}

	var floats map[string]float64
	if err := json.Unmarshal(raw, &floats); err != nil {
		return nil, fmt.Errorf("field %q is not a qid map: %w", field, err)
	}

	out := make(map[string]int, len(floats))
	for qid, v := range floats {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("field %q has invalid value %v for qid %s", field, v, qid)
		}
		out[qid] = int(v)
	}
	return out, nil
}

func (f snapshotFields) dayUnique(field string) (*models.DayUnique, error) {
	raw, ok := f[field]
	if !ok {
		return nil, fmt.Errorf("field %q missing from snapshot", field)
	}
	var d models.DayUnique
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("field %q is malformed: %w", field, err)
	}
	if d.Day < 0 {
		return nil, fmt.Errorf("field %q has negative day %d", field, d.Day)
	}
	if d.Qids == nil {
		d.Qids = []string{}
	}
	// The set is authoritative; a count that disagrees with it is repaired
	// rather than trusted.
	d.UniqueCount = len(d.Qids)
	return &d, nil
}

func (f snapshotFields) oncePerDay(field string) (*models.OncePerDay, error) {
	raw, ok := f[field]
	if !ok {
		return nil, fmt.Errorf("field %q missing from snapshot", field)
	}
	var d models.OncePerDay
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("field %q is malformed: %w", field, err)
	}
	if d.Day < 0 {
		return nil, fmt.Errorf("field %q has negative day %d", field, d.Day)
	}
	for qid, v := range d.Results {
		if !models.ValidOutcome(v) {
			return nil, fmt.Errorf("field %q has invalid result %q for qid %s", field, v, qid)
		}
	}
	if d.Results == nil {
		d.Results = make(map[string]string)
	}
	return &d, nil
}

func (f snapshotFields) favMap() (map[string]string, error) {
	raw, ok := f["fav"]
	if !ok {
		return nil, fmt.Errorf("field \"fav\" missing from snapshot")
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("field \"fav\" is malformed: %w", err)
	}
	for qid, v := range m {
		if !models.ValidFav(v) {
			return nil, fmt.Errorf("field \"fav\" has invalid value %q for qid %s", v, qid)
		}
	}
	return m, nil
}

func (f snapshotFields) globalStats() (*models.GlobalStats, error) {
	raw, ok := f["global"]
	if !ok {
		return nil, fmt.Errorf("field \"global\" missing from snapshot")
	}
	var g models.GlobalStats
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("field \"global\" is malformed: %w", err)
	}
	if g.TotalQuestions < 0 || g.CorrectStreakMax < 0 || g.WrongStreakMax < 0 {
		return nil, fmt.Errorf("field \"global\" has negative values")
	}
	return &g, nil
}

func (f snapshotFields) stringField(field string) (string, error) {
	raw, ok := f[field]
	if !ok {
		return "", fmt.Errorf("field %q missing from snapshot", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q is not a string: %w", field, err)
	}
	return s, nil
}
