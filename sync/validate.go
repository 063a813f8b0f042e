package sync

import (
	"fmt"

	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

// ValidationError marks a structurally invalid delta. Handlers map it to
// HTTP 400; the snapshot is guaranteed untouched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// validateDelta runs the fail-fast structural checks before any state is
// loaded. Per-qid counter maps are not checked here; out-of-range entries
// in those are skipped item by item during apply instead, matching the
// tolerant handling of the additive/latest merge rules.
func validateDelta(delta *models.MergeRequest) error {
	if err := validateDayUniqueDelta("streak3TodayDelta", delta.Streak3TodayDelta); err != nil {
		return err
	}
	if err := validateDayUniqueDelta("streak3WrongTodayDelta", delta.Streak3WrongTodayDelta); err != nil {
		return err
	}

	if d := delta.OncePerDayTodayDelta; d != nil {
		if !utils.ValidDayStamp(d.Day) {
			return invalid("oncePerDayTodayDelta", fmt.Sprintf("day %d is not an 8-digit day stamp", d.Day))
		}
		if d.Results == nil {
			return invalid("oncePerDayTodayDelta", "results is missing")
		}
		for qid, v := range d.Results {
			if qid == "" {
				return invalid("oncePerDayTodayDelta", "empty qid in results")
			}
			if !models.ValidOutcome(v) {
				return invalid("oncePerDayTodayDelta", fmt.Sprintf("result %q for qid %s", v, qid))
			}
		}
	}

	for qid, v := range delta.Fav {
		if qid == "" {
			return invalid("fav", "empty qid")
		}
		if !models.ValidFav(v) {
			return invalid("fav", fmt.Sprintf("value %q for qid %s", v, qid))
		}
	}

	return nil
}

func validateDayUniqueDelta(field string, d *models.DayUniqueDelta) error {
	if d == nil {
		return nil
	}
	if !utils.ValidDayStamp(d.Day) {
		return invalid(field, fmt.Sprintf("day %d is not an 8-digit day stamp", d.Day))
	}
	if d.Qids == nil {
		return invalid(field, "qids is missing")
	}
	for _, qid := range d.Qids {
		if qid == "" {
			return invalid(field, "empty qid in qids")
		}
	}
	if d.UniqueCount != nil && *d.UniqueCount != len(d.Qids) {
		return invalid(field, fmt.Sprintf("unique_count %d does not match %d qids", *d.UniqueCount, len(d.Qids)))
	}
	return nil
}
