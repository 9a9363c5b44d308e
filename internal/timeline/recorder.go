package timeline

import (
	"fmt"
	"strconv"
	"time"
)

// statusOrdinal ranks goal statuses for improvement/decline classification:
// completed > on_track > at_risk > paused.
var statusOrdinal = map[string]int{
	"paused":    0,
	"at_risk":   1,
	"on_track":  2,
	"completed": 3,
}

// SnapshotChange captures the observable state delta of one snapshot
// ingestion, in the terms the recorder needs to classify it.
type SnapshotChange struct {
	UserID      string
	GoalID      string
	GoalType    string
	OldStatus   string
	NewStatus   string
	OldProgress float64
	NewProgress float64
	// Threshold is the materiality threshold in percentage points below
	// which a progress move without a status change is suppressed.
	Threshold float64
	At        time.Time
}

// BaselineCaptured builds the lock event for a freshly locked goal cycle.
func BaselineCaptured(userID, goalID, goalType string, at time.Time) Event {
	return Event{
		UserID:                userID,
		EventType:             EventTypeBaselineCaptured,
		Title:                 "Baseline Performance Captured",
		Description:           fmt.Sprintf("Baseline for %s locked for the 90-day cycle.", goalType),
		GoalID:                goalID,
		GoalType:              goalType,
		EventTimestampSeconds: at.Unix(),
	}
}

// MilestoneRecorded builds the event for a monthly checkpoint recording.
func MilestoneRecorded(userID, goalID, goalType string, monthNumber int, achieved bool, at time.Time) Event {
	outcome := "missed"
	if achieved {
		outcome = "achieved"
	}
	return Event{
		UserID:                userID,
		EventType:             EventTypeMilestone,
		Title:                 fmt.Sprintf("Month %d Milestone Recorded", monthNumber),
		Description:           fmt.Sprintf("Month %d checkpoint for %s was %s.", monthNumber, goalType, outcome),
		GoalID:                goalID,
		GoalType:              goalType,
		NewValue:              outcome,
		EventTimestampSeconds: at.Unix(),
	}
}

// FromSnapshotChange derives the timeline event for a snapshot ingestion, or
// reports none when the change is below the materiality threshold. A status
// transition always produces an event; a pure progress move produces one only
// when it exceeds the threshold.
func FromSnapshotChange(change SnapshotChange) (Event, bool) {
	delta := change.NewProgress - change.OldProgress
	if change.NewStatus != change.OldStatus {
		eventType := EventTypeScoreDecline
		title := "Goal Status Declined"
		if statusOrdinal[change.NewStatus] > statusOrdinal[change.OldStatus] {
			eventType = EventTypeScoreImprovement
			title = "Goal Status Improved"
		}
		return Event{
			UserID:                change.UserID,
			EventType:             eventType,
			Title:                 title,
			Description:           fmt.Sprintf("%s moved from %s to %s.", change.GoalType, change.OldStatus, change.NewStatus),
			GoalID:                change.GoalID,
			GoalType:              change.GoalType,
			OldValue:              change.OldStatus,
			NewValue:              change.NewStatus,
			ChangeDelta:           delta,
			EventTimestampSeconds: change.At.Unix(),
		}, true
	}

	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude <= change.Threshold {
		return Event{}, false
	}
	return Event{
		UserID:                change.UserID,
		EventType:             EventTypeMetricChange,
		Title:                 "Goal Progress Changed",
		Description:           fmt.Sprintf("%s progress moved by %.1f points.", change.GoalType, delta),
		GoalID:                change.GoalID,
		GoalType:              change.GoalType,
		OldValue:              formatProgress(change.OldProgress),
		NewValue:              formatProgress(change.NewProgress),
		ChangeDelta:           delta,
		EventTimestampSeconds: change.At.Unix(),
	}, true
}

func formatProgress(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64)
}
