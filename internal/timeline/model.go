package timeline

// EventType enumerates the audit timeline event categories.
type EventType string

const (
	// EventTypeBaselineCaptured marks the lock of a goal cycle with its baseline.
	EventTypeBaselineCaptured EventType = "baseline_captured"
	// EventTypeScoreImprovement marks a status transition to a better rank.
	EventTypeScoreImprovement EventType = "score_improvement"
	// EventTypeScoreDecline marks a status transition to a worse rank.
	EventTypeScoreDecline EventType = "score_decline"
	// EventTypeMetricChange marks a material progress move without a status change.
	EventTypeMetricChange EventType = "metric_change"
	// EventTypeMilestone marks a monthly checkpoint recording.
	EventTypeMilestone EventType = "milestone"
)

// Event is one append-only audit timeline entry. Rows are never updated or
// deleted after insertion; the log is ordered by event timestamp.
type Event struct {
	EventID               string    `gorm:"column:event_id;primaryKey;size:190;not null"`
	UserID                string    `gorm:"column:user_id;size:190;not null;index:idx_timeline_user_time,priority:1"`
	EventType             EventType `gorm:"column:event_type;size:32;not null"`
	Title                 string    `gorm:"column:event_title;size:255;not null"`
	Description           string    `gorm:"column:event_description;type:text;not null;default:''"`
	GoalID                string    `gorm:"column:goal_id;size:190;not null;default:''"`
	GoalType              string    `gorm:"column:goal_type;size:32;not null;default:''"`
	OldValue              string    `gorm:"column:old_value;size:100;not null;default:''"`
	NewValue              string    `gorm:"column:new_value;size:100;not null;default:''"`
	ChangeDelta           float64   `gorm:"column:change_delta;not null;default:0"`
	EventTimestampSeconds int64     `gorm:"column:event_timestamp_s;not null;index:idx_timeline_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "progress_timeline_events"
}
