package goals

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GoalType enumerates the tracked SEO metrics a goal can target.
type GoalType string

const (
	// GoalTypeOrganicTraffic tracks organic click volume.
	GoalTypeOrganicTraffic GoalType = "organic-traffic"
	// GoalTypeKeywordRankings tracks keyword position distribution.
	GoalTypeKeywordRankings GoalType = "keyword-rankings"
	// GoalTypeSerpFeatures tracks SERP feature presence.
	GoalTypeSerpFeatures GoalType = "serp-features"
	// GoalTypeAvgPosition tracks average ranking position.
	GoalTypeAvgPosition GoalType = "avg-position"
	// GoalTypeImpressions tracks search impression volume.
	GoalTypeImpressions GoalType = "impressions"
	// GoalTypeDomainAuthority tracks domain authority score.
	GoalTypeDomainAuthority GoalType = "domain-authority"
)

// GoalCategory separates user-selected priority goals from the standard
// supporting goals every cycle carries.
type GoalCategory string

const (
	// GoalCategoryPriority marks goals the user committed to during onboarding.
	GoalCategoryPriority GoalCategory = "priority"
	// GoalCategoryAdditional marks the standard supporting goals.
	GoalCategoryAdditional GoalCategory = "additional"
)

// GoalStatus is the categorical progress status of a goal.
type GoalStatus string

const (
	// StatusOnTrack indicates progress consistent with the cycle target.
	StatusOnTrack GoalStatus = "on_track"
	// StatusAtRisk indicates progress behind the cycle target.
	StatusAtRisk GoalStatus = "at_risk"
	// StatusPaused indicates tracking is suspended for the goal.
	StatusPaused GoalStatus = "paused"
	// StatusCompleted indicates the target has been reached.
	StatusCompleted GoalStatus = "completed"
)

const maxIdentifierLength = 190

// CycleDuration is the fixed length of a goal cycle.
const CycleDuration = 90 * 24 * time.Hour

// MilestonesPerCycle is the number of monthly checkpoints inside a cycle.
const MilestonesPerCycle = 3

var (
	// ErrInvalidGoalID indicates that a goal identifier is empty or exceeds storage bounds.
	ErrInvalidGoalID = errors.New("goals: invalid goal id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("goals: invalid user id")
	// ErrInvalidGoalType indicates an unrecognized goal type label.
	ErrInvalidGoalType = errors.New("goals: invalid goal type")
	// ErrInvalidDate indicates a snapshot date that is not a valid civil date.
	ErrInvalidDate = errors.New("goals: invalid date")
)

// GoalID represents a validated goal identifier.
type GoalID string

// NewGoalID validates raw input and returns a GoalID.
func NewGoalID(rawInput string) (GoalID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidGoalID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidGoalID, maxIdentifierLength)
	}
	return GoalID(trimmed), nil
}

// String returns the underlying string identifier.
func (id GoalID) String() string {
	return string(id)
}

// UserID represents a validated owning-user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseGoalType validates a raw goal type label.
func ParseGoalType(rawInput string) (GoalType, error) {
	switch GoalType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case GoalTypeOrganicTraffic:
		return GoalTypeOrganicTraffic, nil
	case GoalTypeKeywordRankings:
		return GoalTypeKeywordRankings, nil
	case GoalTypeSerpFeatures:
		return GoalTypeSerpFeatures, nil
	case GoalTypeAvgPosition:
		return GoalTypeAvgPosition, nil
	case GoalTypeImpressions:
		return GoalTypeImpressions, nil
	case GoalTypeDomainAuthority:
		return GoalTypeDomainAuthority, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGoalType, rawInput)
	}
}

// CivilDate represents a validated calendar date in ISO form (YYYY-MM-DD).
type CivilDate string

const civilDateLayout = "2006-01-02"

// NewCivilDate validates raw input and returns a CivilDate.
func NewCivilDate(rawInput string) (CivilDate, error) {
	trimmed := strings.TrimSpace(rawInput)
	parsed, err := time.Parse(civilDateLayout, trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, rawInput)
	}
	return CivilDate(parsed.Format(civilDateLayout)), nil
}

// CivilDateOf truncates a point in time to its UTC calendar date.
func CivilDateOf(at time.Time) CivilDate {
	return CivilDate(at.UTC().Format(civilDateLayout))
}

// String returns the ISO date string.
func (d CivilDate) String() string {
	return string(d)
}

// Time returns the UTC midnight instant of the date.
func (d CivilDate) Time() time.Time {
	parsed, _ := time.Parse(civilDateLayout, string(d))
	return parsed
}

// Goal models a persisted 90-day goal with its locked baseline and cached
// progress state. Baseline and target are written once at lock time; only
// snapshot ingestion and milestone recording mutate the row afterwards.
type Goal struct {
	GoalID                  string  `gorm:"column:goal_id;primaryKey;size:190;not null"`
	UserID                  string  `gorm:"column:user_id;size:190;not null;uniqueIndex:uniq_goals_user_type_cycle,priority:1;index:idx_goals_user_locked,priority:1"`
	GoalType                string  `gorm:"column:goal_type;size:32;not null;uniqueIndex:uniq_goals_user_type_cycle,priority:2"`
	GoalCategory            string  `gorm:"column:goal_category;size:16;not null"`
	CycleStartSeconds       int64   `gorm:"column:cycle_start_s;not null;uniqueIndex:uniq_goals_user_type_cycle,priority:3"`
	CycleEndSeconds         int64   `gorm:"column:cycle_end_s;not null"`
	IsLocked                bool    `gorm:"column:is_locked;not null;default:false;index:idx_goals_user_locked,priority:2"`
	TargetKind              string  `gorm:"column:target_kind;size:16;not null"`
	Unit                    string  `gorm:"column:unit;size:64;not null;default:''"`
	BaselineJSON            string  `gorm:"column:baseline_json;type:text;not null"`
	CurrentJSON             string  `gorm:"column:current_json;type:text;not null"`
	TargetJSON              string  `gorm:"column:target_json;type:text;not null"`
	Status                  string  `gorm:"column:status;size:20;not null;default:'on_track'"`
	ProgressPercentage      float64 `gorm:"column:progress_percentage;not null;default:0"`
	LastCalculatedAtSeconds int64   `gorm:"column:last_calculated_at_s;not null;default:0"`
	CreatedAtSeconds        int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds        int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Goal) TableName() string {
	return "strategy_goals"
}

// Milestone models one of the three monthly checkpoints inside a goal cycle.
// Achieved is computed at recording time and never reverts once true.
type Milestone struct {
	GoalID            string `gorm:"column:goal_id;primaryKey;size:190;not null"`
	MonthNumber       int    `gorm:"column:month_number;primaryKey;not null"`
	TargetJSON        string `gorm:"column:target_json;type:text;not null"`
	ActualJSON        string `gorm:"column:actual_json;type:text;not null;default:''"`
	Achieved          bool   `gorm:"column:achieved;not null;default:false"`
	RecordedAtSeconds int64  `gorm:"column:recorded_at_s;not null;default:0"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Milestone) TableName() string {
	return "goal_milestones"
}

// Recorded reports whether an actual value has been recorded for the milestone.
func (m Milestone) Recorded() bool {
	return m.RecordedAtSeconds > 0
}

// ProgressSnapshot models one dated metric reading with the progress
// percentage computed for it. Exactly one row exists per (goal, date);
// re-submission for the same date overwrites.
type ProgressSnapshot struct {
	GoalID             string  `gorm:"column:goal_id;primaryKey;size:190;not null"`
	SnapshotDate       string  `gorm:"column:snapshot_date;primaryKey;size:10;not null;index:idx_snapshots_date"`
	ValueJSON          string  `gorm:"column:value_json;type:text;not null"`
	ProgressPercentage float64 `gorm:"column:progress_percentage;not null;default:0"`
	CreatedAtSeconds   int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds   int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProgressSnapshot) TableName() string {
	return "goal_progress_snapshots"
}

// statusRank orders statuses for improvement/decline classification:
// completed > on_track > at_risk > paused.
var statusRank = map[GoalStatus]int{
	StatusPaused:    0,
	StatusAtRisk:    1,
	StatusOnTrack:   2,
	StatusCompleted: 3,
}

// StatusRank exposes the ordinal rank of a status.
func StatusRank(status GoalStatus) int {
	return statusRank[status]
}
