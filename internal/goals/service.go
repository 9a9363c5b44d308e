package goals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rankcycle/backend/internal/timeline"
)

var (
	// ErrAlreadyLocked indicates an active locked goal already exists for the
	// user and goal type.
	ErrAlreadyLocked = errors.New("goals: goal already locked for current cycle")
	// ErrUnknownGoal indicates the goal identifier does not exist.
	ErrUnknownGoal = errors.New("goals: unknown goal")
	// ErrGoalNotLocked indicates the goal cycle is not active anymore.
	ErrGoalNotLocked = errors.New("goals: goal cycle is not active")
	// ErrOutOfWindow indicates a milestone recorded before its elapsed-time gate.
	ErrOutOfWindow = errors.New("goals: milestone outside its recording window")
	// ErrConcurrencyConflict indicates a stale write detected during a goal mutation.
	ErrConcurrencyConflict = errors.New("goals: concurrent modification detected")
	// ErrInvalidMonth indicates a milestone month outside 1..3.
	ErrInvalidMonth = errors.New("goals: invalid milestone month")
	// ErrNoActiveCycle indicates the user has no locked goals.
	ErrNoActiveCycle = errors.New("goals: no active cycle")
	// ErrCycleNotEnded indicates a refresh attempted before the cycle end.
	ErrCycleNotEnded = errors.New("goals: cycle has not ended yet")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "goals.service.new"
	opLockGoal         = "goals.lock_goal"
	opInitializeGoals  = "goals.initialize_goals"
	opIngestSnapshot   = "goals.ingest_snapshot"
	opRecordMilestone  = "goals.record_milestone"
	opGoalState        = "goals.goal_state"
	opMilestones       = "goals.milestones"
	opListGoals        = "goals.list_goals"
	opListLockedGoals  = "goals.list_locked_goals"
	opCycleInfo        = "goals.cycle_info"
	opRefreshCycle     = "goals.refresh_cycle"
	opExpireCycles     = "goals.expire_cycles"
	opCanRefresh       = "goals.can_refresh"
	defaultMateriality = 5.0
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for goals and timeline events.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the goal lifecycle service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// MaterialityThreshold is the minimum progress move, in percentage
	// points, that emits a timeline event absent a status change. Zero
	// selects the default of 5 points.
	MaterialityThreshold float64
}

// Service owns the goal cycle lifecycle: locking, snapshot ingestion,
// milestone recording and the derived timeline. All mutations of one goal
// are serialized on its row inside a transaction.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	threshold  float64
}

// NewService constructs the goal lifecycle service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	threshold := cfg.MaterialityThreshold
	if threshold <= 0 {
		threshold = defaultMateriality
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		threshold:  threshold,
	}, nil
}

// Definition is the opaque goal creation request supplied by the external
// goal-setting surface.
type Definition struct {
	UserID     UserID
	GoalType   GoalType
	Category   GoalCategory
	Unit       string
	Target     Target
	Baseline   MetricValue
	CycleStart time.Time
}

// GoalState is the externally visible view of one goal.
type GoalState struct {
	GoalID             string
	UserID             string
	GoalType           GoalType
	Category           GoalCategory
	TargetKind         TargetKind
	Unit               string
	Status             GoalStatus
	ProgressPercentage float64
	Baseline           MetricValue
	Current            MetricValue
	Target             Target
	CycleStart         time.Time
	CycleEnd           time.Time
	IsLocked           bool
	LastCalculatedAt   time.Time
}

// CycleInfo summarizes the user's active cycle window.
type CycleInfo struct {
	CycleStart      time.Time
	CycleEnd        time.Time
	DaysElapsed     int
	DaysRemaining   int
	TotalDays       int
	ElapsedFraction float64
}

// LockOutcome is the result of locking one goal.
type LockOutcome struct {
	State  GoalState
	Events []timeline.Event
}

// InitializeOutcome is the result of locking a full cycle's goal set.
type InitializeOutcome struct {
	States []GoalState
	Events []timeline.Event
}

// IngestOutcome is the result of one snapshot ingestion.
type IngestOutcome struct {
	State    GoalState
	Snapshot ProgressSnapshot
	Events   []timeline.Event
}

// MilestoneOutcome is the result of one milestone recording.
type MilestoneOutcome struct {
	Milestone Milestone
	Events    []timeline.Event
}

// LockGoal creates and immediately locks a goal for a 90-day cycle, capturing
// the baseline atomically with the lock. The baseline is write-once: no later
// operation touches it.
func (s *Service) LockGoal(ctx context.Context, def Definition) (LockOutcome, error) {
	if err := s.validateDefinition(opLockGoal, def); err != nil {
		return LockOutcome{}, err
	}

	var outcome LockOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC()
		state, event, err := s.lockGoalInTx(tx, def, now)
		if err != nil {
			return err
		}
		outcome = LockOutcome{State: state, Events: []timeline.Event{event}}
		return nil
	})
	if txErr != nil {
		return LockOutcome{}, txErr
	}
	return outcome, nil
}

// InitializeGoals locks the user's first-cycle goal set: the priority goals
// resolved from the onboarding goal names, plus the standard additional
// goals every cycle carries. Baselines come from the supplied readings.
func (s *Service) InitializeGoals(ctx context.Context, userID UserID, goalNames []string, readings map[GoalType]MetricValue, cycleStart time.Time) (InitializeOutcome, error) {
	selected := make([]GoalType, 0, len(goalNames))
	seen := make(map[GoalType]bool, len(goalNames))
	for _, name := range goalNames {
		goalType, ok := GoalTypeForName(name)
		if !ok {
			s.logger.Warn("unknown onboarding goal name skipped",
				zap.String("operation", opInitializeGoals),
				zap.String("goal_name", name))
			continue
		}
		if seen[goalType] {
			continue
		}
		seen[goalType] = true
		selected = append(selected, goalType)
	}
	for _, goalType := range CatalogGoalTypes() {
		if seen[goalType] {
			continue
		}
		category, _, _, err := DefaultDefinition(goalType, defaultBaseline(goalType))
		if err != nil {
			return InitializeOutcome{}, newServiceError(opInitializeGoals, "catalog_resolve_failed", err)
		}
		if category != GoalCategoryAdditional {
			continue
		}
		seen[goalType] = true
		selected = append(selected, goalType)
	}

	var outcome InitializeOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC()

		var existing Goal
		err := tx.Where("user_id = ? AND is_locked = ?", userID.String(), true).Take(&existing).Error
		if err == nil {
			return newServiceError(opInitializeGoals, "already_initialized", ErrAlreadyLocked)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opInitializeGoals, "goal_select_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opInitializeGoals, "goal_select_failed", err)
		}

		for _, goalType := range selected {
			baseline, ok := readings[goalType]
			if !ok {
				baseline = defaultBaseline(goalType)
			}
			category, unit, target, err := DefaultDefinition(goalType, baseline)
			if err != nil {
				return newServiceError(opInitializeGoals, "catalog_resolve_failed", err)
			}
			def := Definition{
				UserID:     userID,
				GoalType:   goalType,
				Category:   category,
				Unit:       unit,
				Target:     target,
				Baseline:   baseline,
				CycleStart: cycleStart,
			}
			if err := s.validateDefinition(opInitializeGoals, def); err != nil {
				return err
			}
			state, event, err := s.lockGoalInTx(tx, def, now)
			if err != nil {
				return err
			}
			outcome.States = append(outcome.States, state)
			outcome.Events = append(outcome.Events, event)
		}
		return nil
	})
	if txErr != nil {
		return InitializeOutcome{}, txErr
	}

	s.logger.Info("goal cycle initialized",
		zap.String("user_id", userID.String()),
		zap.Int("goals_created", len(outcome.States)))
	return outcome, nil
}

// IngestSnapshot upserts the dated reading for a goal, recomputes the cached
// progress and status from the latest-dated snapshot, and derives a timeline
// event when the change is material. Re-submission for the same date
// overwrites; re-submission of identical state emits nothing.
func (s *Service) IngestSnapshot(ctx context.Context, goalID GoalID, date CivilDate, value MetricValue) (IngestOutcome, error) {
	if value.IsZero() {
		return IngestOutcome{}, newServiceError(opIngestSnapshot, "missing_value", ErrInvalidValue)
	}

	var outcome IngestOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		goal, err := s.takeGoalForUpdate(tx, opIngestSnapshot, goalID)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		if !goal.IsLocked || now.Unix() >= goal.CycleEndSeconds {
			return newServiceError(opIngestSnapshot, "cycle_ended", ErrGoalNotLocked)
		}

		target, err := decodeTarget(goal.TargetJSON)
		if err != nil {
			s.logError(opIngestSnapshot, "target_decode_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opIngestSnapshot, "target_decode_failed", err)
		}
		baseline, err := decodeValue(goal.BaselineJSON)
		if err != nil {
			s.logError(opIngestSnapshot, "baseline_decode_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opIngestSnapshot, "baseline_decode_failed", err)
		}
		if err := target.ValidateValueShape(value); err != nil {
			return newServiceError(opIngestSnapshot, "value_shape_mismatch", err)
		}

		snapshotProgress := CalculateProgress(target, baseline, value, goal.ProgressPercentage)
		valueJSON, err := encodeValue(value)
		if err != nil {
			return newServiceError(opIngestSnapshot, "value_encode_failed", err)
		}

		snapshot := ProgressSnapshot{
			GoalID:             goal.GoalID,
			SnapshotDate:       date.String(),
			ValueJSON:          valueJSON,
			ProgressPercentage: snapshotProgress,
			CreatedAtSeconds:   now.Unix(),
			UpdatedAtSeconds:   now.Unix(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "goal_id"}, {Name: "snapshot_date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"value_json", "progress_percentage", "updated_at_s",
			}),
		}).Create(&snapshot).Error; err != nil {
			s.logError(opIngestSnapshot, "snapshot_upsert_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opIngestSnapshot, "snapshot_upsert_failed", err)
		}

		// The snapshot with the latest date is authoritative for the cached
		// goal state, regardless of arrival order.
		var latest ProgressSnapshot
		if err := tx.Where("goal_id = ?", goal.GoalID).
			Order("snapshot_date DESC").
			Take(&latest).Error; err != nil {
			s.logError(opIngestSnapshot, "latest_snapshot_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opIngestSnapshot, "latest_snapshot_failed", err)
		}

		oldStatus := GoalStatus(goal.Status)
		oldProgress := goal.ProgressPercentage
		newProgress := latest.ProgressPercentage
		newStatus := ResolveStatus(GoalType(goal.GoalType), target.Kind(), newProgress, s.elapsedFraction(goal, now))

		updates := map[string]interface{}{
			"current_json":         latest.ValueJSON,
			"progress_percentage":  newProgress,
			"status":               string(newStatus),
			"last_calculated_at_s": now.Unix(),
			"updated_at_s":         now.Unix(),
		}
		if err := tx.Model(&Goal{}).Where("goal_id = ?", goal.GoalID).Updates(updates).Error; err != nil {
			s.logError(opIngestSnapshot, "goal_update_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opIngestSnapshot, "goal_update_failed", err)
		}

		var events []timeline.Event
		event, material := timeline.FromSnapshotChange(timeline.SnapshotChange{
			UserID:      goal.UserID,
			GoalID:      goal.GoalID,
			GoalType:    goal.GoalType,
			OldStatus:   string(oldStatus),
			NewStatus:   string(newStatus),
			OldProgress: oldProgress,
			NewProgress: newProgress,
			Threshold:   s.threshold,
			At:          now,
		})
		if material {
			if err := s.appendEvent(tx, opIngestSnapshot, &event); err != nil {
				return err
			}
			events = append(events, event)
		}

		goal.CurrentJSON = latest.ValueJSON
		goal.ProgressPercentage = newProgress
		goal.Status = string(newStatus)
		goal.LastCalculatedAtSeconds = now.Unix()
		goal.UpdatedAtSeconds = now.Unix()

		state, err := stateFromRecord(goal)
		if err != nil {
			return newServiceError(opIngestSnapshot, "state_decode_failed", err)
		}
		outcome = IngestOutcome{State: state, Snapshot: snapshot, Events: events}
		return nil
	})
	if txErr != nil {
		return IngestOutcome{}, txErr
	}
	return outcome, nil
}

// RecordMilestone records the actual reading for one monthly checkpoint.
// Month N is only recordable once N thirds of the cycle have elapsed, and an
// achieved milestone never reverts to unachieved.
func (s *Service) RecordMilestone(ctx context.Context, goalID GoalID, monthNumber int, actual MetricValue) (MilestoneOutcome, error) {
	if monthNumber < 1 || monthNumber > MilestonesPerCycle {
		return MilestoneOutcome{}, newServiceError(opRecordMilestone, "invalid_month", fmt.Errorf("%w: %d", ErrInvalidMonth, monthNumber))
	}
	if actual.IsZero() {
		return MilestoneOutcome{}, newServiceError(opRecordMilestone, "missing_value", ErrInvalidValue)
	}

	var outcome MilestoneOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		goal, err := s.takeGoalForUpdate(tx, opRecordMilestone, goalID)
		if err != nil {
			return err
		}
		if !goal.IsLocked {
			return newServiceError(opRecordMilestone, "cycle_ended", ErrGoalNotLocked)
		}

		now := s.clock().UTC()
		gate := milestoneGate(goal, monthNumber)
		if now.Before(gate) {
			return newServiceError(opRecordMilestone, "before_window",
				fmt.Errorf("%w: month %d opens at %s", ErrOutOfWindow, monthNumber, gate.Format(time.RFC3339)))
		}

		var milestone Milestone
		if err := tx.Where("goal_id = ? AND month_number = ?", goal.GoalID, monthNumber).
			Take(&milestone).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opRecordMilestone, "milestone_missing", ErrConcurrencyConflict)
			}
			s.logError(opRecordMilestone, "milestone_select_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opRecordMilestone, "milestone_select_failed", err)
		}

		milestoneTarget, err := decodeTarget(milestone.TargetJSON)
		if err != nil {
			s.logError(opRecordMilestone, "target_decode_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opRecordMilestone, "target_decode_failed", err)
		}
		if err := milestoneTarget.ValidateValueShape(actual); err != nil {
			return newServiceError(opRecordMilestone, "value_shape_mismatch", err)
		}

		actualJSON, err := encodeValue(actual)
		if err != nil {
			return newServiceError(opRecordMilestone, "value_encode_failed", err)
		}
		achieved := milestone.Achieved || milestoneTarget.Met(actual)

		updates := map[string]interface{}{
			"actual_json":   actualJSON,
			"achieved":      achieved,
			"recorded_at_s": now.Unix(),
			"updated_at_s":  now.Unix(),
		}
		if err := tx.Model(&Milestone{}).
			Where("goal_id = ? AND month_number = ?", goal.GoalID, monthNumber).
			Updates(updates).Error; err != nil {
			s.logError(opRecordMilestone, "milestone_update_failed", err, zap.String("goal_id", goal.GoalID))
			return newServiceError(opRecordMilestone, "milestone_update_failed", err)
		}

		event := timeline.MilestoneRecorded(goal.UserID, goal.GoalID, goal.GoalType, monthNumber, achieved, now)
		if err := s.appendEvent(tx, opRecordMilestone, &event); err != nil {
			return err
		}

		milestone.ActualJSON = actualJSON
		milestone.Achieved = achieved
		milestone.RecordedAtSeconds = now.Unix()
		milestone.UpdatedAtSeconds = now.Unix()
		outcome = MilestoneOutcome{Milestone: milestone, Events: []timeline.Event{event}}
		return nil
	})
	if txErr != nil {
		return MilestoneOutcome{}, txErr
	}
	return outcome, nil
}

// GoalState returns the current state view of a goal.
func (s *Service) GoalState(ctx context.Context, goalID GoalID) (GoalState, error) {
	var goal Goal
	err := s.db.WithContext(ctx).Where("goal_id = ?", goalID.String()).Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GoalState{}, newServiceError(opGoalState, "not_found", ErrUnknownGoal)
	}
	if err != nil {
		s.logError(opGoalState, "query_failed", err, zap.String("goal_id", goalID.String()))
		return GoalState{}, newServiceError(opGoalState, "query_failed", err)
	}
	state, err := stateFromRecord(goal)
	if err != nil {
		return GoalState{}, newServiceError(opGoalState, "state_decode_failed", err)
	}
	return state, nil
}

// Milestones returns the goal's three monthly checkpoints in month order.
func (s *Service) Milestones(ctx context.Context, goalID GoalID) ([]Milestone, error) {
	var goal Goal
	err := s.db.WithContext(ctx).Where("goal_id = ?", goalID.String()).Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opMilestones, "not_found", ErrUnknownGoal)
	}
	if err != nil {
		s.logError(opMilestones, "query_failed", err, zap.String("goal_id", goalID.String()))
		return nil, newServiceError(opMilestones, "query_failed", err)
	}

	var milestones []Milestone
	if err := s.db.WithContext(ctx).
		Where("goal_id = ?", goalID.String()).
		Order("month_number ASC").
		Find(&milestones).Error; err != nil {
		s.logError(opMilestones, "query_failed", err, zap.String("goal_id", goalID.String()))
		return nil, newServiceError(opMilestones, "query_failed", err)
	}
	return milestones, nil
}

// ListGoals returns the user's locked goals, priority category first.
func (s *Service) ListGoals(ctx context.Context, userID UserID) ([]GoalState, error) {
	var records []Goal
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_locked = ?", userID.String(), true).
		Order("created_at_s ASC").
		Find(&records).Error; err != nil {
		s.logError(opListGoals, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListGoals, "query_failed", err)
	}

	states := make([]GoalState, 0, len(records))
	for _, record := range records {
		state, err := stateFromRecord(record)
		if err != nil {
			return nil, newServiceError(opListGoals, "state_decode_failed", err)
		}
		states = append(states, state)
	}
	sort.SliceStable(states, func(i, j int) bool {
		if states[i].Category != states[j].Category {
			return states[i].Category == GoalCategoryPriority
		}
		return false
	})
	return states, nil
}

// ListLockedGoals returns every locked goal across all users, for the
// ingestion poller.
func (s *Service) ListLockedGoals(ctx context.Context) ([]GoalState, error) {
	var records []Goal
	if err := s.db.WithContext(ctx).
		Where("is_locked = ?", true).
		Order("created_at_s ASC").
		Find(&records).Error; err != nil {
		s.logError(opListLockedGoals, "query_failed", err)
		return nil, newServiceError(opListLockedGoals, "query_failed", err)
	}
	states := make([]GoalState, 0, len(records))
	for _, record := range records {
		state, err := stateFromRecord(record)
		if err != nil {
			return nil, newServiceError(opListLockedGoals, "state_decode_failed", err)
		}
		states = append(states, state)
	}
	return states, nil
}

// CycleInfo summarizes the user's active cycle window.
func (s *Service) CycleInfo(ctx context.Context, userID UserID) (CycleInfo, error) {
	var goal Goal
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_locked = ?", userID.String(), true).
		Order("created_at_s ASC").
		Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CycleInfo{}, newServiceError(opCycleInfo, "no_active_cycle", ErrNoActiveCycle)
	}
	if err != nil {
		s.logError(opCycleInfo, "query_failed", err, zap.String("user_id", userID.String()))
		return CycleInfo{}, newServiceError(opCycleInfo, "query_failed", err)
	}

	now := s.clock().UTC()
	start := time.Unix(goal.CycleStartSeconds, 0).UTC()
	end := time.Unix(goal.CycleEndSeconds, 0).UTC()
	totalDays := int(end.Sub(start).Hours() / 24)
	elapsedDays := int(now.Sub(start).Hours() / 24)
	remaining := totalDays - elapsedDays
	if remaining < 0 {
		remaining = 0
	}
	return CycleInfo{
		CycleStart:      start,
		CycleEnd:        end,
		DaysElapsed:     elapsedDays,
		DaysRemaining:   remaining,
		TotalDays:       totalDays,
		ElapsedFraction: s.elapsedFraction(goal, now),
	}, nil
}

// CanRefresh reports whether the user may start a new cycle: either no
// locked goals exist, or the current cycle has ended.
func (s *Service) CanRefresh(ctx context.Context, userID UserID) (bool, error) {
	var goal Goal
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_locked = ?", userID.String(), true).
		Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		s.logError(opCanRefresh, "query_failed", err, zap.String("user_id", userID.String()))
		return false, newServiceError(opCanRefresh, "query_failed", err)
	}
	return s.clock().UTC().Unix() >= goal.CycleEndSeconds, nil
}

// RefreshCycle archives the user's ended cycle and locks a fresh one. It
// fails while the current cycle is still running.
func (s *Service) RefreshCycle(ctx context.Context, userID UserID, goalNames []string, readings map[GoalType]MetricValue, cycleStart time.Time) (InitializeOutcome, error) {
	allowed, err := s.CanRefresh(ctx, userID)
	if err != nil {
		return InitializeOutcome{}, err
	}
	if !allowed {
		return InitializeOutcome{}, newServiceError(opRefreshCycle, "cycle_active", ErrCycleNotEnded)
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&Goal{}).
		Where("user_id = ? AND is_locked = ?", userID.String(), true).
		Updates(map[string]interface{}{"is_locked": false, "updated_at_s": now.Unix()}).Error; err != nil {
		s.logError(opRefreshCycle, "unlock_failed", err, zap.String("user_id", userID.String()))
		return InitializeOutcome{}, newServiceError(opRefreshCycle, "unlock_failed", err)
	}

	return s.InitializeGoals(ctx, userID, goalNames, readings, cycleStart)
}

// ExpireCycles unlocks every goal whose cycle end has passed. It emits no
// timeline events; the unlock is a calendar fact, not a progress change.
func (s *Service) ExpireCycles(ctx context.Context) (int64, error) {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Goal{}).
		Where("is_locked = ? AND cycle_end_s <= ?", true, now.Unix()).
		Updates(map[string]interface{}{"is_locked": false, "updated_at_s": now.Unix()})
	if result.Error != nil {
		s.logError(opExpireCycles, "update_failed", result.Error)
		return 0, newServiceError(opExpireCycles, "update_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("expired goal cycles unlocked", zap.Int64("goals", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *Service) validateDefinition(operation string, def Definition) error {
	if def.UserID == "" {
		return newServiceError(operation, "missing_user_id", ErrInvalidUserID)
	}
	if _, err := ParseGoalType(string(def.GoalType)); err != nil {
		return newServiceError(operation, "invalid_goal_type", err)
	}
	if def.Baseline.IsZero() {
		return newServiceError(operation, "missing_baseline", fmt.Errorf("%w: baseline reading is required", ErrInvalidValue))
	}
	if err := ValidateTargetForGoalType(def.GoalType, def.Target); err != nil {
		return newServiceError(operation, "invalid_target", err)
	}
	if err := def.Target.ValidateValueShape(def.Baseline); err != nil {
		return newServiceError(operation, "baseline_shape_mismatch", err)
	}
	return nil
}

// lockGoalInTx performs the lock inside the caller's transaction: the goal
// row, its three interpolated milestones and the baseline_captured event are
// written atomically.
func (s *Service) lockGoalInTx(tx *gorm.DB, def Definition, now time.Time) (GoalState, timeline.Event, error) {
	var existing Goal
	err := tx.Where("user_id = ? AND goal_type = ? AND is_locked = ?",
		def.UserID.String(), string(def.GoalType), true).
		Take(&existing).Error
	if err == nil {
		return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "already_locked", ErrAlreadyLocked)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opLockGoal, "goal_select_failed", err, zap.String("user_id", def.UserID.String()))
		return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "goal_select_failed", err)
	}

	cycleStart := def.CycleStart
	if cycleStart.IsZero() {
		cycleStart = now
	}
	cycleStart = CivilDateOf(cycleStart).Time()
	cycleEnd := cycleStart.Add(CycleDuration)

	goalID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opLockGoal, "id_generation_failed", err)
		return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "id_generation_failed", err)
	}

	category := def.Category
	if category == "" {
		category = GoalCategoryPriority
	}

	baselineJSON, err := encodeValue(def.Baseline)
	if err != nil {
		return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "baseline_encode_failed", err)
	}
	targetJSON, err := encodeTarget(def.Target)
	if err != nil {
		return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "target_encode_failed", err)
	}

	goal := Goal{
		GoalID:                  goalID,
		UserID:                  def.UserID.String(),
		GoalType:                string(def.GoalType),
		GoalCategory:            string(category),
		CycleStartSeconds:       cycleStart.Unix(),
		CycleEndSeconds:         cycleEnd.Unix(),
		IsLocked:                true,
		TargetKind:              string(def.Target.Kind()),
		Unit:                    def.Unit,
		BaselineJSON:            baselineJSON,
		CurrentJSON:             baselineJSON,
		TargetJSON:              targetJSON,
		Status:                  string(InitialStatus(def.GoalType, def.Target.Kind())),
		ProgressPercentage:      0,
		LastCalculatedAtSeconds: now.Unix(),
		CreatedAtSeconds:        now.Unix(),
		UpdatedAtSeconds:        now.Unix(),
	}
	if err := tx.Create(&goal).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "lock_conflict", ErrConcurrencyConflict)
		}
		s.logError(opLockGoal, "goal_insert_failed", err, zap.String("user_id", def.UserID.String()))
		return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "goal_insert_failed", err)
	}

	for month := 1; month <= MilestonesPerCycle; month++ {
		milestoneTarget, err := def.Target.MilestoneTarget(month, def.Baseline)
		if err != nil {
			return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "milestone_target_failed", err)
		}
		milestoneTargetJSON, err := encodeTarget(milestoneTarget)
		if err != nil {
			return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "milestone_encode_failed", err)
		}
		milestone := Milestone{
			GoalID:           goalID,
			MonthNumber:      month,
			TargetJSON:       milestoneTargetJSON,
			CreatedAtSeconds: now.Unix(),
			UpdatedAtSeconds: now.Unix(),
		}
		if err := tx.Create(&milestone).Error; err != nil {
			s.logError(opLockGoal, "milestone_insert_failed", err, zap.String("goal_id", goalID))
			return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "milestone_insert_failed", err)
		}
	}

	event := timeline.BaselineCaptured(def.UserID.String(), goalID, string(def.GoalType), now)
	if err := s.appendEvent(tx, opLockGoal, &event); err != nil {
		return GoalState{}, timeline.Event{}, err
	}

	state, err := stateFromRecord(goal)
	if err != nil {
		return GoalState{}, timeline.Event{}, newServiceError(opLockGoal, "state_decode_failed", err)
	}
	return state, event, nil
}

func (s *Service) takeGoalForUpdate(tx *gorm.DB, operation string, goalID GoalID) (Goal, error) {
	var goal Goal
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("goal_id = ?", goalID.String()).
		Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Goal{}, newServiceError(operation, "not_found", ErrUnknownGoal)
	}
	if err != nil {
		s.logError(operation, "goal_select_failed", err, zap.String("goal_id", goalID.String()))
		return Goal{}, newServiceError(operation, "goal_select_failed", err)
	}
	return goal, nil
}

func (s *Service) appendEvent(tx *gorm.DB, operation string, event *timeline.Event) error {
	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return newServiceError(operation, "id_generation_failed", err)
	}
	event.EventID = eventID
	if err := tx.Create(event).Error; err != nil {
		s.logError(operation, "event_insert_failed", err, zap.String("event_type", string(event.EventType)))
		return newServiceError(operation, "event_insert_failed", err)
	}
	return nil
}

func (s *Service) elapsedFraction(goal Goal, now time.Time) float64 {
	total := goal.CycleEndSeconds - goal.CycleStartSeconds
	if total <= 0 {
		return 1
	}
	fraction := float64(now.Unix()-goal.CycleStartSeconds) / float64(total)
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}

func milestoneGate(goal Goal, monthNumber int) time.Time {
	total := goal.CycleEndSeconds - goal.CycleStartSeconds
	gateSeconds := goal.CycleStartSeconds + total*int64(monthNumber)/int64(MilestonesPerCycle)
	return time.Unix(gateSeconds, 0).UTC()
}

func stateFromRecord(goal Goal) (GoalState, error) {
	baseline, err := decodeValue(goal.BaselineJSON)
	if err != nil {
		return GoalState{}, err
	}
	current, err := decodeValue(goal.CurrentJSON)
	if err != nil {
		return GoalState{}, err
	}
	target, err := decodeTarget(goal.TargetJSON)
	if err != nil {
		return GoalState{}, err
	}
	return GoalState{
		GoalID:             goal.GoalID,
		UserID:             goal.UserID,
		GoalType:           GoalType(goal.GoalType),
		Category:           GoalCategory(goal.GoalCategory),
		TargetKind:         TargetKind(goal.TargetKind),
		Unit:               goal.Unit,
		Status:             GoalStatus(goal.Status),
		ProgressPercentage: goal.ProgressPercentage,
		Baseline:           baseline,
		Current:            current,
		Target:             target,
		CycleStart:         time.Unix(goal.CycleStartSeconds, 0).UTC(),
		CycleEnd:           time.Unix(goal.CycleEndSeconds, 0).UTC(),
		IsLocked:           goal.IsLocked,
		LastCalculatedAt:   time.Unix(goal.LastCalculatedAtSeconds, 0).UTC(),
	}, nil
}

func defaultBaseline(goalType GoalType) MetricValue {
	if goalType != GoalTypeKeywordRankings {
		return NewScalarValue(0)
	}
	counts := make(map[string]float64)
	for _, share := range firstCycleCatalog[GoalTypeKeywordRankings].slabShares {
		counts[share.label] = 0
	}
	value, err := NewDistributionValue(counts)
	if err != nil {
		return NewScalarValue(0)
	}
	return value
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("goals service error", attrs...)
}
