package goals

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/rankcycle/backend/internal/timeline"
)

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *testClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:rankcycle_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Goal{}, &Milestone{}, &ProgressSnapshot{}, &timeline.Event{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct goals service: %v", err)
	}
	return service, db, clock
}

func lockTrafficGoal(t *testing.T, service *Service) GoalState {
	t.Helper()
	outcome, err := service.LockGoal(context.Background(), Definition{
		UserID:   mustUserID(t, "user-1"),
		GoalType: GoalTypeOrganicTraffic,
		Category: GoalCategoryPriority,
		Unit:     "visitors/month",
		Target:   NewGrowthTarget(2000),
		Baseline: NewScalarValue(1000),
	})
	if err != nil {
		t.Fatalf("unexpected lock error: %v", err)
	}
	return outcome.State
}

func TestLockGoalCapturesBaselineAndMilestones(t *testing.T) {
	service, db, clock := newTestService(t)
	state := lockTrafficGoal(t, service)

	if !state.IsLocked {
		t.Fatalf("expected the goal to be locked")
	}
	if state.Status != StatusOnTrack {
		t.Fatalf("expected initial on_track status, got %s", state.Status)
	}
	if state.ProgressPercentage != 0 {
		t.Fatalf("expected zero initial progress, got %.1f", state.ProgressPercentage)
	}
	expectedStart := CivilDateOf(clock.Now()).Time()
	if !state.CycleStart.Equal(expectedStart) {
		t.Fatalf("expected cycle start %s, got %s", expectedStart, state.CycleStart)
	}
	if !state.CycleEnd.Equal(expectedStart.Add(CycleDuration)) {
		t.Fatalf("expected a 90 day cycle, got end %s", state.CycleEnd)
	}

	var milestones []Milestone
	if err := db.Where("goal_id = ?", state.GoalID).Order("month_number ASC").Find(&milestones).Error; err != nil {
		t.Fatalf("failed to load milestones: %v", err)
	}
	if len(milestones) != 3 {
		t.Fatalf("expected 3 milestones, got %d", len(milestones))
	}
	for i, milestone := range milestones {
		if milestone.Recorded() {
			t.Fatalf("milestone %d should start unrecorded", i+1)
		}
	}

	var events []timeline.Event
	if err := db.Find(&events).Error; err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != timeline.EventTypeBaselineCaptured {
		t.Fatalf("expected a single baseline_captured event, got %+v", events)
	}
}

func TestLockGoalRejectsSecondActiveLock(t *testing.T) {
	service, _, _ := newTestService(t)
	lockTrafficGoal(t, service)

	_, err := service.LockGoal(context.Background(), Definition{
		UserID:   mustUserID(t, "user-1"),
		GoalType: GoalTypeOrganicTraffic,
		Category: GoalCategoryPriority,
		Unit:     "visitors/month",
		Target:   NewGrowthTarget(3000),
		Baseline: NewScalarValue(1000),
	})
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
}

func TestLockGoalRejectsMismatchedBaselineShape(t *testing.T) {
	service, _, _ := newTestService(t)
	_, err := service.LockGoal(context.Background(), Definition{
		UserID:   mustUserID(t, "user-1"),
		GoalType: GoalTypeOrganicTraffic,
		Category: GoalCategoryPriority,
		Unit:     "visitors/month",
		Target:   NewGrowthTarget(2000),
		Baseline: mustDistribution(t, map[string]float64{"Top 10": 3}),
	})
	if !errors.Is(err, ErrValueShapeMismatch) {
		t.Fatalf("expected ErrValueShapeMismatch, got %v", err)
	}
}

func TestIngestSnapshotComputesProgressAndEmitsEvent(t *testing.T) {
	service, db, _ := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)

	outcome, err := service.IngestSnapshot(context.Background(), goalID, mustCivilDate(t, "2026-01-20"), NewScalarValue(1500))
	if err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	if outcome.State.ProgressPercentage != 50 {
		t.Fatalf("expected 50%% progress, got %.1f", outcome.State.ProgressPercentage)
	}
	if outcome.State.Status != StatusOnTrack {
		t.Fatalf("expected on_track, got %s", outcome.State.Status)
	}
	if len(outcome.Events) != 1 || outcome.Events[0].EventType != timeline.EventTypeMetricChange {
		t.Fatalf("expected a metric_change event, got %+v", outcome.Events)
	}

	var stored Goal
	if err := db.Where("goal_id = ?", state.GoalID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load goal: %v", err)
	}
	if stored.ProgressPercentage != 50 {
		t.Fatalf("expected cached progress 50, got %.1f", stored.ProgressPercentage)
	}
}

func TestIngestSnapshotIsIdempotent(t *testing.T) {
	service, db, _ := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)
	date := mustCivilDate(t, "2026-01-20")

	if _, err := service.IngestSnapshot(context.Background(), goalID, date, NewScalarValue(1500)); err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	outcome, err := service.IngestSnapshot(context.Background(), goalID, date, NewScalarValue(1500))
	if err != nil {
		t.Fatalf("unexpected repeat ingest error: %v", err)
	}
	if len(outcome.Events) != 0 {
		t.Fatalf("expected identical re-ingest to emit nothing, got %+v", outcome.Events)
	}

	var snapshotCount int64
	if err := db.Model(&ProgressSnapshot{}).Where("goal_id = ?", state.GoalID).Count(&snapshotCount).Error; err != nil {
		t.Fatalf("failed to count snapshots: %v", err)
	}
	if snapshotCount != 1 {
		t.Fatalf("expected a single snapshot row, got %d", snapshotCount)
	}
}

func TestIngestSnapshotSameDateOverwrites(t *testing.T) {
	service, db, _ := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)
	date := mustCivilDate(t, "2026-01-20")

	if _, err := service.IngestSnapshot(context.Background(), goalID, date, NewScalarValue(1100)); err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	outcome, err := service.IngestSnapshot(context.Background(), goalID, date, NewScalarValue(1500))
	if err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}
	if outcome.State.ProgressPercentage != 50 {
		t.Fatalf("expected the overwrite to win, got %.1f", outcome.State.ProgressPercentage)
	}

	var snapshots []ProgressSnapshot
	if err := db.Where("goal_id = ?", state.GoalID).Find(&snapshots).Error; err != nil {
		t.Fatalf("failed to load snapshots: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected a single snapshot row after overwrite, got %d", len(snapshots))
	}
	if snapshots[0].ProgressPercentage != 50 {
		t.Fatalf("expected stored snapshot at 50%%, got %.1f", snapshots[0].ProgressPercentage)
	}
}

func TestIngestSnapshotLateArrivalDoesNotRegressCache(t *testing.T) {
	service, _, _ := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)

	if _, err := service.IngestSnapshot(context.Background(), goalID, mustCivilDate(t, "2026-01-25"), NewScalarValue(1500)); err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	outcome, err := service.IngestSnapshot(context.Background(), goalID, mustCivilDate(t, "2026-01-15"), NewScalarValue(1100))
	if err != nil {
		t.Fatalf("unexpected backfill error: %v", err)
	}
	if outcome.State.ProgressPercentage != 50 {
		t.Fatalf("expected the later-dated snapshot to stay authoritative, got %.1f", outcome.State.ProgressPercentage)
	}
	if len(outcome.Events) != 0 {
		t.Fatalf("expected no event for a non-authoritative backfill, got %+v", outcome.Events)
	}
}

func TestIngestSnapshotCompletedStatusTransition(t *testing.T) {
	service, _, _ := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)

	outcome, err := service.IngestSnapshot(context.Background(), goalID, mustCivilDate(t, "2026-02-01"), NewScalarValue(2100))
	if err != nil {
		t.Fatalf("unexpected ingest error: %v", err)
	}
	if outcome.State.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", outcome.State.Status)
	}
	if len(outcome.Events) != 1 || outcome.Events[0].EventType != timeline.EventTypeScoreImprovement {
		t.Fatalf("expected a score_improvement event, got %+v", outcome.Events)
	}
}

func TestIngestSnapshotRejectsMismatchedShape(t *testing.T) {
	service, _, _ := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)

	_, err := service.IngestSnapshot(context.Background(), goalID, mustCivilDate(t, "2026-01-20"),
		mustDistribution(t, map[string]float64{"Top 10": 3}))
	if !errors.Is(err, ErrValueShapeMismatch) {
		t.Fatalf("expected ErrValueShapeMismatch, got %v", err)
	}
}

func TestIngestSnapshotRejectsUnknownGoal(t *testing.T) {
	service, _, _ := newTestService(t)
	_, err := service.IngestSnapshot(context.Background(), mustGoalID(t, "missing"), mustCivilDate(t, "2026-01-20"), NewScalarValue(1))
	if !errors.Is(err, ErrUnknownGoal) {
		t.Fatalf("expected ErrUnknownGoal, got %v", err)
	}
}

func TestIngestSnapshotRejectsEndedCycle(t *testing.T) {
	service, _, clock := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)

	clock.Advance(91 * 24 * time.Hour)
	_, err := service.IngestSnapshot(context.Background(), goalID, mustCivilDate(t, "2026-04-15"), NewScalarValue(1500))
	if !errors.Is(err, ErrGoalNotLocked) {
		t.Fatalf("expected ErrGoalNotLocked, got %v", err)
	}
}

func TestRecordMilestoneGateAndMonotonicAchievement(t *testing.T) {
	service, _, clock := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)

	_, err := service.RecordMilestone(context.Background(), goalID, 1, NewScalarValue(1400))
	if !errors.Is(err, ErrOutOfWindow) {
		t.Fatalf("expected ErrOutOfWindow before the month gate, got %v", err)
	}

	clock.Advance(31 * 24 * time.Hour)

	// Month 1 interpolated target for 1000 -> 2000 is 1333.33.
	outcome, err := service.RecordMilestone(context.Background(), goalID, 1, NewScalarValue(1200))
	if err != nil {
		t.Fatalf("unexpected milestone error: %v", err)
	}
	if outcome.Milestone.Achieved {
		t.Fatalf("expected 1200 to miss the month 1 target")
	}
	if !outcome.Milestone.Recorded() {
		t.Fatalf("expected the milestone to be recorded")
	}

	outcome, err = service.RecordMilestone(context.Background(), goalID, 1, NewScalarValue(1400))
	if err != nil {
		t.Fatalf("unexpected milestone error: %v", err)
	}
	if !outcome.Milestone.Achieved {
		t.Fatalf("expected 1400 to achieve the month 1 target")
	}

	outcome, err = service.RecordMilestone(context.Background(), goalID, 1, NewScalarValue(900))
	if err != nil {
		t.Fatalf("unexpected milestone error: %v", err)
	}
	if !outcome.Milestone.Achieved {
		t.Fatalf("expected achievement to be sticky across re-recordings")
	}

	_, err = service.RecordMilestone(context.Background(), goalID, 2, NewScalarValue(1500))
	if !errors.Is(err, ErrOutOfWindow) {
		t.Fatalf("expected month 2 to stay gated at day 31, got %v", err)
	}
}

func TestRecordMilestoneRejectsInvalidMonth(t *testing.T) {
	service, _, _ := newTestService(t)
	state := lockTrafficGoal(t, service)
	goalID := mustGoalID(t, state.GoalID)

	for _, month := range []int{0, 4, -1} {
		if _, err := service.RecordMilestone(context.Background(), goalID, month, NewScalarValue(1)); !errors.Is(err, ErrInvalidMonth) {
			t.Fatalf("expected ErrInvalidMonth for month %d, got %v", month, err)
		}
	}
}

func TestInitializeGoalsLocksFullCycleSet(t *testing.T) {
	service, _, _ := newTestService(t)
	userID := mustUserID(t, "user-1")

	readings := map[GoalType]MetricValue{
		GoalTypeOrganicTraffic:  NewScalarValue(1200),
		GoalTypeKeywordRankings: mustDistribution(t, map[string]float64{"Top 50": 20, "Top 20": 8, "Top 10": 3}),
		GoalTypeAvgPosition:     NewScalarValue(18),
	}
	names := []string{"Increase Organic Traffic", "Top Rankings", "Search Visibility", "organic_traffic", "Grow Backlinks"}

	outcome, err := service.InitializeGoals(context.Background(), userID, names, readings, time.Time{})
	if err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}

	byType := make(map[GoalType]GoalState, len(outcome.States))
	for _, state := range outcome.States {
		byType[state.GoalType] = state
	}
	if len(byType) != 6 {
		t.Fatalf("expected 6 distinct goals, got %d", len(byType))
	}
	if len(outcome.States) != 6 {
		t.Fatalf("expected aliases to deduplicate, got %d goals", len(outcome.States))
	}

	traffic := byType[GoalTypeOrganicTraffic]
	if traffic.Target.Amount() != 1700 {
		t.Fatalf("expected traffic target 1700, got %.1f", traffic.Target.Amount())
	}
	serp := byType[GoalTypeSerpFeatures]
	if serp.Status != StatusPaused || serp.TargetKind != TargetKindPaused {
		t.Fatalf("expected serp features paused, got %s/%s", serp.Status, serp.TargetKind)
	}
	impressions := byType[GoalTypeImpressions]
	if impressions.Category != GoalCategoryAdditional {
		t.Fatalf("expected impressions as an additional goal, got %s", impressions.Category)
	}
	if impressions.Target.Amount() != 2000 {
		t.Fatalf("expected impressions target from the zero default baseline, got %.1f", impressions.Target.Amount())
	}
}

func TestInitializeGoalsRejectsActiveCycle(t *testing.T) {
	service, _, _ := newTestService(t)
	userID := mustUserID(t, "user-1")

	if _, err := service.InitializeGoals(context.Background(), userID, []string{"Organic Traffic"}, nil, time.Time{}); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	_, err := service.InitializeGoals(context.Background(), userID, []string{"Organic Traffic"}, nil, time.Time{})
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
}

func TestListGoalsOrdersPriorityFirst(t *testing.T) {
	service, _, _ := newTestService(t)
	userID := mustUserID(t, "user-1")

	if _, err := service.InitializeGoals(context.Background(), userID, []string{"Organic Traffic"}, nil, time.Time{}); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	states, err := service.ListGoals(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	seenAdditional := false
	for _, state := range states {
		if state.Category == GoalCategoryAdditional {
			seenAdditional = true
			continue
		}
		if seenAdditional {
			t.Fatalf("priority goal %s listed after an additional goal", state.GoalType)
		}
	}
}

func TestCycleInfoTracksElapsedWindow(t *testing.T) {
	service, _, clock := newTestService(t)
	userID := mustUserID(t, "user-1")

	if _, err := service.InitializeGoals(context.Background(), userID, []string{"Organic Traffic"}, nil, time.Time{}); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	clock.Advance(9 * 24 * time.Hour)

	info, err := service.CycleInfo(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected cycle info error: %v", err)
	}
	if info.TotalDays != 90 {
		t.Fatalf("expected 90 day cycle, got %d", info.TotalDays)
	}
	if info.DaysElapsed != 9 {
		t.Fatalf("expected 9 elapsed days, got %d", info.DaysElapsed)
	}
	if info.DaysRemaining != 81 {
		t.Fatalf("expected 81 remaining days, got %d", info.DaysRemaining)
	}
}

func TestCycleInfoWithoutGoals(t *testing.T) {
	service, _, _ := newTestService(t)
	_, err := service.CycleInfo(context.Background(), mustUserID(t, "user-1"))
	if !errors.Is(err, ErrNoActiveCycle) {
		t.Fatalf("expected ErrNoActiveCycle, got %v", err)
	}
}

func TestRefreshCycleGatedUntilCycleEnd(t *testing.T) {
	service, db, clock := newTestService(t)
	userID := mustUserID(t, "user-1")

	if _, err := service.InitializeGoals(context.Background(), userID, []string{"Organic Traffic"}, nil, time.Time{}); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}

	_, err := service.RefreshCycle(context.Background(), userID, []string{"Organic Traffic"}, nil, time.Time{})
	if !errors.Is(err, ErrCycleNotEnded) {
		t.Fatalf("expected ErrCycleNotEnded, got %v", err)
	}

	clock.Advance(91 * 24 * time.Hour)
	outcome, err := service.RefreshCycle(context.Background(), userID, []string{"Organic Traffic"}, nil, time.Time{})
	if err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if len(outcome.States) == 0 {
		t.Fatalf("expected a fresh goal set")
	}

	var lockedCount int64
	if err := db.Model(&Goal{}).Where("user_id = ? AND is_locked = ?", userID.String(), true).Count(&lockedCount).Error; err != nil {
		t.Fatalf("failed to count locked goals: %v", err)
	}
	if lockedCount != int64(len(outcome.States)) {
		t.Fatalf("expected only the fresh cycle to be locked, got %d locked goals", lockedCount)
	}
}

func TestExpireCyclesUnlocksEndedGoals(t *testing.T) {
	service, db, clock := newTestService(t)
	state := lockTrafficGoal(t, service)

	expired, err := service.ExpireCycles(context.Background())
	if err != nil {
		t.Fatalf("unexpected expire error: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected no expirations mid-cycle, got %d", expired)
	}

	clock.Advance(91 * 24 * time.Hour)
	expired, err = service.ExpireCycles(context.Background())
	if err != nil {
		t.Fatalf("unexpected expire error: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected one expiration, got %d", expired)
	}

	var stored Goal
	if err := db.Where("goal_id = ?", state.GoalID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load goal: %v", err)
	}
	if stored.IsLocked {
		t.Fatalf("expected the expired goal to be unlocked")
	}
}
