package timeline

import (
	"testing"
	"time"
)

var recorderAt = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func TestFromSnapshotChangeStatusImprovement(t *testing.T) {
	event, material := FromSnapshotChange(SnapshotChange{
		UserID:      "user-1",
		GoalID:      "goal-1",
		GoalType:    "organic-traffic",
		OldStatus:   "at_risk",
		NewStatus:   "on_track",
		OldProgress: 25,
		NewProgress: 27,
		Threshold:   5,
		At:          recorderAt,
	})
	if !material {
		t.Fatalf("expected a status change to always be material")
	}
	if event.EventType != EventTypeScoreImprovement {
		t.Fatalf("expected score_improvement, got %s", event.EventType)
	}
	if event.OldValue != "at_risk" || event.NewValue != "on_track" {
		t.Fatalf("unexpected status values %q -> %q", event.OldValue, event.NewValue)
	}
	if event.ChangeDelta != 2 {
		t.Fatalf("expected delta 2, got %.1f", event.ChangeDelta)
	}
}

func TestFromSnapshotChangeStatusDecline(t *testing.T) {
	event, material := FromSnapshotChange(SnapshotChange{
		UserID:      "user-1",
		GoalID:      "goal-1",
		GoalType:    "organic-traffic",
		OldStatus:   "completed",
		NewStatus:   "on_track",
		OldProgress: 100,
		NewProgress: 90,
		Threshold:   5,
		At:          recorderAt,
	})
	if !material {
		t.Fatalf("expected a status change to always be material")
	}
	if event.EventType != EventTypeScoreDecline {
		t.Fatalf("expected score_decline, got %s", event.EventType)
	}
}

func TestFromSnapshotChangeMaterialProgressMove(t *testing.T) {
	event, material := FromSnapshotChange(SnapshotChange{
		UserID:      "user-1",
		GoalID:      "goal-1",
		GoalType:    "organic-traffic",
		OldStatus:   "on_track",
		NewStatus:   "on_track",
		OldProgress: 40,
		NewProgress: 52.5,
		Threshold:   5,
		At:          recorderAt,
	})
	if !material {
		t.Fatalf("expected a 12.5 point move to be material")
	}
	if event.EventType != EventTypeMetricChange {
		t.Fatalf("expected metric_change, got %s", event.EventType)
	}
	if event.OldValue != "40.0" || event.NewValue != "52.5" {
		t.Fatalf("unexpected progress values %q -> %q", event.OldValue, event.NewValue)
	}
}

func TestFromSnapshotChangeSuppressesSmallMoves(t *testing.T) {
	testCases := []struct {
		name        string
		newProgress float64
	}{
		{name: "no move", newProgress: 40},
		{name: "below threshold", newProgress: 43},
		{name: "exactly at threshold", newProgress: 45},
		{name: "small decline", newProgress: 36},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, material := FromSnapshotChange(SnapshotChange{
				OldStatus:   "on_track",
				NewStatus:   "on_track",
				OldProgress: 40,
				NewProgress: testCase.newProgress,
				Threshold:   5,
				At:          recorderAt,
			})
			if material {
				t.Fatalf("expected the move to %.1f to be suppressed", testCase.newProgress)
			}
		})
	}
}

func TestBaselineCaptured(t *testing.T) {
	event := BaselineCaptured("user-1", "goal-1", "organic-traffic", recorderAt)
	if event.EventType != EventTypeBaselineCaptured {
		t.Fatalf("expected baseline_captured, got %s", event.EventType)
	}
	if event.GoalID != "goal-1" || event.UserID != "user-1" {
		t.Fatalf("unexpected identifiers %+v", event)
	}
	if event.EventTimestampSeconds != recorderAt.Unix() {
		t.Fatalf("unexpected timestamp %d", event.EventTimestampSeconds)
	}
}

func TestMilestoneRecordedOutcomes(t *testing.T) {
	achieved := MilestoneRecorded("user-1", "goal-1", "organic-traffic", 2, true, recorderAt)
	if achieved.EventType != EventTypeMilestone || achieved.NewValue != "achieved" {
		t.Fatalf("unexpected achieved event %+v", achieved)
	}
	missed := MilestoneRecorded("user-1", "goal-1", "organic-traffic", 2, false, recorderAt)
	if missed.NewValue != "missed" {
		t.Fatalf("unexpected missed event %+v", missed)
	}
}
