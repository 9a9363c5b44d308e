package goals

import "testing"

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustGoalID(t *testing.T, value string) GoalID {
	t.Helper()
	id, err := NewGoalID(value)
	if err != nil {
		t.Fatalf("unexpected goal id error: %v", err)
	}
	return id
}

func mustCivilDate(t *testing.T, value string) CivilDate {
	t.Helper()
	date, err := NewCivilDate(value)
	if err != nil {
		t.Fatalf("unexpected civil date error: %v", err)
	}
	return date
}

func mustDistribution(t *testing.T, counts map[string]float64) MetricValue {
	t.Helper()
	value, err := NewDistributionValue(counts)
	if err != nil {
		t.Fatalf("unexpected distribution error: %v", err)
	}
	return value
}

func mustRangeTarget(t *testing.T, low, high float64) Target {
	t.Helper()
	target, err := NewRangeTarget(low, high)
	if err != nil {
		t.Fatalf("unexpected range target error: %v", err)
	}
	return target
}

func mustSlabTarget(t *testing.T, slabs []SlabTarget) Target {
	t.Helper()
	target, err := NewSlabTarget(slabs)
	if err != nil {
		t.Fatalf("unexpected slab target error: %v", err)
	}
	return target
}
