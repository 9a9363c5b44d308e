package goals

// statusPolicy is the business threshold table for status resolution. The
// bands come from the historical status migration (>=100 completed, >=70
// on_track, >=30 on_track while the cycle is young, else at_risk) and live
// here so a policy change is a one-place edit.
type statusPolicy struct {
	completedFloor       float64
	onTrackFloor         float64
	conditionalFloor     float64
	conditionalElapsedLT float64
}

var defaultStatusPolicy = statusPolicy{
	completedFloor:       100,
	onTrackFloor:         70,
	conditionalFloor:     30,
	conditionalElapsedLT: 0.5,
}

// ResolveStatus maps goal type, target kind, progress percentage and the
// elapsed-cycle fraction to a categorical status. It is a pure deterministic
// function; SERP-feature goals and paused targets are a fixed business
// carve-out that always resolves to paused.
func ResolveStatus(goalType GoalType, kind TargetKind, progress float64, elapsedFraction float64) GoalStatus {
	return defaultStatusPolicy.resolve(goalType, kind, progress, elapsedFraction)
}

func (p statusPolicy) resolve(goalType GoalType, kind TargetKind, progress float64, elapsedFraction float64) GoalStatus {
	if kind == TargetKindPaused || goalType == GoalTypeSerpFeatures {
		return StatusPaused
	}
	if progress >= p.completedFloor {
		return StatusCompleted
	}
	if progress >= p.onTrackFloor {
		return StatusOnTrack
	}
	if progress >= p.conditionalFloor && elapsedFraction < p.conditionalElapsedLT {
		return StatusOnTrack
	}
	return StatusAtRisk
}

// InitialStatus is the status a goal starts its cycle with.
func InitialStatus(goalType GoalType, kind TargetKind) GoalStatus {
	if kind == TargetKindPaused || goalType == GoalTypeSerpFeatures {
		return StatusPaused
	}
	return StatusOnTrack
}
