package goals

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// TargetKind discriminates the arithmetic a goal's target uses.
type TargetKind string

const (
	// TargetKindGrowth targets an absolute value to grow toward from the baseline.
	TargetKindGrowth TargetKind = "growth"
	// TargetKindRange targets a value band the metric should land inside.
	TargetKindRange TargetKind = "range"
	// TargetKindSlabs targets per-bucket keyword counts.
	TargetKindSlabs TargetKind = "slabs"
	// TargetKindPaused suspends progress calculation for the goal.
	TargetKindPaused TargetKind = "paused"
)

var (
	// ErrInvalidTarget indicates a target definition inconsistent with its
	// kind or with the goal type it is attached to.
	ErrInvalidTarget = errors.New("goals: invalid target")
)

// SlabTarget declares the target count for one keyword-ranking bucket.
// Weight defaults to 1 when unset.
type SlabTarget struct {
	Label  string  `json:"label"`
	Count  float64 `json:"count"`
	Weight float64 `json:"weight,omitempty"`
}

// Target is a tagged variant describing what a goal aims for. The shape of
// its payload depends on the kind, which keeps progress arithmetic exhaustive
// over the four arms instead of guarding nullable fields.
type Target struct {
	kind   TargetKind
	amount float64
	low    float64
	high   float64
	slabs  []SlabTarget
}

// NewGrowthTarget constructs a growth target toward an absolute value.
func NewGrowthTarget(amount float64) Target {
	return Target{kind: TargetKindGrowth, amount: amount}
}

// NewRangeTarget constructs a band target. Low must not exceed high.
func NewRangeTarget(low, high float64) (Target, error) {
	if low > high {
		return Target{}, fmt.Errorf("%w: range low %v exceeds high %v", ErrInvalidTarget, low, high)
	}
	return Target{kind: TargetKindRange, low: low, high: high}, nil
}

// NewSlabTarget constructs a per-bucket distribution target.
func NewSlabTarget(slabs []SlabTarget) (Target, error) {
	if len(slabs) == 0 {
		return Target{}, fmt.Errorf("%w: empty slab list", ErrInvalidTarget)
	}
	seen := make(map[string]bool, len(slabs))
	copied := make([]SlabTarget, 0, len(slabs))
	for _, slab := range slabs {
		label := strings.TrimSpace(slab.Label)
		if label == "" {
			return Target{}, fmt.Errorf("%w: empty slab label", ErrInvalidTarget)
		}
		if seen[label] {
			return Target{}, fmt.Errorf("%w: duplicate slab label %q", ErrInvalidTarget, label)
		}
		seen[label] = true
		if slab.Count < 0 {
			return Target{}, fmt.Errorf("%w: negative count for slab %q", ErrInvalidTarget, label)
		}
		if slab.Weight < 0 {
			return Target{}, fmt.Errorf("%w: negative weight for slab %q", ErrInvalidTarget, label)
		}
		copied = append(copied, SlabTarget{Label: label, Count: slab.Count, Weight: slab.Weight})
	}
	return Target{kind: TargetKindSlabs, slabs: copied}, nil
}

// NewPausedTarget constructs a target whose progress tracking is suspended.
func NewPausedTarget() Target {
	return Target{kind: TargetKindPaused}
}

// Kind returns the target discriminator.
func (t Target) Kind() TargetKind {
	return t.kind
}

// Amount returns the growth target value. Zero for other kinds.
func (t Target) Amount() float64 {
	return t.amount
}

// Band returns the range target bounds. Zeroes for other kinds.
func (t Target) Band() (low, high float64) {
	return t.low, t.high
}

// Slabs returns a copy of the slab targets. Nil for other kinds.
func (t Target) Slabs() []SlabTarget {
	if t.slabs == nil {
		return nil
	}
	copied := make([]SlabTarget, len(t.slabs))
	copy(copied, t.slabs)
	return copied
}

// IsZero reports whether the target is the uninitialized zero variant.
func (t Target) IsZero() bool {
	return t.kind == ""
}

// allowedTargetKinds lists which target kinds each goal type accepts. Slab
// targets only make sense for the keyword-rankings distribution; SERP-feature
// goals carry no progress arithmetic at all in the current product.
var allowedTargetKinds = map[GoalType][]TargetKind{
	GoalTypeOrganicTraffic:  {TargetKindGrowth, TargetKindRange, TargetKindPaused},
	GoalTypeImpressions:     {TargetKindGrowth, TargetKindRange, TargetKindPaused},
	GoalTypeDomainAuthority: {TargetKindGrowth, TargetKindRange, TargetKindPaused},
	GoalTypeAvgPosition:     {TargetKindGrowth, TargetKindRange, TargetKindPaused},
	GoalTypeKeywordRankings: {TargetKindGrowth, TargetKindSlabs, TargetKindPaused},
	GoalTypeSerpFeatures:    {TargetKindPaused},
}

// ValidateTargetForGoalType rejects target kinds that are inconsistent with
// the goal type before anything is persisted.
func ValidateTargetForGoalType(goalType GoalType, target Target) error {
	allowed, ok := allowedTargetKinds[goalType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidGoalType, goalType)
	}
	for _, kind := range allowed {
		if kind == target.kind {
			return nil
		}
	}
	return fmt.Errorf("%w: kind %q not allowed for goal type %q", ErrInvalidTarget, target.kind, goalType)
}

// ValidateValueShape rejects readings whose shape does not match the
// target's arithmetic. Paused goals accept either shape; the reading is
// recorded but not evaluated.
func (t Target) ValidateValueShape(value MetricValue) error {
	switch t.kind {
	case TargetKindGrowth, TargetKindRange:
		if value.Kind() != ValueKindScalar {
			return fmt.Errorf("%w: %q target requires a scalar reading", ErrValueShapeMismatch, t.kind)
		}
	case TargetKindSlabs:
		if value.Kind() != ValueKindDistribution {
			return fmt.Errorf("%w: slab target requires a distribution reading", ErrValueShapeMismatch)
		}
	case TargetKindPaused:
	default:
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidTarget, t.kind)
	}
	return nil
}

// MilestoneTarget derives the checkpoint target for month 1..3 of the cycle.
// Growth targets interpolate linearly from the baseline; range targets keep
// the full band each month; slab targets scale the bucket counts.
func (t Target) MilestoneTarget(monthNumber int, baseline MetricValue) (Target, error) {
	if monthNumber < 1 || monthNumber > MilestonesPerCycle {
		return Target{}, fmt.Errorf("%w: month number %d", ErrInvalidTarget, monthNumber)
	}
	fraction := float64(monthNumber) / float64(MilestonesPerCycle)
	switch t.kind {
	case TargetKindGrowth:
		base := baseline.Scalar()
		return NewGrowthTarget(base + (t.amount-base)*fraction), nil
	case TargetKindRange:
		return t, nil
	case TargetKindSlabs:
		scaled := make([]SlabTarget, len(t.slabs))
		for i, slab := range t.slabs {
			scaled[i] = SlabTarget{
				Label:  slab.Label,
				Count:  math.Ceil(slab.Count * fraction),
				Weight: slab.Weight,
			}
		}
		return NewSlabTarget(scaled)
	case TargetKindPaused:
		return t, nil
	default:
		return Target{}, fmt.Errorf("%w: unknown target kind %q", ErrInvalidTarget, t.kind)
	}
}

// Met reports whether an actual reading meets or exceeds the target, using
// the comparison direction of the target kind. Paused targets are never met.
func (t Target) Met(actual MetricValue) bool {
	switch t.kind {
	case TargetKindGrowth:
		return actual.Kind() == ValueKindScalar && actual.Scalar() >= t.amount
	case TargetKindRange:
		if actual.Kind() != ValueKindScalar {
			return false
		}
		return actual.Scalar() >= t.low && actual.Scalar() <= t.high
	case TargetKindSlabs:
		if actual.Kind() != ValueKindDistribution {
			return false
		}
		counts := actual.Counts()
		for _, slab := range t.slabs {
			if counts[slab.Label] < slab.Count {
				return false
			}
		}
		return true
	default:
		return false
	}
}

type targetPayload struct {
	Kind   TargetKind   `json:"kind"`
	Amount float64      `json:"amount,omitempty"`
	Low    float64      `json:"low,omitempty"`
	High   float64      `json:"high,omitempty"`
	Slabs  []SlabTarget `json:"slabs,omitempty"`
}

// MarshalJSON encodes the tagged variant.
func (t Target) MarshalJSON() ([]byte, error) {
	payload := targetPayload{Kind: t.kind}
	switch t.kind {
	case TargetKindGrowth:
		payload.Amount = t.amount
	case TargetKindRange:
		payload.Low = t.low
		payload.High = t.high
	case TargetKindSlabs:
		payload.Slabs = t.slabs
	case TargetKindPaused:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, t.kind)
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes and validates the tagged variant.
func (t *Target) UnmarshalJSON(data []byte) error {
	var payload targetPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	switch payload.Kind {
	case TargetKindGrowth:
		*t = NewGrowthTarget(payload.Amount)
		return nil
	case TargetKindRange:
		decoded, err := NewRangeTarget(payload.Low, payload.High)
		if err != nil {
			return err
		}
		*t = decoded
		return nil
	case TargetKindSlabs:
		decoded, err := NewSlabTarget(payload.Slabs)
		if err != nil {
			return err
		}
		*t = decoded
		return nil
	case TargetKindPaused:
		*t = NewPausedTarget()
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, payload.Kind)
	}
}

func encodeTarget(target Target) (string, error) {
	encoded, err := json.Marshal(target)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeTarget(raw string) (Target, error) {
	var target Target
	if err := json.Unmarshal([]byte(raw), &target); err != nil {
		return Target{}, err
	}
	return target, nil
}
