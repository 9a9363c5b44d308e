// Package metrics defines the contract for the external metric source that
// feeds snapshot ingestion. The actual fetching — search console exports,
// rank trackers, authority providers — lives outside this service; the core
// only consumes dated readings through this interface.
package metrics

import (
	"context"
	"time"

	"github.com/rankcycle/backend/internal/goals"
)

// Source supplies the dated reading for one goal. The value shape must match
// the goal's target type: scalar for growth and range goals, a slab-count
// distribution for keyword-ranking goals.
type Source interface {
	Fetch(ctx context.Context, goal goals.GoalState, date time.Time) (goals.MetricValue, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context, goal goals.GoalState, date time.Time) (goals.MetricValue, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, goal goals.GoalState, date time.Time) (goals.MetricValue, error) {
	return f(ctx, goal, date)
}
