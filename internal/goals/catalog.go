package goals

import (
	"fmt"
	"math"
	"sort"
)

// catalogEntry holds the hardcoded first-cycle target for one goal type.
// Growth entries carry a delta resolved against the captured baseline; the
// range entry is an improvement band below the baseline; slab entries carry
// percentages of the tracked keyword portfolio.
type catalogEntry struct {
	category    GoalCategory
	unit        string
	kind        TargetKind
	growthDelta float64
	rangeNear   float64
	rangeFar    float64
	slabShares  []slabShare
}

type slabShare struct {
	label      string
	percentage float64
}

// firstCycleCatalog is the hardcoded 90-day target table for a customer's
// first cycle.
var firstCycleCatalog = map[GoalType]catalogEntry{
	GoalTypeOrganicTraffic: {
		category:    GoalCategoryPriority,
		unit:        "visitors/month",
		kind:        TargetKindGrowth,
		growthDelta: 500,
	},
	GoalTypeKeywordRankings: {
		category: GoalCategoryPriority,
		unit:     "keywords",
		kind:     TargetKindSlabs,
		slabShares: []slabShare{
			{label: "Top 50", percentage: 50},
			{label: "Top 20", percentage: 30},
			{label: "Top 10", percentage: 20},
		},
	},
	GoalTypeSerpFeatures: {
		category: GoalCategoryPriority,
		unit:     "SERP features",
		kind:     TargetKindPaused,
	},
	GoalTypeAvgPosition: {
		category:  GoalCategoryAdditional,
		unit:      "position improvement",
		kind:      TargetKindRange,
		rangeNear: 3,
		rangeFar:  5,
	},
	GoalTypeImpressions: {
		category:    GoalCategoryAdditional,
		unit:        "impressions/month",
		kind:        TargetKindGrowth,
		growthDelta: 2000,
	},
	GoalTypeDomainAuthority: {
		category:    GoalCategoryAdditional,
		unit:        "DA points",
		kind:        TargetKindGrowth,
		growthDelta: 4,
	},
}

// goalNameMapping maps onboarding goal names to canonical goal types. Several
// onboarding names collapse to the same type; callers deduplicate.
var goalNameMapping = map[string]GoalType{
	"Increase Organic Traffic":    GoalTypeOrganicTraffic,
	"Improve Keyword Rankings":    GoalTypeKeywordRankings,
	"Capture Visibility Features": GoalTypeSerpFeatures,
	"Reduce Average Position":     GoalTypeAvgPosition,
	"Increase Impressions":        GoalTypeImpressions,
	"Improve Domain Authority":    GoalTypeDomainAuthority,

	"organic_traffic":   GoalTypeOrganicTraffic,
	"search_visibility": GoalTypeSerpFeatures,
	"local_visibility":  GoalTypeSerpFeatures,
	"top_rankings":      GoalTypeKeywordRankings,

	"Organic Traffic":   GoalTypeOrganicTraffic,
	"Search Visibility": GoalTypeSerpFeatures,
	"Local Visibility":  GoalTypeSerpFeatures,
	"Top Rankings":      GoalTypeKeywordRankings,
}

// GoalTypeForName resolves an onboarding goal name to its goal type.
func GoalTypeForName(name string) (GoalType, bool) {
	goalType, ok := goalNameMapping[name]
	return goalType, ok
}

// CatalogGoalTypes returns the goal types present in the first-cycle catalog
// in deterministic order, priority category first.
func CatalogGoalTypes() []GoalType {
	types := make([]GoalType, 0, len(firstCycleCatalog))
	for goalType := range firstCycleCatalog {
		types = append(types, goalType)
	}
	sort.Slice(types, func(i, j int) bool {
		left, right := firstCycleCatalog[types[i]], firstCycleCatalog[types[j]]
		if left.category != right.category {
			return left.category == GoalCategoryPriority
		}
		return types[i] < types[j]
	})
	return types
}

// DefaultDefinition resolves the first-cycle catalog entry for a goal type
// against the captured baseline reading, producing a concrete definition
// ready to lock. Growth deltas become absolute targets; the avg-position
// band sits below the baseline position; slab percentages become counts of
// the baseline keyword portfolio.
func DefaultDefinition(goalType GoalType, baseline MetricValue) (GoalCategory, string, Target, error) {
	entry, ok := firstCycleCatalog[goalType]
	if !ok {
		return "", "", Target{}, fmt.Errorf("%w: %q", ErrInvalidGoalType, goalType)
	}

	switch entry.kind {
	case TargetKindGrowth:
		target := NewGrowthTarget(baseline.Scalar() + entry.growthDelta)
		return entry.category, entry.unit, target, nil
	case TargetKindRange:
		// Position improvement: lower is better, so the band sits below the
		// baseline position and is floored at rank 1.
		low := math.Max(baseline.Scalar()-entry.rangeFar, 1)
		high := math.Max(baseline.Scalar()-entry.rangeNear, 1)
		target, err := NewRangeTarget(low, high)
		if err != nil {
			return "", "", Target{}, err
		}
		return entry.category, entry.unit, target, nil
	case TargetKindSlabs:
		total := 0.0
		for _, count := range baseline.Counts() {
			total += count
		}
		slabs := make([]SlabTarget, 0, len(entry.slabShares))
		for _, share := range entry.slabShares {
			count := share.percentage
			if total > 0 {
				count = math.Ceil(total * share.percentage / 100)
			}
			slabs = append(slabs, SlabTarget{Label: share.label, Count: count})
		}
		target, err := NewSlabTarget(slabs)
		if err != nil {
			return "", "", Target{}, err
		}
		return entry.category, entry.unit, target, nil
	case TargetKindPaused:
		return entry.category, entry.unit, NewPausedTarget(), nil
	default:
		return "", "", Target{}, fmt.Errorf("%w: unknown catalog kind %q", ErrInvalidTarget, entry.kind)
	}
}
