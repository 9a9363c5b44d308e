package goals

import "math"

// CalculateProgress maps (target, baseline, current, cached) to a progress
// percentage in [0, 100]. It is total for well-formed input: shape mismatches
// are rejected at the ingestion boundary, never here.
//
// Paused targets skip calculation entirely and hold the cached figure. Growth
// progress is not monotonic: a regression below the baseline legally clamps
// back to zero.
func CalculateProgress(target Target, baseline, current MetricValue, cached float64) float64 {
	switch target.Kind() {
	case TargetKindGrowth:
		return growthProgress(target.Amount(), baseline.Scalar(), current.Scalar())
	case TargetKindRange:
		low, high := target.Band()
		return rangeProgress(low, high, current.Scalar())
	case TargetKindSlabs:
		return slabProgress(target.Slabs(), current.Counts())
	case TargetKindPaused:
		return cached
	default:
		return cached
	}
}

func growthProgress(targetValue, baselineValue, currentValue float64) float64 {
	if targetValue == baselineValue {
		if currentValue >= targetValue {
			return 100
		}
		return 0
	}
	return clampPercentage(100 * (currentValue - baselineValue) / (targetValue - baselineValue))
}

func rangeProgress(low, high, currentValue float64) float64 {
	if currentValue >= low && currentValue <= high {
		return 100
	}
	distance := low - currentValue
	if currentValue > high {
		distance = currentValue - high
	}
	width := high - low
	if width <= 0 {
		width = math.Max(math.Abs(high), 1)
	}
	return clampPercentage(100 * (1 - distance/width))
}

func slabProgress(slabs []SlabTarget, counts map[string]float64) float64 {
	if len(slabs) == 0 {
		return 0
	}
	totalWeight := 0.0
	metWeight := 0.0
	for _, slab := range slabs {
		weight := slab.Weight
		if weight <= 0 {
			weight = 1
		}
		totalWeight += weight
		if counts[slab.Label] >= slab.Count {
			metWeight += weight
		}
	}
	if totalWeight <= 0 {
		return 0
	}
	return clampPercentage(100 * metWeight / totalWeight)
}

func clampPercentage(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
