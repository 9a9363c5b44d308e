package goals

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ValueKind discriminates the shape of a metric reading.
type ValueKind string

const (
	// ValueKindScalar is a single numeric reading.
	ValueKindScalar ValueKind = "scalar"
	// ValueKindDistribution is a bucketed count reading keyed by slab label.
	ValueKindDistribution ValueKind = "distribution"
)

var (
	// ErrInvalidValue indicates a malformed metric value payload.
	ErrInvalidValue = errors.New("goals: invalid metric value")
	// ErrValueShapeMismatch indicates a reading whose shape does not match the goal's target type.
	ErrValueShapeMismatch = errors.New("goals: metric value shape does not match target type")
)

// MetricValue is a tagged variant holding either a scalar reading or a
// slab-count distribution, matching the shape the goal's target type expects.
type MetricValue struct {
	kind   ValueKind
	scalar float64
	counts map[string]float64
}

// NewScalarValue constructs a scalar metric value.
func NewScalarValue(value float64) MetricValue {
	return MetricValue{kind: ValueKindScalar, scalar: value}
}

// NewDistributionValue constructs a slab-count distribution value.
func NewDistributionValue(counts map[string]float64) (MetricValue, error) {
	if len(counts) == 0 {
		return MetricValue{}, fmt.Errorf("%w: empty distribution", ErrInvalidValue)
	}
	copied := make(map[string]float64, len(counts))
	for label, count := range counts {
		if label == "" {
			return MetricValue{}, fmt.Errorf("%w: empty slab label", ErrInvalidValue)
		}
		if count < 0 {
			return MetricValue{}, fmt.Errorf("%w: negative count for slab %q", ErrInvalidValue, label)
		}
		copied[label] = count
	}
	return MetricValue{kind: ValueKindDistribution, counts: copied}, nil
}

// Kind returns the value discriminator.
func (v MetricValue) Kind() ValueKind {
	return v.kind
}

// Scalar returns the scalar reading. Zero for distribution values.
func (v MetricValue) Scalar() float64 {
	return v.scalar
}

// Counts returns a copy of the slab-count distribution. Nil for scalar values.
func (v MetricValue) Counts() map[string]float64 {
	if v.counts == nil {
		return nil
	}
	copied := make(map[string]float64, len(v.counts))
	for label, count := range v.counts {
		copied[label] = count
	}
	return copied
}

// IsZero reports whether the value is the uninitialized zero variant.
func (v MetricValue) IsZero() bool {
	return v.kind == ""
}

type metricValuePayload struct {
	Kind   ValueKind          `json:"kind"`
	Scalar float64            `json:"value,omitempty"`
	Counts map[string]float64 `json:"counts,omitempty"`
}

// MarshalJSON encodes the tagged variant.
func (v MetricValue) MarshalJSON() ([]byte, error) {
	payload := metricValuePayload{Kind: v.kind}
	switch v.kind {
	case ValueKindScalar:
		payload.Scalar = v.scalar
	case ValueKindDistribution:
		payload.Counts = v.counts
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidValue, v.kind)
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes and validates the tagged variant.
func (v *MetricValue) UnmarshalJSON(data []byte) error {
	var payload metricValuePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	switch payload.Kind {
	case ValueKindScalar:
		*v = NewScalarValue(payload.Scalar)
		return nil
	case ValueKindDistribution:
		decoded, err := NewDistributionValue(payload.Counts)
		if err != nil {
			return err
		}
		*v = decoded
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidValue, payload.Kind)
	}
}

func encodeValue(value MetricValue) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeValue(raw string) (MetricValue, error) {
	var value MetricValue
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return MetricValue{}, err
	}
	return value, nil
}
