package alignment

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Accuracy is the per-axis uncertainty of a resolved pose in meters. Lower is
// better; +Inf on any axis means no information.
type Accuracy r3.Vec

// AccuracyQuality buckets an Accuracy for display and health reporting.
type AccuracyQuality string

const (
	// AccuracyExcellent indicates magnitude < 0.05m
	AccuracyExcellent AccuracyQuality = "excellent"
	// AccuracyGood indicates magnitude 0.05-0.15m
	AccuracyGood AccuracyQuality = "good"
	// AccuracyFair indicates magnitude 0.15-0.30m
	AccuracyFair AccuracyQuality = "fair"
	// AccuracyPoor indicates magnitude >= 0.30m
	AccuracyPoor AccuracyQuality = "poor"
	// AccuracyUnknown indicates an infinite estimate
	AccuracyUnknown AccuracyQuality = "unknown"
)

// Accuracy quality thresholds (meters)
const (
	AccuracyThresholdExcellent = 0.05
	AccuracyThresholdGood      = 0.15
	AccuracyThresholdFair      = 0.30
)

// InfiniteAccuracy is the "unknown" estimate every strategy starts with.
func InfiniteAccuracy() Accuracy {
	inf := math.Inf(1)
	return Accuracy{X: inf, Y: inf, Z: inf}
}

// ExactAccuracy is the zero-uncertainty estimate.
func ExactAccuracy() Accuracy {
	return Accuracy{}
}

// UniformAccuracy returns an estimate of m meters on every axis.
func UniformAccuracy(m float64) Accuracy {
	return Accuracy{X: m, Y: m, Z: m}
}

// IsInfinite reports whether any axis carries no information.
func (a Accuracy) IsInfinite() bool {
	return math.IsInf(a.X, 1) || math.IsInf(a.Y, 1) || math.IsInf(a.Z, 1)
}

// Magnitude returns the Euclidean norm of the estimate, +Inf when unknown.
func (a Accuracy) Magnitude() float64 {
	if a.IsInfinite() {
		return math.Inf(1)
	}
	return r3.Norm(r3.Vec(a))
}

// Equal compares estimates component-wise. Two infinite estimates are equal,
// and so are two NaN components.
func (a Accuracy) Equal(b Accuracy) bool {
	same := func(x, y float64) bool { return x == y || (math.IsNaN(x) && math.IsNaN(y)) }
	return same(a.X, b.X) && same(a.Y, b.Y) && same(a.Z, b.Z)
}

// Validate reports an ErrInvalidArgument error unless every axis is a finite,
// non-negative number. Only a valid estimate may accompany Tracking.
func (a Accuracy) Validate() error {
	for _, v := range []float64{a.X, a.Y, a.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: accuracy %v must be finite and non-negative", ErrInvalidArgument, [3]float64{a.X, a.Y, a.Z})
		}
	}
	return nil
}

// Quality buckets the estimate by magnitude.
func (a Accuracy) Quality() AccuracyQuality {
	m := a.Magnitude()
	switch {
	case math.IsInf(m, 1) || math.IsNaN(m):
		return AccuracyUnknown
	case m < AccuracyThresholdExcellent:
		return AccuracyExcellent
	case m < AccuracyThresholdGood:
		return AccuracyGood
	case m < AccuracyThresholdFair:
		return AccuracyFair
	default:
		return AccuracyPoor
	}
}

func (a Accuracy) String() string {
	if a.IsInfinite() {
		return "unknown"
	}
	return fmt.Sprintf("(%.3f, %.3f, %.3f)m", a.X, a.Y, a.Z)
}

// MarshalJSON encodes a finite estimate as [x,y,z] and an infinite one as null,
// since JSON has no infinity.
func (a Accuracy) MarshalJSON() ([]byte, error) {
	if a.IsInfinite() {
		return []byte("null"), nil
	}
	return json.Marshal([3]float64{a.X, a.Y, a.Z})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *Accuracy) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = InfiniteAccuracy()
		return nil
	}
	var v [3]float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode accuracy: %w", err)
	}
	*a = Accuracy{X: v[0], Y: v[1], Z: v[2]}
	return nil
}
