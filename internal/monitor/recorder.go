// Package monitor records alignment events and renders them for debugging:
// a gonum/plot layout of candidate frames and a go-echarts timeline of state
// and accuracy.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/monitoring"
	"github.com/banshee-data/spatial-alignment/internal/timeutil"
)

// DefaultMaxSamples bounds the in-memory history kept by a Recorder.
const DefaultMaxSamples = 4096

// Sample is one strategy event as seen by the recorder.
type Sample struct {
	At         time.Time           `json:"at"`
	StrategyID string              `json:"strategy_id"`
	Kind       alignment.EventKind `json:"kind"`
	State      alignment.State     `json:"state"`
	Accuracy   alignment.Accuracy  `json:"accuracy"`
	Pose       *alignment.Pose     `json:"pose,omitempty"`
}

// AccuracyMagnitude returns the accuracy magnitude, or NaN when unknown, so
// plotted series show a gap rather than an infinite spike.
func (s Sample) AccuracyMagnitude() float64 {
	if s.Accuracy.IsInfinite() {
		return math.NaN()
	}
	return s.Accuracy.Magnitude()
}

// TransitionSink persists state transitions. TransitionStore implements it.
type TransitionSink interface {
	RecordTransition(s Sample) error
}

// Recorder keeps a bounded history of events from the strategies it is
// attached to. Listeners run on the driver goroutine; readers may call
// Samples from any goroutine.
type Recorder struct {
	clock timeutil.Clock
	max   int
	sink  TransitionSink

	mu      sync.Mutex
	samples []Sample
}

// NewRecorder returns a recorder keeping at most max samples. A non-positive
// max uses DefaultMaxSamples and a nil clock uses the real clock.
func NewRecorder(clock timeutil.Clock, max int) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if max <= 0 {
		max = DefaultMaxSamples
	}
	return &Recorder{clock: clock, max: max}
}

// SetSink makes the recorder persist every StateChanged sample to sink.
func (r *Recorder) SetSink(sink TransitionSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Attach subscribes to s and returns the unsubscribe function.
func (r *Recorder) Attach(s alignment.Strategy) func() {
	return s.Subscribe(r.record)
}

func (r *Recorder) record(e alignment.Event) {
	sample := Sample{
		At:         r.clock.Now(),
		StrategyID: e.StrategyID,
		Kind:       e.Kind,
		State:      e.State,
		Accuracy:   e.Accuracy,
	}
	if e.HasPose {
		p := e.Pose
		sample.Pose = &p
	}

	r.mu.Lock()
	if len(r.samples) >= r.max {
		drop := len(r.samples) - r.max + 1
		r.samples = append(r.samples[:0], r.samples[drop:]...)
	}
	r.samples = append(r.samples, sample)
	sink := r.sink
	r.mu.Unlock()

	if sink != nil && e.Kind == alignment.StateChanged {
		if err := sink.RecordTransition(sample); err != nil {
			monitoring.Logf("monitor: persist transition for %s: %v", e.StrategyID, err)
		}
	}
}

// Samples returns a copy of the recorded history, oldest first. A non-empty
// strategyID filters to that strategy.
func (r *Recorder) Samples(strategyID string) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, 0, len(r.samples))
	for _, s := range r.samples {
		if strategyID == "" || s.StrategyID == strategyID {
			out = append(out, s)
		}
	}
	return out
}

// Reset discards the recorded history.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.samples = nil
	r.mu.Unlock()
}
