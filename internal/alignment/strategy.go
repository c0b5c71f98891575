package alignment

import (
	"sync"
	"time"
)

// Strategy is the contract every alignment strategy satisfies. Concrete
// strategies differ only in how Resolve derives an Outcome; publication and
// change notification are shared through StatusTracker.
type Strategy interface {
	ID() string
	Accuracy() Accuracy
	State() State
	Pose() (Pose, bool)
	Snapshot() Snapshot
	Subscribe(l Listener) (unsubscribe func())

	// Resolve computes an outcome from the current inputs without
	// publishing it.
	Resolve() Outcome

	// UpdateTransform resolves, publishes the outcome and writes any new
	// pose to the governed target.
	UpdateTransform() Outcome

	// Config returns the serialisable configuration of the strategy.
	Config() StrategyConfig
}

// Lifecycle holds the optional hooks a Driver calls on a strategy.
type Lifecycle interface {
	OnAttach(target Target) error
	OnDetach()
	OnEnable()
	OnDisable()
	Tick(now time.Time)
}

// Outcome is the result of one recompute attempt. Nil Pose or Accuracy means
// the published value is left untouched.
type Outcome struct {
	State    State
	Pose     *Pose
	Accuracy *Accuracy
	FrameID  string // id of the frame the pose was taken from, if any
}

// StrategyConfig is the part of a strategy that is persisted with a spatial
// frame. Frame references are stored by id.
type StrategyConfig struct {
	Kind                 string   `json:"kind"`
	Mode                 Mode     `json:"mode,omitempty"`
	ParentIDs            []string `json:"parent_ids"`
	ReferenceID          string   `json:"reference_id,omitempty"`
	UpdateFrequencyNanos int64    `json:"update_frequency_nanos"`
}

// UpdateFrequency returns the configured frequency as a duration.
func (c StrategyConfig) UpdateFrequency() time.Duration {
	return time.Duration(c.UpdateFrequencyNanos)
}

// Frame is a candidate reference frame: anything with an id and a current
// pose. Anchors located by a cloud service and frames loaded from storage both
// satisfy it.
type Frame interface {
	FrameID() string
	FramePose() Pose
}

// AccuracyReporter is implemented by frames that know how well they are
// localised. Frames without it are treated as exact.
type AccuracyReporter interface {
	FrameAccuracy() Accuracy
}

// StaticFrame is a Frame with a fixed pose.
type StaticFrame struct {
	ID   string
	Pose Pose
}

func (f StaticFrame) FrameID() string { return f.ID }
func (f StaticFrame) FramePose() Pose { return f.Pose }

// ViewpointProvider supplies the default reference pose (usually the
// viewer's head or camera) when a strategy has no explicit reference frame.
type ViewpointProvider interface {
	Viewpoint() (Pose, bool)
}

// ViewpointFunc adapts a function to ViewpointProvider.
type ViewpointFunc func() (Pose, bool)

func (f ViewpointFunc) Viewpoint() (Pose, bool) { return f() }

// StaticViewpoint always reports the same pose.
type StaticViewpoint Pose

func (v StaticViewpoint) Viewpoint() (Pose, bool) { return Pose(v), true }

// NoViewpoint never has a pose available.
type NoViewpoint struct{}

func (NoViewpoint) Viewpoint() (Pose, bool) { return Pose{}, false }

// Target is the governed entity a strategy writes its resolved pose into.
type Target interface {
	SetPose(p Pose)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(Pose)

func (f TargetFunc) SetPose(p Pose) { f(p) }

// PoseHolder is a Target that remembers the last pose written and how many
// writes happened. It is safe to read from other goroutines.
type PoseHolder struct {
	mu     sync.Mutex
	pose   Pose
	set    bool
	writes int
}

// SetPose records p.
func (h *PoseHolder) SetPose(p Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pose = p
	h.set = true
	h.writes++
}

// Pose returns the last written pose and whether any write happened.
func (h *PoseHolder) Pose() (Pose, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pose, h.set
}

// Writes returns the number of SetPose calls.
func (h *PoseHolder) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}
