package alignment

import (
	"fmt"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/monitoring"
	"github.com/google/uuid"
)

// Mode selects how MultiParent combines its candidate frames.
type Mode string

const (
	// ModeNearestNeighbor copies the pose of the candidate closest to the
	// reference position.
	ModeNearestNeighbor Mode = "nearest_neighbor"
)

// MultiParentKind is the StrategyConfig.Kind written by MultiParent.
const MultiParentKind = "multi_parent"

// DefaultUpdateFrequency is the recompute window used when none is configured.
const DefaultUpdateFrequency = 20 * time.Millisecond

// MultiParentConfig holds the construction parameters for MultiParent.
type MultiParentConfig struct {
	ID              string            // Generated when empty
	Mode            Mode              // ModeNearestNeighbor when empty
	UpdateFrequency time.Duration     // Zero recomputes on every tick
	Viewpoint       ViewpointProvider // Required: default reference when no override is set
}

// MultiParent aligns its target to one of several candidate "parent" frames.
//
// The resolved pose is written directly to the governed target, so the
// target's own parent has no effect on alignment unless it is one of the
// candidates.
type MultiParent struct {
	*StatusTracker

	mode      Mode
	frames    []Frame
	reference Frame
	viewpoint ViewpointProvider
	target    Target
	throttle  Throttle
	enabled   bool
}

// NewMultiParent builds an enabled MultiParent with no candidate frames. It
// fails with ErrMissingCollaborator when no viewpoint provider is supplied
// and with ErrInvalidArgument for a negative update frequency.
func NewMultiParent(cfg MultiParentConfig) (*MultiParent, error) {
	if cfg.Viewpoint == nil {
		return nil, fmt.Errorf("%w: multi-parent strategy requires a viewpoint provider", ErrMissingCollaborator)
	}
	if cfg.UpdateFrequency < 0 {
		return nil, fmt.Errorf("%w: update frequency %v is negative", ErrInvalidArgument, cfg.UpdateFrequency)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeNearestNeighbor
	}
	return &MultiParent{
		StatusTracker: NewStatusTracker(cfg.ID),
		mode:          cfg.Mode,
		frames:        []Frame{},
		viewpoint:     cfg.Viewpoint,
		throttle:      Throttle{Frequency: cfg.UpdateFrequency},
		enabled:       true,
	}, nil
}

// Mode returns the current selection mode.
func (m *MultiParent) Mode() Mode { return m.mode }

// SetMode stores mode if it differs and recomputes. An unsupported mode
// panics on the recompute once there are candidate frames.
func (m *MultiParent) SetMode(mode Mode) {
	if m.mode != mode {
		m.mode = mode
	}
	m.UpdateTransform()
}

// ReferenceFrames returns a copy of the candidate list.
func (m *MultiParent) ReferenceFrames() []Frame {
	return append([]Frame(nil), m.frames...)
}

// SetReferenceFrames replaces the candidate list as a unit and recomputes. A
// nil list or a nil element is rejected with ErrInvalidArgument and leaves the
// strategy untouched. An empty, non-nil list is valid.
func (m *MultiParent) SetReferenceFrames(frames []Frame) error {
	if frames == nil {
		return fmt.Errorf("%w: reference frame list is nil", ErrInvalidArgument)
	}
	for i, f := range frames {
		if f == nil {
			return fmt.Errorf("%w: reference frame %d is nil", ErrInvalidArgument, i)
		}
	}
	m.frames = append([]Frame(nil), frames...)
	m.UpdateTransform()
	return nil
}

// ReferenceFrame returns the explicit reference override, or nil.
func (m *MultiParent) ReferenceFrame() Frame { return m.reference }

// SetReferenceFrame sets the frame distances are measured from and
// recomputes. Nil clears the override so the viewpoint provider is used.
func (m *MultiParent) SetReferenceFrame(f Frame) {
	m.reference = f
	m.UpdateTransform()
}

// UpdateFrequency returns the recompute window.
func (m *MultiParent) UpdateFrequency() time.Duration { return m.throttle.Frequency }

// SetUpdateFrequency sets the recompute window. Zero recomputes every tick.
func (m *MultiParent) SetUpdateFrequency(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: update frequency %v is negative", ErrInvalidArgument, d)
	}
	m.throttle.Frequency = d
	return nil
}

// Config returns the serialisable configuration.
func (m *MultiParent) Config() StrategyConfig {
	cfg := StrategyConfig{
		Kind:                 MultiParentKind,
		Mode:                 m.mode,
		ParentIDs:            make([]string, 0, len(m.frames)),
		UpdateFrequencyNanos: int64(m.throttle.Frequency),
	}
	for _, f := range m.frames {
		cfg.ParentIDs = append(cfg.ParentIDs, f.FrameID())
	}
	if m.reference != nil {
		cfg.ReferenceID = m.reference.FrameID()
	}
	return cfg
}

// Resolve runs the state machine against the current inputs without
// publishing anything.
func (m *MultiParent) Resolve() Outcome {
	if len(m.frames) == 0 {
		inf := InfiniteAccuracy()
		return Outcome{State: StateUnresolved, Accuracy: &inf}
	}

	switch m.mode {
	case ModeNearestNeighbor:
		return m.resolveNearestNeighbor()
	default:
		panic(fmt.Errorf("%w: multi-parent mode %q", ErrUnreachable, m.mode))
	}
}

// UpdateTransform resolves, applies the pose to the target and publishes the
// outcome as a unit.
func (m *MultiParent) UpdateTransform() Outcome {
	out := m.Resolve()

	if out.Pose != nil && m.target != nil {
		m.target.SetPose(*out.Pose)
	}
	prev := m.State()
	if changed := m.Publish(out); len(changed) > 0 && changed[0] == StateChanged {
		monitoring.Debugf("alignment %s: %s -> %s (frame=%q candidates=%d)",
			m.ID(), prev, out.State, out.FrameID, len(m.frames))
	}
	return out
}

func (m *MultiParent) resolveNearestNeighbor() Outcome {
	ref, ok := m.referencePose()
	if !ok {
		return Outcome{State: StateInhibited}
	}

	var parent Frame
	if len(m.frames) == 1 {
		parent = m.frames[0]
	} else {
		parent, _ = NearestFrame(m.frames, ref)
	}

	pose := parent.FramePose()
	acc := ExactAccuracy()
	if r, ok := parent.(AccuracyReporter); ok {
		// An unusable estimate is treated like a frame that reports none.
		if reported := r.FrameAccuracy(); reported.Validate() == nil {
			acc = reported
		}
	}
	return Outcome{
		State:    StateTracking,
		Pose:     &pose,
		Accuracy: &acc,
		FrameID:  parent.FrameID(),
	}
}

// referencePose returns the explicit override if set, otherwise the default
// viewpoint.
func (m *MultiParent) referencePose() (Pose, bool) {
	if m.reference != nil {
		return m.reference.FramePose(), true
	}
	return m.viewpoint.Viewpoint()
}

// NearestFrame returns the frame whose position has the smallest squared
// distance to ref, and its index. Ties keep the earliest frame in the list.
// It returns nil, -1 for an empty list.
func NearestFrame(frames []Frame, ref Pose) (Frame, int) {
	best, bestIdx := Frame(nil), -1
	bestDist := 0.0
	for i, f := range frames {
		d := f.FramePose().DistanceSquared(ref)
		if bestIdx < 0 || d < bestDist {
			best, bestIdx, bestDist = f, i, d
		}
	}
	return best, bestIdx
}

// OnAttach binds the governed target. A nil target is a configuration fault.
func (m *MultiParent) OnAttach(target Target) error {
	if target == nil {
		return fmt.Errorf("%w: strategy %s attached without a target", ErrMissingCollaborator, m.ID())
	}
	m.target = target
	return nil
}

// OnDetach releases the governed target.
func (m *MultiParent) OnDetach() { m.target = nil }

// OnEnable resumes ticking; the next tick recomputes immediately.
func (m *MultiParent) OnEnable() {
	m.enabled = true
	m.throttle.Reset()
}

// OnDisable stops ticking. Explicit mutators still recompute.
func (m *MultiParent) OnDisable() { m.enabled = false }

// Enabled reports whether Tick recomputes.
func (m *MultiParent) Enabled() bool { return m.enabled }

// Tick recomputes when enabled and the update-frequency window has elapsed.
func (m *MultiParent) Tick(now time.Time) {
	if !m.enabled {
		return
	}
	if m.throttle.Due(now) {
		m.UpdateTransform()
	}
}

// LastUpdate returns the time of the last throttled recompute.
func (m *MultiParent) LastUpdate() time.Time { return m.throttle.Last() }
