package alignment

// EventKind names the observable field that changed.
type EventKind string

const (
	AccuracyChanged EventKind = "accuracy_changed"
	StateChanged    EventKind = "state_changed"
	PoseChanged     EventKind = "pose_changed"
)

// Event is delivered to listeners after a published value changes. It carries
// a full snapshot so listeners never need to call back into the strategy.
type Event struct {
	Kind       EventKind
	StrategyID string
	State      State
	Accuracy   Accuracy
	Pose       Pose
	HasPose    bool
}

// Listener receives change events synchronously on the mutating goroutine.
type Listener func(Event)
