package alignment

// Snapshot is a copy of a tracker's published values.
type Snapshot struct {
	StrategyID string   `json:"strategy_id"`
	State      State    `json:"state"`
	Accuracy   Accuracy `json:"accuracy"`
	Pose       *Pose    `json:"pose,omitempty"`
}

type subscription struct {
	id int
	fn Listener
}

// StatusTracker holds the observable accuracy, state and pose shared by every
// strategy and notifies listeners when one of them changes. Strategies embed
// it and hand each recompute's Outcome to Publish.
type StatusTracker struct {
	id       string
	accuracy Accuracy
	state    State
	pose     Pose
	hasPose  bool

	subs   []subscription
	nextID int
}

// NewStatusTracker returns a tracker in the Unresolved state with infinite
// accuracy and no pose.
func NewStatusTracker(id string) *StatusTracker {
	return &StatusTracker{
		id:       id,
		accuracy: InfiniteAccuracy(),
		state:    StateUnresolved,
	}
}

// ID returns the strategy id the tracker reports in events.
func (t *StatusTracker) ID() string { return t.id }

// Accuracy returns the current accuracy estimate.
func (t *StatusTracker) Accuracy() Accuracy { return t.accuracy }

// State returns the current alignment state.
func (t *StatusTracker) State() State { return t.state }

// Pose returns the last published pose and whether one has been published.
func (t *StatusTracker) Pose() (Pose, bool) { return t.pose, t.hasPose }

// Snapshot copies the published values.
func (t *StatusTracker) Snapshot() Snapshot {
	s := Snapshot{StrategyID: t.id, State: t.state, Accuracy: t.accuracy}
	if t.hasPose {
		p := t.pose
		s.Pose = &p
	}
	return s
}

// Subscribe registers l and returns a function that removes it. Listeners are
// called in subscription order.
func (t *StatusTracker) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscription{id: id, fn: l})
	return func() {
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish stores every value o carries, then emits StateChanged,
// AccuracyChanged and PoseChanged, in that order, for the values that
// changed. Listeners therefore never observe a partly published outcome, such
// as Tracking next to an infinite accuracy. Nil fields in o are left
// untouched. It returns the kinds that were emitted.
func (t *StatusTracker) Publish(o Outcome) []EventKind {
	var changed []EventKind
	if t.state != o.State {
		t.state = o.State
		changed = append(changed, StateChanged)
	}
	if o.Accuracy != nil && !t.accuracy.Equal(*o.Accuracy) {
		t.accuracy = *o.Accuracy
		changed = append(changed, AccuracyChanged)
	}
	if o.Pose != nil && (!t.hasPose || !t.pose.Equal(*o.Pose)) {
		t.pose = *o.Pose
		t.hasPose = true
		changed = append(changed, PoseChanged)
	}

	ev := Event{
		StrategyID: t.id,
		State:      t.state,
		Accuracy:   t.accuracy,
		Pose:       t.pose,
		HasPose:    t.hasPose,
	}
	for _, kind := range changed {
		ev.Kind = kind
		t.deliver(ev)
	}
	return changed
}

func (t *StatusTracker) deliver(ev Event) {
	if len(t.subs) == 0 {
		return
	}
	// A listener may unsubscribe during delivery.
	subs := append([]subscription(nil), t.subs...)
	for _, s := range subs {
		s.fn(ev)
	}
}
