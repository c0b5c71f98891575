package alignment

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// measuredFrame is a Frame that reports its own accuracy.
type measuredFrame struct {
	StaticFrame
	acc Accuracy
}

func (f measuredFrame) FrameAccuracy() Accuracy { return f.acc }

type eventLog struct {
	events []Event
}

func (l *eventLog) listen(e Event) { l.events = append(l.events, e) }

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func newTestStrategy(t *testing.T, viewpoint ViewpointProvider) (*MultiParent, *PoseHolder, *eventLog) {
	t.Helper()
	mp, err := NewMultiParent(MultiParentConfig{ID: "content", Viewpoint: viewpoint})
	require.NoError(t, err)

	holder := &PoseHolder{}
	require.NoError(t, mp.OnAttach(holder))

	log := &eventLog{}
	mp.Subscribe(log.listen)
	return mp, holder, log
}

func frame(id string, x, y, z float64) StaticFrame {
	return StaticFrame{ID: id, Pose: At(x, y, z)}
}

func TestNewMultiParent(t *testing.T) {
	t.Run("requires viewpoint provider", func(t *testing.T) {
		_, err := NewMultiParent(MultiParentConfig{})
		assert.ErrorIs(t, err, ErrMissingCollaborator)
	})

	t.Run("rejects negative frequency", func(t *testing.T) {
		_, err := NewMultiParent(MultiParentConfig{Viewpoint: NoViewpoint{}, UpdateFrequency: -time.Second})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("defaults", func(t *testing.T) {
		mp, err := NewMultiParent(MultiParentConfig{Viewpoint: NoViewpoint{}})
		require.NoError(t, err)
		assert.NotEmpty(t, mp.ID(), "id is generated")
		assert.Equal(t, ModeNearestNeighbor, mp.Mode())
		assert.Equal(t, StateUnresolved, mp.State())
		assert.True(t, mp.Accuracy().IsInfinite())
		assert.Empty(t, mp.ReferenceFrames())
		assert.True(t, mp.Enabled())
	})
}

// Every non-empty candidate set with a resolvable reference ends Tracking
// with the selected pose copied exactly.
func TestMultiParent_TrackingCopiesPoseExactly(t *testing.T) {
	mp, holder, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))

	exact := NewPose(r3.Vec{X: 0.1 + 0.2, Y: 1e-300, Z: -7.25}, RotationAbout(r3.Vec{X: 1, Y: 1}, 0.3))
	require.NoError(t, mp.SetReferenceFrames([]Frame{
		StaticFrame{ID: "a", Pose: exact},
		frame("b", 100, 0, 0),
	}))

	assert.Equal(t, StateTracking, mp.State())
	got, ok := holder.Pose()
	require.True(t, ok)
	assert.True(t, got.Equal(exact), "got %v want %v", got, exact)

	published, ok := mp.Pose()
	require.True(t, ok)
	assert.True(t, published.Equal(exact))
	assert.Equal(t, ExactAccuracy(), mp.Accuracy())
}

func TestMultiParent_EmptySetIsUnresolved(t *testing.T) {
	mp, holder, log := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))

	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)}))
	require.Equal(t, StateTracking, mp.State())
	writes := holder.Writes()
	before, _ := holder.Pose()

	require.NoError(t, mp.SetReferenceFrames([]Frame{}))

	assert.Equal(t, StateUnresolved, mp.State())
	assert.True(t, mp.Accuracy().IsInfinite(), "accuracy resets with Unresolved")
	assert.Equal(t, writes, holder.Writes(), "target is not written")
	after, _ := holder.Pose()
	assert.True(t, before.Equal(after))
	assert.Equal(t, 2, log.count(StateChanged))
}

func TestMultiParent_EmptySetFromInhibited(t *testing.T) {
	mp, _, _ := newTestStrategy(t, NoViewpoint{})

	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)}))
	require.Equal(t, StateInhibited, mp.State())

	require.NoError(t, mp.SetReferenceFrames([]Frame{}))
	assert.Equal(t, StateUnresolved, mp.State())
}

func TestMultiParent_NearestNeighbor(t *testing.T) {
	mp, holder, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))

	require.NoError(t, mp.SetReferenceFrames([]Frame{
		frame("far", 5, 0, 0),
		frame("near", 1, 0, 0),
	}))

	got, _ := holder.Pose()
	assert.Equal(t, r3.Vec{X: 1}, got.Position)
	assert.Equal(t, StateTracking, mp.State())
}

func TestMultiParent_NearestNeighborUsesSquaredDistanceIn3D(t *testing.T) {
	viewer := At(10, 10, 10)
	mp, holder, _ := newTestStrategy(t, StaticViewpoint(viewer))

	require.NoError(t, mp.SetReferenceFrames([]Frame{
		frame("origin", 0, 0, 0),
		frame("above", 10, 10, 13),
		frame("beside", 14, 10, 10),
	}))

	got, _ := holder.Pose()
	assert.Equal(t, r3.Vec{X: 10, Y: 10, Z: 13}, got.Position)
}

func TestMultiParent_TiesKeepFirstFrame(t *testing.T) {
	mp, _, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))

	require.NoError(t, mp.SetReferenceFrames([]Frame{
		frame("left", -2, 0, 0),
		frame("right", 2, 0, 0),
	}))
	out := mp.Resolve()
	assert.Equal(t, "left", out.FrameID)

	require.NoError(t, mp.SetReferenceFrames([]Frame{
		frame("right", 2, 0, 0),
		frame("left", -2, 0, 0),
	}))
	out = mp.Resolve()
	assert.Equal(t, "right", out.FrameID)
}

func TestMultiParent_SingleCandidateShortcut(t *testing.T) {
	t.Run("selected regardless of distance", func(t *testing.T) {
		mp, holder, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
		require.NoError(t, mp.SetReferenceFrames([]Frame{frame("only", 1e6, 0, 0)}))

		assert.Equal(t, StateTracking, mp.State())
		got, _ := holder.Pose()
		assert.Equal(t, r3.Vec{X: 1e6}, got.Position)
	})

	t.Run("reference still resolved first", func(t *testing.T) {
		mp, holder, _ := newTestStrategy(t, NoViewpoint{})
		require.NotPanics(t, func() {
			require.NoError(t, mp.SetReferenceFrames([]Frame{frame("only", 1, 0, 0)}))
		})

		assert.Equal(t, StateInhibited, mp.State())
		assert.Equal(t, 0, holder.Writes())
	})
}

func TestMultiParent_InhibitedLeavesPoseAndAccuracy(t *testing.T) {
	available := true
	viewpoint := ViewpointFunc(func() (Pose, bool) { return At(0, 0, 0), available })
	mp, holder, _ := newTestStrategy(t, viewpoint)

	require.NoError(t, mp.SetReferenceFrames([]Frame{
		measuredFrame{StaticFrame: frame("a", 1, 0, 0), acc: UniformAccuracy(0.02)},
		frame("b", 3, 0, 0),
	}))
	require.Equal(t, StateTracking, mp.State())
	require.Equal(t, UniformAccuracy(0.02), mp.Accuracy())

	available = false
	out := mp.UpdateTransform()

	assert.Equal(t, StateInhibited, out.State)
	assert.Nil(t, out.Pose)
	assert.Equal(t, StateInhibited, mp.State())
	assert.Equal(t, UniformAccuracy(0.02), mp.Accuracy(), "accuracy untouched while inhibited")
	assert.Equal(t, 1, holder.Writes())

	available = true
	mp.UpdateTransform()
	assert.Equal(t, StateTracking, mp.State(), "no state is terminal")
}

func TestMultiParent_ReferenceFrameOverride(t *testing.T) {
	mp, holder, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
	require.NoError(t, mp.SetReferenceFrames([]Frame{
		frame("a", 1, 0, 0),
		frame("b", 9, 0, 0),
	}))
	got, _ := holder.Pose()
	require.Equal(t, r3.Vec{X: 1}, got.Position)

	mp.SetReferenceFrame(frame("ref", 10, 0, 0))
	got, _ = holder.Pose()
	assert.Equal(t, r3.Vec{X: 9}, got.Position, "override replaces the viewpoint")
	assert.Equal(t, "b", mp.Config().ParentIDs[1])
	assert.Equal(t, "ref", mp.Config().ReferenceID)

	mp.SetReferenceFrame(nil)
	got, _ = holder.Pose()
	assert.Equal(t, r3.Vec{X: 1}, got.Position, "clearing falls back to the viewpoint")
	assert.Nil(t, mp.ReferenceFrame())
}

func TestMultiParent_OverrideWithoutViewpoint(t *testing.T) {
	mp, _, _ := newTestStrategy(t, NoViewpoint{})
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0), frame("b", 2, 0, 0)}))
	require.Equal(t, StateInhibited, mp.State())

	mp.SetReferenceFrame(frame("ref", 2, 0, 0))
	assert.Equal(t, StateTracking, mp.State())
}

// Recomputing twice with unchanged inputs is idempotent and silent.
func TestMultiParent_Idempotent(t *testing.T) {
	mp, holder, log := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 2, 3), frame("b", 4, 5, 6)}))

	first := len(log.events)
	firstPose, _ := holder.Pose()
	writes := holder.Writes()

	mp.UpdateTransform()

	assert.Len(t, log.events, first, "no new events")
	assert.Equal(t, StateTracking, mp.State())
	secondPose, _ := holder.Pose()
	assert.True(t, firstPose.Equal(secondPose))
	assert.Equal(t, writes+1, holder.Writes(), "pose write is reapplied")
}

func TestMultiParent_AccuracyFromFrame(t *testing.T) {
	mp, _, log := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))

	require.NoError(t, mp.SetReferenceFrames([]Frame{
		measuredFrame{StaticFrame: frame("a", 1, 0, 0), acc: Accuracy{X: 0.01, Y: 0.02, Z: 0.03}},
	}))

	assert.Equal(t, Accuracy{X: 0.01, Y: 0.02, Z: 0.03}, mp.Accuracy())
	assert.Equal(t, 1, log.count(AccuracyChanged))
	assert.Equal(t, 1, log.count(StateChanged))
	assert.Equal(t, 1, log.count(PoseChanged))
}

// No listener may see Tracking next to an infinite accuracy, nor a pose
// change reported under a state that is not yet published.
func TestMultiParent_EventsCarryPublishedOutcome(t *testing.T) {
	available := true
	viewpoint := ViewpointFunc(func() (Pose, bool) { return At(0, 0, 0), available })
	mp, _, log := newTestStrategy(t, viewpoint)

	require.NoError(t, mp.SetReferenceFrames([]Frame{
		measuredFrame{StaticFrame: frame("a", 1, 0, 0), acc: UniformAccuracy(0.02)},
	}))
	available = false
	mp.UpdateTransform()
	available = true
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("b", 2, 0, 0)}))
	require.NoError(t, mp.SetReferenceFrames([]Frame{}))
	require.Equal(t, StateUnresolved, mp.State())

	require.NotEmpty(t, log.events)
	for i, e := range log.events {
		if e.State == StateTracking {
			assert.False(t, e.Accuracy.IsInfinite(), "event %d (%s) tracking with infinite accuracy", i, e.Kind)
		}
		if e.Kind == PoseChanged {
			assert.Equal(t, StateTracking, e.State, "event %d pose change outside tracking", i)
		}
	}
}

func TestMultiParent_UnusableFrameAccuracy(t *testing.T) {
	for name, acc := range map[string]Accuracy{
		"infinite": InfiniteAccuracy(),
		"nan":      {X: math.NaN(), Y: 0.1, Z: 0.1},
		"negative": {X: -1},
	} {
		t.Run(name, func(t *testing.T) {
			mp, _, log := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
			require.NoError(t, mp.SetReferenceFrames([]Frame{
				measuredFrame{StaticFrame: frame("a", 1, 0, 0), acc: acc},
			}))

			assert.Equal(t, StateTracking, mp.State())
			assert.Equal(t, ExactAccuracy(), mp.Accuracy(), "treated like a frame without an estimate")

			events := len(log.events)
			mp.UpdateTransform()
			mp.UpdateTransform()
			assert.Len(t, log.events, events, "unchanged inputs stay silent")
		})
	}
}

func TestMultiParent_NilReferenceFramesRejected(t *testing.T) {
	mp, holder, log := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)}))
	events := len(log.events)
	writes := holder.Writes()

	err := mp.SetReferenceFrames(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	err = mp.SetReferenceFrames([]Frame{frame("b", 2, 0, 0), nil})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, StateTracking, mp.State())
	require.Len(t, mp.ReferenceFrames(), 1)
	assert.Equal(t, "a", mp.ReferenceFrames()[0].FrameID())
	assert.Len(t, log.events, events)
	assert.Equal(t, writes, holder.Writes())
}

func TestMultiParent_ReferenceFramesReplacedAsUnit(t *testing.T) {
	mp, _, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
	frames := []Frame{frame("a", 1, 0, 0)}
	require.NoError(t, mp.SetReferenceFrames(frames))

	frames[0] = frame("mutated", 50, 0, 0)
	assert.Equal(t, "a", mp.ReferenceFrames()[0].FrameID(), "strategy holds its own copy")

	got := mp.ReferenceFrames()
	got[0] = frame("x", 0, 0, 0)
	assert.Equal(t, "a", mp.ReferenceFrames()[0].FrameID(), "accessor returns a copy")
}

func TestMultiParent_UnknownModePanics(t *testing.T) {
	mp, _, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))

	// No candidates: the empty check returns before mode dispatch.
	require.NotPanics(t, func() { mp.SetMode("weighted_average") })
	assert.Equal(t, StateUnresolved, mp.State())

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected unreachable-branch panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrUnreachable)
	}()
	_ = mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)})
	t.Fatal("recompute with unknown mode did not panic")
}

func TestMultiParent_SetModeRecomputes(t *testing.T) {
	mp, holder, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)}))
	writes := holder.Writes()

	mp.SetMode(ModeNearestNeighbor)
	assert.Equal(t, writes+1, holder.Writes(), "setting the same mode still recomputes")
}

func TestMultiParent_SetUpdateFrequency(t *testing.T) {
	mp, _, _ := newTestStrategy(t, NoViewpoint{})

	require.NoError(t, mp.SetUpdateFrequency(0))
	assert.Equal(t, time.Duration(0), mp.UpdateFrequency())

	require.NoError(t, mp.SetUpdateFrequency(250*time.Millisecond))
	err := mp.SetUpdateFrequency(-time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 250*time.Millisecond, mp.UpdateFrequency())
}

func TestMultiParent_Config(t *testing.T) {
	mp, err := NewMultiParent(MultiParentConfig{ID: "c", Viewpoint: NoViewpoint{}, UpdateFrequency: 50 * time.Millisecond})
	require.NoError(t, err)

	cfg := mp.Config()
	assert.Equal(t, MultiParentKind, cfg.Kind)
	assert.Equal(t, ModeNearestNeighbor, cfg.Mode)
	assert.Empty(t, cfg.ParentIDs)
	assert.NotNil(t, cfg.ParentIDs)
	assert.Equal(t, 50*time.Millisecond, cfg.UpdateFrequency())

	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("x", 0, 0, 0), frame("y", 1, 0, 0)}))
	assert.Equal(t, []string{"x", "y"}, mp.Config().ParentIDs)
}

func TestMultiParent_Attach(t *testing.T) {
	mp, err := NewMultiParent(MultiParentConfig{Viewpoint: StaticViewpoint(At(0, 0, 0))})
	require.NoError(t, err)

	assert.ErrorIs(t, mp.OnAttach(nil), ErrMissingCollaborator)

	// Without a target the pose is still published.
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)}))
	p, ok := mp.Pose()
	require.True(t, ok)
	assert.Equal(t, r3.Vec{X: 1}, p.Position)

	var written []Pose
	require.NoError(t, mp.OnAttach(TargetFunc(func(p Pose) { written = append(written, p) })))
	mp.UpdateTransform()
	assert.Len(t, written, 1)

	mp.OnDetach()
	mp.UpdateTransform()
	assert.Len(t, written, 1)
}

func TestMultiParent_TickThrottled(t *testing.T) {
	mp, holder, _ := newTestStrategy(t, StaticViewpoint(At(0, 0, 0)))
	require.NoError(t, mp.SetUpdateFrequency(100*time.Millisecond))
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)}))
	base := holder.Writes()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mp.Tick(start)
	mp.Tick(start.Add(50 * time.Millisecond))
	mp.Tick(start.Add(99 * time.Millisecond))
	assert.Equal(t, base+1, holder.Writes(), "one recompute inside the window")
	assert.Equal(t, start, mp.LastUpdate())

	mp.Tick(start.Add(100 * time.Millisecond))
	assert.Equal(t, base+2, holder.Writes(), "recompute at the window edge")

	mp.OnDisable()
	mp.Tick(start.Add(time.Hour))
	assert.Equal(t, base+2, holder.Writes(), "disabled strategies do not tick")

	mp.OnEnable()
	mp.Tick(start.Add(time.Hour + time.Millisecond))
	assert.Equal(t, base+3, holder.Writes(), "enabling resets the window")
}

func TestMultiParent_FailedRecomputeConsumesWindow(t *testing.T) {
	calls := 0
	viewpoint := ViewpointFunc(func() (Pose, bool) {
		calls++
		return Pose{}, false
	})
	mp, _, _ := newTestStrategy(t, viewpoint)
	require.NoError(t, mp.SetReferenceFrames([]Frame{frame("a", 1, 0, 0)}))
	require.NoError(t, mp.SetUpdateFrequency(time.Second))
	calls = 0

	start := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		mp.Tick(start.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	assert.Equal(t, 1, calls, "failed attempts are throttled too")
	assert.Equal(t, StateInhibited, mp.State())
}

func TestNearestFrame(t *testing.T) {
	f, idx := NearestFrame(nil, IdentityPose())
	assert.Nil(t, f)
	assert.Equal(t, -1, idx)

	frames := []Frame{frame("a", 3, 0, 0), frame("b", 0, -2, 0), frame("c", 0, 0, math.Inf(1))}
	f, idx = NearestFrame(frames, IdentityPose())
	assert.Equal(t, "b", f.FrameID())
	assert.Equal(t, 1, idx)
}
