package anchors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/monitoring"
	"github.com/banshee-data/spatial-alignment/internal/timeutil"
)

// EventKind identifies an anchor notification.
type EventKind string

const (
	EventLocated EventKind = "located"
	EventDeleted EventKind = "deleted"
)

// Event is delivered to subscribers on the goroutine that produced it.
type Event struct {
	Kind   EventKind
	Anchor Anchor
}

// Service is the anchor-resolution collaborator used by Watcher.
type Service interface {
	Locate(ctx context.Context, ids []string) ([]Anchor, error)
	Subscribe(fn func(Event)) (unsubscribe func())
}

// locateConcurrency bounds the number of lookups in flight per Locate call.
const locateConcurrency = 4

// MemoryService is an in-process anchor service. Anchors live only as long
// as the service, and lookups optionally wait Latency to mimic a network
// round trip.
type MemoryService struct {
	clock   timeutil.Clock
	Latency time.Duration

	mu      sync.RWMutex
	status  SessionStatus
	anchors map[string]Anchor
	subs    map[int]func(Event)
	nextSub int
}

// NewMemoryService returns a service with an empty session. Call
// UpdateStatus before Create or Locate. A nil clock uses the real clock.
func NewMemoryService(clock timeutil.Clock) *MemoryService {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &MemoryService{
		clock:   clock,
		anchors: make(map[string]Anchor),
		subs:    make(map[int]func(Event)),
	}
}

// Status returns the current session status.
func (s *MemoryService) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// UpdateStatus records new environment-coverage progress.
func (s *MemoryService) UpdateStatus(st SessionStatus) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	s.mu.Unlock()
	if prev.IsReadyForLocate() != st.IsReadyForLocate() || prev.IsReadyForCreate() != st.IsReadyForCreate() {
		monitoring.Debugf("anchors: session ready create=%t locate=%t", st.IsReadyForCreate(), st.IsReadyForLocate())
	}
}

// Subscribe registers fn for located and deleted notifications.
func (s *MemoryService) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Create stores a new anchor at pose. It fails with ErrNotReady until the
// session is ready for create, and with alignment.ErrInvalidArgument for a
// malformed pose or an accuracy that is not finite and non-negative.
func (s *MemoryService) Create(ctx context.Context, pose alignment.Pose, acc alignment.Accuracy) (Anchor, error) {
	if err := ctx.Err(); err != nil {
		return Anchor{}, err
	}
	pose, err := checkEstimate(pose, acc)
	if err != nil {
		return Anchor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.IsReadyForCreate() {
		return Anchor{}, fmt.Errorf("%w: create progress %.2f", ErrNotReady, s.status.ReadyForCreateProgress)
	}
	a := Anchor{
		ID:        uuid.New().String(),
		Pose:      pose,
		Accuracy:  acc,
		CreatedAt: s.clock.Now(),
	}
	s.anchors[a.ID] = a
	return a, nil
}

// Relocalize moves a stored anchor, as happens when the service refines its
// estimate, and notifies subscribers. The estimate is checked as in Create.
func (s *MemoryService) Relocalize(id string, pose alignment.Pose, acc alignment.Accuracy) error {
	pose, err := checkEstimate(pose, acc)
	if err != nil {
		return fmt.Errorf("relocalize anchor %s: %w", id, err)
	}
	s.mu.Lock()
	a, ok := s.anchors[id]
	if ok {
		a.Pose = pose
		a.Accuracy = acc
		s.anchors[id] = a
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAnchorNotFound, id)
	}
	s.notify(Event{Kind: EventLocated, Anchor: a})
	return nil
}

func checkEstimate(pose alignment.Pose, acc alignment.Accuracy) (alignment.Pose, error) {
	pose, err := pose.Normalized()
	if err != nil {
		return pose, err
	}
	if err := acc.Validate(); err != nil {
		return pose, err
	}
	return pose, nil
}

// Delete removes the anchor and notifies subscribers.
func (s *MemoryService) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	a, ok := s.anchors[id]
	delete(s.anchors, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAnchorNotFound, id)
	}
	s.notify(Event{Kind: EventDeleted, Anchor: a})
	return nil
}

// Locate looks up ids concurrently and returns the anchors in the order
// requested. Each located anchor is also delivered to subscribers. The first
// failing lookup cancels the rest and its error is returned.
func (s *MemoryService) Locate(ctx context.Context, ids []string) ([]Anchor, error) {
	if st := s.Status(); !st.IsReadyForLocate() {
		return nil, fmt.Errorf("%w: locate progress %.2f", ErrNotReady, st.ReadyForLocateProgress)
	}

	found := make([]Anchor, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(locateConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			a, err := s.lookup(gctx, id)
			if err != nil {
				return err
			}
			found[i] = a
			s.notify(Event{Kind: EventLocated, Anchor: a})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("locate anchors: %w", err)
	}
	return found, nil
}

func (s *MemoryService) lookup(ctx context.Context, id string) (Anchor, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Anchor{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Anchor{}, err
	}

	s.mu.RLock()
	a, ok := s.anchors[id]
	s.mu.RUnlock()
	if !ok {
		return Anchor{}, fmt.Errorf("%w: %s", ErrAnchorNotFound, id)
	}
	return a, nil
}

func (s *MemoryService) notify(e Event) {
	s.mu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
