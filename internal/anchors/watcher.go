package anchors

import (
	"context"
	"sync"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/monitoring"
)

// Poster hands work to the goroutine that owns the strategies.
// alignment.Driver implements it.
type Poster interface {
	Post(fn func())
}

// Watcher keeps a MultiParent's candidate list in step with the anchors a
// Service locates. Service notifications arrive on arbitrary goroutines, so
// every change is posted to the driver and applied on its tick goroutine.
type Watcher struct {
	svc      Service
	poster   Poster
	strategy *alignment.MultiParent

	unsubscribe func()
	wg          sync.WaitGroup
}

// NewWatcher subscribes to svc and starts forwarding anchor changes to mp.
func NewWatcher(svc Service, poster Poster, mp *alignment.MultiParent) *Watcher {
	w := &Watcher{svc: svc, poster: poster, strategy: mp}
	w.unsubscribe = svc.Subscribe(w.handle)
	return w
}

// Locate asks the service for ids in the background. Located anchors reach
// the strategy through the subscription; the returned channel yields the
// lookup error, or nil, and is then closed.
func (w *Watcher) Locate(ctx context.Context, ids []string) <-chan error {
	done := make(chan error, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		_, err := w.svc.Locate(ctx, ids)
		if err != nil {
			monitoring.Logf("anchors: locate %d anchors for %s failed: %v", len(ids), w.strategy.ID(), err)
		}
		done <- err
	}()
	return done
}

// Close stops forwarding notifications and waits for background lookups.
func (w *Watcher) Close() {
	w.unsubscribe()
	w.wg.Wait()
}

func (w *Watcher) handle(e Event) {
	w.poster.Post(func() { w.apply(e) })
}

// apply runs on the driver goroutine.
func (w *Watcher) apply(e Event) {
	frames := w.strategy.ReferenceFrames()
	idx := -1
	for i, f := range frames {
		if f.FrameID() == e.Anchor.ID {
			idx = i
			break
		}
	}

	switch e.Kind {
	case EventLocated:
		if idx >= 0 {
			frames[idx] = e.Anchor
		} else {
			frames = append(frames, e.Anchor)
		}
	case EventDeleted:
		if idx < 0 {
			return
		}
		frames = append(frames[:idx], frames[idx+1:]...)
	default:
		return
	}

	if err := w.strategy.SetReferenceFrames(frames); err != nil {
		monitoring.Logf("anchors: update candidates for %s: %v", w.strategy.ID(), err)
		return
	}
	monitoring.Debugf("anchors: %s %s, %s has %d candidates", e.Kind, e.Anchor.ID, w.strategy.ID(), len(frames))
}
