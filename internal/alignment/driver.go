package alignment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/monitoring"
	"github.com/banshee-data/spatial-alignment/internal/timeutil"
)

// DefaultTickInterval is the driver period when none is configured (~60Hz).
const DefaultTickInterval = 16 * time.Millisecond

type driverEntry struct {
	strategy Strategy
	enabled  bool
}

// Driver ticks a set of strategies from one goroutine, the way a render loop
// calls per-frame updates. Collaborators running on other goroutines hand
// results to it with Post; everything else must be called from the goroutine
// running Run or Tick, or before Run starts.
type Driver struct {
	clock    timeutil.Clock
	interval time.Duration

	mu      sync.Mutex
	posted  []func()
	entries []*driverEntry
}

// NewDriver creates a driver that ticks every interval on clock. A nil clock
// uses the real clock and a non-positive interval uses DefaultTickInterval.
func NewDriver(clock timeutil.Clock, interval time.Duration) *Driver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Driver{clock: clock, interval: interval}
}

// Register attaches s to target and enables it. Strategies implementing
// Lifecycle receive OnAttach then OnEnable; an attach error is returned and
// the strategy is not registered.
func (d *Driver) Register(s Strategy, target Target) error {
	if s == nil {
		return fmt.Errorf("%w: nil strategy", ErrInvalidArgument)
	}
	if _, exists := d.Strategy(s.ID()); exists {
		return fmt.Errorf("%w: strategy %s already registered", ErrInvalidArgument, s.ID())
	}
	if lc, ok := s.(Lifecycle); ok {
		if err := lc.OnAttach(target); err != nil {
			return fmt.Errorf("attach strategy %s: %w", s.ID(), err)
		}
		lc.OnEnable()
	}

	d.mu.Lock()
	d.entries = append(d.entries, &driverEntry{strategy: s, enabled: true})
	d.mu.Unlock()
	monitoring.Debugf("driver: registered strategy %s", s.ID())
	return nil
}

// Unregister disables and detaches the strategy with the given id.
func (d *Driver) Unregister(id string) error {
	d.mu.Lock()
	var found *driverEntry
	for i, e := range d.entries {
		if e.strategy.ID() == id {
			found = e
			d.entries = append(d.entries[:i:i], d.entries[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	if found == nil {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if lc, ok := found.strategy.(Lifecycle); ok {
		if found.enabled {
			lc.OnDisable()
		}
		lc.OnDetach()
	}
	return nil
}

// Enable resumes ticking the strategy with the given id.
func (d *Driver) Enable(id string) error {
	return d.setEnabled(id, true)
}

// Disable stops ticking the strategy with the given id.
func (d *Driver) Disable(id string) error {
	return d.setEnabled(id, false)
}

func (d *Driver) setEnabled(id string, on bool) error {
	d.mu.Lock()
	var found *driverEntry
	for _, e := range d.entries {
		if e.strategy.ID() == id {
			found = e
			break
		}
	}
	changed := found != nil && found.enabled != on
	if changed {
		found.enabled = on
	}
	d.mu.Unlock()

	if found == nil {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if lc, ok := found.strategy.(Lifecycle); ok && changed {
		if on {
			lc.OnEnable()
		} else {
			lc.OnDisable()
		}
	}
	return nil
}

// Strategy returns the registered strategy with the given id.
func (d *Driver) Strategy(id string) (Strategy, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.strategy.ID() == id {
			return e.strategy, true
		}
	}
	return nil, false
}

// Strategies returns the registered strategies in registration order.
func (d *Driver) Strategies() []Strategy {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Strategy, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.strategy)
	}
	return out
}

// Post queues fn to run at the start of the next tick on the driver
// goroutine. It is safe to call from any goroutine.
func (d *Driver) Post(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.posted = append(d.posted, fn)
	d.mu.Unlock()
}

// Do runs fn on the driver goroutine and waits for it to finish. It returns
// ctx.Err() if ctx ends first, in which case fn may still run later.
func (d *Driver) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	d.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs posted work, then ticks every enabled strategy in registration
// order. Strategies without Lifecycle recompute on every tick.
func (d *Driver) Tick(now time.Time) {
	d.mu.Lock()
	posted := d.posted
	d.posted = nil
	active := make([]Strategy, 0, len(d.entries))
	for _, e := range d.entries {
		if e.enabled {
			active = append(active, e.strategy)
		}
	}
	d.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
	for _, s := range active {
		if lc, ok := s.(Lifecycle); ok {
			lc.Tick(now)
		} else {
			s.UpdateTransform()
		}
	}
}

// Run ticks until ctx is done and returns ctx.Err().
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	monitoring.Logf("alignment driver started: interval=%v strategies=%d", d.interval, len(d.Strategies()))
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("alignment driver stopped: %v", ctx.Err())
			return ctx.Err()
		case now := <-ticker.C():
			d.Tick(now)
		}
	}
}
