package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/anchors"
	"github.com/banshee-data/spatial-alignment/internal/api"
	"github.com/banshee-data/spatial-alignment/internal/config"
	"github.com/banshee-data/spatial-alignment/internal/db"
	"github.com/banshee-data/spatial-alignment/internal/frames"
	"github.com/banshee-data/spatial-alignment/internal/healthsrv"
	"github.com/banshee-data/spatial-alignment/internal/monitor"
	"github.com/banshee-data/spatial-alignment/internal/monitoring"
	"github.com/banshee-data/spatial-alignment/internal/timeutil"
)

type appOptions struct {
	AnchorStrategyID string
	DemoAnchors      int
	Clock            timeutil.Clock
}

type managedStrategy struct {
	mp      *alignment.MultiParent
	name    string
	persist bool // configuration came from the frame store
}

type app struct {
	cfg  *config.AlignmentConfig
	opts appOptions

	db        *db.DB
	store     *frames.SQLiteStore
	registry  *frames.Registry
	driver    *alignment.Driver
	viewpoint alignment.ViewpointProvider
	recorder  *monitor.Recorder
	health    *healthsrv.Server
	anchors   *anchors.MemoryService
	watcher   *anchors.Watcher

	strategies []managedStrategy
	unsubs     []func()

	ready    chan struct{}
	httpAddr string
}

func newApp(cfg *config.AlignmentConfig, opts appOptions) (*app, error) {
	d, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		opts:     opts,
		db:       d,
		store:    frames.NewSQLiteStore(d.DB),
		driver:   alignment.NewDriver(opts.Clock, cfg.GetTickInterval()),
		recorder: monitor.NewRecorder(opts.Clock, 0),
		health:   healthsrv.New(),
		anchors:  anchors.NewMemoryService(opts.Clock),
		ready:    make(chan struct{}),
	}
	a.registry = frames.NewRegistry(a.store)
	a.recorder.SetSink(monitor.NewTransitionStore(d.DB))

	a.viewpoint = alignment.NoViewpoint{}
	if p, ok := cfg.GetViewpoint(); ok {
		a.viewpoint = alignment.StaticViewpoint(p)
	}

	if path := cfg.GetFramesFile(); path != "" {
		if err := a.importFrames(path); err != nil {
			d.Close()
			return nil, err
		}
	}
	if err := a.loadStoredStrategies(); err != nil {
		d.Close()
		return nil, err
	}
	if id := opts.AnchorStrategyID; id != "" {
		mp, err := a.newStrategy(id)
		if err == nil {
			err = a.register(mp, "cloud anchors", false)
		}
		if err != nil {
			d.Close()
			return nil, err
		}
		a.watcher = anchors.NewWatcher(a.anchors, a.driver, mp)
	}
	return a, nil
}

// importFrames copies a frames document into the SQLite store. A missing
// file is not an error; it is created at shutdown.
func (a *app) importFrames(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		monitoring.Logf("frames file %s not found, starting from stored frames", path)
		return nil
	}
	doc := frames.NewJSONStore()
	if err := doc.LoadFile(path); err != nil {
		return err
	}
	all, _ := doc.Frames()
	for _, f := range all {
		if err := a.store.SaveFrame(f); err != nil {
			return fmt.Errorf("import frame %s: %w", f.ID, err)
		}
	}
	monitoring.Logf("imported %d frames from %s", len(all), path)
	return nil
}

func (a *app) newStrategy(id string) (*alignment.MultiParent, error) {
	return alignment.NewMultiParent(alignment.MultiParentConfig{
		ID:              id,
		Mode:            a.cfg.GetMode(),
		UpdateFrequency: a.cfg.GetUpdateFrequency(),
		Viewpoint:       a.viewpoint,
	})
}

// loadStoredStrategies registers a MultiParent for every stored frame that
// carries multi-parent configuration. Frames whose configuration cannot be
// applied are logged and skipped.
func (a *app) loadStoredStrategies() error {
	stored, err := a.store.Frames()
	if err != nil {
		return err
	}
	for _, f := range stored {
		if f.Strategy == nil {
			continue
		}
		if k := f.Strategy.Kind; k != "" && k != alignment.MultiParentKind {
			monitoring.Logf("frame %s: unsupported strategy kind %q, skipping", f.ID, k)
			continue
		}
		mp, err := a.newStrategy(f.ID)
		if err != nil {
			return err
		}
		if err := a.registry.Apply(mp, *f.Strategy); err != nil {
			monitoring.Logf("frame %s: %v, skipping", f.ID, err)
			continue
		}
		if err := a.register(mp, f.Name, true); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) register(mp *alignment.MultiParent, name string, persist bool) error {
	if err := a.driver.Register(mp, &alignment.PoseHolder{}); err != nil {
		return err
	}
	a.unsubs = append(a.unsubs, a.recorder.Attach(mp), a.health.Watch(mp))
	a.strategies = append(a.strategies, managedStrategy{mp: mp, name: name, persist: persist})
	monitoring.Logf("registered strategy %s (%s): %d candidates, state %s",
		mp.ID(), name, len(mp.ReferenceFrames()), mp.State())
	return nil
}

// run serves until ctx is done.
func (a *app) run(ctx context.Context) error {
	if err := a.health.Start(a.cfg.GetGRPCListen()); err != nil {
		return err
	}
	defer a.health.Stop()

	ln, err := net.Listen("tcp", a.cfg.GetListen())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	a.httpAddr = ln.Addr().String()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("driver stopped: %v", err)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(a.driver, a.recorder, api.Options{
			Registry:    a.registry,
			Transitions: monitor.NewTransitionStore(a.db.DB),
			Anchors:     a.anchors,
			Viewpoint:   a.viewpoint,
		}).ServeMux()
		server := &http.Server{
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			monitoring.Logf("HTTP server listening on %s", a.httpAddr)
			if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
				monitoring.Logf("HTTP server error: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
	}()

	if a.opts.DemoAnchors > 0 && a.watcher != nil {
		a.seedDemoAnchors(ctx, a.opts.DemoAnchors)
	}
	close(a.ready)

	wg.Wait()
	return nil
}

// seedDemoAnchors places n anchors on a 3m ring around the viewpoint and
// asks the watcher to locate them.
func (a *app) seedDemoAnchors(ctx context.Context, n int) {
	a.anchors.UpdateStatus(anchors.ReadyStatus())
	center, ok := a.viewpoint.Viewpoint()
	if !ok {
		center = alignment.IdentityPose()
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		pos := r3.Add(center.Position, r3.Vec{X: 3 * math.Cos(angle), Z: 3 * math.Sin(angle)})
		facing := alignment.RotationAbout(r3.Vec{Y: 1}, math.Pi-angle)
		anchor, err := a.anchors.Create(ctx, alignment.NewPose(pos, facing), alignment.UniformAccuracy(0.02*float64(i+1)))
		if err != nil {
			monitoring.Logf("demo anchor %d: %v", i, err)
			return
		}
		ids = append(ids, anchor.ID)
	}
	a.watcher.Locate(ctx, ids)
}

// close writes shutdown outputs, persists strategy state and releases
// resources. It must be called after run returns.
func (a *app) close() error {
	if a.watcher != nil {
		a.watcher.Close()
	}
	for _, unsub := range a.unsubs {
		unsub()
	}

	var errs []error
	if dir := a.cfg.GetPlotDir(); dir != "" {
		errs = append(errs, a.writePlots(dir))
	}
	for _, s := range a.strategies {
		if !s.persist {
			continue
		}
		if _, err := a.registry.Snapshot(s.mp, s.mp.ID(), s.name); err != nil {
			errs = append(errs, fmt.Errorf("persist strategy %s: %w", s.mp.ID(), err))
		}
	}
	if path := a.cfg.GetFramesFile(); path != "" {
		errs = append(errs, a.exportFrames(path))
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

func (a *app) writePlots(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create plot dir: %w", err)
	}
	for _, s := range a.strategies {
		path := filepath.Join(dir, s.mp.ID()+"_layout.png")
		if err := monitor.PlotLayout(path, monitor.LayoutFromStrategy(s.mp, a.viewpoint)); err != nil {
			return fmt.Errorf("plot %s: %w", s.mp.ID(), err)
		}
	}

	f, err := os.Create(filepath.Join(dir, "timeline.html"))
	if err != nil {
		return fmt.Errorf("create timeline: %w", err)
	}
	defer f.Close()
	if err := monitor.RenderTimeline(f, "Alignment timeline", a.recorder.Samples("")); err != nil {
		return err
	}
	monitoring.Logf("wrote %d layout plots and timeline to %s", len(a.strategies), dir)
	return nil
}

// exportFrames writes the stored frames to path, keeping their stored update
// times.
func (a *app) exportFrames(path string) error {
	stored, err := a.store.Frames()
	if err != nil {
		return err
	}
	doc := frames.NewJSONStore()
	if err := doc.ReplaceFrames(stored); err != nil {
		return fmt.Errorf("export frames: %w", err)
	}
	return doc.SaveFile(path)
}
