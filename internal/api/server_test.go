package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/anchors"
	"github.com/banshee-data/spatial-alignment/internal/db"
	"github.com/banshee-data/spatial-alignment/internal/frames"
	"github.com/banshee-data/spatial-alignment/internal/monitor"
)

type fixture struct {
	driver  *alignment.Driver
	mp      *alignment.MultiParent
	anchors *anchors.MemoryService
	handler http.Handler
}

func newFixture(t *testing.T, withTransitions bool) *fixture {
	t.Helper()
	driver := alignment.NewDriver(nil, time.Millisecond)
	viewpoint := alignment.StaticViewpoint(alignment.At(0, 1.6, 0))

	mp, err := alignment.NewMultiParent(alignment.MultiParentConfig{ID: "content", Viewpoint: viewpoint})
	require.NoError(t, err)
	require.NoError(t, driver.Register(mp, &alignment.PoseHolder{}))

	store := frames.NewJSONStore()
	require.NoError(t, store.SaveFrame(&frames.SpatialFrame{ID: "lobby", Pose: alignment.At(1, 0, 0)}))
	require.NoError(t, store.SaveFrame(&frames.SpatialFrame{ID: "atrium", Pose: alignment.At(20, 0, 0)}))

	recorder := monitor.NewRecorder(nil, 0)
	recorder.Attach(mp)

	svc := anchors.NewMemoryService(nil)
	opts := Options{
		Registry:  frames.NewRegistry(store),
		Anchors:   svc,
		Viewpoint: viewpoint,
	}
	if withTransitions {
		d, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		opts.Transitions = monitor.NewTransitionStore(d.DB)
		recorder.SetSink(opts.Transitions)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = driver.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{
		driver:  driver,
		mp:      mp,
		anchors: svc,
		handler: NewServer(driver, recorder, opts).ServeMux(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestListStrategies(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/alignment/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Strategies []StrategyStatus `json:"strategies"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Strategies, 1)
	got := resp.Strategies[0]
	assert.Equal(t, "content", got.StrategyID)
	assert.Equal(t, alignment.StateUnresolved, got.State)
	assert.True(t, got.Accuracy.IsInfinite())
	assert.Equal(t, alignment.AccuracyUnknown, got.Quality)
	assert.Equal(t, alignment.MultiParentKind, got.Config.Kind)

	rec = f.do(t, http.MethodPost, "/api/alignment/strategies", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestApplyConfigThenGetStrategy(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/api/alignment/strategies/content/config",
		`{"kind":"multi_parent","mode":"nearest_neighbor","parent_ids":["lobby","atrium"],"update_frequency_nanos":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var applied StrategyStatus
	decode(t, rec, &applied)
	assert.Equal(t, alignment.StateTracking, applied.State)
	assert.Equal(t, []string{"lobby", "atrium"}, applied.Config.ParentIDs)
	require.NotNil(t, applied.Pose)
	assert.Equal(t, 1.0, applied.Pose.Position.X)
	assert.Equal(t, alignment.AccuracyExcellent, applied.Quality)

	rec = f.do(t, http.MethodGet, "/api/alignment/strategies/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got StrategyStatus
	decode(t, rec, &got)
	assert.Equal(t, alignment.StateTracking, got.State)

	rec = f.do(t, http.MethodGet, "/api/alignment/transitions?strategy_id=content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tr struct {
		Transitions []monitor.Sample `json:"transitions"`
	}
	decode(t, rec, &tr)
	require.Len(t, tr.Transitions, 1)
	assert.Equal(t, alignment.StateTracking, tr.Transitions[0].State)
}

func TestApplyConfigErrors(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown frame", `{"parent_ids":["nowhere"]}`, http.StatusNotFound},
		{"bad mode", `{"mode":"average","parent_ids":["lobby"]}`, http.StatusBadRequest},
		{"malformed", `{"parent_ids":`, http.StatusBadRequest},
		{"unknown field", `{"parents":["lobby"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/alignment/strategies/content/config", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(t, http.MethodGet, "/api/alignment/strategies/content/config", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStrategyRoutes(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/alignment/strategies/ghost", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/alignment/strategies/", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/alignment/strategies/content/nope", "").Code)

	rec := f.do(t, http.MethodPost, "/api/alignment/strategies/content/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	decode(t, rec, &resp)
	assert.Equal(t, false, resp["enabled"])

	var enabled bool
	require.NoError(t, f.driver.Do(context.Background(), func() { enabled = f.mp.Enabled() }))
	assert.False(t, enabled)

	rec = f.do(t, http.MethodPost, "/api/alignment/strategies/content/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, f.driver.Do(context.Background(), func() { enabled = f.mp.Enabled() }))
	assert.True(t, enabled)
}

func TestRecorderTransitionsWithoutStore(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/api/alignment/strategies/content/config", `{"parent_ids":["lobby"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/alignment/transitions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tr struct {
		Transitions []monitor.Sample `json:"transitions"`
	}
	decode(t, rec, &tr)
	require.Len(t, tr.Transitions, 1)
	assert.Equal(t, alignment.StateChanged, tr.Transitions[0].Kind)
}

func TestAnchorsEndpoints(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/anchors", `{"pose":{"position":[1,0,0]}}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "session not ready")

	rec = f.do(t, http.MethodPut, "/api/anchors/status",
		`{"ready_for_create_progress":1,"recommended_for_create_progress":1,"ready_for_locate_progress":1,"recommended_for_locate_progress":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/anchors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	decode(t, rec, &status)
	assert.Equal(t, true, status["ready_for_locate"])

	rec = f.do(t, http.MethodPost, "/api/anchors", `{"pose":{"position":[1,0,0]},"accuracy":[0.1,0.1,0.1]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created anchors.Anchor
	decode(t, rec, &created)
	require.NotEmpty(t, created.ID)

	for _, body := range []string{
		`{"pose":{"position":[1,0,0],"rotation":{"w":2,"x":0,"y":0,"z":0}}}`,
		`{"pose":{"position":[1,0,0]},"accuracy":null}`,
		`{"pose":{"position":[1,0,0]},"accuracy":[0.1,-0.1,0.1]}`,
	} {
		rec = f.do(t, http.MethodPost, "/api/anchors", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec = f.do(t, http.MethodPost, "/api/anchors/locate", `{"ids":["`+created.ID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var located struct {
		Anchors []anchors.Anchor `json:"anchors"`
	}
	decode(t, rec, &located)
	require.Len(t, located.Anchors, 1)
	assert.True(t, located.Anchors[0].Accuracy.Equal(alignment.UniformAccuracy(0.1)))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/anchors/locate", `{"ids":["missing"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/anchors/locate", `{"ids":[]}`).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/anchors/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/anchors/"+created.ID, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/anchors/"+created.ID, "").Code)
}

func TestAnchorsNotConfigured(t *testing.T) {
	h := NewServer(alignment.NewDriver(nil, 0), nil, Options{}).ServeMux()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anchors", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDriverNotRunning(t *testing.T) {
	driver := alignment.NewDriver(nil, 0)
	h := NewServer(driver, nil, Options{DriverTimeout: 10 * time.Millisecond}).ServeMux()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alignment/strategies", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugPages(t *testing.T) {
	f := newFixture(t, false)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/api/alignment/strategies/content/config", `{"parent_ids":["lobby","atrium"]}`).Code)

	rec := f.do(t, http.MethodGet, "/debug/alignment/timeline?strategy_id=content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Alignment timeline: content")

	rec = f.do(t, http.MethodGet, "/debug/alignment/layout?strategy_id=content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/debug/alignment/layout", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/debug/alignment/layout?strategy_id=ghost", "").Code)
}

func TestVersion(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Contains(t, resp, "version")
}

func TestParseIDPath(t *testing.T) {
	tests := []struct {
		path, id, action string
	}{
		{"/api/x/", "", ""},
		{"/api/x/abc", "abc", ""},
		{"/api/x/abc/", "abc", ""},
		{"/api/x/abc/config", "abc", "config"},
	}
	for _, tt := range tests {
		id, action := parseIDPath(tt.path, "/api/x/")
		assert.Equal(t, tt.id, id, tt.path)
		assert.Equal(t, tt.action, action, tt.path)
	}
}
