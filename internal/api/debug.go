package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/httputil"
	"github.com/banshee-data/spatial-alignment/internal/monitor"
)

// handleTimeline renders the recorded accuracy and state history with
// go-echarts. Query params:
//   - strategy_id (optional; all strategies when empty)
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("strategy_id")
	title := "Alignment timeline"
	if id != "" {
		title = fmt.Sprintf("Alignment timeline: %s", id)
	}

	var buf bytes.Buffer
	if err := monitor.RenderTimeline(&buf, title, s.recorder.Samples(id)); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

// handleLayout renders a PNG of a multi-parent strategy's candidates.
// Query params:
//   - strategy_id (required)
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("strategy_id")
	if id == "" {
		httputil.BadRequest(w, "strategy_id is required")
		return
	}
	st, ok := s.driver.Strategy(id)
	if !ok {
		httputil.NotFound(w, "strategy not found")
		return
	}
	mp, ok := st.(*alignment.MultiParent)
	if !ok {
		httputil.BadRequest(w, "strategy has no candidate layout")
		return
	}

	var layout monitor.Layout
	if err := s.onDriver(r, func() { layout = monitor.LayoutFromStrategy(mp, s.opts.Viewpoint) }); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "alignment driver not responding")
		return
	}

	var buf bytes.Buffer
	if err := monitor.WriteLayout(&buf, layout); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
