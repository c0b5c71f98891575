package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/frames"
	"github.com/banshee-data/spatial-alignment/internal/httputil"
	"github.com/banshee-data/spatial-alignment/internal/monitor"
)

// StrategyStatus is the JSON view of one registered strategy.
type StrategyStatus struct {
	alignment.Snapshot
	Quality alignment.AccuracyQuality `json:"quality"`
	Config  alignment.StrategyConfig  `json:"config"`
}

func statusOf(st alignment.Strategy) StrategyStatus {
	return StrategyStatus{
		Snapshot: st.Snapshot(),
		Quality:  st.Accuracy().Quality(),
		Config:   st.Config(),
	}
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var out []StrategyStatus
	err := s.onDriver(r, func() {
		for _, st := range s.driver.Strategies() {
			out = append(out, statusOf(st))
		}
	})
	if err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "alignment driver not responding")
		return
	}
	if out == nil {
		out = []StrategyStatus{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"strategies": out})
}

// handleStrategyByID handles /api/alignment/strategies/{id}/* routes.
func (s *Server) handleStrategyByID(w http.ResponseWriter, r *http.Request) {
	id, action := parseIDPath(r.URL.Path, "/api/alignment/strategies/")
	if id == "" {
		httputil.BadRequest(w, "missing strategy id in path")
		return
	}
	st, ok := s.driver.Strategy(id)
	if !ok {
		httputil.NotFound(w, "strategy not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		s.handleGetStrategy(w, r, st)
	case "config":
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		s.handleApplyConfig(w, r, st)
	case "enable", "disable":
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		s.handleSetEnabled(w, r, st, action == "enable")
	default:
		httputil.NotFound(w, "endpoint not found")
	}
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request, st alignment.Strategy) {
	var out StrategyStatus
	if err := s.onDriver(r, func() { out = statusOf(st) }); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "alignment driver not responding")
		return
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request, st alignment.Strategy) {
	if s.opts.Registry == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "frame registry not configured")
		return
	}
	mp, ok := st.(*alignment.MultiParent)
	if !ok {
		httputil.BadRequest(w, "strategy does not accept multi-parent configuration")
		return
	}
	var cfg alignment.StrategyConfig
	if err := httputil.DecodeJSON(r, &cfg); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var applyErr error
	var out StrategyStatus
	err := s.onDriver(r, func() {
		if applyErr = s.opts.Registry.Apply(mp, cfg); applyErr == nil {
			out = statusOf(mp)
		}
	})
	switch {
	case err != nil:
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "alignment driver not responding")
	case errors.Is(applyErr, frames.ErrFrameNotFound):
		httputil.NotFound(w, applyErr.Error())
	case errors.Is(applyErr, alignment.ErrInvalidArgument):
		httputil.BadRequest(w, applyErr.Error())
	case applyErr != nil:
		httputil.InternalServerError(w, applyErr.Error())
	default:
		httputil.WriteJSONOK(w, out)
	}
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request, st alignment.Strategy, on bool) {
	var setErr error
	err := s.onDriver(r, func() {
		if on {
			setErr = s.driver.Enable(st.ID())
		} else {
			setErr = s.driver.Disable(st.ID())
		}
	})
	switch {
	case err != nil:
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "alignment driver not responding")
	case setErr != nil:
		httputil.NotFound(w, setErr.Error())
	default:
		httputil.WriteJSONOK(w, map[string]interface{}{"strategy_id": st.ID(), "enabled": on})
	}
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("strategy_id")
	limit := queryLimit(r, 100, 1000)

	if s.opts.Transitions != nil && id != "" {
		samples, err := s.opts.Transitions.Recent(id, limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if samples == nil {
			samples = []monitor.Sample{}
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"transitions": samples})
		return
	}

	var out []monitor.Sample
	for _, sample := range s.recorder.Samples(id) {
		if sample.Kind == alignment.StateChanged {
			out = append(out, sample)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []monitor.Sample{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"transitions": out})
}
