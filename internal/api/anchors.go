package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/anchors"
	"github.com/banshee-data/spatial-alignment/internal/httputil"
)

type createAnchorRequest struct {
	Pose     alignment.Pose      `json:"pose"`
	Accuracy *alignment.Accuracy `json:"accuracy,omitempty"`
}

type locateRequest struct {
	IDs []string `json:"ids"`
}

// handleAnchors handles /api/anchors: GET returns the session status and
// POST creates an anchor.
func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	if s.opts.Anchors == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "anchor service not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		st := s.opts.Anchors.Status()
		httputil.WriteJSONOK(w, map[string]interface{}{
			"status":                 st,
			"ready_for_create":       st.IsReadyForCreate(),
			"recommended_for_create": st.IsRecommendedForCreate(),
			"ready_for_locate":       st.IsReadyForLocate(),
			"recommended_for_locate": st.IsRecommendedForLocate(),
		})
	case http.MethodPost:
		s.handleCreateAnchor(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleCreateAnchor(w http.ResponseWriter, r *http.Request) {
	var req createAnchorRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	acc := alignment.ExactAccuracy()
	if req.Accuracy != nil {
		acc = *req.Accuracy
	}
	a, err := s.opts.Anchors.Create(r.Context(), req.Pose, acc)
	if errors.Is(err, anchors.ErrNotReady) {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, alignment.ErrInvalidArgument) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

// handleAnchorByID handles /api/anchors/{id}, /api/anchors/status and
// /api/anchors/locate.
func (s *Server) handleAnchorByID(w http.ResponseWriter, r *http.Request) {
	if s.opts.Anchors == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "anchor service not configured")
		return
	}
	id, _ := parseIDPath(r.URL.Path, "/api/anchors/")
	switch id {
	case "":
		httputil.BadRequest(w, "missing anchor id in path")
	case "status":
		if r.Method != http.MethodPut {
			httputil.MethodNotAllowed(w)
			return
		}
		var st anchors.SessionStatus
		if err := httputil.DecodeJSON(r, &st); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		s.opts.Anchors.UpdateStatus(st)
		httputil.WriteJSONOK(w, st)
	case "locate":
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		s.handleLocate(w, r)
	default:
		if r.Method != http.MethodDelete {
			httputil.MethodNotAllowed(w)
			return
		}
		err := s.opts.Anchors.Delete(r.Context(), id)
		if errors.Is(err, anchors.ErrAnchorNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleLocate resolves anchors synchronously. Located anchors also reach any
// Watcher subscribed to the service.
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		httputil.BadRequest(w, "ids must not be empty")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.DriverTimeout)
	defer cancel()

	found, err := s.opts.Anchors.Locate(ctx, req.IDs)
	switch {
	case errors.Is(err, anchors.ErrNotReady):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, anchors.ErrAnchorNotFound):
		httputil.NotFound(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, map[string]interface{}{"anchors": found})
	}
}
