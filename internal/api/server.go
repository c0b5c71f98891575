// Package api serves the alignment status API and debug pages over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
	"github.com/banshee-data/spatial-alignment/internal/anchors"
	"github.com/banshee-data/spatial-alignment/internal/frames"
	"github.com/banshee-data/spatial-alignment/internal/httputil"
	"github.com/banshee-data/spatial-alignment/internal/monitor"
	"github.com/banshee-data/spatial-alignment/internal/monitoring"
	"github.com/banshee-data/spatial-alignment/internal/version"
)

// DefaultDriverTimeout bounds how long a request waits for the driver
// goroutine to run its read or update.
const DefaultDriverTimeout = 2 * time.Second

// Options holds the optional collaborators. Endpoints whose collaborator is
// nil answer 503.
type Options struct {
	Registry      *frames.Registry
	Transitions   *monitor.TransitionStore
	Anchors       *anchors.MemoryService
	Viewpoint     alignment.ViewpointProvider
	DriverTimeout time.Duration
}

// Server exposes the strategies registered on a driver.
type Server struct {
	driver   *alignment.Driver
	recorder *monitor.Recorder
	opts     Options
}

// NewServer creates a server over driver. recorder may be nil, in which case
// the timeline is empty.
func NewServer(driver *alignment.Driver, recorder *monitor.Recorder, opts Options) *Server {
	if opts.DriverTimeout <= 0 {
		opts.DriverTimeout = DefaultDriverTimeout
	}
	if recorder == nil {
		recorder = monitor.NewRecorder(nil, 0)
	}
	return &Server{driver: driver, recorder: recorder, opts: opts}
}

// ServeMux returns the routes served by s.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/alignment/strategies", s.handleStrategies)
	mux.HandleFunc("/api/alignment/strategies/", s.handleStrategyByID)
	mux.HandleFunc("/api/alignment/transitions", s.handleTransitions)
	mux.HandleFunc("/api/anchors", s.handleAnchors)
	mux.HandleFunc("/api/anchors/", s.handleAnchorByID)
	mux.HandleFunc("/debug/alignment/timeline", s.handleTimeline)
	mux.HandleFunc("/debug/alignment/layout", s.handleLayout)
	return mux
}

// onDriver runs fn on the driver goroutine within the request's deadline.
func (s *Server) onDriver(r *http.Request, fn func()) error {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.DriverTimeout)
	defer cancel()
	return s.driver.Do(ctx, fn)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// parseIDPath splits "/prefix/{id}/{action}" into id and action.
func parseIDPath(path, prefix string) (id, action string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func queryLimit(r *http.Request, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("[%d] %s %s %.2fms", lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}
