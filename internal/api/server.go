// Package api serves the current speed estimate over HTTP for display clients.
package api

import (
	_ "embed"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/speedometer/internal/httputil"
	"github.com/banshee-data/speedometer/internal/velocity"
	"github.com/banshee-data/speedometer/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

//go:embed static/index.html
var indexHTML []byte

// Speedometer is the read side of the estimator.
type Speedometer interface {
	CurrentSpeed() float64
	Status() velocity.Status
}

// SpeedResponse is the body of GET /speed.
type SpeedResponse struct {
	Speed float64 `json:"speed"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	velocity.Status
	Speed   float64 `json:"speed"`
	Version string  `json:"version"`
}

type Server struct {
	s Speedometer
}

func NewServer(s Speedometer) *Server {
	return &Server{s: s}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration. Successful polls
// of /speed and /healthz are not logged.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		if (r.URL.Path == "/speed" || r.URL.Path == "/healthz") && lrw.statusCode == http.StatusOK {
			return
		}
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.showIndex)
	mux.HandleFunc("/speed", s.showSpeed)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

func (s *Server) showIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.WriteJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) showSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, SpeedResponse{Speed: s.s.CurrentSpeed()})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, StatusResponse{
		Status:  s.s.Status(),
		Speed:   s.s.CurrentSpeed(),
		Version: version.Version,
	})
}

// healthz fails while the published estimate is not being refreshed.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	st := s.s.Status()
	switch {
	case !st.Running:
		httputil.ServiceUnavailable(w, "sampling loop stopped")
	case st.Stale:
		httputil.ServiceUnavailable(w, "speed estimate is stale")
	default:
		httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
	}
}

// AttachAdminRoutes publishes the live estimate and loop health on the tsweb
// debug index page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("Speed (km/h)", func() any { return s.s.CurrentSpeed() })
	debug.KVFunc("Sampling loop", func() any {
		st := s.s.Status()
		switch {
		case !st.Running:
			return "stopped"
		case st.Stale:
			return "stale"
		default:
			return "running"
		}
	})
	debug.KVFunc("Iterations", func() any { return s.s.Status().Iterations })
	debug.KVFunc("Last error", func() any { return s.s.Status().LastError })
}
