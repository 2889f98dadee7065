// Package server exposes a manager over HTTP so short-lived CLI invocations
// can delegate to a long-lived serve daemon instead of acting on the local
// state directory.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkrell/warden/internal/config"
	"github.com/mkrell/warden/internal/logtail"
	"github.com/mkrell/warden/internal/manager"
	"github.com/mkrell/warden/internal/state"
)

// DefaultBasePath prefixes the API routes unless the caller overrides it.
const DefaultBasePath = "/api"

// Router provides embeddable HTTP handlers over a manager.
// Endpoints (under basePath):
//
//	POST /services/start    body: config.Service JSON -> {pid}
//	POST /services/stop     query: name=...&timeout=10s -> {stopped}
//	POST /services/restart  query: name=...&timeout=10s -> {pid}
//	GET  /services          query: name=... (one record) or none (all)
//	GET  /services/info     query: name=... -> record plus process stats
//	GET  /services/logs     query: name=...&lines=50 -> captured tails
//	POST /services/health   query: name=... -> {healthy}
//	POST /cleanup           -> {corrected}
//
// Errors use {"error": "..."} bodies: 404 unknown service, 409 already
// running (with the live pid), 400 validation, 500 otherwise.
type Router struct {
	mgr      *manager.Manager
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath "/api" results in /api/services, /api/cleanup, ...
func NewRouter(mgr *manager.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/services/start", r.handleStart)
	group.POST("/services/stop", r.handleStop)
	group.POST("/services/restart", r.handleRestart)
	group.GET("/services", r.handleServices)
	group.GET("/services/info", r.handleInfo)
	group.GET("/services/logs", r.handleLogs)
	group.POST("/services/health", r.handleHealth)
	group.POST("/cleanup", r.handleCleanup)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router and
// returns it for shutdown. The listen loop runs in the background.
func NewServer(addr, basePath string, mgr *manager.Manager) (*http.Server, error) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	// PID carries the live PID on an already-running conflict so the caller
	// does not need a second status round trip.
	PID int `json:"pid,omitempty"`
}

type pidResp struct {
	PID int `json:"pid"`
}

type stopResp struct {
	Stopped bool `json:"stopped"`
}

type healthResp struct {
	// Healthy is null for services without a configured health check.
	Healthy *bool `json:"healthy"`
}

type cleanupResp struct {
	Corrected int `json:"corrected"`
}

func (r *Router) handleStart(c *gin.Context) {
	var svc config.Service
	if err := c.ShouldBindJSON(&svc); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := svc.Validate(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	pid, err := r.mgr.Start(svc)
	if err != nil {
		if errors.Is(err, manager.ErrAlreadyRunning) {
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error(), PID: pid})
			return
		}
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, pidResp{PID: pid})
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := serviceName(c)
	if !ok {
		return
	}
	timeout, ok := parseTimeout(c)
	if !ok {
		return
	}
	if err := r.mgr.Stop(name, timeout); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, stopResp{Stopped: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name, ok := serviceName(c)
	if !ok {
		return
	}
	timeout, ok := parseTimeout(c)
	if !ok {
		return
	}
	pid, err := r.mgr.Restart(name, timeout)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, pidResp{PID: pid})
}

// handleServices returns one reconciled record when name is given, or every
// known record otherwise.
func (r *Router) handleServices(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		recs, err := r.mgr.List()
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, recs)
		return
	}
	if !config.IsSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: invalidNameMsg})
		return
	}
	rec := r.mgr.Status(name)
	if rec.Status == state.StatusUnknown {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "service " + name + ": " + state.ErrNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleInfo(c *gin.Context) {
	name, ok := serviceName(c)
	if !ok {
		return
	}
	info, err := r.mgr.Info(name)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleLogs(c *gin.Context) {
	name, ok := serviceName(c)
	if !ok {
		return
	}
	lines := logtail.DefaultLines
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid lines: " + raw})
			return
		}
		lines = n
	}
	bundle, err := r.mgr.Logs(name, lines)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, bundle)
}

func (r *Router) handleHealth(c *gin.Context) {
	name, ok := serviceName(c)
	if !ok {
		return
	}
	healthy, err := r.mgr.CheckHealth(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, manager.ErrNoHealthCheck) {
			// Existing service, nothing to probe: health is undefined,
			// not an error.
			writeJSON(c, http.StatusOK, healthResp{Healthy: nil})
			return
		}
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{Healthy: &healthy})
}

func (r *Router) handleCleanup(c *gin.Context) {
	fixed, err := r.mgr.CleanupStale()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, cleanupResp{Corrected: fixed})
}

// statusFor maps manager errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, manager.ErrNoCommand), errors.Is(err, manager.ErrNoConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
