// Package api exposes the diagnostic engine over HTTP: execution control,
// breakpoints, the network request log, the console, introspection, and
// safe-mode management. It is the engine's only presentation surface.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/GoCodeAlone/diag"
)

// Handler provides the HTTP API for the diagnostic engine.
type Handler struct {
	engine *diag.Engine
	logger *slog.Logger
}

// NewHandler creates a Handler for the given engine.
func NewHandler(engine *diag.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes registers the API routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/debug/state", h.handleGetState)
	mux.HandleFunc("POST /api/debug/pause", h.handlePause)
	mux.HandleFunc("POST /api/debug/resume", h.handleResume)
	mux.HandleFunc("POST /api/debug/step", h.handleStep)

	mux.HandleFunc("GET /api/debug/breakpoints", h.handleListBreakpoints)
	mux.HandleFunc("POST /api/debug/breakpoints", h.handleSetBreakpoint)
	mux.HandleFunc("DELETE /api/debug/breakpoints", h.handleRemoveBreakpoint)

	mux.HandleFunc("GET /api/debug/network", h.handleListRequests)
	mux.HandleFunc("POST /api/debug/network/enable", h.handleNetworkEnable)
	mux.HandleFunc("POST /api/debug/network/disable", h.handleNetworkDisable)
	mux.HandleFunc("DELETE /api/debug/network", h.handleClearRequests)

	mux.HandleFunc("POST /api/debug/console", h.handleConsole)
	mux.HandleFunc("GET /api/debug/console/history", h.handleHistory)

	mux.HandleFunc("GET /api/debug/types", h.handleListTypes)
	mux.HandleFunc("GET /api/debug/types/{name}", h.handleDescribeType)

	mux.HandleFunc("GET /api/debug/exceptions", h.handleListExceptions)

	mux.HandleFunc("GET /api/debug/safemode", h.handleSafeMode)
	mux.HandleFunc("POST /api/debug/safemode/exit", h.handleExitSafeMode)

	mux.HandleFunc("GET /api/debug/events", h.handleEventStream)
}

func (h *Handler) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.engine.Controller.State())})
}

func (h *Handler) handlePause(w http.ResponseWriter, _ *http.Request) {
	h.engine.Controller.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *Handler) handleResume(w http.ResponseWriter, _ *http.Request) {
	h.engine.Controller.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (h *Handler) handleStep(w http.ResponseWriter, _ *http.Request) {
	h.engine.Controller.Step()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stepped"})
}

func (h *Handler) handleListBreakpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Controller.Breakpoints().List())
}

type breakpointRequest struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
}

func (h *Handler) handleSetBreakpoint(w http.ResponseWriter, r *http.Request) {
	var req breakpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.File == "" || req.Line <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file and line are required"})
		return
	}
	bp, err := h.engine.Controller.Breakpoints().Set(req.File, req.Line, req.Condition)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, bp)
}

func (h *Handler) handleRemoveBreakpoint(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	line, _ := strconv.Atoi(r.URL.Query().Get("line"))
	if file == "" || line <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file and line query parameters are required"})
		return
	}
	if !h.engine.Controller.Breakpoints().Remove(file, line) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "breakpoint not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) handleListRequests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Network.Requests())
}

func (h *Handler) handleNetworkEnable(w http.ResponseWriter, _ *http.Request) {
	h.engine.Network.Enable()
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (h *Handler) handleNetworkDisable(w http.ResponseWriter, _ *http.Request) {
	h.engine.Network.Disable()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (h *Handler) handleClearRequests(w http.ResponseWriter, _ *http.Request) {
	h.engine.Network.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type consoleRequest struct {
	Command string `json:"command"`
}

type consoleResponse struct {
	Output string `json:"output"`
}

func (h *Handler) handleConsole(w http.ResponseWriter, r *http.Request) {
	var req consoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	writeJSON(w, http.StatusOK, consoleResponse{Output: h.engine.Console.Execute(req.Command)})
}

func (h *Handler) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Console.History().Entries())
}

func (h *Handler) handleListTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Types.ListTypes())
}

func (h *Handler) handleDescribeType(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	d := h.engine.Types.Describe(name)
	if d == nil {
		// Lenient policy: unknown types read as empty, not as errors.
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "methods": []string{}, "properties": []string{}, "fields": []string{}, "interfaces": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleListExceptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Exceptions.Captured())
}

func (h *Handler) handleSafeMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"inSafeMode": h.engine.Crash.InSafeMode(ctx),
		"attempts":   h.engine.Crash.Attempts(ctx),
		"flags":      h.engine.Flags.All(),
	})
}

func (h *Handler) handleExitSafeMode(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Crash.DisableSafeMode(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// Feature flags are read once at startup; the exit only takes effect on
	// the next process launch.
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "note": "restart required"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
