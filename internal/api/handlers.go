package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/history"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	workerErr := s.bridge.Check()

	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		WorkerPath:       s.bridge.WorkerPath(),
		WorkerFound:      workerErr == nil,
		InFlight:         s.inFlight.Load(),
		MaxConcurrent:    cap(s.semaphore),
		EventSubscribers: s.events.Subscribers(),
		HistoryEnabled:   s.history != nil,
		EventsDropped:    s.events.Dropped(),

		ConfigPath:        s.config.ConfigPath,
		ConfigFingerprint: s.config.ConfigFingerprint,
	}
	if workerErr != nil {
		resp.Status = "degraded"
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleProcessText handles POST /api/process-text.
func (s *Server) handleProcessText(w http.ResponseWriter, r *http.Request) {
	var req ProcessTextRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	in, err := bridge.TextInput(req.Text)
	if err != nil {
		s.writeInvokeError(w, r, err)
		return
	}
	s.invoke(w, r, in, req.Options)
}

// handleProcessURLs handles POST /api/process-urls.
func (s *Server) handleProcessURLs(w http.ResponseWriter, r *http.Request) {
	var req ProcessURLsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	in, err := bridge.URLListInput(req.URLs)
	if err != nil {
		s.writeInvokeError(w, r, err)
		return
	}
	s.invoke(w, r, in, req.Options)
}

// handleInvoke handles POST /api/invoke, which accepts either input shape.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	in, err := parseInvokeInput(req.Input)
	if err != nil {
		s.writeInvokeError(w, r, err)
		return
	}
	s.invoke(w, r, in, req.Options)
}

// handleListInvocations handles GET /api/invocations?limit=N.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "invocation history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}
	respondJSON(w, http.StatusOK, InvocationListResponse{Invocations: entries})
}

// handleGetInvocation handles GET /api/invocations/{id}.
func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "invocation history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := s.history.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load invocation", "invocation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load invocation")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request, in bridge.Input, opts bridge.Options) {
	release, ok := s.tryAcquire()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent invocations")
		return
	}
	defer release()

	res, err := s.bridge.Invoke(r.Context(), in, opts)
	if err != nil {
		s.writeInvokeError(w, r, err)
		return
	}

	data := res.Data
	if data == nil {
		data = []json.RawMessage{}
	}
	if res.ID != "" {
		w.Header().Set("X-Invocation-ID", res.ID)
	}
	respondJSON(w, http.StatusOK, InvokeResponse{
		Data:    data,
		Logs:    res.Logs,
		Verbose: s.config.Verbose,
	})
}

// decodeJSON reads the request body into dst, writing 400/413 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// parseInvokeInput accepts a JSON string (calendar text) or a JSON array of
// strings (calendar URLs).
func parseInvokeInput(raw json.RawMessage) (bridge.Input, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return bridge.Input{}, invalidInput("input is required")
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return bridge.Input{}, invalidInput("input is not a valid JSON string")
		}
		return bridge.TextInput(text)
	case '[':
		var urls []string
		if err := json.Unmarshal(trimmed, &urls); err != nil {
			return bridge.Input{}, invalidInput("input array must contain only URL strings")
		}
		return bridge.URLListInput(urls)
	default:
		return bridge.Input{}, invalidInput("input must be calendar text or an array of calendar URLs")
	}
}

func invalidInput(msg string) error {
	return &bridge.Error{Kind: bridge.KindInvalidInput, Message: msg}
}

// statusForKind maps the bridge failure taxonomy onto HTTP status codes.
func statusForKind(kind bridge.Kind) int {
	switch kind {
	case bridge.KindInvalidInput:
		return http.StatusBadRequest
	case bridge.KindWorkerNotFound, bridge.KindCanceled:
		return http.StatusServiceUnavailable
	case bridge.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeInvokeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := bridge.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("invocation failed",
			"kind", kind,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
