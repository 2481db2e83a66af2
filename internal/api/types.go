package api

import (
	"encoding/json"

	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/history"
)

// ProcessTextRequest is the JSON body for POST /api/process-text.
type ProcessTextRequest struct {
	Text    string         `json:"text"`
	Options bridge.Options `json:"options"`
}

// ProcessURLsRequest is the JSON body for POST /api/process-urls.
type ProcessURLsRequest struct {
	URLs    []string       `json:"urls"`
	Options bridge.Options `json:"options"`
}

// InvokeRequest is the JSON body for POST /api/invoke. Input is either a
// string of calendar text or an array of calendar URLs.
type InvokeRequest struct {
	Input   json.RawMessage `json:"input"`
	Options bridge.Options  `json:"options"`
}

// InvokeResponse is returned by every successful invocation endpoint.
type InvokeResponse struct {
	Data    []json.RawMessage `json:"data"`
	Logs    string            `json:"logs"`
	Verbose bool              `json:"verbose"`
}

// InvocationListResponse is returned by GET /api/invocations.
type InvocationListResponse struct {
	Invocations []history.Entry `json:"invocations"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	WorkerPath       string `json:"worker_path"`
	WorkerFound      bool   `json:"worker_found"`
	InFlight         int64  `json:"in_flight"`
	MaxConcurrent    int    `json:"max_concurrent"`
	EventSubscribers int    `json:"event_subscribers"`
	HistoryEnabled   bool   `json:"history_enabled"`
	EventsDropped    int64  `json:"events_dropped"`
	// Config file the server loaded and its blake3 digest at startup.
	ConfigPath        string `json:"config_path,omitempty"`
	ConfigFingerprint string `json:"config_fingerprint,omitempty"`
}
