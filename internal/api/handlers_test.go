package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/events"
	"github.com/tom-gora/jsoon-bridge/internal/history"
)

// mockBridge implements Invoker for testing
type mockBridge struct {
	invokeFunc func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error)
	checkErr   error
}

func (m *mockBridge) Invoke(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
	return m.invokeFunc(ctx, in, opts)
}

func (m *mockBridge) Check() error {
	return m.checkErr
}

func (m *mockBridge) WorkerPath() string {
	return "/opt/jsoon/bin/jsoon"
}

// mockHistory implements HistoryReader for testing
type mockHistory struct {
	recentFunc func(ctx context.Context, limit int) ([]history.Entry, error)
	getFunc    func(ctx context.Context, id string) (*history.Entry, error)
}

func (m *mockHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	return m.recentFunc(ctx, limit)
}

func (m *mockHistory) Get(ctx context.Context, id string) (*history.Entry, error) {
	return m.getFunc(ctx, id)
}

func newTestServer(b Invoker, hist HistoryReader) *Server {
	config := Config{
		Listen:        "localhost:8080",
		APIKey:        "test-key-123",
		MaxConcurrent: 2,
		MaxBodyBytes:  1024,
	}
	return New(config, b, hist, events.NewHub(10), slog.Default())
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-key-123")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	server := newTestServer(&mockBridge{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.WorkerFound)
	assert.Equal(t, "/opt/jsoon/bin/jsoon", resp.WorkerPath)
	assert.Equal(t, 2, resp.MaxConcurrent)
	assert.False(t, resp.HistoryEnabled)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
	assert.Zero(t, resp.EventsDropped)
	assert.Empty(t, resp.ConfigFingerprint)
}

func TestHandleHealthz_ConfigFingerprint(t *testing.T) {
	server := New(Config{
		Listen:            "localhost:8080",
		ConfigPath:        "/etc/jsoon-bridge/config.yaml",
		ConfigFingerprint: "abc123",
	}, &mockBridge{}, nil, nil, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "/etc/jsoon-bridge/config.yaml", resp.ConfigPath)
	assert.Equal(t, "abc123", resp.ConfigFingerprint)
}

func TestHandleHealthz_WorkerMissing(t *testing.T) {
	server := newTestServer(&mockBridge{checkErr: bridge.ErrWorkerNotFound}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.WorkerFound)
}

func TestAuthRequired(t *testing.T) {
	server := newTestServer(&mockBridge{}, nil)

	for _, path := range []string{"/api/invocations", "/events"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		server.setupRoutes().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/process-text", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("Authorization", "Bearer wrong-key-123")
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid API key", decodeError(t, rr).Error)
}

func TestNoAPIKeyMeansOpenAPI(t *testing.T) {
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		return &bridge.Result{Data: []json.RawMessage{}}, nil
	}}
	server := New(Config{Listen: "localhost:0"}, b, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/process-text", strings.NewReader(`{"text":"BEGIN:VCALENDAR"}`))
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleProcessText(t *testing.T) {
	var gotIn bridge.Input
	var gotOpts bridge.Options
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		gotIn, gotOpts = in, opts
		return &bridge.Result{
			ID:   "inv-1",
			Data: []json.RawMessage{json.RawMessage(`{"UID":"a"}`)},
			Logs: "parsed 1 event",
		}, nil
	}}
	server := newTestServer(b, nil)
	server.config.Verbose = true

	rr := doRequest(t, server, http.MethodPost, "/api/process-text",
		`{"text":"BEGIN:VCALENDAR\nEND:VCALENDAR","options":{"upcomingDays":3,"limit":2,"template":"DD","offsetMarkers":{"@x":"+1h"}}}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "inv-1", rr.Header().Get("X-Invocation-ID"))
	assert.JSONEq(t, `{"data":[{"UID":"a"}],"logs":"parsed 1 event","verbose":true}`, rr.Body.String())

	assert.Equal(t, bridge.ModeText, gotIn.Mode())
	assert.Equal(t, "BEGIN:VCALENDAR\nEND:VCALENDAR", gotIn.Text())
	require.NotNil(t, gotOpts.UpcomingDays)
	assert.Equal(t, 3, *gotOpts.UpcomingDays)
	assert.Equal(t, 2, *gotOpts.Limit)
	assert.Equal(t, "DD", gotOpts.Template)
	assert.Equal(t, map[string]string{"@x": "+1h"}, gotOpts.OffsetMarkers)
}

func TestHandleProcessText_EmptyTextIsBadRequest(t *testing.T) {
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		t.Fatal("bridge should not be invoked")
		return nil, nil
	}}
	server := newTestServer(b, nil)

	rr := doRequest(t, server, http.MethodPost, "/api/process-text", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rr).Kind)
}

func TestHandleProcessURLs(t *testing.T) {
	var gotURLs []string
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		gotURLs = in.URLs()
		return &bridge.Result{}, nil
	}}
	server := newTestServer(b, nil)

	rr := doRequest(t, server, http.MethodPost, "/api/process-urls",
		`{"urls":["https://a.example/cal.ics"," ","https://b.example/cal.ics"]}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"https://a.example/cal.ics", "https://b.example/cal.ics"}, gotURLs)
	assert.JSONEq(t, `{"data":[],"logs":"","verbose":false}`, rr.Body.String())
}

func TestHandleProcessURLs_TooMany(t *testing.T) {
	server := newTestServer(&mockBridge{}, nil)

	rr := doRequest(t, server, http.MethodPost, "/api/process-urls",
		`{"urls":["https://a/1","https://a/2","https://a/3","https://a/4","https://a/5","https://a/6"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleInvoke_InputShapes(t *testing.T) {
	var gotMode bridge.Mode
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		gotMode = in.Mode()
		return &bridge.Result{}, nil
	}}
	server := newTestServer(b, nil)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMode bridge.Mode
	}{
		{name: "text", body: `{"input":"BEGIN:VCALENDAR"}`, wantCode: http.StatusOK, wantMode: bridge.ModeText},
		{name: "urls", body: `{"input":["https://example.com/a.ics"]}`, wantCode: http.StatusOK, wantMode: bridge.ModeURLs},
		{name: "missing", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "null", body: `{"input":null}`, wantCode: http.StatusBadRequest},
		{name: "number", body: `{"input":42}`, wantCode: http.StatusBadRequest},
		{name: "mixed array", body: `{"input":["https://example.com/a.ics",1]}`, wantCode: http.StatusBadRequest},
		{name: "bad url", body: `{"input":["ftp://example.com/a.ics"]}`, wantCode: http.StatusBadRequest},
		{name: "invalid json", body: `{"input":`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMode = ""
			rr := doRequest(t, server, http.MethodPost, "/api/invoke", tt.body)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantMode, gotMode)
		})
	}
}

func TestInvokeErrorStatusMapping(t *testing.T) {
	tests := []struct {
		kind bridge.Kind
		want int
	}{
		{bridge.KindInvalidInput, http.StatusBadRequest},
		{bridge.KindWorkerNotFound, http.StatusServiceUnavailable},
		{bridge.KindCanceled, http.StatusServiceUnavailable},
		{bridge.KindTimeout, http.StatusGatewayTimeout},
		{bridge.KindExitNonZero, http.StatusInternalServerError},
		{bridge.KindMalformedOutput, http.StatusInternalServerError},
		{bridge.KindArtifactWrite, http.StatusInternalServerError},
		{bridge.KindSpawn, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
				return nil, &bridge.Error{Kind: tt.kind, Message: "boom: " + string(tt.kind)}
			}}
			server := newTestServer(b, nil)

			rr := doRequest(t, server, http.MethodPost, "/api/process-text", `{"text":"BEGIN:VCALENDAR"}`)
			assert.Equal(t, tt.want, rr.Code)
			resp := decodeError(t, rr)
			assert.Equal(t, "boom: "+string(tt.kind), resp.Error)
			assert.Equal(t, string(tt.kind), resp.Kind)
		})
	}
}

func TestUntypedErrorIsInternal(t *testing.T) {
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		return nil, errors.New("surprise")
	}}
	server := newTestServer(b, nil)

	rr := doRequest(t, server, http.MethodPost, "/api/process-text", `{"text":"BEGIN:VCALENDAR"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "surprise", decodeError(t, rr).Error)
}

func TestBodyTooLarge(t *testing.T) {
	server := newTestServer(&mockBridge{}, nil)

	body := `{"text":"` + strings.Repeat("x", 2048) + `"}`
	rr := doRequest(t, server, http.MethodPost, "/api/process-text", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		started <- struct{}{}
		<-release
		return &bridge.Result{}, nil
	}}
	server := newTestServer(b, nil)
	handler := server.setupRoutes()

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/process-text", bytes.NewBufferString(`{"text":"x"}`))
			req.Header.Set("Authorization", "Bearer test-key-123")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			codes[i] = rr.Code
		}(i)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("invocations did not start")
		}
	}
	assert.Equal(t, int64(2), server.inFlight.Load())

	rr := doRequest(t, server, http.MethodPost, "/api/process-text", `{"text":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	close(release)
	wg.Wait()
	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
	assert.Equal(t, int64(0), server.inFlight.Load())
}

func TestRateLimit(t *testing.T) {
	calls := 0
	b := &mockBridge{invokeFunc: func(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error) {
		calls++
		return &bridge.Result{}, nil
	}}
	server := New(Config{
		Listen:    "localhost:8080",
		APIKey:    "test-key-123",
		RateLimit: 0.001,
		RateBurst: 1,
	}, b, nil, events.NewHub(10), slog.Default())

	rr := doRequest(t, server, http.MethodPost, "/api/process-text", `{"text":"x"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, server, http.MethodPost, "/api/process-text", `{"text":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, 1, calls)

	// Reads are not rate limited.
	rr = doRequest(t, server, http.MethodGet, "/api/invocations", "")
	assert.NotEqual(t, http.StatusTooManyRequests, rr.Code)
}

func TestHandleListInvocations(t *testing.T) {
	var gotLimit int
	hist := &mockHistory{recentFunc: func(ctx context.Context, limit int) ([]history.Entry, error) {
		gotLimit = limit
		return []history.Entry{{ID: "b", Status: "failed"}, {ID: "a", Status: "succeeded"}}, nil
	}}
	server := newTestServer(&mockBridge{}, hist)

	rr := doRequest(t, server, http.MethodGet, "/api/invocations?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, gotLimit)

	var resp InvocationListResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Invocations, 2)
	assert.Equal(t, "b", resp.Invocations[0].ID)

	rr = doRequest(t, server, http.MethodGet, "/api/invocations?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGetInvocation(t *testing.T) {
	hist := &mockHistory{getFunc: func(ctx context.Context, id string) (*history.Entry, error) {
		if id == "known" {
			return &history.Entry{ID: "known", Mode: "text"}, nil
		}
		return nil, history.ErrNotFound
	}}
	server := newTestServer(&mockBridge{}, hist)

	rr := doRequest(t, server, http.MethodGet, "/api/invocations/known", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var entry history.Entry
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&entry))
	assert.Equal(t, "text", entry.Mode)

	rr = doRequest(t, server, http.MethodGet, "/api/invocations/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHistoryDisabled(t *testing.T) {
	server := newTestServer(&mockBridge{}, nil)

	rr := doRequest(t, server, http.MethodGet, "/api/invocations", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = doRequest(t, server, http.MethodGet, "/api/invocations/x", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
