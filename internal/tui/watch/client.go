package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tom-gora/jsoon-bridge/internal/events"
	"github.com/tom-gora/jsoon-bridge/internal/history"
)

const requestTimeout = 3 * time.Second

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	WorkerPath       string `json:"worker_path"`
	WorkerFound      bool   `json:"worker_found"`
	InFlight         int64  `json:"in_flight"`
	MaxConcurrent    int    `json:"max_concurrent"`
	EventSubscribers int    `json:"event_subscribers"`
	HistoryEnabled   bool   `json:"history_enabled"`
}

type invocationsMsg []history.Entry

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to a running jsoon-bridge API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) getJSON(path string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// FetchHealth queries /healthz.
func (c *Client) FetchHealth() tea.Msg {
	var h healthMsg
	if err := c.getJSON("/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

// FetchInvocations loads the most recent history entries.
func (c *Client) FetchInvocations(limit int) tea.Msg {
	var resp struct {
		Invocations []history.Entry `json:"invocations"`
	}
	if err := c.getJSON("/api/invocations?limit="+strconv.Itoa(limit), &resp); err != nil {
		return errMsg(err)
	}
	return invocationsMsg(resp.Invocations)
}

// Subscribe streams /events into ch, resuming after lastID. It returns
// sseDisconnectedMsg when the stream ends.
func (c *Client) Subscribe(lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.newRequest(context.Background(), "/events")
		if err != nil {
			return errMsg(err)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		_ = readSSE(resp.Body, func(e events.Event) { ch <- e })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a text/event-stream body, calling fn once per complete
// event. Comment lines are skipped; multiple data lines are joined with "\n".
func readSSE(r io.Reader, fn func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		id   int64
		typ  string
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				fn(events.Event{
					ID:   id,
					Type: typ,
					At:   time.Now(),
					Data: json.RawMessage(strings.Join(data, "\n")),
				})
			}
			id, typ, data = 0, "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				id = n
			}
		case "event":
			typ = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
