package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/config"
	"github.com/tom-gora/jsoon-bridge/internal/history"
	"github.com/tom-gora/jsoon-bridge/internal/lock"
	"github.com/tom-gora/jsoon-bridge/internal/log"
	"github.com/tom-gora/jsoon-bridge/internal/scratch"
	"github.com/tom-gora/jsoon-bridge/internal/storage"
	"golang.org/x/term"
)

// --- run ---

// runOutput mirrors the HTTP success body.
type runOutput struct {
	Data []json.RawMessage `json:"data"`
	Logs string            `json:"logs"`
}

func runRun(args []string) int {
	var (
		configPath, text, file, template string
		urls                             []string
		markers                          = map[string]string{}
		days, limit                      int
		pretty, verbose, noHistory       bool
	)

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&text, "text", "", "Calendar text (default: read stdin or -file)")
	fs.StringVar(&file, "file", "", "Read calendar text from file ('-' for stdin)")
	fs.Func("url", "Calendar URL (repeatable, max 5)", func(v string) error {
		urls = append(urls, v)
		return nil
	})
	fs.IntVar(&days, "days", bridge.DefaultUpcomingDays, "Upcoming days window")
	fs.IntVar(&limit, "limit", 0, "Maximum number of events (0 = unlimited)")
	fs.StringVar(&template, "template", "", "Output template passed to the worker")
	fs.Func("marker", "Offset marker KEY=VALUE (repeatable)", func(v string) error {
		k, val, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("expected KEY=VALUE, got %q", v)
		}
		markers[strings.TrimSpace(k)] = val
		return nil
	})
	fs.BoolVar(&pretty, "pretty", false, "Indent JSON output")
	fs.BoolVar(&verbose, "v", false, "Log bridge activity at debug level")
	fs.BoolVar(&noHistory, "no-history", false, "Do not record this invocation")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log.Setup(level, cfg.Service.LogFormat)

	in, err := runInput(urls, text, file, set["text"])
	if err != nil {
		if bridge.KindOf(err) != "" {
			return reportRunError(err)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	opts := bridge.Options{Template: template, OffsetMarkers: markers}
	if set["days"] {
		opts.UpcomingDays = &days
	}
	if set["limit"] {
		opts.Limit = &limit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm, err := scratch.NewFSManager(cfg.Scratch.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var recorder bridge.Recorder
	if cfg.History.Enabled && !noHistory {
		db, err := storage.OpenSQLite(ctx, cfg.History.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: history unavailable: %v\n", err)
		} else {
			defer db.Close()
			recorder = history.New(db)
		}
	}

	res, err := bridge.New(bridgeConfig(cfg), sm, recorder, nil).Invoke(ctx, in, opts)
	if err != nil {
		return reportRunError(err)
	}

	out := runOutput{Data: res.Data, Logs: res.Logs}
	if out.Data == nil {
		out.Data = []json.RawMessage{}
	}
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write result: %v\n", err)
		return 1
	}
	return 0
}

// runInput builds the invocation input. URLs win over text; text comes from
// -text, then -file, then a piped stdin.
func runInput(urls []string, text, file string, textSet bool) (bridge.Input, error) {
	if len(urls) > 0 {
		if textSet || file != "" {
			return bridge.Input{}, errors.New("use either -url or -text/-file, not both")
		}
		return bridge.URLListInput(urls)
	}

	if !textSet {
		var r io.Reader
		switch {
		case file == "-":
			r = os.Stdin
		case file != "":
			f, err := os.Open(file)
			if err != nil {
				return bridge.Input{}, err
			}
			defer f.Close()
			r = f
		case !term.IsTerminal(int(os.Stdin.Fd())):
			r = os.Stdin
		default:
			return bridge.Input{}, errors.New("no input: pass -url, -text, -file or pipe calendar text on stdin")
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return bridge.Input{}, fmt.Errorf("read calendar text: %w", err)
		}
		text = string(b)
	}
	return bridge.TextInput(text)
}

func reportRunError(err error) int {
	kind := bridge.KindOf(err)
	if kind == "" {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", kind, err)

	var be *bridge.Error
	if errors.As(err, &be) && be.Output != "" {
		fmt.Fprintf(os.Stderr, "Worker output:\n%s\n", be.Output)
	}
	if kind == bridge.KindInvalidInput {
		return 2
	}
	return 1
}

// --- history ---

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", history.DefaultLimit, "Number of invocations to list")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	prune := fs.Duration("prune", 0, "Delete invocations older than this age, then exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: jsoon-bridge history [flags] [ID]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "History is disabled (history.enabled: false)")
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer db.Close()
	store := history.New(db)

	if *prune > 0 {
		n, err := store.Prune(ctx, *prune)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
			return 1
		}
		fmt.Printf("Deleted %d invocation(s) older than %s\n", n, *prune)
		return 0
	}

	if fs.NArg() == 1 {
		entry, err := store.Get(ctx, fs.Arg(0))
		if errors.Is(err, history.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Invocation not found: %s\n", fs.Arg(0))
			return 1
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
			return 1
		}
		return printJSON(entry)
	}

	entries, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(entries)
	}
	printHistoryTable(os.Stdout, entries, time.Now())
	return 0
}

func printHistoryTable(w io.Writer, entries []history.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No invocations recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTATUS\tRECORDS\tINPUT\tDURATION\tSTARTED\tERROR")
	for _, e := range entries {
		input := humanize.Bytes(uint64(e.InputBytes))
		if e.Mode == string(bridge.ModeURLs) {
			input = fmt.Sprintf("%d url(s)", e.URLCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Mode,
			e.Status,
			e.RecordCount,
			input,
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			humanize.RelTime(e.StartedAt, now, "ago", "from now"),
			e.ErrorKind,
		)
	}
	_ = tw.Flush()
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// --- sweep ---

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	olderThan := fs.Duration("older-than", 0, "Minimum artifact age (default: scratch.sweep_after)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	age := cfg.Scratch.SweepAfter
	if *olderThan > 0 {
		age = *olderThan
	}
	if age <= 0 {
		fmt.Fprintln(os.Stderr, "Sweep disabled: scratch.sweep_after is 0 and -older-than not given")
		return 1
	}

	sm, err := scratch.NewFSManager(cfg.Scratch.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	report, err := sm.Sweep(context.Background(), age)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}
	fmt.Printf("Removed %d orphaned artifact(s) older than %s from %s\n", report.DeletedFiles, age, sm.Dir())
	return 0
}

// --- status ---

type statusReport struct {
	Config      string          `json:"config,omitempty"`
	URL         string          `json:"url"`
	Reachable   bool            `json:"reachable"`
	Health      json.RawMessage `json:"health,omitempty"`
	Error       string          `json:"error,omitempty"`
	LockHeld    bool            `json:"lock_held"`
	LockPID     int             `json:"lock_pid,omitempty"`
	HistoryPath string          `json:"history_path,omitempty"`
	// ConfigDrift is set when the server's config file changed after it started.
	ConfigDrift string `json:"config_drift,omitempty"`
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Bridge API URL (default: derived from api.listen)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	rep := statusReport{Config: cfg.SourcePath, URL: *apiURL}
	if rep.URL == "" {
		rep.URL = baseURL(cfg.API.Listen)
	}
	if cfg.History.Enabled {
		rep.HistoryPath = cfg.History.Path
		held, pid, err := lock.Held(lock.PathFor(cfg.History.Path))
		if err == nil {
			rep.LockHeld, rep.LockPID = held, pid
		}
	}

	body, err := fetchHealthz(rep.URL, cfg.API.APIKey)
	if err != nil {
		rep.Error = err.Error()
	} else {
		rep.Reachable = true
		rep.Health = body
		rep.ConfigDrift = configDrift(body)
	}

	if *jsonOut {
		if code := printJSON(rep); code != 0 {
			return code
		}
	} else {
		printStatus(os.Stdout, rep)
	}
	if !rep.Reachable {
		return 1
	}
	return 0
}

func fetchHealthz(base, apiKey string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("healthz returned %s", resp.Status)
	}
	if !json.Valid(body) {
		return nil, errors.New("healthz returned invalid JSON")
	}
	return body, nil
}

// configDrift compares the server's config file against the digest it
// reported at startup.
func configDrift(health json.RawMessage) string {
	var h struct {
		ConfigPath        string `json:"config_path"`
		ConfigFingerprint string `json:"config_fingerprint"`
	}
	if err := json.Unmarshal(health, &h); err != nil || h.ConfigPath == "" || h.ConfigFingerprint == "" {
		return ""
	}
	if err := config.VerifyFileHash(h.ConfigPath, h.ConfigFingerprint); err != nil {
		return err.Error()
	}
	return ""
}

func printStatus(w io.Writer, rep statusReport) {
	if rep.Config != "" {
		fmt.Fprintf(w, "config:    %s\n", rep.Config)
	}
	if rep.Reachable {
		var h struct {
			Status        string `json:"status"`
			UptimeSeconds int64  `json:"uptime_seconds"`
			WorkerFound   bool   `json:"worker_found"`
			InFlight      int64  `json:"in_flight"`
			MaxConcurrent int    `json:"max_concurrent"`
		}
		_ = json.Unmarshal(rep.Health, &h)
		fmt.Fprintf(w, "server:    %s (%s)\n", h.Status, rep.URL)
		fmt.Fprintf(w, "uptime:    %s\n", time.Duration(h.UptimeSeconds)*time.Second)
		fmt.Fprintf(w, "worker:    found=%t\n", h.WorkerFound)
		fmt.Fprintf(w, "in flight: %d/%d\n", h.InFlight, h.MaxConcurrent)
		if rep.ConfigDrift != "" {
			fmt.Fprintf(w, "drift:     %s (restart to apply)\n", rep.ConfigDrift)
		}
	} else {
		fmt.Fprintf(w, "server:    unreachable (%s): %s\n", rep.URL, rep.Error)
	}
	if rep.HistoryPath != "" {
		if rep.LockHeld {
			fmt.Fprintf(w, "history:   %s (locked by pid %d)\n", rep.HistoryPath, rep.LockPID)
		} else {
			fmt.Fprintf(w, "history:   %s (not locked)\n", rep.HistoryPath)
		}
	}
}
