package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tom-gora/jsoon-bridge/internal/log"
	"github.com/tom-gora/jsoon-bridge/internal/scratch"
)

// Event types published for every invocation.
const (
	EventStarted   = "invocation.started"
	EventSucceeded = "invocation.succeeded"
	EventFailed    = "invocation.failed"
)

// Invocation outcomes as recorded in a Report.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// recordTimeout bounds how long a Recorder may take after an invocation.
const recordTimeout = 5 * time.Second

// Result is a successful invocation: the worker's records verbatim and its
// trimmed stderr.
type Result struct {
	ID   string            `json:"-"`
	Data []json.RawMessage `json:"data"`
	Logs string            `json:"logs"`
}

// Report summarizes a finished invocation for history and monitoring. It
// never carries the raw calendar text.
type Report struct {
	ID                  string
	Mode                Mode
	URLCount            int
	InputBytes          int
	Options             ResolvedOptions
	ArtifactFingerprint string
	Status              string
	ErrorKind           Kind
	Error               string
	ExitCode            int
	RecordCount         int
	Stderr              string
	StartedAt           time.Time
	CompletedAt         time.Time
}

// Duration is the wall time of the invocation.
func (r Report) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/tom-gora/jsoon-bridge/internal/bridge Recorder

// Recorder persists invocation reports.
type Recorder interface {
	Record(ctx context.Context, r Report) error
}

// Publisher receives invocation lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

// Bridge is the entry point: one Invoke call is one worker process.
// A Bridge is safe for concurrent use.
type Bridge struct {
	invoker  *Invoker
	scratch  scratch.Manager
	recorder Recorder
	events   Publisher
	logger   *slog.Logger

	newID func() string
	now   func() time.Time
}

// New creates a Bridge. recorder and events may be nil.
func New(cfg Config, sm scratch.Manager, recorder Recorder, events Publisher) *Bridge {
	return &Bridge{
		invoker:  NewInvoker(cfg),
		scratch:  sm,
		recorder: recorder,
		events:   events,
		logger:   log.WithComponent("bridge"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Check reports whether the worker executable is present.
func (b *Bridge) Check() error {
	return b.invoker.Check()
}

// WorkerPath returns the configured worker executable.
func (b *Bridge) WorkerPath() string {
	return b.invoker.Path()
}

// Invoke runs the worker once for in and returns its records, or an *Error.
// Exactly one config artifact is written and it is removed before Invoke
// returns, whatever the outcome.
func (b *Bridge) Invoke(ctx context.Context, in Input, opts Options) (res *Result, err error) {
	resolved := opts.Resolve()
	report := Report{
		ID:         b.newID(),
		Mode:       in.Mode(),
		URLCount:   len(in.urls),
		InputBytes: len(in.text),
		Options:    resolved,
		StartedAt:  b.now(),
	}
	logger := b.logger.With("invocation_id", report.ID, "mode", report.Mode)

	b.publish(EventStarted, map[string]any{
		"invocation_id": report.ID,
		"mode":          report.Mode,
		"url_count":     report.URLCount,
	})
	defer func() {
		b.finish(ctx, &report, res, err, logger)
	}()

	if in.Mode() == "" {
		return nil, newError(KindInvalidInput, nil, "input has no mode; use TextInput or URLListInput")
	}
	if err := b.invoker.Check(); err != nil {
		return nil, err
	}

	payload, err := Materialize(in, resolved)
	if err != nil {
		if KindOf(err) == "" {
			err = newError(KindArtifactWrite, err, "build worker config: %v", err)
		}
		return nil, err
	}

	artifact, err := b.scratch.Write(ctx, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(KindCanceled, ctxErr, "worker invocation cancelled: %v", ctxErr)
		}
		return nil, newError(KindArtifactWrite, err, "write worker config: %v", err)
	}
	report.ArtifactFingerprint = artifact.Fingerprint
	defer func() {
		if rerr := b.scratch.Remove(artifact); rerr != nil {
			logger.Warn("failed to remove config artifact", "path", artifact.Path, "error", rerr)
		}
	}()
	logger.Debug("config artifact written", "path", artifact.Path, "fingerprint", artifact.Fingerprint)

	out, err := b.invoker.Run(ctx, RunRequest{
		Args:      BuildArgs(resolved, artifact.Path),
		Stdin:     in.Text(),
		PipeStdin: in.Mode() == ModeText,
	}, logger)
	if out != nil {
		report.Stderr = out.Stderr
		report.ExitCode = out.ExitCode
	}
	if err != nil {
		return nil, err
	}

	records, tolerated, err := interpret(out.Stdout, out.Stderr)
	if err != nil {
		logger.Error("failed to parse worker output", "stdout", truncate(out.Stdout, 4096))
		return nil, err
	}
	if tolerated {
		logger.Warn("worker output is not a record array, returning diagnostics only",
			"stdout", truncate(out.Stdout, 4096))
	}

	return &Result{
		ID:   report.ID,
		Data: records,
		Logs: strings.TrimSpace(out.Stderr),
	}, nil
}

func (b *Bridge) finish(ctx context.Context, report *Report, res *Result, err error, logger *slog.Logger) {
	report.CompletedAt = b.now()
	durationMS := report.Duration().Milliseconds()

	if err != nil {
		report.Status = StatusFailed
		report.ErrorKind = KindOf(err)
		report.Error = err.Error()
		logger.Warn("invocation failed", "kind", report.ErrorKind, "error", err, "duration_ms", durationMS)
		b.publish(EventFailed, map[string]any{
			"invocation_id": report.ID,
			"mode":          report.Mode,
			"error_kind":    report.ErrorKind,
			"error":         report.Error,
			"duration_ms":   durationMS,
		})
	} else {
		report.Status = StatusSucceeded
		report.RecordCount = len(res.Data)
		logger.Info("invocation succeeded", "records", report.RecordCount, "duration_ms", durationMS)
		b.publish(EventSucceeded, map[string]any{
			"invocation_id": report.ID,
			"mode":          report.Mode,
			"records":       report.RecordCount,
			"duration_ms":   durationMS,
		})
	}

	if b.recorder == nil {
		return
	}
	// The request context may already be cancelled; the record is still written.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if rerr := b.recorder.Record(rctx, *report); rerr != nil {
		logger.Error("failed to record invocation", "error", rerr)
	}
}

func (b *Bridge) publish(eventType string, data map[string]any) {
	if b.events == nil {
		return
	}
	b.events.Publish(eventType, data)
}
