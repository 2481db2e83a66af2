package bridge_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/bridge/mocks"
	"github.com/tom-gora/jsoon-bridge/internal/scratch"
)

func scriptWorker(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake workers are shell scripts")
	}
	path := filepath.Join(t.TempDir(), "jsoon")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newBridge(t *testing.T, workerPath string, rec bridge.Recorder) *bridge.Bridge {
	t.Helper()
	sm, err := scratch.NewFSManager(t.TempDir())
	require.NoError(t, err)
	return bridge.New(bridge.Config{WorkerPath: workerPath, Timeout: 10 * time.Second}, sm, rec, nil)
}

func TestRecorderReceivesSuccessReport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rec := mocks.NewMockRecorder(ctrl)
	var got bridge.Report
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r bridge.Report) error {
		got = r
		return nil
	}).Times(1)

	b := newBridge(t, scriptWorker(t, "cat >/dev/null\necho '[{\"UID\":\"a\"},{\"UID\":\"b\"}]'\necho 'fetched' >&2\n"), rec)

	in, err := bridge.TextInput("BEGIN:VCALENDAR\nSUMMARY:private\nEND:VCALENDAR")
	require.NoError(t, err)
	res, err := b.Invoke(context.Background(), in, bridge.Options{})
	require.NoError(t, err)

	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, bridge.ModeText, got.Mode)
	assert.Equal(t, bridge.StatusSucceeded, got.Status)
	assert.Equal(t, 2, got.RecordCount)
	assert.Equal(t, len("BEGIN:VCALENDAR\nSUMMARY:private\nEND:VCALENDAR"), got.InputBytes)
	assert.Contains(t, got.ArtifactFingerprint, "blake3:")
	assert.Equal(t, "fetched\n", got.Stderr)
	assert.Equal(t, bridge.DefaultUpcomingDays, got.Options.UpcomingDays)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func TestRecorderReceivesFailureReport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rec := mocks.NewMockRecorder(ctrl)
	var got bridge.Report
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r bridge.Report) error {
		got = r
		return nil
	})

	b := newBridge(t, scriptWorker(t, "echo 'unknown template token' >&2\nexit 4\n"), rec)

	in, err := bridge.URLListInput([]string{"https://example.com/a.ics", "https://example.com/b.ics"})
	require.NoError(t, err)
	_, err = b.Invoke(context.Background(), in, bridge.Options{})
	require.Error(t, err)

	assert.Equal(t, bridge.StatusFailed, got.Status)
	assert.Equal(t, bridge.KindExitNonZero, got.ErrorKind)
	assert.Equal(t, "unknown template token", got.Error)
	assert.Equal(t, 4, got.ExitCode)
	assert.Equal(t, 2, got.URLCount)
}

func TestRecorderSeesLiveContextAfterCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, r bridge.Report) error {
		assert.NoError(t, ctx.Err())
		assert.Equal(t, bridge.KindCanceled, r.ErrorKind)
		return nil
	})

	b := newBridge(t, scriptWorker(t, "exec sleep 10\n"), rec)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	in, err := bridge.URLListInput([]string{"https://example.com/a.ics"})
	require.NoError(t, err)
	_, err = b.Invoke(ctx, in, bridge.Options{})
	assert.ErrorIs(t, err, bridge.ErrCanceled)
}

func TestRecorderErrorDoesNotFailInvocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rec := mocks.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	b := newBridge(t, scriptWorker(t, "echo '[]'\n"), rec)

	in, err := bridge.URLListInput([]string{"https://example.com/a.ics"})
	require.NoError(t, err)
	res, err := b.Invoke(context.Background(), in, bridge.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}
