package bridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := &Error{Kind: KindExitNonZero, Message: "bad template", ExitCode: 2}

	assert.True(t, errors.Is(err, ErrExitNonZero))
	assert.False(t, errors.Is(err, ErrSpawn))
	assert.Equal(t, "bad template", err.Error())

	wrapped := fmt.Errorf("handler: %w", err)
	assert.True(t, errors.Is(wrapped, ErrExitNonZero))
	assert.Equal(t, KindExitNonZero, KindOf(wrapped))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := newError(KindSpawn, cause, "start worker: %v", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "start worker: permission denied", err.Error())
}

func TestErrorMessageFallbacks(t *testing.T) {
	assert.Equal(t, "timeout", (&Error{Kind: KindTimeout}).Error())
	assert.Equal(t, "boom", (&Error{Kind: KindSpawn, Err: errors.New("boom")}).Error())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
