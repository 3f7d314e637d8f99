package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserError_WrappedSentinels(t *testing.T) {
	err := fmt.Errorf("%w: ffmpeg not on PATH", ErrVideoUnavailable)

	assert.ErrorIs(t, err, ErrVideoUnavailable)
	assert.NotErrorIs(t, err, ErrTooFewKeyframes)
	assert.Equal(t, KindCapability, KindOf(err))
	assert.Equal(t, ErrVideoUnavailable.UserMsg, GetUserMessage(err))
}

func TestUserError_IsMatchesCopies(t *testing.T) {
	cp := *ErrMorphInProgress
	assert.True(t, errors.Is(&cp, ErrMorphInProgress))

	other := Wrap(KindBusy, errors.New("different"), "x", false)
	assert.False(t, errors.Is(other, ErrMorphInProgress))
}

func TestHelpers(t *testing.T) {
	v := Validation(errors.New("steps must be between 2 and 256, got 1"))
	assert.Equal(t, KindValidation, KindOf(v))
	assert.Equal(t, "steps must be between 2 and 256, got 1", GetUserMessage(v))
	assert.False(t, IsRetryable(v))

	b := Backend(errors.New("connection reset"))
	assert.Equal(t, KindBackend, KindOf(b))
	assert.True(t, IsRetryable(b))
	assert.ErrorContains(t, b, "connection reset")

	plain := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(plain))
	assert.False(t, IsRetryable(plain))
	assert.Contains(t, GetUserMessage(plain), "unexpected")
}
