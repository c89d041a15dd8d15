package dErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode_DirectAndWrapped(t *testing.T) {
	base := New(CodeNotFound, "session not found")
	assert.True(t, HasCode(base, CodeNotFound))
	assert.False(t, HasCode(base, CodeInternal))

	wrapped := Wrap(base, CodeInternal, "load failed")
	assert.True(t, HasCode(wrapped, CodeInternal), "outer code visible")
	assert.True(t, HasCode(wrapped, CodeNotFound), "inner code survives wrapping")
}

func TestHasCode_StdlibWrapping(t *testing.T) {
	coded := New(CodeChallengeExpired, "challenge expired")
	wrapped := fmt.Errorf("submit code: %w", coded)
	assert.True(t, HasCode(wrapped, CodeChallengeExpired))
}

func TestWrap_NilPassthrough(t *testing.T) {
	require.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(New(CodeValidation, "bad email")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")), "uncoded errors default to internal")

	wrapped := Wrap(New(CodeNotFound, "missing"), CodeChannelFailed, "provider call")
	assert.Equal(t, CodeChannelFailed, CodeOf(wrapped), "outermost code wins")
}

func TestMessageOf_NeverLeaksUncoded(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(errors.New("pq: connection refused")))
	assert.Equal(t, "bad phone", MessageOf(New(CodeValidation, "bad phone")))
}

func TestUnwrap_CauseChain(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	wrapped := Wrap(cause, CodeChannelUnavailable, "identity provider unreachable")
	assert.True(t, errors.Is(wrapped, cause))
}
