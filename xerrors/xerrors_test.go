package xerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))

	base := errors.New("connection refused")
	wrapped := Wrap(base, "dial direct")
	require.Error(t, wrapped)
	assert.Equal(t, "dial direct: connection refused", wrapped.Error())
	assert.True(t, errors.Is(wrapped, base))
}

func TestWrapf(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "attempt %d", 1))

	wrapped := Wrapf(ErrInvalidInput, "max_failures must be positive, got %d", 0)
	assert.Equal(t, "max_failures must be positive, got 0: invalid input", wrapped.Error())
	assert.True(t, Is(wrapped, ErrInvalidInput))
}

func TestCombine(t *testing.T) {
	assert.NoError(t, Combine(nil, nil))

	e1 := errors.New("first")
	assert.Equal(t, e1, Combine(nil, e1))

	e2 := errors.New("second")
	combined := Combine(e1, nil, e2)
	var multi *MultiError
	require.True(t, As(combined, &multi))
	assert.Len(t, multi.Errors, 2)
	assert.Equal(t, "first (and 1 more errors)", combined.Error())
	assert.True(t, errors.Is(combined, e2))
}
