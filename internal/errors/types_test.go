package errors

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriftErrorFormatting(t *testing.T) {
	t.Run("code, file and cause", func(t *testing.T) {
		err := NewBuildError("VERSION_UNAVAILABLE", "version metadata unavailable", io.EOF).
			WithFile("package.json")

		assert.Equal(t, "[VERSION_UNAVAILABLE] package.json version metadata unavailable: EOF", err.Error())
	})

	t.Run("message only", func(t *testing.T) {
		err := &DriftError{Message: "plain"}
		assert.Equal(t, "plain", err.Error())
	})
}

func TestDriftErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrFetchFailed("http://example.test/", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, NewNetworkError("FETCH_FAILED", "other message", nil))
	assert.NotErrorIs(t, err, NewNetworkError("OTHER", "", nil))

	wrapped := errors.Join(errors.New("outer"), err)
	assert.True(t, IsNetworkError(wrapped))
	assert.True(t, IsRecoverable(wrapped))
}

func TestClassification(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		build       bool
		recoverable bool
	}{
		{"build", ErrVersionUnavailable("package.json", nil), true, false},
		{"network", ErrFetchFailed("u", nil), false, true},
		{"validation", NewValidationError("X", "bad"), false, true},
		{"config", ErrInvalidConfig("monitor.poll_interval", 0, "must be positive"), false, false},
		{"plain", errors.New("plain"), false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.build, IsBuildError(tc.err))
			assert.Equal(t, tc.recoverable, IsRecoverable(tc.err))
		})
	}
}

type recordingLogger struct {
	warns  []string
	errors []string
}

func (r *recordingLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	r.errors = append(r.errors, msg)
}

func (r *recordingLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	r.warns = append(r.warns, msg)
}

func TestErrorHandler(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, ErrFetchFailed("u", nil))
	handler.Handle(ctx, ErrVersionUnavailable("package.json", nil))
	handler.Handle(ctx, errors.New("plain"))

	require.Len(t, logger.warns, 1)
	require.Len(t, logger.errors, 2)
	assert.Equal(t, "Unhandled error", logger.errors[1])

	assert.NotPanics(t, func() { NewErrorHandler(nil).Handle(ctx, io.EOF) })
}
