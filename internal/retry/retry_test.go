package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-insights-go/internal/types"
)

func testConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testLog(), testConfig(), "caption", func() error {
		attempts++
		if attempts < 3 {
			return &types.ServiceError{Service: "caption", Status: 429, Message: "rate limited"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnClientError(t *testing.T) {
	attempts := 0
	wantErr := &types.ServiceError{Service: "caption", Status: 400, Message: "bad request"}
	err := Do(context.Background(), testLog(), testConfig(), "caption", func() error {
		attempts++
		return wantErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	var svcErr *types.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 400, svcErr.Status)
}

func TestDoExhaustsRetriesAndReturnsLastError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testLog(), testConfig(), "embedding", func() error {
		attempts++
		return &types.ServiceError{Service: "embedding", Status: 503, Message: "unavailable"}
	})

	require.Error(t, err)
	// initial attempt plus the full retry budget
	assert.Equal(t, 4, attempts)
	var svcErr *types.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 503, svcErr.Status)
}

func TestDoDoesNotRetryMalformedResponse(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testLog(), testConfig(), "topics", func() error {
		attempts++
		return &types.MalformedResponseError{Service: "topics", Message: "not json"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, testLog(), testConfig(), "caption", func() error {
		attempts++
		cancel()
		return &types.ServiceError{Service: "caption", Status: 500, Message: "boom"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(&types.ServiceError{Status: 429}))
	assert.True(t, Retryable(&types.ServiceError{Status: 503}))
	assert.True(t, Retryable(&types.ServiceError{Status: 0}))
	assert.False(t, Retryable(&types.ServiceError{Status: 400}))
	assert.False(t, Retryable(&types.MalformedResponseError{Service: "x"}))
	assert.False(t, Retryable(types.NewValidationError("probe", "empty")))
	assert.False(t, Retryable(errors.New("some app error")))
}
