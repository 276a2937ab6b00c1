package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAPIError builds an SDK error the way the SDK returns it from a failed
// HTTP call.
func newAPIError(status int, headers map[string]string) *anthropic.Error {
	u, _ := url.Parse("https://api.anthropic.com/v1/messages")
	resp := &http.Response{StatusCode: status, Header: http.Header{}}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return &anthropic.Error{
		StatusCode: status,
		Request:    &http.Request{Method: http.MethodPost, URL: u},
		Response:   resp,
	}
}

// sleepRecorder replaces real sleeping in tests
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestRetrier(t *testing.T, cfg RetryConfig) (*Retrier, *sleepRecorder) {
	t.Helper()
	r, err := NewRetrier(cfg, nil)
	require.NoError(t, err)
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	r.jitter = func(time.Duration) time.Duration { return 250 * time.Millisecond }
	return r, rec
}

func TestRetryTransientThenSuccess(t *testing.T) {
	r, rec := newTestRetrier(t, DefaultRetryConfig())

	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls == 1 {
			return newAPIError(http.StatusTooManyRequests, nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, rec.delays, 1)
}

func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	r, rec := newTestRetrier(t, DefaultRetryConfig())

	calls := 0
	apiErr := newAPIError(http.StatusBadRequest, nil)
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return apiErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apiErr)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays, "no delay before propagating")
}

func TestRetryUnknownErrorIsNotRetried(t *testing.T) {
	r, rec := newTestRetrier(t, DefaultRetryConfig())

	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("something odd")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestRetryExhaustion(t *testing.T) {
	r, rec := newTestRetrier(t, DefaultRetryConfig())

	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return newAPIError(http.StatusBadGateway, nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.delays, 2)
	assert.Contains(t, err.Error(), "failed after 3 attempts")

	var apiErr *anthropic.Error
	require.ErrorAs(t, err, &apiErr, "last error is preserved")
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestRetryDelaySelection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultRetryConfig()
	r, _ := newTestRetrier(t, cfg)
	r.now = func() time.Time { return now }

	tests := []struct {
		name    string
		err     error
		attempt int
		want    time.Duration
	}{
		{
			name: "retry-after seconds wins over reset",
			err: newAPIError(429, map[string]string{
				"Retry-After":                        "7",
				"anthropic-ratelimit-requests-reset": now.Add(30 * time.Second).Format(time.RFC3339),
			}),
			want: 7 * time.Second,
		},
		{
			name: "retry-after is not capped",
			err:  newAPIError(429, map[string]string{"Retry-After": "120"}),
			want: 120 * time.Second,
		},
		{
			name: "reset timestamp",
			err: newAPIError(429, map[string]string{
				"anthropic-ratelimit-tokens-reset": now.Add(10 * time.Second).Format(time.RFC3339),
			}),
			want: 10 * time.Second,
		},
		{
			name: "reset timestamp capped at 60s",
			err: newAPIError(429, map[string]string{
				"anthropic-ratelimit-requests-reset": now.Add(5 * time.Minute).Format(time.RFC3339),
			}),
			want: 60 * time.Second,
		},
		{
			name: "unix reset header",
			err:  newAPIError(429, map[string]string{"X-RateLimit-Reset": fmt.Sprintf("%d", now.Add(20*time.Second).Unix())}),
			want: 20 * time.Second,
		},
		{
			name: "reset in the past falls back to backoff",
			err: newAPIError(429, map[string]string{
				"anthropic-ratelimit-requests-reset": now.Add(-time.Minute).Format(time.RFC3339),
			}),
			want: 1*time.Second + 250*time.Millisecond,
		},
		{
			name:    "exponential backoff attempt 0",
			err:     newAPIError(500, nil),
			attempt: 0,
			want:    1*time.Second + 250*time.Millisecond,
		},
		{
			name:    "exponential backoff attempt 2",
			err:     newAPIError(500, nil),
			attempt: 2,
			want:    4*time.Second + 250*time.Millisecond,
		},
		{
			name:    "backoff capped",
			err:     errors.New("connection reset by peer"),
			attempt: 10,
			want:    cfg.MaxBackoff + 250*time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.retryDelay(tt.err, tt.attempt))
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"429", newAPIError(429, nil), ErrorRateLimit},
		{"500", newAPIError(500, nil), ErrorTransient},
		{"503", newAPIError(503, nil), ErrorTransient},
		{"529 overloaded", newAPIError(529, nil), ErrorOverloaded},
		{"400", newAPIError(400, nil), ErrorInvalid},
		{"404", newAPIError(404, nil), ErrorInvalid},
		{"401", newAPIError(401, nil), ErrorAuth},
		{"403", newAPIError(403, nil), ErrorAuth},
		{"wrapped 429", fmt.Errorf("call: %w", newAPIError(429, nil)), ErrorRateLimit},
		{"overloaded sentinel", fmt.Errorf("x: %w", ErrOverloaded), ErrorOverloaded},
		{"overloaded text", errors.New(`{"type":"overloaded_error"}`), ErrorOverloaded},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"canceled", context.Canceled, ErrorCanceled},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), ErrorTransient},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), ErrorTransient},
		{"conn refused text", errors.New("dial tcp: connection refused"), ErrorTransient},
		{"unknown", errors.New("boom"), ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}

	assert.True(t, IsPermanent(newAPIError(401, nil)))
	assert.True(t, IsPermanent(newAPIError(400, nil)))
	assert.False(t, IsPermanent(newAPIError(429, nil)))
	assert.False(t, IsPermanent(errors.New("boom")))
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "RATE_LIMIT", ErrorRateLimit.String())
	assert.Equal(t, "UNKNOWN", ErrorType(99).String())
	assert.True(t, ErrorOverloaded.Retryable())
	assert.False(t, ErrorAuth.Retryable())
}

func TestRetryContextCanceledDuringBackoff(t *testing.T) {
	r, _ := newTestRetrier(t, DefaultRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := r.Do(ctx, "test", func(context.Context) error {
		calls++
		return newAPIError(503, nil)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryConfigValidate(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.MaxAttempts = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxBackoff = cfg.BaseBackoff / 2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.CircuitBreakerEnabled = true
	bad.FailureThreshold = 0
	assert.Error(t, bad.Validate())
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, time.Hour, nil)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	// Force the open timeout to elapse.
	cb.mu.Lock()
	cb.openTimeout = 0
	cb.mu.Unlock()
	time.Sleep(time.Millisecond)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestRetrierWithCircuitBreakerFailsFast(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.CircuitBreakerEnabled = true
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Hour
	r, _ := newTestRetrier(t, cfg)

	calls := 0
	fail := func(context.Context) error {
		calls++
		return newAPIError(500, nil)
	}
	require.Error(t, r.Do(context.Background(), "test", fail))
	assert.Equal(t, 2, calls, "breaker opens after the second failure")

	err := r.Do(context.Background(), "test", fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}
