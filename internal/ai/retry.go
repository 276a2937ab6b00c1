package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/sigtrend/internal/logging"
)

// RetryConfig holds retry configuration for model API calls
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"` // Total attempts including the first (default: 3)
	BaseBackoff time.Duration `yaml:"base_backoff"` // Backoff for attempt 0; doubles per attempt (default: 1s)
	MaxBackoff  time.Duration `yaml:"max_backoff"`  // Cap on exponential backoff before jitter (default: 30s)
	MaxJitter   time.Duration `yaml:"max_jitter"`   // Upper bound of random jitter (default: 1s)
	ResetCap    time.Duration `yaml:"reset_cap"`    // Cap on waits derived from a reset timestamp (default: 60s)
	Timeout     time.Duration `yaml:"timeout"`      // Per-attempt timeout (default: 60s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          `yaml:"circuit_breaker_enabled"` // default: false
	FailureThreshold      int           `yaml:"failure_threshold"`       // Failures before opening circuit (default: 5)
	SuccessThreshold      int           `yaml:"success_threshold"`       // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration `yaml:"open_timeout"`            // How long to keep circuit open (default: 30s)

	MaxConcurrentCalls int `yaml:"max_concurrent_calls"` // Client-wide limit on in-flight calls (default: 3, 0 = unlimited)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:           3,
		BaseBackoff:           1 * time.Second,
		MaxBackoff:            30 * time.Second,
		MaxJitter:             1 * time.Second,
		ResetCap:              60 * time.Second,
		Timeout:               60 * time.Second,
		CircuitBreakerEnabled: false,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    3,
	}
}

// Validate checks that the configuration is usable
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1 (got %d)", c.MaxAttempts)
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < 0 || c.MaxJitter < 0 || c.ResetCap < 0 {
		return fmt.Errorf("backoff durations must be non-negative")
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= base_backoff (%v)", c.MaxBackoff, c.BaseBackoff)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.CircuitBreakerEnabled {
		if c.FailureThreshold < 1 || c.SuccessThreshold < 1 {
			return fmt.Errorf("circuit breaker thresholds must be at least 1")
		}
		if c.OpenTimeout <= 0 {
			return fmt.Errorf("open_timeout must be positive (got %v)", c.OpenTimeout)
		}
	}
	if c.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls must be non-negative (got %d)", c.MaxConcurrentCalls)
	}
	return nil
}

// ErrorType classifies a failed call for retry purposes
type ErrorType int

const (
	ErrorUnknown    ErrorType = iota // Not recognized; not retried
	ErrorTransient                   // 5xx, timeouts, dropped connections
	ErrorRateLimit                   // 429
	ErrorOverloaded                  // 529 / overloaded_error
	ErrorInvalid                     // Malformed request (400, 404, 413, 422)
	ErrorAuth                        // 401, 403
	ErrorCanceled                    // Caller's context was canceled
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTransient:
		return "TRANSIENT"
	case ErrorRateLimit:
		return "RATE_LIMIT"
	case ErrorOverloaded:
		return "OVERLOADED"
	case ErrorInvalid:
		return "INVALID"
	case ErrorAuth:
		return "AUTH"
	case ErrorCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether errors of this type are worth another attempt
func (t ErrorType) Retryable() bool {
	return t == ErrorTransient || t == ErrorRateLimit || t == ErrorOverloaded
}

// ErrOverloaded is the provider's "overloaded" condition for senders that
// do not surface an HTTP status.
var ErrOverloaded = errors.New("provider overloaded")

// classifyError determines how a failed call should be treated
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCanceled
	}
	if errors.Is(err, ErrOverloaded) {
		return ErrorOverloaded
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}

	// Per-attempt timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return ErrorTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTransient
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "overloaded"):
		return ErrorOverloaded
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "temporary failure"),
		strings.Contains(errStr, "timeout"):
		return ErrorTransient
	}
	return ErrorUnknown
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorRateLimit
	case code == 529:
		return ErrorOverloaded
	case code >= 500:
		return ErrorTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrorAuth
	case code == http.StatusRequestTimeout:
		return ErrorTransient
	case code >= 400:
		return ErrorInvalid
	}
	return ErrorUnknown
}

// IsPermanent reports whether err means no further call can succeed
// (bad credentials or a request the provider will always reject).
func IsPermanent(err error) bool {
	t := classifyError(err)
	return t == ErrorAuth || t == ErrorInvalid
}

// retryAfter returns the provider-supplied retry-after wait, if any.
func retryAfter(err error) (time.Duration, bool) {
	h := responseHeader(err)
	if h == nil {
		return 0, false
	}
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, perr := strconv.ParseFloat(v, 64); perr == nil && ms >= 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, perr := strconv.ParseFloat(v, 64); perr == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
		if at, perr := http.ParseTime(v); perr == nil {
			return max(0, time.Until(at)), true
		}
	}
	return 0, false
}

var resetHeaders = []string{
	"anthropic-ratelimit-requests-reset",
	"anthropic-ratelimit-tokens-reset",
	"anthropic-ratelimit-input-tokens-reset",
	"anthropic-ratelimit-output-tokens-reset",
}

// resetWait returns the wait until the latest rate-limit reset timestamp,
// if any lies in the future.
func resetWait(err error, now time.Time) (time.Duration, bool) {
	h := responseHeader(err)
	if h == nil {
		return 0, false
	}
	var latest time.Time
	for _, name := range resetHeaders {
		if at, perr := time.Parse(time.RFC3339, h.Get(name)); perr == nil && at.After(latest) {
			latest = at
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if unix, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			if at := time.Unix(unix, 0); at.After(latest) {
				latest = at
			}
		}
	}
	if !latest.After(now) {
		return 0, false
	}
	return latest.Sub(now), true
}

func responseHeader(err error) http.Header {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.Response == nil {
		return nil
	}
	return apiErr.Response.Header
}

// Retrier executes calls with bounded retries. It is shared by every call
// path of a Client.
type Retrier struct {
	cfg            RetryConfig
	logger         *logging.Logger
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted

	// Replaceable in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(limit time.Duration) time.Duration
	now    func() time.Time
}

// NewRetrier creates a retrier from cfg
func NewRetrier(cfg RetryConfig, logger *logging.Logger) (*Retrier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	r := &Retrier{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		sleep:  sleepContext,
		jitter: randomJitter,
		now:    time.Now,
	}
	if cfg.CircuitBreakerEnabled {
		r.circuitBreaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, r.logger)
	}
	if cfg.MaxConcurrentCalls > 0 {
		r.concurrencySem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	return r, nil
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. Non-retryable errors are returned on the spot with
// no delay. Exhaustion returns the last error wrapped.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if r.concurrencySem != nil {
		if err := r.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer r.concurrencySem.Release(1)
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if r.circuitBreaker != nil {
			if err := r.circuitBreaker.Allow(); err != nil {
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if r.circuitBreaker != nil {
				r.circuitBreaker.RecordSuccess()
			}
			if attempt > 0 {
				r.logger.Info("model call succeeded after retry", "operation", operation, "attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		errType := classifyError(err)
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}
		if !errType.Retryable() {
			r.logger.Warn("model call failed with non-retryable error",
				"operation", operation, "error_type", errType.String(), "error", err)
			return err
		}
		if r.circuitBreaker != nil {
			r.circuitBreaker.RecordFailure()
		}
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}

		delay := r.retryDelay(err, attempt)
		r.logger.Warn("model call failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", r.cfg.MaxAttempts,
			"error_type", errType.String(),
			"delay", delay,
			"error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, err)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.cfg.MaxAttempts, lastErr)
}

// retryDelay picks the wait before the next attempt: a provider retry-after
// value, else a provider reset timestamp capped at ResetCap, else
// exponential backoff plus jitter.
func (r *Retrier) retryDelay(err error, attempt int) time.Duration {
	if d, ok := retryAfter(err); ok {
		return d
	}
	if d, ok := resetWait(err, r.now()); ok {
		return min(d, r.cfg.ResetCap)
	}
	backoff := r.cfg.BaseBackoff << uint(attempt)
	if backoff > r.cfg.MaxBackoff || backoff < 0 {
		backoff = r.cfg.MaxBackoff
	}
	return backoff + r.jitter(r.cfg.MaxJitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker fails calls fast after repeated retryable failures
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *logging.Logger
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, logger *logging.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		logger:           logging.OrNop(logger),
	}
}

// Allow returns ErrCircuitOpen while the circuit is open and its timeout
// has not elapsed
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
	}
	return ErrCircuitOpen
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.failureCount = 0
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with the lock held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	cb.logger.Info("circuit breaker state transition",
		"from", from.String(), "to", to.String(), "failures", cb.failureCount)
}
