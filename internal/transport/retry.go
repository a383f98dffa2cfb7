package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
)

var ErrBodyNotReplayable = errors.New("transport: request body cannot be replayed")

// RetryPolicy bounds RetryTransport.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int
	// BaseDelay is multiplied by 2^attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// JitterWindow is the upper bound of the random delay added to each wait.
	JitterWindow time.Duration
	// MaxTotalWait stops retrying once the summed waits would exceed it.
	// Zero means no bound.
	MaxTotalWait time.Duration
}

// DefaultRetryPolicy returns three attempts with 100ms base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterWindow: 100 * time.Millisecond,
		MaxTotalWait: 15 * time.Second,
	}
}

// Backoff returns min(MaxDelay, 2^attempt*BaseDelay + jitter) where jitter
// is in [0, JitterWindow). attempt is zero for the first retry.
func (p RetryPolicy) Backoff(attempt int, jitter func(time.Duration) time.Duration) time.Duration {
	wait := p.BaseDelay
	for i := 0; i < attempt; i++ {
		wait *= 2
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			break
		}
	}
	if p.JitterWindow > 0 && jitter != nil {
		wait += jitter(p.JitterWindow)
	}
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

// Retryable reports whether status is a 5xx or 429.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500 && status <= 599
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP
// date.
func RetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// jitterSource is a shared random source for jitter calculations.
var jitterSource = struct {
	*rand.Rand
	sync.Mutex
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

func randomJitter(window time.Duration) time.Duration {
	jitterSource.Lock()
	defer jitterSource.Unlock()
	return time.Duration(jitterSource.Int63n(int64(window)))
}

// RetryTransport retries 5xx and 429 responses with exponential backoff.
// Transport errors and other statuses are returned after one attempt.
type RetryTransport struct {
	next   Transport
	policy RetryPolicy
	logger *slog.Logger
	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

type RetryOption func(*RetryTransport)

func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(t *RetryTransport) { t.logger = l }
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) RetryOption {
	return func(t *RetryTransport) { t.sleep = fn }
}

// WithJitter replaces the random jitter source, for tests.
func WithJitter(fn func(time.Duration) time.Duration) RetryOption {
	return func(t *RetryTransport) { t.jitter = fn }
}

func NewRetryTransport(next Transport, policy RetryPolicy, opts ...RetryOption) *RetryTransport {
	t := &RetryTransport{
		next:   next,
		policy: policy,
		logger: slog.Default(),
		jitter: randomJitter,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *RetryTransport) Execute(req *http.Request) (*http.Response, error) {
	attempts := t.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var waited time.Duration
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, err
			}
		}
		resp, err := t.next.Execute(req)
		if err != nil || !Retryable(resp.StatusCode) || attempt+1 >= attempts {
			return resp, err
		}
		wait := t.policy.Backoff(attempt, t.jitter)
		if d, ok := RetryAfter(resp.Header, t.now()); ok {
			wait = d
		}
		if t.policy.MaxTotalWait > 0 && waited+wait > t.policy.MaxTotalWait {
			return resp, nil
		}
		drain(resp)
		t.logger.Debug("retrying request",
			slog.String("url", req.URL.String()), slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt+1), slog.Duration("wait", wait))
		eventbus.Publish(req.Context(), events.HTTPRetry{Request: req, Attempt: attempt + 1, Status: resp.StatusCode, Wait: wait})
		if err := t.sleep(req.Context(), wait); err != nil {
			return nil, err
		}
		waited += wait
	}
}

func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return ErrBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
