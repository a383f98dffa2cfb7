package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// mockTransport answers from a queue of statuses and records each call.
type mockTransport struct {
	mu       sync.Mutex
	statuses []int
	headers  []http.Header
	bodies   []string
	calls    int
}

func (m *mockTransport) Execute(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var body string
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	m.bodies = append(m.bodies, body)
	i := m.calls
	m.calls++
	status := m.statuses[len(m.statuses)-1]
	if i < len(m.statuses) {
		status = m.statuses[i]
	}
	h := http.Header{}
	if i < len(m.headers) && m.headers[i] != nil {
		h = m.headers[i]
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

type recordedSleep struct {
	waits []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func noJitter(time.Duration) time.Duration { return 0 }

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "http://example.test/graphql", strings.NewReader(`{"query":"{a}"}`))
	require.NoError(t, err)
	return req
}

func TestRetryTransport(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}

	t.Run("retries 5xx and 429 and replays the body", func(t *testing.T) {
		m := &mockTransport{statuses: []int{503, 429, 200}}
		s := &recordedSleep{}
		rt := NewRetryTransport(m, policy, WithSleep(s.sleep), WithJitter(noJitter))
		resp, err := rt.Execute(newRequest(t))
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, 3, m.calls)
		if diff := cmp.Diff([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, s.waits); diff != "" {
			t.Fatalf("waits mismatch (-want +got):\n%s", diff)
		}
		require.Equal(t, []string{`{"query":"{a}"}`, `{"query":"{a}"}`, `{"query":"{a}"}`}, m.bodies)
	})

	t.Run("client errors pass through", func(t *testing.T) {
		m := &mockTransport{statuses: []int{400}}
		rt := NewRetryTransport(m, policy, WithSleep((&recordedSleep{}).sleep))
		resp, err := rt.Execute(newRequest(t))
		require.NoError(t, err)
		require.Equal(t, 400, resp.StatusCode)
		require.Equal(t, 1, m.calls)
	})

	t.Run("transport errors pass through", func(t *testing.T) {
		calls := 0
		boom := errors.New("connection refused")
		rt := NewRetryTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
			calls++
			return nil, boom
		}), policy)
		_, err := rt.Execute(newRequest(t))
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, calls)
	})

	t.Run("max attempts", func(t *testing.T) {
		m := &mockTransport{statuses: []int{500}}
		rt := NewRetryTransport(m, policy, WithSleep((&recordedSleep{}).sleep), WithJitter(noJitter))
		resp, err := rt.Execute(newRequest(t))
		require.NoError(t, err)
		require.Equal(t, 500, resp.StatusCode)
		require.Equal(t, 4, m.calls)
	})

	t.Run("retry-after overrides backoff", func(t *testing.T) {
		m := &mockTransport{statuses: []int{503, 200}, headers: []http.Header{{"Retry-After": []string{"2"}}}}
		s := &recordedSleep{}
		rt := NewRetryTransport(m, policy, WithSleep(s.sleep), WithJitter(noJitter))
		_, err := rt.Execute(newRequest(t))
		require.NoError(t, err)
		require.Equal(t, []time.Duration{2 * time.Second}, s.waits)
	})

	t.Run("max total wait", func(t *testing.T) {
		m := &mockTransport{statuses: []int{503}}
		s := &recordedSleep{}
		p := policy
		p.MaxTotalWait = 25 * time.Millisecond
		rt := NewRetryTransport(m, p, WithSleep(s.sleep), WithJitter(noJitter))
		resp, err := rt.Execute(newRequest(t))
		require.NoError(t, err)
		require.Equal(t, 503, resp.StatusCode)
		require.Equal(t, []time.Duration{10 * time.Millisecond}, s.waits)
		require.Equal(t, 2, m.calls)
	})

	t.Run("canceled context stops waiting", func(t *testing.T) {
		m := &mockTransport{statuses: []int{503}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rt := NewRetryTransport(m, policy)
		_, err := rt.Execute(newRequest(t).WithContext(ctx))
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterWindow: 50 * time.Millisecond}
	fixed := func(time.Duration) time.Duration { return 7 * time.Millisecond }
	require.Equal(t, 107*time.Millisecond, p.Backoff(0, fixed))
	require.Equal(t, 407*time.Millisecond, p.Backoff(2, fixed))
	require.Equal(t, time.Second, p.Backoff(10, fixed))
	for i := 0; i < 100; i++ {
		d := p.Backoff(0, randomJitter)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.Less(t, d, 150*time.Millisecond)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ok := RetryAfter(http.Header{"Retry-After": {"3"}}, now)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)

	d, ok = RetryAfter(http.Header{"Retry-After": {now.Add(time.Minute).Format(http.TimeFormat)}}, now)
	require.True(t, ok)
	require.Equal(t, time.Minute, d)

	_, ok = RetryAfter(http.Header{"Retry-After": {"soon"}}, now)
	require.False(t, ok)
}

func TestSigning(t *testing.T) {
	t.Run("bearer token", func(t *testing.T) {
		var got string
		st := &SigningTransport{
			Next: TransportFunc(func(req *http.Request) (*http.Response, error) {
				got = req.Header.Get("Authorization")
				return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
			}),
			Signer: BearerToken(func() (string, error) { return "t0k", nil }),
		}
		_, err := st.Execute(newRequest(t))
		require.NoError(t, err)
		require.Equal(t, "Bearer t0k", got)
	})

	t.Run("missing token fails before sending", func(t *testing.T) {
		st := &SigningTransport{
			Next: TransportFunc(func(*http.Request) (*http.Response, error) {
				t.Fatal("request must not be sent")
				return nil, nil
			}),
			Signer: BearerToken(func() (string, error) { return "", nil }),
		}
		_, err := st.Execute(newRequest(t))
		require.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("hmac signature verifies and keeps the body", func(t *testing.T) {
		secret := []byte("s3cret")
		signer := &HMACSigner{KeyID: "k1", Secret: secret, Now: func() time.Time { return time.Unix(0, 0) }}
		req := newRequest(t)
		req.Header.Set("Content-Type", "application/json")
		require.NoError(t, signer.Sign(req))

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.Equal(t, `{"query":"{a}"}`, string(body))
		require.Equal(t, "1970-01-01T00:00:00Z", req.Header.Get("X-Signature-Timestamp"))
		require.Equal(t, Signature(req, body, "1970-01-01T00:00:00Z", secret), req.Header.Get("X-Signature"))
		require.NotEqual(t, Signature(req, body, "1970-01-01T00:00:00Z", []byte("other")), req.Header.Get("X-Signature"))
	})
}
