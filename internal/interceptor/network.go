package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/transport"
)

// NetworkOptions configures a NetworkInterceptor.
type NetworkOptions struct {
	// UseGETForQueries sends queries as GET requests with URL parameters.
	UseGETForQueries bool
	// Dedupe shares one round trip between identical in-flight queries.
	Dedupe bool
	Logger *slog.Logger
}

// NetworkInterceptor is the last stage of the chain: it sends the
// operation to the endpoint and delivers the raw response.
type NetworkInterceptor struct {
	endpoint  string
	transport transport.Transport
	opts      NetworkOptions
	group     singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
}

func NewNetworkInterceptor(endpoint string, t transport.Transport, opts NetworkOptions) *NetworkInterceptor {
	if t == nil {
		t = transport.HTTPTransport(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NetworkInterceptor{
		endpoint:  endpoint,
		transport: t,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

type requestBody struct {
	Query         string         `json:"query,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

type flightResult struct {
	http *http.Response
	body []byte
}

func (n *NetworkInterceptor) Intercept(req Request, _ Chain, executor Executor, cb Callback) {
	executor.Execute(func() {
		resp, err := n.execute(req)
		if err != nil {
			cb.OnFailure(err)
			return
		}
		cb.OnResponse(resp)
		cb.OnCompleted()
	})
}

func (n *NetworkInterceptor) execute(req Request) (Response, error) {
	if n.ctx.Err() != nil {
		return Response{}, ErrDisposed
	}
	ctx, cancel := context.WithCancel(reqid.WithID(req.Context(), req.RequestID))
	defer cancel()
	stop := context.AfterFunc(n.ctx, cancel)
	defer stop()

	httpReq, key, err := n.newRequest(ctx, req)
	if err != nil {
		return Response{}, err
	}

	if !n.opts.Dedupe || req.Operation.Type() != language.Query {
		res, err := n.roundTrip(ctx, httpReq, req.Operation.Name())
		if err != nil {
			return Response{}, err
		}
		return Response{HTTP: res.http, Body: res.body}, nil
	}

	// The shared round trip outlives any single waiter. Only Dispose
	// cancels it; each waiter stops on its own context.
	flight := context.WithoutCancel(ctx)
	ch := n.group.DoChan(key, func() (any, error) {
		fctx, fcancel := context.WithCancel(flight)
		defer fcancel()
		stop := context.AfterFunc(n.ctx, fcancel)
		defer stop()
		return n.roundTrip(fctx, httpReq.WithContext(fctx), req.Operation.Name())
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return Response{}, r.Err
		}
		res := r.Val.(flightResult)
		return Response{HTTP: res.http, Body: res.body}, nil
	case <-ctx.Done():
		return Response{}, &NetworkError{Err: ctx.Err()}
	}
}

func (n *NetworkInterceptor) roundTrip(ctx context.Context, httpReq *http.Request, opName string) (flightResult, error) {
	start := time.Now()
	eventbus.Publish(ctx, events.NetworkStart{Request: httpReq, OperationName: opName})

	resp, err := n.transport.Execute(httpReq)
	if err != nil {
		err = &NetworkError{Err: err}
		eventbus.Publish(ctx, events.NetworkFinish{Request: httpReq, OperationName: opName, Err: err, Duration: time.Since(start)})
		return flightResult{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = &NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}
	eventbus.Publish(ctx, events.NetworkFinish{Request: httpReq, OperationName: opName, Status: resp.StatusCode, Err: err, Duration: time.Since(start)})
	if err != nil {
		return flightResult{}, err
	}
	resp.Body = http.NoBody
	return flightResult{http: resp, body: body}, nil
}

// newRequest builds the HTTP request and its de-duplication key.
func (n *NetworkInterceptor) newRequest(ctx context.Context, req Request) (*http.Request, string, error) {
	op := req.Operation
	body := requestBody{
		OperationName: op.Name(),
		Variables:     op.Variables(),
		Extensions:    req.Extensions,
	}
	if !req.OmitDocument {
		body.Query = op.Source()
	}

	var httpReq *http.Request
	var key string
	if n.opts.UseGETForQueries && op.Type() == language.Query {
		u, err := url.Parse(n.endpoint)
		if err != nil {
			return nil, "", fmt.Errorf("interceptor: endpoint: %w", err)
		}
		q := u.Query()
		if body.Query != "" {
			q.Set("query", body.Query)
		}
		if body.OperationName != "" {
			q.Set("operationName", body.OperationName)
		}
		if err := setJSONParam(q, "variables", body.Variables); err != nil {
			return nil, "", err
		}
		if err := setJSONParam(q, "extensions", body.Extensions); err != nil {
			return nil, "", err
		}
		u.RawQuery = q.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, "", err
		}
		key = "GET " + u.String()
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("interceptor: encode request: %w", err)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(raw))
		if err != nil {
			return nil, "", err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		key = "POST " + n.endpoint + " " + string(raw)
	}
	httpReq.Header.Set("Accept", "application/graphql-response+json, application/json")
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	return httpReq, key, nil
}

func setJSONParam(q url.Values, name string, v map[string]any) error {
	if len(v) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("interceptor: encode %s: %w", name, err)
	}
	q.Set(name, string(raw))
	return nil
}

// Dispose cancels every in-flight request. Later requests fail with
// ErrDisposed.
func (n *NetworkInterceptor) Dispose() { n.cancel() }
