package interceptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/hanpama/graphcache/internal/normalizer"
	"github.com/hanpama/graphcache/internal/operation"
)

var errEmptyBody = errors.New("empty response body")

// ParseInterceptor turns the raw network response into an
// operation.Response and the records it normalizes to.
type ParseInterceptor struct {
	normalizer *normalizer.Normalizer
}

func NewParseInterceptor(n *normalizer.Normalizer) *ParseInterceptor {
	return &ParseInterceptor{normalizer: n}
}

type wireResponse struct {
	Data       map[string]any    `json:"data"`
	Errors     []operation.Error `json:"errors"`
	Extensions map[string]any    `json:"extensions"`
}

func (p *ParseInterceptor) Intercept(req Request, next Chain, executor Executor, cb Callback) {
	var failed atomic.Bool
	next.Proceed(req, executor, CallbackFuncs{
		Response: func(resp Response) {
			parsed, err := p.parse(req, resp)
			if err != nil {
				failed.Store(true)
				cb.OnFailure(err)
				return
			}
			cb.OnResponse(parsed)
		},
		Fetch:   cb.OnFetch,
		Failure: cb.OnFailure,
		Completed: func() {
			if !failed.Load() {
				cb.OnCompleted()
			}
		},
	})
}

func (p *ParseInterceptor) parse(req Request, resp Response) (Response, error) {
	if resp.Parsed != nil {
		return resp, nil
	}
	if resp.HTTP != nil && (resp.HTTP.StatusCode < 200 || resp.HTTP.StatusCode > 299) {
		return resp, &HTTPError{StatusCode: resp.HTTP.StatusCode, Header: resp.HTTP.Header, Body: resp.Body}
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return resp, &ParseError{Err: errEmptyBody}
	}

	var wire wireResponse
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return resp, &ParseError{Err: err}
	}

	parsed := &operation.Response{
		Operation:  req.Operation,
		Errors:     wire.Errors,
		Extensions: wire.Extensions,
	}
	if wire.Data != nil {
		res, err := p.normalizer.Normalize(req.Operation.Root(), wire.Data)
		if err != nil {
			return resp, &ParseError{Err: err}
		}
		parsed.Data = res.Data
		parsed.DependentKeys = res.DependentKeys
		resp.Records = res.Records.Records()
	}
	resp.Parsed = parsed
	return resp, nil
}

func (p *ParseInterceptor) Dispose() {}
