// Package transport executes HTTP requests for the network leg of the
// pipeline, with optional retrying and request signing.
package transport

import "net/http"

// Transport executes one HTTP request. The caller closes the response body.
type Transport interface {
	Execute(req *http.Request) (*http.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(req *http.Request) (*http.Response, error)

func (fn TransportFunc) Execute(req *http.Request) (*http.Response, error) { return fn(req) }

// HTTPTransport executes requests with client, or http.DefaultClient when
// client is nil.
func HTTPTransport(client *http.Client) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return TransportFunc(client.Do)
}
