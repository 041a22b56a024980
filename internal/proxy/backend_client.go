package proxy

import (
	"net"
	"net/http"
	"time"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultIdleTimeout    = 3 * time.Second
)

// BackendClient is the shared HTTP/1.1 client for aggregator calls. One
// instance is reused across requests; redirects are never followed. The
// request body was already bounded at ingress, so no cap applies here.
type BackendClient struct {
	client      *http.Client
	readTimeout time.Duration
}

func NewBackendClient(connectTimeout, readTimeout, idleTimeout time.Duration) *BackendClient {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		IdleConnTimeout:     idleTimeout,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 32,
		ForceAttemptHTTP2:   false,
	}
	return &BackendClient{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		readTimeout: readTimeout,
	}
}

// Do executes a backend request; the caller owns the context deadline.
func (b *BackendClient) Do(req *http.Request) (*http.Response, error) {
	return b.client.Do(req)
}

// ReadTimeout is the per-request deadline for backend round trips.
func (b *BackendClient) ReadTimeout() time.Duration {
	return b.readTimeout
}

// HTTPClient exposes the underlying client for collaborators that build
// their own requests (the aggregator SDK, health probes).
func (b *BackendClient) HTTPClient() *http.Client {
	return b.client
}
