// Package httputil provides shared HTTP plumbing for rampart's
// outbound calls: pooled clients with tiered timeouts, bounded body
// reads, and uniform error reporting for upstream services (reply
// delivery endpoints, the embedding backend).
package httputil

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MaxResponseSize is the default maximum size for reading HTTP response
// bodies. Upstream services are not trusted to keep responses small.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Shared transport with connection pooling, safe for concurrent use.
// Reusing TCP connections matters here: reply delivery and embedding
// calls hit the same few hosts on every turn.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier defines standard timeout categories for outbound calls.
type TimeoutTier int

const (
	// TierFast for quick operations like upstream health checks (5s)
	TierFast TimeoutTier = iota
	// TierMedium for reply delivery and embedding calls (30s)
	TierMedium
	// TierSlow for model operations that may take longer (60s)
	TierSlow
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierFast:   5 * time.Second,
	TierMedium: 30 * time.Second,
	TierSlow:   60 * time.Second,
}

// Singleton clients per tier - initialized once, reused everywhere.
var (
	clientFast   *http.Client
	clientMedium *http.Client
	clientSlow   *http.Client
	clientOnce   sync.Once
)

func initClients() {
	clientFast = &http.Client{
		Timeout:   timeoutDurations[TierFast],
		Transport: sharedTransport,
	}
	clientMedium = &http.Client{
		Timeout:   timeoutDurations[TierMedium],
		Transport: sharedTransport,
	}
	clientSlow = &http.Client{
		Timeout:   timeoutDurations[TierSlow],
		Transport: sharedTransport,
	}
}

// Client returns the shared HTTP client for the given timeout tier.
// These clients share one connection pool and should be used instead of
// creating http.Client instances per call site.
//
// Usage:
//
//	client := httputil.Client(httputil.TierMedium)
//	resp, err := client.Do(req)
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierFast:
		return clientFast
	case TierMedium:
		return clientMedium
	case TierSlow:
		return clientSlow
	default:
		return clientMedium
	}
}

// FastClient returns the client with a 5s timeout (health checks).
func FastClient() *http.Client {
	return Client(TierFast)
}

// MediumClient returns the client with a 30s timeout (reply delivery,
// embedding calls).
func MediumClient() *http.Client {
	return Client(TierMedium)
}

// SlowClient returns the client with a 60s timeout (slow model calls).
func SlowClient() *http.Client {
	return Client(TierSlow)
}

// CheckResponse turns a non-2xx upstream response into an error naming
// the service and carrying a short excerpt of the body. The body is
// read with a bounded reader, callers still own closing it.
func CheckResponse(resp *http.Response, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := ReadErrorBody(resp.Body)
	excerpt := strings.TrimSpace(string(body))
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	if excerpt == "" {
		return fmt.Errorf("%s returned status %d", service, resp.StatusCode)
	}
	return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, excerpt)
}

// ReadResponseBody reads an HTTP response body with a size limit so a
// misbehaving upstream cannot exhaust memory.
//
// Usage:
//
//	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads a response body for error reporting with a
// smaller limit (1MB), error messages should never be large.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes an HTTP response body so the
// underlying connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
