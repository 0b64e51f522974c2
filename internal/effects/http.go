package effects

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultRetries is the fixed retry budget for streaming downloads,
// per spec.md §4.5 "Retries".
const DefaultRetries = 3

// httpClient is the production HTTPClient backed by a real *http.Client
// with a per-attempt timeout and a small retry budget with jittered
// exponential backoff, grounded on spec.md §4.3.1.
type httpClient struct {
	cl      *http.Client
	retries int
	timeout time.Duration
}

// NewHTTPClient constructs the production HTTPClient. If keepProxies is
// true (PX_KEEP_PROXIES), the transport honors standard proxy env vars even
// when other sandboxing would otherwise strip them from the process.
func NewHTTPClient(timeout time.Duration, keepProxies bool) HTTPClient {
	tr := &http.Transport{}
	if keepProxies {
		tr.Proxy = http.ProxyFromEnvironment
	}
	return &httpClient{
		cl:      &http.Client{Transport: tr, Timeout: timeout},
		retries: DefaultRetries,
		timeout: timeout,
	}
}

func (c *httpClient) Get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		resp, err := c.cl.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		}
		return resp, nil
	}
	return nil, errors.Wrapf(lastErr, "GET %s failed after %d attempts", url, c.retries)
}

// OfflineHTTPClient always refuses, per PX_ONLINE=0 semantics: no partial
// attempt is made.
type OfflineHTTPClient struct{}

func (OfflineHTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return nil, errors.New("network access disabled (PX_ONLINE=0)")
}

// systemClock is the production Clock.
type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().Unix() }

// NewSystemClock returns the production Clock.
func NewSystemClock() Clock { return systemClock{} }
