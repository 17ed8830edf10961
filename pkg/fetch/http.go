package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fruitsalade/deltaupdate/pkg/retry"
)

// HTTPConfig holds HTTP fetcher configuration.
type HTTPConfig struct {
	// Timeout bounds connection setup and response headers. Bodies are not
	// bounded here; stalled bodies are detected by the downloader.
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
	UserAgent   string
}

// HTTP fetches over http and https.
type HTTP struct {
	httpClient  *http.Client
	retryConfig retry.Config
	userAgent   string

	mu        sync.RWMutex
	authToken string
}

// NewHTTP creates an HTTP fetcher. A zero RetryConfig means a single attempt.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.Once()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "deltaupdate"
	}

	return &HTTP{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				// Blobs are already gzip; the transport must not unwrap them.
				DisableCompression: true,
			},
		},
		retryConfig: cfg.RetryConfig,
		userAgent:   cfg.UserAgent,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (h *HTTP) SetAuthToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authToken = token
}

func (h *HTTP) applyHeaders(req *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	req.Header.Set("User-Agent", h.userAgent)
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}
}

// Fetch implements Fetcher. Network errors and 5xx responses are retried
// according to the retry config; other non-200 statuses fail immediately
// with a *StatusError.
func (h *HTTP) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return retry.DoWithResult(ctx, h.retryConfig, func() (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		h.applyHeaders(req)

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("fetch %s: %w", url, err))
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode}
			if resp.StatusCode >= 500 {
				return nil, retry.Retryable(statusErr)
			}
			return nil, statusErr
		}

		return resp.Body, nil
	})
}
