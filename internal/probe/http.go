package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultHTTPCheckTimeout = 3 * time.Second
	maxHealthBodyBytes      = 64 << 10
)

// HTTPProbe checks readiness by issuing a GET against a health endpoint and
// requiring a 2xx response. When ExpectBody is set, the response body must
// also contain it, which proves a handler produced real output rather than
// a proxy or listener merely accepting the request.
type HTTPProbe struct {
	// ExpectBody, when non-empty, must appear in the response body.
	ExpectBody string

	// Timeout bounds a single check. Zero means the default.
	Timeout time.Duration

	// Client overrides the HTTP client used for checks.
	Client *http.Client
}

func (p *HTTPProbe) Kind() string {
	return "http"
}

func (p *HTTPProbe) Check(ctx context.Context, endpoint string) Result {
	start := time.Now()

	if err := validateHTTPEndpoint(endpoint); err != nil {
		return failure(start, err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failure(start, fmt.Errorf("%w: build request: %v", ErrMisconfigured, err))
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return failure(start, fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBodyBytes))
	if err != nil {
		return failure(start, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(start, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if p.ExpectBody != "" && !strings.Contains(string(body), p.ExpectBody) {
		return failure(start, fmt.Errorf("response body missing %q", p.ExpectBody))
	}

	return success(start)
}

func validateHTTPEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is empty", ErrMisconfigured)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: parse endpoint: %v", ErrMisconfigured, err)
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrMisconfigured, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: endpoint has no host", ErrMisconfigured)
	}
	return nil
}
