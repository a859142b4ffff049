package valueset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/ehr/formimport/internal/platform/fhir"
)

const (
	mimeFHIRJSON    = "application/fhir+json"
	maxResponseSize = 32 << 20
)

// Client performs FHIR REST calls relative to one server base URL.
type Client interface {
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
	Post(ctx context.Context, path string, query url.Values, body []byte) ([]byte, error)
}

// StatusError is returned for non-2xx responses. Outcome is set when the
// server answered with an OperationOutcome.
type StatusError struct {
	StatusCode int
	Outcome    *fhir.OperationOutcome
}

func (e *StatusError) Error() string {
	if e.Outcome != nil && len(e.Outcome.Issue) > 0 {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Outcome.Summary())
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// HTTPClient is a Client over net/http. Requests wait on the limiter, which
// may be shared between clients of different servers.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a client for baseURL. limiter may be nil.
func NewHTTPClient(baseURL string, httpClient *http.Client, limiter *rate.Limiter) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: limiter,
	}
}

func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *HTTPClient) Post(ctx context.Context, path string, query url.Values, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, query, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", mimeFHIRJSON)
	if body != nil {
		req.Header.Set("Content-Type", mimeFHIRJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response of %s %s: %w", method, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var outcome fhir.OperationOutcome
		if json.Unmarshal(data, &outcome) == nil && outcome.ResourceType == "OperationOutcome" {
			se.Outcome = &outcome
		}
		return nil, se
	}
	return data, nil
}
