package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrUnavailable = errors.New("provider unavailable")

// APIError carries a provider's non-success response verbatim.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Body)
}

type restClient struct {
	provider  string
	base      string
	apiKey    string
	keyHeader string
	http      *http.Client
	limiter   *rate.Limiter
}

func newRestClient(provider, base, apiKey, keyHeader string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &restClient{
		provider:  provider,
		base:      strings.TrimRight(strings.TrimSpace(base), "/"),
		apiKey:    strings.TrimSpace(apiKey),
		keyHeader: keyHeader,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *restClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c.base == "" {
		return fmt.Errorf("%w: %s has no base url", ErrUnavailable, c.provider)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	fullURL := c.base + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" && c.keyHeader != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Provider: c.provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return nil
}

// probe succeeds on any 2xx from path.
func (c *restClient) probe(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodGet, path, nil, nil, nil)
}
