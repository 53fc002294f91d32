package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/security"
)

// Fetcher performs outbound HTTP requests under SSRF policy. URLs are
// validated statically, resolved addresses are classified before any
// connection, the transport pins connections to vetted IPs, redirects
// are re-validated, and response bodies are size-capped as they
// stream in. The declared Content-Length is never trusted.
type Fetcher struct {
	validator *security.URL
	client    *http.Client
	logger    log.Logger
	maxBytes  int64
	timeout   time.Duration
}

// FetcherConfig carries the policy knobs for the fetcher.
type FetcherConfig struct {
	// MaxBytes caps the response body size.
	MaxBytes int64
	// Timeout bounds the whole fetch, connect through last byte.
	Timeout time.Duration
}

// FetchResult is a completed fetch.
type FetchResult struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string
	Resolved    security.ResolvedAddress
}

// NewFetcher creates the URL fetcher.
func NewFetcher(validator *security.URL, logger log.Logger, cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		validator: validator,
		client: &http.Client{
			Transport:     validator.Transport(),
			CheckRedirect: validator.CheckRedirect,
		},
		logger:   logger,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
	}
}

// Fetch retrieves a URL. The sequence is strict: validate the URL,
// resolve and classify the target, then connect through the pinning
// transport. No network I/O happens for a URL that fails validation.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := f.validator.Validate(rawURL); err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &security.ValidationError{Field: "url", Detail: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resolved, err := f.validator.Resolve(ctx, u.Hostname())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.mapTransportError(err, rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &security.UpstreamError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := f.readCapped(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &security.TimeoutError{Op: "fetch " + rawURL, Limit: f.timeout, Err: err}
		}
		return nil, err
	}

	f.logger.DebugContext(ctx, "url fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(body),
	)
	return &FetchResult{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
		Resolved:    resolved,
	}, nil
}

// FetchJSON retrieves a URL and decodes the body as JSON.
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string) (any, error) {
	result, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(result.Body, &decoded); err != nil {
		return nil, &security.ValidationError{Field: "body", Detail: "response is not valid JSON: " + err.Error()}
	}
	return decoded, nil
}

// Close releases idle connections held by the pinned transport.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// readCapped reads at most maxBytes from r, counting bytes as they
// arrive. Reading one extra byte distinguishes an exactly-at-limit body
// from an oversized one without buffering past the limit.
func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, security.Errorf(security.ReasonSizeExceeded,
			"response exceeds %d bytes", f.maxBytes)
	}
	return body, nil
}

// mapTransportError translates client.Do failures into the error
// taxonomy. Policy errors raised inside the pinning dialer or the
// redirect check arrive wrapped in *url.Error and are unwrapped so
// callers can still match them with errors.As.
func (f *Fetcher) mapTransportError(err error, rawURL string) error {
	var secErr *security.SecurityError
	if errors.As(err, &secErr) {
		return secErr
	}
	var valErr *security.ValidationError
	if errors.As(err, &valErr) {
		return valErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &security.TimeoutError{Op: "fetch " + rawURL, Limit: f.timeout, Err: err}
	}
	return fmt.Errorf("fetching %s: %w", rawURL, err)
}
