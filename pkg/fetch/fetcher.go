// Package fetch retrieves remote bundle resources with byte and time
// bounds. Policy failures (size, allow-list) are distinguishable from plain
// network failures so the builder can apply different recovery.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crunchhq/crunch/pkg/observability"
)

var (
	// ErrTooLarge means the response exceeded the configured byte limit.
	ErrTooLarge = errors.New("remote resource exceeds size limit")

	// ErrNotAllowed means the URL is not covered by the allow-list and raw
	// remote URLs are disabled.
	ErrNotAllowed = errors.New("remote resource not permitted by policy")

	// ErrBadStatus means the server answered with a non-2xx status.
	ErrBadStatus = errors.New("remote resource returned error status")
)

// Config bounds remote retrieval.
type Config struct {
	// MaxBytes caps the response body size. Zero disables remote fetch
	// entirely.
	MaxBytes int64

	// Timeout applies per request.
	Timeout time.Duration

	// AllowRawURLs permits request identifiers that are literal URLs. When
	// false, only allow-list tokens resolve to remote resources.
	AllowRawURLs bool

	// Tokens maps opaque allow-list tokens to remote URLs.
	Tokens map[string]string
}

// Fetcher downloads remote resources within configured bounds.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *observability.Logger
}

// NewFetcher creates a Fetcher. A nil http.Client gets a default client
// with the configured timeout.
func NewFetcher(cfg Config, client *http.Client, logger *observability.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{cfg: cfg, client: client, logger: logger}
}

// ResolveToken maps an allow-list token to its URL.
func (f *Fetcher) ResolveToken(token string) (string, bool) {
	url, ok := f.cfg.Tokens[token]
	return url, ok
}

// Permitted reports whether a literal URL may be fetched.
func (f *Fetcher) Permitted(url string) bool {
	if f.cfg.AllowRawURLs {
		return true
	}
	for _, allowed := range f.cfg.Tokens {
		if allowed == url {
			return true
		}
	}
	return false
}

// Fetch retrieves url as text. It returns ErrNotAllowed and ErrTooLarge for
// policy violations; any other failure is network-level and wrapped with
// the URL for context.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.cfg.MaxBytes <= 0 {
		return "", fmt.Errorf("%w: remote fetch disabled", ErrNotAllowed)
	}
	if !f.Permitted(url) {
		return "", fmt.Errorf("%w: %s", ErrNotAllowed, url)
	}

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s: %s", ErrBadStatus, url, resp.Status)
	}

	// Read one byte past the limit so an exactly-at-limit body is accepted
	// and an oversize body is detected without draining it.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return "", fmt.Errorf("%w: %s: more than %d bytes", ErrTooLarge, url, f.cfg.MaxBytes)
	}

	f.logger.WithField("url", url).
		WithField("bytes", len(body)).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Debug("fetched remote resource")

	return string(body), nil
}

// IsPolicyError reports whether err is a policy rejection (fatal for the
// build) rather than a network failure (non-fatal).
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrTooLarge) || errors.Is(err, ErrNotAllowed)
}
