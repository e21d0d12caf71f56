package listing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrFetchFailed is returned when the marketplace could not be reached.
var ErrFetchFailed = errors.New("listing: fetch failed")

const (
	defaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0 Safari/537.36"
	defaultMaxBodyBytes = 4 << 20
	marketplaceHost     = "mobile.de"
)

// Doer performs HTTP requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client downloads and parses marketplace listings.
type Client struct {
	HTTP         Doer
	UserAgent    string
	MaxBodyBytes int64
}

// ValidateURL checks that raw is an http(s) link to a listing details page and returns it normalised.
func ValidateURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrURLParseFailed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrURLParseFailed, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host != marketplaceHost && !strings.HasSuffix(host, "."+marketplaceHost) {
		return "", fmt.Errorf("%w: unsupported host %q", ErrURLParseFailed, host)
	}
	path := strings.ToLower(u.Path)
	if !strings.Contains(path, "details") && !strings.Contains(path, "auto-inserat") {
		return "", fmt.Errorf("%w: %q is not a details page", ErrURLParseFailed, u.Path)
	}
	u.Scheme = "https"
	u.Fragment = ""
	return u.String(), nil
}

// Fetch validates rawURL, downloads the page and extracts the vehicle attributes.
func (c Client) Fetch(ctx context.Context, rawURL string) (Vehicle, error) {
	pageURL, err := ValidateURL(rawURL)
	if err != nil {
		return Vehicle{}, err
	}
	if c.HTTP == nil {
		return Vehicle{}, errors.New("listing: http client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Vehicle{}, fmt.Errorf("%w: %v", ErrURLParseFailed, err)
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return Vehicle{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return Vehicle{}, fmt.Errorf("%w: status %s", ErrURLParseFailed, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return Vehicle{}, fmt.Errorf("%w: status %s", ErrFetchFailed, resp.Status)
	}
	return Parse(io.LimitReader(resp.Body, c.maxBodyBytes()), pageURL)
}

func (c Client) userAgent() string {
	if ua := strings.TrimSpace(c.UserAgent); ua != "" {
		return ua
	}
	return defaultUserAgent
}

func (c Client) maxBodyBytes() int64 {
	if c.MaxBodyBytes <= 0 {
		return defaultMaxBodyBytes
	}
	return c.MaxBodyBytes
}
