package imagefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds the whole upstream fetch.
	DefaultTimeout = 15 * time.Second

	// maxImageBytes caps how much of the upstream body is relayed.
	maxImageBytes = 20 << 20
)

var (
	// ErrInvalidURL is returned for missing, unparseable or non-http(s) URLs.
	ErrInvalidURL = errors.New("invalid image url")

	// ErrTimeout is returned when the upstream did not answer in time.
	ErrTimeout = errors.New("image fetch timed out")

	// ErrNotAnImage is returned when the upstream responds with a
	// non-image content type.
	ErrNotAnImage = errors.New("upstream resource is not an image")

	// ErrUpstreamFailed is returned for upstream connection failures and
	// non-2xx statuses.
	ErrUpstreamFailed = errors.New("image fetch failed")
)

// Result is a successfully fetched image ready to relay to the client.
type Result struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Fetcher retrieves remote images on the client's behalf so the browser
// never has to hit third-party hosts directly.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) { f.timeout = timeout }
}

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// New constructs a Fetcher with the default timeout.
func New(options ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(f)
		}
	}
	return f
}

// Fetch validates the URL, retrieves the image and returns its body stream.
// The URL scheme is checked before any network activity. The caller must
// close the returned body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: upstream status %d", ErrUpstreamFailed, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: got %q", ErrNotAnImage, contentType)
	}
	length := resp.ContentLength
	if length > maxImageBytes {
		// The relayed body is truncated at the cap, so the declared
		// length no longer holds.
		length = -1
	}
	return &Result{
		Body:          &cancelReadCloser{ReadCloser: limitBody(resp.Body), cancel: cancel},
		ContentType:   contentType,
		ContentLength: length,
	}, nil
}

func limitBody(body io.ReadCloser) io.ReadCloser {
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(body, maxImageBytes), body}
}

// cancelReadCloser releases the fetch context when the body is closed, so
// the timeout keeps covering the streaming of the response.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
