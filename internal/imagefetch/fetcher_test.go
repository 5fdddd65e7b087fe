package imagefetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

// countingTransport fails every request and records how many were attempted.
type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls++
	return nil, errors.New("no network in this test")
}

func TestFetchSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer upstream.Close()

	f := New()
	result, err := f.Fetch(context.Background(), upstream.URL+"/cat.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer result.Body.Close()

	if result.ContentType != "image/png" {
		t.Fatalf("content type = %q", result.ContentType)
	}
	body, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "png-bytes" {
		t.Fatalf("body = %q", body)
	}
}

func TestFetchRejectsBadURLsWithoutNetwork(t *testing.T) {
	transport := &countingTransport{}
	f := New(WithHTTPClient(&http.Client{Transport: transport}))

	for _, raw := range []string{
		"",
		"   ",
		"file:///etc/passwd",
		"ftp://example.com/a.png",
		"javascript:alert(1)",
		"http://",
	} {
		_, err := f.Fetch(context.Background(), raw)
		if !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("url %q: expected ErrInvalidURL, got %v", raw, err)
		}
	}
	if transport.calls != 0 {
		t.Fatalf("validation made %d network calls", transport.calls)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	f := New(WithTimeout(50 * time.Millisecond))
	_, err := f.Fetch(context.Background(), upstream.URL)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestFetchNotAnImage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer upstream.Close()

	f := New()
	_, err := f.Fetch(context.Background(), upstream.URL)
	if !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("expected ErrNotAnImage, got %v", err)
	}
}

func TestFetchUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	f := New()
	_, err := f.Fetch(context.Background(), upstream.URL)
	if !errors.Is(err, ErrUpstreamFailed) {
		t.Fatalf("expected ErrUpstreamFailed, got %v", err)
	}
}

func TestFetchCapsBodySize(t *testing.T) {
	big := strings.Repeat("x", (20<<20)+100)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(big)))
		io.WriteString(w, big)
	}))
	defer upstream.Close()

	f := New()
	result, err := f.Fetch(context.Background(), upstream.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer result.Body.Close()

	if result.ContentLength != -1 {
		t.Fatalf("expected unknown length for an over-cap upstream, got %d", result.ContentLength)
	}
	n, err := io.Copy(io.Discard, result.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if n != 20<<20 {
		t.Fatalf("relayed %d bytes, want cap at %d", n, 20<<20)
	}
}
