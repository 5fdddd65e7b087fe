package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"promptpix/internal/imagefetch"
	"promptpix/pkg/storage"
)

func TestImageProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer upstream.Close()

	srv, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.Fetcher = imagefetch.New()
	})

	resp, err := http.Get(srv.URL + "/api/image-proxy?url=" + url.QueryEscape(upstream.URL+"/cat.png"))
	if err != nil {
		t.Fatalf("proxy request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("content type = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=86400" {
		t.Fatalf("cache control = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "png-bytes" {
		t.Fatalf("body = %q", body)
	}
}

func TestImageProxyErrors(t *testing.T) {
	nonImage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer nonImage.Close()

	srv, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.Fetcher = imagefetch.New()
	})

	cases := []struct {
		name   string
		target string
		status int
	}{
		{"missing url", "", http.StatusBadRequest},
		{"bad scheme", url.QueryEscape("file:///etc/passwd"), http.StatusBadRequest},
		{"non-image", url.QueryEscape(nonImage.URL), http.StatusUnsupportedMediaType},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + "/api/image-proxy?url=" + tc.target)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.status)
		}
	}
}

func TestImageProxyNotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/image-proxy?url=http%3A%2F%2Fexample.com%2Fa.png")
	if err != nil {
		t.Fatalf("proxy request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestImageUploadNotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	resp := postJSON(t, srv.URL+"/api/images", "raw-bytes")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

// fakeImageStore records calls so the handlers can be exercised without an
// object store.
type fakeImageStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{objects: map[string][]byte{}}
}

func (f *fakeImageStore) PutImage(_ context.Context, id string, r io.Reader, _ int64, contentType string) (string, error) {
	if contentType != "image/png" && contentType != "image/jpeg" {
		return "", storage.ErrUnsupportedImageType
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	key := "images/" + id + ".png"
	f.objects[key] = data
	return key, nil
}

func (f *fakeImageStore) ImageURL(_ context.Context, key string) (string, error) {
	return "https://images.test/" + key, nil
}

func (f *fakeImageStore) DeleteImage(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func TestImageUploadAndDelete(t *testing.T) {
	images := newFakeImageStore()
	srv, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.Images = images
	})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/images", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("build upload request: %v", err)
	}
	req.Header.Set("Content-Type", "image/png")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var uploaded struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if uploaded.Key == "" || !strings.HasPrefix(uploaded.URL, "https://images.test/") {
		t.Fatalf("unexpected upload response: %+v", uploaded)
	}
	if string(images.objects[uploaded.Key]) != "png-bytes" {
		t.Fatalf("stored object mismatch for %q", uploaded.Key)
	}

	del, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/images?key="+url.QueryEscape(uploaded.Key), nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(del)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delResp.StatusCode)
	}
	if len(images.deleted) != 1 || images.deleted[0] != uploaded.Key {
		t.Fatalf("expected delete of %q, got %v", uploaded.Key, images.deleted)
	}
	if _, ok := images.objects[uploaded.Key]; ok {
		t.Fatalf("object still present after delete")
	}
}

func TestImageDeleteRequiresKey(t *testing.T) {
	srv, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.Images = newFakeImageStore()
	})
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/images", nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestImageUploadRejectsUnsupportedType(t *testing.T) {
	srv, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.Images = newFakeImageStore()
	})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/images", strings.NewReader("plain text"))
	if err != nil {
		t.Fatalf("build upload request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
}
