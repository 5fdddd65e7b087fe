package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"promptpix/internal/imagefetch"
	"promptpix/internal/util"
	"promptpix/pkg/storage"
)

const maxUploadBytes = 20 << 20

// handleImageProxy relays a remote image so the browser never talks to
// third-party hosts directly.
func (s *Server) handleImageProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "image proxy not configured")
		return
	}
	result, err := s.fetcher.Fetch(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	defer result.Body.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if result.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(result.ContentLength, 10))
	}
	if _, err := io.Copy(w, result.Body); err != nil {
		slog.Warn("image relay interrupted", "error", err)
	}
}

func (s *Server) writeFetchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imagefetch.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, imagefetch.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, imagefetch.ErrNotAnImage):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, imagefetch.ErrUpstreamFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("image fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "image fetch failed")
	}
}

type uploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusServiceUnavailable, "image uploads not configured")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleImageUpload(w, r)
	case http.MethodDelete:
		s.handleImageDelete(w, r)
	default:
		methodNotAllowed(w)
	}
}

// handleImageUpload stores an uploaded image and returns a presigned link
// the client can pass by reference to the generation endpoints.
func (s *Server) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer body.Close()

	key, err := s.images.PutImage(r.Context(), util.NewID(), body, r.ContentLength, contentType)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedImageType) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		slog.Error("image upload failed", "error", err)
		writeError(w, http.StatusBadGateway, "image upload failed")
		return
	}
	url, err := s.images.ImageURL(r.Context(), key)
	if err != nil {
		slog.Error("presign failed", "error", err)
		writeError(w, http.StatusBadGateway, "image upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Key: key, URL: url})
}

// handleImageDelete removes a previously uploaded image by its object key.
func (s *Server) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.images.DeleteImage(r.Context(), key); err != nil {
		slog.Error("image delete failed", "error", err)
		writeError(w, http.StatusBadGateway, "image delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
