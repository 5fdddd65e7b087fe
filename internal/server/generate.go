package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"promptpix/pkg/ai"
	"promptpix/pkg/domain"
)

// imageRef is the wire shape for images on generation requests: either
// inline base64 data or a URL fetched through the image proxy machinery.
type imageRef struct {
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

type imageToPromptRequest struct {
	Image     imageRef           `json:"image"`
	Style     domain.PromptStyle `json:"style"`
	WordCount int                `json:"wordCount"`
	Language  string             `json:"language"`
	Quality   string             `json:"quality"`
	Relaxed   bool               `json:"relaxedSafety"`
}

type analyzeImageRequest struct {
	Image    imageRef `json:"image"`
	Question string   `json:"question"`
	Language string   `json:"language"`
	Relaxed  bool     `json:"relaxedSafety"`
}

type chatRequest struct {
	Messages []ai.ChatMessage `json:"messages"`
	Relaxed  bool             `json:"relaxedSafety"`
}

type buildPromptRequest struct {
	Subject   string             `json:"subject"`
	Tags      []string           `json:"tags"`
	Style     domain.PromptStyle `json:"style"`
	WordCount int                `json:"wordCount"`
	Relaxed   bool               `json:"relaxedSafety"`
}

// gatewayReady gates every generation endpoint on a configured API key.
func (s *Server) gatewayReady(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return false
	}
	if s.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "generation not configured")
		return false
	}
	if !s.allowRate(s.generateLimiter, r) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return false
	}
	return true
}

// resolveImage turns an image reference into inline input, fetching URL
// references through the proxy fetcher.
func (s *Server) resolveImage(ctx context.Context, ref imageRef) (ai.ImageInput, error) {
	if ref.URL == "" {
		return ai.ImageInput{Data: ref.Data, MimeType: ref.MimeType}, nil
	}
	if s.fetcher == nil {
		return ai.ImageInput{}, errors.New("image fetching not configured")
	}
	result, err := s.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return ai.ImageInput{}, err
	}
	defer result.Body.Close()
	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return ai.ImageInput{}, err
	}
	return ai.ImageInput{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MimeType: result.ContentType,
	}, nil
}

func (s *Server) handleImageToPrompt(w http.ResponseWriter, r *http.Request) {
	if !s.gatewayReady(w, r) {
		return
	}
	var req imageToPromptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 32<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	image, err := s.resolveImage(r.Context(), req.Image)
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	result, err := s.gateway.ImageToPrompt(r.Context(), ai.ImageToPromptRequest{
		Image:     image,
		Style:     req.Style,
		WordCount: req.WordCount,
		Language:  req.Language,
		Quality:   req.Quality,
		Safety:    ai.SafetyConfig{Relaxed: req.Relaxed},
	})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if !s.gatewayReady(w, r) {
		return
	}
	var req analyzeImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 32<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	image, err := s.resolveImage(r.Context(), req.Image)
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	result, err := s.gateway.AnalyzeImage(r.Context(), ai.AnalyzeImageRequest{
		Image:    image,
		Question: req.Question,
		Language: req.Language,
		Safety:   ai.SafetyConfig{Relaxed: req.Relaxed},
	})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.gatewayReady(w, r) {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.gateway.Chat(r.Context(), ai.ChatRequest{
		Messages: req.Messages,
		Safety:   ai.SafetyConfig{Relaxed: req.Relaxed},
	})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBuildPrompt(w http.ResponseWriter, r *http.Request) {
	if !s.gatewayReady(w, r) {
		return
	}
	var req buildPromptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.gateway.BuildPrompt(r.Context(), ai.BuildPromptRequest{
		Subject:   req.Subject,
		Tags:      req.Tags,
		Style:     req.Style,
		WordCount: req.WordCount,
		Safety:    ai.SafetyConfig{Relaxed: req.Relaxed},
	})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeGatewayError maps gateway failures to distinguishable statuses: bad
// input 400, safety block 422, everything upstream 502.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	var verr *ai.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ai.ErrBlocked):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ai.ErrEmptyResult):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("gateway call failed", "error", err)
		writeError(w, http.StatusBadGateway, "generation backend unavailable")
	}
}
