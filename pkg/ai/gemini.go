package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Known model identifiers. The lite model handles routine requests; the pro
// model is selected when the caller asks for higher quality output.
const (
	ModelFlashLite = "gemini-2.0-flash-lite"
	ModelFlash     = "gemini-2.0-flash"
)

var (
	// ErrBlocked signals that the model declined to produce output for
	// safety/policy reasons. Handlers surface it as a distinct error so the
	// user sees a specific message instead of a generic failure.
	ErrBlocked = errors.New("generation blocked by safety filters")

	// ErrEmptyResult signals a successful call that produced no usable text.
	ErrEmptyResult = errors.New("model returned no output")
)

// SafetyConfig selects the safety thresholds sent with each request.
// It is passed per call; there is no global toggle.
type SafetyConfig struct {
	// Relaxed raises every harm-category threshold to BLOCK_ONLY_HIGH.
	Relaxed bool
}

// Part is one piece of multimodal input: text, or inline image bytes.
type Part struct {
	Text     string
	MimeType string // set together with Data for inline images
	Data     string // base64-encoded image payload
}

// TextPart builds a text-only part.
func TextPart(text string) Part { return Part{Text: text} }

// ImagePart builds an inline image part from base64 data.
func ImagePart(mimeType, data string) Part { return Part{MimeType: mimeType, Data: data} }

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GeminiOption customizes the client.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.httpClient = client }
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(apiKey string, options ...GeminiOption) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	c := &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c, nil
}

// GenerateContent sends one generateContent call and returns the first
// candidate's text. Blocked or empty responses map to ErrBlocked and
// ErrEmptyResult. The call is never retried.
func (c *GeminiClient) GenerateContent(ctx context.Context, model, systemPrompt string, parts []Part, safety SafetyConfig) (string, error) {
	contents := []content{{Role: "user", Parts: wireParts(parts)}}
	return c.generate(ctx, model, systemPrompt, contents, safety)
}

// GenerateChat sends a multi-turn conversation and returns the reply text.
func (c *GeminiClient) GenerateChat(ctx context.Context, model, systemPrompt string, turns []Turn, safety SafetyConfig) (string, error) {
	contents := make([]content, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, content{
			Role:  turn.Role,
			Parts: []part{{Text: turn.Text}},
		})
	}
	return c.generate(ctx, model, systemPrompt, contents, safety)
}

// Turn is one prior message in a chat conversation.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

func (c *GeminiClient) generate(ctx context.Context, model, systemPrompt string, contents []content, safety SafetyConfig) (string, error) {
	reqBody := generateRequest{
		Contents:       contents,
		SafetySettings: safetySettings(safety),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		reqBody.SystemInstruction = &content{
			Parts: []part{{Text: systemPrompt}},
		}
	}
	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeModel(model), c.apiKey)
	if err := c.doJSON(ctx, url, reqBody, &resp); err != nil {
		return "", err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResult
	}
	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "", fmt.Errorf("%w: %s", ErrBlocked, candidate.FinishReason)
	}
	text := candidateText(candidate)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}

func candidateText(c candidate) string {
	var b strings.Builder
	for _, p := range c.Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func wireParts(parts []Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		if p.Data != "" {
			out = append(out, part{InlineData: &inlineData{MimeType: p.MimeType, Data: p.Data}})
			continue
		}
		out = append(out, part{Text: p.Text})
	}
	return out
}

var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

func safetySettings(cfg SafetyConfig) []safetySetting {
	threshold := "BLOCK_MEDIUM_AND_ABOVE"
	if cfg.Relaxed {
		threshold = "BLOCK_ONLY_HIGH"
	}
	settings := make([]safetySetting, 0, len(harmCategories))
	for _, category := range harmCategories {
		settings = append(settings, safetySetting{Category: category, Threshold: threshold})
	}
	return settings
}

func (c *GeminiClient) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("gemini api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateRequest struct {
	Contents          []content       `json:"contents"`
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	SafetySettings    []safetySetting `json:"safetySettings,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
