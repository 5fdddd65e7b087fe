package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeGemini records the last request body and path and serves a canned
// response per call.
type fakeGemini struct {
	server   *httptest.Server
	lastPath string
	lastBody generateRequest
	respond  func(w http.ResponseWriter)
}

func newFakeGemini(t *testing.T) *fakeGemini {
	t.Helper()
	f := &fakeGemini{}
	f.respond = func(w http.ResponseWriter) {
		writeCandidates(w, "a scenic mountain at golden hour")
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&f.lastBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.respond(w)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGemini) client(t *testing.T) *GeminiClient {
	t.Helper()
	c, err := NewGeminiClient("test-key", WithBaseURL(f.server.URL))
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}
	return c
}

func writeCandidates(w http.ResponseWriter, text string) {
	resp := generateResponse{
		Candidates: []candidate{{
			Content:      content{Role: "model", Parts: []part{{Text: text}}},
			FinishReason: "STOP",
		}},
	}
	json.NewEncoder(w).Encode(resp)
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient("  "); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestGenerateContent(t *testing.T) {
	fake := newFakeGemini(t)
	c := fake.client(t)

	text, err := c.GenerateContent(context.Background(), ModelFlashLite, "system prompt",
		[]Part{ImagePart("image/png", "aGVsbG8="), TextPart("describe this")}, SafetyConfig{})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if text != "a scenic mountain at golden hour" {
		t.Fatalf("unexpected text %q", text)
	}
	if !strings.Contains(fake.lastPath, "models/"+ModelFlashLite) {
		t.Fatalf("unexpected path %q", fake.lastPath)
	}
	if fake.lastBody.SystemInstruction == nil || fake.lastBody.SystemInstruction.Parts[0].Text != "system prompt" {
		t.Fatal("system instruction not sent")
	}
	if len(fake.lastBody.Contents) != 1 || len(fake.lastBody.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents %+v", fake.lastBody.Contents)
	}
	if fake.lastBody.Contents[0].Parts[0].InlineData == nil {
		t.Fatal("image part lost inline data")
	}
}

func TestGenerateContentSafetyThresholds(t *testing.T) {
	fake := newFakeGemini(t)
	c := fake.client(t)

	if _, err := c.GenerateContent(context.Background(), ModelFlashLite, "", []Part{TextPart("hi")}, SafetyConfig{Relaxed: true}); err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if len(fake.lastBody.SafetySettings) != 4 {
		t.Fatalf("expected 4 safety settings, got %d", len(fake.lastBody.SafetySettings))
	}
	for _, s := range fake.lastBody.SafetySettings {
		if s.Threshold != "BLOCK_ONLY_HIGH" {
			t.Fatalf("relaxed mode sent threshold %q", s.Threshold)
		}
	}
}

func TestGenerateContentBlockedPrompt(t *testing.T) {
	fake := newFakeGemini(t)
	fake.respond = func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(generateResponse{
			PromptFeedback: &promptFeedback{BlockReason: "SAFETY"},
		})
	}
	c := fake.client(t)

	_, err := c.GenerateContent(context.Background(), ModelFlashLite, "", []Part{TextPart("hi")}, SafetyConfig{})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestGenerateContentBlockedCandidate(t *testing.T) {
	fake := newFakeGemini(t)
	fake.respond = func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(generateResponse{
			Candidates: []candidate{{FinishReason: "SAFETY"}},
		})
	}
	c := fake.client(t)

	_, err := c.GenerateContent(context.Background(), ModelFlashLite, "", []Part{TextPart("hi")}, SafetyConfig{})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestGenerateContentEmptyResult(t *testing.T) {
	fake := newFakeGemini(t)
	fake.respond = func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(generateResponse{})
	}
	c := fake.client(t)

	_, err := c.GenerateContent(context.Background(), ModelFlashLite, "", []Part{TextPart("hi")}, SafetyConfig{})
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestGenerateContentBlankText(t *testing.T) {
	fake := newFakeGemini(t)
	fake.respond = func(w http.ResponseWriter) {
		writeCandidates(w, "   ")
	}
	c := fake.client(t)

	_, err := c.GenerateContent(context.Background(), ModelFlashLite, "", []Part{TextPart("hi")}, SafetyConfig{})
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestGenerateContentAPIError(t *testing.T) {
	fake := newFakeGemini(t)
	fake.respond = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "quota exceeded"}})
	}
	c := fake.client(t)

	_, err := c.GenerateContent(context.Background(), ModelFlashLite, "", []Part{TextPart("hi")}, SafetyConfig{})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected upstream error message, got %v", err)
	}
}

func TestGenerateChatRoles(t *testing.T) {
	fake := newFakeGemini(t)
	c := fake.client(t)

	_, err := c.GenerateChat(context.Background(), ModelFlashLite, "", []Turn{
		{Role: "user", Text: "hello"},
		{Role: "model", Text: "hi there"},
		{Role: "user", Text: "write me a prompt"},
	}, SafetyConfig{})
	if err != nil {
		t.Fatalf("GenerateChat: %v", err)
	}
	if len(fake.lastBody.Contents) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(fake.lastBody.Contents))
	}
	if fake.lastBody.Contents[1].Role != "model" {
		t.Fatalf("turn role not preserved: %+v", fake.lastBody.Contents[1])
	}
}

func TestNormalizeModel(t *testing.T) {
	if got := normalizeModel("models/gemini-2.0-flash"); got != "gemini-2.0-flash" {
		t.Fatalf("normalizeModel = %q", got)
	}
}
