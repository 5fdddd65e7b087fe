package ai

import (
	"context"
	"fmt"
	"strings"

	"promptpix/pkg/domain"
)

// Word-count bounds for generated prompts.
const (
	MinWordCount     = 20
	MaxWordCount     = 200
	DefaultWordCount = 100
)

const defaultLanguage = "English"

// ValidationError reports a malformed or out-of-range request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Gateway wraps the Gemini client with the typed generation operations the
// API exposes. Operations validate input, make exactly one upstream call,
// and never touch storage or credits; charging is the caller's concern.
type Gateway struct {
	client    *GeminiClient
	liteModel string
	proModel  string
}

// NewGateway binds a client to the configured model pair.
func NewGateway(client *GeminiClient, liteModel, proModel string) *Gateway {
	if strings.TrimSpace(liteModel) == "" {
		liteModel = ModelFlashLite
	}
	if strings.TrimSpace(proModel) == "" {
		proModel = ModelFlash
	}
	return &Gateway{client: client, liteModel: liteModel, proModel: proModel}
}

// pickModel selects the capable model only when the caller asks for it.
func (g *Gateway) pickModel(quality string) string {
	if strings.EqualFold(strings.TrimSpace(quality), "high") {
		return g.proModel
	}
	return g.liteModel
}

// ImageInput is a base64-encoded image and its media type.
type ImageInput struct {
	MimeType string
	Data     string
}

func (in ImageInput) validate() error {
	if strings.TrimSpace(in.Data) == "" {
		return invalid("image", "image data is required")
	}
	if !strings.HasPrefix(in.MimeType, "image/") {
		return invalid("imageMime", "media type must be an image")
	}
	return nil
}

// ImageToPromptRequest describes one image-to-prompt call.
type ImageToPromptRequest struct {
	Image     ImageInput
	Style     domain.PromptStyle // defaults to StyleNormal
	WordCount int                // 0 means DefaultWordCount
	Language  string             // defaults to English
	Quality   string             // "high" selects the capable model
	Safety    SafetyConfig
}

type ImageToPromptResult struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// ImageToPrompt turns an image into a generation prompt in the target style.
func (g *Gateway) ImageToPrompt(ctx context.Context, req ImageToPromptRequest) (ImageToPromptResult, error) {
	if err := req.Image.validate(); err != nil {
		return ImageToPromptResult{}, err
	}
	style, err := normalizeStyle(req.Style)
	if err != nil {
		return ImageToPromptResult{}, err
	}
	wordCount, err := normalizeWordCount(req.WordCount)
	if err != nil {
		return ImageToPromptResult{}, err
	}
	language := req.Language
	if strings.TrimSpace(language) == "" {
		language = defaultLanguage
	}

	instruction := fmt.Sprintf(
		"Study the image and write a %s generation prompt of roughly %d words in %s. Respond with the prompt text only, no preamble.",
		styleLabel(style), wordCount, language,
	)
	model := g.pickModel(req.Quality)
	text, err := g.client.GenerateContent(ctx, model, styleSystemPrompt(style),
		[]Part{ImagePart(req.Image.MimeType, req.Image.Data), TextPart(instruction)}, req.Safety)
	if err != nil {
		return ImageToPromptResult{}, err
	}
	return ImageToPromptResult{Prompt: strings.TrimSpace(text), Model: model}, nil
}

// AnalyzeImageRequest describes one image analysis call.
type AnalyzeImageRequest struct {
	Image    ImageInput
	Question string // optional focus question
	Language string
	Safety   SafetyConfig
}

type AnalyzeImageResult struct {
	Analysis string `json:"analysis"`
	Model    string `json:"model"`
}

// AnalyzeImage describes the content, composition and mood of an image.
func (g *Gateway) AnalyzeImage(ctx context.Context, req AnalyzeImageRequest) (AnalyzeImageResult, error) {
	if err := req.Image.validate(); err != nil {
		return AnalyzeImageResult{}, err
	}
	language := req.Language
	if strings.TrimSpace(language) == "" {
		language = defaultLanguage
	}
	instruction := fmt.Sprintf("Describe the subject, composition, lighting and mood of this image in %s.", language)
	if strings.TrimSpace(req.Question) != "" {
		instruction = fmt.Sprintf("%s Pay particular attention to: %s", instruction, strings.TrimSpace(req.Question))
	}
	model := g.liteModel
	text, err := g.client.GenerateContent(ctx, model, analyzeSystemPrompt,
		[]Part{ImagePart(req.Image.MimeType, req.Image.Data), TextPart(instruction)}, req.Safety)
	if err != nil {
		return AnalyzeImageResult{}, err
	}
	return AnalyzeImageResult{Analysis: strings.TrimSpace(text), Model: model}, nil
}

// ChatMessage is one turn of the assistant conversation.
type ChatMessage struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// ChatRequest carries the conversation so far; the last message must be from
// the user.
type ChatRequest struct {
	Messages []ChatMessage
	Safety   SafetyConfig
}

type ChatResult struct {
	Reply string `json:"reply"`
	Model string `json:"model"`
}

// Chat produces the assistant's next reply.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if len(req.Messages) == 0 {
		return ChatResult{}, invalid("messages", "at least one message is required")
	}
	turns := make([]Turn, 0, len(req.Messages))
	for i, msg := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role != "user" && role != "model" {
			return ChatResult{}, invalid("messages", fmt.Sprintf("message %d has invalid role %q", i, msg.Role))
		}
		if strings.TrimSpace(msg.Text) == "" {
			return ChatResult{}, invalid("messages", fmt.Sprintf("message %d is empty", i))
		}
		turns = append(turns, Turn{Role: role, Text: msg.Text})
	}
	if turns[len(turns)-1].Role != "user" {
		return ChatResult{}, invalid("messages", "last message must be from the user")
	}
	model := g.liteModel
	text, err := g.client.GenerateChat(ctx, model, chatSystemPrompt, turns, req.Safety)
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Reply: strings.TrimSpace(text), Model: model}, nil
}

// BuildPromptRequest composes a prompt from a subject and selected tags.
type BuildPromptRequest struct {
	Subject   string
	Tags      []string
	Style     domain.PromptStyle
	WordCount int
	Safety    SafetyConfig
}

type BuildPromptResult struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// BuildPrompt expands a subject plus style tags into a full prompt.
func (g *Gateway) BuildPrompt(ctx context.Context, req BuildPromptRequest) (BuildPromptResult, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return BuildPromptResult{}, invalid("subject", "subject is required")
	}
	style, err := normalizeStyle(req.Style)
	if err != nil {
		return BuildPromptResult{}, err
	}
	wordCount, err := normalizeWordCount(req.WordCount)
	if err != nil {
		return BuildPromptResult{}, err
	}
	tags := make([]string, 0, len(req.Tags))
	for _, tag := range req.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	instruction := fmt.Sprintf(
		"Write a %s generation prompt of roughly %d words for the subject %q.",
		styleLabel(style), wordCount, subject,
	)
	if len(tags) > 0 {
		instruction = fmt.Sprintf("%s Incorporate these elements: %s.", instruction, strings.Join(tags, ", "))
	}
	instruction += " Respond with the prompt text only."
	model := g.liteModel
	text, err := g.client.GenerateContent(ctx, model, styleSystemPrompt(style),
		[]Part{TextPart(instruction)}, req.Safety)
	if err != nil {
		return BuildPromptResult{}, err
	}
	return BuildPromptResult{Prompt: strings.TrimSpace(text), Model: model}, nil
}

func normalizeStyle(style domain.PromptStyle) (domain.PromptStyle, error) {
	switch style {
	case "":
		return domain.StyleNormal, nil
	case domain.StyleNormal, domain.StyleMidjourney, domain.StyleStableDiffusion, domain.StyleFlux:
		return style, nil
	default:
		return "", invalid("style", fmt.Sprintf("unknown style %q", style))
	}
}

func normalizeWordCount(wordCount int) (int, error) {
	if wordCount == 0 {
		return DefaultWordCount, nil
	}
	if wordCount < MinWordCount || wordCount > MaxWordCount {
		return 0, invalid("wordCount", fmt.Sprintf("must be between %d and %d", MinWordCount, MaxWordCount))
	}
	return wordCount, nil
}

func styleLabel(style domain.PromptStyle) string {
	switch style {
	case domain.StyleMidjourney:
		return "Midjourney"
	case domain.StyleStableDiffusion:
		return "Stable Diffusion"
	case domain.StyleFlux:
		return "Flux"
	default:
		return "general-purpose"
	}
}

func styleSystemPrompt(style domain.PromptStyle) string {
	switch style {
	case domain.StyleMidjourney:
		return "You are an expert Midjourney prompt writer. Prompts are comma-separated descriptive phrases ending with relevant --ar and --v parameters."
	case domain.StyleStableDiffusion:
		return "You are an expert Stable Diffusion prompt writer. Prompts are dense comma-separated keyword phrases emphasizing subject, style, lighting and quality tags."
	case domain.StyleFlux:
		return "You are an expert Flux prompt writer. Prompts are flowing natural-language scene descriptions with concrete visual detail."
	default:
		return "You are an expert prompt writer for generative image models. Write vivid, concrete prompts."
	}
}

const analyzeSystemPrompt = "You are a careful visual analyst. Describe only what is visible in the image."

const chatSystemPrompt = "You are a helpful assistant for a prompt-building tool. Help users refine ideas for generative image prompts and answer questions concisely."
