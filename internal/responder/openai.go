package responder

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4000
)

// OpenAIConfig налаштовує OpenAI-сумісний бекенд.
type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int64
}

// OpenAIResponder answers through any OpenAI-compatible chat completion API.
type OpenAIResponder struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIResponder(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAIResponder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	// Повтори вимкнені: таймаут виклику контролює WithTimeout.
	base := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	return &OpenAIResponder{
		client: openai.NewClient(append(base, opts...)...),
		cfg:    cfg,
	}
}

func (r *OpenAIResponder) Answer(ctx context.Context, question, knowledge string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(r.cfg.SystemPrompt),
			openai.UserMessage(userPrompt(question, knowledge)),
		}),
		Model:       openai.F(openai.ChatModel(r.cfg.Model)),
		Temperature: openai.F(r.cfg.Temperature),
		MaxTokens:   openai.F(r.cfg.MaxTokens),
	}

	completion, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &Error{Backend: "openai", Err: err}
	}
	if len(completion.Choices) == 0 {
		return "", &Error{Backend: "openai", Err: errors.New("response has no choices")}
	}

	answer := strings.TrimSpace(completion.Choices[0].Message.Content)
	if answer == "" {
		return "", &Error{Backend: "openai", Err: errEmptyAnswer}
	}
	return answer, nil
}
