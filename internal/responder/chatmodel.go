package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ChatModelResponder runs a prompt template and an eino chat model as a chain.
type ChatModelResponder struct {
	name         string
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewChatModelResponder compiles the prompt+model chain once.
func NewChatModelResponder(ctx context.Context, name string, chatModel model.ChatModel, systemPrompt string) (*ChatModelResponder, error) {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	// Змінні підставляються як є, тож фігурні дужки в контексті безпечні.
	tpl := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile responder chain: %w", err)
	}

	return &ChatModelResponder{
		name:         name,
		systemPrompt: systemPrompt,
		chain:        runnable,
	}, nil
}

func (r *ChatModelResponder) Answer(ctx context.Context, question, knowledge string) (string, error) {
	msg, err := r.chain.Invoke(ctx, map[string]any{
		"system": r.systemPrompt,
		"prompt": userPrompt(question, knowledge),
	})
	if err != nil {
		return "", &Error{Backend: r.name, Err: err}
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", &Error{Backend: r.name, Err: errEmptyAnswer}
	}
	return strings.TrimSpace(msg.Content), nil
}

// ArkConfig налаштовує Volcengine Ark бекенд.
type ArkConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
}

// NewArkResponder builds a ChatModelResponder on top of an Ark chat model.
func NewArkResponder(ctx context.Context, cfg ArkConfig) (*ChatModelResponder, error) {
	temperature := float32(DefaultTemperature)
	maxTokens := DefaultMaxTokens

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ark chat model: %w", err)
	}
	return NewChatModelResponder(ctx, "ark", chatModel, cfg.SystemPrompt)
}
