package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoGenerator generates through an eino chat model.
type EinoGenerator struct {
	model  model.BaseChatModel
	logger *slog.Logger
}

// NewEinoGenerator wraps an existing eino chat model.
func NewEinoGenerator(m model.BaseChatModel, logger *slog.Logger) *EinoGenerator {
	return &EinoGenerator{model: m, logger: logger.With("component", "llm_client", "provider", string(ProviderEino))}
}

// NewEinoOpenAI builds an eino OpenAI-compatible chat model.
func NewEinoOpenAI(ctx context.Context, baseURL, apiKey, modelName string, logger *slog.Logger) (*EinoGenerator, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("init eino chat model: %w", err)
	}
	return NewEinoGenerator(cm, logger), nil
}

// Name implements Generator.
func (g *EinoGenerator) Name() string { return string(ProviderEino) }

// Generate implements Generator.
func (g *EinoGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	var messages []*schema.Message
	if p.System != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: p.System})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: p.User})

	resp, err := g.model.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}
