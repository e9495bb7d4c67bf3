package llm

import (
	"context"
	"fmt"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultDeepSeekBaseURL is the OpenAI-compatible DeepSeek endpoint.
const DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"

// chatCompleter abstracts the go-openai client method we use, enabling test mocks.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// DeepSeek is a Gateway backed by DeepSeek's OpenAI-compatible API.
type DeepSeek struct {
	client    chatCompleter
	maxTokens int
	tracker   *CostTracker
}

// NewDeepSeek creates a DeepSeek provider. tracker may be nil.
func NewDeepSeek(cfg ProviderConfig, tracker *CostTracker) (*DeepSeek, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: deepseek: API key is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = DefaultDeepSeekBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &DeepSeek{
		client:    goopenai.NewClientWithConfig(clientCfg),
		maxTokens: cfg.MaxTokens,
		tracker:   tracker,
	}, nil
}

// Generate implements Gateway.
func (p *DeepSeek) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Transcript)+1)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, t := range req.Transcript {
		role := goopenai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return "", &GatewayError{Provider: "deepseek", Model: req.Model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GatewayError{Provider: "deepseek", Model: req.Model, Err: ErrEmptyResponse}
	}

	p.tracker.Track(ctx, "deepseek", req.Model, resp.Usage.TotalTokens, time.Since(start))
	return resp.Choices[0].Message.Content, nil
}
