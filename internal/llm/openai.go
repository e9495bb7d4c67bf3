package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ProviderConfig holds connection settings for a chat provider.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	MaxTokens  int // 0 = provider default
	MaxRetries int // openai-go only; 0 keeps the SDK default
}

// OpenAI is a Gateway backed by the OpenAI chat completions API.
type OpenAI struct {
	client    openai.Client
	maxTokens int
	tracker   *CostTracker
}

// NewOpenAI creates an OpenAI provider. tracker may be nil.
func NewOpenAI(cfg ProviderConfig, tracker *CostTracker) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai: API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	} else if cfg.MaxRetries < 0 {
		opts = append(opts, option.WithMaxRetries(0))
	}
	return &OpenAI{
		client:    openai.NewClient(opts...),
		maxTokens: cfg.MaxTokens,
		tracker:   tracker,
	}, nil
}

// Generate implements Gateway.
func (p *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Transcript)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, t := range req.Transcript {
		if t.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(t.Content))
		} else {
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &GatewayError{Provider: "openai", Model: req.Model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GatewayError{Provider: "openai", Model: req.Model, Err: ErrEmptyResponse}
	}

	p.tracker.Track(ctx, "openai", req.Model, int(resp.Usage.TotalTokens), time.Since(start))
	return resp.Choices[0].Message.Content, nil
}
