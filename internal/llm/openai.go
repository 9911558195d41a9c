package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIConfig struct {
	// Name labels errors; OpenAI-compatible gateways reuse this provider.
	Name       string
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
}

// OpenAIProvider speaks the chat completions API through the official SDK.
type OpenAIProvider struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	name := defaultIfEmpty(cfg.Name, "openai")
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL+"/"),
		option.WithMaxRetries(maxRetries),
		option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	)
	return &OpenAIProvider{
		name:    name,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		client:  client,
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if p.apiKey == "" {
		return "", &ModelError{Provider: p.name, Err: errors.New("missing API key for remote provider")}
	}
	if p.model == "" {
		return "", &ModelError{Provider: p.name, Err: errors.New("missing model for remote provider")}
	}
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			params = append(params, openai.SystemMessage(msg.Content))
		case "assistant":
			params = append(params, openai.ChatCompletionMessageParamOfAssistant(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: params,
	})
	if err != nil {
		modelErr := &ModelError{Provider: p.name, Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			modelErr.StatusCode = apiErr.StatusCode
		}
		return "", modelErr
	}
	if len(resp.Choices) == 0 {
		return "", &ModelError{Provider: p.name, Err: errors.New("response had no choices")}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &ModelError{Provider: p.name, Err: errors.New("response was empty")}
	}
	return content, nil
}
