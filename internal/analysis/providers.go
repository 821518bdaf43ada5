package analysis

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hpungsan/focus/internal/config"
	"github.com/hpungsan/focus/internal/errors"
)

// Default models per provider, used when config leaves Model empty.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-4o"
)

const defaultMaxTokens = 1024

// NewClient builds the provider client selected in cfg.
func NewClient(cfg *config.Config) (Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("no API key configured for provider %q", cfg.Provider))
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicClient(apiKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(apiKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens), nil
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// AnthropicClient calls the Messages API with an inline base64 image.
type AnthropicClient struct {
	msgs      *anthropic.MessageService
	model     string
	maxTokens int
}

// NewAnthropicClient creates a client. SDK retries are off; the gateway owns retries.
func NewAnthropicClient(apiKey, baseURL, model string, maxTokens int) *AnthropicClient {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		msgs:      &client.Messages,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, image []byte, mediaType string) (string, error) {
	msg, err := c.msgs.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, ""), nil
}

// OpenAIClient calls Chat Completions with a data-URL image. Any
// OpenAI-compatible endpoint works through BaseURL.
type OpenAIClient struct {
	completions *openai.ChatCompletionService
	model       string
	maxTokens   int
}

// NewOpenAIClient creates a client. SDK retries are off; the gateway owns retries.
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int) *OpenAIClient {
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	client := openai.NewClient(opts...)
	return &OpenAIClient{
		completions: &client.Chat.Completions,
		model:       model,
		maxTokens:   maxTokens,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, image []byte, mediaType string) (string, error) {
	dataURL := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(image)

	completion, err := c.completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		MaxCompletionTokens: openai.Int(int64(c.maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", stderrors.New("provider returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
