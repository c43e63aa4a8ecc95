package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
)

const openAISystemPrompt = `You narrate simulated Street View drives. Write in the language the user asks for. Plain prose, no markdown, no headings, no lists.`

// OpenAI narrates routes with OpenAI chat models
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string

	once    sync.Once
	client  *openai.Client
	initErr error
}

// NewOpenAI creates an OpenAI narrator
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{apiKey: apiKey, model: model}
}

func (o *OpenAI) getClient() (*openai.Client, error) {
	o.once.Do(func() {
		if o.apiKey == "" {
			o.initErr = fmt.Errorf("openai: %w", ErrNotConfigured)
			return
		}
		cfg := openai.DefaultConfig(o.apiKey)
		if o.baseURL != "" {
			cfg.BaseURL = o.baseURL
		}
		o.client = openai.NewClientWithConfig(cfg)
	})
	return o.client, o.initErr
}

// Narrate implements Narrator
func (o *OpenAI) Narrate(ctx context.Context, origin, destination string, lang language.Tag) (string, error) {
	client, err := o.getClient()
	if err != nil {
		return "", err
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: openAISystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildPrompt(origin, destination, lang),
			},
		},
		Temperature: 0.8,
		MaxTokens:   800,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI API")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
