package narrative

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// Gemini narrates routes with Google's Gemini models
type Gemini struct {
	apiKey string
	model  string

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGemini creates a Gemini narrator. No client is created until the first
// narrative is requested.
func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{apiKey: apiKey, model: model}
}

func (g *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		if g.apiKey == "" {
			g.initErr = fmt.Errorf("gemini: %w", ErrNotConfigured)
			return
		}
		// Detached from ctx so one cancelled request can't poison the shared client
		client, err := genai.NewClient(context.WithoutCancel(ctx), option.WithAPIKey(g.apiKey))
		if err != nil {
			g.initErr = fmt.Errorf("failed to create Gemini client: %w", err)
			return
		}
		g.client = client
	})
	return g.client, g.initErr
}

// Narrate implements Narrator
func (g *Gemini) Narrate(ctx context.Context, origin, destination string, lang language.Tag) (string, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.model)
	model.SetTemperature(0.8)
	model.SetMaxOutputTokens(800)

	resp, err := model.GenerateContent(ctx, genai.Text(BuildPrompt(origin, destination, lang)))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// Close releases the underlying client, if one was created
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
