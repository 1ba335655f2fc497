package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gemini "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient implements ClientInterface over Google's Gemini API. It is the
// default backend for the post-intake conversation.
type GeminiClient struct {
	client       *gemini.Client
	model        string
	systemPrompt string
	history      *history
}

// NewGeminiClient creates a Gemini-backed client. An API key is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	client, err := gemini.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	slog.Debug("GeminiClient created", "model", cfg.Model)
	return &GeminiClient{
		client:       client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		history:      newHistory(cfg.MaxHistory),
	}, nil
}

// Generate produces an assistant reply within the session's conversation.
func (c *GeminiClient) Generate(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error) {
	model := c.client.GenerativeModel(c.model)

	system := c.systemPrompt
	if preamble := contextPreamble(sessionContext); preamble != "" {
		system = system + "\n\n" + preamble
	}
	model.SystemInstruction = gemini.NewUserContent(gemini.Text(system))

	cs := model.StartChat()
	for _, t := range c.history.snapshot(sessionID) {
		role := "user"
		if t.role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &gemini.Content{
			Role:  role,
			Parts: []gemini.Part{gemini.Text(t.content)},
		})
	}

	resp, err := cs.SendMessage(ctx, gemini.Text(message))
	if err != nil {
		slog.Error("GeminiClient generation failed", "error", err, "sessionID", sessionID)
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(gemini.Text); ok {
			text.WriteString(string(t))
		}
	}
	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return "", fmt.Errorf("gemini returned no text parts")
	}

	c.history.record(sessionID, message, reply)
	slog.Debug("GeminiClient generated reply", "sessionID", sessionID, "chars", len(reply))
	return reply, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
