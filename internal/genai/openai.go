package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements ClientInterface over the OpenAI chat completions
// API. It serves as the alternative backend when Gemini is not configured.
type OpenAIClient struct {
	client       openai.Client
	model        openai.ChatModel
	systemPrompt string
	history      *history
}

// NewOpenAIClient creates an OpenAI-backed client. An API key is required.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai API key not set")
	}
	model := openai.ChatModelGPT4oMini
	if cfg.Model != "" {
		model = openai.ChatModel(cfg.Model)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	slog.Debug("OpenAIClient created", "model", model)
	return &OpenAIClient{
		client:       openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		history:      newHistory(cfg.MaxHistory),
	}, nil
}

// Generate produces an assistant reply within the session's conversation.
func (c *OpenAIClient) Generate(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error) {
	system := c.systemPrompt
	if preamble := contextPreamble(sessionContext); preamble != "" {
		system = system + "\n\n" + preamble
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
	}
	for _, t := range c.history.snapshot(sessionID) {
		if t.role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.content))
		} else {
			messages = append(messages, openai.UserMessage(t.content))
		}
	}
	messages = append(messages, openai.UserMessage(message))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("OpenAIClient generation failed", "error", err, "sessionID", sessionID)
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("openai returned empty content")
	}

	c.history.record(sessionID, message, reply)
	slog.Debug("OpenAIClient generated reply", "sessionID", sessionID, "chars", len(reply))
	return reply, nil
}

// Close is a no-op; the OpenAI client holds no persistent resources.
func (c *OpenAIClient) Close() error { return nil }
