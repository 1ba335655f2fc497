// Package genai provides the AI conversation backends used after intake
// completes: Gemini (default) and OpenAI, behind a common client interface.
package genai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Default generation settings shared by the backends.
const (
	// DefaultGeminiModel is the Gemini model used when none is configured.
	DefaultGeminiModel = "gemini-2.5-flash"
	// DefaultMaxHistory bounds the per-session conversation history kept in
	// memory for context. Older turns are dropped pairwise.
	DefaultMaxHistory = 20
)

// ClientInterface defines the GenAI operations the conversation controller
// depends on. Generate produces an assistant reply to message within the
// session's running conversation; sessionContext carries the intake answers
// (name, area_of_law, situation, platform) used to personalize replies.
type ClientInterface interface {
	Generate(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error)
	Close() error
}

// Opts holds configuration options for GenAI clients.
type Opts struct {
	APIKey       string
	Model        string
	SystemPrompt string
	MaxHistory   int
}

// Option defines a configuration option for GenAI clients.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider model id.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt overrides the default assistant system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithMaxHistory bounds the per-session history length.
func WithMaxHistory(n int) Option {
	return func(o *Opts) { o.MaxHistory = n }
}

// DefaultSystemPrompt instructs the assistant after the structured intake is
// done: answer in Portuguese, stay in the legal-assistant role, never promise
// outcomes, and steer toward the follow-up the team will make.
const DefaultSystemPrompt = `Você é um assistente virtual de um escritório de advocacia brasileiro.
O cliente já completou o cadastro inicial e nossa equipe entrará em contato em breve.
Responda sempre em português, de forma acolhedora e profissional.
Você pode esclarecer dúvidas jurídicas gerais, mas nunca prometa resultados
nem dê aconselhamento jurídico definitivo; casos concretos serão tratados
pelo advogado responsável. Mantenha as respostas curtas e objetivas.`

// contextPreamble renders the intake answers as extra system context.
// Only known keys are included, in a fixed order.
func contextPreamble(sessionContext map[string]string) string {
	if len(sessionContext) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Dados do cliente coletados no atendimento:\n")
	for _, k := range []string{"name", "area_of_law", "situation", "platform"} {
		if v := strings.TrimSpace(sessionContext[k]); v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	return b.String()
}

// history is a bounded per-session transcript shared by the backends.
type history struct {
	mu       sync.Mutex
	max      int
	sessions map[string][]turn
}

type turn struct {
	role    string // "user" or "assistant"
	content string
}

func newHistory(max int) *history {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &history{max: max, sessions: make(map[string][]turn)}
}

// snapshot returns a copy of the session transcript.
func (h *history) snapshot(sessionID string) []turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := h.sessions[sessionID]
	out := make([]turn, len(turns))
	copy(out, turns)
	return out
}

// record appends a user/assistant exchange, trimming the oldest turns once
// the bound is exceeded.
func (h *history) record(sessionID, userMsg, assistantMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append(h.sessions[sessionID], turn{role: "user", content: userMsg}, turn{role: "assistant", content: assistantMsg})
	if len(turns) > h.max {
		turns = turns[len(turns)-h.max:]
	}
	h.sessions[sessionID] = turns
}

// MockClient is a test double implementing ClientInterface.
type MockClient struct {
	GenerateFn func(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error)
	Calls      int
}

// Generate returns the configured response, counting invocations.
func (m *MockClient) Generate(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error) {
	m.Calls++
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, message, sessionID, sessionContext)
	}
	return "mock response", nil
}

// Close is a no-op for the mock.
func (m *MockClient) Close() error { return nil }
