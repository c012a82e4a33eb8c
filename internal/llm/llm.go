package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/config"
)

var (
	ErrEmptyResponse = errors.New("empty completion")
	ErrInvalidJSON   = errors.New("invalid model json")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func User(content string) []Message { return []Message{{Role: "user", Content: content}} }

// Client is a chat model that can also look at a single image.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	ChatWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	Model() string
}

// New returns the client selected by AI_PROVIDER.
func New(ctx context.Context, s *config.Settings, logger *zap.SugaredLogger) (Client, error) {
	switch s.AIProvider {
	case config.ProviderOpenAI, "":
		return NewOpenAI(OpenAIConfig{APIKey: s.OpenAIAPIKey, BaseURL: s.OpenAIAPIBase, Model: s.OpenAIModel, Logger: logger}), nil
	case config.ProviderGemini:
		return NewGemini(ctx, s.GeminiAPIKey, s.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", s.AIProvider)
	}
}

// ExtractJSON returns the body of the first ```json fence, else the first
// ``` fence, else the trimmed input.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		return fenceBody(s, i+len("```json"))
	}
	if i := strings.Index(s, "```"); i >= 0 {
		return fenceBody(s, i+3)
	}
	return s
}

func fenceBody(s string, start int) string {
	rest := s[start:]
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ChatJSON sends prompt and decodes the fenced JSON answer into v.
func ChatJSON(ctx context.Context, c Client, prompt string, v interface{}) error {
	resp, err := c.Chat(ctx, User(prompt))
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp) == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(ExtractJSON(resp)), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}
