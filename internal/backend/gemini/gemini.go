package gemini

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matheus3301/hybridmind/internal/backend"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Adapter generates replies through the hosted Gemini API. Each call opens a
// fresh chat seeded with the sanitized history, so a single bad turn in
// storage never wedges the session.
type Adapter struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func New(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Adapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Adapter{client: client, model: model, logger: logger}, nil
}

// Name implements backend.Backend.
func (a *Adapter) Name() string { return "gemini" }

// Generate implements backend.Backend.
func (a *Adapter) Generate(ctx context.Context, req backend.Request) (string, error) {
	history := a.buildHistory(SanitizeHistory(req.History))

	chat, err := a.client.Chats.Create(ctx, a.model, nil, history)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	parts := []genai.Part{{Text: req.Prompt}}
	if req.ImagePath != "" {
		if blob, err := readImage(req.ImagePath); err == nil {
			parts = append(parts, genai.Part{InlineData: blob})
		} else if a.logger != nil {
			a.logger.Warn("prompt image unreadable, sending text only",
				zap.String("path", req.ImagePath), zap.Error(err))
		}
	}

	resp, err := chat.SendMessage(ctx, parts...)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// buildHistory converts sanitized turns to API content. History images are
// reloaded from disk best effort: a pruned or missing file downgrades that
// turn to text rather than failing the whole generation.
func (a *Adapter) buildHistory(turns []backend.Turn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		parts := []*genai.Part{{Text: t.Content}}
		if t.ImagePath != "" {
			if blob, err := readImage(t.ImagePath); err == nil {
				parts = append(parts, &genai.Part{InlineData: blob})
			} else if a.logger != nil {
				a.logger.Warn("history image unreadable, sending text only",
					zap.String("path", t.ImagePath), zap.Error(err))
			}
		}
		history = append(history, &genai.Content{Role: t.Role, Parts: parts})
	}
	return history
}

func readImage(path string) (*genai.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &genai.Blob{MIMEType: mimeFor(path), Data: data}, nil
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
