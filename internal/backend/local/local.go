package local

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/hybridmind/internal/backend"
	"github.com/matheus3301/hybridmind/internal/engine"
	"go.uber.org/zap"
)

// historyWindow caps how many prior turns fit the on-device context window.
const historyWindow = 6

// Adapter generates replies on the local engine. History is folded into a
// single tagged prompt; images are represented by a caption obtained from
// the vision model, since the text model cannot see pixels.
type Adapter struct {
	engine    *engine.Engine
	captioner engine.Captioner
	logger    *zap.Logger
}

func New(eng *engine.Engine, captioner engine.Captioner, logger *zap.Logger) *Adapter {
	return &Adapter{engine: eng, captioner: captioner, logger: logger}
}

// Name implements backend.Backend.
func (a *Adapter) Name() string { return "local" }

// Generate implements backend.Backend.
func (a *Adapter) Generate(ctx context.Context, req backend.Request) (string, error) {
	prompt := req.Prompt
	if req.ImagePath != "" && a.captioner != nil {
		if labels, err := a.captioner.Caption(ctx, req.ImagePath); err == nil && labels != "" {
			prompt = fmt.Sprintf("Context: The user has uploaded an image containing: %s.\n\nUser: %s", labels, prompt)
		} else if a.logger != nil {
			a.logger.Warn("image caption unavailable, sending prompt as-is", zap.Error(err))
		}
	}

	reply, err := a.engine.Generate(ctx, RenderPrompt(req.History, prompt))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// RenderPrompt folds the most recent turns and the new prompt into the
// turn-tagged format the on-device model was trained on, ending with an open
// model tag for it to complete.
func RenderPrompt(history []backend.Turn, prompt string) string {
	kept := make([]backend.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == backend.RoleSystem {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) > historyWindow {
		kept = kept[len(kept)-historyWindow:]
	}

	var sb strings.Builder
	for _, t := range kept {
		writeTurn(&sb, t.Role, t.Content)
	}
	writeTurn(&sb, backend.RoleUser, prompt)
	sb.WriteString("<start_of_turn>model\n")
	return sb.String()
}

func writeTurn(sb *strings.Builder, role, content string) {
	sb.WriteString("<start_of_turn>")
	sb.WriteString(role)
	sb.WriteString("\n")
	sb.WriteString(content)
	sb.WriteString("<end_of_turn>\n")
}
