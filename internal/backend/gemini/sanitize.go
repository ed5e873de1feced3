package gemini

import "github.com/matheus3301/hybridmind/internal/backend"

// SanitizeHistory rewrites stored turns into the strict alternation the
// Gemini chat API requires: user first, then model, alternating, never
// ending on a user turn. System turns and anything out of order is dropped
// rather than rejected, so a history polluted by error placeholders still
// produces a usable conversation.
func SanitizeHistory(history []backend.Turn) []backend.Turn {
	out := make([]backend.Turn, 0, len(history))
	expected := backend.RoleUser
	for _, t := range history {
		if t.Role == backend.RoleSystem {
			continue
		}
		if t.Role != expected {
			continue
		}
		out = append(out, t)
		if expected == backend.RoleUser {
			expected = backend.RoleModel
		} else {
			expected = backend.RoleUser
		}
	}
	// The new prompt supplies the next user turn; a trailing user turn here
	// would break alternation.
	if n := len(out); n > 0 && out[n-1].Role == backend.RoleUser {
		out = out[:n-1]
	}
	return out
}
