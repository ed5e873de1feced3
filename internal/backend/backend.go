package backend

import "context"

// Conversation roles as stored and as sent to backends.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Turn is one prior exchange in a conversation, in storage order.
type Turn struct {
	Role      string
	Content   string
	ImagePath string
}

// Request is a single generation call: the prior turns, the new prompt, and
// an optional image attached to the prompt.
type Request struct {
	History   []Turn
	Prompt    string
	ImagePath string
}

// Backend produces a model reply for a request. Implementations decide how
// much history they can carry and how images are represented.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}
