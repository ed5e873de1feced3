package cloudsync

import "context"

// SessionDoc mirrors the remote session document fields.
type SessionDoc struct {
	ID          string
	Title       string
	OfflineOnly bool
	LastUpdated int64
}

// MessageDoc mirrors the remote message document fields.
type MessageDoc struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt int64
}

// DocStore is the remote per-user document hierarchy
// (users/{uid}/sessions/{sid}/messages/{mid}). Writes are idempotent
// full-document overwrites keyed by the same ids used locally, so replays
// and out-of-order arrivals converge to the same state. The remote store is
// a projection target, never an authoritative copy.
type DocStore interface {
	SetSession(ctx context.Context, userID string, s SessionDoc) error
	SetMessage(ctx context.Context, userID string, m MessageDoc) error
	// DeleteSession removes child message documents before the parent.
	DeleteSession(ctx context.Context, userID, sessionID string) error
	FetchSessions(ctx context.Context, userID string) ([]SessionDoc, error)
	FetchMessages(ctx context.Context, userID, sessionID string) ([]MessageDoc, error)
}

// Disabled is a DocStore that drops writes and returns nothing. Used when no
// sync project is configured.
type Disabled struct{}

func (Disabled) SetSession(context.Context, string, SessionDoc) error { return nil }
func (Disabled) SetMessage(context.Context, string, MessageDoc) error { return nil }
func (Disabled) DeleteSession(context.Context, string, string) error  { return nil }
func (Disabled) FetchSessions(context.Context, string) ([]SessionDoc, error) {
	return nil, nil
}
func (Disabled) FetchMessages(context.Context, string, string) ([]MessageDoc, error) {
	return nil, nil
}
