package cloudsync

import (
	"context"
	"fmt"

	"github.com/matheus3301/hybridmind/internal/store"
)

// RestoreResult counts what a pull brought down.
type RestoreResult struct {
	Sessions int
	Messages int
}

// Restore pulls the user's remote sessions and messages into the local
// store. Meant for a fresh install; on an existing store the idempotent
// upserts make it a no-op for anything already present. Only syncable
// sessions ever reach the remote, so everything restored arrives with the
// ratchet unset.
func Restore(ctx context.Context, db *store.DB, remote DocStore, userID string) (*RestoreResult, error) {
	sessions, err := remote.FetchSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}

	var res RestoreResult
	for _, s := range sessions {
		if err := db.CreateSession(&store.Session{
			ID:          s.ID,
			UserID:      userID,
			Title:       s.Title,
			OfflineOnly: s.OfflineOnly,
			LastUpdated: s.LastUpdated,
		}); err != nil {
			return &res, fmt.Errorf("restore session %s: %w", s.ID, err)
		}
		res.Sessions++

		msgs, err := remote.FetchMessages(ctx, userID, s.ID)
		if err != nil {
			return &res, fmt.Errorf("fetch messages for %s: %w", s.ID, err)
		}
		for _, m := range msgs {
			if err := db.InsertMessage(&store.Message{
				ID:        m.ID,
				SessionID: s.ID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			}); err != nil {
				return &res, fmt.Errorf("restore message %s: %w", m.ID, err)
			}
			res.Messages++
		}
	}
	return &res, nil
}
