package cloudsync

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Firestore implements DocStore on a Firestore project.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to the given project using ambient credentials.
func NewFirestore(ctx context.Context, projectID string) (*Firestore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

// Close releases the underlying client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) sessionRef(userID, sessionID string) *firestore.DocumentRef {
	return f.client.Collection("users").Doc(userID).Collection("sessions").Doc(sessionID)
}

// SetSession overwrites the session document.
func (f *Firestore) SetSession(ctx context.Context, userID string, s SessionDoc) error {
	_, err := f.sessionRef(userID, s.ID).Set(ctx, map[string]any{
		"title":        s.Title,
		"offline_only": s.OfflineOnly,
		"last_updated": s.LastUpdated,
	})
	return err
}

// SetMessage overwrites the message document under its session.
func (f *Firestore) SetMessage(ctx context.Context, userID string, m MessageDoc) error {
	_, err := f.sessionRef(userID, m.SessionID).Collection("messages").Doc(m.ID).Set(ctx, map[string]any{
		"role":       m.Role,
		"content":    m.Content,
		"created_at": m.CreatedAt,
	})
	return err
}

// DeleteSession deletes all message documents, then the session document.
func (f *Firestore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	msgs := f.sessionRef(userID, sessionID).Collection("messages").Documents(ctx)
	defer msgs.Stop()
	for {
		doc, err := msgs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("delete message %s: %w", doc.Ref.ID, err)
		}
	}
	if _, err := f.sessionRef(userID, sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// FetchSessions returns the user's session documents, most recent first.
func (f *Firestore) FetchSessions(ctx context.Context, userID string) ([]SessionDoc, error) {
	iter := f.client.Collection("users").Doc(userID).Collection("sessions").
		OrderBy("last_updated", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var sessions []SessionDoc
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var d struct {
			Title       string `firestore:"title"`
			OfflineOnly bool   `firestore:"offline_only"`
			LastUpdated int64  `firestore:"last_updated"`
		}
		if err := doc.DataTo(&d); err != nil {
			continue
		}
		sessions = append(sessions, SessionDoc{
			ID:          doc.Ref.ID,
			Title:       d.Title,
			OfflineOnly: d.OfflineOnly,
			LastUpdated: d.LastUpdated,
		})
	}
	return sessions, nil
}

// FetchMessages returns a session's message documents in turn order.
func (f *Firestore) FetchMessages(ctx context.Context, userID, sessionID string) ([]MessageDoc, error) {
	iter := f.sessionRef(userID, sessionID).Collection("messages").
		OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var msgs []MessageDoc
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var d struct {
			Role      string `firestore:"role"`
			Content   string `firestore:"content"`
			CreatedAt int64  `firestore:"created_at"`
		}
		if err := doc.DataTo(&d); err != nil {
			continue
		}
		msgs = append(msgs, MessageDoc{
			ID:        doc.Ref.ID,
			SessionID: sessionID,
			Role:      d.Role,
			Content:   d.Content,
			CreatedAt: d.CreatedAt,
		})
	}
	return msgs, nil
}
