package store

import "database/sql"

// CreateSession inserts a session record (idempotent on id). Replays carry
// the same ratchet rule as UpdateSession: a stored offline_only=true is
// never overwritten with false, so restoring a remote copy of a session
// that went offline-only locally cannot demote it.
func (db *DB) CreateSession(s *Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, user_id, title, offline_only, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			offline_only = MAX(offline_only, excluded.offline_only),
			last_updated = excluded.last_updated`,
		s.ID, s.UserID, s.Title, s.OfflineOnly, s.LastUpdated)
	return err
}

// GetSession returns a single session by id, or nil when missing.
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT id, user_id, title, offline_only, last_updated
		FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.Title, &s.OfflineOnly, &s.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns a user's sessions ordered by last_updated descending.
func (db *DB) ListSessions(userID string) ([]Session, error) {
	rows, err := db.Query(`
		SELECT id, user_id, title, offline_only, last_updated
		FROM sessions
		WHERE user_id = ?
		ORDER BY last_updated DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.OfflineOnly, &s.LastUpdated); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSession persists changed session metadata. The offline_only ratchet
// is enforced in SQL: a stored true is never overwritten with false.
func (db *DB) UpdateSession(s *Session) error {
	_, err := db.Exec(`
		UPDATE sessions
		SET title = ?, offline_only = MAX(offline_only, ?), last_updated = ?
		WHERE id = ?`,
		s.Title, s.OfflineOnly, s.LastUpdated, s.ID)
	return err
}

// DeleteSession removes a session; its messages cascade.
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteAllSessions removes every session (and, via cascade, every message)
// belonging to a user.
func (db *DB) DeleteAllSessions(userID string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}
