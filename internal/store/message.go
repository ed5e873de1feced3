package store

import "database/sql"

// InsertMessage appends a message (idempotent on id). A failed insert leaves
// no partial row; the caller retries.
func (db *DB) InsertMessage(m *Message) error {
	var imagePath any
	if m.ImagePath != "" {
		imagePath = m.ImagePath
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, session_id, role, content, created_at, image_path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			image_path = excluded.image_path`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt, imagePath)
	return err
}

// ListMessages returns a session's messages in canonical turn order.
// rowid breaks ties when two messages share a created_at millisecond.
func (db *DB) ListMessages(sessionID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, session_id, role, content, created_at, image_path
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var imagePath sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt, &imagePath); err != nil {
			return nil, err
		}
		m.ImagePath = imagePath.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// PruneOfflineMessages deletes messages older than threshold that belong to
// offline-only sessions. Returns the number of rows removed.
func (db *DB) PruneOfflineMessages(threshold int64) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM messages
		WHERE session_id IN (SELECT id FROM sessions WHERE offline_only = 1)
		  AND created_at < ?`, threshold)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
