package store

// Message roles. The store does not enforce turn alternation; backends that
// need it sanitize on export.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Session is one conversation thread owned by a user. OfflineOnly is a
// one-way ratchet: once true it never goes back to false, and none of the
// session's messages may ever be replicated remotely.
type Session struct {
	ID          string
	UserID      string
	Title       string
	OfflineOnly bool
	LastUpdated int64 // unix millis
}

// Message is one turn within a session. Messages ordered by CreatedAt form
// the canonical turn sequence.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt int64  // unix millis
	ImagePath string // local attachment path, empty when none
}
