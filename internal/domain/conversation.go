package domain

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// DefaultSessionTitle is assigned to lazily created sessions.
const DefaultSessionTitle = "Untitled"

// Message is one entry of a session's append-only log.
type Message struct {
	ID         string    `json:"message_id" bson:"message_id"`
	Role       Role      `json:"role" bson:"role"`
	Content    string    `json:"content" bson:"content"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	TokenCount *int      `json:"token_count,omitempty" bson:"token_count,omitempty"`
	Documents  []string  `json:"documents,omitempty" bson:"documents,omitempty"`
	Rating     *int      `json:"rating,omitempty" bson:"rating,omitempty"`
}

// Session is a persisted conversation between one user and the assistant.
type Session struct {
	ID           string     `json:"session_id" bson:"session_id"`
	UserID       string     `json:"user_id" bson:"user_id"`
	Title        string     `json:"title" bson:"title"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	LastModified time.Time  `json:"last_modified" bson:"last_modified"`
	Rating       *int       `json:"rating,omitempty" bson:"rating,omitempty"`
	RatedAt      *time.Time `json:"rated_at,omitempty" bson:"rated_at,omitempty"`
	Messages     []Message  `json:"messages" bson:"messages"`
}

// Summary is the condensed text of messages evicted from a session's context window.
type Summary struct {
	SessionID string    `json:"session_id" bson:"session_id"`
	Text      string    `json:"summary" bson:"summary"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// SavedPrompt is a named prompt a user keeps for reuse.
type SavedPrompt struct {
	Title     string    `json:"title" bson:"title"`
	Text      string    `json:"text" bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
