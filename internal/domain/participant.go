package domain

import "time"

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Participant binds a user identity to one signaling connection inside a
// room. A reconnect replaces the binding; the user never appears twice.
type Participant struct {
	UserID   string
	Name     string
	Role     Role
	ConnID   string
	JoinedAt time.Time
}
