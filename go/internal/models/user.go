package models

import "time"

// Role is the self-asserted role a user joins with.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// User represents a joined user. It is immutable after join.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// IsTeacher reports whether the user joined as a teacher.
func (u *User) IsTeacher() bool {
	return u != nil && u.Role == RoleTeacher
}

// Participant is a User plus its roster status. Rows are deactivated, never deleted.
type Participant struct {
	User
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}
