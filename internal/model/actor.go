package model

// Role identifies which side of an inquiry a participant is on.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Actor is the identity on whose behalf an operation runs.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// IsAdmin reports whether the actor acts as an admin.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Owns reports whether the actor filed the inquiry.
func (a Actor) Owns(inq *Inquiry) bool {
	return inq != nil && a.UserID != "" && inq.UserID == a.UserID
}

// CanView reports whether the actor may read the inquiry and its thread.
func (a Actor) CanView(inq *Inquiry) bool {
	return a.IsAdmin() || a.Owns(inq)
}
