package auth

import "time"

// Role identifiers, stored on the user record. The wire format uses the role
// name, never the id.
const (
	RoleAdmin    = 1
	RoleEmployee = 2
)

// RoleName maps a stored role id to its wire name. Unknown ids fall back to
// "employee", matching how legacy records without a role are treated.
func RoleName(roleID int) string {
	if roleID == RoleAdmin {
		return "admin"
	}
	return "employee"
}

// RoleID maps a wire role name to its stored id, reporting whether the name
// is known.
func RoleID(name string) (int, bool) {
	switch name {
	case "admin":
		return RoleAdmin, true
	case "employee":
		return RoleEmployee, true
	}
	return 0, false
}

// User is an account that can hold a session.
type User struct {
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Birthdate    *time.Time `json:"birthdate,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	RoleID       int        `json:"-"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Identity is the resolved session principal attached to request contexts.
type Identity struct {
	Email  string
	RoleID int
}

// IsAdmin reports whether the identity may perform admin-gated operations.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.RoleID == RoleAdmin
}

// AccessKind distinguishes the two read-token kinds. Delivery sees published
// content only; preview sees everything.
type AccessKind string

const (
	AccessDelivery AccessKind = "delivery"
	AccessPreview  AccessKind = "preview"
)

// SpaceKey is the resolved API key attached to request contexts on the token
// path. SpaceID is empty for keys valid in any space.
type SpaceKey struct {
	KeyID   int64
	SpaceID string
	Kind    AccessKind
}
