package models

// Role is the access role supplied by the auth provider
type Role string

// Role constants
const (
	RoleAdmin         Role = "admin"
	RoleDeliveryAgent Role = "delivery_agent"
	RoleDispatcher    Role = "dispatcher"
	RoleUser          Role = "user"
)

// Identity is the verified (subject, role) pair of whoever is acting.
// It is always passed explicitly into services.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
}

// IsStaff reports whether the role belongs to delivery operations
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleDeliveryAgent || r == RoleDispatcher
}
