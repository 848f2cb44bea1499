package domain

import "time"

// Role represents a platform-level role.
type Role string

// Roles, ordered from least to most privileged.
const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// HasPermission reports whether the role meets the minimum required role.
func (r Role) HasPermission(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Permissions are independent capability flags granted per user,
// orthogonal to the platform role.
type Permissions struct {
	ManageServices  bool `json:"can_manage_services"`
	ManageIncidents bool `json:"can_manage_incidents"`
	ManageUsers     bool `json:"can_manage_users"`
}

// User represents a staff account. OrganizationID is nil only for
// super admins, which operate across tenants.
type User struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	Name           string      `json:"name"`
	Password       string      `json:"-"`
	Role           Role        `json:"role"`
	OrganizationID *string     `json:"organization_id"`
	IsOrgAdmin     bool        `json:"is_org_admin"`
	Permissions    Permissions `json:"permissions"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Identity is the resolved caller attached to request context after
// authentication. Authorization decisions read from it without further
// lookups.
type Identity struct {
	UserID         string
	Role           Role
	OrganizationID *string
	IsOrgAdmin     bool
	Permissions    Permissions
}

// InOrganization reports whether the identity is scoped to the given
// organization. Super admins pass for any organization.
func (id Identity) InOrganization(orgID string) bool {
	if id.Role == RoleSuperAdmin {
		return true
	}
	return id.OrganizationID != nil && *id.OrganizationID == orgID
}
