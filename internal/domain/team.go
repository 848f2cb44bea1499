package domain

import "time"

// TeamRole is the per-membership role label within a team.
type TeamRole string

// Team roles.
const (
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
)

// IsValid checks if the team role is valid.
func (r TeamRole) IsValid() bool {
	return r == TeamRoleAdmin || r == TeamRoleMember
}

// Team groups users within an organization.
type Team struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Members        []TeamMember `json:"members,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TeamMember is a user's membership in a team.
type TeamMember struct {
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	Role      TeamRole  `json:"role"`
	UserName  string    `json:"user_name,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
