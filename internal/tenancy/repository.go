package tenancy

import (
	"context"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

// Repository defines the interface for tenancy data operations.
type Repository interface {
	// Organizations.
	CreateOrganization(ctx context.Context, org *domain.Organization) error
	GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error)
	ListOrganizationsWithCounts(ctx context.Context) ([]domain.OrganizationWithCounts, error)
	UpdateOrganization(ctx context.Context, org *domain.Organization) error
	DeleteOrganization(ctx context.Context, id string) error

	// Users. Listing is organization scoped and never includes super admins.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context, organizationID string) ([]domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, id string) error
	CountOrgAdmins(ctx context.Context, organizationID string) (int, error)

	// Teams.
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, id string) (*domain.Team, error)
	ListTeams(ctx context.Context, organizationID string) ([]domain.Team, error)
	UpdateTeam(ctx context.Context, team *domain.Team) error
	DeleteTeam(ctx context.Context, id string) error
	AddTeamMember(ctx context.Context, member *domain.TeamMember) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error
}
