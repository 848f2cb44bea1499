// Package tenancy provides HTTP handlers and business logic for
// organizations, their staff accounts and teams.
package tenancy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

// Service implements tenancy business logic.
type Service struct {
	repo Repository
}

// NewService creates a new tenancy service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL safe slug from an organization name.
func Slugify(name string) string {
	slug := slugInvalidChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

// CreateOrganization creates a tenant. The slug is derived from the name
// when not given explicitly.
func (s *Service) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if org.Slug == "" {
		org.Slug = Slugify(org.Name)
	} else {
		org.Slug = Slugify(org.Slug)
	}
	if org.Slug == "" {
		return ErrInvalidSlug
	}

	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *Service) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	return s.repo.GetOrganizationByID(ctx, id)
}

// GetOrganizationBySlug retrieves an organization by its public slug.
func (s *Service) GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	return s.repo.GetOrganizationBySlug(ctx, slug)
}

// ListOrganizations retrieves all organizations with entity counts for the
// platform admin view.
func (s *Service) ListOrganizations(ctx context.Context) ([]domain.OrganizationWithCounts, error) {
	return s.repo.ListOrganizationsWithCounts(ctx)
}

// UpdateOrganization updates a tenant's name, slug and description.
func (s *Service) UpdateOrganization(ctx context.Context, org *domain.Organization) error {
	org.Slug = Slugify(org.Slug)
	if org.Slug == "" {
		return ErrInvalidSlug
	}

	if err := s.repo.UpdateOrganization(ctx, org); err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// DeleteOrganization removes a tenant and, through the database, all of its
// services, incidents, teams and users.
func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	return s.repo.DeleteOrganization(ctx, id)
}

// CreateUserInput carries the fields for provisioning a staff account.
type CreateUserInput struct {
	Email          string
	Name           string
	Password       string
	Role           domain.Role
	OrganizationID string
	IsOrgAdmin     bool
	Permissions    domain.Permissions
}

// CreateUser provisions a staff account within an organization. Super admin
// accounts cannot be created this way.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	if input.Role == "" {
		input.Role = domain.RoleUser
	}
	if input.Role == domain.RoleSuperAdmin {
		return nil, fmt.Errorf("%w: super admin accounts cannot be provisioned per organization", ErrForbidden)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:          strings.ToLower(input.Email),
		Name:           input.Name,
		Password:       string(hash),
		Role:           input.Role,
		OrganizationID: &input.OrganizationID,
		IsOrgAdmin:     input.IsOrgAdmin,
		Permissions:    input.Permissions,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers retrieves the staff accounts of an organization. Super admins
// are platform operators and never appear in tenant listings.
func (s *Service) ListUsers(ctx context.Context, organizationID string) ([]domain.User, error) {
	return s.repo.ListUsers(ctx, organizationID)
}

// UpdateUserInput carries the mutable fields of a staff account. Nil
// pointers leave the current value unchanged.
type UpdateUserInput struct {
	Name        *string
	Role        *domain.Role
	IsOrgAdmin  *bool
	Permissions *domain.Permissions
	Password    *string
}

// UpdateUser applies the given changes to a staff account.
func (s *Service) UpdateUser(ctx context.Context, id string, input UpdateUserInput) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Role != nil {
		if *input.Role == domain.RoleSuperAdmin {
			return nil, fmt.Errorf("%w: cannot promote to super admin", ErrForbidden)
		}
		user.Role = *input.Role
	}
	if input.Name != nil {
		user.Name = *input.Name
	}
	if input.IsOrgAdmin != nil {
		if user.IsOrgAdmin && !*input.IsOrgAdmin && user.OrganizationID != nil {
			if err := s.ensureNotLastOrgAdmin(ctx, *user.OrganizationID); err != nil {
				return nil, err
			}
		}
		user.IsOrgAdmin = *input.IsOrgAdmin
	}
	if input.Permissions != nil {
		user.Permissions = *input.Permissions
	}
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.Password = string(hash)
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a staff account. An organization must keep at least
// one admin.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	if user.IsOrgAdmin && user.OrganizationID != nil {
		if err := s.ensureNotLastOrgAdmin(ctx, *user.OrganizationID); err != nil {
			return err
		}
	}

	return s.repo.DeleteUser(ctx, id)
}

func (s *Service) ensureNotLastOrgAdmin(ctx context.Context, organizationID string) error {
	count, err := s.repo.CountOrgAdmins(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("count organization admins: %w", err)
	}
	if count <= 1 {
		return ErrLastOrgAdmin
	}
	return nil
}

// CreateTeam creates a team within an organization.
func (s *Service) CreateTeam(ctx context.Context, team *domain.Team) error {
	if err := s.repo.CreateTeam(ctx, team); err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	if team.Members == nil {
		team.Members = make([]domain.TeamMember, 0)
	}
	return nil
}

// GetTeam retrieves a team with its members.
func (s *Service) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	return s.repo.GetTeamByID(ctx, id)
}

// ListTeams retrieves all teams of an organization.
func (s *Service) ListTeams(ctx context.Context, organizationID string) ([]domain.Team, error) {
	return s.repo.ListTeams(ctx, organizationID)
}

// UpdateTeam updates a team's name and description.
func (s *Service) UpdateTeam(ctx context.Context, team *domain.Team) error {
	if err := s.repo.UpdateTeam(ctx, team); err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	return nil
}

// DeleteTeam removes a team and its memberships.
func (s *Service) DeleteTeam(ctx context.Context, id string) error {
	return s.repo.DeleteTeam(ctx, id)
}

// AddTeamMember adds a user to a team. The user must belong to the same
// organization as the team.
func (s *Service) AddTeamMember(ctx context.Context, teamID, userID string, role domain.TeamRole) (*domain.TeamMember, error) {
	team, err := s.repo.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.OrganizationID == nil || *user.OrganizationID != team.OrganizationID {
		return nil, fmt.Errorf("%w: user belongs to a different organization", ErrForbidden)
	}

	if role == "" {
		role = domain.TeamRoleMember
	}

	member := &domain.TeamMember{
		TeamID:    teamID,
		UserID:    userID,
		Role:      role,
		UserName:  user.Name,
		UserEmail: user.Email,
	}
	if err := s.repo.AddTeamMember(ctx, member); err != nil {
		return nil, fmt.Errorf("add team member: %w", err)
	}
	return member, nil
}

// RemoveTeamMember removes a user from a team.
func (s *Service) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	return s.repo.RemoveTeamMember(ctx, teamID, userID)
}
