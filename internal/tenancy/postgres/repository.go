// Package postgres provides the PostgreSQL implementation of the tenancy
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/tenancy"
)

// Repository implements tenancy.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const orgColumns = `id, name, slug, description, created_at, updated_at`

func scanOrganization(row pgx.Row) (*domain.Organization, error) {
	var org domain.Organization
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.Description,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// CreateOrganization inserts a new organization.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	query := `
		INSERT INTO organizations (name, slug, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, org.Name, org.Slug, org.Description).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenancy.ErrSlugTaken
		}
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganizationByID retrieves an organization by its ID.
func (r *Repository) GetOrganizationByID(ctx context.Context, id string) (*domain.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`

	org, err := scanOrganization(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenancy.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("get organization by id: %w", err)
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an organization by its public slug.
func (r *Repository) GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE slug = $1`

	org, err := scanOrganization(r.db.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenancy.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("get organization by slug: %w", err)
	}
	return org, nil
}

// ListOrganizationsWithCounts retrieves all organizations with user,
// service and incident counts for the platform admin view.
func (r *Repository) ListOrganizationsWithCounts(ctx context.Context) ([]domain.OrganizationWithCounts, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.description, o.created_at, o.updated_at,
			(SELECT count(*) FROM users u WHERE u.organization_id = o.id),
			(SELECT count(*) FROM services s WHERE s.organization_id = o.id),
			(SELECT count(*) FROM incidents i WHERE i.organization_id = o.id)
		FROM organizations o
		ORDER BY o.created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]domain.OrganizationWithCounts, 0)
	for rows.Next() {
		var org domain.OrganizationWithCounts
		err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.Slug,
			&org.Description,
			&org.CreatedAt,
			&org.UpdatedAt,
			&org.Counts.Users,
			&org.Counts.Services,
			&org.Counts.Incidents,
		)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}

// UpdateOrganization updates an organization's mutable fields.
func (r *Repository) UpdateOrganization(ctx context.Context, org *domain.Organization) error {
	query := `
		UPDATE organizations
		SET name = $2, slug = $3, description = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query, org.ID, org.Name, org.Slug, org.Description).
		Scan(&org.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenancy.ErrOrganizationNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenancy.ErrSlugTaken
		}
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// DeleteOrganization removes an organization. All tenant data cascades.
func (r *Repository) DeleteOrganization(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenancy.ErrOrganizationNotFound
	}
	return nil
}

const userColumns = `id, email, name, password_hash, role, organization_id, is_org_admin,
	can_manage_services, can_manage_incidents, can_manage_users, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Password,
		&user.Role,
		&user.OrganizationID,
		&user.IsOrgAdmin,
		&user.Permissions.ManageServices,
		&user.Permissions.ManageIncidents,
		&user.Permissions.ManageUsers,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new staff account.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (email, name, password_hash, role, organization_id, is_org_admin,
			can_manage_services, can_manage_incidents, can_manage_users)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.Email,
		user.Name,
		user.Password,
		user.Role,
		user.OrganizationID,
		user.IsOrgAdmin,
		user.Permissions.ManageServices,
		user.Permissions.ManageIncidents,
		user.Permissions.ManageUsers,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenancy.ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenancy.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// ListUsers retrieves the staff accounts of an organization. Super admins
// are excluded; they are platform operators, not tenant staff.
func (r *Repository) ListUsers(ctx context.Context, organizationID string) ([]domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE organization_id = $1 AND role <> 'super_admin'
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// UpdateUser updates a staff account's mutable fields.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET name = $2, password_hash = $3, role = $4, is_org_admin = $5,
			can_manage_services = $6, can_manage_incidents = $7, can_manage_users = $8,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.Password,
		user.Role,
		user.IsOrgAdmin,
		user.Permissions.ManageServices,
		user.Permissions.ManageIncidents,
		user.Permissions.ManageUsers,
	).Scan(&user.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenancy.ErrUserNotFound
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// DeleteUser removes a staff account.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenancy.ErrUserNotFound
	}
	return nil
}

// CountOrgAdmins counts the organization admins of a tenant.
func (r *Repository) CountOrgAdmins(ctx context.Context, organizationID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE organization_id = $1 AND is_org_admin = true`,
		organizationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count organization admins: %w", err)
	}
	return count, nil
}

// CreateTeam inserts a new team.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	query := `
		INSERT INTO teams (organization_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, team.OrganizationID, team.Name, team.Description).
		Scan(&team.ID, &team.CreatedAt, &team.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenancy.ErrTeamNameTaken
		}
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// GetTeamByID retrieves a team with its members.
func (r *Repository) GetTeamByID(ctx context.Context, id string) (*domain.Team, error) {
	query := `
		SELECT id, organization_id, name, description, created_at, updated_at
		FROM teams
		WHERE id = $1
	`
	var team domain.Team
	err := r.db.QueryRow(ctx, query, id).Scan(
		&team.ID,
		&team.OrganizationID,
		&team.Name,
		&team.Description,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenancy.ErrTeamNotFound
		}
		return nil, fmt.Errorf("get team by id: %w", err)
	}

	members, err := r.listTeamMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	team.Members = members

	return &team, nil
}

// ListTeams retrieves all teams of an organization with their members.
func (r *Repository) ListTeams(ctx context.Context, organizationID string) ([]domain.Team, error) {
	query := `
		SELECT id, organization_id, name, description, created_at, updated_at
		FROM teams
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]domain.Team, 0)
	for rows.Next() {
		var team domain.Team
		err := rows.Scan(
			&team.ID,
			&team.OrganizationID,
			&team.Name,
			&team.Description,
			&team.CreatedAt,
			&team.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}

	for i := range teams {
		members, err := r.listTeamMembers(ctx, teams[i].ID)
		if err != nil {
			return nil, err
		}
		teams[i].Members = members
	}

	return teams, nil
}

// UpdateTeam updates a team's mutable fields.
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	query := `
		UPDATE teams
		SET name = $2, description = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query, team.ID, team.Name, team.Description).
		Scan(&team.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenancy.ErrTeamNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenancy.ErrTeamNameTaken
		}
		return fmt.Errorf("update team: %w", err)
	}
	return nil
}

// DeleteTeam removes a team. Memberships cascade.
func (r *Repository) DeleteTeam(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenancy.ErrTeamNotFound
	}
	return nil
}

// AddTeamMember inserts a team membership.
func (r *Repository) AddTeamMember(ctx context.Context, member *domain.TeamMember) error {
	query := `
		INSERT INTO team_members (team_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, member.TeamID, member.UserID, member.Role).
		Scan(&member.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenancy.ErrAlreadyMember
		}
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

// RemoveTeamMember deletes a team membership.
func (r *Repository) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenancy.ErrMemberNotFound
	}
	return nil
}

func (r *Repository) listTeamMembers(ctx context.Context, teamID string) ([]domain.TeamMember, error) {
	query := `
		SELECT tm.team_id, tm.user_id, tm.role, u.name, u.email, tm.created_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.created_at ASC
	`
	rows, err := r.db.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	members := make([]domain.TeamMember, 0)
	for rows.Next() {
		var member domain.TeamMember
		err := rows.Scan(
			&member.TeamID,
			&member.UserID,
			&member.Role,
			&member.UserName,
			&member.UserEmail,
			&member.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return members, nil
}
