// Package postgres provides the PostgreSQL implementation of the incidents
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/incidents"
)

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `id, organization_id, title, description, status, severity,
	started_at, resolved_at, created_by, created_at, updated_at`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.OrganizationID,
		&incident.Title,
		&incident.Description,
		&incident.Status,
		&incident.Severity,
		&incident.StartedAt,
		&incident.ResolvedAt,
		&incident.CreatedBy,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// CreateIncident inserts the incident and its service associations in one
// transaction.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO incidents (organization_id, title, description, status, severity, started_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		incident.OrganizationID,
		incident.Title,
		incident.Description,
		incident.Status,
		incident.Severity,
		incident.StartedAt,
		incident.CreatedBy,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}

	if err := insertServiceLinks(ctx, tx, incident.ID, incident.ServiceIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetIncidentByID retrieves an incident with its affected service IDs.
func (r *Repository) GetIncidentByID(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident by id: %w", err)
	}

	serviceIDs, err := r.loadServiceIDs(ctx, []string{incident.ID})
	if err != nil {
		return nil, err
	}
	incident.ServiceIDs = serviceIDs[incident.ID]
	if incident.ServiceIDs == nil {
		incident.ServiceIDs = make([]string, 0)
	}

	return incident, nil
}

// ListIncidents retrieves an organization's incidents, newest first.
func (r *Repository) ListIncidents(ctx context.Context, organizationID string) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE organization_id = $1
		ORDER BY started_at DESC, id DESC
	`
	return r.listIncidents(ctx, query, organizationID)
}

// ListIncidentsSince retrieves incidents created at or after the given
// instant, newest first.
func (r *Repository) ListIncidentsSince(ctx context.Context, organizationID string, since time.Time) ([]domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE organization_id = $1 AND created_at >= $2
		ORDER BY started_at DESC, id DESC
	`
	return r.listIncidents(ctx, query, organizationID, since)
}

func (r *Repository) listIncidents(ctx context.Context, query string, args ...any) ([]domain.Incident, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Incident, 0)
	ids := make([]string, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		result = append(result, *incident)
		ids = append(ids, incident.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	serviceIDs, err := r.loadServiceIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].ServiceIDs = serviceIDs[result[i].ID]
		if result[i].ServiceIDs == nil {
			result[i].ServiceIDs = make([]string, 0)
		}
	}

	return result, nil
}

// UpdateIncident persists the incident's fields and replaces its service
// associations in one transaction.
func (r *Repository) UpdateIncident(ctx context.Context, incident *domain.Incident) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE incidents
		SET title = $2, description = $3, status = $4, severity = $5,
			started_at = $6, resolved_at = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err = tx.QueryRow(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.Status,
		incident.Severity,
		incident.StartedAt,
		incident.ResolvedAt,
	).Scan(&incident.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return incidents.ErrIncidentNotFound
		}
		return fmt.Errorf("update incident: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM incident_services WHERE incident_id = $1`, incident.ID); err != nil {
		return fmt.Errorf("clear incident services: %w", err)
	}
	if err := insertServiceLinks(ctx, tx, incident.ID, incident.ServiceIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteIncident removes an incident. Associations and updates cascade.
func (r *Repository) DeleteIncident(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// HasOtherActiveIncidents reports whether any active incident other than
// the excluded one affects the service.
func (r *Repository) HasOtherActiveIncidents(ctx context.Context, serviceID, excludeIncidentID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM incidents i
			JOIN incident_services s ON s.incident_id = i.id
			WHERE s.service_id = $1 AND i.id <> $2 AND i.status = 'active'
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, serviceID, excludeIncidentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active incidents: %w", err)
	}
	return exists, nil
}

// CreateIncidentUpdate inserts a progress note.
func (r *Repository) CreateIncidentUpdate(ctx context.Context, update *domain.IncidentUpdate) error {
	query := `
		INSERT INTO incident_updates (incident_id, message, status_label, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		update.IncidentID,
		update.Message,
		update.StatusLabel,
		update.CreatedBy,
	).Scan(&update.ID, &update.CreatedAt)
	if err != nil {
		return fmt.Errorf("create incident update: %w", err)
	}
	return nil
}

const updateColumns = `id, incident_id, message, status_label, created_by, created_at`

func scanIncidentUpdate(row pgx.Row) (*domain.IncidentUpdate, error) {
	var update domain.IncidentUpdate
	err := row.Scan(
		&update.ID,
		&update.IncidentID,
		&update.Message,
		&update.StatusLabel,
		&update.CreatedBy,
		&update.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &update, nil
}

// ListIncidentUpdates retrieves an incident's progress notes, newest first.
func (r *Repository) ListIncidentUpdates(ctx context.Context, incidentID string) ([]domain.IncidentUpdate, error) {
	query := `
		SELECT ` + updateColumns + `
		FROM incident_updates
		WHERE incident_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.listIncidentUpdates(ctx, query, incidentID)
}

// ListIncidentUpdatesSince retrieves progress notes across an organization
// created at or after the given instant, newest first.
func (r *Repository) ListIncidentUpdatesSince(ctx context.Context, organizationID string, since time.Time) ([]domain.IncidentUpdate, error) {
	query := `
		SELECT u.id, u.incident_id, u.message, u.status_label, u.created_by, u.created_at
		FROM incident_updates u
		JOIN incidents i ON i.id = u.incident_id
		WHERE i.organization_id = $1 AND u.created_at >= $2
		ORDER BY u.created_at DESC, u.id DESC
	`
	return r.listIncidentUpdates(ctx, query, organizationID, since)
}

func (r *Repository) listIncidentUpdates(ctx context.Context, query string, args ...any) ([]domain.IncidentUpdate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}
	defer rows.Close()

	updates := make([]domain.IncidentUpdate, 0)
	for rows.Next() {
		update, err := scanIncidentUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident update: %w", err)
		}
		updates = append(updates, *update)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident updates: %w", err)
	}
	return updates, nil
}

func (r *Repository) loadServiceIDs(ctx context.Context, incidentIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(incidentIDs))
	if len(incidentIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT incident_id, service_id
		FROM incident_services
		WHERE incident_id = ANY($1)
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, incidentIDs)
	if err != nil {
		return nil, fmt.Errorf("load incident services: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var incidentID, serviceID string
		if err := rows.Scan(&incidentID, &serviceID); err != nil {
			return nil, fmt.Errorf("scan incident service: %w", err)
		}
		result[incidentID] = append(result[incidentID], serviceID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident services: %w", err)
	}
	return result, nil
}

func insertServiceLinks(ctx context.Context, tx pgx.Tx, incidentID string, serviceIDs []string) error {
	for _, serviceID := range serviceIDs {
		_, err := tx.Exec(ctx,
			`INSERT INTO incident_services (incident_id, service_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			incidentID, serviceID,
		)
		if err != nil {
			return fmt.Errorf("link incident service: %w", err)
		}
	}
	return nil
}
