package incidents

import (
	"context"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

// Repository defines the interface for incident data operations.
type Repository interface {
	// CreateIncident persists the incident and its service associations.
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	GetIncidentByID(ctx context.Context, id string) (*domain.Incident, error)
	// ListIncidents returns an organization's incidents, newest first.
	ListIncidents(ctx context.Context, organizationID string) ([]domain.Incident, error)
	// ListIncidentsSince returns incidents created at or after the given
	// instant, newest first.
	ListIncidentsSince(ctx context.Context, organizationID string, since time.Time) ([]domain.Incident, error)
	// UpdateIncident persists the incident's fields and replaces its
	// service associations.
	UpdateIncident(ctx context.Context, incident *domain.Incident) error
	DeleteIncident(ctx context.Context, id string) error

	// HasOtherActiveIncidents reports whether any active incident other
	// than the excluded one affects the service.
	HasOtherActiveIncidents(ctx context.Context, serviceID, excludeIncidentID string) (bool, error)

	CreateIncidentUpdate(ctx context.Context, update *domain.IncidentUpdate) error
	// ListIncidentUpdates returns an incident's progress notes, newest
	// first.
	ListIncidentUpdates(ctx context.Context, incidentID string) ([]domain.IncidentUpdate, error)
	// ListIncidentUpdatesSince returns progress notes across an
	// organization created at or after the given instant, newest first.
	ListIncidentUpdatesSince(ctx context.Context, organizationID string, since time.Time) ([]domain.IncidentUpdate, error)
}
