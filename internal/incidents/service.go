// Package incidents provides HTTP handlers and business logic for
// incidents, their progress notes and the service status reconciliation
// that follows from them.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/catalog"
	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/pkg/ctxlog"
	"github.com/pulsewatch/pulsewatch/internal/realtime"
	"github.com/pulsewatch/pulsewatch/internal/tenancy"
)

// ServiceCatalog is the slice of the catalog the reconciler needs.
type ServiceCatalog interface {
	GetServiceByID(ctx context.Context, id string) (*domain.Service, error)
	UpdateServiceStatus(ctx context.Context, id string, status domain.ServiceStatus) error
}

// OrganizationResolver resolves organizations by their public slug.
type OrganizationResolver interface {
	GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error)
}

// Broadcaster pushes entity change events to connected viewers.
type Broadcaster interface {
	Broadcast(event realtime.Event)
}

// Service implements incident business logic.
type Service struct {
	repo     Repository
	services ServiceCatalog
	orgs     OrganizationResolver
	hub      Broadcaster

	now func() time.Time
}

// NewService creates a new incidents service.
func NewService(repo Repository, services ServiceCatalog, orgs OrganizationResolver, hub Broadcaster) *Service {
	return &Service{
		repo:     repo,
		services: services,
		orgs:     orgs,
		hub:      hub,
		now:      time.Now,
	}
}

// CreateIncident opens an incident and pushes the severity-derived status
// onto every affected service. The affected set may be empty; an incident
// can track an outage that maps to no catalogued service.
func (s *Service) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	if incident.OrganizationID == "" {
		return ErrOrganizationRequired
	}
	if incident.Status == "" {
		incident.Status = domain.IncidentStatusActive
	}
	if incident.Severity == "" {
		incident.Severity = domain.SeverityMedium
	}
	if incident.StartedAt.IsZero() {
		incident.StartedAt = s.now()
	}

	// Affected services must exist and belong to the incident's tenant.
	for _, serviceID := range incident.ServiceIDs {
		service, err := s.services.GetServiceByID(ctx, serviceID)
		if err != nil {
			if errors.Is(err, catalog.ErrServiceNotFound) {
				return fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
			}
			return fmt.Errorf("verify service %s: %w", serviceID, err)
		}
		if service.OrganizationID != incident.OrganizationID {
			return fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
		}
	}

	if err := s.repo.CreateIncident(ctx, incident); err != nil {
		return fmt.Errorf("create incident: %w", err)
	}

	s.hub.Broadcast(realtime.IncidentCreated{Incident: incident})

	if incident.IsActive() {
		s.applyIncidentEffect(ctx, incident)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncidentByID(ctx, id)
}

// ListIncidents retrieves an organization's incidents, newest first.
func (s *Service) ListIncidents(ctx context.Context, organizationID string) ([]domain.Incident, error) {
	return s.repo.ListIncidents(ctx, organizationID)
}

// PublicIncident is an incident with its progress notes attached, as shown
// on the public status page.
type PublicIncident struct {
	domain.Incident
	Updates []domain.IncidentUpdate `json:"updates"`
}

// ListPublicIncidents retrieves the publicly visible incidents for an
// organization addressed by slug. Resolved incidents that ran only briefly
// are filtered out; an unknown slug yields an empty list.
func (s *Service) ListPublicIncidents(ctx context.Context, orgSlug string) ([]PublicIncident, error) {
	org, err := s.orgs.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		if errors.Is(err, tenancy.ErrOrganizationNotFound) {
			return []PublicIncident{}, nil
		}
		return nil, fmt.Errorf("resolve organization: %w", err)
	}

	incidents, err := s.repo.ListIncidents(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	visible := FilterVisible(incidents, s.now())
	result := make([]PublicIncident, 0, len(visible))
	for i := range visible {
		updates, err := s.repo.ListIncidentUpdates(ctx, visible[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list incident updates: %w", err)
		}
		result = append(result, PublicIncident{Incident: visible[i], Updates: updates})
	}
	return result, nil
}

// UpdateIncidentInput carries the mutable fields of an incident. Nil
// pointers leave the current value unchanged.
type UpdateIncidentInput struct {
	Title       *string
	Description *string
	Severity    *domain.Severity
	Status      *domain.IncidentStatus
	ServiceIDs  *[]string
}

// UpdateIncident applies the given changes and reconciles affected service
// statuses. Resolution stamps the resolve time exactly once; reopening
// clears it.
func (s *Service) UpdateIncident(ctx context.Context, id string, input UpdateIncidentInput) (*domain.Incident, error) {
	incident, err := s.repo.GetIncidentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	wasActive := incident.IsActive()
	previousServiceIDs := incident.ServiceIDs

	if input.Title != nil {
		incident.Title = *input.Title
	}
	if input.Description != nil {
		incident.Description = *input.Description
	}
	if input.Severity != nil {
		incident.Severity = *input.Severity
	}
	if input.ServiceIDs != nil {
		for _, serviceID := range *input.ServiceIDs {
			service, err := s.services.GetServiceByID(ctx, serviceID)
			if err != nil {
				if errors.Is(err, catalog.ErrServiceNotFound) {
					return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
				}
				return nil, fmt.Errorf("verify service %s: %w", serviceID, err)
			}
			if service.OrganizationID != incident.OrganizationID {
				return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
			}
		}
		incident.ServiceIDs = *input.ServiceIDs
	}
	if input.Status != nil {
		incident.Status = *input.Status
		switch {
		case wasActive && incident.Status == domain.IncidentStatusResolved:
			if incident.ResolvedAt == nil {
				resolvedAt := s.now()
				incident.ResolvedAt = &resolvedAt
			}
		case !wasActive && incident.Status == domain.IncidentStatusActive:
			incident.ResolvedAt = nil
		}
	}

	if err := s.repo.UpdateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	s.hub.Broadcast(realtime.IncidentUpdated{Incident: incident})

	// Services no longer affected are released first, then the current
	// effect is reapplied or released depending on the incident state.
	removed := subtract(previousServiceIDs, incident.ServiceIDs)
	s.releaseServices(ctx, removed, incident.ID)

	if incident.IsActive() {
		s.applyIncidentEffect(ctx, incident)
	} else if wasActive {
		s.releaseServices(ctx, incident.ServiceIDs, incident.ID)
	}

	return incident, nil
}

// DeleteIncident removes an incident. An active incident releases its
// effect on service statuses first.
func (s *Service) DeleteIncident(ctx context.Context, id string) error {
	incident, err := s.repo.GetIncidentByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteIncident(ctx, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}

	s.hub.Broadcast(realtime.IncidentDeleted{
		IncidentID:     incident.ID,
		OrganizationID: incident.OrganizationID,
	})

	if incident.IsActive() {
		s.releaseServices(ctx, incident.ServiceIDs, incident.ID)
	}
	return nil
}

// CreateIncidentUpdate appends a progress note to an incident.
func (s *Service) CreateIncidentUpdate(ctx context.Context, update *domain.IncidentUpdate) (*domain.Incident, error) {
	incident, err := s.repo.GetIncidentByID(ctx, update.IncidentID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateIncidentUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("create incident update: %w", err)
	}

	s.hub.Broadcast(realtime.IncidentUpdateCreated{Update: update, Incident: incident})
	return incident, nil
}

// ListIncidentUpdates retrieves an incident's progress notes, newest first.
func (s *Service) ListIncidentUpdates(ctx context.Context, incidentID string) ([]domain.IncidentUpdate, error) {
	if _, err := s.repo.GetIncidentByID(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListIncidentUpdates(ctx, incidentID)
}

// applyIncidentEffect pushes the incident's severity-derived status onto
// every affected service. The write is unconditional: when several active
// incidents touch the same service, the last write wins regardless of
// relative severity. Services that cannot be loaded are skipped and logged;
// one failed lookup never blocks the rest.
func (s *Service) applyIncidentEffect(ctx context.Context, incident *domain.Incident) {
	target := incident.Severity.ServiceStatus()
	logger := ctxlog.FromContext(ctx)

	for _, serviceID := range incident.ServiceIDs {
		service, err := s.services.GetServiceByID(ctx, serviceID)
		if err != nil {
			logger.Warn("skipping status update for unavailable service",
				"service_id", serviceID, "incident_id", incident.ID, "error", err)
			continue
		}
		if service.Status == target {
			continue
		}

		if err := s.services.UpdateServiceStatus(ctx, serviceID, target); err != nil {
			logger.Warn("failed to update service status",
				"service_id", serviceID, "incident_id", incident.ID, "error", err)
			continue
		}

		service.Status = target
		s.hub.Broadcast(realtime.ServiceUpdated{Service: service})
	}
}

// releaseServices returns services to operational where no other active
// incident still claims them. A service held by another active incident
// keeps whatever status was written last.
func (s *Service) releaseServices(ctx context.Context, serviceIDs []string, excludeIncidentID string) {
	logger := ctxlog.FromContext(ctx)

	for _, serviceID := range serviceIDs {
		held, err := s.repo.HasOtherActiveIncidents(ctx, serviceID, excludeIncidentID)
		if err != nil {
			logger.Warn("failed to check active incidents for service",
				"service_id", serviceID, "error", err)
			continue
		}
		if held {
			continue
		}

		service, err := s.services.GetServiceByID(ctx, serviceID)
		if err != nil {
			logger.Warn("skipping status release for unavailable service",
				"service_id", serviceID, "error", err)
			continue
		}
		if service.Status == domain.ServiceStatusOperational {
			continue
		}

		if err := s.services.UpdateServiceStatus(ctx, serviceID, domain.ServiceStatusOperational); err != nil {
			logger.Warn("failed to release service status",
				"service_id", serviceID, "error", err)
			continue
		}

		service.Status = domain.ServiceStatusOperational
		s.hub.Broadcast(realtime.ServiceUpdated{Service: service})
	}
}

// subtract returns the elements of a that are not in b.
func subtract(a, b []string) []string {
	keep := make(map[string]struct{}, len(b))
	for _, id := range b {
		keep[id] = struct{}{}
	}

	result := make([]string, 0)
	for _, id := range a {
		if _, ok := keep[id]; !ok {
			result = append(result, id)
		}
	}
	return result
}
