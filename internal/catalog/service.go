// Package catalog provides HTTP handlers and business logic for managing
// the services shown on an organization's status page.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/realtime"
	"github.com/pulsewatch/pulsewatch/internal/tenancy"
)

// OrganizationResolver resolves organizations by their public slug.
type OrganizationResolver interface {
	GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error)
}

// Broadcaster pushes entity change events to connected viewers.
type Broadcaster interface {
	Broadcast(event realtime.Event)
}

// Service implements catalog business logic.
type Service struct {
	repo Repository
	orgs OrganizationResolver
	hub  Broadcaster
}

// NewService creates a new catalog service.
func NewService(repo Repository, orgs OrganizationResolver, hub Broadcaster) *Service {
	return &Service{repo: repo, orgs: orgs, hub: hub}
}

// CreateService creates a service. New services start operational unless a
// status is given explicitly.
func (s *Service) CreateService(ctx context.Context, service *domain.Service) error {
	if service.OrganizationID == "" {
		return ErrOrganizationRequired
	}
	if service.Status == "" {
		service.Status = domain.ServiceStatusOperational
	}

	if err := s.repo.CreateService(ctx, service); err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	s.hub.Broadcast(realtime.ServiceCreated{Service: service})
	return nil
}

// GetService retrieves a service by ID.
func (s *Service) GetService(ctx context.Context, id string) (*domain.Service, error) {
	return s.repo.GetServiceByID(ctx, id)
}

// ListServices retrieves all services of an organization, oldest first.
func (s *Service) ListServices(ctx context.Context, organizationID string) ([]domain.Service, error) {
	return s.repo.ListServices(ctx, organizationID)
}

// PublicService is a service as rendered on the public status page: the raw
// status plus its human readable label.
type PublicService struct {
	domain.Service
	StatusDisplay string `json:"status_display"`
}

// ListPublicServices retrieves the services for an organization's public
// status page, addressed by slug. An unknown slug yields an empty list
// rather than an error so the page renders without tenant enumeration.
func (s *Service) ListPublicServices(ctx context.Context, orgSlug string) ([]PublicService, error) {
	org, err := s.orgs.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		if errors.Is(err, tenancy.ErrOrganizationNotFound) {
			return []PublicService{}, nil
		}
		return nil, fmt.Errorf("resolve organization: %w", err)
	}

	services, err := s.repo.ListServices(ctx, org.ID)
	if err != nil {
		return nil, err
	}

	result := make([]PublicService, 0, len(services))
	for _, service := range services {
		result = append(result, PublicService{
			Service:       service,
			StatusDisplay: service.Status.DisplayName(),
		})
	}
	return result, nil
}

// UpdateService updates a service's name, description and status.
func (s *Service) UpdateService(ctx context.Context, service *domain.Service) error {
	if err := s.repo.UpdateService(ctx, service); err != nil {
		return fmt.Errorf("update service: %w", err)
	}

	s.hub.Broadcast(realtime.ServiceUpdated{Service: service})
	return nil
}

// DeleteService removes a service. Incident associations are detached by
// the database; affected incidents keep their remaining services.
func (s *Service) DeleteService(ctx context.Context, id string) error {
	service, err := s.repo.GetServiceByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteService(ctx, id); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}

	s.hub.Broadcast(realtime.ServiceDeleted{
		ServiceID:      service.ID,
		OrganizationID: service.OrganizationID,
	})
	return nil
}
